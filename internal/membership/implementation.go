package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"campuslib/internal/apperr"
	"campuslib/internal/eventstore"
	"campuslib/internal/store"
)

// service implements the Service interface.
type service struct {
	db          *store.DB
	eventStore  *eventstore.EventStore
	users       *Repository
	tokens      *TokenIssuer
	policies    Policies
	rateLimiter *rate.Limiter
	released    []func(ctx context.Context, userID uuid.UUID) error
	logger      *zap.Logger
	now         func() time.Time
}

type Option func(*service)

// WithRateLimiter replaces the limiter guarding registration and login.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *service) { s.rateLimiter = l }
}

func WithPolicies(p Policies) Option {
	return func(s *service) { s.policies = p }
}

// OnDeactivate registers fn to run after a user is deactivated, to release
// what the user holds elsewhere. It also runs when the user was already
// inactive so a failed release can be retried.
func OnDeactivate(fn func(ctx context.Context, userID uuid.UUID) error) Option {
	return func(s *service) { s.released = append(s.released, fn) }
}

// NewService creates a new membership service instance.
func NewService(db *store.DB, es *eventstore.EventStore, users *Repository, tokens *TokenIssuer, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		db:          db,
		eventStore:  es,
		users:       users,
		tokens:      tokens,
		policies:    DefaultPolicies(),
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/30), 10),
		logger:      logger.Named("membership"),
		now:         store.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user account.
func (s *service) Register(ctx context.Context, reg Registration) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperr.ErrRateLimited
	}
	if len(reg.Password) < minPasswordLen {
		return nil, ErrInvalidUser.WithDetail("password must have at least %d characters", minPasswordLen)
	}

	now := s.now()
	user := &User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(reg.Name),
		Email:        strings.ToLower(strings.TrimSpace(reg.Email)),
		Role:         reg.Role,
		EnrollmentID: strings.TrimSpace(reg.EnrollmentID),
		Course:       strings.TrimSpace(reg.Course),
		Department:   strings.TrimSpace(reg.Department),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	cred, err := hashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user.Credential = cred

	event, err := eventstore.NewEvent("UserRegistered", UserRegisteredEvent{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	})
	if err != nil {
		return nil, err
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.Insert(ctx, tx, user); err != nil {
			return err
		}
		return s.eventStore.Append(ctx, tx, user.ID, eventstore.AggregateUser, event)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Stringer("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperr.ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, s.db, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, user.Credential)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// GetUser retrieves a user by ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.Get(ctx, s.db, id)
}

func (s *service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	if len(next) < minPasswordLen {
		return ErrInvalidUser.WithDetail("password must have at least %d characters", minPasswordLen)
	}
	cred, err := hashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.Lock(ctx, tx, id); err != nil {
			return err
		}
		user, err := s.users.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := verifyPassword(current, user.Credential)
		if err != nil {
			return fmt.Errorf("password check failed: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
		staged := *user
		staged.Credential = cred
		staged.UpdatedAt = s.now()
		if err := s.users.SetCredential(ctx, tx, &staged); err != nil {
			return err
		}
		event, err := eventstore.NewEvent("UserPasswordChanged", UserPasswordChangedEvent{ID: id})
		if err != nil {
			return err
		}
		return s.eventStore.Append(ctx, tx, id, eventstore.AggregateUser, event)
	})
	if err != nil {
		return err
	}
	s.logger.Info("password changed", zap.Stringer("user_id", id))
	return nil
}

func (s *service) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, ErrInvalidUser.WithDetail("unknown role %q", filter.Role)
	}
	return s.users.List(ctx, filter)
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.setActive(ctx, id, false)
}

func (s *service) Reactivate(ctx context.Context, id uuid.UUID) error {
	return s.setActive(ctx, id, true)
}

func (s *service) setActive(ctx context.Context, id uuid.UUID, active bool) error {
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.Lock(ctx, tx, id); err != nil {
			return err
		}
		user, err := s.users.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if user.Active == active {
			return nil
		}
		staged := *user
		staged.Active = active
		staged.UpdatedAt = s.now()
		if err := s.users.SetActive(ctx, tx, &staged); err != nil {
			return err
		}
		event, err := eventstore.NewEvent("UserStatusChanged", UserStatusChangedEvent{ID: id, Active: active})
		if err != nil {
			return err
		}
		return s.eventStore.Append(ctx, tx, id, eventstore.AggregateUser, event)
	})
	if err != nil {
		return err
	}
	s.logger.Info("user status changed", zap.Stringer("user_id", id), zap.Bool("active", active))
	if active {
		return nil
	}
	for _, release := range s.released {
		if err := release(ctx, id); err != nil {
			s.logger.Error("releasing deactivated user failed", zap.Stringer("user_id", id), zap.Error(err))
			return fmt.Errorf("user deactivated but not released: %w", err)
		}
	}
	return nil
}

func (s *service) EnsureLibrarian(ctx context.Context, email, password string) (*User, error) {
	existing, err := s.users.GetByEmail(ctx, s.db, strings.ToLower(strings.TrimSpace(email)))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return s.Register(ctx, Registration{
		Name:     "Librarian",
		Email:    email,
		Password: password,
		Role:     RoleLibrarian,
	})
}

func (s *service) PolicyFor(role Role) Policy {
	return s.policies.For(role)
}
