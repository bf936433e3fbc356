package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"campuslib/internal/apperr"
	"campuslib/internal/catalog"
	"campuslib/internal/eventstore"
	"campuslib/internal/membership"
	"campuslib/internal/notification"
	"campuslib/internal/store"
	"campuslib/internal/telemetry"
)

// Deps are the collaborators of the reservation service.
type Deps struct {
	DB        *store.DB
	Lifecycle *Lifecycle
	Users     *membership.Repository
	Items     *catalog.Repository
	Events    *eventstore.EventStore
	Policies  membership.Policies
	Cache     Cache
	Notifier  *notification.Notifier
	Logger    *zap.Logger
	// HoldWindow is how long a notified holder has to borrow. Zero never expires.
	HoldWindow time.Duration
}

type service struct {
	db         *store.DB
	lifecycle  *Lifecycle
	repo       *Repository
	users      *membership.Repository
	items      *catalog.Repository
	events     *eventstore.EventStore
	policies   membership.Policies
	cache      *GuardedCache
	notifier   *notification.Notifier
	logger     *zap.Logger
	holdWindow time.Duration
	now        func() time.Time
}

func NewService(d Deps) Service {
	cache := d.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	policies := d.Policies
	if policies == nil {
		policies = membership.DefaultPolicies()
	}
	return &service{
		db:         d.DB,
		lifecycle:  d.Lifecycle,
		repo:       d.Lifecycle.Repository(),
		users:      d.Users,
		items:      d.Items,
		events:     d.Events,
		policies:   policies,
		cache:      NewGuardedCache(cache),
		notifier:   d.Notifier,
		logger:     d.Logger.Named("reservation"),
		holdWindow: d.HoldWindow,
		now:        store.Now,
	}
}

func (s *service) Reserve(ctx context.Context, userID, itemID uuid.UUID) (res *Reservation, err error) {
	defer func() { s.observe("reserve", err) }()

	user, err := s.users.Get(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	var (
		title  string
		notice *notification.Notification
	)
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.items.GetForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if !item.Active {
			return ErrItemInactive
		}
		title = item.Title

		existing, err := s.repo.FindActive(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateReservation
		}

		res = &Reservation{
			ID:         uuid.New(),
			UserID:     userID,
			ItemID:     itemID,
			Priority:   s.policies.For(user.Role).Priority,
			ReservedAt: s.now(),
			Status:     StatusActive,
			Version:    1,
		}
		if err := s.repo.Insert(ctx, tx, res); err != nil {
			return err
		}
		event, err := eventstore.NewEvent("ReservationPlaced", ReservationPlacedEvent{
			ID:       res.ID,
			UserID:   userID,
			ItemID:   itemID,
			Seq:      res.Seq,
			Priority: res.Priority,
		})
		if err != nil {
			return err
		}
		if err := s.events.Append(ctx, tx, res.ID, eventstore.AggregateReservation, event); err != nil {
			return err
		}

		// A new head on an item with a free copy starts its hold window now;
		// no return is coming to do it.
		queue, err := s.repo.ActiveQueue(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if head := queue.Head(); head == nil || head.ID != res.ID {
			return nil
		}
		notice, err = s.lifecycle.Advance(ctx, tx, itemID, res.ReservedAt)
		if err != nil {
			return err
		}
		if notice != nil {
			res.NotifiedAt = &res.ReservedAt
			res.Version++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, itemID)

	s.notifier.Send(ctx, notification.New(userID, notification.TypeReservation,
		"Reservation confirmed",
		fmt.Sprintf("You joined the waiting list for %q.", title),
		itemID))
	if notice != nil {
		s.notifier.Send(ctx, *notice)
	}
	s.logger.Info("reservation placed",
		zap.Stringer("reservation_id", res.ID),
		zap.Stringer("user_id", userID),
		zap.Stringer("item_id", itemID),
		zap.Int64("seq", res.Seq),
	)
	return res, nil
}

// Cancel withdraws an active reservation. When the head leaves, the next
// holder is told if a copy is free.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { s.observe("cancel", err) }()

	current, err := s.repo.Get(ctx, s.db, id)
	if err != nil {
		return err
	}
	itemID := current.ItemID

	var notice *notification.Notification
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.items.Lock(ctx, tx, itemID); err != nil {
			return err
		}
		res, err := s.repo.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if !res.IsActive() {
			return ErrNotActive
		}
		queue, err := s.repo.ActiveQueue(ctx, tx, itemID)
		if err != nil {
			return err
		}
		wasHead := queue.Head() != nil && queue.Head().ID == id

		if err := s.lifecycle.Close(ctx, tx, res, StatusCancelled, s.now()); err != nil {
			return err
		}
		if wasHead {
			notice, err = s.lifecycle.Advance(ctx, tx, itemID, s.now())
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, itemID)
	if notice != nil {
		s.notifier.Send(ctx, *notice)
	}
	s.logger.Info("reservation cancelled", zap.Stringer("reservation_id", id))
	return nil
}

// CancelForUser cancels every active reservation of the user, advancing the
// queues they headed.
func (s *service) CancelForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	active, err := s.repo.ListForUser(ctx, userID, true)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, res := range active {
		err := s.Cancel(ctx, res.ID)
		if errors.Is(err, ErrNotActive) {
			continue
		}
		if err != nil {
			return cancelled, fmt.Errorf("cancel reservation %s: %w", res.ID, err)
		}
		cancelled++
	}
	if cancelled > 0 {
		s.logger.Info("user reservations released", zap.Stringer("user_id", userID), zap.Int("count", cancelled))
	}
	return cancelled, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.repo.Get(ctx, s.db, id)
}

func (s *service) NextForItem(ctx context.Context, itemID uuid.UUID) (*Reservation, error) {
	q, err := s.Queue(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return q.Head(), nil
}

// Queue reads through the cache. Cache failures degrade to the database, and a
// queue loaded while a write invalidated the item is not cached.
func (s *service) Queue(ctx context.Context, itemID uuid.UUID) (*Queue, error) {
	gen := s.cache.Generation(itemID)
	if q, ok, err := s.cache.Get(ctx, itemID); err != nil {
		s.logger.Warn("reservation cache read failed", zap.Stringer("item_id", itemID), zap.Error(err))
	} else if ok {
		return q, nil
	}

	if _, err := s.items.Get(ctx, s.db, itemID); err != nil {
		return nil, err
	}
	q, err := s.repo.ActiveQueue(ctx, s.db, itemID)
	if err != nil {
		return nil, err
	}
	if _, err := s.cache.SetIfCurrent(ctx, q, gen); err != nil {
		s.logger.Warn("reservation cache write failed", zap.Stringer("item_id", itemID), zap.Error(err))
	}
	return q, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*Reservation, error) {
	return s.repo.ListForUser(ctx, userID, activeOnly)
}

func (s *service) ExpireStale(ctx context.Context) (int, error) {
	if s.holdWindow <= 0 {
		return 0, nil
	}
	now := s.now()
	cutoff := now.Add(-s.holdWindow)

	stale, err := s.repo.Stale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		var notices []notification.Notification
		err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.items.Lock(ctx, tx, candidate.ItemID); err != nil {
				return err
			}
			res, err := s.repo.Get(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if !res.IsActive() || res.NotifiedAt == nil || !res.NotifiedAt.Before(cutoff) {
				return nil
			}
			if err := s.lifecycle.Close(ctx, tx, res, StatusExpired, now); err != nil {
				return err
			}
			notices = append(notices, notification.New(res.UserID, notification.TypeReservation,
				"Reservation expired",
				"Your reservation expired because the item was not borrowed in time.",
				res.ItemID))

			next, err := s.lifecycle.Advance(ctx, tx, res.ItemID, now)
			if err != nil {
				return err
			}
			if next != nil {
				notices = append(notices, *next)
			}
			return nil
		})
		if err != nil {
			s.observe("expire", err)
			return expired, fmt.Errorf("expire reservation %s: %w", candidate.ID, err)
		}
		if len(notices) == 0 {
			continue
		}
		expired++
		s.observe("expire", nil)
		s.invalidate(ctx, candidate.ItemID)
		for _, n := range notices {
			s.notifier.Send(ctx, n)
		}
	}

	if expired > 0 {
		s.logger.Info("stale reservations expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *service) invalidate(ctx context.Context, itemIDs ...uuid.UUID) {
	if err := s.cache.Invalidate(ctx, itemIDs...); err != nil {
		s.logger.Warn("reservation cache invalidation failed", zap.Error(err))
	}
}

func (s *service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.CodeOf(err)
	}
	telemetry.ReservationOperationsTotal.WithLabelValues(op, outcome).Inc()
}
