package library

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"campuslib/internal/eventstore"
	"campuslib/internal/store"
)

type service struct {
	db         *store.DB
	eventStore *eventstore.EventStore
	libraries  *Repository
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(db *store.DB, es *eventstore.EventStore, libraries *Repository, logger *zap.Logger) Service {
	return &service{
		db:         db,
		eventStore: es,
		libraries:  libraries,
		logger:     logger.Named("library"),
		now:        store.Now,
	}
}

func (s *service) Create(ctx context.Context, in NewLibrary) (*Library, error) {
	now := s.now()
	l := &Library{
		ID:        uuid.New(),
		Code:      strings.ToLower(strings.TrimSpace(in.Code)),
		Name:      strings.TrimSpace(in.Name),
		Address:   strings.TrimSpace(in.Address),
		Phone:     strings.TrimSpace(in.Phone),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Status:    StatusOpen,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	event, err := eventstore.NewEvent("LibraryRegistered", LibraryRegisteredEvent{ID: l.ID, Code: l.Code, Name: l.Name})
	if err != nil {
		return nil, err
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.libraries.Insert(ctx, tx, l); err != nil {
			return err
		}
		return s.eventStore.Append(ctx, tx, l.ID, eventstore.AggregateLibrary, event)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("library registered", zap.Stringer("library_id", l.ID), zap.String("code", l.Code))
	return l, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Library, error) {
	return s.libraries.Get(ctx, s.db, id)
}

func (s *service) FindByName(ctx context.Context, name string) (*Library, error) {
	return s.libraries.GetByName(ctx, s.db, strings.TrimSpace(name))
}

func (s *service) List(ctx context.Context, openOnly bool) ([]*Library, error) {
	return s.libraries.List(ctx, openOnly)
}

func (s *service) SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Library, error) {
	if !status.Valid() {
		return nil, ErrInvalidLibrary.WithDetail("unknown status %q", status)
	}
	var result *Library
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		found, err := store.LockRow(ctx, tx, "libraries", id)
		if err != nil {
			return err
		}
		if !found {
			return ErrLibraryNotFound
		}
		current, err := s.libraries.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status == status {
			result = current
			return nil
		}
		staged := *current
		staged.Status = status
		staged.UpdatedAt = s.now()
		if err := s.libraries.SetStatus(ctx, tx, &staged); err != nil {
			return err
		}
		event, err := eventstore.NewEvent("LibraryStatusChanged", LibraryStatusChangedEvent{ID: id, Status: status})
		if err != nil {
			return err
		}
		if err := s.eventStore.Append(ctx, tx, id, eventstore.AggregateLibrary, event); err != nil {
			return err
		}
		result = &staged
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("library status changed", zap.Stringer("library_id", id), zap.String("status", string(status)))
	return result, nil
}

// CheckLending returns ErrLibraryClosed when the library registered under
// code is not open. Codes with no registered library always lend.
func CheckLending(ctx context.Context, libraries *Repository, q sqlx.ExtContext, code string) error {
	l, err := libraries.GetByCode(ctx, q, code)
	if errors.Is(err, ErrLibraryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !l.Lending() {
		return ErrLibraryClosed.WithDetail("%s is %s", l.Name, l.Status)
	}
	return nil
}
