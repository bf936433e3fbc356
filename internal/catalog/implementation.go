package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"campuslib/internal/eventstore"
	"campuslib/internal/store"
)

// service implements the Service interface.
type service struct {
	db         *store.DB
	eventStore *eventstore.EventStore
	items      *Repository
	removed    []func(ctx context.Context, itemID uuid.UUID)
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*service)

// OnRemove registers fn to run after an item and its reservations are
// deleted, so caches of its queue can be dropped.
func OnRemove(fn func(ctx context.Context, itemID uuid.UUID)) Option {
	return func(s *service) { s.removed = append(s.removed, fn) }
}

// NewService creates a new catalog service instance.
func NewService(db *store.DB, es *eventstore.EventStore, items *Repository, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		db:         db,
		eventStore: es,
		items:      items,
		logger:     logger.Named("catalog"),
		now:        store.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem creates a new item in the catalog.
func (s *service) AddItem(ctx context.Context, in NewItem) (*Item, error) {
	now := s.now()
	item := &Item{
		ID:          uuid.New(),
		ISBN:        normalize(in.ISBN),
		Title:       normalize(in.Title),
		Author:      normalize(in.Author),
		Genre:       normalize(in.Genre),
		TotalCopies: in.TotalCopies,
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if item.TotalCopies < 1 {
		return nil, ErrInvalidItem.WithDetail("an item needs at least one copy")
	}

	event, err := eventstore.NewEvent("ItemAdded", ItemAddedEvent{
		ID:          item.ID,
		ISBN:        item.ISBN,
		Title:       item.Title,
		Author:      item.Author,
		Genre:       item.Genre,
		TotalCopies: item.TotalCopies,
	})
	if err != nil {
		return nil, err
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.items.Insert(ctx, tx, item); err != nil {
			return err
		}
		return s.eventStore.Append(ctx, tx, item.ID, eventstore.AggregateItem, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}

	item.computeAvailable()
	s.logger.Info("item added", zap.Stringer("item_id", item.ID), zap.String("isbn", item.ISBN))
	return item, nil
}

// GetItem retrieves an item from the catalog by its ID.
func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.items.Get(ctx, s.db, id)
}

// UpdateItem changes the descriptive fields of an item.
func (s *service) UpdateItem(ctx context.Context, id uuid.UUID, upd ItemUpdate) (*Item, error) {
	return s.mutate(ctx, id, func(staged *Item) (eventstore.Event, error) {
		if upd.ISBN != nil {
			staged.ISBN = normalize(*upd.ISBN)
		}
		if upd.Title != nil {
			staged.Title = normalize(*upd.Title)
		}
		if upd.Author != nil {
			staged.Author = normalize(*upd.Author)
		}
		if upd.Genre != nil {
			staged.Genre = normalize(*upd.Genre)
		}
		if err := staged.Validate(); err != nil {
			return eventstore.Event{}, err
		}
		return eventstore.NewEvent("ItemUpdated", ItemUpdatedEvent{
			ID:     staged.ID,
			ISBN:   staged.ISBN,
			Title:  staged.Title,
			Author: staged.Author,
			Genre:  staged.Genre,
		})
	})
}

// SetTotalCopies changes the number of physical copies. It never drops
// below the copies currently on loan.
func (s *service) SetTotalCopies(ctx context.Context, id uuid.UUID, total int) (*Item, error) {
	return s.mutate(ctx, id, func(staged *Item) (eventstore.Event, error) {
		if total < 0 {
			return eventstore.Event{}, ErrInvalidItem.WithDetail("total copies must not be negative")
		}
		if total < staged.Loaned {
			return eventstore.Event{}, ErrCopiesBelowLoaned.WithDetail("%d copies on loan", staged.Loaned)
		}
		old := staged.TotalCopies
		staged.TotalCopies = total
		return eventstore.NewEvent("ItemCopiesUpdated", ItemCopiesUpdatedEvent{
			ID:       staged.ID,
			OldTotal: old,
			NewTotal: total,
		})
	})
}

// Deactivate retires an item from lending without deleting its history.
func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutate(ctx, id, func(staged *Item) (eventstore.Event, error) {
		staged.Active = false
		return eventstore.NewEvent("ItemDeactivated", ItemStatusChangedEvent{ID: staged.ID, Status: "inactive"})
	})
	return err
}

// Reactivate returns a deactivated item to the lending pool.
func (s *service) Reactivate(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutate(ctx, id, func(staged *Item) (eventstore.Event, error) {
		staged.Active = true
		return eventstore.NewEvent("ItemReactivated", ItemStatusChangedEvent{ID: staged.ID, Status: "active"})
	})
	return err
}

// Delete removes an inactive item that was never lent.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.items.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.Active {
			return ErrItemActive
		}
		used, err := s.items.HasLoanHistory(ctx, tx, id)
		if err != nil {
			return err
		}
		if used {
			return ErrItemInUse
		}
		event, err := eventstore.NewEvent("ItemRemoved", ItemStatusChangedEvent{ID: id, Status: "removed"})
		if err != nil {
			return err
		}
		if err := s.items.Delete(ctx, tx, id); err != nil {
			return err
		}
		return s.eventStore.Append(ctx, tx, id, eventstore.AggregateItem, event)
	})
	if err != nil {
		return err
	}
	for _, fn := range s.removed {
		fn(ctx, id)
	}
	s.logger.Info("item removed", zap.Stringer("item_id", id))
	return nil
}

// Search finds items in the catalog.
func (s *service) Search(ctx context.Context, filter SearchFilter) ([]*Item, error) {
	return s.items.Search(ctx, filter)
}

// mutate loads the item under lock, lets change edit a copy and persists the
// copy with its event. The caller only sees the new state after commit.
func (s *service) mutate(ctx context.Context, id uuid.UUID, change func(staged *Item) (eventstore.Event, error)) (*Item, error) {
	var result *Item
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.items.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		staged := *current
		event, err := change(&staged)
		if err != nil {
			return err
		}
		staged.UpdatedAt = s.now()
		if err := s.items.Update(ctx, tx, &staged); err != nil {
			return err
		}
		if err := s.eventStore.Append(ctx, tx, id, eventstore.AggregateItem, event); err != nil {
			return err
		}
		staged.computeAvailable()
		result = &staged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
