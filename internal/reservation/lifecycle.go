package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/catalog"
	"campuslib/internal/eventstore"
	"campuslib/internal/notification"
)

// Lifecycle applies reservation state changes inside a caller's transaction
// and records them in the event history. The loan engine uses it to fulfil
// and advance queues within its own transactions.
type Lifecycle struct {
	repo   *Repository
	items  *catalog.Repository
	events *eventstore.EventStore
}

func NewLifecycle(repo *Repository, items *catalog.Repository, events *eventstore.EventStore) *Lifecycle {
	return &Lifecycle{repo: repo, items: items, events: events}
}

func (l *Lifecycle) Repository() *Repository {
	return l.repo
}

// Fulfil closes res because its holder borrowed the item.
func (l *Lifecycle) Fulfil(ctx context.Context, q sqlx.ExtContext, res *Reservation, now time.Time) error {
	return l.Close(ctx, q, res, StatusFulfilled, now)
}

// Close moves an active reservation to a terminal status.
func (l *Lifecycle) Close(ctx context.Context, q sqlx.ExtContext, res *Reservation, status Status, now time.Time) error {
	if !res.IsActive() {
		return ErrNotActive
	}
	staged := *res
	staged.Status = status
	staged.ClosedAt = &now
	if err := l.repo.Update(ctx, q, &staged); err != nil {
		return err
	}
	event, err := eventstore.NewEvent(closedEventType(status), ReservationClosedEvent{
		ID:     res.ID,
		ItemID: res.ItemID,
		Status: status,
	})
	if err != nil {
		return err
	}
	if err := l.events.Append(ctx, q, res.ID, eventstore.AggregateReservation, event); err != nil {
		return err
	}
	*res = staged
	return nil
}

func closedEventType(status Status) string {
	switch status {
	case StatusFulfilled:
		return "ReservationFulfilled"
	case StatusCancelled:
		return "ReservationCancelled"
	case StatusExpired:
		return "ReservationExpired"
	default:
		return "ReservationClosed"
	}
}

// Advance tells the queue head that a copy is free. The first notice starts
// the head's hold window; later notices leave it unchanged. It returns the
// notification to send after commit, or nil when nobody is waiting or no
// copy can be lent.
func (l *Lifecycle) Advance(ctx context.Context, q sqlx.ExtContext, itemID uuid.UUID, now time.Time) (*notification.Notification, error) {
	item, err := l.items.Get(ctx, q, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Borrowable() {
		return nil, nil
	}
	queue, err := l.repo.ActiveQueue(ctx, q, itemID)
	if err != nil {
		return nil, err
	}
	head := queue.Head()
	if head == nil {
		return nil, nil
	}

	if head.NotifiedAt == nil {
		staged := *head
		staged.NotifiedAt = &now
		if err := l.repo.Update(ctx, q, &staged); err != nil {
			return nil, err
		}
		event, err := eventstore.NewEvent("ReservationNotified", ReservationNotifiedEvent{ID: head.ID, ItemID: itemID})
		if err != nil {
			return nil, err
		}
		if err := l.events.Append(ctx, q, head.ID, eventstore.AggregateReservation, event); err != nil {
			return nil, err
		}
	}

	n := notification.New(head.UserID, notification.TypeReservation,
		"Reserved item available",
		fmt.Sprintf("A copy of %q is available for you. Borrow it to keep your place.", item.Title),
		itemID)
	return &n, nil
}
