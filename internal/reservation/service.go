package reservation

import (
	"context"

	"github.com/google/uuid"
)

// Service manages per-item reservation queues.
type Service interface {
	Reserve(ctx context.Context, userID, itemID uuid.UUID) (*Reservation, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// NextForItem returns the reservation served next, or nil when the queue is empty.
	NextForItem(ctx context.Context, itemID uuid.UUID) (*Reservation, error)
	Queue(ctx context.Context, itemID uuid.UUID) (*Queue, error)
	ListForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*Reservation, error)
	// CancelForUser cancels the user's active reservations and reports how many.
	CancelForUser(ctx context.Context, userID uuid.UUID) (int, error)
	// ExpireStale expires reservations whose holder did not borrow within the
	// hold window after being notified, and reports how many it expired.
	ExpireStale(ctx context.Context) (int, error)
}
