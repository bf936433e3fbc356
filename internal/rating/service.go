package rating

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for rating items.
type Service interface {
	Rate(ctx context.Context, userID, itemID uuid.UUID, in NewRating) (*Rating, error)
	Get(ctx context.Context, id uuid.UUID) (*Rating, error)
	Remove(ctx context.Context, id uuid.UUID) error
	ListForItem(ctx context.Context, itemID uuid.UUID) ([]*Rating, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Rating, error)
	Summary(ctx context.Context, itemID uuid.UUID) (*Summary, error)
}
