package library

import (
	"context"

	"github.com/google/uuid"
)

// Service manages the lending locations.
type Service interface {
	Create(ctx context.Context, in NewLibrary) (*Library, error)
	Get(ctx context.Context, id uuid.UUID) (*Library, error)
	FindByName(ctx context.Context, name string) (*Library, error)
	List(ctx context.Context, openOnly bool) ([]*Library, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Library, error)
}
