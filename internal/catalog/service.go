package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the librarian-facing catalog operations.
type Service interface {
	AddItem(ctx context.Context, in NewItem) (*Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	UpdateItem(ctx context.Context, id uuid.UUID, upd ItemUpdate) (*Item, error)
	SetTotalCopies(ctx context.Context, id uuid.UUID, total int) (*Item, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Reactivate(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, filter SearchFilter) ([]*Item, error)
}
