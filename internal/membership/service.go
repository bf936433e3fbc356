package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, reg Registration) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	// Login authenticates and issues a bearer token.
	Login(ctx context.Context, email, password string) (string, *User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// ChangePassword replaces the password after checking the current one.
	ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Reactivate(ctx context.Context, id uuid.UUID) error
	PolicyFor(role Role) Policy
	// EnsureLibrarian creates a librarian account unless the email is taken.
	EnsureLibrarian(ctx context.Context, email, password string) (*User, error)
}
