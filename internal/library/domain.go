package library

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

var (
	ErrLibraryNotFound  = apperr.NotFound("library_not_found", "library not found")
	ErrInvalidLibrary   = apperr.Validation("invalid_library", "invalid library")
	ErrDuplicateLibrary = apperr.Conflict("duplicate_library", "a library with this code or name already exists")
	ErrLibraryClosed    = apperr.Rule("library_closed", "the library is not lending right now")
	ErrConcurrentUpdate = apperr.Conflict("library_concurrent_update", "library was modified concurrently, retry")
)

// Status is the operating state of a library.
type Status string

const (
	StatusOpen        Status = "open"
	StatusClosed      Status = "closed"
	StatusMaintenance Status = "maintenance"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusMaintenance:
		return true
	}
	return false
}

// Library is a lending location. Loans carry its Code.
type Library struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address" db:"address"`
	Phone     string    `json:"phone" db:"phone"`
	Email     string    `json:"email" db:"email"`
	Status    Status    `json:"status" db:"status"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Lending reports whether loans may be opened or renewed at the library.
func (l *Library) Lending() bool {
	return l.Status == StatusOpen
}

// NewLibrary is the librarian input for registering a library.
type NewLibrary struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

var codePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks the fields entered by librarians.
func (l *Library) Validate() error {
	if !codePattern.MatchString(l.Code) {
		return ErrInvalidLibrary.WithDetail("code must be lowercase letters, digits, '-' or '_'")
	}
	if len(l.Name) < 3 {
		return ErrInvalidLibrary.WithDetail("name must have at least 3 characters")
	}
	if len(l.Address) < 10 {
		return ErrInvalidLibrary.WithDetail("address must have at least 10 characters")
	}
	if digits(l.Phone) < 10 {
		return ErrInvalidLibrary.WithDetail("phone must have at least 10 digits")
	}
	if at := strings.Index(l.Email, "@"); at < 1 || at == len(l.Email)-1 {
		return ErrInvalidLibrary.WithDetail("email is not valid")
	}
	if !l.Status.Valid() {
		return ErrInvalidLibrary.WithDetail("unknown status %q", l.Status)
	}
	return nil
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// LibraryRegisteredEvent is recorded when a library is created.
type LibraryRegisteredEvent struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// LibraryStatusChangedEvent is recorded when a library opens or closes.
type LibraryStatusChangedEvent struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}
