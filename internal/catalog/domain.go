package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

var (
	ErrItemNotFound      = apperr.NotFound("item_not_found", "item not found")
	ErrInvalidItem       = apperr.Validation("invalid_item", "invalid item")
	ErrDuplicateISBN     = apperr.Conflict("duplicate_isbn", "an item with this ISBN already exists")
	ErrCopiesBelowLoaned = apperr.Rule("copies_below_loaned", "total copies cannot be lower than copies on loan")
	ErrItemActive        = apperr.Rule("item_active", "item must be deactivated before it can be deleted")
	ErrItemInUse         = apperr.Rule("item_in_use", "item has loan history and cannot be deleted")
	ErrConcurrentUpdate  = apperr.Conflict("item_concurrent_update", "item was modified concurrently, retry")
)

// Item is a catalog entry with a number of physical copies.
type Item struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ISBN        string    `json:"isbn" db:"isbn"`
	Title       string    `json:"title" db:"title"`
	Author      string    `json:"author" db:"author"`
	Genre       string    `json:"genre" db:"genre"`
	TotalCopies int       `json:"total_copies" db:"total_copies"`
	// Loaned is the number of open loans, counted on every read.
	Loaned    int       `json:"loaned" db:"loaned"`
	Available int       `json:"available" db:"-"`
	Active    bool      `json:"active" db:"active"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// computeAvailable derives Available from the copy and loan counts.
func (i *Item) computeAvailable() {
	i.Available = i.TotalCopies - i.Loaned
	if i.Available < 0 {
		i.Available = 0
	}
}

// Borrowable reports whether a copy can be lent right now.
func (i *Item) Borrowable() bool {
	return i.Active && i.Available >= 1
}

// NewItem is the librarian input for adding an item.
type NewItem struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	TotalCopies int    `json:"total_copies"`
}

// ItemUpdate carries the descriptive fields a librarian may edit.
// Nil fields are left unchanged.
type ItemUpdate struct {
	ISBN   *string `json:"isbn"`
	Title  *string `json:"title"`
	Author *string `json:"author"`
	Genre  *string `json:"genre"`
}

// SearchFilter narrows catalog searches. Empty fields match everything.
type SearchFilter struct {
	Query           string
	Author          string
	Genre           string
	IncludeInactive bool
	Limit           int
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}

// Validate checks the descriptive fields shared by creation and update.
func (i *Item) Validate() error {
	if len(i.Title) < 2 {
		return ErrInvalidItem.WithDetail("title must have at least 2 characters")
	}
	if len(i.Author) < 2 {
		return ErrInvalidItem.WithDetail("author must have at least 2 characters")
	}
	if len(i.Genre) < 2 {
		return ErrInvalidItem.WithDetail("genre must have at least 2 characters")
	}
	if len(i.ISBN) < 10 {
		return ErrInvalidItem.WithDetail("ISBN must have at least 10 characters")
	}
	if i.TotalCopies < 0 {
		return ErrInvalidItem.WithDetail("total copies must not be negative")
	}
	return nil
}

// ItemAddedEvent is recorded when a new item is added.
type ItemAddedEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre"`
	TotalCopies int       `json:"total_copies"`
}

// ItemUpdatedEvent is recorded when descriptive fields change.
type ItemUpdatedEvent struct {
	ID     uuid.UUID `json:"id"`
	ISBN   string    `json:"isbn"`
	Title  string    `json:"title"`
	Author string    `json:"author"`
	Genre  string    `json:"genre"`
}

// ItemCopiesUpdatedEvent is recorded when the number of copies changes.
type ItemCopiesUpdatedEvent struct {
	ID       uuid.UUID `json:"id"`
	OldTotal int       `json:"old_total"`
	NewTotal int       `json:"new_total"`
}

// ItemStatusChangedEvent is recorded on deactivation, reactivation and removal.
type ItemStatusChangedEvent struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}
