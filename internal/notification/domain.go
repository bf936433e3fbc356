package notification

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

var (
	ErrNotificationNotFound = apperr.NotFound("notification_not_found", "notification not found")
	ErrInvalidNotification  = apperr.Validation("invalid_notification", "invalid notification")
)

type Type string

const (
	TypeLoan        Type = "loan"
	TypeReturn      Type = "return"
	TypeReservation Type = "reservation"
	TypeFine        Type = "fine"
	TypeReminder    Type = "reminder"
	TypeSystem      Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeLoan, TypeReturn, TypeReservation, TypeFine, TypeReminder, TypeSystem:
		return true
	}
	return false
}

type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// Notification is a message addressed to one user.
type Notification struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	UserID    uuid.UUID     `json:"user_id" db:"user_id"`
	Type      Type          `json:"type" db:"type"`
	Title     string        `json:"title" db:"title"`
	Message   string        `json:"message" db:"message"`
	ItemID    uuid.NullUUID `json:"item_id" db:"item_id"`
	Status    Status        `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	ReadAt    *time.Time    `json:"read_at,omitempty" db:"read_at"`
}

// New builds an unread notification. itemID may be uuid.Nil.
func New(userID uuid.UUID, typ Type, title, message string, itemID uuid.UUID) Notification {
	n := Notification{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Status:  StatusUnread,
	}
	if itemID != uuid.Nil {
		n.ItemID = uuid.NullUUID{UUID: itemID, Valid: true}
	}
	return n
}

func (n *Notification) Validate() error {
	if n.UserID == uuid.Nil {
		return ErrInvalidNotification.WithDetail("user is required")
	}
	if !n.Type.Valid() {
		return ErrInvalidNotification.WithDetail("unknown type %q", n.Type)
	}
	if l := utf8.RuneCountInString(n.Title); l < 3 || l > 100 {
		return ErrInvalidNotification.WithDetail("title must have between 3 and 100 characters")
	}
	if l := utf8.RuneCountInString(n.Message); l < 5 || l > 1000 {
		return ErrInvalidNotification.WithDetail("message must have between 5 and 1000 characters")
	}
	return nil
}
