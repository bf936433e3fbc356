package reservation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

var (
	ErrReservationNotFound  = apperr.NotFound("reservation_not_found", "reservation not found")
	ErrDuplicateReservation = apperr.Rule("duplicate_reservation", "user already has an active reservation for this item")
	ErrNotActive            = apperr.Rule("reservation_not_active", "reservation is not active")
	ErrItemInactive         = apperr.Rule("item_inactive", "item is not available for reservation")
	ErrUserInactive         = apperr.Rule("user_inactive", "user account is inactive")
	ErrConcurrentUpdate     = apperr.Conflict("reservation_concurrent_update", "reservation was modified concurrently, retry")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Reservation is one user's place in an item's queue.
type Reservation struct {
	ID     uuid.UUID `json:"id" db:"id"`
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	ItemID uuid.UUID `json:"item_id" db:"item_id"`
	// Priority is the role rank captured when the reservation was placed.
	Priority   int       `json:"priority" db:"priority"`
	ReservedAt time.Time `json:"reserved_at" db:"reserved_at"`
	// Seq is the per-item insertion order; it breaks timestamp ties.
	Seq        int64      `json:"seq" db:"seq"`
	Status     Status     `json:"status" db:"status"`
	NotifiedAt *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	Version    int        `json:"version" db:"version"`
}

func (r *Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// Ordering decides who is served first among an item's active reservations.
type Ordering string

const (
	// FIFO serves by reservation time, then insertion order.
	FIFO Ordering = "fifo"
	// RolePriority serves lower role ranks first, then as FIFO.
	RolePriority Ordering = "role_priority"
)

func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(s); o {
	case FIFO, RolePriority:
		return o, nil
	case "":
		return FIFO, nil
	default:
		return "", fmt.Errorf("unknown queue ordering %q", s)
	}
}

// Sort orders rs in place. The sort is stable so equal keys keep their
// incoming order.
func (o Ordering) Sort(rs []*Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if o == RolePriority && a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.ReservedAt.Equal(b.ReservedAt) {
			return a.ReservedAt.Before(b.ReservedAt)
		}
		return a.Seq < b.Seq
	})
}

// Queue is the ordered list of active reservations for one item.
type Queue struct {
	ItemID  uuid.UUID      `json:"item_id"`
	Entries []*Reservation `json:"entries"`
}

// Head returns the reservation served next, or nil.
func (q *Queue) Head() *Reservation {
	if q == nil || len(q.Entries) == 0 {
		return nil
	}
	return q.Entries[0]
}

// Position returns the 1-based position of userID, or 0 when absent.
func (q *Queue) Position(userID uuid.UUID) int {
	for i, r := range q.Entries {
		if r.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// HasOtherThan reports whether someone besides userID is waiting.
func (q *Queue) HasOtherThan(userID uuid.UUID) bool {
	for _, r := range q.Entries {
		if r.UserID != userID {
			return true
		}
	}
	return false
}

// ReservationPlacedEvent is recorded when a user joins a queue.
type ReservationPlacedEvent struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	ItemID   uuid.UUID `json:"item_id"`
	Seq      int64     `json:"seq"`
	Priority int       `json:"priority"`
}

// ReservationClosedEvent is recorded for fulfilment, cancellation and expiry.
type ReservationClosedEvent struct {
	ID     uuid.UUID `json:"id"`
	ItemID uuid.UUID `json:"item_id"`
	Status Status    `json:"status"`
}

// ReservationNotifiedEvent is recorded when the holder is told a copy is free.
type ReservationNotifiedEvent struct {
	ID     uuid.UUID `json:"id"`
	ItemID uuid.UUID `json:"item_id"`
}
