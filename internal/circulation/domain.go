package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campuslib/internal/apperr"
)

var (
	ErrLoanNotFound        = apperr.NotFound("loan_not_found", "loan not found")
	ErrUserInactive        = apperr.Rule("user_inactive", "user account is inactive")
	ErrLimitExceeded       = apperr.Rule("loan_limit_exceeded", "user reached the loan limit for their role")
	ErrItemUnavailable     = apperr.Rule("item_unavailable", "no copy of this item is available")
	ErrReservedForOther    = apperr.Rule("reserved_for_other", "item is reserved for another user")
	ErrAlreadyReturned     = apperr.Rule("already_returned", "loan was already returned")
	ErrAlreadyCancelled    = apperr.Rule("already_cancelled", "loan was cancelled")
	ErrOverdue             = apperr.Rule("loan_overdue", "an overdue loan cannot be renewed")
	ErrRenewalLimitReached = apperr.Rule("renewal_limit_reached", "loan reached its renewal limit")
	ErrInvalidReturnDate   = apperr.Validation("invalid_return_date", "return date cannot be before the borrow date")
	ErrInvalidRenewal      = apperr.Validation("invalid_renewal", "renewal must extend the loan by at least one day")
	ErrConcurrentUpdate    = apperr.Conflict("loan_concurrent_update", "loan was modified concurrently, retry")
)

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusActive    Status = "active"
	StatusRenewed   Status = "renewed"
	StatusOverdue   Status = "overdue"
	StatusReturned  Status = "returned"
	StatusCancelled Status = "cancelled"
)

// Loan is one copy of an item lent to a user.
type Loan struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	ItemID       uuid.UUID       `json:"item_id" db:"item_id"`
	LibraryID    string          `json:"library_id" db:"library_id"`
	BorrowedAt   time.Time       `json:"borrowed_at" db:"borrowed_at"`
	DueAt        time.Time       `json:"due_at" db:"due_at"`
	ReturnedAt   *time.Time      `json:"returned_at,omitempty" db:"returned_at"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	Status       Status          `json:"status" db:"status"`
	RenewalCount int             `json:"renewal_count" db:"renewal_count"`
	MaxRenewals  int             `json:"max_renewals" db:"max_renewals"`
	Fine         decimal.Decimal `json:"fine" db:"fine"`
	Notes        string          `json:"notes" db:"notes"`
	// RemindedAt and OverdueNotifiedAt record the last reminder sweeps.
	RemindedAt        *time.Time `json:"-" db:"reminded_at"`
	OverdueNotifiedAt *time.Time `json:"-" db:"overdue_notified_at"`
	Version           int        `json:"version" db:"version"`
}

// DeriveStatus computes the loan status at now. The stored column is only
// the status at the last write.
func (l *Loan) DeriveStatus(now time.Time) Status {
	switch {
	case l.CancelledAt != nil:
		return StatusCancelled
	case l.ReturnedAt != nil:
		return StatusReturned
	case now.After(l.DueAt):
		return StatusOverdue
	case l.RenewalCount > 0:
		return StatusRenewed
	default:
		return StatusActive
	}
}

// IsOpen reports whether the loan still holds a copy.
func (l *Loan) IsOpen() bool {
	return l.ReturnedAt == nil && l.CancelledAt == nil
}

// DaysOverdue counts whole days between the due date and at, zero when not late.
func (l *Loan) DaysOverdue(at time.Time) int {
	return DaysLate(l.DueAt, at)
}

// DaysRemaining counts whole days until the due date, zero when closed or late.
func (l *Loan) DaysRemaining(now time.Time) int {
	if !l.IsOpen() || !l.DueAt.After(now) {
		return 0
	}
	return int(l.DueAt.Sub(now) / (24 * time.Hour))
}

// DaysLate is floor((at - due) / 24h), never negative.
func DaysLate(due, at time.Time) int {
	if !at.After(due) {
		return 0
	}
	return int(at.Sub(due) / (24 * time.Hour))
}

// ComputeFine charges rate for every whole day past due.
func ComputeFine(due, returned time.Time, rate decimal.Decimal) decimal.Decimal {
	days := DaysLate(due, returned)
	if days == 0 || !rate.IsPositive() {
		return decimal.Zero
	}
	return rate.Mul(decimal.NewFromInt(int64(days)))
}

// withStatus refreshes Status for presentation.
func (l *Loan) withStatus(now time.Time) *Loan {
	l.Status = l.DeriveStatus(now)
	return l
}

// Stats summarises the loans of the library.
type Stats struct {
	Total      int             `json:"total" db:"total"`
	Open       int             `json:"open" db:"open"`
	Overdue    int             `json:"overdue" db:"overdue"`
	Returned   int             `json:"returned" db:"returned"`
	Cancelled  int             `json:"cancelled" db:"cancelled"`
	TotalFines decimal.Decimal `json:"total_fines" db:"-"`
}

// LoanBorrowedEvent is recorded when a copy is lent.
type LoanBorrowedEvent struct {
	LoanID        uuid.UUID  `json:"loan_id"`
	UserID        uuid.UUID  `json:"user_id"`
	ItemID        uuid.UUID  `json:"item_id"`
	DueAt         time.Time  `json:"due_at"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
}

// LoanRenewedEvent is recorded when the due date is extended.
type LoanRenewedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	PreviousDue  time.Time `json:"previous_due"`
	DueAt        time.Time `json:"due_at"`
	RenewalCount int       `json:"renewal_count"`
}

// LoanReturnedEvent is recorded when the copy comes back.
type LoanReturnedEvent struct {
	LoanID      uuid.UUID       `json:"loan_id"`
	ItemID      uuid.UUID       `json:"item_id"`
	ReturnedAt  time.Time       `json:"returned_at"`
	DaysOverdue int             `json:"days_overdue"`
	Fine        decimal.Decimal `json:"fine"`
}

// LoanCancelledEvent is recorded when a librarian voids a loan.
type LoanCancelledEvent struct {
	LoanID uuid.UUID `json:"loan_id"`
	ItemID uuid.UUID `json:"item_id"`
	Reason string    `json:"reason"`
}
