package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/eventstore"
)

// Service is the loan lifecycle engine.
type Service interface {
	Borrow(ctx context.Context, userID, itemID uuid.UUID) (*Loan, error)
	// Renew extends the due date by extraDays, or the configured default when zero.
	Renew(ctx context.Context, loanID uuid.UUID, extraDays int) (*Loan, error)
	// Return closes the loan at at, or now when at is zero.
	Return(ctx context.Context, loanID uuid.UUID, at time.Time, note string) (*Loan, error)
	Cancel(ctx context.Context, loanID uuid.UUID, reason string) (*Loan, error)

	Get(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	ListByUser(ctx context.Context, userID uuid.UUID, openOnly bool) ([]*Loan, error)
	ListOverdue(ctx context.Context) ([]*Loan, error)
	History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
	Stats(ctx context.Context) (*Stats, error)

	// SendDueReminders notifies holders of loans due within the reminder lead.
	SendDueReminders(ctx context.Context) (int, error)
	// NotifyOverdue notifies holders of overdue loans at most once a day per loan.
	NotifyOverdue(ctx context.Context) (int, error)
}
