package circulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"campuslib/internal/apperr"
	"campuslib/internal/catalog"
	"campuslib/internal/eventstore"
	"campuslib/internal/library"
	"campuslib/internal/membership"
	"campuslib/internal/notification"
	"campuslib/internal/reservation"
	"campuslib/internal/store"
	"campuslib/internal/telemetry"
)

var ErrReasonRequired = apperr.Validation("cancel_reason_required", "a reason is required to cancel a loan")

const dateLayout = "2006-01-02"

// Rules are the library-wide lending parameters. Per-role limits and terms
// come from the membership policies.
type Rules struct {
	LibraryID   string
	DailyFine   decimal.Decimal
	RenewalDays int
	// MaxRenewalDays caps the days a single renewal may add. Zero means no cap.
	MaxRenewalDays int
	MaxRenewals    int
	// ReminderLead is how far ahead of the due date holders are reminded.
	// Zero disables due reminders.
	ReminderLead time.Duration
}

// DefaultRules mirrors the configuration defaults.
func DefaultRules() Rules {
	return Rules{
		LibraryID:      "main",
		DailyFine:      decimal.NewFromInt(2),
		RenewalDays:    14,
		MaxRenewalDays: 30,
		MaxRenewals:    2,
		ReminderLead:   24 * time.Hour,
	}
}

// Deps are the collaborators of the loan engine.
type Deps struct {
	DB           *store.DB
	Loans        *Repository
	Users        *membership.Repository
	Items        *catalog.Repository
	Reservations *reservation.Lifecycle
	// Libraries, when set, refuses lending at libraries that are not open.
	Libraries *library.Repository
	// Cache is the reservation queue cache to invalidate after writes.
	Cache    reservation.Cache
	Events   *eventstore.EventStore
	Policies membership.Policies
	Notifier *notification.Notifier
	Logger   *zap.Logger
	Rules    Rules
}

type service struct {
	db           *store.DB
	loans        *Repository
	users        *membership.Repository
	items        *catalog.Repository
	reservations *reservation.Lifecycle
	queues       *reservation.Repository
	libraries    *library.Repository
	cache        reservation.Cache
	events       *eventstore.EventStore
	policies     membership.Policies
	notifier     *notification.Notifier
	logger       *zap.Logger
	tracer       trace.Tracer
	rules        Rules
	now          func() time.Time
}

func NewService(d Deps) Service {
	policies := d.Policies
	if policies == nil {
		policies = membership.DefaultPolicies()
	}
	return &service{
		db:           d.DB,
		loans:        d.Loans,
		users:        d.Users,
		items:        d.Items,
		reservations: d.Reservations,
		queues:       d.Reservations.Repository(),
		libraries:    d.Libraries,
		cache:        d.Cache,
		events:       d.Events,
		policies:     policies,
		notifier:     d.Notifier,
		logger:       d.Logger.Named("circulation"),
		tracer:       otel.Tracer("campuslib/circulation"),
		rules:        d.Rules,
		now:          store.Now,
	}
}

// Borrow lends a copy of itemID to userID. The user row and then the item row
// are locked so concurrent borrows can neither exceed the user's limit nor
// lend more copies than exist.
func (s *service) Borrow(ctx context.Context, userID, itemID uuid.UUID) (loan *Loan, err error) {
	ctx, span := s.start(ctx, "borrow",
		attribute.String("user.id", userID.String()),
		attribute.String("item.id", itemID.String()))
	defer func(begin time.Time) { s.finish(span, "borrow", begin, err) }(time.Now())

	var title string
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkLibrary(ctx, tx, s.rules.LibraryID); err != nil {
			return err
		}
		if err := s.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		user, err := s.users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !user.Active {
			return ErrUserInactive
		}
		policy := s.policies.For(user.Role)

		open, err := s.loans.CountOpenByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if open >= policy.MaxLoans {
			return ErrLimitExceeded.WithDetail("%s accounts may hold %d loans", user.Role, policy.MaxLoans)
		}

		item, err := s.items.GetForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if !item.Borrowable() {
			return ErrItemUnavailable
		}
		title = item.Title

		queue, err := s.queues.ActiveQueue(ctx, tx, itemID)
		if err != nil {
			return err
		}
		head := queue.Head()
		if head != nil && head.UserID != userID {
			return ErrReservedForOther
		}

		now := s.now()
		staged := &Loan{
			ID:          uuid.New(),
			UserID:      userID,
			ItemID:      itemID,
			LibraryID:   s.rules.LibraryID,
			BorrowedAt:  now,
			DueAt:       now.AddDate(0, 0, policy.LoanDays),
			Status:      StatusActive,
			MaxRenewals: s.rules.MaxRenewals,
			Fine:        decimal.Zero,
			Version:     1,
		}
		if err := s.loans.Insert(ctx, tx, staged); err != nil {
			return err
		}

		payload := LoanBorrowedEvent{LoanID: staged.ID, UserID: userID, ItemID: itemID, DueAt: staged.DueAt}
		if head != nil {
			if err := s.reservations.Fulfil(ctx, tx, head, now); err != nil {
				return err
			}
			payload.ReservationID = &head.ID
		}
		if err := s.record(ctx, tx, staged.ID, "LoanBorrowed", payload); err != nil {
			return err
		}
		loan = staged
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, itemID)

	s.notifier.Send(ctx, notification.New(userID, notification.TypeLoan,
		"Loan confirmed",
		fmt.Sprintf("You borrowed %q. Please return it by %s.", title, loan.DueAt.Format(dateLayout)),
		itemID))
	s.logger.Info("item borrowed",
		zap.Stringer("loan_id", loan.ID),
		zap.Stringer("user_id", userID),
		zap.Stringer("item_id", itemID),
		zap.Time("due_at", loan.DueAt),
	)
	return loan.withStatus(s.now()), nil
}

func (s *service) Renew(ctx context.Context, loanID uuid.UUID, extraDays int) (loan *Loan, err error) {
	ctx, span := s.start(ctx, "renew", attribute.String("loan.id", loanID.String()))
	defer func(begin time.Time) { s.finish(span, "renew", begin, err) }(time.Now())

	if extraDays == 0 {
		extraDays = s.rules.RenewalDays
	}
	if extraDays < 1 {
		return nil, ErrInvalidRenewal
	}
	if limit := s.rules.MaxRenewalDays; limit > 0 && extraDays > limit {
		return nil, ErrInvalidRenewal.WithDetail("a renewal may add at most %d days", limit)
	}

	var title string
	err = s.inLoanTx(ctx, loanID, func(tx *sqlx.Tx, current *Loan, item *catalog.Item) error {
		now := s.now()
		switch {
		case current.CancelledAt != nil:
			return ErrAlreadyCancelled
		case current.ReturnedAt != nil:
			return ErrAlreadyReturned
		case now.After(current.DueAt):
			return ErrOverdue
		case current.RenewalCount >= current.MaxRenewals:
			return ErrRenewalLimitReached.WithDetail("loan was renewed %d of %d times", current.RenewalCount, current.MaxRenewals)
		}
		if err := s.checkLibrary(ctx, tx, current.LibraryID); err != nil {
			return err
		}

		queue, err := s.queues.ActiveQueue(ctx, tx, current.ItemID)
		if err != nil {
			return err
		}
		if queue.HasOtherThan(current.UserID) {
			return ErrReservedForOther
		}
		title = item.Title

		staged := *current
		staged.RenewalCount++
		staged.DueAt = current.DueAt.AddDate(0, 0, extraDays)
		staged.Status = StatusRenewed
		staged.RemindedAt = nil
		if err := s.loans.Update(ctx, tx, &staged); err != nil {
			return err
		}
		if err := s.record(ctx, tx, staged.ID, "LoanRenewed", LoanRenewedEvent{
			LoanID:       staged.ID,
			PreviousDue:  current.DueAt,
			DueAt:        staged.DueAt,
			RenewalCount: staged.RenewalCount,
		}); err != nil {
			return err
		}
		loan = &staged
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, notification.New(loan.UserID, notification.TypeLoan,
		"Loan renewed",
		fmt.Sprintf("Your loan of %q was renewed. It is now due on %s.", title, loan.DueAt.Format(dateLayout)),
		loan.ItemID))
	s.logger.Info("loan renewed",
		zap.Stringer("loan_id", loan.ID),
		zap.Int("renewal_count", loan.RenewalCount),
		zap.Time("due_at", loan.DueAt),
	)
	return loan.withStatus(s.now()), nil
}

// Return closes the loan and charges the fine for every whole day past due.
// The head of the item's queue is told that a copy is free; the reservation
// stays open until its holder borrows.
func (s *service) Return(ctx context.Context, loanID uuid.UUID, at time.Time, note string) (loan *Loan, err error) {
	ctx, span := s.start(ctx, "return", attribute.String("loan.id", loanID.String()))
	defer func(begin time.Time) { s.finish(span, "return", begin, err) }(time.Now())

	now := s.now()
	if at.IsZero() {
		at = now
	}
	at = at.UTC().Truncate(time.Microsecond)
	if at.After(now) {
		return nil, ErrInvalidReturnDate.WithDetail("return date cannot be in the future")
	}

	var (
		title  string
		days   int
		notice *notification.Notification
	)
	err = s.inLoanTx(ctx, loanID, func(tx *sqlx.Tx, current *Loan, item *catalog.Item) error {
		switch {
		case current.CancelledAt != nil:
			return ErrAlreadyCancelled
		case current.ReturnedAt != nil:
			return ErrAlreadyReturned
		case at.Before(current.BorrowedAt):
			return ErrInvalidReturnDate
		}
		title = item.Title
		days = current.DaysOverdue(at)

		staged := *current
		staged.ReturnedAt = &at
		staged.Status = StatusReturned
		staged.Fine = ComputeFine(current.DueAt, at, s.rules.DailyFine)
		staged.Notes = appendNote(current.Notes, "Return", note)
		if err := s.loans.Update(ctx, tx, &staged); err != nil {
			return err
		}
		if err := s.record(ctx, tx, staged.ID, "LoanReturned", LoanReturnedEvent{
			LoanID:      staged.ID,
			ItemID:      staged.ItemID,
			ReturnedAt:  at,
			DaysOverdue: days,
			Fine:        staged.Fine,
		}); err != nil {
			return err
		}

		next, err := s.reservations.Advance(ctx, tx, staged.ItemID, now)
		if err != nil {
			return err
		}
		notice = next
		loan = &staged
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, loan.ItemID)

	s.notifier.Send(ctx, notification.New(loan.UserID, notification.TypeReturn,
		"Item returned",
		fmt.Sprintf("You returned %q. Thank you!", title),
		loan.ItemID))
	if loan.Fine.IsPositive() {
		telemetry.FinesAssessedTotal.Inc()
		s.notifier.Send(ctx, notification.New(loan.UserID, notification.TypeFine,
			"Fine assessed",
			fmt.Sprintf("%q was returned %d day(s) late. Fine due: %s.", title, days, loan.Fine.StringFixed(2)),
			loan.ItemID))
	}
	if notice != nil {
		s.notifier.Send(ctx, *notice)
	}
	s.logger.Info("item returned",
		zap.Stringer("loan_id", loan.ID),
		zap.Stringer("item_id", loan.ItemID),
		zap.Int("days_overdue", days),
		zap.String("fine", loan.Fine.String()),
	)
	return loan.withStatus(now), nil
}

func (s *service) Cancel(ctx context.Context, loanID uuid.UUID, reason string) (loan *Loan, err error) {
	ctx, span := s.start(ctx, "cancel", attribute.String("loan.id", loanID.String()))
	defer func(begin time.Time) { s.finish(span, "cancel", begin, err) }(time.Now())

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var (
		title  string
		notice *notification.Notification
	)
	err = s.inLoanTx(ctx, loanID, func(tx *sqlx.Tx, current *Loan, item *catalog.Item) error {
		switch {
		case current.ReturnedAt != nil:
			return ErrAlreadyReturned
		case current.CancelledAt != nil:
			return ErrAlreadyCancelled
		}
		title = item.Title
		now := s.now()

		staged := *current
		staged.CancelledAt = &now
		staged.Status = StatusCancelled
		staged.Notes = appendNote(current.Notes, "Cancelled", reason)
		if err := s.loans.Update(ctx, tx, &staged); err != nil {
			return err
		}
		if err := s.record(ctx, tx, staged.ID, "LoanCancelled", LoanCancelledEvent{
			LoanID: staged.ID,
			ItemID: staged.ItemID,
			Reason: reason,
		}); err != nil {
			return err
		}

		next, err := s.reservations.Advance(ctx, tx, staged.ItemID, now)
		if err != nil {
			return err
		}
		notice = next
		loan = &staged
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, loan.ItemID)

	s.notifier.Send(ctx, notification.New(loan.UserID, notification.TypeLoan,
		"Loan cancelled",
		fmt.Sprintf("Your loan of %q was cancelled: %s", title, reason),
		loan.ItemID))
	if notice != nil {
		s.notifier.Send(ctx, *notice)
	}
	s.logger.Info("loan cancelled", zap.Stringer("loan_id", loan.ID), zap.String("reason", reason))
	return loan.withStatus(s.now()), nil
}

// inLoanTx locks the loan's item, reloads the loan under that lock and runs fn.
func (s *service) inLoanTx(ctx context.Context, loanID uuid.UUID, fn func(tx *sqlx.Tx, current *Loan, item *catalog.Item) error) error {
	peek, err := s.loans.Get(ctx, s.db, loanID)
	if err != nil {
		return err
	}
	return s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.items.GetForUpdate(ctx, tx, peek.ItemID)
		if err != nil {
			return err
		}
		current, err := s.loans.Get(ctx, tx, loanID)
		if err != nil {
			return err
		}
		return fn(tx, current, item)
	})
}

func (s *service) Get(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	l, err := s.loans.Get(ctx, s.db, loanID)
	if err != nil {
		return nil, err
	}
	return l.withStatus(s.now()), nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, openOnly bool) ([]*Loan, error) {
	if _, err := s.users.Get(ctx, s.db, userID); err != nil {
		return nil, err
	}
	return s.list(ctx, ListFilter{UserID: userID, OpenOnly: openOnly})
}

func (s *service) ListOverdue(ctx context.Context) ([]*Loan, error) {
	return s.list(ctx, ListFilter{DueBefore: s.now()})
}

func (s *service) list(ctx context.Context, filter ListFilter) ([]*Loan, error) {
	loans, err := s.loans.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, l := range loans {
		l.withStatus(now)
	}
	return loans, nil
}

func (s *service) History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.loans.Get(ctx, s.db, loanID); err != nil {
		return nil, err
	}
	return s.events.LoadEvents(ctx, loanID, 0, 0)
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	return s.loans.Stats(ctx, s.now())
}

func (s *service) SendDueReminders(ctx context.Context) (int, error) {
	if s.rules.ReminderLead <= 0 {
		return 0, nil
	}
	now := s.now()
	due, err := s.loans.List(ctx, ListFilter{OpenOnly: true, DueAfter: now, DueBefore: now.Add(s.rules.ReminderLead)})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, l := range due {
		if l.RemindedAt != nil {
			continue
		}
		marked, err := s.mark(ctx, l.ID, func(current *Loan) bool {
			if !current.IsOpen() || current.RemindedAt != nil {
				return false
			}
			current.RemindedAt = &now
			return true
		})
		if err != nil {
			return sent, err
		}
		if !marked {
			continue
		}
		s.notifier.Send(ctx, notification.New(l.UserID, notification.TypeReminder,
			"Loan due soon",
			fmt.Sprintf("%q is due on %s.", s.titleOf(ctx, l.ItemID), l.DueAt.Format(dateLayout)),
			l.ItemID))
		sent++
	}
	if sent > 0 {
		s.logger.Info("due reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}

func (s *service) NotifyOverdue(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.loans.List(ctx, ListFilter{DueBefore: now})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, l := range overdue {
		if notifiedToday(l.OverdueNotifiedAt, now) {
			continue
		}
		marked, err := s.mark(ctx, l.ID, func(current *Loan) bool {
			if !current.IsOpen() || notifiedToday(current.OverdueNotifiedAt, now) {
				return false
			}
			current.OverdueNotifiedAt = &now
			return true
		})
		if err != nil {
			return sent, err
		}
		if !marked {
			continue
		}
		fine := ComputeFine(l.DueAt, now, s.rules.DailyFine)
		s.notifier.Send(ctx, notification.New(l.UserID, notification.TypeReminder,
			"Loan overdue",
			fmt.Sprintf("%q is %d day(s) overdue. Fine so far: %s.", s.titleOf(ctx, l.ItemID), l.DaysOverdue(now), fine.StringFixed(2)),
			l.ItemID))
		sent++
	}
	if sent > 0 {
		s.logger.Info("overdue notices sent", zap.Int("count", sent))
	}
	return sent, nil
}

func notifiedToday(at *time.Time, now time.Time) bool {
	return at != nil && now.Sub(*at) < 24*time.Hour
}

// mark applies a bookkeeping change to one loan. A loan changed concurrently
// is skipped; the next sweep sees it again.
func (s *service) mark(ctx context.Context, loanID uuid.UUID, change func(*Loan) bool) (bool, error) {
	marked := false
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.loans.Get(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if !change(current) {
			return nil
		}
		if err := s.loans.Update(ctx, tx, current); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if errors.Is(err, ErrConcurrentUpdate) {
		s.logger.Debug("loan changed during sweep", zap.Stringer("loan_id", loanID))
		return false, nil
	}
	return marked, err
}

func (s *service) titleOf(ctx context.Context, itemID uuid.UUID) string {
	item, err := s.items.Get(ctx, s.db, itemID)
	if err != nil {
		s.logger.Warn("item lookup failed", zap.Stringer("item_id", itemID), zap.Error(err))
		return "your item"
	}
	return item.Title
}

func (s *service) record(ctx context.Context, tx sqlx.ExtContext, loanID uuid.UUID, eventType string, payload interface{}) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return s.events.Append(ctx, tx, loanID, eventstore.AggregateLoan, event)
}

func (s *service) checkLibrary(ctx context.Context, tx *sqlx.Tx, code string) error {
	if s.libraries == nil {
		return nil
	}
	return library.CheckLending(ctx, s.libraries, tx, code)
}

func (s *service) invalidate(ctx context.Context, itemID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, itemID); err != nil {
		s.logger.Warn("reservation cache invalidation failed", zap.Stringer("item_id", itemID), zap.Error(err))
	}
}

func (s *service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "circulation."+op, trace.WithAttributes(attrs...))
}

func (s *service) finish(span trace.Span, op string, begin time.Time, err error) {
	defer span.End()
	telemetry.LoanOperationLatency.WithLabelValues(op).Observe(time.Since(begin).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = apperr.CodeOf(err)
		span.SetAttributes(attribute.String("outcome", outcome))
		if apperr.KindOf(err) == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("loan operation failed", zap.String("operation", op), zap.Error(err))
		}
	}
	telemetry.LoanOperationsTotal.WithLabelValues(op, outcome).Inc()
}

func appendNote(notes, label, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return notes
	}
	line := label + ": " + text
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
