package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"campuslib/internal/store"
)

const selectLoan = `
	SELECT id, user_id, item_id, library_id, borrowed_at, due_at, returned_at, cancelled_at,
	       status, renewal_count, max_renewals, fine, notes, reminded_at, overdue_notified_at, version
	FROM loans
`

const openLoan = `returned_at IS NULL AND cancelled_at IS NULL`

// Repository persists loans. Loans are never deleted.
type Repository struct {
	db *store.DB
}

func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, l *Loan) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO loans (id, user_id, item_id, library_id, borrowed_at, due_at, status,
		                   renewal_count, max_renewals, fine, notes, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.UserID, l.ItemID, l.LibraryID, l.BorrowedAt, l.DueAt, l.Status,
		l.RenewalCount, l.MaxRenewals, l.Fine, l.Notes, l.Version)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Loan, error) {
	l := &Loan{}
	err := sqlx.GetContext(ctx, q, l, q.Rebind(selectLoan+" WHERE id = ?"), id)
	if store.IsNoRows(err) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

// Update writes the mutable columns, guarded by the version the loan was read at.
func (r *Repository) Update(ctx context.Context, q sqlx.ExtContext, l *Loan) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE loans
		SET due_at = ?, returned_at = ?, cancelled_at = ?, status = ?, renewal_count = ?,
		    fine = ?, notes = ?, reminded_at = ?, overdue_notified_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), l.DueAt, l.ReturnedAt, l.CancelledAt, l.Status, l.RenewalCount,
		l.Fine, l.Notes, l.RemindedAt, l.OverdueNotifiedAt, l.ID, l.Version)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	l.Version++
	return nil
}

// CountOpenByUser counts the loans still holding a copy for userID.
func (r *Repository) CountOpenByUser(ctx context.Context, q sqlx.ExtContext, userID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM loans WHERE user_id = ? AND `+openLoan), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count open loans: %w", err)
	}
	return n, nil
}

// ListFilter narrows loan listings.
type ListFilter struct {
	UserID   uuid.UUID
	ItemID   uuid.UUID
	OpenOnly bool
	// DueBefore keeps open loans due strictly before it.
	DueBefore time.Time
	// DueAfter keeps loans due strictly after it.
	DueAfter time.Time
}

// List returns loans matching filter, most recent first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Loan, error) {
	ds := r.db.Goqu().
		From("loans").
		Select("id", "user_id", "item_id", "library_id", "borrowed_at", "due_at", "returned_at",
			"cancelled_at", "status", "renewal_count", "max_renewals", "fine", "notes",
			"reminded_at", "overdue_notified_at", "version").
		Order(goqu.C("borrowed_at").Desc(), goqu.C("id").Asc()).
		Prepared(true)

	if filter.UserID != uuid.Nil {
		ds = ds.Where(goqu.C("user_id").Eq(filter.UserID))
	}
	if filter.ItemID != uuid.Nil {
		ds = ds.Where(goqu.C("item_id").Eq(filter.ItemID))
	}
	if filter.OpenOnly || !filter.DueBefore.IsZero() {
		ds = ds.Where(goqu.C("returned_at").IsNull(), goqu.C("cancelled_at").IsNull())
	}
	if !filter.DueBefore.IsZero() {
		ds = ds.Where(goqu.C("due_at").Lt(filter.DueBefore))
	}
	if !filter.DueAfter.IsZero() {
		ds = ds.Where(goqu.C("due_at").Gt(filter.DueAfter))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	var loans []*Loan
	if err := r.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// Stats counts loans by state at now and sums assessed fines.
func (r *Repository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	s := &Stats{}
	err := r.db.GetContext(ctx, s, r.db.Rebind(`
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN `+openLoan+` THEN 1 ELSE 0 END), 0) AS open,
		       COALESCE(SUM(CASE WHEN `+openLoan+` AND due_at < ? THEN 1 ELSE 0 END), 0) AS overdue,
		       COALESCE(SUM(CASE WHEN returned_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS returned,
		       COALESCE(SUM(CASE WHEN cancelled_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS cancelled
		FROM loans
	`), now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute loan stats: %w", err)
	}

	// Fines are summed here so both engines add them as exact decimals.
	var fines []decimal.Decimal
	if err := r.db.SelectContext(ctx, &fines, `SELECT fine FROM loans WHERE returned_at IS NOT NULL`); err != nil {
		return nil, fmt.Errorf("failed to load fines: %w", err)
	}
	s.TotalFines = decimal.Sum(decimal.Zero, fines...)
	return s, nil
}
