package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/store"
)

const selectReservation = `
	SELECT id, user_id, item_id, priority, reserved_at, seq, status, notified_at, closed_at, version
	FROM reservations
`

// Repository persists reservations and builds queues from them. The table is
// the source of truth; Cache only mirrors Queue results.
type Repository struct {
	db       *store.DB
	ordering Ordering
}

func NewRepository(db *store.DB, ordering Ordering) *Repository {
	if ordering == "" {
		ordering = FIFO
	}
	return &Repository{db: db, ordering: ordering}
}

func (r *Repository) Ordering() Ordering {
	return r.ordering
}

// Insert appends res to its item's queue, assigning the next sequence
// number. Callers hold the item lock.
func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, res *Reservation) error {
	var seq int64
	if err := sqlx.GetContext(ctx, q, &seq, q.Rebind(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM reservations WHERE item_id = ?
	`), res.ItemID); err != nil {
		return fmt.Errorf("failed to allocate reservation sequence: %w", err)
	}
	res.Seq = seq

	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO reservations (id, user_id, item_id, priority, reserved_at, seq, status, notified_at, closed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), res.ID, res.UserID, res.ItemID, res.Priority, res.ReservedAt, res.Seq, string(res.Status),
		res.NotifiedAt, res.ClosedAt, res.Version)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateReservation
	}
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Reservation, error) {
	res := &Reservation{}
	err := sqlx.GetContext(ctx, q, res, q.Rebind(selectReservation+" WHERE id = ?"), id)
	if store.IsNoRows(err) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

// FindActive returns the user's active reservation for the item, or nil.
func (r *Repository) FindActive(ctx context.Context, q sqlx.ExtContext, userID, itemID uuid.UUID) (*Reservation, error) {
	res := &Reservation{}
	err := sqlx.GetContext(ctx, q, res, q.Rebind(selectReservation+" WHERE user_id = ? AND item_id = ? AND status = ?"),
		userID, itemID, string(StatusActive))
	if store.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation: %w", err)
	}
	return res, nil
}

// ActiveQueue loads the item's active reservations in serving order.
func (r *Repository) ActiveQueue(ctx context.Context, q sqlx.ExtContext, itemID uuid.UUID) (*Queue, error) {
	var entries []*Reservation
	err := sqlx.SelectContext(ctx, q, &entries, q.Rebind(selectReservation+" WHERE item_id = ? AND status = ? ORDER BY seq"),
		itemID, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	r.ordering.Sort(entries)
	return &Queue{ItemID: itemID, Entries: entries}, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*Reservation, error) {
	query := selectReservation + " WHERE user_id = ?"
	args := []interface{}{userID}
	if activeOnly {
		query += " AND status = ?"
		args = append(args, string(StatusActive))
	}
	query += " ORDER BY reserved_at DESC, seq DESC"

	var out []*Reservation
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return out, nil
}

// Update writes status and timestamps, guarded by the version res was read at.
func (r *Repository) Update(ctx context.Context, q sqlx.ExtContext, res *Reservation) error {
	result, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE reservations
		SET status = ?, notified_at = ?, closed_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), string(res.Status), res.NotifiedAt, res.ClosedAt, res.ID, res.Version)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	res.Version++
	return nil
}

// Stale returns active reservations whose holder was notified before cutoff.
func (r *Repository) Stale(ctx context.Context, cutoff time.Time) ([]*Reservation, error) {
	var out []*Reservation
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(selectReservation+`
		WHERE status = ? AND notified_at IS NOT NULL AND notified_at < ?
		ORDER BY notified_at
	`), string(StatusActive), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale reservations: %w", err)
	}
	return out, nil
}
