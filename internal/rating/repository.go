package rating

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/store"
)

const selectRating = `
	SELECT id, item_id, user_id, loan_id, score, comment, active, created_at, updated_at
	FROM ratings
`

type Repository struct {
	db *store.DB
}

func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, rt *Rating) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO ratings (id, item_id, user_id, loan_id, score, comment, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rt.ID, rt.ItemID, rt.UserID, rt.LoanID, rt.Score, rt.Comment, rt.Active, rt.CreatedAt, rt.UpdatedAt)
	if store.IsUniqueViolation(err) {
		return ErrAlreadyRated
	}
	if err != nil {
		return fmt.Errorf("failed to insert rating: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Rating, error) {
	rt := &Rating{}
	err := sqlx.GetContext(ctx, q, rt, q.Rebind(selectRating+" WHERE id = ?"), id)
	if store.IsNoRows(err) {
		return nil, ErrRatingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}
	return rt, nil
}

// HasActive reports whether userID already has an active rating for itemID.
func (r *Repository) HasActive(ctx context.Context, q sqlx.ExtContext, userID, itemID uuid.UUID) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`
		SELECT COUNT(*) FROM ratings WHERE user_id = ? AND item_id = ? AND active = ?
	`), userID, itemID, true)
	if err != nil {
		return false, fmt.Errorf("failed to check rating: %w", err)
	}
	return n > 0, nil
}

// Deactivate soft-deletes the rating. It reports false when it was not active.
func (r *Repository) Deactivate(ctx context.Context, q sqlx.ExtContext, rt *Rating) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE ratings SET active = ?, updated_at = ? WHERE id = ? AND active = ?
	`), false, rt.UpdatedAt, rt.ID, true)
	if err != nil {
		return false, fmt.Errorf("failed to remove rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByItem returns the active ratings of an item, newest first.
func (r *Repository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Rating, error) {
	return r.list(ctx, "item_id", itemID)
}

// ListByUser returns the active ratings a user gave, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Rating, error) {
	return r.list(ctx, "user_id", userID)
}

func (r *Repository) list(ctx context.Context, column string, id uuid.UUID) ([]*Rating, error) {
	var out []*Rating
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(selectRating+
		" WHERE "+column+" = ? AND active = ? ORDER BY created_at DESC, id"), id, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	return out, nil
}

// Totals returns the number and the score sum of an item's active ratings.
func (r *Repository) Totals(ctx context.Context, itemID uuid.UUID) (count, sum int, err error) {
	var row struct {
		Count int `db:"n"`
		Sum   int `db:"total"`
	}
	err = r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT COUNT(*) AS n, COALESCE(SUM(score), 0) AS total
		FROM ratings WHERE item_id = ? AND active = ?
	`), itemID, true)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to total ratings: %w", err)
	}
	return row.Count, row.Sum, nil
}
