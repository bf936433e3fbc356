package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/store"
)

// loanedCount counts open loans of the row's item. Availability is always
// derived from it so the loan table stays the single source of truth.
const loanedCount = `(SELECT COUNT(*) FROM loans l WHERE l.item_id = items.id AND l.returned_at IS NULL AND l.cancelled_at IS NULL)`

const selectItem = `
	SELECT id, isbn, title, author, genre, total_copies, active, version, created_at, updated_at,
	` + loanedCount + ` AS loaned
	FROM items
`

// Repository persists items. Methods take the querier so they can run inside
// a caller's transaction.
type Repository struct {
	db *store.DB
}

func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, item *Item) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO items (id, isbn, title, author, genre, total_copies, active, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), item.ID, item.ISBN, item.Title, item.Author, item.Genre, item.TotalCopies, item.Active, item.Version, item.CreatedAt, item.UpdatedAt)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateISBN
	}
	return err
}

// Get loads an item with its current availability.
func (r *Repository) Get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Item, error) {
	item := &Item{}
	err := sqlx.GetContext(ctx, q, item, q.Rebind(selectItem+" WHERE id = ?"), id)
	if store.IsNoRows(err) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item.computeAvailable()
	return item, nil
}

// Lock takes the item's row lock for the rest of the transaction.
func (r *Repository) Lock(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	found, err := store.LockRow(ctx, q, "items", id)
	if err != nil {
		return err
	}
	if !found {
		return ErrItemNotFound
	}
	return nil
}

// GetForUpdate locks the item and then loads it.
func (r *Repository) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Item, error) {
	if err := r.Lock(ctx, q, id); err != nil {
		return nil, err
	}
	return r.Get(ctx, q, id)
}

// Update writes the mutable columns, guarded by the version the item was read at.
func (r *Repository) Update(ctx context.Context, q sqlx.ExtContext, item *Item) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE items
		SET isbn = ?, title = ?, author = ?, genre = ?, total_copies = ?, active = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`), item.ISBN, item.Title, item.Author, item.Genre, item.TotalCopies, item.Active, item.UpdatedAt, item.ID, item.Version)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateISBN
	}
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	item.Version++
	return nil
}

// HasLoanHistory reports whether the item was ever lent.
func (r *Repository) HasLoanHistory(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM loans WHERE item_id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to count loans: %w", err)
	}
	return n > 0, nil
}

// Delete removes the item together with its reservation and rating rows.
func (r *Repository) Delete(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	for _, stmt := range []string{
		`DELETE FROM reservations WHERE item_id = ?`,
		`DELETE FROM ratings WHERE item_id = ?`,
		`DELETE FROM items WHERE id = ?`,
	} {
		if _, err := q.ExecContext(ctx, q.Rebind(stmt), id); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
	}
	return nil
}

// Search finds items matching filter, ordered by title.
func (r *Repository) Search(ctx context.Context, filter SearchFilter) ([]*Item, error) {
	ds := r.db.Goqu().
		From("items").
		Select(
			"id", "isbn", "title", "author", "genre", "total_copies", "active", "version", "created_at", "updated_at",
			goqu.L(loanedCount).As("loaned"),
		).
		Order(goqu.I("title").Asc(), goqu.I("id").Asc()).
		Prepared(true)

	if filter.Query != "" {
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		ds = ds.Where(goqu.Or(
			goqu.Func("LOWER", goqu.C("title")).Like(pattern),
			goqu.Func("LOWER", goqu.C("author")).Like(pattern),
			goqu.Func("LOWER", goqu.C("isbn")).Like(pattern),
		))
	}
	if filter.Author != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.C("author")).Like("%" + strings.ToLower(filter.Author) + "%"))
	}
	if filter.Genre != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.C("genre")).Eq(strings.ToLower(filter.Genre)))
	}
	if !filter.IncludeInactive {
		ds = ds.Where(goqu.C("active").Eq(true))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	ds = ds.Limit(uint(limit))

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	var items []*Item
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("database search failed: %w", err)
	}
	for _, item := range items {
		item.computeAvailable()
	}
	return items, nil
}
