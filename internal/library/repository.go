package library

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/store"
)

const selectLibrary = `
	SELECT id, code, name, address, phone, email, status, version, created_at, updated_at
	FROM libraries
`

// Repository persists libraries. The loan engine reads through it to check
// that the lending library is open.
type Repository struct {
	db *store.DB
}

func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, l *Library) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO libraries (id, code, name, address, phone, email, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.Code, l.Name, l.Address, l.Phone, l.Email, string(l.Status), l.Version, l.CreatedAt, l.UpdatedAt)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateLibrary
	}
	if err != nil {
		return fmt.Errorf("failed to insert library: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Library, error) {
	return r.getBy(ctx, q, "id", id)
}

func (r *Repository) GetByCode(ctx context.Context, q sqlx.ExtContext, code string) (*Library, error) {
	return r.getBy(ctx, q, "code", code)
}

func (r *Repository) GetByName(ctx context.Context, q sqlx.ExtContext, name string) (*Library, error) {
	return r.getBy(ctx, q, "name", name)
}

func (r *Repository) getBy(ctx context.Context, q sqlx.ExtContext, column string, value interface{}) (*Library, error) {
	l := &Library{}
	err := sqlx.GetContext(ctx, q, l, q.Rebind(selectLibrary+" WHERE "+column+" = ?"), value)
	if store.IsNoRows(err) {
		return nil, ErrLibraryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return l, nil
}

// List returns libraries ordered by name.
func (r *Repository) List(ctx context.Context, openOnly bool) ([]*Library, error) {
	ds := r.db.Goqu().From("libraries").
		Select("id", "code", "name", "address", "phone", "email", "status", "version", "created_at", "updated_at").
		Order(goqu.C("name").Asc()).
		Prepared(true)
	if openOnly {
		ds = ds.Where(goqu.C("status").Eq(string(StatusOpen)))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build library query: %w", err)
	}
	var out []*Library
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	return out, nil
}

// SetStatus writes the status, guarded by the version l was read at.
func (r *Repository) SetStatus(ctx context.Context, q sqlx.ExtContext, l *Library) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE libraries SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), string(l.Status), l.UpdatedAt, l.ID, l.Version)
	if err != nil {
		return fmt.Errorf("failed to update library: %w", err)
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
