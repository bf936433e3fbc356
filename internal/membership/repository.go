package membership

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/store"
)

const selectUser = `
	SELECT id, name, email, role, enrollment_id, course, department, active,
	       password_hash, password_salt, created_at, updated_at, version
	FROM users
`

// Repository persists users. Circulation and reservations read through it
// inside their own transactions.
type Repository struct {
	db *store.DB
}

func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, u *User) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO users (id, name, email, role, enrollment_id, course, department, active,
		                   password_hash, password_salt, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Name, u.Email, string(u.Role), u.EnrollmentID, u.Course, u.Department, u.Active,
		u.PasswordHash, u.Salt, u.CreatedAt, u.UpdatedAt, u.Version)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*User, error) {
	u := &User{}
	err := sqlx.GetContext(ctx, q, u, q.Rebind(selectUser+" WHERE id = ?"), id)
	if store.IsNoRows(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*User, error) {
	u := &User{}
	err := sqlx.GetContext(ctx, q, u, q.Rebind(selectUser+" WHERE email = ?"), email)
	if store.IsNoRows(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// Lock takes the user's row lock for the rest of the transaction.
func (r *Repository) Lock(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	found, err := store.LockRow(ctx, q, "users", id)
	if err != nil {
		return err
	}
	if !found {
		return ErrUserNotFound
	}
	return nil
}

// SetActive flips the active flag, guarded by the version the user was read at.
func (r *Repository) SetActive(ctx context.Context, q sqlx.ExtContext, u *User) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE users SET active = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), u.Active, u.UpdatedAt, u.ID, u.Version)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	u.Version++
	return nil
}

// SetCredential replaces the password hash, guarded by the version the user
// was read at.
func (r *Repository) SetCredential(ctx context.Context, q sqlx.ExtContext, u *User) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE users SET password_hash = ?, password_salt = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), u.PasswordHash, u.Salt, u.UpdatedAt, u.ID, u.Version)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	u.Version++
	return nil
}

func (r *Repository) List(ctx context.Context, filter UserFilter) ([]*User, error) {
	ds := r.db.Goqu().From("users").
		Select("id", "name", "email", "role", "enrollment_id", "course", "department", "active",
			"password_hash", "password_salt", "created_at", "updated_at", "version").
		Order(goqu.C("name").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if filter.Role != "" {
		ds = ds.Where(goqu.C("role").Eq(string(filter.Role)))
	}
	if filter.ActiveOnly {
		ds = ds.Where(goqu.C("active").Eq(true))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	var users []*User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
