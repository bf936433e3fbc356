package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuslib/internal/store"
)

// Repository persists the notification inbox.
type Repository struct {
	db *store.DB
}

func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores n. Inserting an id that already exists is a no-op, so a
// redelivered message does not duplicate the inbox entry.
func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO notifications (id, user_id, type, title, message, item_id, status, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.ItemID, string(n.Status), n.CreatedAt, n.ReadAt)
	if store.IsUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n := &Notification{}
	err := r.db.GetContext(ctx, n, r.db.Rebind(`
		SELECT id, user_id, type, title, message, item_id, status, created_at, read_at
		FROM notifications WHERE id = ?
	`), id)
	if store.IsNoRows(err) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// List returns the user's notifications, newest first. Archived entries are
// left out.
func (r *Repository) List(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, item_id, status, created_at, read_at
		FROM notifications
		WHERE user_id = ? AND status <> ?
	`
	args := []interface{}{userID, string(StatusArchived)}
	if unreadOnly {
		query += " AND status = ?"
		args = append(args, string(StatusUnread))
	}
	query += " ORDER BY created_at DESC, id"

	var out []*Notification
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// SetStatus moves one notification to status. It reports false when the id
// does not exist.
func (r *Repository) SetStatus(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, status Status, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE notifications SET status = ?, read_at = COALESCE(read_at, ?) WHERE id = ?
	`), string(status), at, id)
	if err != nil {
		return false, fmt.Errorf("failed to update notification: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkAllRead marks every unread notification of the user as read.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE notifications SET status = ?, read_at = ? WHERE user_id = ? AND status = ?
	`), string(StatusRead), at, userID, string(StatusUnread))
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// CountUnread counts the user's unread notifications.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = ?
	`), userID, string(StatusUnread))
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return n, nil
}

// Delete removes one notification. It reports false when the id does not exist.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM notifications WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete notification: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
