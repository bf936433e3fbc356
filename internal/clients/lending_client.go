package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/audit"
	"campuslib/internal/circulation"
	"campuslib/internal/notification"
	"campuslib/internal/reservation"
	"campuslib/internal/worker"
)

// Borrow lends itemID to the caller.
func (c *Client) Borrow(ctx context.Context, itemID uuid.UUID) (*circulation.Loan, error) {
	return c.BorrowFor(ctx, uuid.Nil, itemID)
}

// BorrowFor lends itemID to userID. Only librarians may borrow for others.
func (c *Client) BorrowFor(ctx context.Context, userID, itemID uuid.UUID) (*circulation.Loan, error) {
	in := map[string]uuid.UUID{"item_id": itemID}
	if userID != uuid.Nil {
		in["user_id"] = userID
	}
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/api/v1/loans", in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) GetLoan(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/loans/%s", id), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// Renew extends a loan by days; zero uses the library default.
func (c *Client) Renew(ctx context.Context, id uuid.UUID, days int) (*circulation.Loan, error) {
	var loan circulation.Loan
	in := map[string]int{"days": days}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/loans/%s/renew", id), in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// Return closes a loan. A zero at returns it now.
func (c *Client) Return(ctx context.Context, id uuid.UUID, at time.Time, note string) (*circulation.Loan, error) {
	in := struct {
		ReturnedAt *time.Time `json:"returned_at,omitempty"`
		Note       string     `json:"note,omitempty"`
	}{Note: note}
	if !at.IsZero() {
		in.ReturnedAt = &at
	}
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/loans/%s/return", id), in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) CancelLoan(ctx context.Context, id uuid.UUID, reason string) (*circulation.Loan, error) {
	var loan circulation.Loan
	in := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/loans/%s/cancel", id), in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Loans(ctx context.Context, userID uuid.UUID, openOnly bool) ([]*circulation.Loan, error) {
	var loans []*circulation.Loan
	path := fmt.Sprintf("/api/v1/users/%s/loans?open=%t", userID, openOnly)
	if err := c.do(ctx, http.MethodGet, path, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *Client) Overdue(ctx context.Context) ([]*circulation.Loan, error) {
	var loans []*circulation.Loan
	if err := c.do(ctx, http.MethodGet, "/api/v1/loans/overdue", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *Client) LoanStats(ctx context.Context) (*circulation.Stats, error) {
	var stats circulation.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/loans/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) Reserve(ctx context.Context, itemID uuid.UUID) (*reservation.Reservation, error) {
	var res reservation.Reservation
	in := map[string]uuid.UUID{"item_id": itemID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/reservations", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CancelReservation(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/reservations/%s", id), nil, nil)
}

func (c *Client) Queue(ctx context.Context, itemID uuid.UUID) (*reservation.Queue, error) {
	var q reservation.Queue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/items/%s/reservations", itemID), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) Reservations(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*reservation.Reservation, error) {
	var list []*reservation.Reservation
	path := fmt.Sprintf("/api/v1/users/%s/reservations?active=%t", userID, activeOnly)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Notifications(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*notification.Notification, error) {
	var list []*notification.Notification
	path := fmt.Sprintf("/api/v1/users/%s/notifications?unread=%t", userID, unreadOnly)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var out struct {
		Unread int `json:"unread"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/users/%s/notifications/unread-count", userID), nil, &out); err != nil {
		return 0, err
	}
	return out.Unread, nil
}

func (c *Client) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/notifications/%s", id), nil, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/notifications/read-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *Client) Audit(ctx context.Context) (*audit.Report, error) {
	var report audit.Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/audit", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) Sweep(ctx context.Context) ([]worker.TaskResult, error) {
	var results []worker.TaskResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/sweep", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}
