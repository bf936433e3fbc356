package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"campuslib/internal/membership"
)

// Login authenticates and returns a client carrying the issued token.
func (c *Client) Login(ctx context.Context, email, password string) (*Client, *membership.User, error) {
	var out struct {
		Token string           `json:"token"`
		User  *membership.User `json:"user"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", in, &out); err != nil {
		return nil, nil, err
	}
	return c.WithToken(out.Token), out.User, nil
}

func (c *Client) Register(ctx context.Context, reg membership.Registration) (*membership.User, error) {
	var u membership.User
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", reg, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	var u membership.User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/users/%s", id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser registers an account of any role. Librarians only.
func (c *Client) CreateUser(ctx context.Context, reg membership.Registration) (*membership.User, error) {
	var u membership.User
	if err := c.do(ctx, http.MethodPost, "/api/v1/users", reg, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) SetUserActive(ctx context.Context, id uuid.UUID, active bool) error {
	action := "deactivate"
	if active {
		action = "reactivate"
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/users/%s/%s", id, action), nil, nil)
}

func (c *Client) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	body := map[string]string{"current_password": current, "new_password": next}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/users/%s/password", id), body, nil)
}
