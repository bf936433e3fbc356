package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"campuslib/internal/library"
)

func (c *Client) Libraries(ctx context.Context, openOnly bool) ([]*library.Library, error) {
	var list []*library.Library
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/libraries?open=%t", openOnly), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// FindLibrary looks a library up by its exact name.
func (c *Client) FindLibrary(ctx context.Context, name string) (*library.Library, error) {
	var list []*library.Library
	if err := c.do(ctx, http.MethodGet, "/api/v1/libraries?name="+url.QueryEscape(name), nil, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("library %q not found", name)
	}
	return list[0], nil
}

func (c *Client) CreateLibrary(ctx context.Context, in library.NewLibrary) (*library.Library, error) {
	var l library.Library
	if err := c.do(ctx, http.MethodPost, "/api/v1/libraries", in, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) SetLibraryStatus(ctx context.Context, id uuid.UUID, status library.Status) (*library.Library, error) {
	var l library.Library
	body := map[string]library.Status{"status": status}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/libraries/%s/status", id), body, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
