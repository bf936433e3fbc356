package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"campuslib/internal/catalog"
	"campuslib/internal/rating"
)

func (c *Client) GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	var item catalog.Item
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/items/%s", id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]*catalog.Item, error) {
	var items []*catalog.Item
	path := "/api/v1/items?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) AddItem(ctx context.Context, in catalog.NewItem) (*catalog.Item, error) {
	var item catalog.Item
	if err := c.do(ctx, http.MethodPost, "/api/v1/items", in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) SetCopies(ctx context.Context, id uuid.UUID, total int) (*catalog.Item, error) {
	var item catalog.Item
	in := map[string]int{"total_copies": total}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/items/%s/copies", id), in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) Rate(ctx context.Context, itemID uuid.UUID, in rating.NewRating) (*rating.Rating, error) {
	var r rating.Rating
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/items/%s/ratings", itemID), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) RatingSummary(ctx context.Context, itemID uuid.UUID) (*rating.Summary, error) {
	var s rating.Summary
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/items/%s/rating", itemID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
