package reservation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c Cache) {
	ctx := context.Background()
	item := uuid.New()
	other := uuid.New()
	notified := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	_, ok, err := c.Get(ctx, item)
	require.NoError(t, err)
	assert.False(t, ok)

	q := &Queue{ItemID: item, Entries: []*Reservation{
		{ID: uuid.New(), UserID: uuid.New(), ItemID: item, Seq: 1, Status: StatusActive, NotifiedAt: &notified},
		{ID: uuid.New(), UserID: uuid.New(), ItemID: item, Seq: 2, Status: StatusActive},
	}}
	require.NoError(t, c.Set(ctx, q))
	require.NoError(t, c.Set(ctx, &Queue{ItemID: other}))

	got, ok, err := c.Get(ctx, item)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, q.Entries[0].ID, got.Entries[0].ID)
	assert.True(t, got.Entries[0].NotifiedAt.Equal(notified))

	require.NoError(t, c.Invalidate(ctx, item, other))
	_, ok, err = c.Get(ctx, item)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("CAMPUSLIB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAMPUSLIB_TEST_REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), addr, "", 0)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	exerciseCache(t, NewRedisCache(rdb, time.Minute))
}

func TestGuardedCacheSkipsSetsAfterInvalidation(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryCache()
	g := NewGuardedCache(inner)
	assert.Same(t, g, NewGuardedCache(g), "guards are not stacked")
	exerciseCache(t, g)

	item := uuid.New()
	stale := &Queue{ItemID: item, Entries: []*Reservation{{ID: uuid.New(), ItemID: item, Seq: 1, Status: StatusActive}}}

	gen := g.Generation(item)
	require.NoError(t, g.Invalidate(ctx, item))
	stored, err := g.SetIfCurrent(ctx, stale, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, err := inner.Get(ctx, item)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = g.SetIfCurrent(ctx, stale, g.Generation(item))
	require.NoError(t, err)
	assert.True(t, stored)
	_, ok, err = inner.Get(ctx, item)
	require.NoError(t, err)
	assert.True(t, ok)
}
