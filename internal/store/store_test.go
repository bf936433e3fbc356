package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuslib/internal/store"
	"campuslib/internal/store/storetest"
)

func insertItem(t *testing.T, q sqlx.ExtContext, id uuid.UUID, isbn string) error {
	t.Helper()
	now := store.Now()
	_, err := q.ExecContext(context.Background(), q.Rebind(`
		INSERT INTO items (id, isbn, title, author, genre, total_copies, active, created_at, updated_at, version)
		VALUES (?, ?, 'Title', 'Author', 'Genre', 1, ?, ?, ?, 1)`),
		id, isbn, true, now, now)
	return err
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := storetest.New(t)
	require.NoError(t, db.Migrate(context.Background()))
	assert.Equal(t, store.SQLite, db.Flavor())
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	id := uuid.New()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		require.NoError(t, insertItem(t, tx, id, "1234567890"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.GetContext(ctx, &n, db.Rebind("SELECT COUNT(*) FROM items WHERE id = ?"), id))
	assert.Zero(t, n)
}

func TestLockRowReportsMissingRows(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, insertItem(t, db, id, "1234567890"))

	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		found, err := store.LockRow(ctx, tx, "items", id)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = store.LockRow(ctx, tx, "items", uuid.New())
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	db := storetest.New(t)
	require.NoError(t, insertItem(t, db, uuid.New(), "1234567890"))

	err := insertItem(t, db, uuid.New(), "1234567890")
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))
	assert.False(t, store.IsUniqueViolation(errors.New("other")))
	assert.False(t, store.IsUniqueViolation(nil))
}

func TestTimestampsRoundTrip(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, insertItem(t, db, id, "1234567890"))

	var created time.Time
	require.NoError(t, db.GetContext(ctx, &created, db.Rebind("SELECT created_at FROM items WHERE id = ?"), id))
	assert.WithinDuration(t, store.Now(), created, time.Minute)
}

func TestFlavorOf(t *testing.T) {
	f, err := store.FlavorOf("pgx")
	require.NoError(t, err)
	assert.Equal(t, store.Postgres, f)

	_, err = store.FlavorOf("oracle")
	assert.Error(t, err)
}
