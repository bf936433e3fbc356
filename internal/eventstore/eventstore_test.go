package eventstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuslib/internal/store/storetest"
)

type testPayload struct {
	Message string `json:"message"`
}

func mustEvent(t testing.TB, eventType, msg string) Event {
	t.Helper()
	e, err := NewEvent(eventType, testPayload{Message: msg})
	require.NoError(t, err)
	return e
}

func TestAppendAndLoad(t *testing.T) {
	es := New(storetest.New(t))
	ctx := context.Background()
	id := uuid.New()

	first := mustEvent(t, "LoanBorrowed", "first")
	first.Metadata = map[string]interface{}{"actor": "desk-1"}
	require.NoError(t, es.AppendEvents(ctx, id, AggregateLoan, 0, []Event{first}))
	require.NoError(t, es.AppendEvents(ctx, id, AggregateLoan, 1, []Event{
		mustEvent(t, "LoanRenewed", "second"),
		mustEvent(t, "LoanReturned", "third"),
	}))

	events, err := es.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Version, events[1].Version, events[2].Version})
	assert.Equal(t, "LoanReturned", events[2].EventType)
	assert.Equal(t, "desk-1", events[0].Metadata["actor"])

	var p testPayload
	require.NoError(t, events[1].Decode(&p))
	assert.Equal(t, "second", p.Message)

	bounded, err := es.LoadEvents(ctx, id, 2, 2)
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, "LoanRenewed", bounded[0].EventType)

	version, err := es.CurrentVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestAppendEventsDetectsStaleVersion(t *testing.T) {
	es := New(storetest.New(t))
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, es.AppendEvents(ctx, id, AggregateItem, 0, []Event{mustEvent(t, "ItemAdded", "a")}))

	err := es.AppendEvents(ctx, id, AggregateItem, 0, []Event{mustEvent(t, "ItemAdded", "again")})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	assert.ErrorIs(t, es.AppendEvents(ctx, id, AggregateItem, -1, nil), ErrInvalidVersion)
}

func TestAppendInsideCallerTransaction(t *testing.T) {
	db := storetest.New(t)
	es := New(db)
	ctx := context.Background()
	id := uuid.New()

	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := es.Append(ctx, tx, id, AggregateReservation, mustEvent(t, "ReservationPlaced", "x")); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	events, err := es.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "rolled back transaction must not leave history")

	require.NoError(t, db.InTx(ctx, func(tx *sqlx.Tx) error {
		return es.Append(ctx, tx, id, AggregateReservation, mustEvent(t, "ReservationPlaced", "x"))
	}))
	require.NoError(t, db.InTx(ctx, func(tx *sqlx.Tx) error {
		return es.Append(ctx, tx, id, AggregateReservation, mustEvent(t, "ReservationCancelled", "y"))
	}))

	events, err = es.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].Version)
}

func TestStreamEvents(t *testing.T) {
	es := New(storetest.New(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, es.AppendEvents(ctx, uuid.New(), AggregateUser, 0, []Event{mustEvent(t, "UserRegistered", fmt.Sprint(i))}))
	}

	batch, err := es.StreamEvents(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	rest, err := es.StreamEvents(ctx, batch[2].ID, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestEventJSONInlinesPayload(t *testing.T) {
	e := mustEvent(t, "LoanBorrowed", "hello")
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"data":{"message":"hello"}`)
	assert.Contains(t, string(raw), `"event_type":"LoanBorrowed"`)
}

func BenchmarkAppendEvents(b *testing.B) {
	store := New(storetest.Postgres(b))

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		aggregateID := uuid.New()
		events := []Event{mustEvent(b, "TestEvent", fmt.Sprintf("event %d", i))}
		b.StartTimer()

		if err := store.AppendEvents(context.Background(), aggregateID, "test_aggregate", 0, events); err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	store := New(storetest.Postgres(b))

	aggregateID := uuid.New()
	for i := 0; i < 10; i++ {
		events := []Event{mustEvent(b, "TestEvent", fmt.Sprintf("event %d", i))}
		if err := store.AppendEvents(context.Background(), aggregateID, "test_aggregate", i, events); err != nil {
			b.Fatalf("failed to setup events for benchmark: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := store.LoadEvents(context.Background(), aggregateID, 0, 0); err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}
