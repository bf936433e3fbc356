package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"campuslib/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Aggregate types recorded in the history.
const (
	AggregateLoan        = "loan"
	AggregateReservation = "reservation"
	AggregateItem        = "item"
	AggregateUser        = "user"
	AggregateLibrary     = "library"
)

// Event is one entry of an aggregate's history.
type Event struct {
	ID            int64                  `json:"id" db:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type" db:"aggregate_type"`
	EventType     string                 `json:"event_type" db:"event_type"`
	EventData     []byte                 `json:"-" db:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"-"`
	RawMetadata   []byte                 `json:"-" db:"metadata"`
	Version       int                    `json:"version" db:"version"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// NewEvent encodes payload as the event data.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.EventData, v)
}

// MarshalJSON exposes the payload inline instead of as base64.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Data jsoniter.RawMessage `json:"data"`
	}{alias: alias(e), Data: e.EventData})
}

// EventStore is the append-only history of every aggregate.
type EventStore struct {
	db       *store.DB
	tracer   trace.Tracer
	appended metric.Int64Counter
	now      func() time.Time
}

func New(db *store.DB) *EventStore {
	appended, _ := otel.Meter("campuslib/eventstore").Int64Counter(
		"eventstore.events.appended",
		metric.WithDescription("Events appended to the history"),
	)
	return &EventStore{
		db:       db,
		tracer:   otel.Tracer("campuslib/eventstore"),
		appended: appended,
		now:      store.Now,
	}
}

// Append adds events after the aggregate's current version, inside the
// caller's transaction.
func (es *EventStore) Append(ctx context.Context, q sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, events ...Event) error {
	current, err := es.currentVersion(ctx, q, aggregateID)
	if err != nil {
		return err
	}
	return es.appendAt(ctx, q, aggregateID, aggregateType, current, events)
}

// AppendEvents atomically appends events with optimistic concurrency control
// in a transaction of its own.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	return es.db.InTx(ctx, func(tx *sqlx.Tx) error {
		current, err := es.currentVersion(ctx, tx, aggregateID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Int("actual.version", current),
				attribute.Bool("conflict.detected", true),
			)
			return ErrConcurrencyConflict
		}
		return es.appendAt(ctx, tx, aggregateID, aggregateType, expectedVersion, events)
	})
}

func (es *EventStore) appendAt(ctx context.Context, q sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	query := q.Rebind(`
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	for i, event := range events {
		version := expectedVersion + i + 1

		var metadata interface{}
		if len(event.Metadata) > 0 {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		_, err := q.ExecContext(ctx, query,
			aggregateID,
			aggregateType,
			event.EventType,
			string(event.EventData),
			metadata,
			version,
			es.now(),
		)
		if err != nil {
			if store.IsUniqueViolation(err) {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return ErrConcurrencyConflict
			}
			span.RecordError(err)
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	es.appended.Add(ctx, int64(len(events)), metric.WithAttributes(attribute.String("aggregate.type", aggregateType)))
	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents retrieves events for an aggregate, optionally bounded by toVersion.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = ?
		AND version >= ?
	`
	args := []interface{}{aggregateID, fromVersion}

	if toVersion > 0 {
		query += " AND version <= ?"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	var events []Event
	if err := es.db.SelectContext(ctx, &events, es.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	if err := decodeMetadata(events); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version for an aggregate, 0 when it has no history.
func (es *EventStore) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	version, err := es.currentVersion(ctx, es.db, aggregateID)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

func (es *EventStore) currentVersion(ctx context.Context, q sqlx.ExtContext, aggregateID uuid.UUID) (int, error) {
	var version int
	err := sqlx.GetContext(ctx, q, &version, q.Rebind(`
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = ?
	`), aggregateID)
	if err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

// StreamEvents returns a cursor-based batch of the global history for projections.
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var events []Event
	err := es.db.SelectContext(ctx, &events, es.db.Rebind(`
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`), fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	if err := decodeMetadata(events); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func decodeMetadata(events []Event) error {
	for i := range events {
		if len(events[i].RawMetadata) == 0 {
			continue
		}
		if err := json.Unmarshal(events[i].RawMetadata, &events[i].Metadata); err != nil {
			return fmt.Errorf("decode metadata of event %d: %w", events[i].ID, err)
		}
	}
	return nil
}
