package store

import (
	"context"
	"fmt"
	"strings"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL,
	enrollment_id TEXT NOT NULL DEFAULT '',
	course        TEXT NOT NULL DEFAULT '',
	department    TEXT NOT NULL DEFAULT '',
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	password_hash TEXT NOT NULL,
	password_salt TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	version       INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS items (
	id           UUID PRIMARY KEY,
	isbn         TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	author       TEXT NOT NULL,
	genre        TEXT NOT NULL,
	total_copies INT NOT NULL CHECK (total_copies >= 0),
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	version      INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS loans (
	id                  UUID PRIMARY KEY,
	user_id             UUID NOT NULL REFERENCES users(id),
	item_id             UUID NOT NULL REFERENCES items(id),
	library_id          TEXT NOT NULL,
	borrowed_at         TIMESTAMPTZ NOT NULL,
	due_at              TIMESTAMPTZ NOT NULL,
	returned_at         TIMESTAMPTZ,
	cancelled_at        TIMESTAMPTZ,
	status              TEXT NOT NULL,
	renewal_count       INT NOT NULL DEFAULT 0,
	max_renewals        INT NOT NULL,
	fine                NUMERIC(10,2) NOT NULL DEFAULT 0,
	notes               TEXT NOT NULL DEFAULT '',
	reminded_at         TIMESTAMPTZ,
	overdue_notified_at TIMESTAMPTZ,
	version             INT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_loans_item_open ON loans (item_id) WHERE returned_at IS NULL AND cancelled_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_loans_user ON loans (user_id);

CREATE TABLE IF NOT EXISTS reservations (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL REFERENCES users(id),
	item_id     UUID NOT NULL REFERENCES items(id),
	priority    INT NOT NULL DEFAULT 0,
	reserved_at TIMESTAMPTZ NOT NULL,
	seq         BIGINT NOT NULL,
	status      TEXT NOT NULL,
	notified_at TIMESTAMPTZ,
	closed_at   TIMESTAMPTZ,
	version     INT NOT NULL DEFAULT 1,
	UNIQUE (item_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_one_active ON reservations (user_id, item_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS notifications (
	id         UUID PRIMARY KEY,
	user_id    UUID NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	item_id    UUID,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	read_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at);

CREATE TABLE IF NOT EXISTS ratings (
	id         UUID PRIMARY KEY,
	item_id    UUID NOT NULL REFERENCES items(id),
	user_id    UUID NOT NULL REFERENCES users(id),
	loan_id    UUID,
	score      INT NOT NULL CHECK (score BETWEEN 1 AND 5),
	comment    TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ratings_one_active ON ratings (user_id, item_id) WHERE active;

CREATE TABLE IF NOT EXISTS libraries (
	id         UUID PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL UNIQUE,
	address    TEXT NOT NULL,
	phone      TEXT NOT NULL,
	email      TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_id   UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     JSONB NOT NULL,
	metadata       JSONB,
	version        INT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (aggregate_id, version)
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL,
	enrollment_id TEXT NOT NULL DEFAULT '',
	course        TEXT NOT NULL DEFAULT '',
	department    TEXT NOT NULL DEFAULT '',
	active        BOOLEAN NOT NULL DEFAULT 1,
	password_hash TEXT NOT NULL,
	password_salt TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	isbn         TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	author       TEXT NOT NULL,
	genre        TEXT NOT NULL,
	total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
	active       BOOLEAN NOT NULL DEFAULT 1,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS loans (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL REFERENCES users(id),
	item_id             TEXT NOT NULL REFERENCES items(id),
	library_id          TEXT NOT NULL,
	borrowed_at         TIMESTAMP NOT NULL,
	due_at              TIMESTAMP NOT NULL,
	returned_at         TIMESTAMP,
	cancelled_at        TIMESTAMP,
	status              TEXT NOT NULL,
	renewal_count       INTEGER NOT NULL DEFAULT 0,
	max_renewals        INTEGER NOT NULL,
	fine                TEXT NOT NULL DEFAULT '0',
	notes               TEXT NOT NULL DEFAULT '',
	reminded_at         TIMESTAMP,
	overdue_notified_at TIMESTAMP,
	version             INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_loans_item_open ON loans (item_id) WHERE returned_at IS NULL AND cancelled_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_loans_user ON loans (user_id);

CREATE TABLE IF NOT EXISTS reservations (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	item_id     TEXT NOT NULL REFERENCES items(id),
	priority    INTEGER NOT NULL DEFAULT 0,
	reserved_at TIMESTAMP NOT NULL,
	seq         INTEGER NOT NULL,
	status      TEXT NOT NULL,
	notified_at TIMESTAMP,
	closed_at   TIMESTAMP,
	version     INTEGER NOT NULL DEFAULT 1,
	UNIQUE (item_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_one_active ON reservations (user_id, item_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	item_id    TEXT,
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	read_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at);

CREATE TABLE IF NOT EXISTS ratings (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	loan_id    TEXT,
	score      INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
	comment    TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ratings_one_active ON ratings (user_id, item_id) WHERE active = 1;

CREATE TABLE IF NOT EXISTS libraries (
	id         TEXT PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL UNIQUE,
	address    TEXT NOT NULL,
	phone      TEXT NOT NULL,
	email      TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	aggregate_id   TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     TEXT NOT NULL,
	metadata       TEXT,
	version        INTEGER NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE (aggregate_id, version)
);
`

// Migrate creates the schema if it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if db.flavor == SQLite {
		schema = sqliteSchema
	}

	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
