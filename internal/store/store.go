// Package store owns the database handle shared by the domain repositories.
//
// Repositories take a sqlx.ExtContext so the same method runs against the
// pool or inside a transaction opened by InTx. Queries are written with "?"
// placeholders and passed through Rebind.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Flavor groups drivers that speak the same SQL dialect.
type Flavor int

const (
	Postgres Flavor = iota
	SQLite
)

// FlavorOf maps a database/sql driver name to its dialect.
func FlavorOf(driver string) (Flavor, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported driver %q", driver)
	}
}

// DB wraps the sqlx pool with the dialect knowledge the repositories need.
type DB struct {
	*sqlx.DB
	flavor Flavor
}

// Open connects to the database and verifies the connection.
// SQLite databases are limited to a single connection so writers serialise.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*DB, error) {
	flavor, err := FlavorOf(driver)
	if err != nil {
		return nil, err
	}

	if flavor == SQLite && driver == "sqlite" && !strings.Contains(dsn, "_pragma") {
		dsn = withSQLitePragmas(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch flavor {
	case SQLite:
		db.SetMaxOpenConns(1)
	default:
		if maxOpenConns > 0 {
			db.SetMaxOpenConns(maxOpenConns)
		}
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, flavor: flavor}, nil
}

func withSQLitePragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (db *DB) Flavor() Flavor {
	return db.flavor
}

// Goqu returns a query builder for the database dialect. Built statements
// use prepared placeholders so values travel as arguments.
func (db *DB) Goqu() goqu.DialectWrapper {
	if db.flavor == Postgres {
		return goqu.Dialect("postgres")
	}
	return goqu.Dialect("sqlite3")
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LockRow takes the row lock that serialises writers of one aggregate for the
// rest of the transaction. On SQLite a no-op update acquires the database
// write lock, which is the finest grain available.
func LockRow(ctx context.Context, q sqlx.ExtContext, table string, id interface{}) (bool, error) {
	var query string
	switch q.DriverName() {
	case "postgres", "pgx":
		query = fmt.Sprintf("SELECT 1 FROM %s WHERE id = ? FOR UPDATE", table)
		rows, err := q.QueryxContext(ctx, q.Rebind(query), id)
		if err != nil {
			return false, fmt.Errorf("lock %s row: %w", table, err)
		}
		defer rows.Close()
		found := rows.Next()
		return found, rows.Err()
	default:
		query = fmt.Sprintf("UPDATE %s SET version = version WHERE id = ?", table)
		res, err := q.ExecContext(ctx, q.Rebind(query), id)
		if err != nil {
			return false, fmt.Errorf("lock %s row: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// IsUniqueViolation reports whether err was raised by a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Now is the default clock: UTC, truncated to what every supported engine stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
