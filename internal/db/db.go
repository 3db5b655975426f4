package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"treebranchleaf/tbl/internal/repeat"
)

// DB wraps a SQLite database connection
type DB struct {
	conn *sql.DB
	Path string
}

// busyTimeoutMs is how long a writer waits for another process's lock.
const busyTimeoutMs = 5000

// OpenDB opens a SQLite database with WAL mode and foreign keys enabled,
// and creates the schema if it is missing. Transactions take the write lock
// when they begin, so concurrent writers queue instead of failing mid-way.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: pragmas stick and ":memory:" databases are shared.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for concurrent readers in other processes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	d := &DB{conn: conn, Path: path}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// querier is the part of *sql.DB and *sql.Tx that sessions use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session runs reads and writes against the database or an open
// transaction. It implements repeat.Tx.
type Session struct {
	q querier
}

var _ repeat.Tx = (*Session)(nil)

// Session returns a session outside any transaction.
func (d *DB) Session() *Session {
	return &Session{q: d.conn}
}

// WithTx runs fn in a transaction, rolling back when fn fails.
func (d *DB) WithTx(ctx context.Context, fn func(repeat.Tx) error) error {
	return d.withSession(ctx, func(s *Session) error { return fn(s) })
}

func (d *DB) withSession(ctx context.Context, fn func(*Session) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", classify(err))
	}
	if err := fn(&Session{q: tx}); err != nil {
		tx.Rollback()
		if isBusy(err) && !errors.Is(err, repeat.ErrBusy) {
			return fmt.Errorf("%w: %v", repeat.ErrBusy, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", classify(err))
	}
	return nil
}

// classify maps driver errors onto the repeat sentinel errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", repeat.ErrIDCollision, err)
	case isBusy(err):
		return fmt.Errorf("%w: %v", repeat.ErrBusy, err)
	}
	return err
}

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED, extended codes included.
func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is locked")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
