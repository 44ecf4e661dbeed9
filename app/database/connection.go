package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrPoolExhausted is returned when no connection becomes available within the
// acquire timeout. It is transient and safe to retry with backoff.
var ErrPoolExhausted = errors.New("connection pool exhausted")

const (
	DefaultMaxConns       = 10
	DefaultIdleConns      = 2
	DefaultAcquireTimeout = 5 * time.Second
)

// DB is a bounded pool of SQLite connections shared by concurrent refresh
// workers. Callers check out a connection per operation via Acquire and must
// release it on every exit path.
type DB struct {
	sql            *sql.DB
	acquireTimeout time.Duration
}

func NewConnection(path string) (*DB, error) {
	return NewConnectionWithLimits(path, DefaultMaxConns, DefaultIdleConns, DefaultAcquireTimeout)
}

func NewConnectionWithLimits(path string, maxConns, idleConns int, acquireTimeout time.Duration) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(idleConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sql: sqlDB, acquireTimeout: acquireTimeout}, nil
}

// Acquire checks out a connection, blocking until one is free or the acquire
// timeout elapses. A timed-out acquire returns ErrPoolExhausted; cancellation
// of the caller's context returns that context's error instead.
func (db *DB) Acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	defer cancel()

	conn, err := db.sql.Conn(acquireCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPoolExhausted
		}
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	// Reset stale transactional state from a previous borrower. Errors
	// when no transaction is active, which is the normal case.
	_, _ = conn.ExecContext(ctx, "ROLLBACK")

	return conn, nil
}

func (db *DB) Stats() sql.DBStats {
	return db.sql.Stats()
}

// Unwrap exposes the underlying sql.DB for the migration driver.
func (db *DB) Unwrap() *sql.DB {
	return db.sql
}

func (db *DB) Close() error {
	return db.sql.Close()
}
