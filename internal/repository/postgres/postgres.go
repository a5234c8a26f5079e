// Package postgres implements the repository interfaces on PostgreSQL through
// pgx/v5.
//
// The schema lives in embedded golang-migrate files (migrations/*.sql) and is
// applied by Migrate, either at startup or from the `migrate` command.
//
// Error classification follows the repository contract:
//
//	pgx.ErrNoRows                 → apperror.NotFound
//	23505 unique_violation        → apperror.Conflict
//	23503 foreign_key_violation   → apperror.Conflict
//	anything else                 → wrapped and returned as is
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

// pool is the subset of *pgxpool.Pool the store uses. pgxmock's pool
// satisfies it too, which is how the unit tests run without a server.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB is a PostgreSQL-backed repository.Store.
type DB struct {
	pool pool
}

// ConnectOptions tunes the startup connection attempt.
type ConnectOptions struct {
	// MaxRetries is the number of extra ping attempts after the first.
	MaxRetries uint64
	// BaseDelay is the first backoff delay; it doubles on each retry.
	BaseDelay time.Duration
}

// DefaultConnectOptions waits roughly 15 seconds in total, which covers a
// database container that is still starting next to the server.
var DefaultConnectOptions = ConnectOptions{MaxRetries: 5, BaseDelay: 500 * time.Millisecond}

// New connects to databaseURL and waits until the server answers a ping.
func New(ctx context.Context, databaseURL string, opts ConnectOptions, logger *slog.Logger) (*DB, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	backoff := retry.WithMaxRetries(opts.MaxRetries, retry.NewExponential(opts.BaseDelay))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := p.Ping(ctx); err != nil {
			logger.Warn("postgres not ready",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres: connecting after %d attempts: %w", attempt, err)
	}

	return &DB{pool: p}, nil
}

// newWithPool wraps an existing pool. Used by tests.
func newWithPool(p pool) *DB {
	return &DB{pool: p}
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Ping checks that the database still answers.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// isConstraintViolation reports unique and foreign key violations.
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation || pgErr.Code == pgerrcode.ForeignKeyViolation
}
