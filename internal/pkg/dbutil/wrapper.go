// Package dbutil wraps database/sql calls with timeouts, transactions and
// retry on SQLite lock contention.
package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ollamachat/internal/domain/apperr"
)

// TxOptions represents transaction options
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
}

// DefaultTxOptions provides sensible transaction defaults
var DefaultTxOptions = TxOptions{
	Isolation: sql.LevelDefault,
	Timeout:   10 * time.Second,
}

// DB is the subset of *sql.DB the wrapper needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
}

// TxFunc operates within a transaction
type TxFunc func(tx *sql.Tx) error

// Wrapper applies a default timeout to every statement.
type Wrapper struct {
	db      DB
	timeout time.Duration
}

// NewWrapper creates a new database wrapper
func NewWrapper(db DB, timeout time.Duration) *Wrapper {
	if timeout <= 0 {
		timeout = DefaultTxOptions.Timeout
	}
	return &Wrapper{db: db, timeout: timeout}
}

// WithTransaction runs fn in a transaction, rolling back on error. Lock
// contention is reported as apperr.ErrStoreContention.
func (w *Wrapper) WithTransaction(ctx context.Context, fn TxFunc, opts ...TxOptions) error {
	options := DefaultTxOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	if options.Timeout <= 0 {
		options.Timeout = w.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{Isolation: options.Isolation, ReadOnly: options.ReadOnly})
	if err != nil {
		return MapError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return MapError(fmt.Errorf("transaction failed: %v, rollback also failed: %w", err, rbErr))
		}
		return MapError(fmt.Errorf("transaction rolled back: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return MapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Exec runs a write statement with the wrapper timeout.
func (w *Wrapper) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res, err := w.db.ExecContext(ctx, query, args...)
	return res, MapError(err)
}

// Query runs fn over the rows of a read query. Rows are closed afterwards.
func (w *Wrapper) Query(ctx context.Context, fn func(*sql.Rows) error, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return MapError(rows.Err())
}

// QueryRow scans a single row into dest. sql.ErrNoRows is returned unchanged.
func (w *Wrapper) QueryRow(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return MapError(w.db.QueryRowContext(ctx, query, args...).Scan(dest...))
}

// Ping checks database connectivity with the wrapper timeout.
func (w *Wrapper) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return w.db.PingContext(ctx)
}

// SaveWithRetry retries fn on lock contention with linear backoff.
func (w *Wrapper) SaveWithRetry(ctx context.Context, fn TxFunc, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := w.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
			}
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

var retryableMessages = []string{
	"database is locked",
	"database is busy",
	"database table is locked",
	"cannot start a transaction within a transaction",
}

// IsRetryable reports whether err is transient SQLite contention.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperr.ErrStoreContention) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// MapError tags contention errors with apperr.ErrStoreContention so the
// services above can retry without knowing the driver.
func MapError(err error) error {
	if err == nil || errors.Is(err, apperr.ErrStoreContention) {
		return err
	}
	if IsRetryable(err) {
		return fmt.Errorf("%w: %v", apperr.ErrStoreContention, err)
	}
	return err
}
