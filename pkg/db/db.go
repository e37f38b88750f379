// SPDX-License-Identifier: Apache-2.0

// Package db wraps the target PostgreSQL connection pool with the
// transient-error retry policy shared by the checkpoint store, the JSONB
// batch writer, and the logical replication coordinator.
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"

	"github.com/serenorg/seren-replicator/pkg/errs"
)

const (
	maxBackoffDuration = 2500 * time.Millisecond
	backoffInterval    = 100 * time.Millisecond
	maxRetries         = 3
)

// transientErrorCodes are the PostgreSQL error codes the engine treats as
// TransientIO (§7): lock_not_available, deadlock_detected, and
// serialization_failure.
var transientErrorCodes = map[pq.ErrorCode]struct{}{
	"55P03": {}, // lock_not_available
	"40P01": {}, // deadlock_detected
	"40001": {}, // serialization_failure
}

// DB is the subset of *sql.DB the engine depends on, so components can be
// tested against a fake without a live PostgreSQL instance.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	Close() error
}

// RDB wraps a *sql.DB and retries queries using exponential backoff on
// transient errors, classifying everything else through pkg/errs.
type RDB struct {
	Conn *sql.DB
}

func (r *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for attempt := 0; ; attempt++ {
		res, err := r.Conn.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !isTransient(err) || attempt >= maxRetries {
			return nil, classify(err)
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return nil, classify(sleepErr)
		}
	}
}

func (r *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for attempt := 0; ; attempt++ {
		rows, err := r.Conn.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if !isTransient(err) || attempt >= maxRetries {
			return nil, classify(err)
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return nil, classify(sleepErr)
		}
	}
}

func (r *RDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.Conn.QueryRowContext(ctx, query, args...)
}

// WithRetryableTransaction runs f in a transaction, retrying the whole
// transaction on a transient error.
func (r *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for attempt := 0; ; attempt++ {
		tx, err := r.Conn.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}

		err = f(ctx, tx)
		if err == nil {
			if commitErr := tx.Commit(); commitErr != nil {
				return classify(commitErr)
			}
			return nil
		}

		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return classify(rollbackErr)
		}

		if !isTransient(err) || attempt >= maxRetries {
			return err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return classify(sleepErr)
		}
	}
}

func (r *RDB) Close() error {
	return r.Conn.Close()
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		_, ok := transientErrorCodes[pqErr.Code]
		return ok
	}
	return false
}

// classify wraps a raw driver error as a TransientIO engine error when it
// matches the retryable code set, or TargetPrecondition otherwise; callers
// that already know a more specific kind should not use this helper.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return errs.Wrap(errs.TransientIO, "target database error", err)
	}
	return errs.Wrap(errs.TargetPrecondition, "target database error", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans a single row containing a single column into dest.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
