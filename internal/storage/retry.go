package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxWriteRetries = 3
	retryBaseDelay  = 10 * time.Millisecond
)

// conflictCodes are the Postgres errors that mean "another writer got there
// first, run it again": the day-counter upsert and the counter deltas are the
// hot spots under concurrent ticket creation and completion.
var conflictCodes = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// conflictCode returns the condition name when err is a retriable write conflict.
func conflictCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	name, ok := conflictCodes[pgErr.Code]
	return name, ok
}

// retryWrite runs fn, re-running it on write conflicts with jittered
// exponential backoff. Any other error, or the last conflict, is returned as is.
func (db *DB) retryWrite(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		name, conflict := conflictCode(err)
		if err == nil || !conflict || attempt == maxWriteRetries {
			return err
		}
		db.logger.Debug("storage: write conflict, retrying", "op", op, "condition", name, "attempt", attempt+1)
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}

// inTx runs fn in a transaction through retryWrite. fn may run more than once.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	return db.retryWrite(ctx, op, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, db.pool, fn)
	})
}
