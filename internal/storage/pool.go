// Package storage provides the PostgreSQL store adapter for turno.
//
// It manages connection pooling (via pgxpool), a dedicated connection for
// LISTEN/NOTIFY (direct to Postgres), the ticket/agent/derivation tables, and
// the change feed that turns row-level notifications into full snapshots for
// subscribers.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/turno/internal/audit"
	"github.com/ashita-ai/turno/internal/notify"
	"github.com/ashita-ai/turno/internal/store"
)

// DB wraps a pgxpool.Pool for normal queries and a dedicated pgx.Conn for
// LISTEN/NOTIFY (direct to Postgres).
type DB struct {
	pool      *pgxpool.Pool
	notifyDSN string
	logger    *slog.Logger

	notifyMu   sync.Mutex
	notifyConn *pgx.Conn
	listening  map[string]struct{}

	loc              *time.Location
	defaultQueueSize int

	subs *subscribers
}

var (
	_ store.Store        = (*DB)(nil)
	_ store.LegacyLister = (*DB)(nil)
	_ audit.Sink         = (*DB)(nil)
	_ notify.Publisher   = (*DB)(nil)
)

// Option configures a DB.
type Option func(*DB)

// WithLocation sets the time zone that decides the service day for ticket
// numbering. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(db *DB) {
		if loc != nil {
			db.loc = loc
		}
	}
}

// WithDefaultQueueSize sets the personal queue limit for new agents that do
// not specify one.
func WithDefaultQueueSize(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.defaultQueueSize = n
		}
	}
}

// New creates a new DB with a connection pool.
// poolDSN may point to a pooler (or directly to Postgres in dev).
// notifyDSN must point directly to Postgres for LISTEN/NOTIFY support; when
// empty, the change feed is unavailable.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger, opts ...Option) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, mapErr("ping pool", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, mapErr("connect notify", err)
		}
	}

	db := &DB{
		pool:             pool,
		notifyDSN:        notifyDSN,
		notifyConn:       notifyConn,
		listening:        make(map[string]struct{}),
		logger:           logger,
		loc:              time.UTC,
		defaultQueueSize: 5,
		subs:             newSubscribers(),
	}
	for _, fn := range opts {
		fn(db)
	}
	return db, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return mapErr("ping", err)
	}
	return nil
}

// Close shuts down the connection pool and notify connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	db.notifyMu.Lock()
	conn := db.notifyConn
	db.notifyConn = nil
	db.notifyMu.Unlock()
	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			db.logger.Warn("storage: close notify connection", "error", err)
		}
	}
}
