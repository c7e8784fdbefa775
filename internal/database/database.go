// Package database wraps sqlx access to the Postgres-backed chunk and
// conversation storage (spec §6 storage schema).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/S-Corkum/ragcore/internal/observability"
)

// Sentinel domain errors, translated from driver-specific errors by
// TranslateError so callers never branch on *pq.Error directly.
var (
	ErrNotFound      = errors.New("database: not found")
	ErrDuplicate     = errors.New("database: duplicate")
	ErrValidation    = errors.New("database: validation failed")
	ErrOptimisticLock = errors.New("database: optimistic lock conflict")
)

// Config configures the connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	MaxRetries      int
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// DB wraps a *sqlx.DB with prepared-statement caching, query timeouts, retry,
// and error translation shared by every repository in this module.
type DB struct {
	conn *sqlx.DB
	tx   *sqlx.Tx

	logger  observability.Logger
	metrics observability.MetricsClient

	stmtCache   map[string]*sqlx.NamedStmt
	stmtCacheMu sync.RWMutex

	queryTimeout time.Duration
	maxRetries   int
}

// Open connects to Postgres and verifies it with a bounded ping.
func Open(ctx context.Context, cfg Config, logger observability.Logger, metrics observability.MetricsClient) (*DB, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres connection")
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}

	return &DB{
		conn:         conn,
		logger:       logger,
		metrics:      metrics,
		stmtCache:    make(map[string]*sqlx.NamedStmt),
		queryTimeout: cfg.QueryTimeout,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

// NewFromConn wraps an already-open *sqlx.DB, used in tests against sqlmock.
func NewFromConn(conn *sqlx.DB, logger observability.Logger, metrics observability.MetricsClient) *DB {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &DB{
		conn:         conn,
		logger:       logger,
		metrics:      metrics,
		stmtCache:    make(map[string]*sqlx.NamedStmt),
		queryTimeout: 30 * time.Second,
		maxRetries:   3,
	}
}

// Conn exposes the raw handle (or the active transaction, if WithTx produced
// this DB) for repositories issuing sqlx queries directly.
func (d *DB) Conn() sqlx.ExtContext {
	if d.tx != nil {
		return d.tx
	}
	return d.conn
}

// WithTx returns a derived DB bound to tx, sharing the statement cache.
func (d *DB) WithTx(tx *sqlx.Tx) *DB {
	return &DB{
		conn:         d.conn,
		tx:           tx,
		logger:       d.logger,
		metrics:      d.metrics,
		stmtCache:    d.stmtCache,
		queryTimeout: d.queryTimeout,
		maxRetries:   d.maxRetries,
	}
}

// Transaction runs fn within a committed-or-rolled-back transaction.
func (d *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	timer := time.Now()
	defer func() {
		d.metrics.RecordDuration("database.transaction_duration_seconds", time.Since(timer).Seconds())
	}()

	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		d.metrics.IncrementCounter("database.transaction_errors", 1)
		return errors.Wrap(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(d.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("rollback failed", map[string]interface{}{"error": rbErr.Error()})
		}
		d.metrics.IncrementCounter("database.transaction_rollbacks", 1)
		return err
	}

	if err := tx.Commit(); err != nil {
		d.metrics.IncrementCounter("database.transaction_errors", 1)
		return errors.Wrap(err, "commit transaction")
	}
	d.metrics.IncrementCounter("database.transaction_commits", 1)
	return nil
}

// PreparedNamed returns a cached named statement, preparing it on first use.
func (d *DB) PreparedNamed(name, query string) (*sqlx.NamedStmt, error) {
	d.stmtCacheMu.RLock()
	stmt, ok := d.stmtCache[name]
	d.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	d.stmtCacheMu.Lock()
	defer d.stmtCacheMu.Unlock()
	if stmt, ok := d.stmtCache[name]; ok {
		return stmt, nil
	}
	stmt, err := d.conn.PrepareNamed(query)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare statement %s", name)
	}
	d.stmtCache[name] = stmt
	return stmt, nil
}

// WithTimeout runs fn with a query-level deadline and classifies failures
// into metrics labels.
func (d *DB) WithTimeout(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	d.metrics.RecordDuration(fmt.Sprintf("database.query_duration.%s", operation), time.Since(start).Seconds())
	if err != nil {
		d.metrics.IncrementCounterWithLabels("database.query_errors", 1, map[string]string{
			"operation": operation,
			"class":     classifyError(err),
		})
		return err
	}
	d.metrics.IncrementCounterWithLabels("database.query_success", 1, map[string]string{"operation": operation})
	return nil
}

// WithRetry retries fn up to maxRetries times with linear backoff, stopping
// immediately on non-retriable domain errors.
func (d *DB) WithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		err := d.WithTimeout(ctx, operation, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrValidation) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn("retrying query", map[string]interface{}{"operation": operation, "attempt": attempt + 1, "error": err.Error()})
		backoff := time.Duration(attempt+1) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(lastErr, "query %s failed after %d attempts", operation, d.maxRetries)
}

// TranslateError maps driver errors onto the package's domain error taxonomy
// (spec §7 error handling design).
func TranslateError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return errors.Wrap(ErrValidation, "foreign key constraint violation")
		case "23502":
			return errors.Wrap(ErrValidation, "required field missing")
		case "23514":
			return errors.Wrapf(ErrValidation, "check constraint violation: %s", pqErr.Constraint)
		case "40001":
			return ErrOptimisticLock
		}
	}
	return errors.Wrapf(err, "database error for %s", entity)
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrOptimisticLock):
		return "optimistic_lock"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return string(pqErr.Code)
	}
	return "unknown"
}

// Close releases prepared statements and the underlying pool.
func (d *DB) Close() error {
	d.stmtCacheMu.Lock()
	defer d.stmtCacheMu.Unlock()
	for _, stmt := range d.stmtCache {
		_ = stmt.Close()
	}
	d.stmtCache = make(map[string]*sqlx.NamedStmt)
	return d.conn.Close()
}
