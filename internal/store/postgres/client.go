// Package postgres implements the point store against PostgreSQL using
// a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/store"
)

var _ store.PointStore = (*Client)(nil)

// Config contains pool settings. The min/max sizes mirror the upstream
// ingestion deployment (5/10).
type Config struct {
	DSN            string
	MinConns       int32
	MaxConns       int32
	AcquireTimeout time.Duration
}

// Client is a pgx-backed point store.
type Client struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// New creates the pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{pool: pool, acquireTimeout: timeout}, nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// acquire obtains a connection, waiting at most the configured acquire
// timeout. Exceeding the wait maps to ErrStoreUnavailable so callers
// fail fast instead of queueing unboundedly.
func (c *Client) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()

	conn, err := c.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: pool acquire timed out after %s", store.ErrStoreUnavailable, c.acquireTimeout)
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return conn, nil
}

// SelectPoints executes a selection and scans the rows into records.
func (c *Client) SelectPoints(ctx context.Context, sel store.Selection) ([]schema.PointRecord, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sel.SQL, sel.Args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreQueryFailed, err)
	}
	defer rows.Close()

	var out []schema.PointRecord
	attrVals := make([]string, len(sel.AttrColumns))
	for rows.Next() {
		var rec schema.PointRecord
		dest := []any{&rec.ID, &rec.Lon, &rec.Lat, &rec.Capacity, &rec.Status, &rec.Year}
		for i := range attrVals {
			dest = append(dest, &attrVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", store.ErrStoreQueryFailed, err)
		}
		rec.Attributes = make(map[string]string, len(sel.AttrColumns))
		for i, col := range sel.AttrColumns {
			rec.Attributes[col] = attrVals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreQueryFailed, err)
	}
	return out, nil
}

// DistinctValues returns the sorted distinct values of one column.
func (c *Client) DistinctValues(ctx context.Context, cat schema.Category, column string) ([]string, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	sql := fmt.Sprintf(`SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL ORDER BY 1`,
		quoteIdent(column), quoteIdent(cat.Table), quoteIdent(column))
	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreQueryFailed, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: scanning value: %v", store.ErrStoreQueryFailed, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreQueryFailed, err)
	}
	return out, nil
}

func quoteIdent(ident string) string {
	out := make([]byte, 0, len(ident)+2)
	out = append(out, '"')
	for i := 0; i < len(ident); i++ {
		if ident[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, ident[i])
	}
	return string(append(out, '"'))
}
