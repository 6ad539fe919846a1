// Package postgres implements the execution gateway over a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

var _ domain.ExecutionGateway = (*Gateway)(nil)

// Gateway runs statements on a Postgres operational database.
type Gateway struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// New connects a pool to dsn and returns the gateway with its close function.
func New(ctx context.Context, dsn string, timeout time.Duration, logger *slog.Logger) (*Gateway, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Gateway{pool: pool, timeout: timeout, logger: logger}, pool.Close, nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Execute implements domain.ExecutionGateway.
func (g *Gateway) Execute(ctx context.Context, stmt string) (int64, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tag, err := g.pool.Exec(ctx, stmt)
	if err != nil {
		return 0, wrapPgError("execute", err)
	}
	g.logger.Debug("statement executed", "rows", tag.RowsAffected(), "duration", time.Since(start))
	return tag.RowsAffected(), nil
}

// Count implements domain.ExecutionGateway.
func (g *Gateway) Count(ctx context.Context, tableName string) (int64, error) {
	stmt, err := ddl.CountRows(tableName)
	if err != nil {
		return 0, err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := g.pool.QueryRow(ctx, stmt).Scan(&n); err != nil {
		return 0, wrapPgError("count "+tableName, err)
	}
	return n, nil
}

// StreamRows implements domain.ExecutionGateway.
func (g *Gateway) StreamRows(ctx context.Context, tableName string) (domain.RowIterator, error) {
	stmt, err := ddl.SelectAll(tableName)
	if err != nil {
		return nil, err
	}
	return g.Query(ctx, stmt)
}

// Query implements domain.ExecutionGateway.
func (g *Gateway) Query(ctx context.Context, stmt string) (domain.RowIterator, error) {
	ctx, cancel := g.withTimeout(ctx)
	rows, err := g.pool.Query(ctx, stmt)
	if err != nil {
		cancel()
		return nil, wrapPgError("query", err)
	}
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return &rowIterator{rows: rows, cols: cols, cancel: cancel}, nil
}

// DropTable implements domain.ExecutionGateway.
func (g *Gateway) DropTable(ctx context.Context, tableName string) error {
	stmt, err := ddl.DropTable(tableName)
	if err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if _, err := g.pool.Exec(ctx, stmt); err != nil {
		return wrapPgError("drop "+tableName, err)
	}
	return nil
}

func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s: %s (%s): %w", op, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type rowIterator struct {
	rows   pgx.Rows
	cols   []string
	cancel context.CancelFunc
	values []any
	err    error
}

func (it *rowIterator) Columns() []string { return it.cols }

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	values, err := it.rows.Values()
	if err != nil {
		it.err = fmt.Errorf("scan: %w", err)
		return false
	}
	it.values = values
	return true
}

func (it *rowIterator) Values() []any { return it.values }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	it.cancel()
	return it.rows.Err()
}
