// Package gateway executes compiled statements against the backing store.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

var _ domain.ExecutionGateway = (*SQL)(nil)

// SQL is an ExecutionGateway over a database/sql connection (DuckDB or SQLite).
type SQL struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewSQL creates a gateway. A zero timeout leaves statements unbounded.
func NewSQL(db *sql.DB, timeout time.Duration, logger *slog.Logger) *SQL {
	return &SQL{db: db, timeout: timeout, logger: logger}
}

func (g *SQL) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Execute runs a statement and returns the rows it affected, or 0 when the
// driver does not report it.
func (g *SQL) Execute(ctx context.Context, stmt string) (int64, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := g.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	g.logger.Debug("statement executed", "rows", n, "duration", time.Since(start))
	return n, nil
}

// Count returns the number of rows in tableName.
func (g *SQL) Count(ctx context.Context, tableName string) (int64, error) {
	stmt, err := ddl.CountRows(tableName)
	if err != nil {
		return 0, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := g.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", tableName, err)
	}
	return n, nil
}

// StreamRows iterates every row of tableName.
func (g *SQL) StreamRows(ctx context.Context, tableName string) (domain.RowIterator, error) {
	stmt, err := ddl.SelectAll(tableName)
	if err != nil {
		return nil, err
	}
	return g.Query(ctx, stmt)
}

// Query runs a statement returning rows. The statement timeout covers the
// whole iteration and is released by Close.
func (g *SQL) Query(ctx context.Context, stmt string) (domain.RowIterator, error) {
	ctx, cancel := g.withTimeout(ctx)
	rows, err := g.db.QueryContext(ctx, stmt) //nolint:rowserrcheck // checked by the iterator
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, fmt.Errorf("columns: %w", err)
	}
	return &rowIterator{rows: rows, cols: cols, cancel: cancel}, nil
}

// DropTable drops tableName if it exists.
func (g *SQL) DropTable(ctx context.Context, tableName string) error {
	stmt, err := ddl.DropTable(tableName)
	if err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if _, err := g.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop %s: %w", tableName, err)
	}
	return nil
}

type rowIterator struct {
	rows   *sql.Rows
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
	raw := make([]any, len(it.cols))
	ptrs := make([]any, len(it.cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = fmt.Errorf("scan: %w", err)
		return false
	}
	for i, v := range raw {
		if b, ok := v.([]byte); ok {
			raw[i] = string(b)
		}
	}
	it.values = raw
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
	defer it.cancel()
	return it.rows.Close()
}
