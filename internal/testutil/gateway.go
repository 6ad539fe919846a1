package testutil

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

var (
	createTableRe = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+"([^"]+)"`)
	deleteFromRe  = regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\s+"([^"]+)"`)
)

// FakeGateway is an in-memory domain.ExecutionGateway. It tracks tables
// created by CREATE TABLE "name" statements and reports configured counts.
type FakeGateway struct {
	// Rows is the count reported for a table after it is created.
	Rows map[string]int64
	// CleanedRows, when set for a table, replaces its count after a DELETE.
	CleanedRows map[string]int64
	// ExecuteErr, when it returns an error, fails the statement.
	ExecuteErr func(stmt string) error
	// DropErr, when it returns an error, fails the drop.
	DropErr func(table string) error
	// QueryFn answers Query and StreamRows. Defaults to an empty result.
	QueryFn func(stmt string) (domain.RowIterator, error)

	mu         sync.Mutex
	tables     map[string]bool
	statements []string
	dropped    []string
}

var _ domain.ExecutionGateway = (*FakeGateway)(nil)

// NewFakeGateway creates a FakeGateway reporting rows per table.
func NewFakeGateway(rows map[string]int64) *FakeGateway {
	if rows == nil {
		rows = make(map[string]int64)
	}
	return &FakeGateway{Rows: rows, CleanedRows: make(map[string]int64), tables: make(map[string]bool)}
}

// Execute implements domain.ExecutionGateway.
func (g *FakeGateway) Execute(ctx context.Context, stmt string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statements = append(g.statements, stmt)

	if g.ExecuteErr != nil {
		if err := g.ExecuteErr(stmt); err != nil {
			return 0, err
		}
	}
	if m := createTableRe.FindStringSubmatch(stmt); m != nil {
		g.tables[m[1]] = true
		return g.Rows[m[1]], nil
	}
	if m := deleteFromRe.FindStringSubmatch(stmt); m != nil {
		before := g.Rows[m[1]]
		if after, ok := g.CleanedRows[m[1]]; ok {
			g.Rows[m[1]] = after
			return before - after, nil
		}
	}
	return 0, nil
}

// Count implements domain.ExecutionGateway.
func (g *FakeGateway) Count(_ context.Context, tableName string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.tables[tableName] {
		return 0, fmt.Errorf("table %s does not exist", tableName)
	}
	return g.Rows[tableName], nil
}

// StreamRows implements domain.ExecutionGateway.
func (g *FakeGateway) StreamRows(ctx context.Context, tableName string) (domain.RowIterator, error) {
	return g.Query(ctx, `SELECT * FROM "`+tableName+`"`)
}

// Query implements domain.ExecutionGateway.
func (g *FakeGateway) Query(_ context.Context, stmt string) (domain.RowIterator, error) {
	g.mu.Lock()
	g.statements = append(g.statements, stmt)
	g.mu.Unlock()
	if g.QueryFn != nil {
		return g.QueryFn(stmt)
	}
	return &SliceIterator{}, nil
}

// DropTable implements domain.ExecutionGateway.
func (g *FakeGateway) DropTable(_ context.Context, tableName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DropErr != nil {
		if err := g.DropErr(tableName); err != nil {
			return err
		}
	}
	g.dropped = append(g.dropped, tableName)
	delete(g.tables, tableName)
	return nil
}

// Tables returns the existing tables, sorted.
func (g *FakeGateway) Tables() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.tables))
	for t := range g.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dropped returns the dropped tables in drop order.
func (g *FakeGateway) Dropped() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dropped...)
}

// Statements returns every executed statement in order.
func (g *FakeGateway) Statements() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.statements...)
}

// SliceIterator is a domain.RowIterator over fixed rows.
type SliceIterator struct {
	Cols []string
	Rows [][]any

	pos    int
	closed bool
}

func (it *SliceIterator) Columns() []string { return it.Cols }

func (it *SliceIterator) Next() bool {
	if it.closed || it.pos >= len(it.Rows) {
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Values() []any { return it.Rows[it.pos-1] }

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Close() error {
	it.closed = true
	return nil
}
