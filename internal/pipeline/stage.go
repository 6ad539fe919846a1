package pipeline

import (
	"strings"
	"sync"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/sqltemplate"
)

// BindTableName is the binding holding the quoted name of the table a stage creates.
const BindTableName = "tableName"

// Params are the template inputs of one stage.
type Params struct {
	Bindings   map[string]string
	Groups     map[string]bool
	Injections []sqltemplate.Injection
}

// Stage builds the table of one sheet.
type Stage struct {
	Sheet string
	// Query is the template name; defaults to the lower-cased sheet.
	Query     string
	DependsOn []string
	// Intermediate stages feed later stages and are always kept raw.
	Intermediate bool
	Params       func(*RunState) (Params, error)

	// Columns whose distinct values are recorded by aggregations.
	AnalyzeColumns []string
	// Columns marking the sheet as spatial when the strata has a space column.
	SpatialColumns []string
}

// QueryName returns the template name of the stage.
func (s Stage) QueryName() string {
	if s.Query != "" {
		return s.Query
	}
	return strings.ToLower(s.Sheet)
}

// FormatSpec declares how a format builds its sheets.
type FormatSpec struct {
	Format domain.Format
	// Prefix of the staging table names, e.g. "ext_rdb_".
	Prefix string
	// Parents are searched for templates after the format itself, in order.
	Parents []domain.Format
	// Queries renames template queries for this version.
	Queries map[string]string
	// Inputs are sheets produced outside this spec that stages may depend on.
	Inputs []string
	Stages []Stage
}

// Lookup returns the template fallback chain of the format.
func (f *FormatSpec) Lookup() []sqltemplate.Location {
	out := make([]sqltemplate.Location, 0, 1+len(f.Parents))
	out = append(out, sqltemplate.Location{Format: f.Format.Label, Version: f.Format.Version})
	for _, p := range f.Parents {
		out = append(out, sqltemplate.Location{Format: p.Label, Version: p.Version})
	}
	return out
}

// QueryName applies the version-specific query renames.
func (f *FormatSpec) QueryName(query string) string {
	if q, ok := f.Queries[query]; ok {
		return q
	}
	return query
}

// Stage returns the stage building sheet.
func (f *FormatSpec) Stage(sheet string) (Stage, bool) {
	for _, st := range f.Stages {
		if strings.EqualFold(st.Sheet, sheet) {
			return st, true
		}
	}
	return Stage{}, false
}

// Sheets returns the sheets a client may read, in stage order.
func (f *FormatSpec) Sheets() []string {
	var out []string
	for _, st := range f.Stages {
		if !st.Intermediate {
			out = append(out, st.Sheet)
		}
	}
	return out
}

// HasSheet reports whether sheet is one of Sheets. Intermediate stages do
// not count.
func (f *FormatSpec) HasSheet(sheet string) bool {
	st, ok := f.Stage(sheet)
	return ok && !st.Intermediate
}

// RunState is what a stage sees of the run: earlier tables, the filter and
// the context.
type RunState struct {
	pc   *Context
	spec *FormatSpec

	mu     sync.RWMutex
	tables map[string]string
}

func newRunState(pc *Context, spec *FormatSpec, inputs map[string]string) *RunState {
	s := &RunState{pc: pc, spec: spec, tables: make(map[string]string, len(inputs))}
	for sheet, table := range inputs {
		if table != "" {
			s.tables[sheetKey(sheet)] = table
		}
	}
	return s
}

// Context returns the run context.
func (s *RunState) Context() *Context { return s.pc }

// Spec returns the format being run.
func (s *RunState) Spec() *FormatSpec { return s.spec }

// Filter returns the run filter. It must not be modified.
func (s *RunState) Filter() *domain.Filter { return s.pc.Filter }

// Strata returns the strata of an aggregation run, nil otherwise.
func (s *RunState) Strata() *domain.Strata { return s.pc.strata }

// Table returns the table built for sheet by an earlier stage, or given as
// an input, when it has rows.
func (s *RunState) Table(sheet string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[sheetKey(sheet)]
	return t, ok
}

func (s *RunState) setTable(sheet, table string) {
	s.mu.Lock()
	s.tables[sheetKey(sheet)] = table
	s.mu.Unlock()
}

// Consume returns the unconsumed criteria on sheet.column, restricted to ops
// when given, and marks them consumed so the clean step skips them.
func (s *RunState) Consume(sheet, column string, ops ...domain.Operator) []domain.Criterion {
	var out []domain.Criterion
	for i, c := range s.pc.Filter.Criteria {
		if !strings.EqualFold(c.Sheet, sheet) || !strings.EqualFold(c.Column, column) {
			continue
		}
		if len(ops) > 0 && !containsOp(ops, c.Operator) {
			continue
		}
		if s.pc.consume(i) {
			out = append(out, c)
		}
	}
	return out
}

func containsOp(ops []domain.Operator, op domain.Operator) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
