package pipeline

import (
	"sort"
	"sync"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// AggregationContext is a Context carrying the strata of an aggregation,
// the spatial columns and the observed column values of its final tables.
type AggregationContext struct {
	*Context
	Strata *domain.Strata

	amu     sync.RWMutex
	spatial map[string][]string
	values  map[string]map[string][]string
}

// NewAggregationContext wraps base. strata may be nil.
func NewAggregationContext(base *Context, strata *domain.Strata) *AggregationContext {
	base.strata = strata
	return &AggregationContext{
		Context: base,
		Strata:  strata,
		spatial: make(map[string][]string),
		values:  make(map[string]map[string][]string),
	}
}

// AddSpatialColumns marks columns of a final table as spatial.
func (a *AggregationContext) AddSpatialColumns(tableName string, columns ...string) error {
	if !a.IsFinal(tableName) {
		return domain.ErrValidation("table %s is not a final table", tableName)
	}
	a.amu.Lock()
	defer a.amu.Unlock()

	set := make(map[string]struct{}, len(a.spatial[tableName])+len(columns))
	for _, col := range a.spatial[tableName] {
		set[col] = struct{}{}
	}
	for _, col := range columns {
		if col != "" {
			set[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	a.spatial[tableName] = cols
	return nil
}

// SpatialColumns returns the spatial columns of a table.
func (a *AggregationContext) SpatialColumns(tableName string) []string {
	a.amu.RLock()
	defer a.amu.RUnlock()
	return append([]string(nil), a.spatial[tableName]...)
}

// SetColumnValues records the distinct values observed in a column of a
// final table.
func (a *AggregationContext) SetColumnValues(tableName, column string, values []string) error {
	if !a.IsFinal(tableName) {
		return domain.ErrValidation("table %s is not a final table", tableName)
	}
	a.amu.Lock()
	defer a.amu.Unlock()
	if a.values[tableName] == nil {
		a.values[tableName] = make(map[string][]string)
	}
	a.values[tableName][column] = append([]string(nil), values...)
	return nil
}

// ColumnValues returns a copy of the recorded column values of a table.
func (a *AggregationContext) ColumnValues(tableName string) map[string][]string {
	a.amu.RLock()
	defer a.amu.RUnlock()
	out := make(map[string][]string, len(a.values[tableName]))
	for col, vals := range a.values[tableName] {
		out[col] = append([]string(nil), vals...)
	}
	return out
}

// IsSpatial reports whether any final table has a spatial column.
func (a *AggregationContext) IsSpatial() bool {
	a.amu.RLock()
	defer a.amu.RUnlock()
	for table, cols := range a.spatial {
		if len(cols) > 0 && a.IsFinal(table) {
			return true
		}
	}
	return false
}
