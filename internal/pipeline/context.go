// Package pipeline builds format-specific staging tables from SQL templates.
//
// A run executes the stages of a FormatSpec in dependency order and records
// every table it creates in a Context, so the tables can be read, kept for
// debugging or dropped when the run fails.
package pipeline

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

// Stage statuses.
const (
	StatusPending    StageStatus = "pending"
	StatusCompiling  StageStatus = "compiling"
	StatusExecuting  StageStatus = "executing"
	StatusCounting   StageStatus = "counting"
	StatusCleaning   StageStatus = "cleaning"
	StatusRegistered StageStatus = "registered"
	StatusDiscarded  StageStatus = "discarded"
	StatusSkipped    StageStatus = "skipped"
	StatusFailed     StageStatus = "failed"
)

type finalTable struct {
	sheet    string
	hidden   []string
	distinct bool
	rows     int64
}

// Context tracks the staging tables of one run. A table is either final
// (mapped to a sheet, holding visible rows) or raw (discardable), never both.
// Context is safe for concurrent use.
type Context struct {
	ID      int64
	Format  domain.Format
	Filter  *domain.Filter
	Started time.Time

	prefix string
	strata *domain.Strata

	mu         sync.RWMutex
	final      map[string]*finalTable
	finalOrder []string
	sheets     map[string]string
	raw        map[string]struct{}
	rawOrder   []string
	status     map[string]StageStatus
	consumed   map[int]struct{}
}

// NewContext creates the context of a run. The filter is deep-copied so
// consuming criteria never affects the caller's value.
func NewContext(id int64, format domain.Format, prefix string, filter *domain.Filter) *Context {
	return &Context{
		ID:       id,
		Format:   format,
		Filter:   filter.Clone(),
		Started:  time.Now(),
		prefix:   prefix,
		final:    make(map[string]*finalTable),
		sheets:   make(map[string]string),
		raw:      make(map[string]struct{}),
		status:   make(map[string]StageStatus),
		consumed: make(map[int]struct{}),
	}
}

// TableName returns the staging table name of sheet for this run:
// <prefix><sheet>_<id>, lower-cased.
func (c *Context) TableName(sheet string) string {
	return strings.ToLower(c.prefix + sheet + "_" + strconv.FormatInt(c.ID, 10))
}

func sheetKey(sheet string) string { return strings.ToUpper(sheet) }

// RegisterTable records tableName as the final table of sheet. A raw entry
// for the same table is removed.
func (c *Context) RegisterTable(tableName, sheet string, hiddenColumns []string, distinct bool) error {
	if tableName == "" {
		return domain.ErrValidation("table name is required")
	}
	if sheet == "" {
		return domain.ErrValidation("sheet is required for final table %s", tableName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sheets[sheetKey(sheet)]; ok && existing != tableName {
		return domain.ErrConflict("sheet %s already mapped to %s", sheet, existing)
	}
	if _, ok := c.raw[tableName]; ok {
		delete(c.raw, tableName)
		c.rawOrder = removeString(c.rawOrder, tableName)
	}
	if _, ok := c.final[tableName]; !ok {
		c.finalOrder = append(c.finalOrder, tableName)
	}
	c.final[tableName] = &finalTable{
		sheet:    sheet,
		hidden:   append([]string(nil), hiddenColumns...),
		distinct: distinct,
	}
	c.sheets[sheetKey(sheet)] = tableName
	return nil
}

// RegisterRawTable records tableName as raw. A final entry for the same
// table, and its sheet mapping, are removed.
func (c *Context) RegisterRawTable(tableName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ft, ok := c.final[tableName]; ok {
		delete(c.final, tableName)
		delete(c.sheets, sheetKey(ft.sheet))
		c.finalOrder = removeString(c.finalOrder, tableName)
	}
	if _, ok := c.raw[tableName]; !ok {
		c.raw[tableName] = struct{}{}
		c.rawOrder = append(c.rawOrder, tableName)
	}
}

// HasSheet reports whether sheet has a final table.
func (c *Context) HasSheet(sheet string) bool {
	_, ok := c.TableNameForSheet(sheet)
	return ok
}

// TableNameForSheet returns the final table of sheet.
func (c *Context) TableNameForSheet(sheet string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.sheets[sheetKey(sheet)]
	return t, ok
}

// SheetNames returns the sheets with a final table, in registration order.
func (c *Context) SheetNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.finalOrder))
	for _, t := range c.finalOrder {
		out = append(out, c.final[t].sheet)
	}
	return out
}

// TableNames returns the final tables, in registration order.
func (c *Context) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.finalOrder...)
}

// RawTableNames returns the raw tables, in registration order. Dropped raw
// tables stay listed.
func (c *Context) RawTableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.rawOrder...)
}

// AllTableNames returns final then raw tables.
func (c *Context) AllTableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.finalOrder)+len(c.rawOrder))
	out = append(out, c.finalOrder...)
	return append(out, c.rawOrder...)
}

// IsFinal reports whether tableName is a final table.
func (c *Context) IsFinal(tableName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.final[tableName]
	return ok
}

// SheetOf returns the sheet of a final table.
func (c *Context) SheetOf(tableName string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ft, ok := c.final[tableName]
	if !ok {
		return "", false
	}
	return ft.sheet, true
}

// HiddenColumns returns the hidden columns declared for a final table.
func (c *Context) HiddenColumns(tableName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ft, ok := c.final[tableName]; ok {
		return append([]string(nil), ft.hidden...)
	}
	return nil
}

// IsDistinct reports whether a final table has DISTINCT semantics.
func (c *Context) IsDistinct(tableName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ft, ok := c.final[tableName]
	return ok && ft.distinct
}

// RowCount returns the row count recorded for a final table.
func (c *Context) RowCount(tableName string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ft, ok := c.final[tableName]; ok {
		return ft.rows
	}
	return 0
}

func (c *Context) setRowCount(tableName string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ft, ok := c.final[tableName]; ok {
		ft.rows = n
	}
}

// StageStatus returns the status of the stage building sheet.
func (c *Context) StageStatus(sheet string) StageStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.status[sheetKey(sheet)]; ok {
		return s
	}
	return StatusPending
}

func (c *Context) setStatus(sheet string, s StageStatus) {
	c.mu.Lock()
	c.status[sheetKey(sheet)] = s
	c.mu.Unlock()
}

func (c *Context) consume(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumed[i]; ok {
		return false
	}
	c.consumed[i] = struct{}{}
	return true
}

func (c *Context) isConsumed(i int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.consumed[i]
	return ok
}

func removeString(values []string, v string) []string {
	for i, s := range values {
		if s == v {
			return append(values[:i:i], values[i+1:]...)
		}
	}
	return values
}
