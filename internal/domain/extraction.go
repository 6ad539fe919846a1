package domain

import "strings"

// Format categories.
const (
	CategoryLive    = "LIVE"
	CategoryProduct = "PRODUCT"
)

// Format identifies an extraction or aggregation format.
type Format struct {
	Label    string
	Version  string
	Category string
}

// String returns "label vversion".
func (f Format) String() string {
	return f.Label + " v" + f.Version
}

// FormatRef is what a caller asks for: a format label and an optional version.
// An empty version selects the latest registered version.
type FormatRef struct {
	Label   string
	Version string
}

// Operator is a criterion comparison operator.
type Operator string

// Criterion operators.
const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "IN"
	OpNotIn          Operator = "NOT IN"
	OpBetween        Operator = "BETWEEN"
	OpLike           Operator = "LIKE"
	OpNull           Operator = "NULL"
	OpNotNull        Operator = "NOT NULL"
)

// Global filter operators.
const (
	FilterAnd = "AND"
	FilterOr  = "OR"
)

// Criterion is one filter condition. Value is used by single-valued operators,
// Values by IN, NOT IN and BETWEEN.
type Criterion struct {
	Sheet    string   `json:"sheetName,omitempty" yaml:"sheet,omitempty"`
	Column   string   `json:"name" yaml:"column"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// AllValues returns Values, or Value as a single-element slice.
func (c Criterion) AllValues() []string {
	if len(c.Values) > 0 {
		return c.Values
	}
	if c.Value == "" {
		return nil
	}
	return []string{c.Value}
}

// Filter is the caller-supplied extraction filter.
type Filter struct {
	Criteria       []Criterion `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Operator       string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Sheet          string      `json:"sheetName,omitempty" yaml:"sheet,omitempty"`
	Preview        bool        `json:"preview,omitempty" yaml:"preview,omitempty"`
	Distinct       bool        `json:"distinct,omitempty" yaml:"distinct,omitempty"`
	IncludeColumns []string    `json:"includeColumnNames,omitempty" yaml:"includeColumns,omitempty"`
	ExcludeColumns []string    `json:"excludeColumnNames,omitempty" yaml:"excludeColumns,omitempty"`
}

// Clone returns a deep copy of the filter. A nil filter clones to an empty one.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	out := *f
	out.Criteria = make([]Criterion, len(f.Criteria))
	for i, c := range f.Criteria {
		c.Values = append([]string(nil), c.Values...)
		out.Criteria[i] = c
	}
	out.IncludeColumns = append([]string(nil), f.IncludeColumns...)
	out.ExcludeColumns = append([]string(nil), f.ExcludeColumns...)
	return &out
}

// IsOr reports whether criteria are combined with OR.
func (f *Filter) IsOr() bool {
	return f != nil && strings.EqualFold(f.Operator, FilterOr)
}

// Validate checks operators and required values.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Operator != "" && !strings.EqualFold(f.Operator, FilterAnd) && !strings.EqualFold(f.Operator, FilterOr) {
		return ErrValidation("invalid filter operator %q", f.Operator)
	}
	for _, c := range f.Criteria {
		if c.Column == "" {
			return ErrValidation("criterion column is required")
		}
		switch c.Operator {
		case OpNull, OpNotNull:
		case OpIn, OpNotIn:
			if len(c.AllValues()) == 0 {
				return ErrValidation("criterion %s %s requires values", c.Column, c.Operator)
			}
		case OpBetween:
			if len(c.Values) != 2 {
				return ErrValidation("criterion %s BETWEEN requires two values", c.Column)
			}
		case OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpLike:
			if c.Value == "" && len(c.Values) == 0 {
				return ErrValidation("criterion %s %s requires a value", c.Column, c.Operator)
			}
		default:
			return ErrValidation("unsupported operator %q on %s", c.Operator, c.Column)
		}
	}
	return nil
}
