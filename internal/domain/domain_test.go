package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in        string
		want      ProcessingFrequency
		scheduled bool
		wantErr   bool
	}{
		{in: "daily", want: FrequencyDaily, scheduled: true},
		{in: " Hourly ", want: FrequencyHourly, scheduled: true},
		{in: "WEEKLY", want: FrequencyWeekly, scheduled: true},
		{in: "monthly", want: FrequencyMonthly, scheduled: true},
		{in: "manually", want: FrequencyManually},
		{in: "NEVER", want: FrequencyNever},
		{in: "yearly", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrequency(tt.in)
			if tt.wantErr {
				var validation *ValidationError
				require.ErrorAs(t, err, &validation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.scheduled, got.IsScheduled())
		})
	}
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  *Filter
		wantErr bool
	}{
		{name: "nil", filter: nil},
		{name: "empty", filter: &Filter{}},
		{name: "or", filter: &Filter{Operator: "or", Criteria: []Criterion{{Column: "year", Operator: OpEqual, Value: "2020"}}}},
		{name: "bad operator", filter: &Filter{Operator: "XOR"}, wantErr: true},
		{name: "missing column", filter: &Filter{Criteria: []Criterion{{Operator: OpEqual, Value: "1"}}}, wantErr: true},
		{name: "in without values", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: OpIn}}}, wantErr: true},
		{name: "in with single value", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: OpIn, Value: "x"}}}},
		{name: "between one value", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: OpBetween, Values: []string{"1"}}}}, wantErr: true},
		{name: "between", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: OpBetween, Values: []string{"1", "2"}}}}},
		{name: "null", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: OpNull}}}},
		{name: "equal without value", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: OpEqual}}}, wantErr: true},
		{name: "unknown operator", filter: &Filter{Criteria: []Criterion{{Column: "a", Operator: "~", Value: "x"}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				var validation *ValidationError
				assert.ErrorAs(t, err, &validation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterClone(t *testing.T) {
	f := &Filter{
		Criteria:       []Criterion{{Column: "area", Operator: OpIn, Values: []string{"a", "b"}}},
		IncludeColumns: []string{"area"},
	}
	c := f.Clone()
	c.Criteria[0].Values[0] = "z"
	c.IncludeColumns[0] = "rect"

	assert.Equal(t, "a", f.Criteria[0].Values[0])
	assert.Equal(t, "area", f.IncludeColumns[0])
	assert.NotNil(t, (*Filter)(nil).Clone())
	assert.True(t, (&Filter{Operator: "Or"}).IsOr())
	assert.False(t, (*Filter)(nil).IsOr())
}

func TestProductLookups(t *testing.T) {
	p := &Product{
		Stratum: []Strata{{Sheet: "AGG_HH", TimeColumn: "quarter"}},
		Tables:  []ProductTable{{Sheet: "AGG_HL", TableName: "agg_rdb_agg_hl_1"}},
	}
	require.NotNil(t, p.StrataForSheet("agg_hh"))
	assert.Equal(t, "quarter", p.StrataForSheet("AGG_HH").TimeColumn)
	assert.Nil(t, p.StrataForSheet("AGG_HL"))
	require.NotNil(t, p.TableForSheet("agg_hl"))
	assert.Nil(t, p.TableForSheet("AGG_HH"))
}

func TestCreateProductRequestValidate(t *testing.T) {
	valid := CreateProductRequest{Label: "P", Format: FormatRef{Label: "AGG_RDB"}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CreateProductRequest)
	}{
		{"no label", func(r *CreateProductRequest) { r.Label = "" }},
		{"no format", func(r *CreateProductRequest) { r.Format.Label = "" }},
		{"bad status", func(r *CreateProductRequest) { r.Status = "ARCHIVED" }},
		{"bad frequency", func(r *CreateProductRequest) { r.Frequency = "YEARLY" }},
		{"strata without sheet", func(r *CreateProductRequest) { r.Stratum = []Strata{{TimeColumn: "year"}} }},
		{"bad filter", func(r *CreateProductRequest) { r.Filter = &Filter{Operator: "XOR"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("table not found")
	err := &StageError{Format: "RDB", Version: "1.3", Sheet: "HH", Phase: PhaseExecuting, Err: cause}
	assert.Equal(t, "RDB v1.3: stage HH (executing): table not found", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestNewRunID_Increasing(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Greater(t, b, a)
	assert.Positive(t, a)
	assert.Len(t, NewID(), 36)
}
