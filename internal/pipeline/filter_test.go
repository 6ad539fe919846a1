package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

func TestCriterionSQL(t *testing.T) {
	tests := []struct {
		name    string
		c       domain.Criterion
		want    string
		wantErr bool
	}{
		{"equal", domain.Criterion{Column: "year", Operator: domain.OpEqual, Value: "2020"}, `"year" = '2020'`, false},
		{"not equal", domain.Criterion{Column: "Year", Operator: domain.OpNotEqual, Value: "2020"}, `"year" <> '2020'`, false},
		{"greater", domain.Criterion{Column: "weight", Operator: domain.OpGreater, Value: "1.5"}, `"weight" > '1.5'`, false},
		{"less or equal", domain.Criterion{Column: "weight", Operator: domain.OpLessOrEqual, Value: "3"}, `"weight" <= '3'`, false},
		{"in", domain.Criterion{Column: "species", Operator: domain.OpIn, Values: []string{"COD", "O'X"}}, `"species" IN ('COD', 'O''X')`, false},
		{"in single value", domain.Criterion{Column: "species", Operator: domain.OpIn, Value: "COD"}, `"species" IN ('COD')`, false},
		{"not in", domain.Criterion{Column: "area", Operator: domain.OpNotIn, Values: []string{"27.7"}}, `"area" NOT IN ('27.7')`, false},
		{"between", domain.Criterion{Column: "year", Operator: domain.OpBetween, Values: []string{"2019", "2021"}}, `"year" BETWEEN '2019' AND '2021'`, false},
		{"like", domain.Criterion{Column: "vessel", Operator: domain.OpLike, Value: "FRA%"}, `"vessel" LIKE 'FRA%'`, false},
		{"null", domain.Criterion{Column: "gear", Operator: domain.OpNull}, `"gear" IS NULL`, false},
		{"not null", domain.Criterion{Column: "gear", Operator: domain.OpNotNull}, `"gear" IS NOT NULL`, false},
		{"in without values", domain.Criterion{Column: "x", Operator: domain.OpIn}, "", true},
		{"between one value", domain.Criterion{Column: "x", Operator: domain.OpBetween, Values: []string{"1"}}, "", true},
		{"missing value", domain.Criterion{Column: "x", Operator: domain.OpEqual}, "", true},
		{"bad column", domain.Criterion{Column: "x; DROP", Operator: domain.OpNull}, "", true},
		{"unknown operator", domain.Criterion{Column: "x", Operator: "~"}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := criterionSQL(tc.c)
			if tc.wantErr {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCleanPredicate(t *testing.T) {
	filter := &domain.Filter{
		Sheet: "HH",
		Criteria: []domain.Criterion{
			{Sheet: "TR", Column: "project", Operator: domain.OpEqual, Value: "SIH"},
			{Sheet: "HH", Column: "year", Operator: domain.OpEqual, Value: "2020"},
			{Column: "area", Operator: domain.OpEqual, Value: "27.7.d"},
		},
	}

	t.Run("and", func(t *testing.T) {
		pc := NewContext(1, testFormat, "ext_", filter)
		pred, ok, err := cleanPredicate(pc, "HH")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `("year" = '2020') AND ("area" = '27.7.d')`, pred)

		pred, ok, err = cleanPredicate(pc, "TR")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `("project" = 'SIH')`, pred)

		_, ok, err = cleanPredicate(pc, "SL")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("or and consumed", func(t *testing.T) {
		f := filter.Clone()
		f.Operator = domain.FilterOr
		pc := NewContext(1, testFormat, "ext_", f)
		state := newRunState(pc, &FormatSpec{Format: testFormat}, nil)
		require.Len(t, state.Consume("HH", "year", domain.OpEqual), 1)

		pred, ok, err := cleanPredicate(pc, "HH")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `("area" = '27.7.d')`, pred)

		require.Empty(t, state.Consume("TR", "project", domain.OpIn), "operator mismatch")
		pred, _, _ = cleanPredicate(pc, "TR")
		assert.Equal(t, `("project" = 'SIH')`, pred)
	})
}
