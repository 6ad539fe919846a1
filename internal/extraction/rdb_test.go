package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

func TestYearRange(t *testing.T) {
	tests := []struct {
		name     string
		crits    []domain.Criterion
		from, to int
		wantErr  bool
	}{
		{"equal", []domain.Criterion{{Operator: domain.OpEqual, Value: "2020"}}, 2020, 2020, false},
		{"between", []domain.Criterion{{Operator: domain.OpBetween, Values: []string{"2018", "2021"}}}, 2018, 2021, false},
		{"intersection", []domain.Criterion{
			{Operator: domain.OpBetween, Values: []string{"2018", "2021"}},
			{Operator: domain.OpBetween, Values: []string{"2020", "2024"}},
		}, 2020, 2021, false},
		{"disjoint", []domain.Criterion{
			{Operator: domain.OpEqual, Value: "2018"},
			{Operator: domain.OpEqual, Value: "2020"},
		}, 2020, 2018, false},
		{"not a year", []domain.Criterion{{Operator: domain.OpEqual, Value: "x"}}, 0, 0, true},
		{"between one bound", []domain.Criterion{{Operator: domain.OpBetween, Values: []string{"2018"}}}, 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			from, to, err := yearRange(tc.crits)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.from, from)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestIntersectValues(t *testing.T) {
	got := intersectValues([]domain.Criterion{
		{Operator: domain.OpIn, Values: []string{"A", "B", "C"}},
		{Operator: domain.OpEqual, Value: "B"},
	})
	assert.Equal(t, []string{"B"}, got)

	got = intersectValues([]domain.Criterion{{Operator: domain.OpIn, Values: []string{"C", "A"}}})
	assert.Equal(t, []string{"A", "C"}, got)
}

func TestRDBSpecs(t *testing.T) {
	specs := RDBSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"TR", "HH", "SL", "HL"}, specs[0].Sheets())
	assert.Equal(t, "station", specs[1].QueryName("hh"))
	assert.Equal(t, "hh", specs[0].QueryName("hh"))
}
