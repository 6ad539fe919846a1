package extraction

import (
	"sort"
	"strconv"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/sqltemplate"
)

// RDB sheets.
const (
	SheetTrip          = "TR"
	SheetStation       = "HH"
	SheetSpeciesList   = "SL"
	SheetSpeciesLength = "HL"
)

// RDB formats.
var (
	FormatRDB10 = domain.Format{Label: "RDB", Version: "1.0", Category: domain.CategoryLive}
	FormatRDB13 = domain.Format{Label: "RDB", Version: "1.3", Category: domain.CategoryLive}
)

// RDBSpecs returns the RDB format specs, oldest version first.
func RDBSpecs() []*pipeline.FormatSpec {
	v10 := &pipeline.FormatSpec{
		Format: FormatRDB10,
		Prefix: "ext_rdb_",
		Stages: rdbStages(),
	}
	v13 := &pipeline.FormatSpec{
		Format:  FormatRDB13,
		Prefix:  "ext_rdb_",
		Parents: []domain.Format{FormatRDB10},
		Queries: map[string]string{"hh": "station"},
		Stages:  rdbStages(),
	}
	return []*pipeline.FormatSpec{v10, v13}
}

func rdbStages() []pipeline.Stage {
	return []pipeline.Stage{
		{Sheet: SheetTrip, Params: tripParams},
		{Sheet: SheetStation, DependsOn: []string{SheetTrip}, Params: stationParams},
		{Sheet: SheetSpeciesList, DependsOn: []string{SheetStation}, Params: speciesListParams},
		{Sheet: SheetSpeciesLength, DependsOn: []string{SheetSpeciesList}, Params: speciesLengthParams},
	}
}

func newParams() pipeline.Params {
	return pipeline.Params{Bindings: map[string]string{}, Groups: map[string]bool{}}
}

// pushDown moves EQ/IN criteria on sheet.column into a template group.
// OR filters are never pushed down: the clean step applies them as a whole.
func pushDown(s *pipeline.RunState, p pipeline.Params, sheet, column, group, binding string) {
	if s.Filter().IsOr() {
		return
	}
	crits := s.Consume(sheet, column, domain.OpEqual, domain.OpIn)
	if len(crits) == 0 {
		return
	}
	p.Groups[group] = true
	p.Bindings[binding] = sqltemplate.StringList(intersectValues(crits))
}

// intersectValues ANDs the value sets of criteria on one column.
func intersectValues(crits []domain.Criterion) []string {
	set := make(map[string]struct{})
	for _, v := range crits[0].AllValues() {
		set[v] = struct{}{}
	}
	for _, c := range crits[1:] {
		next := make(map[string]struct{})
		for _, v := range c.AllValues() {
			if _, ok := set[v]; ok {
				next[v] = struct{}{}
			}
		}
		set = next
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func tripParams(s *pipeline.RunState) (pipeline.Params, error) {
	p := newParams()
	pushDown(s, p, SheetTrip, "project", "programFilter", "programLabels")
	pushDown(s, p, SheetTrip, "vessel_identifier", "vesselFilter", "vesselCodes")
	pushDown(s, p, SheetTrip, "harbour", "locationFilter", "locationLabels")
	pushDown(s, p, SheetTrip, "observer", "observerFilter", "observerNames")

	if !s.Filter().IsOr() {
		crits := s.Consume(SheetTrip, "year", domain.OpEqual, domain.OpBetween)
		if len(crits) > 0 {
			from, to, err := yearRange(crits)
			if err != nil {
				return p, err
			}
			p.Groups["dateFilter"] = true
			p.Bindings["startDate"] = sqltemplate.Timestamp(time.Date(from, 1, 1, 0, 0, 0, 0, time.UTC))
			p.Bindings["endDate"] = sqltemplate.Timestamp(time.Date(to+1, 1, 1, 0, 0, 0, 0, time.UTC))
		}
	}
	return p, nil
}

// yearRange intersects year criteria into an inclusive [from, to] range.
// An empty intersection yields from > to, which selects nothing.
func yearRange(crits []domain.Criterion) (from, to int, err error) {
	from, to = -1<<31, 1<<31-1
	for _, c := range crits {
		var lo, hi string
		if c.Operator == domain.OpBetween {
			if len(c.Values) != 2 {
				return 0, 0, domain.ErrValidation("year BETWEEN requires two values")
			}
			lo, hi = c.Values[0], c.Values[1]
		} else {
			vals := c.AllValues()
			if len(vals) != 1 {
				return 0, 0, domain.ErrValidation("year = requires one value")
			}
			lo, hi = vals[0], vals[0]
		}
		l, err := strconv.Atoi(lo)
		if err != nil {
			return 0, 0, domain.ErrValidation("invalid year %q", lo)
		}
		h, err := strconv.Atoi(hi)
		if err != nil {
			return 0, 0, domain.ErrValidation("invalid year %q", hi)
		}
		from, to = max(from, l), min(to, h)
	}
	return from, to, nil
}

func previousTable(s *pipeline.RunState, p pipeline.Params, sheet, binding string) error {
	t, ok := s.Table(sheet)
	if !ok {
		return domain.ErrValidation("missing %s table", sheet)
	}
	p.Bindings[binding] = sqltemplate.Ident(t)
	return nil
}

func stationParams(s *pipeline.RunState) (pipeline.Params, error) {
	p := newParams()
	if err := previousTable(s, p, SheetTrip, "tripTableName"); err != nil {
		return p, err
	}
	pushDown(s, p, SheetStation, "trip_code", "tripFilter", "tripCodes")
	return p, nil
}

func speciesListParams(s *pipeline.RunState) (pipeline.Params, error) {
	p := newParams()
	if err := previousTable(s, p, SheetStation, "stationTableName"); err != nil {
		return p, err
	}
	pushDown(s, p, SheetSpeciesList, "species", "speciesFilter", "speciesCodes")
	return p, nil
}

func speciesLengthParams(s *pipeline.RunState) (pipeline.Params, error) {
	p := newParams()
	if err := previousTable(s, p, SheetSpeciesList, "speciesListTableName"); err != nil {
		return p, err
	}
	return p, nil
}
