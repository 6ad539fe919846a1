package aggregation

import (
	"strconv"
	"strings"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/extraction"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/sqltemplate"
)

// Aggregation sheets.
const (
	SheetAggStation       = "AGG_HH"
	SheetAggSpeciesLength = "AGG_HL"
	SheetMonitoringRaw    = "RAW"
	SheetMonthly          = "MONTHLY"
)

// Aggregation formats.
var (
	FormatAggRDB     = domain.Format{Label: "AGG_RDB", Version: "1.3", Category: domain.CategoryProduct}
	FormatMonitoring = domain.Format{Label: "MONITORING", Version: "1.0", Category: domain.CategoryProduct}
)

// Strata column values understood by the aggregation templates.
const (
	TimeYear    = "year"
	TimeQuarter = "quarter"
	TimeMonth   = "month"

	SpaceArea = "area"
	SpaceRect = "statistical_rectangle"
)

// Format is an aggregation format with the extraction it reads from.
type Format struct {
	Spec *pipeline.FormatSpec
	// Source is the extraction whose sheets feed the stages, nil when the
	// stages read operational tables directly.
	Source *domain.FormatRef
	// DefaultSheet selects the strata when the filter names no sheet.
	DefaultSheet string
}

// BuiltinFormats returns the packaged aggregation formats.
func BuiltinFormats() []Format {
	return []Format{aggRDBFormat(), monitoringFormat()}
}

func aggRDBFormat() Format {
	spatial := []string{SpaceArea, SpaceRect}
	analyze := []string{TimeYear, TimeQuarter, TimeMonth, SpaceArea, SpaceRect}
	return Format{
		Source:       &domain.FormatRef{Label: extraction.FormatRDB13.Label, Version: extraction.FormatRDB13.Version},
		DefaultSheet: SheetAggStation,
		Spec: &pipeline.FormatSpec{
			Format: FormatAggRDB,
			Prefix: "agg_rdb_",
			Inputs: []string{extraction.SheetStation, extraction.SheetSpeciesLength},
			Stages: []pipeline.Stage{
				{
					Sheet:          SheetAggStation,
					DependsOn:      []string{extraction.SheetStation},
					Params:         strataParams(extraction.SheetStation, "stationTableName"),
					AnalyzeColumns: analyze,
					SpatialColumns: spatial,
				},
				{
					Sheet:          SheetAggSpeciesLength,
					DependsOn:      []string{extraction.SheetSpeciesLength},
					Params:         strataParams(extraction.SheetSpeciesLength, "speciesLengthTableName"),
					AnalyzeColumns: append(analyze, "species"),
					SpatialColumns: spatial,
				},
			},
		},
	}
}

// strataParams binds the source table and turns the strata into groups.
func strataParams(sourceSheet, binding string) func(*pipeline.RunState) (pipeline.Params, error) {
	return func(s *pipeline.RunState) (pipeline.Params, error) {
		p := pipeline.Params{Bindings: map[string]string{}, Groups: map[string]bool{}}
		t, ok := s.Table(sourceSheet)
		if !ok {
			return p, domain.ErrValidation("missing %s table", sourceSheet)
		}
		p.Bindings[binding] = sqltemplate.Ident(t)

		strata := s.Strata()
		if strata == nil {
			return p, nil
		}
		switch strings.ToLower(strata.TimeColumn) {
		case "", TimeYear:
		case TimeQuarter:
			p.Groups["quarter"] = true
		case TimeMonth:
			p.Groups["month"] = true
		default:
			return p, domain.ErrValidation("unsupported time column %q", strata.TimeColumn)
		}
		switch strings.ToLower(strata.SpaceColumn) {
		case "":
		case SpaceArea:
			p.Groups["area"] = true
		case SpaceRect, "rect":
			p.Groups["rect"] = true
		default:
			return p, domain.ErrValidation("unsupported space column %q", strata.SpaceColumn)
		}
		return p, nil
	}
}

func monitoringFormat() Format {
	return Format{
		DefaultSheet: SheetMonthly,
		Spec: &pipeline.FormatSpec{
			Format: FormatMonitoring,
			Prefix: "agg_mon_",
			Stages: []pipeline.Stage{
				{Sheet: SheetMonitoringRaw, Intermediate: true, Params: monitoringRawParams},
				{
					Sheet:          SheetMonthly,
					DependsOn:      []string{SheetMonitoringRaw},
					Params:         monthlyParams,
					AnalyzeColumns: []string{"program", TimeYear},
				},
			},
		},
	}
}

func monitoringRawParams(s *pipeline.RunState) (pipeline.Params, error) {
	p := pipeline.Params{Bindings: map[string]string{}, Groups: map[string]bool{}}
	if s.Filter().IsOr() {
		return p, nil
	}
	if crits := s.Consume(SheetMonthly, "program", domain.OpEqual, domain.OpIn); len(crits) > 0 {
		var labels []string
		for _, c := range crits {
			labels = append(labels, c.AllValues()...)
		}
		p.Groups["programFilter"] = true
		p.Bindings["programLabels"] = sqltemplate.StringList(labels)
	}
	if crits := s.Consume(SheetMonthly, TimeYear, domain.OpEqual); len(crits) == 1 {
		year, err := strconv.Atoi(crits[0].Value)
		if err != nil {
			return p, domain.ErrValidation("invalid year %q", crits[0].Value)
		}
		p.Groups["yearFilter"] = true
		p.Bindings["startDate"] = sqltemplate.Timestamp(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))
		p.Bindings["endDate"] = sqltemplate.Timestamp(time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC))
	}
	return p, nil
}

// monthlyParams injects one counting column per calendar month.
func monthlyParams(s *pipeline.RunState) (pipeline.Params, error) {
	p := pipeline.Params{Bindings: map[string]string{}}
	t, ok := s.Table(SheetMonitoringRaw)
	if !ok {
		return p, domain.ErrValidation("missing %s table", SheetMonitoringRaw)
	}
	p.Bindings["rawTableName"] = sqltemplate.Ident(t)
	for month := 1; month <= 12; month++ {
		p.Injections = append(p.Injections, sqltemplate.Injection{
			Point:  "monthColumns",
			Query:  "month_column",
			Suffix: strconv.Itoa(month),
		})
	}
	return p, nil
}
