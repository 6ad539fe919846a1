// Package extraction runs live extraction formats and reads their sheets.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
)

// PreviewLimit caps the rows read when the filter asks for a preview.
const PreviewLimit = 100

// Service is the caller-facing extraction API.
type Service struct {
	registry *pipeline.Registry
	runner   *pipeline.Runner
	gateway  domain.ExecutionGateway
	logger   *slog.Logger
}

// NewService creates a Service. Formats must already be registered.
func NewService(registry *pipeline.Registry, runner *pipeline.Runner, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		runner:   runner,
		gateway:  runner.Gateway(),
		logger:   logger.With("component", "extraction"),
	}
}

// RegisterFormats adds the built-in extraction formats to registry.
func RegisterFormats(registry *pipeline.Registry) error {
	for _, spec := range RDBSpecs() {
		if err := registry.Register(spec); err != nil {
			return fmt.Errorf("register %s: %w", spec.Format, err)
		}
	}
	return nil
}

// Formats lists the registered formats.
func (s *Service) Formats() []domain.Format {
	return s.registry.Formats()
}

// Execute runs the format with filter and returns the populated context.
// On error no staging table of the run remains.
func (s *Service) Execute(ctx context.Context, ref domain.FormatRef, filter *domain.Filter) (*pipeline.Context, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	spec, err := s.registry.Get(ref)
	if err != nil {
		return nil, err
	}
	if filter != nil && filter.Sheet != "" {
		if !spec.HasSheet(filter.Sheet) {
			return nil, domain.ErrValidation("format %s has no sheet %s", spec.Format, filter.Sheet)
		}
	}

	pc := pipeline.NewContext(domain.NewRunID(), spec.Format, spec.Prefix, filter)
	if err := s.runner.Run(ctx, pc, spec, nil); err != nil {
		return nil, err
	}
	return pc, nil
}

// Read streams the visible rows of a sheet: hidden and excluded columns are
// projected away, and a preview filter caps the row count.
func (s *Service) Read(ctx context.Context, pc *pipeline.Context, sheet string) (domain.RowIterator, error) {
	table, ok := pc.TableNameForSheet(sheet)
	if !ok {
		return nil, domain.ErrNotFound("sheet %s not found in run %d", sheet, pc.ID)
	}
	stmt, err := s.readStatement(ctx, pc, table)
	if err != nil {
		return nil, err
	}
	return s.gateway.Query(ctx, stmt)
}

func (s *Service) readStatement(ctx context.Context, pc *pipeline.Context, table string) (string, error) {
	columns, err := TableColumns(ctx, s.gateway, table)
	if err != nil {
		return "", err
	}
	visible := VisibleColumns(columns, pc.HiddenColumns(table), pc.Filter)
	if len(visible) == 0 {
		return "", domain.ErrValidation("no visible column in %s", table)
	}

	limit := 0
	if pc.Filter.Preview {
		limit = PreviewLimit
	}
	return ddl.SelectColumns(table, visible, pc.IsDistinct(table) || pc.Filter.Distinct, limit)
}

// Clean drops every table of the run.
func (s *Service) Clean(ctx context.Context, pc *pipeline.Context) error {
	if err := s.runner.Drop(ctx, pc); err != nil {
		return fmt.Errorf("clean run %d: %w", pc.ID, err)
	}
	s.logger.Debug("run cleaned", "run_id", pc.ID, "tables", len(pc.AllTableNames()))
	return nil
}

// TableColumns returns the column names of table.
func TableColumns(ctx context.Context, gw domain.ExecutionGateway, table string) ([]string, error) {
	stmt, err := ddl.SelectAll(table)
	if err != nil {
		return nil, err
	}
	it, err := gw.Query(ctx, stmt+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	cols := append([]string(nil), it.Columns()...)
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	return cols, nil
}

// VisibleColumns drops hidden and excluded columns and, when the filter
// lists included columns, keeps only those. Order follows columns.
func VisibleColumns(columns, hidden []string, filter *domain.Filter) []string {
	drop := make(map[string]struct{}, len(hidden))
	for _, c := range hidden {
		drop[strings.ToLower(c)] = struct{}{}
	}
	var include map[string]struct{}
	if filter != nil {
		for _, c := range filter.ExcludeColumns {
			drop[strings.ToLower(c)] = struct{}{}
		}
		if len(filter.IncludeColumns) > 0 {
			include = make(map[string]struct{}, len(filter.IncludeColumns))
			for _, c := range filter.IncludeColumns {
				include[strings.ToLower(c)] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(columns))
	for _, c := range columns {
		key := strings.ToLower(c)
		if _, ok := drop[key]; ok {
			continue
		}
		if include != nil {
			if _, ok := include[key]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
