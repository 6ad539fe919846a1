// Package aggregation runs aggregation formats over extraction results and
// maintains the tables of published products.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/cache"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/extraction"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/gateway"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
)

// SheetCacheGroup is the cache group of product sheet reads.
const SheetCacheGroup = "aggregation.sheet"

// Config controls the analyze pass and the read cache.
type Config struct {
	AnalyzeEnabled bool
	// AnalyzeMaxValues bounds the distinct values recorded per column.
	AnalyzeMaxValues int
	CacheTTL         time.Duration
}

// Service is the caller-facing aggregation API.
type Service struct {
	registry  *pipeline.Registry
	sources   map[string]*domain.FormatRef
	defaults  map[string]string
	runner    *pipeline.Runner
	gateway   domain.ExecutionGateway
	extractor *extraction.Service
	repo      domain.ProductRepository
	cache     *cache.Manager
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

var _ domain.ProductUpdater = (*Service)(nil)

// NewService creates a Service and registers the built-in aggregation formats.
func NewService(
	runner *pipeline.Runner,
	extractor *extraction.Service,
	repo domain.ProductRepository,
	cacheManager *cache.Manager,
	cfg Config,
	logger *slog.Logger,
) (*Service, error) {
	s := &Service{
		registry:  pipeline.NewRegistry(),
		sources:   make(map[string]*domain.FormatRef),
		defaults:  make(map[string]string),
		runner:    runner,
		gateway:   runner.Gateway(),
		extractor: extractor,
		repo:      repo,
		cache:     cacheManager,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "aggregation"),
	}
	for _, f := range BuiltinFormats() {
		if err := s.registry.Register(f.Spec); err != nil {
			return nil, fmt.Errorf("register %s: %w", f.Spec.Format, err)
		}
		key := formatKey(f.Spec.Format)
		s.sources[key] = f.Source
		s.defaults[key] = f.DefaultSheet
	}
	return s, nil
}

func formatKey(f domain.Format) string {
	return strings.ToUpper(f.Label) + "@" + f.Version
}

// Formats lists the registered aggregation formats.
func (s *Service) Formats() []domain.Format {
	return s.registry.Formats()
}

// Aggregate runs the aggregation format of product with filter. strata
// overrides the product strata; when nil, the product strata matching the
// filter sheet (or the format's default sheet) is used.
//
// On error no staging table of the run remains, source tables included.
func (s *Service) Aggregate(ctx context.Context, product *domain.Product, filter *domain.Filter, strata *domain.Strata) (*pipeline.AggregationContext, error) {
	if product == nil {
		return nil, domain.ErrValidation("product is required")
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	spec, err := s.registry.Get(product.Format)
	if err != nil {
		return nil, err
	}
	if filter != nil && filter.Sheet != "" {
		if !spec.HasSheet(filter.Sheet) {
			return nil, domain.ErrValidation("format %s has no sheet %s", spec.Format, filter.Sheet)
		}
	}
	key := formatKey(spec.Format)
	if strata == nil {
		strata = s.resolveStrata(product, filter, s.defaults[key])
	}
	if err := validateStrata(strata); err != nil {
		return nil, err
	}

	ac := pipeline.NewAggregationContext(pipeline.NewContext(domain.NewRunID(), spec.Format, spec.Prefix, filter), strata)
	logger := s.logger.With("product_label", product.Label, "format", spec.Format.Label, "run_id", ac.ID)

	var inputs map[string]string
	if src := s.sources[key]; src != nil {
		inputs, err = s.runSource(ctx, ac, *src, filter)
		if err != nil {
			return nil, err
		}
	}

	if err := s.runner.Run(ctx, ac.Context, spec, inputs); err != nil {
		return nil, err
	}
	if err := s.analyze(ctx, ac, spec); err != nil {
		if dropErr := s.runner.Drop(context.WithoutCancel(ctx), ac.Context); dropErr != nil {
			logger.Error("cleanup after failed analyze incomplete", "error", dropErr)
		}
		return nil, err
	}
	logger.Info("aggregation completed", "sheets", ac.SheetNames(), "spatial", ac.IsSpatial())
	return ac, nil
}

func (s *Service) resolveStrata(product *domain.Product, filter *domain.Filter, defaultSheet string) *domain.Strata {
	sheet := defaultSheet
	if filter != nil && filter.Sheet != "" {
		sheet = filter.Sheet
	}
	if st := product.StrataForSheet(sheet); st != nil {
		out := *st
		return &out
	}
	return nil
}

func validateStrata(strata *domain.Strata) error {
	if strata == nil {
		return nil
	}
	switch strings.ToLower(strata.TimeColumn) {
	case "", TimeYear, TimeQuarter, TimeMonth:
	default:
		return domain.ErrValidation("unsupported time column %q", strata.TimeColumn)
	}
	switch strings.ToLower(strata.SpaceColumn) {
	case "", SpaceArea, SpaceRect, "rect":
	default:
		return domain.ErrValidation("unsupported space column %q", strata.SpaceColumn)
	}
	return nil
}

// runSource runs the source extraction and hands its tables over to ac as
// raw tables, so they are dropped with the aggregation's staging tables.
func (s *Service) runSource(ctx context.Context, ac *pipeline.AggregationContext, ref domain.FormatRef, filter *domain.Filter) (map[string]string, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("format %s needs an extraction service", ac.Format)
	}
	src := filter.Clone()
	src.Sheet = ""
	src.Preview = false
	src.Distinct = false
	src.IncludeColumns = nil
	src.ExcludeColumns = nil

	pc, err := s.extractor.Execute(ctx, ref, src)
	if err != nil {
		return nil, fmt.Errorf("source extraction %s: %w", ref.Label, err)
	}
	inputs := make(map[string]string, len(pc.SheetNames()))
	for _, sheet := range pc.SheetNames() {
		table, _ := pc.TableNameForSheet(sheet)
		inputs[sheet] = table
	}
	for _, table := range pc.AllTableNames() {
		ac.RegisterRawTable(table)
	}
	return inputs, nil
}

// analyze records the distinct values of the analyzed columns and the
// spatial columns of every final table.
func (s *Service) analyze(ctx context.Context, ac *pipeline.AggregationContext, spec *pipeline.FormatSpec) error {
	spatial := ac.Strata != nil && ac.Strata.SpaceColumn != ""
	for _, st := range spec.Stages {
		table, ok := ac.TableNameForSheet(st.Sheet)
		if !ok || st.Intermediate {
			continue
		}
		analyze := s.cfg.AnalyzeEnabled && len(st.AnalyzeColumns) > 0
		if !analyze && !(spatial && len(st.SpatialColumns) > 0) {
			continue
		}
		columns, err := extraction.TableColumns(ctx, s.gateway, table)
		if err != nil {
			return err
		}
		if analyze {
			for _, col := range present(columns, st.AnalyzeColumns) {
				values, ok, err := s.distinctValues(ctx, table, col)
				if err != nil {
					return fmt.Errorf("analyze %s.%s: %w", table, col, err)
				}
				if !ok {
					s.logger.Debug("too many distinct values, column not recorded", "table", table, "column", col)
					continue
				}
				if err := ac.SetColumnValues(table, col, values); err != nil {
					return err
				}
			}
		}
		if spatial {
			if cols := present(columns, st.SpatialColumns); len(cols) > 0 {
				if err := ac.AddSpatialColumns(table, cols...); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// distinctValues returns the non-null distinct values of column, or false
// when there are more than AnalyzeMaxValues of them.
func (s *Service) distinctValues(ctx context.Context, table, column string) ([]string, bool, error) {
	limit := 0
	if s.cfg.AnalyzeMaxValues > 0 {
		limit = s.cfg.AnalyzeMaxValues + 1
	}
	stmt, err := ddl.SelectDistinct(table, column, limit)
	if err != nil {
		return nil, false, err
	}
	it, err := s.gateway.Query(ctx, stmt)
	if err != nil {
		return nil, false, err
	}
	rows, err := gateway.Collect(it)
	if err != nil {
		return nil, false, err
	}
	if limit > 0 && len(rows) >= limit {
		return nil, false, nil
	}
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		values = append(values, fmt.Sprint(row[0]))
	}
	return values, true, nil
}

// present returns the wanted columns found in columns, spelled as in columns.
func present(columns, wanted []string) []string {
	var out []string
	for _, w := range wanted {
		for _, c := range columns {
			if strings.EqualFold(c, w) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// UpdateProduct re-aggregates a product with its stored filter, records the
// new tables and drops the previous ones.
func (s *Service) UpdateProduct(ctx context.Context, productID string) error {
	product, err := s.repo.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	logger := s.logger.With("product_id", product.ID, "product_label", product.Label)

	ac, err := s.Aggregate(ctx, product, product.Filter, nil)
	if err != nil {
		return fmt.Errorf("update product %s: %w", product.Label, err)
	}
	cleanup := context.WithoutCancel(ctx)
	if err := s.dropAll(cleanup, ac.RawTableNames()); err != nil {
		logger.Warn("failed to drop raw tables", "error", err)
	}

	tables := productTables(ac)
	previous, err := s.repo.ReplaceTables(ctx, product.ID, tables)
	if err != nil {
		if dropErr := s.dropAll(cleanup, ac.TableNames()); dropErr != nil {
			logger.Error("cleanup after failed update incomplete", "error", dropErr)
		}
		return fmt.Errorf("record tables of %s: %w", product.Label, err)
	}

	current := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		current[t.TableName] = struct{}{}
	}
	var stale []string
	for _, t := range previous {
		if _, ok := current[t]; !ok {
			stale = append(stale, t)
		}
	}
	if err := s.dropAll(cleanup, stale); err != nil {
		logger.Warn("failed to drop previous tables", "error", err)
	}

	if err := s.repo.MarkRefreshed(ctx, product.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark %s refreshed: %w", product.Label, err)
	}
	cleared := s.cache.ClearGroup(SheetCacheGroup)
	logger.Info("product updated", "tables", len(tables), "dropped", len(stale), "caches_cleared", cleared)
	return nil
}

func productTables(ac *pipeline.AggregationContext) []domain.ProductTable {
	var out []domain.ProductTable
	for _, sheet := range ac.SheetNames() {
		table, _ := ac.TableNameForSheet(sheet)
		out = append(out, domain.ProductTable{
			Sheet:         sheet,
			TableName:     table,
			RowCount:      ac.RowCount(table),
			IsSpatial:     len(ac.SpatialColumns(table)) > 0,
			HiddenColumns: ac.HiddenColumns(table),
		})
	}
	return out
}

func (s *Service) dropAll(ctx context.Context, tables []string) error {
	var errs []error
	for _, t := range tables {
		if err := s.gateway.DropTable(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SheetData holds the visible rows of a product sheet.
type SheetData struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// CacheSize estimates the memory held by the rows.
func (d *SheetData) CacheSize() int64 {
	var n int64
	for _, c := range d.Columns {
		n += int64(len(c))
	}
	for _, row := range d.Rows {
		for _, v := range row {
			if str, ok := v.(string); ok {
				n += int64(len(str))
				continue
			}
			n += 16
		}
	}
	return n
}

// ReadSheet returns the rows of a product sheet. Results are cached until
// the product is next updated or the cache TTL expires.
func (s *Service) ReadSheet(ctx context.Context, productID, sheet string) (*SheetData, error) {
	key := productID + "/" + strings.ToUpper(sheet)
	load := cache.Cacheable(s.cache, SheetCacheGroup, key, s.cfg.CacheTTL, func(ctx context.Context) (*SheetData, error) {
		return s.readSheet(ctx, productID, sheet)
	})
	return load(ctx)
}

func (s *Service) readSheet(ctx context.Context, productID, sheet string) (*SheetData, error) {
	product, err := s.repo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	t := product.TableForSheet(sheet)
	if t == nil {
		return nil, domain.ErrNotFound("product %s has no sheet %s", product.Label, sheet)
	}
	columns, err := extraction.TableColumns(ctx, s.gateway, t.TableName)
	if err != nil {
		return nil, err
	}
	visible := extraction.VisibleColumns(columns, t.HiddenColumns, nil)
	stmt, err := ddl.SelectColumns(t.TableName, visible, false, 0)
	if err != nil {
		return nil, err
	}
	it, err := s.gateway.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	data := &SheetData{Columns: append([]string(nil), it.Columns()...)}
	if data.Rows, err = gateway.Collect(it); err != nil {
		return nil, err
	}
	return data, nil
}
