package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/sqltemplate"
)

// Config controls how runs treat their staging tables.
type Config struct {
	// KeepRawTables keeps raw tables in storage after a successful run.
	KeepRawTables bool
	// MaxParallel bounds the stages of one level running at once.
	MaxParallel int
}

// Runner executes format specs.
type Runner struct {
	compiler *sqltemplate.Compiler
	gateway  domain.ExecutionGateway
	cfg      Config
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(compiler *sqltemplate.Compiler, gateway domain.ExecutionGateway, cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	return &Runner{compiler: compiler, gateway: gateway, cfg: cfg, logger: logger}
}

// Gateway returns the gateway the runner executes on.
func (r *Runner) Gateway() domain.ExecutionGateway { return r.gateway }

// Run builds the stages of spec into pc, level by level. inputs maps sheets
// built by another run to their tables.
//
// On failure every table recorded in pc is dropped and the *domain.StageError
// is returned. On success raw tables are dropped unless KeepRawTables is set.
func (r *Runner) Run(ctx context.Context, pc *Context, spec *FormatSpec, inputs map[string]string) error {
	levels, err := ResolveStageOrder(spec.Stages, spec.Inputs)
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Format, err)
	}

	logger := r.logger.With("format", spec.Format.Label, "version", spec.Format.Version, "run_id", pc.ID)
	state := newRunState(pc, spec, inputs)
	start := time.Now()

	for i, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.MaxParallel)
		for _, sheet := range level {
			st, _ := spec.Stage(sheet)
			g.Go(func() error {
				return r.runStage(gctx, state, st, logger)
			})
		}
		if err := g.Wait(); err != nil {
			r.discard(pc, logger)
			return err
		}

		if target := pc.Filter.Sheet; target != "" && pc.HasSheet(target) && i < len(levels)-1 {
			logger.Debug("target sheet ready, skipping remaining stages", "sheet", target)
			for _, rest := range levels[i+1:] {
				for _, sheet := range rest {
					pc.setStatus(sheet, StatusSkipped)
				}
			}
			break
		}
	}

	if !r.cfg.KeepRawTables {
		if err := r.dropTables(context.WithoutCancel(ctx), pc.RawTableNames()); err != nil {
			logger.Warn("failed to drop raw tables", "error", err)
		}
	}

	logger.Info("pipeline run completed",
		"sheets", pc.SheetNames(),
		"raw_tables", len(pc.RawTableNames()),
		"duration", time.Since(start))
	return nil
}

func (r *Runner) runStage(ctx context.Context, state *RunState, st Stage, logger *slog.Logger) error {
	pc := state.pc
	spec := state.spec
	logger = logger.With("sheet", st.Sheet)

	for _, dep := range st.DependsOn {
		if _, ok := state.Table(dep); !ok {
			pc.setStatus(st.Sheet, StatusSkipped)
			logger.Debug("stage skipped", "missing", dep)
			return nil
		}
	}

	fail := func(phase string, err error) error {
		pc.setStatus(st.Sheet, StatusFailed)
		return &domain.StageError{
			Format:  spec.Format.Label,
			Version: spec.Format.Version,
			Sheet:   st.Sheet,
			Phase:   phase,
			Err:     err,
		}
	}

	pc.setStatus(st.Sheet, StatusCompiling)
	var params Params
	if st.Params != nil {
		p, err := st.Params(state)
		if err != nil {
			return fail(domain.PhaseCompiling, err)
		}
		params = p
	}
	table := pc.TableName(st.Sheet)
	if err := ddl.ValidateIdentifier(table); err != nil {
		return fail(domain.PhaseCompiling, domain.ErrValidation("table name %q: %v", table, err))
	}
	bindings := make(map[string]string, len(params.Bindings)+1)
	for k, v := range params.Bindings {
		bindings[k] = v
	}
	if _, ok := bindings[BindTableName]; !ok {
		bindings[BindTableName] = sqltemplate.Ident(table)
	}
	compiled, err := r.compiler.Compile(sqltemplate.Request{
		Lookup:     spec.Lookup(),
		Query:      spec.QueryName(st.QueryName()),
		Bindings:   bindings,
		Groups:     params.Groups,
		Injections: params.Injections,
	})
	if err != nil {
		return fail(domain.PhaseCompiling, err)
	}

	pc.setStatus(st.Sheet, StatusExecuting)
	// Tracked before execution so a failed statement's table is still dropped.
	pc.RegisterRawTable(table)
	logger.Debug("executing stage", "table", table, "sql_digest", compiled.Digest)
	if _, err := r.gateway.Execute(ctx, compiled.SQL); err != nil {
		return fail(domain.PhaseExecuting, err)
	}

	pc.setStatus(st.Sheet, StatusCounting)
	n, err := r.gateway.Count(ctx, table)
	if err != nil {
		return fail(domain.PhaseCounting, err)
	}

	if n > 0 {
		pc.setStatus(st.Sheet, StatusCleaning)
		pred, ok, err := cleanPredicate(pc, st.Sheet)
		if err != nil {
			return fail(domain.PhaseCleaning, err)
		}
		if ok {
			stmt, err := ddl.DeleteNotMatching(table, pred)
			if err != nil {
				return fail(domain.PhaseCleaning, err)
			}
			if _, err := r.gateway.Execute(ctx, stmt); err != nil {
				return fail(domain.PhaseCleaning, err)
			}
			if n, err = r.gateway.Count(ctx, table); err != nil {
				return fail(domain.PhaseCleaning, err)
			}
		}
	}

	if n == 0 {
		pc.setStatus(st.Sheet, StatusDiscarded)
		logger.Debug("stage produced no rows", "table", table)
		return nil
	}

	if !st.Intermediate {
		if err := pc.RegisterTable(table, st.Sheet, compiled.HiddenColumns, compiled.Distinct); err != nil {
			return fail(domain.PhaseCleaning, err)
		}
		pc.setRowCount(table, n)
	}
	state.setTable(st.Sheet, table)
	pc.setStatus(st.Sheet, StatusRegistered)
	logger.Debug("stage registered", "table", table, "rows", n, "intermediate", st.Intermediate)
	return nil
}

// discard drops every table of a failed run. Failures are logged only.
func (r *Runner) discard(pc *Context, logger *slog.Logger) {
	if err := r.dropTables(context.Background(), pc.AllTableNames()); err != nil {
		logger.Error("cleanup after failed run incomplete", "error", err)
	}
}

// Drop drops every table recorded in pc, final and raw.
func (r *Runner) Drop(ctx context.Context, pc *Context) error {
	return r.dropTables(ctx, pc.AllTableNames())
}

func (r *Runner) dropTables(ctx context.Context, tables []string) error {
	var errs []error
	for _, t := range tables {
		if err := r.gateway.DropTable(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
