// Package app provides application-level wiring and dependency injection
// for the extraction server and CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/aggregation"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/cache"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/config"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/db"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/db/repository"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/extraction"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/gateway"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/gateway/postgres"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/refresh"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/sqltemplate"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// Services groups the services the API router and the CLI need.
type Services struct {
	Extraction  *extraction.Service
	Aggregation *aggregation.Service
	Products    domain.ProductRepository
	Cache       *cache.Manager
	Scheduler   *refresh.Scheduler // nil when SCHEDULER_ENABLED=false
}

// App holds the fully-wired application and the resources it owns.
type App struct {
	Services Services
	Gateway  domain.ExecutionGateway
	Registry *sql.DB

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// New opens the registry and the execution gateway and wires every service.
// Products declared in PRODUCTS_FILE are imported.
func New(ctx context.Context, deps Deps) (_ *App, err error) {
	cfg := deps.Cfg
	a := &App{cfg: cfg, logger: deps.Logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// === Product registry ===
	registryDB, err := db.OpenRegistry(ctx, cfg.RegistryDBPath)
	if err != nil {
		return nil, err
	}
	a.Registry = registryDB
	a.closers = append(a.closers, registryDB.Close)
	products := repository.NewProductRepo(registryDB)

	// === Execution gateway ===
	gw, err := a.openGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Gateway = gw

	// === Pipeline ===
	store, err := templateStore(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}
	runner := pipeline.NewRunner(sqltemplate.NewCompiler(store), gw, pipeline.Config{
		KeepRawTables: cfg.KeepRawTables,
		MaxParallel:   cfg.MaxParallelStages,
	}, deps.Logger.With("component", "pipeline"))

	registry := pipeline.NewRegistry()
	if err := extraction.RegisterFormats(registry); err != nil {
		return nil, err
	}
	extractionSvc := extraction.NewService(registry, runner, deps.Logger)

	// === Cache + aggregation ===
	cacheManager := cache.New(cache.Config{
		Enabled:      cfg.CacheEnabled,
		BuildVersion: cfg.BuildVersion,
	}, deps.Logger.With("component", "cache"))
	aggregationSvc, err := aggregation.NewService(runner, extractionSvc, products, cacheManager, aggregation.Config{
		AnalyzeEnabled:   cfg.AnalyzeEnabled,
		AnalyzeMaxValues: cfg.AnalyzeMaxValues,
		CacheTTL:         cfg.CacheDefaultTTL,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}

	// === Refresh scheduler (started by Start) ===
	var scheduler *refresh.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = refresh.NewScheduler(products, aggregationSvc, refresh.Schedules{
			domain.FrequencyHourly:  cfg.CronHourly,
			domain.FrequencyDaily:   cfg.CronDaily,
			domain.FrequencyWeekly:  cfg.CronWeekly,
			domain.FrequencyMonthly: cfg.CronMonthly,
		}, deps.Logger)
	}

	// === Declared products ===
	if cfg.ProductsFile != "" {
		if err := importProducts(ctx, products, cfg.ProductsFile, deps.Logger); err != nil {
			return nil, err
		}
	}

	a.Services = Services{
		Extraction:  extractionSvc,
		Aggregation: aggregationSvc,
		Products:    products,
		Cache:       cacheManager,
		Scheduler:   scheduler,
	}
	return a, nil
}

func (a *App) openGateway(ctx context.Context, cfg *config.Config) (domain.ExecutionGateway, error) {
	logger := a.logger.With("component", "gateway", "driver", cfg.GatewayDriver)
	if cfg.GatewayDriver == config.DriverPostgres {
		gw, closeFn, err := postgres.New(ctx, cfg.GatewayDSN, cfg.StatementTimeout, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { closeFn(); return nil })
		return gw, nil
	}

	conn, err := gateway.Open(cfg.GatewayDriver, cfg.GatewayDSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	return gateway.NewSQL(conn, cfg.StatementTimeout, logger), nil
}

// templateStore searches dir, when set, before the packaged templates.
func templateStore(dir string) (sqltemplate.Chain, error) {
	var chain sqltemplate.Chain
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("template directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("template directory: %s is not a directory", dir)
		}
		chain = append(chain, sqltemplate.NewFSStore(os.DirFS(dir)))
	}
	return append(chain,
		sqltemplate.NewFSStore(extraction.Templates()),
		sqltemplate.NewFSStore(aggregation.Templates()),
	), nil
}

// Start starts the refresh scheduler, if enabled, and opens its trigger
// gate: configuration is complete once New has returned.
func (a *App) Start() error {
	if a.Services.Scheduler == nil {
		a.logger.Info("refresh scheduler disabled")
		return nil
	}
	if err := a.Services.Scheduler.Start(); err != nil {
		return err
	}
	a.Services.Scheduler.Ready()
	return nil
}

// Close stops the scheduler and releases the gateway and the registry, in
// reverse opening order.
func (a *App) Close() error {
	if a.Services.Scheduler != nil {
		<-a.Services.Scheduler.Stop().Done()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
