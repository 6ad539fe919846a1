package cli

import (
	"context"
	"log/slog"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/app"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/config"
)

// loadConfig reads .env, then the environment.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

// openApp wires the application for a one-shot command: no scheduler and
// no products file import unless mutate says otherwise.
func openApp(ctx context.Context, mutate func(*config.Config)) (*app.App, *slog.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.SchedulerEnabled = false
	cfg.ProductsFile = ""
	if mutate != nil {
		mutate(cfg)
	}
	a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}
