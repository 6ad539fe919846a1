package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/api"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/middleware"
)

const (
	cacheEvictInterval = time.Minute
	limiterSweep       = 5 * time.Minute
	shutdownTimeout    = 10 * time.Second
)

// Handler builds the HTTP admin API. The limiter is returned so its sweep
// loop can be run alongside the server.
func (a *App) Handler() (http.Handler, *middleware.RateLimiter) {
	var refresher api.Refresher
	if a.Services.Scheduler != nil {
		refresher = a.Services.Scheduler
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.TriggerRatePerSecond,
		Burst:             a.cfg.TriggerBurst,
	})
	h := api.NewHandler(a.Services.Cache, refresher, a.Services.Aggregation, a.Services.Aggregation, a.logger)
	return api.NewRouter(h, api.RouterConfig{
		Logger:         a.logger,
		TriggerLimiter: limiter,
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
	}), limiter
}

// Serve runs the HTTP API on addr until ctx is done, together with the
// cache eviction and rate-limiter sweep loops.
func (a *App) Serve(ctx context.Context, addr string) error {
	handler, limiter := a.Handler()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Services.Cache.Run(ctx, cacheEvictInterval)
		return nil
	})
	g.Go(func() error {
		limiter.Run(ctx, limiterSweep)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.logger.Info("HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
