// Package refresh re-aggregates published products on cron schedules, one
// trigger per processing frequency.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// Schedules maps each periodic frequency to a cron expression with a
// leading seconds field.
type Schedules map[domain.ProcessingFrequency]string

// DefaultSchedules returns the default triggers: hourly at minute 0, daily
// at midnight, weekly on Monday at 00:02 and monthly on the 1st at midnight.
func DefaultSchedules() Schedules {
	return Schedules{
		domain.FrequencyHourly:  "0 0 * * * ?",
		domain.FrequencyDaily:   "0 0 0 * * ?",
		domain.FrequencyWeekly:  "0 2 0 ? * MON",
		domain.FrequencyMonthly: "0 0 0 1 * ?",
	}
}

// frequencies in trigger registration order.
var frequencies = []domain.ProcessingFrequency{
	domain.FrequencyHourly,
	domain.FrequencyDaily,
	domain.FrequencyWeekly,
	domain.FrequencyMonthly,
}

// refreshStatuses are the product statuses picked up by a refresh.
var refreshStatuses = []domain.ProductStatus{domain.ProductStatusEnabled, domain.ProductStatusTemporary}

// Result counts the outcome of one refresh.
type Result struct {
	Frequency domain.ProcessingFrequency `json:"frequency"`
	Succeeded int                        `json:"succeeded"`
	Failed    int                        `json:"failed"`
}

// Scheduler runs the refresh triggers. Triggers are no-ops until Ready is
// called; runs of one frequency never overlap.
type Scheduler struct {
	cron      *cron.Cron
	products  domain.ProductRepository
	updater   domain.ProductUpdater
	schedules Schedules
	logger    *slog.Logger

	ready   atomic.Bool
	running map[domain.ProcessingFrequency]*sync.Mutex

	mu      sync.Mutex
	entries map[domain.ProcessingFrequency]cron.EntryID
}

// NewScheduler creates a Scheduler. Frequencies missing from schedules use
// the defaults.
func NewScheduler(products domain.ProductRepository, updater domain.ProductUpdater, schedules Schedules, logger *slog.Logger) *Scheduler {
	merged := DefaultSchedules()
	for f, expr := range schedules {
		if expr != "" {
			merged[f] = expr
		}
	}
	logger = logger.With("component", "refresh")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	running := make(map[domain.ProcessingFrequency]*sync.Mutex, len(frequencies))
	for _, f := range frequencies {
		running[f] = &sync.Mutex{}
	}
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		products:  products,
		updater:   updater,
		schedules: merged,
		logger:    logger,
		running:   running,
		entries:   make(map[domain.ProcessingFrequency]cron.EntryID),
	}
}

// Start registers one trigger per frequency and starts the cron scheduler.
// An invalid expression fails Start and nothing is scheduled.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range frequencies {
		expr := s.schedules[f]
		entryID, err := s.cron.AddFunc(expr, func() { s.trigger(f) })
		if err != nil {
			for _, id := range s.entries {
				s.cron.Remove(id)
			}
			s.entries = make(map[domain.ProcessingFrequency]cron.EntryID)
			return fmt.Errorf("invalid %s schedule %q: %w", f, expr, err)
		}
		s.entries[f] = entryID
		s.logger.Info("scheduled refresh", "frequency", f, "schedule", expr)
	}
	s.cron.Start()
	s.logger.Info("refresh scheduler started")
	return nil
}

// Stop stops the cron scheduler. The returned context is done once running
// refreshes have returned.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("refresh scheduler stopped")
	return ctx
}

// Ready opens the trigger gate. Calling it again has no effect.
func (s *Scheduler) Ready() {
	if s.ready.CompareAndSwap(false, true) {
		s.logger.Info("refresh scheduler ready")
	}
}

// IsReady reports whether triggers run refreshes.
func (s *Scheduler) IsReady() bool { return s.ready.Load() }

// Next returns the next activation of the trigger of f.
func (s *Scheduler) Next(f domain.ProcessingFrequency) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[f]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// trigger is the cron job of frequency f.
func (s *Scheduler) trigger(f domain.ProcessingFrequency) {
	if !s.ready.Load() {
		s.logger.Debug("refresh skipped, scheduler not ready", "frequency", f)
		return
	}
	lock := s.running[f]
	if !lock.TryLock() {
		s.logger.Warn("refresh skipped, previous run still in progress", "frequency", f)
		return
	}
	defer lock.Unlock()

	if _, err := s.Refresh(context.Background(), f); err != nil {
		s.logger.Error("scheduled refresh failed", "frequency", f, "error", err)
	}
}

// RefreshExclusive runs Refresh unless a refresh of f is already in
// progress, in which case it returns a ConflictError.
func (s *Scheduler) RefreshExclusive(ctx context.Context, f domain.ProcessingFrequency) (Result, error) {
	lock, ok := s.running[f]
	if !ok {
		return Result{Frequency: f}, domain.ErrValidation("invalid refresh frequency %q", f)
	}
	if !lock.TryLock() {
		return Result{Frequency: f}, domain.ErrConflict("a %s refresh is already running", f)
	}
	defer lock.Unlock()
	return s.Refresh(ctx, f)
}

// Refresh updates every enabled or temporary product declaring frequency f.
// A product failure is logged and counted; the loop goes on.
func (s *Scheduler) Refresh(ctx context.Context, f domain.ProcessingFrequency) (Result, error) {
	result := Result{Frequency: f}
	if !f.IsScheduled() {
		return result, domain.ErrValidation("invalid refresh frequency %q", f)
	}

	products, err := s.products.FindByFrequency(ctx, f, refreshStatuses)
	if err != nil {
		return result, fmt.Errorf("find %s products: %w", f, err)
	}
	if len(products) == 0 {
		s.logger.Info("no product to refresh", "frequency", f)
		return result, nil
	}

	start := time.Now()
	s.logger.Info("refreshing products", "frequency", f, "count", len(products))
	for _, p := range products {
		if ctx.Err() != nil {
			break
		}
		if err := s.updater.UpdateProduct(ctx, p.ID); err != nil {
			result.Failed++
			s.logger.Error("product refresh failed",
				"product_id", p.ID,
				"product_label", p.Label,
				"error", err,
			)
			continue
		}
		result.Succeeded++
	}
	s.logger.Info("refresh completed",
		"frequency", f,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	return result, ctx.Err()
}
