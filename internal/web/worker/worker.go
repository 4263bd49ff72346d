// Package worker runs periodic housekeeping: expired data cleanup, due
// subscription changes and monthly usage resets.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/flint/internal/kv"
)

type SharedResults interface {
	DeleteExpired() (int64, error)
}

type Sessions interface {
	DeleteExpiredSessions() (int64, error)
}

type Usage interface {
	ResetMonthlyUsage(cutoff time.Time) (int64, error)
}

type Billing interface {
	ApplyDue(ctx context.Context) (int, error)
}

type Pruner interface {
	Prune() int
}

// Deps are the stores the worker maintains. Any of them may be nil.
type Deps struct {
	Shared   SharedResults
	Sessions Sessions
	Usage    Usage
	Billing  Billing
	Cache    kv.Purger
	Limiter  Pruner
}

// Config holds worker configuration
type Config struct {
	Interval          time.Duration
	UsageResetEnabled bool
	BillingPeriodDays int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		Interval:          time.Minute,
		UsageResetEnabled: true,
		BillingPeriodDays: 30,
	}
}

// Report counts what one sweep changed.
type Report struct {
	SharedResults int64
	Sessions      int64
	CacheEntries  int
	RateCounters  int
	Schedules     int
	UsageResets   int64
}

// Worker performs housekeeping in the background
type Worker struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new worker
func New(deps Deps, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BillingPeriodDays <= 0 {
		cfg.BillingPeriodDays = DefaultConfig().BillingPeriodDays
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "worker"),
		now:    func() time.Time { return time.Now().UTC() },
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the worker
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker started", "interval", w.cfg.Interval)
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			r := w.Sweep(w.ctx)
			if r != (Report{}) {
				w.logger.Info("housekeeping done",
					"shared_results", r.SharedResults,
					"sessions", r.Sessions,
					"cache_entries", r.CacheEntries,
					"schedules", r.Schedules,
					"usage_resets", r.UsageResets,
				)
			}
		}
	}
}

// Sweep runs every housekeeping task once. A failing task is logged and
// does not stop the others.
func (w *Worker) Sweep(ctx context.Context) Report {
	var r Report
	var err error

	if w.deps.Shared != nil {
		if r.SharedResults, err = w.deps.Shared.DeleteExpired(); err != nil {
			w.logger.Error("failed to delete expired shared results", "error", err)
		}
	}
	if w.deps.Sessions != nil {
		if r.Sessions, err = w.deps.Sessions.DeleteExpiredSessions(); err != nil {
			w.logger.Error("failed to delete expired sessions", "error", err)
		}
	}
	if w.deps.Cache != nil {
		if r.CacheEntries, err = w.deps.Cache.Purge(ctx); err != nil {
			w.logger.Error("failed to purge cache", "error", err)
		}
	}
	if w.deps.Limiter != nil {
		r.RateCounters = w.deps.Limiter.Prune()
	}
	if w.deps.Billing != nil {
		if r.Schedules, err = w.deps.Billing.ApplyDue(ctx); err != nil {
			w.logger.Error("failed to apply subscription schedules", "error", err)
		}
	}
	if w.deps.Usage != nil && w.cfg.UsageResetEnabled {
		cutoff := w.now().AddDate(0, 0, -w.cfg.BillingPeriodDays)
		if r.UsageResets, err = w.deps.Usage.ResetMonthlyUsage(cutoff); err != nil {
			w.logger.Error("failed to reset monthly usage", "error", err)
		}
	}
	return r
}
