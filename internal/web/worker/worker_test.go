package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStores struct {
	mu     sync.Mutex
	sweeps int
	cutoff time.Time
	err    error
}

func (f *fakeStores) DeleteExpired() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 2, f.err
}

func (f *fakeStores) DeleteExpiredSessions() (int64, error) { return 3, nil }

func (f *fakeStores) ResetMonthlyUsage(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	return 4, nil
}

func (f *fakeStores) ApplyDue(ctx context.Context) (int, error) { return 1, nil }

func (f *fakeStores) Purge(ctx context.Context) (int, error) { return 5, nil }

func (f *fakeStores) Prune() int { return 6 }

func (f *fakeStores) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func allDeps(f *fakeStores) Deps {
	return Deps{Shared: f, Sessions: f, Usage: f, Billing: f, Cache: f, Limiter: f}
}

func TestSweep(t *testing.T) {
	f := &fakeStores{}
	w := New(allDeps(f), Config{Interval: time.Hour, UsageResetEnabled: true, BillingPeriodDays: 30}, discard())
	fixed := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	got := w.Sweep(context.Background())
	want := Report{SharedResults: 2, Sessions: 3, CacheEntries: 5, RateCounters: 6, Schedules: 1, UsageResets: 4}
	if got != want {
		t.Errorf("Sweep() = %+v, want %+v", got, want)
	}
	if wantCutoff := fixed.AddDate(0, 0, -30); !f.cutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", f.cutoff, wantCutoff)
	}
}

func TestSweepContinuesAfterError(t *testing.T) {
	f := &fakeStores{err: errors.New("disk full")}
	w := New(allDeps(f), Config{UsageResetEnabled: false}, discard())

	got := w.Sweep(context.Background())
	if got.Sessions != 3 || got.Schedules != 1 {
		t.Errorf("later tasks skipped: %+v", got)
	}
	if got.UsageResets != 0 {
		t.Errorf("usage reset ran while disabled: %+v", got)
	}
}

func TestSweepNilDeps(t *testing.T) {
	w := New(Deps{}, DefaultConfig(), discard())
	if got := w.Sweep(context.Background()); got != (Report{}) {
		t.Errorf("Sweep() = %+v, want empty report", got)
	}
}

func TestStartStop(t *testing.T) {
	f := &fakeStores{}
	w := New(allDeps(f), Config{Interval: time.Millisecond}, discard())
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for f.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w.Stop()

	if f.count() == 0 {
		t.Fatal("worker never swept")
	}
}
