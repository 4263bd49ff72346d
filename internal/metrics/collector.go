package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Collector keeps the system gauges current.
type Collector struct {
	metrics   *Metrics
	interval  time.Duration
	startTime time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new system gauge collector
func NewCollector(m *Metrics, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:   m,
		interval:  interval,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins updating gauges in the background
func (c *Collector) Start(ctx context.Context) {
	c.update()
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.update()
		}
	}
}

func (c *Collector) update() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
}
