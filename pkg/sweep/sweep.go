// Package sweep runs periodic cleanup: trash expiry, cache reaping, audit
// pruning and idle locking. Each concern is a Sweeper; the Janitor runs them
// in order on a ticker and keeps per-sweeper counters.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/forest6511/nimbusvault/internal/logging"
)

// Sweeper removes whatever has expired as of now and reports how many
// things it removed.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration  // how often a cycle begins
	Logger   logging.Logger // defaults to slog.Default()
	Now      func() time.Time
}

// Metrics accumulates in-memory counters.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Removed             map[string]uint64
	Errors              map[string]uint64
	CycleLastDurationMS int64
	LastCycle           time.Time
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Removed             map[string]uint64
	Errors              map[string]uint64
	CycleLastDurationMS int64
	LastCycle           time.Time
}

func (m *Metrics) record(name string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.Errors[name]++
	}
	if n > 0 {
		m.Removed[name] += uint64(n)
	}
}

func (m *Metrics) recordCycle(at time.Time, d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.LastCycle = at
	m.mu.Unlock()
}

// Janitor runs sweepers on an interval.
type Janitor struct {
	sweepers []Sweeper
	cfg      Config
	metrics  *Metrics

	ticker  *time.Ticker
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	startMu sync.Mutex
}

// New constructs but does not start a Janitor.
func New(cfg Config, sweepers ...Sweeper) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewSlogLogger(slog.Default())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Janitor{
		sweepers: sweepers,
		cfg:      cfg,
		metrics: &Metrics{
			Removed: make(map[string]uint64),
			Errors:  make(map[string]uint64),
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs one cycle immediately, then launches the loop in a new
// goroutine. Calling Start twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.startMu.Lock()
	defer j.startMu.Unlock()
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stop on a
// Janitor that was never started returns immediately.
func (j *Janitor) Stop() {
	j.startMu.Lock()
	started := j.ticker != nil
	j.startMu.Unlock()
	j.once.Do(func() { close(j.stopCh) })
	if started {
		<-j.doneCh
	}
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	v := MetricsView{
		Cycles:              j.metrics.Cycles,
		Removed:             make(map[string]uint64, len(j.metrics.Removed)),
		Errors:              make(map[string]uint64, len(j.metrics.Errors)),
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
		LastCycle:           j.metrics.LastCycle,
	}
	for k, n := range j.metrics.Removed {
		v.Removed[k] = n
	}
	for k, n := range j.metrics.Errors {
		v.Errors[k] = n
	}
	return v
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info(ctx, "janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce runs every sweeper once and returns the number removed per
// sweeper. A failing sweeper is logged and does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) map[string]int {
	start := time.Now()
	now := j.cfg.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")

	out := make(map[string]int, len(j.sweepers))
	total := 0
	for _, s := range j.sweepers {
		if ctx.Err() != nil {
			break
		}
		n, err := s.Sweep(ctx, now)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "sweep failed", "sweeper", s.Name(), "error", err)
		}
		j.metrics.record(s.Name(), n, err)
		out[s.Name()] = n
		total += n
	}
	j.metrics.recordCycle(now, time.Since(start))
	log.Info(ctx, "cycle complete", "removed", total, "ms", time.Since(start).Milliseconds())
	return out
}
