// Package gc sweeps resource blobs that storage control could not purge
// inline: purges that failed and blobs orphaned by a crash.
package gc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/swstore"
)

// Purger is the storage the sweeper works on. control.Control implements it.
type Purger interface {
	PurgeableResourceIDs(ctx context.Context, limit int) ([]swstore.ResourceID, error)
	OrphanResourceIDs(ctx context.Context, limit int) ([]swstore.ResourceID, error)
	PurgeResources(ctx context.Context, ids []swstore.ResourceID) (int, error)
}

// Config configures the GC manager.
type Config struct {
	Interval     time.Duration // How often to run (default: 10m)
	StartupDelay time.Duration // Delay before first run (default: 30s)
	BatchSize    int           // Max resources per phase per run (default: 500)
}

// DefaultConfig returns the default GC configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Minute,
		StartupDelay: 30 * time.Second,
		BatchSize:    500,
	}
}

// Result contains the results of a GC run.
type Result struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	PendingPurged  int           `json:"pending_purged"`
	OrphansPurged  int           `json:"orphans_purged"`
	PendingSkipped int           `json:"pending_skipped"`
	Errors         []string      `json:"errors,omitempty"`
}

// Manager runs the sweeper periodically.
type Manager struct {
	purger  Purger
	config  Config
	metrics *Metrics
	logger  *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	lastRun *Result
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records run metrics on meter.
func WithMetrics(meter metric.Meter) ManagerOption {
	return func(m *Manager) {
		metrics, err := NewMetrics(meter)
		if err != nil {
			m.logger.Error("failed to create gc metrics", "error", err)
			return
		}
		m.metrics = metrics
	}
}

// New creates a new GC manager.
func New(purger Purger, config Config, opts ...ManagerOption) *Manager {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	m := &Manager{
		purger: purger,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start starts the background GC goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx, m.stopCh, m.doneCh)
}

// Stop stops the background goroutine and waits for a run in progress.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow triggers an immediate GC run.
func (m *Manager) RunNow(ctx context.Context) (*Result, error) {
	return m.runGC(ctx), nil
}

// Status returns the last GC run result, or nil before the first run.
func (m *Manager) Status() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

func (m *Manager) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	m.logger.Info("gc manager starting",
		"interval", m.config.Interval,
		"startup_delay", m.config.StartupDelay,
		"batch_size", m.config.BatchSize,
	)

	select {
	case <-time.After(m.config.StartupDelay):
	case <-stopCh:
		m.logger.Info("gc manager stopped during startup delay")
		return
	case <-ctx.Done():
		m.logger.Info("gc manager context cancelled during startup delay")
		m.setStopped()
		return
	}

	m.runGC(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runGC(ctx)
		case <-stopCh:
			m.logger.Info("gc manager stopped")
			return
		case <-ctx.Done():
			m.logger.Info("gc manager context cancelled")
			m.setStopped()
			return
		}
	}
}

func (m *Manager) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) runGC(ctx context.Context) *Result {
	result := &Result{
		StartedAt: time.Now(),
	}

	m.logger.Debug("starting gc run")

	// Phase 1: retry purges that failed or were deferred
	m.phasePendingPurges(ctx, result)

	// Phase 2: blobs with no database record
	m.phaseOrphans(ctx, result)

	result.Duration = time.Since(result.StartedAt)

	m.mu.Lock()
	m.lastRun = result
	m.mu.Unlock()

	m.recordMetrics(ctx, result)

	level := slog.LevelDebug
	if result.PendingPurged+result.OrphansPurged > 0 || len(result.Errors) > 0 {
		level = slog.LevelInfo
	}
	m.logger.Log(ctx, level, "gc run completed",
		"duration", result.Duration,
		"pending_purged", result.PendingPurged,
		"orphans_purged", result.OrphansPurged,
		"errors", len(result.Errors),
	)

	return result
}

func (m *Manager) recordMetrics(ctx context.Context, result *Result) {
	if m.metrics == nil {
		return
	}

	m.metrics.runsTotal.Add(ctx, 1)
	m.metrics.runDuration.Record(ctx, result.Duration.Seconds())
	m.metrics.pendingPurged.Add(ctx, int64(result.PendingPurged))
	m.metrics.orphansPurged.Add(ctx, int64(result.OrphansPurged))
	m.metrics.errorsTotal.Add(ctx, int64(len(result.Errors)))
	m.metrics.lastRunTimestamp.Record(ctx, float64(result.StartedAt.Unix()))

	if len(result.Errors) == 0 {
		m.metrics.lastRunSuccess.Record(ctx, 1)
	} else {
		m.metrics.lastRunSuccess.Record(ctx, 0)
	}
}
