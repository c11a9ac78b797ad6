// Package control is the storage control for service worker registrations.
// It owns the registration database, the resource blob store and the
// lifecycle tracker, and runs every operation on one serialized task queue.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-microbatch"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/backend"
	"github.com/wolfeidau/swstore/resource"
	"github.com/wolfeidau/swstore/store/codec"
	"github.com/wolfeidau/swstore/store/lifecycle"
	"github.com/wolfeidau/swstore/store/regdb"
	"github.com/wolfeidau/swstore/telemetry"
)

const (
	databaseFile = "registrations.db"
	resourcesDir = "resources"
)

// Config configures a Control.
type Config struct {
	// Dir holds the registration database and the resource blobs.
	Dir string

	// PurgeConcurrency bounds parallel blob deletion during a purge.
	PurgeConcurrency int

	// HeadCacheSize is the number of decoded response heads kept in memory.
	HeadCacheSize int

	// NoSync disables fsync. Use only for tests.
	NoSync bool
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		PurgeConcurrency: 4,
		HeadCacheSize:    resource.DefaultHeadCacheSize,
	}
}

type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateInitialized
	stateDisabled
)

// Control is the storage control. All exported methods are safe for
// concurrent use; each blocks until its task has run on the queue.
type Control struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	sessionID string
	queue     *microbatch.Batcher[*task]

	// backend may be injected; everything below it is owned by the queue.
	backend backend.WriterBackend
	state   lifecycleState
	codec   *codec.Codec
	db      *regdb.DB
	blobs   *resource.Store
	tracker *lifecycle.Tracker

	// sessionResourceID is the first resource id allocated in this
	// session. Blobs below it with no database record are orphans.
	sessionResourceID swstore.ResourceID
}

// Option configures a Control.
type Option func(*Control)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Control) {
		c.logger = logger
	}
}

// WithNow sets the time source for testing.
func WithNow(now func() time.Time) Option {
	return func(c *Control) {
		c.now = now
	}
}

// WithBackend stores resource blobs on b instead of the filesystem under
// Config.Dir.
func WithBackend(b backend.WriterBackend) Option {
	return func(c *Control) {
		c.backend = b
	}
}

// New creates a Control. Every operation returns swstore.ErrDisabled until
// Initialize succeeds.
func New(cfg Config, opts ...Option) *Control {
	if cfg.PurgeConcurrency <= 0 {
		cfg.PurgeConcurrency = 1
	}
	if cfg.HeadCacheSize <= 0 {
		cfg.HeadCacheSize = resource.DefaultHeadCacheSize
	}

	c := &Control{
		cfg:               cfg,
		logger:            slog.Default(),
		now:               time.Now,
		sessionID:         uuid.NewString(),
		sessionResourceID: swstore.InvalidResourceID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session_id", c.sessionID)
	c.queue = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        1,
		FlushInterval:  -1,
		MaxConcurrency: 1,
	}, processTasks)
	return c
}

// SessionID identifies this Control instance in logs.
func (c *Control) SessionID() string { return c.sessionID }

// Initialize opens storage and performs startup cleanup: registrations of
// purge-on-shutdown origins are deleted, resources left uncommitted by a
// previous session become purgeable, and every purgeable resource is purged.
// Calling Initialize again is a no-op.
func (c *Control) Initialize(ctx context.Context) error {
	return c.run(ctx, "initialize", func(ctx context.Context) error {
		switch c.state {
		case stateInitialized:
			return nil
		case stateDisabled:
			return swstore.ErrDisabled
		}
		if err := c.open(); err != nil {
			c.closeStorage()
			return err
		}
		if err := c.startupCleanup(ctx); err != nil {
			c.closeStorage()
			return err
		}
		c.state = stateInitialized
		c.logger.Info("storage initialized", "dir", c.cfg.Dir, "next_resource_id", c.sessionResourceID)
		return nil
	})
}

func (c *Control) open() error {
	if c.cfg.Dir == "" {
		return fmt.Errorf("%w: storage directory not configured", swstore.ErrFailed)
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	vc, err := codec.New()
	if err != nil {
		return err
	}
	c.codec = vc

	b := c.backend
	if b == nil {
		var fsOpts []backend.FilesystemOption
		if c.cfg.NoSync {
			fsOpts = append(fsOpts, backend.WithNoSync())
		}
		fs, err := backend.NewFilesystem(filepath.Join(c.cfg.Dir, resourcesDir), fsOpts...)
		if err != nil {
			return fmt.Errorf("creating resource backend: %w", err)
		}
		b = backend.NewInstrumentedBackend(fs, "filesystem")
	}

	blobs, err := resource.New(b,
		resource.WithLogger(c.logger),
		resource.WithNow(c.now),
		resource.WithCodec(vc),
		resource.WithHeadCacheSize(c.cfg.HeadCacheSize),
	)
	if err != nil {
		return fmt.Errorf("creating resource store: %w", err)
	}
	c.blobs = blobs

	db := regdb.New(
		regdb.WithLogger(c.logger),
		regdb.WithNow(c.now),
		regdb.WithNoSync(c.cfg.NoSync),
		regdb.WithCodec(vc),
	)
	if err := db.Open(filepath.Join(c.cfg.Dir, databaseFile)); err != nil {
		return err
	}
	c.db = db
	c.tracker = lifecycle.New()
	return nil
}

func (c *Control) startupCleanup(ctx context.Context) error {
	deleted, err := c.db.ApplyPurgeOnShutdown(ctx)
	if err != nil {
		return fmt.Errorf("applying purge on shutdown: %w", err)
	}
	for _, dv := range deleted {
		c.tracker.MarkDeleted(dv.VersionID, dv.PurgeableResourceIDs)
	}

	uncommitted, err := c.db.GetUncommittedResourceIDs(ctx)
	if err != nil {
		return err
	}
	if len(uncommitted) > 0 {
		if err := c.db.PurgeUncommittedResourceIDs(ctx, uncommitted); err != nil {
			return err
		}
	}

	purgeable, err := c.db.GetPurgeableResourceIDs(ctx, 0)
	if err != nil {
		return err
	}
	if n, err := c.purgeResources(ctx, purgeable, "stale"); err != nil {
		// Failed ids stay purgeable for the sweeper.
		c.logger.Warn("stale resource cleanup incomplete", "purged", n, "pending", len(purgeable)-n, "error", err)
	}

	next, err := c.db.PeekNextResourceID(ctx)
	if err != nil {
		return err
	}
	c.sessionResourceID = next

	if len(deleted) > 0 || len(uncommitted) > 0 || len(purgeable) > 0 {
		c.logger.Info("startup cleanup complete",
			"purged_registrations", len(deleted),
			"uncommitted_resources", len(uncommitted),
			"purgeable_resources", len(purgeable),
		)
	}
	return nil
}

// Disable makes every later operation fail with swstore.ErrDisabled.
func (c *Control) Disable(ctx context.Context) error {
	return c.run(ctx, "disable", func(context.Context) error {
		if c.state != stateDisabled {
			c.logger.Warn("storage disabled")
		}
		c.state = stateDisabled
		return nil
	})
}

// Close closes storage behind every task already queued and stops the
// queue. The Control cannot be used afterwards; restart by creating a new
// Control on the same directory. Closing twice is a no-op.
func (c *Control) Close(ctx context.Context) error {
	err := c.run(context.WithoutCancel(ctx), "close", func(context.Context) error {
		c.state = stateDisabled
		c.closeStorage()
		return nil
	})
	// ErrDisabled here means an earlier Close already stopped the queue.
	if err != nil && !errors.Is(err, swstore.ErrDisabled) {
		return err
	}
	return c.queue.Shutdown(ctx)
}

func (c *Control) closeStorage() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("closing registration database", "error", err)
		}
		c.db = nil
	}
	if c.blobs != nil {
		c.blobs.Close()
		c.blobs = nil
	}
	if c.codec != nil {
		c.codec.Close()
		c.codec = nil
	}
}

// RunPendingTasks waits until every task queued before the call has run,
// including purges triggered by released references.
func (c *Control) RunPendingTasks(ctx context.Context) error {
	return c.run(ctx, "run_pending_tasks", func(context.Context) error { return nil })
}

// Stats summarizes storage state for the admin surface.
type Stats struct {
	SessionID             string
	Initialized           bool
	LiveVersions          int
	UncommittedResources  int
	PurgeableResources    int
	FirstSessionResource  swstore.ResourceID
	RegisteredOriginCount int
}

// Stats returns a snapshot of storage state.
func (c *Control) Stats(ctx context.Context) (*Stats, error) {
	var stats *Stats
	err := c.runInitialized(ctx, "stats", func(ctx context.Context) error {
		uncommitted, err := c.db.GetUncommittedResourceIDs(ctx)
		if err != nil {
			return err
		}
		purgeable, err := c.db.GetPurgeableResourceIDs(ctx, 0)
		if err != nil {
			return err
		}
		origins, err := c.db.GetRegisteredOrigins(ctx)
		if err != nil {
			return err
		}
		stats = &Stats{
			SessionID:             c.sessionID,
			Initialized:           true,
			LiveVersions:          c.tracker.LiveVersions(),
			UncommittedResources:  len(uncommitted),
			PurgeableResources:    len(purgeable),
			FirstSessionResource:  c.sessionResourceID,
			RegisteredOriginCount: len(origins),
		}
		return nil
	})
	return stats, err
}

// classify wraps errors outside the status taxonomy with swstore.ErrFailed.
func classify(err error) error {
	if err == nil ||
		errors.Is(err, swstore.ErrNotFound) ||
		errors.Is(err, swstore.ErrFailed) ||
		errors.Is(err, swstore.ErrDisabled) {
		return err
	}
	return fmt.Errorf("%w: %w", swstore.ErrFailed, err)
}

func recordOperation(ctx context.Context, name string, err error, start time.Time) {
	telemetry.RecordOperation(ctx, name, swstore.StatusOf(err).String(), time.Since(start))
}
