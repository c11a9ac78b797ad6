// Command swstore serves and administers service worker registration
// storage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/control"
	"github.com/wolfeidau/swstore/server"
	"github.com/wolfeidau/swstore/store/gc"
	"github.com/wolfeidau/swstore/telemetry"
)

var version = "dev"

type Globals struct {
	Dir       string `help:"Storage directory." default:"./swstore" env:"SWSTORE_DIR" type:"path"`
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"SWSTORE_LOG_LEVEL"`
	LogFormat string `help:"Log format." default:"text" enum:"text,json" env:"SWSTORE_LOG_FORMAT"`

	logger *slog.Logger
}

type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve         ServeCmd         `cmd:"" help:"Serve the admin API and run the purge sweeper."`
	Origins       OriginsCmd       `cmd:"" help:"List origins with registrations and their usage."`
	Registrations RegistrationsCmd `cmd:"" help:"Print registrations as JSON."`
	Cleanup       CleanupCmd       `cmd:"" help:"Purge pending and orphaned resources, then exit."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("swstore"),
		kong.Description("Service worker registration storage."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	ctx.FatalIfErrorf(err)
	slog.SetDefault(logger)
	cli.logger = logger

	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// openControl opens storage for a one-shot command.
func openControl(ctx context.Context, g *Globals) (*control.Control, error) {
	c := control.New(control.DefaultConfig(g.Dir), control.WithLogger(g.logger))
	if err := c.Initialize(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

type ServeCmd struct {
	Address          string        `help:"Address to listen on." default:":8080" env:"SWSTORE_ADDRESS"`
	AuthToken        string        `help:"Bearer token for admin endpoints." env:"SWSTORE_AUTH_TOKEN"`
	PurgeConcurrency int           `help:"Parallel resource deletions per purge." default:"4" env:"SWSTORE_PURGE_CONCURRENCY"`
	HeadCacheSize    int           `help:"Response heads cached in memory." default:"1024" env:"SWSTORE_HEAD_CACHE_SIZE"`
	GCInterval       time.Duration `help:"Purge sweeper interval." default:"10m" env:"SWSTORE_GC_INTERVAL"`
	GCStartupDelay   time.Duration `help:"Delay before the first sweep." default:"30s" env:"SWSTORE_GC_STARTUP_DELAY"`
	GCBatchSize      int           `help:"Resources per sweep phase." default:"500" env:"SWSTORE_GC_BATCH_SIZE"`
	Prometheus       bool          `help:"Serve Prometheus metrics on /metrics." default:"true" negatable:"" env:"SWSTORE_PROMETHEUS"`
	OTLPEndpoint     string        `help:"OTLP gRPC endpoint for metrics export." env:"SWSTORE_OTLP_ENDPOINT"`
}

func (cmd *ServeCmd) Run(g *Globals) error {
	logger := g.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceVersion:   version,
		OTLPEndpoint:     cmd.OTLPEndpoint,
		EnablePrometheus: cmd.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Address:          cmd.Address,
		StoragePath:      g.Dir,
		AuthToken:        cmd.AuthToken,
		PurgeConcurrency: cmd.PurgeConcurrency,
		HeadCacheSize:    cmd.HeadCacheSize,
		GC: gc.Config{
			Interval:     cmd.GCInterval,
			StartupDelay: cmd.GCStartupDelay,
			BatchSize:    cmd.GCBatchSize,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-errCh:
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type OriginsCmd struct{}

func (cmd *OriginsCmd) Run(g *Globals) error {
	ctx := context.Background()
	c, err := openControl(ctx, g)
	if err != nil {
		return err
	}
	defer c.Close(ctx) //nolint:errcheck

	origins, err := c.GetRegisteredOrigins(ctx)
	if err != nil {
		return err
	}
	for _, o := range origins {
		usage, err := c.GetUsageForOrigin(ctx, o)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\n", o, usage)
	}
	return nil
}

type RegistrationsCmd struct {
	Origin string `help:"Only list registrations of this origin, e.g. https://example.com." optional:""`
}

func (cmd *RegistrationsCmd) Run(g *Globals) error {
	ctx := context.Background()
	c, err := openControl(ctx, g)
	if err != nil {
		return err
	}
	defer c.Close(ctx) //nolint:errcheck

	var regs []swstore.RegistrationData
	if cmd.Origin == "" {
		regs, err = c.GetAllRegistrations(ctx)
		if err != nil {
			return err
		}
	} else {
		origin, err := swstore.ParseOrigin(cmd.Origin)
		if err != nil {
			return err
		}
		found, err := c.GetRegistrationsForOrigin(ctx, origin)
		if err != nil {
			return err
		}
		for _, f := range found {
			f.Reference.Release()
			regs = append(regs, f.Registration)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(regs)
}

type CleanupCmd struct {
	BatchSize int `help:"Resources per sweep phase." default:"500"`
}

func (cmd *CleanupCmd) Run(g *Globals) error {
	ctx := context.Background()
	c, err := openControl(ctx, g)
	if err != nil {
		return err
	}
	defer c.Close(ctx) //nolint:errcheck

	purged, err := c.PerformStorageCleanup(ctx)
	if err != nil {
		return err
	}

	cfg := gc.DefaultConfig()
	cfg.BatchSize = cmd.BatchSize
	result, err := gc.New(c, cfg, gc.WithLogger(g.logger)).RunNow(ctx)
	if err != nil {
		return err
	}

	g.logger.Info("cleanup complete",
		"purgeable_purged", purged+result.PendingPurged,
		"orphans_purged", result.OrphansPurged,
		"errors", len(result.Errors),
	)
	if len(result.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d errors", len(result.Errors))
	}
	return nil
}
