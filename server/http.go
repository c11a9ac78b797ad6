// Package server provides the admin HTTP server for service worker storage.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/swstore/control"
	"github.com/wolfeidau/swstore/store/gc"
	"github.com/wolfeidau/swstore/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// StoragePath is the directory holding the registration database and
	// resource blobs.
	StoragePath string

	// AuthToken protects admin endpoints with a bearer token. Empty
	// disables authentication.
	AuthToken string

	// PurgeConcurrency bounds parallel resource deletion.
	PurgeConcurrency int

	// HeadCacheSize is the number of response heads cached in memory.
	HeadCacheSize int

	// GC configures the purge sweeper.
	GC gc.Config

	// NoSync disables fsync. Use only for tests.
	NoSync bool

	// Logger for the server
	Logger *slog.Logger
}

// Server is the admin HTTP server. It owns the storage control and the
// purge sweeper.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	control *control.Control
	gc      *gc.Manager
}

// New creates a new server with the given configuration. Storage is opened
// by Initialize or Start.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./swstore"
	}

	ctlCfg := control.DefaultConfig(cfg.StoragePath)
	if cfg.PurgeConcurrency > 0 {
		ctlCfg.PurgeConcurrency = cfg.PurgeConcurrency
	}
	if cfg.HeadCacheSize > 0 {
		ctlCfg.HeadCacheSize = cfg.HeadCacheSize
	}
	ctlCfg.NoSync = cfg.NoSync
	ctl := control.New(ctlCfg, control.WithLogger(cfg.Logger.With("component", "control")))

	gcMgr := gc.New(ctl, cfg.GC,
		gc.WithLogger(cfg.Logger.With("component", "gc")),
		gc.WithMetrics(telemetry.Meter()),
	)

	s := &Server{
		config:  cfg,
		logger:  cfg.Logger,
		control: ctl,
		gc:      gcMgr,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the server's routes wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(s.authMiddleware(mux))
}

// Control returns the storage control served by s.
func (s *Server) Control() *control.Control {
	return s.control
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /origins", s.handleOrigins)
	mux.HandleFunc("GET /registrations", s.handleListRegistrations)
	mux.HandleFunc("GET /registrations/{id}", s.handleGetRegistration)
	mux.HandleFunc("DELETE /registrations/{id}", s.handleDeleteRegistration)
	mux.HandleFunc("GET /registrations/{id}/userdata", s.handleUserData)
	mux.HandleFunc("GET /resources/{id}", s.handleResource)

	mux.HandleFunc("POST /admin/gc", s.handleGCRun)
	mux.HandleFunc("GET /admin/gc/status", s.handleGCStatus)
	mux.HandleFunc("POST /admin/cleanup", s.handleCleanup)
	mux.HandleFunc("PUT /admin/policy", s.handlePolicy)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.StorageStatus != "" {
			attrs = append(attrs, "storage_status", tags.StorageStatus)
		}

		level := slog.LevelInfo
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, duration)
	})
}

// Initialize opens storage. Start calls it.
func (s *Server) Initialize(ctx context.Context) error {
	if err := s.control.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	return nil
}

// Start opens storage, starts the sweeper and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	s.gc.Start(ctx)

	s.logger.Info("starting server", "address", s.config.Address, "storage", s.config.StoragePath)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops serving, stops the sweeper and closes storage.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	httpErr := s.httpServer.Shutdown(ctx)
	if err := s.gc.Stop(ctx); err != nil {
		s.logger.Warn("stopping gc manager", "error", err)
	}
	if err := s.control.Close(ctx); err != nil {
		s.logger.Warn("closing storage", "error", err)
	}
	return httpErr
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
