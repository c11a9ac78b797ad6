package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/swstore"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	resourceBytesTotal   metric.Int64Counter
	resourcesPurgedTotal metric.Int64Counter
	liveVersions         metric.Int64Gauge

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "swstore"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// Without exporters a no-op periodic reader still lets instruments record.
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	operationsTotal, err := meter.Int64Counter(
		"swstore_storage_operations_total",
		metric.WithDescription("Total number of storage control operations by status"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram(
		"swstore_storage_operation_duration_seconds",
		metric.WithDescription("Storage control operation duration including queue wait"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return nil, err
	}

	backendRequestDuration, err := meter.Float64Histogram(
		"swstore_backend_request_duration_seconds",
		metric.WithDescription("Duration of blob backend operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, err
	}

	backendRequestsTotal, err := meter.Int64Counter(
		"swstore_backend_requests_total",
		metric.WithDescription("Total number of blob backend operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	backendBytesTotal, err := meter.Int64Counter(
		"swstore_backend_bytes_total",
		metric.WithDescription("Total bytes transferred by blob backend operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	resourceBytesTotal, err := meter.Int64Counter(
		"swstore_resource_bytes_total",
		metric.WithDescription("Uncompressed resource body bytes written and read"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	resourcesPurgedTotal, err := meter.Int64Counter(
		"swstore_resources_purged_total",
		metric.WithDescription("Total number of resources whose blobs were deleted"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	liveVersions, err := meter.Int64Gauge(
		"swstore_live_versions",
		metric.WithDescription("Number of versions with outstanding live references"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestsTotal, err := meter.Int64Counter(
		"swstore_http_requests_total",
		metric.WithDescription("Total number of admin HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"swstore_http_request_duration_seconds",
		metric.WithDescription("Admin HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operationsTotal:        operationsTotal,
		operationDuration:      operationDuration,
		backendRequestDuration: backendRequestDuration,
		backendRequestsTotal:   backendRequestsTotal,
		backendBytesTotal:      backendBytesTotal,
		resourceBytesTotal:     resourceBytesTotal,
		resourcesPurgedTotal:   resourcesPurgedTotal,
		liveVersions:           liveVersions,
		httpRequestsTotal:      httpRequestsTotal,
		httpRequestDuration:    httpRequestDuration,
	}, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// Meter returns the meter used for component metrics such as the gc manager.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(meterName)
}

// RecordOperation records one storage control operation. status is the
// storage status taxonomy value, e.g. "ok" or "error_not_found".
func RecordOperation(ctx context.Context, op, status string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	globalMetrics.operationsTotal.Add(ctx, 1, attrs)
	globalMetrics.operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordResourceIO records uncompressed body bytes. direction is "write" or "read".
func RecordResourceIO(ctx context.Context, direction string, bytes int64) {
	if globalMetrics == nil || bytes <= 0 {
		return
	}
	globalMetrics.resourceBytesTotal.Add(ctx, bytes, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordPurge records resources purged for reason, e.g. "version_released",
// "uncommitted_doomed" or "stale".
func RecordPurge(ctx context.Context, reason string, count int) {
	if globalMetrics == nil || count == 0 {
		return
	}
	globalMetrics.resourcesPurgedTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// UpdateLiveVersions records the current number of referenced versions.
func UpdateLiveVersions(ctx context.Context, n int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.liveVersions.Record(ctx, int64(n))
}

// RecordHTTP records admin HTTP request metrics. Call this from the logging
// middleware after the request completes; the endpoint is read from request
// tags set by handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	endpoint := "unknown"
	storageStatus := ""
	if tags := GetTags(r); tags != nil {
		if tags.Endpoint != "" {
			endpoint = tags.Endpoint
		}
		storageStatus = tags.StorageStatus
	}

	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", StatusClass(status)),
	}
	if storageStatus != "" {
		attrs = append(attrs, attribute.String("storage_status", storageStatus))
	}
	globalMetrics.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
