package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"kpicompare/internal/config"
)

const (
	ServiceVersion = config.AppVersion
	MeterName      = "kpicompare"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    config.AppName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		EnableTracing:  true,
		SampleRatio:    1.0,
	}
}

// OTelConfigFrom maps the telemetry section of the application config
func OTelConfigFrom(cfg config.TelemetryConfig) *OTelConfig {
	out := DefaultOTelConfig()
	if cfg.ServiceName != "" {
		out.ServiceName = cfg.ServiceName
	}
	if cfg.Environment != "" {
		out.Environment = cfg.Environment
	}
	out.EnableTracing = cfg.EnableTracing
	out.EnableMetrics = cfg.EnableMetrics
	if cfg.TraceToStdout {
		out.TraceExporter = "stdout"
	}
	return out
}

// InitializeOTel initializes the tracer and meter providers and installs them globally
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	if logger == nil {
		logger = GetLogger()
	}

	ctx := context.Background()

	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	res := createResource(cfg)

	providers := &OTelProviders{
		Logger: logger,
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	// Fall back to the global (no-op unless installed) providers
	if providers.Tracer == nil {
		providers.Tracer = otel.Tracer(MeterName)
	}
	if providers.Meter == nil {
		providers.Meter = otel.Meter(MeterName)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg *OTelConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	)
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	}

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "none", "":
		// spans are still created so trace IDs reach the logs
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))

	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return nil
}

// initializeMetrics sets up OpenTelemetry metrics
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		providers.PrometheusHTTP = promhttp.Handler()

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)

		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

		otel.SetMeterProvider(mp)

	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.InfoContext(ctx, "Metrics initialized",
		slog.String("exporter", cfg.MetricExporter))

	return nil
}

// BusinessMetrics holds all application-specific metrics
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Comparison run metrics
	RunsTotal    metric.Int64Counter
	RunDuration  metric.Float64Histogram
	ActiveRuns   metric.Int64UpDownCounter
	RunFailures  metric.Int64Counter
	Comparisons  metric.Int64Counter
	ArchiveBytes metric.Int64Counter

	// Snapshot metrics
	SnapshotFiles        metric.Int64Counter
	SnapshotRows         metric.Int64Counter
	SnapshotDuration     metric.Float64Histogram
	MalformedLines       metric.Int64Counter
	ValueCountMismatches metric.Int64Counter
	HeaderVariants       metric.Int64Counter

	// WebSocket metrics
	WebSocketConnections metric.Int64UpDownCounter
}

// CreateBusinessMetrics creates application-specific metrics
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	var (
		m   BusinessMetrics
		err error
	)

	counter := func(dst *metric.Int64Counter, name, desc string, opts ...metric.Int64CounterOption) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
	}
	updown := func(dst *metric.Int64UpDownCounter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	}
	seconds := func(dst *metric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	}

	counter(&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests")
	seconds(&m.HTTPRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds")
	updown(&m.HTTPActiveRequests, "http_active_requests", "Number of active HTTP requests")

	counter(&m.RunsTotal, "comparison_runs_total", "Total number of comparison runs")
	seconds(&m.RunDuration, "comparison_run_duration_seconds", "Comparison run duration in seconds")
	updown(&m.ActiveRuns, "comparison_active_runs", "Number of comparison runs in progress")
	counter(&m.RunFailures, "comparison_run_failures_total", "Total number of failed comparison runs")
	counter(&m.Comparisons, "comparison_tables_total", "Total number of comparison tables built, by comparability")
	counter(&m.ArchiveBytes, "comparison_archive_bytes_total", "Total bytes of uploaded archives", metric.WithUnit("By"))

	counter(&m.SnapshotFiles, "snapshot_files_total", "Total number of counter log files read")
	counter(&m.SnapshotRows, "snapshot_rows_total", "Total number of snapshot rows assembled")
	seconds(&m.SnapshotDuration, "snapshot_assembly_duration_seconds", "Snapshot assembly duration in seconds")
	counter(&m.MalformedLines, "snapshot_malformed_lines_total", "Total number of prefixed lines too short to parse")
	counter(&m.ValueCountMismatches, "snapshot_value_count_mismatches_total", "Total number of data lines whose value count differs from their header")
	counter(&m.HeaderVariants, "snapshot_header_variants_total", "Total number of header lines differing from the first header of their file")

	updown(&m.WebSocketConnections, "websocket_connections", "Number of open progress websocket connections")

	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from context
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// RecordRunMetrics records the completion of a comparison run
func RecordRunMetrics(ctx context.Context, metrics *BusinessMetrics, duration time.Duration, success bool) {
	if metrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
		metrics.RunFailures.Add(ctx, 1)
	}

	attrs := metric.WithAttributes(attribute.String("status", status))
	metrics.RunsTotal.Add(ctx, 1, attrs)
	metrics.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// SnapshotStats are the per-snapshot figures reported as metrics
type SnapshotStats struct {
	Family               string
	Phase                string
	Files                int
	Rows                 int
	MalformedLines       int
	ValueCountMismatches int
	HeaderVariants       int
	Duration             time.Duration
}

// RecordSnapshotMetrics records one assembled snapshot
func RecordSnapshotMetrics(ctx context.Context, metrics *BusinessMetrics, s SnapshotStats) {
	if metrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("family", s.Family),
		attribute.String("phase", s.Phase),
	)

	metrics.SnapshotFiles.Add(ctx, int64(s.Files), attrs)
	metrics.SnapshotRows.Add(ctx, int64(s.Rows), attrs)
	metrics.SnapshotDuration.Record(ctx, s.Duration.Seconds(), attrs)
	metrics.MalformedLines.Add(ctx, int64(s.MalformedLines), attrs)
	metrics.ValueCountMismatches.Add(ctx, int64(s.ValueCountMismatches), attrs)
	metrics.HeaderVariants.Add(ctx, int64(s.HeaderVariants), attrs)
}

// RecordComparison records whether a family produced a comparison table
func RecordComparison(ctx context.Context, metrics *BusinessMetrics, family string, comparable bool) {
	if metrics == nil {
		return
	}
	metrics.Comparisons.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", family),
		attribute.Bool("comparable", comparable),
	))
}
