// Package telemetry pushes the process's own logs and Prometheus metrics
// to an OTLP collector. It stays fully disabled until an endpoint is
// configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	prombridge "go.opentelemetry.io/contrib/bridges/prometheus"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	defaultPushInterval  = 30 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

// Config holds OTLP export settings.
type Config struct {
	// Endpoint is the OTLP collector address. Empty disables telemetry.
	Endpoint string

	// Protocol selects the transport, "grpc" or "http".
	Protocol string

	// Insecure disables transport security.
	Insecure bool

	// Timeout bounds each export call. Zero keeps the SDK default.
	Timeout time.Duration

	// PushInterval is the metric export cadence.
	PushInterval time.Duration

	// Compression is "gzip" or empty.
	Compression string

	// Headers are sent with every export request, for authentication.
	Headers map[string]string

	// ShutdownTimeout bounds the final flush on exit.
	ShutdownTimeout time.Duration

	// RetryEnabled turns on exponential backoff for failed exports, with
	// the Retry* fields tuning it. Zero values keep the SDK defaults.
	RetryEnabled     bool
	RetryInitial     time.Duration
	RetryMaxInterval time.Duration
	RetryMaxElapsed  time.Duration
}

// Telemetry owns the OTLP log and metric providers.
type Telemetry struct {
	logs    *sdklog.LoggerProvider
	metrics *metric.MeterProvider
	logger  otellog.Logger
	grace   time.Duration
}

// Init starts OTLP export of logs and bridged Prometheus metrics. It
// returns nil when cfg.Endpoint is empty.
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion string) (*Telemetry, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	logExporter, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create log exporter: %w", err)
	}

	t := &Telemetry{grace: cfg.ShutdownTimeout}
	t.logs = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	t.logger = t.logs.Logger(serviceName)

	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	interval := cfg.PushInterval
	if interval <= 0 {
		interval = defaultPushInterval
	}

	// The bridge republishes the Prometheus default registry over OTLP.
	t.metrics = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(interval),
			metric.WithProducer(prombridge.NewMetricProducer()),
		)),
	)

	return t, nil
}

// Enabled reports whether telemetry was configured and started.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.logger != nil
}

// Logger returns the OTEL logger, or nil when telemetry is disabled.
func (t *Telemetry) Logger() otellog.Logger {
	if t == nil {
		return nil
	}
	return t.logger
}

// ShutdownTimeout returns the grace period for the final export flush.
func (t *Telemetry) ShutdownTimeout() time.Duration {
	if t == nil || t.grace <= 0 {
		return defaultShutdownGrace
	}
	return t.grace
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.metrics != nil {
		errs = append(errs, t.metrics.Shutdown(ctx))
	}
	if t.logs != nil {
		errs = append(errs, t.logs.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
