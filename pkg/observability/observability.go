// Package observability provides OpenTelemetry metrics for ChronoVault.
//
// Metrics are exported over OTLP gRPC. When disabled the provider hands
// out noop instruments, so call sites never branch on configuration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "chronovault",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the meter provider and the instruments the rest of the
// system records on.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	eventsAppended  metric.Int64Counter
	eventsProjected metric.Int64Counter
	jobsDeadLetter  metric.Int64Counter
	httpRequests    metric.Int64Counter
	httpDuration    metric.Float64Histogram
}

// New creates a metrics provider. With Enabled false it returns a
// provider whose instruments go to the global (noop) meter.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if config.Enabled {
		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
				semconv.DeploymentEnvironment(config.Environment),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: create resource: %w", err)
		}

		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
		}
		if config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observability: create metric exporter: %w", err)
		}

		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(15*time.Second),
			)),
		)
		otel.SetMeterProvider(p.meterProvider)

		p.logger.InfoContext(ctx, "metrics enabled",
			"service", config.ServiceName,
			"endpoint", config.OTLPEndpoint,
		)
	}

	p.meter = otel.Meter("chronovault",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.eventsAppended, err = p.meter.Int64Counter("chronovault.events.appended",
		metric.WithDescription("Events appended to the ledger"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.eventsProjected, err = p.meter.Int64Counter("chronovault.events.projected",
		metric.WithDescription("Events folded into the capsule read model"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.jobsDeadLetter, err = p.meter.Int64Counter("chronovault.jobs.dead_lettered",
		metric.WithDescription("Projection jobs moved to the dead-letter list"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return err
	}

	p.httpRequests, err = p.meter.Int64Counter("chronovault.http.requests",
		metric.WithDescription("HTTP requests handled"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	p.httpDuration, err = p.meter.Float64Histogram("chronovault.http.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	return err
}

// RecordAppend counts appended events by stream.
func (p *Provider) RecordAppend(ctx context.Context, stream string, n int64) {
	p.eventsAppended.Add(ctx, n, metric.WithAttributes(attribute.String("stream", stream)))
}

// RecordProjected counts a successfully projected event by type.
func (p *Provider) RecordProjected(ctx context.Context, eventType string) {
	p.eventsProjected.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordDeadLetter counts a dead-lettered job by reason.
func (p *Provider) RecordDeadLetter(ctx context.Context, reason string) {
	p.jobsDeadLetter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordHTTP counts a handled request and records its latency.
func (p *Provider) RecordHTTP(ctx context.Context, route string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	p.httpRequests.Add(ctx, 1, attrs)
	p.httpDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// Meter exposes the underlying meter for ad-hoc instruments.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability: shutdown meter provider: %w", err)
	}
	return nil
}
