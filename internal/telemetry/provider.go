// ABOUTME: Builds tracer and meter providers from telemetry configuration.
// ABOUTME: Traces export over OTLP/HTTP when an endpoint is set; metrics aggregate in-process.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/2389/coven-tools"

// Config controls provider construction.
type Config struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
}

// Provider owns the tracer and meter providers for the process.
type Provider struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	reader         *sdkmetric.ManualReader
	shutdowns      []func(context.Context) error
}

// Setup creates a Provider. A disabled config yields noop providers.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracerProvider: tracenoop.NewTracerProvider(),
			meterProvider:  metricnoop.NewMeterProvider(),
		}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "coven-tools"
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	p := &Provider{reader: sdkmetric.NewManualReader()}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(p.reader),
		sdkmetric.WithResource(res),
	)
	p.meterProvider = mp
	p.shutdowns = append(p.shutdowns, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	p.tracerProvider = tp
	p.shutdowns = append(p.shutdowns, tp.Shutdown)

	return p, nil
}

// Tracer returns the process tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer(instrumentationName)
}

// Meter returns the process meter.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(instrumentationName)
}

// Observer builds an Observer on this provider's meter and tracer.
func (p *Provider) Observer() (*Observer, error) {
	return NewObserver(p.Meter(), p.Tracer())
}

// InvocationCount is the number of calls of one tool with one outcome.
type InvocationCount struct {
	Tool    string
	Outcome string
	Count   int64
}

// InvocationCounts collects the invocation counter. It returns nil when
// telemetry is disabled.
func (p *Provider) InvocationCounts(ctx context.Context) ([]InvocationCount, error) {
	if p.reader == nil {
		return nil, nil
	}

	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	var counts []InvocationCount
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != MetricInvocations {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				name, _ := dp.Attributes.Value("tool_name")
				outcome, _ := dp.Attributes.Value("outcome")
				counts = append(counts, InvocationCount{
					Tool:    name.AsString(),
					Outcome: outcome.AsString(),
					Count:   dp.Value,
				})
			}
		}
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Tool != counts[j].Tool {
			return counts[i].Tool < counts[j].Tool
		}
		return counts[i].Outcome < counts[j].Outcome
	})
	return counts, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdowns) - 1; i >= 0; i-- {
		if err := p.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
