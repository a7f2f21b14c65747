// ABOUTME: OpenTelemetry observer for registry invocations and loader operations.
// ABOUTME: Records counters, a latency histogram and one span per tool call.

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metric names.
const (
	MetricInvocations = "coven.tool.invocations"
	MetricLatency     = "coven.tool.latency"
	MetricModuleOps   = "coven.module.operations"
)

// Observer reports tool invocations and module operations to OpenTelemetry.
type Observer struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	latency     metric.Float64Histogram
	moduleOps   metric.Int64Counter
}

// NewObserver creates an observer bound to the provided meter and tracer.
// A nil tracer disables spans.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	invocations, err := meter.Int64Counter(
		MetricInvocations,
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		MetricLatency,
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	moduleOps, err := meter.Int64Counter(
		MetricModuleOps,
		metric.WithDescription("Number of module load, reload and unload operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:      tracer,
		invocations: invocations,
		latency:     latency,
		moduleOps:   moduleOps,
	}, nil
}

// StartInvocation opens a tool.invoke span and returns a finish func that
// records the outcome. It satisfies registry.Observer.
func (o *Observer) StartInvocation(ctx context.Context, toolName, module string) (context.Context, func(outcome string)) {
	if o == nil {
		return ctx, func(string) {}
	}

	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("tool_name", toolName),
		attribute.String("module", module),
	}

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attrs...))
	}

	return ctx, func(outcome string) {
		final := append(attrs, attribute.String("outcome", outcome))
		options := metric.WithAttributes(final...)
		o.invocations.Add(context.Background(), 1, options)
		o.latency.Record(context.Background(), time.Since(start).Seconds(), options)

		if span == nil {
			return
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		if outcome != "ok" {
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// ObserveModuleOperation records one structural loader operation.
func (o *Observer) ObserveModuleOperation(ctx context.Context, action, module string, err error) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("action", action),
		attribute.String("module", module),
		attribute.Bool("success", err == nil),
	}
	o.moduleOps.Add(ctx, 1, metric.WithAttributes(attrs...))

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "module."+action, trace.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
