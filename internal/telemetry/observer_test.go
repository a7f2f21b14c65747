// ABOUTME: Tests for the OpenTelemetry observer and provider.
// ABOUTME: Uses a manual metric reader and an in-memory span recorder.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func TestObserverRecordsInvocationMetrics(t *testing.T) {
	reader, mp := newTestMeter()
	obs, err := NewObserver(mp.Meter("test"), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	_, finish := obs.StartInvocation(context.Background(), "echo", "demo")
	finish("ok")
	_, finish = obs.StartInvocation(context.Background(), "echo", "demo")
	finish("tool_execution")

	rm := collectMetrics(t, reader)

	invocations := findMetric(rm, MetricInvocations)
	require.NotNil(t, invocations)
	sum, ok := invocations.Data.(metricdata.Sum[int64])
	require.True(t, ok, "got %T", invocations.Data)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, sum.DataPoints, 2, "one data point per outcome")

	latency := findMetric(rm, MetricLatency)
	require.NotNil(t, latency)
	_, ok = latency.Data.(metricdata.Histogram[float64])
	assert.True(t, ok, "got %T", latency.Data)
}

func TestObserverSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, mp := newTestMeter()

	obs, err := NewObserver(mp.Meter("test"), tp.Tracer("test"))
	require.NoError(t, err)

	ctx, finish := obs.StartInvocation(context.Background(), "echo", "demo")
	assert.NotEqual(t, context.Background(), ctx, "handler context should carry the span")
	finish("capability_unavailable")

	obs.ObserveModuleOperation(context.Background(), "reload", "demo", errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "tool.invoke", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "capability_unavailable", spans[0].Status().Description)

	assert.Equal(t, "module.reload", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestObserverModuleOperations(t *testing.T) {
	reader, mp := newTestMeter()
	obs, err := NewObserver(mp.Meter("test"), nil)
	require.NoError(t, err)

	obs.ObserveModuleOperation(context.Background(), "load", "a", nil)
	obs.ObserveModuleOperation(context.Background(), "load", "b", nil)

	rm := collectMetrics(t, reader)
	ops := findMetric(rm, MetricModuleOps)
	require.NotNil(t, ops)
	sum := ops.Data.(metricdata.Sum[int64])
	assert.Len(t, sum.DataPoints, 2)
}

func TestNilObserver(t *testing.T) {
	var obs *Observer
	ctx, finish := obs.StartInvocation(context.Background(), "x", "y")
	finish("ok")
	assert.Equal(t, context.Background(), ctx)
	obs.ObserveModuleOperation(context.Background(), "load", "y", nil)
}

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	require.NoError(t, err)

	obs, err := p.Observer()
	require.NoError(t, err)
	_, finish := obs.StartInvocation(context.Background(), "echo", "demo")
	finish("ok")

	counts, err := p.InvocationCounts(context.Background())
	require.NoError(t, err)
	assert.Nil(t, counts)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupEnabledCountsInvocations(t *testing.T) {
	p, err := Setup(context.Background(), Config{Enabled: true})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	obs, err := p.Observer()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, finish := obs.StartInvocation(context.Background(), "echo", "demo")
		finish("ok")
	}
	_, finish := obs.StartInvocation(context.Background(), "add", "demo")
	finish("tool_not_found")

	counts, err := p.InvocationCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []InvocationCount{
		{Tool: "add", Outcome: "tool_not_found", Count: 1},
		{Tool: "echo", Outcome: "ok", Count: 3},
	}, counts)
}
