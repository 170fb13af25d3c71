package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Recorder is a Telemetry whose spans and metrics stay in memory.
type Recorder struct {
	*Telemetry

	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// NewRecorder returns an enabled Telemetry backed by in-memory exporters.
func NewRecorder() *Recorder {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = "reviewd-test"

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	r := &Recorder{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		spans:  spans,
		reader: reader,
	}
	r.healthy.Store(true)
	return r
}

// Ended returns the finished spans named name, in end order.
func (r *Recorder) Ended(name string) []trace.ReadOnlySpan {
	var out []trace.ReadOnlySpan
	for _, s := range r.spans.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// GatesTraced lists the gate attribute of every finished span named name.
func (r *Recorder) GatesTraced(name string) []string {
	var out []string
	for _, s := range r.Ended(name) {
		if v, ok := Attr(s, "gate"); ok {
			out = append(out, v.AsString())
		}
	}
	return out
}

// RequireSpan fails tb unless a span named name ended, and returns the last one.
func (r *Recorder) RequireSpan(tb testing.TB, name string) trace.ReadOnlySpan {
	tb.Helper()
	spans := r.Ended(name)
	if len(spans) == 0 {
		var seen []string
		for _, s := range r.spans.Ended() {
			seen = append(seen, s.Name())
		}
		tb.Fatalf("span %q not recorded, got %v", name, seen)
	}
	return spans[len(spans)-1]
}

// Attr looks up key on span.
func Attr(span trace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Collect reads the current metric state.
func (r *Recorder) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := r.reader.Collect(ctx, &rm)
	return rm, err
}
