package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceSamplerForRatio(t *testing.T) {
	parent := func(sampled bool) context.Context {
		cfg := trace.SpanContextConfig{TraceID: trace.TraceID{9}, SpanID: trace.SpanID{1}, Remote: true}
		if sampled {
			cfg.TraceFlags = trace.FlagsSampled
		}
		return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(cfg))
	}

	tests := []struct {
		name   string
		ratio  float64
		parent context.Context
		want   sdktrace.SamplingDecision
	}{
		{name: "zero drops roots", ratio: 0, parent: context.Background(), want: sdktrace.Drop},
		{name: "one samples roots", ratio: 1, parent: context.Background(), want: sdktrace.RecordAndSample},
		{name: "above one clamps", ratio: 3, parent: context.Background(), want: sdktrace.RecordAndSample},
		{name: "sampled parent wins", ratio: 0.5, parent: parent(true), want: sdktrace.RecordAndSample},
		{name: "unsampled parent wins", ratio: 0.5, parent: parent(false), want: sdktrace.Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := traceSamplerForRatio(tt.ratio).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: tt.parent,
				TraceID:       trace.TraceID{2},
				Name:          "queryengine.resolve",
			})
			assert.Equal(t, tt.want, got.Decision)
		})
	}
}

func TestServiceResource(t *testing.T) {
	res, err := serviceResource(Config{ServiceName: "queryengine", ServiceVersion: "1.2.0"})
	if !assert.NoError(t, err) {
		return
	}
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "queryengine", attrs["service.name"])
	assert.Equal(t, "1.2.0", attrs["service.version"])
	assert.NotContains(t, attrs, "deployment.environment")
}
