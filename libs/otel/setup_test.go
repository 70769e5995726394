package otelx

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/slotdesk/libs/config"
)

func source(values map[string]string) *config.Source {
	src := config.FromViper(viper.New())
	for k, v := range values {
		src.Set(k, v)
	}
	return src
}

func TestConfigFrom(t *testing.T) {
	cfg, err := ConfigFrom(source(map[string]string{
		"OTEL_ENABLED":                "true",
		"OTEL_SAMPLING_RATIO":         "0.25",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
	}), "booking")
	require.NoError(t, err)
	assert.Equal(t, Config{Enabled: true, ServiceName: "booking", OTLPEndpoint: "collector:4317", SampleRatio: 0.25}, cfg)
}

func TestConfigFrom_RatioOutOfRange(t *testing.T) {
	cfg, err := ConfigFrom(source(map[string]string{"OTEL_SAMPLING_RATIO": "7"}), "booking")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.False(t, cfg.Enabled)

	_, err = ConfigFrom(source(map[string]string{"OTEL_ENABLED": "maybe"}), "booking")
	require.Error(t, err)
}

func TestTraceContext_RoundTrip(t *testing.T) {
	_, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, CaptureTraceContext(ctx).Empty())
	assert.Equal(t, ctx, TraceContext{}.Into(ctx))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(ctx, "op")
	defer span.End()

	tc := CaptureTraceContext(ctx)
	require.NotEmpty(t, tc.Traceparent)

	restored := trace.SpanContextFromContext(tc.Into(context.Background()))
	assert.Equal(t, span.SpanContext().TraceID(), restored.TraceID())
	assert.True(t, restored.IsRemote())
}
