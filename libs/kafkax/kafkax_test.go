package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMeta(t *testing.T) {
	msg := kafka.Message{Topic: "booking.x.v1", Key: []byte("k"), Headers: EventMeta{EventID: "e1", EventType: "booking.y.v1"}.Headers()}
	assert.Equal(t, EventMeta{EventID: "e1", EventType: "booking.y.v1"}, ExtractEventMeta(msg))

	bare := kafka.Message{Topic: "booking.x.v1", Key: []byte("k")}
	assert.Equal(t, EventMeta{EventID: "k", EventType: "booking.x.v1"}, ExtractEventMeta(bare))
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e1"}.Headers())
	require.NotEmpty(t, HeaderValue(headers, "traceparent"))

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	assert.Equal(t, traceID, got.TraceID())
}
