package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID  = "00f067aa0ba902b7"
)

func newCaptureLogger(t *testing.T, opts *slog.HandlerOptions) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer

	return slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, opts))), &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func spanContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex(testTraceID)
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex(testSpanID)
	require.NoError(t, err)

	return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
}

func TestTraceHandlerOutsideSpan(t *testing.T) {
	logger, buf := newCaptureLogger(t, nil)

	logger.InfoContext(context.Background(), "download started", "identifier", "apollo11")

	entry := decodeRecord(t, buf)
	require.NotContains(t, entry, "trace_id")
	require.NotContains(t, entry, "span_id")
	require.Equal(t, "download started", entry["msg"])
	require.Equal(t, "apollo11", entry["identifier"])
}

func TestTraceHandlerInsideSpan(t *testing.T) {
	logger, buf := newCaptureLogger(t, nil)

	logger.InfoContext(spanContext(t), "download started", "identifier", "apollo11")

	entry := decodeRecord(t, buf)
	require.Equal(t, testTraceID, entry["trace_id"])
	require.Equal(t, testSpanID, entry["span_id"])
	require.Equal(t, "download started", entry["msg"])
	require.Equal(t, "apollo11", entry["identifier"])
}

func TestTraceHandlerEnabledDelegates(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	require.False(t, h.Enabled(ctx, slog.LevelInfo))
	require.True(t, h.Enabled(ctx, slog.LevelWarn))
	require.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandlerWithAttrsKeepsInjection(t *testing.T) {
	var buf bytes.Buffer

	derived := NewTraceHandler(slog.NewJSONHandler(&buf, nil)).
		WithAttrs([]slog.Attr{slog.String("component", "supervisor")})
	require.IsType(t, &TraceHandler{}, derived)

	slog.New(derived).InfoContext(spanContext(t), "worker exited")

	entry := decodeRecord(t, &buf)
	require.Equal(t, "supervisor", entry["component"])
	require.Equal(t, testTraceID, entry["trace_id"])
}

func TestTraceHandlerWithGroupKeepsInjection(t *testing.T) {
	var buf bytes.Buffer

	derived := NewTraceHandler(slog.NewJSONHandler(&buf, nil)).WithGroup("job")
	require.IsType(t, &TraceHandler{}, derived)

	slog.New(derived).InfoContext(spanContext(t), "progress", "percent", 42)

	entry := decodeRecord(t, &buf)
	require.Contains(t, entry, "job")

	group, ok := entry["job"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(42), group["percent"])
	require.Equal(t, testTraceID, group["trace_id"], "record attrs, trace fields included, live inside the open group")
}

func TestNewTraceHandlerNilHandlerPanics(t *testing.T) {
	require.Panics(t, func() { NewTraceHandler(nil) })
}
