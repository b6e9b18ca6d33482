package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/utafrali/authservice/pkg/logger"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type registered struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func TestNewEvent_Fields(t *testing.T) {
	ctx := logger.WithCorrelationID(context.Background(), "corr-123")
	data := registered{UserID: "u-1", Email: "alice@x.com"}

	event, err := NewEvent(ctx, "auth.user.registered", "u-1", "user", "auth-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "auth.user.registered", event.EventType)
	assert.Equal(t, "u-1", event.AggregateID)
	assert.Equal(t, "user", event.AggregateType)
	assert.Equal(t, "auth-service", event.Source)
	assert.Equal(t, "corr-123", event.CorrelationID)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var got registered
	require.NoError(t, event.UnmarshalData(&got))
	assert.Equal(t, data, got)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent(context.Background(), "x", "a", "t", "s", make(chan int))
	require.Error(t, err)
}

func TestEvent_WithMetadata(t *testing.T) {
	event, err := NewEvent(context.Background(), "x", "a", "t", "s", nil)
	require.NoError(t, err)
	assert.Same(t, event, event.WithMetadata("role", "admin"))
	assert.Equal(t, "admin", event.Metadata["role"])
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, []string{"localhost:9092"}, discard())

	event, err := NewEvent(logger.WithCorrelationID(context.Background(), "corr-9"),
		"auth.user.role_assigned", "u-42", "user", "auth-service", map[string]string{"role": "admin"})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "auth.user.events", event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "auth.user.events", msg.Topic)
	assert.Equal(t, []byte("u-42"), msg.Key)

	decoded, err := UnmarshalEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, decoded.EventID)

	carrier := NewHeaderCarrier(&msg.Headers)
	assert.Equal(t, "auth.user.role_assigned", carrier.Get("event_type"))
	assert.Equal(t, "auth-service", carrier.Get("source"))
	assert.Equal(t, "corr-9", carrier.Get("correlation_id"))
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, nil, discard())

	event, err := NewEvent(context.Background(), "auth.user.registered", "u-1", "user", "auth-service", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "auth.user.events", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to auth.user.events")
	assert.Contains(t, err.Error(), "leader not available")
}

func TestProducer_PublishInjectsTraceContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	w := &fakeWriter{}
	p := newProducer(w, nil, discard())
	event, err := NewEvent(context.Background(), "auth.user.password_reset", "u-1", "user", "auth-service", nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "auth.user.events", event))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "kafka.publish auth.user.events", spans[0].Name)

	traceparent := NewHeaderCarrier(&w.msgs[0].Headers).Get("traceparent")
	require.NotEmpty(t, traceparent)
	assert.Contains(t, traceparent, spans[0].SpanContext.TraceID().String())
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, newProducer(w, nil, discard()).Close())
	assert.True(t, w.closed)
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	assert.EqualError(t, err, "kafka: no brokers configured")
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"b1:9092"})
	assert.Equal(t, []string{"b1:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.False(t, cfg.Async)
}
