package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuoteFlow/internal/domain/models"
	pkgkafka "QuoteFlow/pkg/kafka"
	"QuoteFlow/pkg/logger"
	"QuoteFlow/pkg/metrics"
)

type fullSubmitter struct {
	rejects int32
	calls   atomic.Int32
	collectingSubmitter
}

func (f *fullSubmitter) Submit(ctx context.Context, ev models.MarketDataEvent) error {
	if f.calls.Add(1) <= f.rejects {
		return models.ErrQueueFull
	}
	return f.collectingSubmitter.Submit(ctx, ev)
}

func TestKafkaEventsHandlerSubmitsBatch(t *testing.T) {
	sink := &collectingSubmitter{}
	h := NewKafkaEventsHandler("md", sink, metrics.NewWithRegistry(prometheus.NewRegistry()), time.Second)
	assert.Equal(t, "md", h.Topic())

	msg := `[{"type":"book","symbol":"BTC","ts":1709294400000,"bids":[[99.5,1]],"asks":[[100.5,1]]},
		{"type":"trade","symbol":"BTC","ts":1709294401000,"px":100,"sz":1,"side":"buy"}]`
	require.NoError(t, h.Handle(context.Background(), []byte(msg)))
	assert.Equal(t, 2, sink.count())
}

func TestKafkaEventsHandlerMalformedIsNotRetryable(t *testing.T) {
	h := NewKafkaEventsHandler("md", &collectingSubmitter{}, metrics.NewWithRegistry(prometheus.NewRegistry()), time.Second)
	err := h.Handle(context.Background(), []byte(`{"type":"quote"}`))
	require.Error(t, err)
	assert.False(t, RetryableKafkaError(err))
	assert.True(t, RetryableKafkaError(errors.New("broker timeout")))
}

func TestKafkaEventsHandlerWaitsForRoom(t *testing.T) {
	sink := &fullSubmitter{rejects: 2}
	h := NewKafkaEventsHandler("md", sink, metrics.NewWithRegistry(prometheus.NewRegistry()), time.Second)
	msg := `{"type":"trade","ts":1709294401000,"px":100,"sz":1,"side":"sell"}`
	require.NoError(t, h.Handle(context.Background(), []byte(msg)))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, int32(3), sink.calls.Load())
}

func TestKafkaEventsHandlerGivesUpWhenFull(t *testing.T) {
	sink := &fullSubmitter{rejects: 1 << 30}
	h := NewKafkaEventsHandler("md", sink, metrics.NewWithRegistry(prometheus.NewRegistry()), 20*time.Millisecond)
	msg := `{"type":"trade","ts":1709294401000,"px":100,"sz":1,"side":"sell"}`
	err := h.Handle(context.Background(), []byte(msg))
	assert.ErrorIs(t, err, models.ErrQueueFull)
	assert.True(t, RetryableKafkaError(err))
}

func TestKafkaFillsHandlerBooksFill(t *testing.T) {
	f := newCycleFixture(t, ExternalFill{}, CycleConfig{})
	h := NewKafkaFillsHandler("fills", f.cycle, metrics.NewWithRegistry(prometheus.NewRegistry()), logger.Nop())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"side":"buy","px":100,"sz":2,"proposal_id":"q"}`)))
	l := f.mm.Ledger()
	assert.InDelta(t, 2, l.NetPosition, 1e-12)
	assert.InDelta(t, 100, l.AvgEntryPrice, 1e-9)

	err := h.Handle(context.Background(), []byte(`{"side":"buy","px":-1,"sz":2}`))
	assert.ErrorIs(t, err, models.ErrMalformedInput)
	assert.Equal(t, int64(1), f.mm.Ledger().Fills)
}

func TestKafkaMetricsHookLogsGivenUpMessage(t *testing.T) {
	var buf bytes.Buffer
	hook := KafkaMetricsHook(metrics.NewWithRegistry(prometheus.NewRegistry()), logger.NewWriter(&buf, zerolog.DebugLevel))

	d := pkgkafka.Delivery{Topic: "fills", Partition: 1, Offset: 12, TraceID: "exec-3", Attempt: 4, Produced: time.Now()}
	hook.AfterAttempt(context.Background(), d, time.Millisecond, nil)
	assert.Empty(t, buf.String())

	hook.Failed(context.Background(), d, models.Malformed("side", "hold", "unknown side"))
	out := buf.String()
	for _, want := range []string{`"message":"kafka message failed"`, `"trace_id":"exec-3"`, `"offset":12`, `"attempts":4`} {
		assert.Contains(t, out, want)
	}
}
