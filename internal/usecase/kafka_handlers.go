package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"QuoteFlow/internal/domain/models"
	domrepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/service/codec"
	pkgkafka "QuoteFlow/pkg/kafka"
	"QuoteFlow/pkg/logger"
)

// KafkaEventsHandler feeds market data messages into the event pipeline.
type KafkaEventsHandler struct {
	topic   string
	sink    EventSubmitter
	metrics domrepo.Metrics
	wait    time.Duration
}

// NewKafkaEventsHandler creates a handler. wait bounds how long a message may
// wait for room in a full pipeline before it is handed back to the consumer's retry.
func NewKafkaEventsHandler(topic string, sink EventSubmitter, metrics domrepo.Metrics, wait time.Duration) *KafkaEventsHandler {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &KafkaEventsHandler{topic: topic, sink: sink, metrics: metrics, wait: wait}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

// incoming message schema: one envelope or an array, see codec.Envelope
func (h *KafkaEventsHandler) Handle(ctx context.Context, b []byte) error {
	events, err := codec.DecodeEvents(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	for _, ev := range events {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ev.EventTime()).Seconds())
		if err := h.submit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *KafkaEventsHandler) submit(ctx context.Context, ev models.MarketDataEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := h.sink.Submit(ctx, ev)
		if err != nil && !errors.Is(err, models.ErrQueueFull) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(h.wait))
	if err != nil {
		h.metrics.RecordError("consumer_submit")
	}
	return err
}

// KafkaFillsHandler books fills reported by the execution side.
type KafkaFillsHandler struct {
	topic   string
	cycle   *QuoteCycle
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewKafkaFillsHandler(topic string, cycle *QuoteCycle, metrics domrepo.Metrics, log *logger.Logger) *KafkaFillsHandler {
	return &KafkaFillsHandler{topic: topic, cycle: cycle, metrics: metrics, log: log.With(logger.String("component", "fills_handler"))}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	f, err := codec.DecodeFill(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	st, err := h.cycle.ApplyFill(ctx, f)
	if err != nil {
		h.metrics.RecordError("fill_rejected")
		return err
	}
	fields := []logger.Field{
		logger.String("proposal_id", f.ProposalID),
		logger.Float64("position", st.NetPosition),
	}
	if d, ok := pkgkafka.DeliveryFrom(ctx); ok {
		fields = append(fields, logger.Int64("offset", d.Offset), logger.String("trace_id", d.TraceID))
	}
	h.log.Debug("fill booked", fields...)
	return nil
}

// RetryableKafkaError reports whether a handler error may succeed on redelivery.
// Malformed payloads never will and go straight to the DLQ.
func RetryableKafkaError(err error) bool {
	return !errors.Is(err, models.ErrMalformedInput)
}

// KafkaMetricsHook records how long market data sat in Kafka before it was
// handled and logs every message the consumer gives up on.
func KafkaMetricsHook(metrics domrepo.Metrics, log *logger.Logger) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		After: func(_ context.Context, d pkgkafka.Delivery, _ time.Duration, err error) {
			if err == nil && d.Attempt == 1 && !d.Produced.IsZero() {
				metrics.RecordLatency("kafka_delivery_"+d.Topic, time.Since(d.Produced).Seconds())
			}
		},
		Fail: func(_ context.Context, d pkgkafka.Delivery, err error) {
			metrics.RecordError("kafka_handle")
			fields := []logger.Field{
				logger.String("topic", d.Topic),
				logger.Int("partition", d.Partition),
				logger.Int64("offset", d.Offset),
				logger.Int("attempts", d.Attempt),
				logger.Error(err),
			}
			if d.TraceID != "" {
				fields = append(fields, logger.String("trace_id", d.TraceID))
			}
			log.Warn("kafka message failed", fields...)
		},
	}
}

var (
	_ pkgkafka.MessageHandler = (*KafkaEventsHandler)(nil)
	_ pkgkafka.MessageHandler = (*KafkaFillsHandler)(nil)
)
