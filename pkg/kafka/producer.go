package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes QuoteFlow output: quote sets keyed by symbol and the
// logger's alert batches. Keyed messages hash to one partition so a reader
// sees an instrument's quotes in order.
type Producer struct {
	w       messageWriter
	metrics *producerMetrics
}

// NewProducer builds the writer. Nothing connects until the first publish.
// reg may be nil to leave the metrics unregistered.
func NewProducer(cfg ProducerConfig, reg prometheus.Registerer) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: producer needs at least one broker")
	}
	cfg.setDefaults()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            parseCompression(cfg.Compression),
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.ReadTimeout,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.Linger,
		Async:                  cfg.Async,
		AllowAutoTopicCreation: cfg.AutoCreateTopics,
	}
	p := &Producer{w: w, metrics: newProducerMetrics(reg)}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil && len(msgs) > 0 {
				p.metrics.published.WithLabelValues(msgs[0].Topic, "error").Add(float64(len(msgs)))
			}
		}
	}
	return p, nil
}

// Publish writes one message.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	start := time.Now()
	err := p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value, Time: start})
	p.metrics.observe(topic, len(value), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it. The alert collector uses it.
func (p *Producer) PublishJSON(ctx context.Context, topic string, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kafka: encode %s payload: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, b)
}

// Close flushes buffered messages and closes the writer.
func (p *Producer) Close() error {
	return p.w.Close()
}

type producerMetrics struct {
	published *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_kafka_published_total",
			Help: "Messages written to the quotes and alerts topics by result",
		}, []string{"topic", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_kafka_published_bytes_total",
			Help: "Payload bytes written per topic",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quoteflow_kafka_publish_seconds",
			Help:    "Time spent in a synchronous publish",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}, []string{"topic"}),
	}
}

func (m *producerMetrics) observe(topic string, size int, took time.Duration, err error) {
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
	if err != nil {
		m.published.WithLabelValues(topic, "error").Inc()
		return
	}
	m.published.WithLabelValues(topic, "ok").Inc()
	m.bytes.WithLabelValues(topic).Add(float64(size))
}
