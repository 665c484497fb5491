package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"github.com/sourcegraph/conc"

	"QuoteFlow/pkg/logger"
)

// MessageHandler handles the messages of one input topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the logger for reader lifecycle and failed messages.
func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.log = l
		}
	}
}

// WithConsumerHook installs a hook that observes every handler attempt.
func WithConsumerHook(h ConsumerHook) ConsumerOption {
	return func(c *Consumer) {
		if h != nil {
			c.hook = h
		}
	}
}

// WithConsumerRegisterer registers the consumer metrics on reg.
func WithConsumerRegisterer(reg prometheus.Registerer) ConsumerOption {
	return func(c *Consumer) { c.reg = reg }
}

// Consumer reads the QuoteFlow input topics, market data events and fills.
// Each topic has one reader goroutine that handles messages in offset order,
// since both the signal engine and the inventory ledger depend on it.
type Consumer struct {
	cfg      ConsumerConfig
	handlers map[string]MessageHandler
	readers  []*kafka.Reader
	dlq      messageWriter
	hook     ConsumerHook
	reg      prometheus.Registerer
	metrics  *consumerMetrics
	log      *logger.Logger

	cancel   context.CancelFunc
	wg       conc.WaitGroup
	stopOnce sync.Once
}

// NewConsumer validates cfg. Readers are created by Start.
func NewConsumer(cfg ConsumerConfig, opts ...ConsumerOption) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: consumer needs at least one broker")
	}
	cfg.setDefaults()
	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		hook:     HookFuncs{},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.String("component", "kafka_consumer"))
	c.metrics = newConsumerMetrics(c.reg)
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// RegisterHandler routes a topic to its handler. Call before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) error {
	topic := h.Topic()
	if topic == "" {
		return errors.New("kafka: handler without topic")
	}
	if _, dup := c.handlers[topic]; dup {
		return fmt.Errorf("kafka: topic %s already has a handler", topic)
	}
	c.handlers[topic] = h
	return nil
}

// Start opens one group reader per registered topic.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka: no topic handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	topics := make([]string, 0, len(c.handlers))
	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: c.cfg.startOffset(),
		})
		c.readers = append(c.readers, r)
		topics = append(topics, topic)
		c.wg.Go(func() { c.consume(ctx, r, h) })
	}
	c.log.Info("consuming", logger.Strings("topics", topics), logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop cancels the readers and waits for the message in flight on each topic.
// An interrupted message is not committed and is delivered again on restart.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka: consumer stop: %w", ctx.Err())
		}
		for _, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", logger.String("topic", r.Config().Topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("close dlq writer", logger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader, h MessageHandler) {
	topic := h.Topic()
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.fetchErrors.WithLabelValues(topic).Inc()
			c.log.Warn("fetch message", logger.String("topic", topic), logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.Retry.InitialInterval):
			}
			continue
		}
		if km.HighWaterMark > 0 {
			c.metrics.lag.WithLabelValues(topic).Set(float64(km.HighWaterMark - km.Offset - 1))
		}
		if !c.process(ctx, h, km) {
			return
		}
		// the handler ran, so commit even while shutting down
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.CommitMessages(cctx, km); err != nil {
			c.log.Warn("commit offset", logger.String("topic", topic), logger.Int64("offset", km.Offset), logger.Error(err))
		}
		cancel()
	}
}

// process runs the handler with retries and reports whether the offset may be
// committed. It is false only when shutdown interrupted the message.
func (c *Consumer) process(ctx context.Context, h MessageHandler, km kafka.Message) bool {
	d := newDelivery(km)
	if d.Topic == "" {
		d.Topic = h.Topic()
	}
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.Retry.InitialInterval
	policy.MaxInterval = c.cfg.Retry.MaxInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		d.Attempt++
		began := time.Now()
		err := c.handle(withDelivery(ctx, d), h, d)
		c.notify(func() { c.hook.AfterAttempt(ctx, d, time.Since(began), err) })
		if err != nil && !c.retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.Retry.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(error, time.Duration) { c.metrics.retries.WithLabelValues(d.Topic).Inc() }),
	)
	c.metrics.handle.WithLabelValues(d.Topic).Observe(time.Since(start).Seconds())

	if err == nil {
		c.metrics.consumed.WithLabelValues(d.Topic, "ok").Inc()
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	c.notify(func() { c.hook.Failed(ctx, d, err) })
	c.log.Error("message failed",
		logger.String("topic", d.Topic),
		logger.Int("partition", d.Partition),
		logger.Int64("offset", d.Offset),
		logger.Int("attempts", d.Attempt),
		logger.Error(err),
	)
	outcome := "dropped"
	if c.dlq != nil {
		if derr := c.deadLetter(d, err); derr != nil {
			c.log.Error("dead letter", logger.String("topic", c.cfg.DLQTopic), logger.Error(derr))
		} else {
			outcome = "dead_lettered"
		}
	}
	// a poison message must not stall the topic
	c.metrics.consumed.WithLabelValues(d.Topic, outcome).Inc()
	return true
}

func (c *Consumer) handle(ctx context.Context, h MessageHandler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kafka: %s handler panic: %v", d.Topic, r)
		}
	}()
	return h.Handle(ctx, d.Value)
}

func (c *Consumer) deadLetter(d Delivery, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   d.Key,
		Value: d.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(d.Topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(d.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(d.Offset, 10))},
			{Key: "attempts", Value: []byte(strconv.Itoa(d.Attempt))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

func (c *Consumer) retryable(err error) bool {
	return c.cfg.Retry.Retryable == nil || c.cfg.Retry.Retryable(err)
}

func (c *Consumer) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("consumer hook panic", logger.Any("panic", r))
		}
	}()
	fn()
}

type consumerMetrics struct {
	consumed    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	handle      *prometheus.HistogramVec
	lag         *prometheus.GaugeVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		consumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_kafka_consumed_total",
			Help: "Messages taken off the events and fills topics by outcome (ok, dead_lettered, dropped)",
		}, []string{"topic", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_kafka_retries_total",
			Help: "Handler attempts repeated after a retryable error",
		}, []string{"topic"}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_kafka_fetch_errors_total",
			Help: "Failed reads from the brokers",
		}, []string{"topic"}),
		handle: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quoteflow_kafka_handle_seconds",
			Help:    "Time from fetch to final outcome, retries included",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"topic"}),
		lag: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quoteflow_kafka_consumer_lag",
			Help: "Messages behind the partition high watermark at the last fetch",
		}, []string{"topic"}),
	}
}
