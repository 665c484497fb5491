package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
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

func (w *fakeWriter) Close() error { return nil }

type funcHandler struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (h funcHandler) Topic() string { return h.topic }

func (h funcHandler) Handle(ctx context.Context, b []byte) error { return h.fn(ctx, b) }

var errMalformed = errors.New("malformed fill")

func newTestConsumer(t *testing.T, retries int, hook ConsumerHook) *Consumer {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewConsumer(ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		Retry: RetryPolicy{
			MaxRetries:      retries,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Retryable:       func(err error) bool { return !errors.Is(err, errMalformed) },
		},
	}, WithConsumerRegisterer(reg), WithConsumerHook(hook))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func TestConstructorsRequireBrokers(t *testing.T) {
	if _, err := NewProducer(ProducerConfig{}, nil); err == nil {
		t.Fatalf("expected producer error")
	}
	if _, err := NewConsumer(ConsumerConfig{}); err == nil {
		t.Fatalf("expected consumer error")
	}
}

func TestRegisterHandlerRejectsDuplicateTopic(t *testing.T) {
	c := newTestConsumer(t, 0, nil)
	h := funcHandler{topic: "quoteflow.events", fn: func(context.Context, []byte) error { return nil }}
	if err := c.RegisterHandler(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.RegisterHandler(h); err == nil {
		t.Fatalf("expected duplicate topic error")
	}
	if err := c.RegisterHandler(funcHandler{}); err == nil {
		t.Fatalf("expected empty topic error")
	}
}

func TestProcessRetriesTransientErrors(t *testing.T) {
	var attempts []int
	hook := HookFuncs{After: func(_ context.Context, d Delivery, _ time.Duration, _ error) {
		attempts = append(attempts, d.Attempt)
	}}
	c := newTestConsumer(t, 3, hook)

	calls := 0
	var seen Delivery
	h := funcHandler{topic: "quoteflow.events", fn: func(ctx context.Context, b []byte) error {
		calls++
		seen, _ = DeliveryFrom(ctx)
		if calls < 3 {
			return errors.New("event queue full")
		}
		return nil
	}}
	km := kafka.Message{
		Topic:   "quoteflow.events",
		Offset:  41,
		Value:   []byte(`{"type":"trade"}`),
		Headers: []kafka.Header{{Key: TraceHeader, Value: []byte("md-7")}},
	}

	if !c.process(context.Background(), h, km) {
		t.Fatalf("expected commit")
	}
	if calls != 3 || len(attempts) != 3 || attempts[2] != 3 {
		t.Fatalf("calls=%d attempts=%v", calls, attempts)
	}
	if seen.TraceID != "md-7" || seen.Offset != 41 || seen.Attempt != 3 {
		t.Fatalf("unexpected delivery %+v", seen)
	}
	if got := testutil.ToFloat64(c.metrics.retries.WithLabelValues("quoteflow.events")); got != 2 {
		t.Fatalf("expected 2 retries, got %v", got)
	}
	if got := testutil.ToFloat64(c.metrics.consumed.WithLabelValues("quoteflow.events", "ok")); got != 1 {
		t.Fatalf("expected 1 ok, got %v", got)
	}
}

func TestProcessDeadLettersPermanentErrors(t *testing.T) {
	var failed []error
	c := newTestConsumer(t, 5, HookFuncs{Fail: func(_ context.Context, _ Delivery, err error) {
		failed = append(failed, err)
	}})
	dlq := &fakeWriter{}
	c.dlq = dlq
	c.cfg.DLQTopic = "quoteflow.dlq"

	calls := 0
	h := funcHandler{topic: "quoteflow.fills", fn: func(context.Context, []byte) error {
		calls++
		return errMalformed
	}}
	km := kafka.Message{Topic: "quoteflow.fills", Partition: 2, Offset: 9, Key: []byte("BTC"), Value: []byte("{")}

	if !c.process(context.Background(), h, km) {
		t.Fatalf("poison message must be committed")
	}
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
	if len(failed) != 1 || !errors.Is(failed[0], errMalformed) {
		t.Fatalf("failed hook got %v", failed)
	}
	if len(dlq.msgs) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dlq.msgs))
	}
	msg := dlq.msgs[0]
	headers := map[string]string{}
	for _, hd := range msg.Headers {
		headers[hd.Key] = string(hd.Value)
	}
	if msg.Topic != "quoteflow.dlq" || string(msg.Key) != "BTC" || string(msg.Value) != "{" {
		t.Fatalf("unexpected dead letter %+v", msg)
	}
	if headers["source_topic"] != "quoteflow.fills" || headers["source_partition"] != "2" ||
		headers["source_offset"] != "9" || headers["attempts"] != "1" ||
		!strings.Contains(headers["error"], "malformed fill") {
		t.Fatalf("unexpected headers %v", headers)
	}
	if got := testutil.ToFloat64(c.metrics.consumed.WithLabelValues("quoteflow.fills", "dead_lettered")); got != 1 {
		t.Fatalf("expected 1 dead lettered, got %v", got)
	}
}

func TestProcessRecoversHandlerPanic(t *testing.T) {
	c := newTestConsumer(t, 1, HookFuncs{After: func(context.Context, Delivery, time.Duration, error) {
		panic("hook")
	}})
	calls := 0
	h := funcHandler{topic: "quoteflow.fills", fn: func(context.Context, []byte) error {
		calls++
		panic("nil ledger")
	}}

	if !c.process(context.Background(), h, kafka.Message{Topic: "quoteflow.fills"}) {
		t.Fatalf("expected commit")
	}
	if calls != 2 {
		t.Fatalf("expected one retry after the panic, got %d calls", calls)
	}
	if got := testutil.ToFloat64(c.metrics.consumed.WithLabelValues("quoteflow.fills", "dropped")); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
}

func TestProcessLeavesInterruptedMessageUncommitted(t *testing.T) {
	c := newTestConsumer(t, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := funcHandler{topic: "quoteflow.events", fn: func(ctx context.Context, _ []byte) error { return ctx.Err() }}

	if c.process(ctx, h, kafka.Message{Topic: "quoteflow.events"}) {
		t.Fatalf("interrupted message must not be committed")
	}
}

func TestProducerPublishCountsByTopic(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := &fakeWriter{}
	p := &Producer{w: w, metrics: newProducerMetrics(reg)}

	if err := p.PublishJSON(context.Background(), "quoteflow.quotes", []byte("BTC"), map[string]float64{"bid": 99.5}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Value) != `{"bid":99.5}` || string(w.msgs[0].Key) != "BTC" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if err := p.PublishJSON(context.Background(), "quoteflow.alerts", nil, make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), "quoteflow.quotes", nil, []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "quoteflow.quotes") {
		t.Fatalf("unexpected error %v", err)
	}

	if got := testutil.ToFloat64(p.metrics.published.WithLabelValues("quoteflow.quotes", "ok")); got != 1 {
		t.Fatalf("expected 1 ok, got %v", got)
	}
	if got := testutil.ToFloat64(p.metrics.published.WithLabelValues("quoteflow.quotes", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(p.metrics.bytes.WithLabelValues("quoteflow.quotes")); got != float64(len(`{"bid":99.5}`)) {
		t.Fatalf("unexpected bytes %v", got)
	}
}

func TestParseCompression(t *testing.T) {
	cases := map[string]kafka.Compression{"none": 0, "": 0, "zstd": kafka.Zstd, "snappy": kafka.Snappy}
	for in, want := range cases {
		if got := parseCompression(in); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}
