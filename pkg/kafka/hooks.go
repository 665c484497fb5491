package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// TraceHeader carries the correlation id set by upstream market data producers.
const TraceHeader = "trace_id"

// Delivery describes one message taken off an input topic.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	TraceID   string
	Produced  time.Time
	Attempt   int
}

func newDelivery(km kafka.Message) Delivery {
	d := Delivery{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Produced:  km.Time,
	}
	for _, h := range km.Headers {
		if h.Key == TraceHeader {
			d.TraceID = string(h.Value)
		}
	}
	return d
}

// ConsumerHook observes message handling. Hook calls must not block.
type ConsumerHook interface {
	// AfterAttempt runs after every handler attempt with its result.
	AfterAttempt(ctx context.Context, d Delivery, took time.Duration, err error)
	// Failed runs once when the consumer gives up on a message.
	Failed(ctx context.Context, d Delivery, err error)
}

// HookFuncs adapts plain functions to ConsumerHook. Nil fields are skipped.
type HookFuncs struct {
	After func(ctx context.Context, d Delivery, took time.Duration, err error)
	Fail  func(ctx context.Context, d Delivery, err error)
}

func (h HookFuncs) AfterAttempt(ctx context.Context, d Delivery, took time.Duration, err error) {
	if h.After != nil {
		h.After(ctx, d, took, err)
	}
}

func (h HookFuncs) Failed(ctx context.Context, d Delivery, err error) {
	if h.Fail != nil {
		h.Fail(ctx, d, err)
	}
}

type deliveryKey struct{}

func withDelivery(ctx context.Context, d Delivery) context.Context {
	return context.WithValue(ctx, deliveryKey{}, d)
}

// DeliveryFrom returns the message a handler context was created for.
func DeliveryFrom(ctx context.Context) (Delivery, bool) {
	d, ok := ctx.Value(deliveryKey{}).(Delivery)
	return d, ok
}
