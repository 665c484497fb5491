package repository

import (
	"context"
	"time"

	"QuoteFlow/internal/domain/models"
	"QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/service/codec"
	pkgkafka "QuoteFlow/pkg/kafka"
)

// KafkaQuotePublisher implements QuotePublisher for Kafka. Messages are keyed by
// symbol so a consumer sees the quotes of one instrument in order.
type KafkaQuotePublisher struct {
	producer *pkgkafka.Producer
	topic    string
	symbol   string
	now      func() time.Time
}

// NewKafkaQuotePublisher creates Kafka publisher.
func NewKafkaQuotePublisher(producer *pkgkafka.Producer, topic, symbol string) *KafkaQuotePublisher {
	return &KafkaQuotePublisher{producer: producer, topic: topic, symbol: symbol, now: time.Now}
}

var _ repository.QuotePublisher = (*KafkaQuotePublisher)(nil)

func (p *KafkaQuotePublisher) PublishQuotes(ctx context.Context, set models.QuoteSet) error {
	b, err := codec.EncodeQuotes(p.symbol, set, p.now())
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, []byte(p.symbol), b)
}

func (p *KafkaQuotePublisher) Close() error {
	return nil // producer is shared, closed by the app
}
