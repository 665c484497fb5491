package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures the writer shared by the quotes topic and the alert batches.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int // -1 all replicas, 1 leader, 0 none
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int64
	Linger       time.Duration
	// Async trades delivery errors for latency; failures are only counted.
	Async bool
	// AutoCreateTopics lets the writer create missing topics (local setups only).
	AutoCreateTopics bool
}

func (c *ProducerConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Linger <= 0 {
		c.Linger = 10 * time.Millisecond
	}
}

// ConsumerConfig configures the readers of the events and fills topics.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// StartLatest skips the backlog when the group has no committed offset.
	// Stale market data is worthless to the signal engine.
	StartLatest bool
	MinBytes    int
	MaxBytes    int
	Retry       RetryPolicy
	// DLQTopic receives messages that failed every attempt. Empty drops them.
	DLQTopic string
}

// RetryPolicy bounds how often the consumer re-runs a handler on one message.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable reports whether an error may succeed on another attempt. Nil retries every error.
	Retryable func(error) bool
}

func (c *ConsumerConfig) setDefaults() {
	if c.GroupID == "" {
		c.GroupID = "quoteflow"
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = 100 * time.Millisecond
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		c.Retry.MaxInterval = c.Retry.InitialInterval
	}
}

func (c ConsumerConfig) startOffset() int64 {
	if c.StartLatest {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
