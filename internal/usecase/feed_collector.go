package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/pkg/logger"
)

// EventSubmitter accepts events for asynchronous processing. Implemented by middleware.EventPipeline.
type EventSubmitter interface {
	Submit(ctx context.Context, ev models.MarketDataEvent) error
}

// FeedStatus is the observable connectivity state of the market data stream.
type FeedStatus struct {
	Connected  bool      `json:"connected"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
	Reconnects int64     `json:"reconnects"`
	Received   int64     `json:"received"`
	Rejected   int64     `json:"rejected"`
}

// FeedCollector drives the market stream, reconnecting with exponential backoff,
// and hands every event to the pipeline.
type FeedCollector struct {
	stream  drepo.MarketStream
	sink    EventSubmitter
	metrics drepo.Metrics
	log     *logger.Logger

	initialInterval time.Duration
	maxInterval     time.Duration

	mu     sync.RWMutex
	status FeedStatus
	wasUp  bool
}

// NewFeedCollector creates a new FeedCollector instance.
func NewFeedCollector(stream drepo.MarketStream, sink EventSubmitter, metrics drepo.Metrics, log *logger.Logger, initial, maxInterval time.Duration) *FeedCollector {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if maxInterval < initial {
		maxInterval = 30 * time.Second
	}
	return &FeedCollector{
		stream:          stream,
		sink:            sink,
		metrics:         metrics,
		log:             log.With(logger.String("component", "feed_collector")),
		initialInterval: initial,
		maxInterval:     maxInterval,
	}
}

// Status returns the current connectivity state.
func (c *FeedCollector) Status() FeedStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsConnected returns true if the market stream is connected.
func (c *FeedCollector) IsConnected() bool { return c.Status().Connected }

// Run blocks until ctx is cancelled, reconnecting whenever the stream drops.
func (c *FeedCollector) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.stream.Connect(ctx); err != nil {
			c.markDown(err)
			if !c.sleep(ctx, bo.NextBackOff()) {
				return nil
			}
			continue
		}
		bo.Reset()
		c.markUp()

		err := c.consume(ctx)
		if ctx.Err() != nil {
			_ = c.stream.Close()
			c.setConnected(false)
			return nil
		}
		_ = c.stream.Close()
		if err == nil {
			err = models.ErrDisconnected
		}
		c.markDown(err)
		if !c.sleep(ctx, bo.NextBackOff()) {
			return nil
		}
	}
}

func (c *FeedCollector) consume(ctx context.Context) error {
	evCh, errCh := c.stream.Read(ctx)
	for ev := range evCh {
		c.bump(func(s *FeedStatus) { s.Received++ })
		if err := c.sink.Submit(ctx, ev); err != nil {
			c.bump(func(s *FeedStatus) { s.Rejected++ })
			if errors.Is(err, models.ErrQueueFull) {
				c.log.Warn("event queue full", logger.String("kind", string(ev.Kind())))
			} else if ctx.Err() == nil {
				c.log.Warn("event rejected", logger.Error(err))
			}
		}
	}
	return <-errCh
}

func (c *FeedCollector) sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		d = c.maxInterval
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *FeedCollector) markUp() {
	c.mu.Lock()
	if c.wasUp {
		c.status.Reconnects++
	}
	c.wasUp = true
	c.status.Since = time.Now()
	c.status.Connected = true
	c.status.LastError = ""
	c.mu.Unlock()
	c.metrics.SetFeedConnected(true)
	c.log.Info("feed connected")
}

func (c *FeedCollector) markDown(err error) {
	c.mu.Lock()
	wasUp := c.status.Connected
	c.status.Connected = false
	c.status.LastError = err.Error()
	c.status.Since = time.Now()
	c.mu.Unlock()
	c.metrics.SetFeedConnected(false)
	c.metrics.RecordError("stream_disconnected")
	if wasUp {
		c.log.Error("feed disconnected", logger.Error(err))
	} else {
		c.log.Warn("feed connect failed", logger.Error(err))
	}
}

func (c *FeedCollector) setConnected(v bool) {
	c.mu.Lock()
	c.status.Connected = v
	c.mu.Unlock()
	c.metrics.SetFeedConnected(v)
}

func (c *FeedCollector) bump(fn func(*FeedStatus)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}
