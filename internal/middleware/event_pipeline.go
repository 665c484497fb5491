package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QuoteFlow/internal/domain/models"
	domrepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/pkg/logger"
)

// EventHandler is the minimal downstream the pipeline needs.
type EventHandler interface {
	Handle(ctx context.Context, ev models.MarketDataEvent) error
}

// EventPipeline sits between the feeders (websocket, Kafka, HTTP) and the market maker.
// Any number of goroutines may Submit; a single consumer drains the queue so events
// reach the handler one at a time in the order they were accepted.
type EventPipeline struct {
	handler EventHandler
	metrics domrepo.Metrics
	log     *logger.Logger
	bufSize int
	queue   chan models.MarketDataEvent
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithLogger attaches a logger for handler failures.
func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *EventPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewEventPipeline creates a new pipeline.
func NewEventPipeline(handler EventHandler, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		handler: handler,
		metrics: metrics,
		log:     logger.Nop(),
		bufSize: 4096,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan models.MarketDataEvent, p.bufSize)
	p.log = p.log.With(logger.String("component", "event_pipeline"))
	return p
}

// Submit enqueues ev without blocking. A full queue is reported as models.ErrQueueFull.
func (p *EventPipeline) Submit(ctx context.Context, ev models.MarketDataEvent) error {
	if ev == nil {
		p.metrics.RecordError("pipeline_validate")
		return models.Malformed("event", nil, "nil event")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		p.metrics.RecordError("pipeline_queue_full")
		return fmt.Errorf("submit %s event: %w", ev.Kind(), models.ErrQueueFull)
	}
}

// Depth returns the number of queued events.
func (p *EventPipeline) Depth() int { return len(p.queue) }

// Start launches the consumer goroutine.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				p.drain(ctx)
				return
			case ev := <-p.queue:
				p.handle(ctx, ev)
			}
		}
	}()
}

// Stop processes what is already queued, then stops the consumer.
func (p *EventPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

func (p *EventPipeline) drain(ctx context.Context) {
	for {
		select {
		case ev := <-p.queue:
			p.handle(ctx, ev)
		default:
			return
		}
	}
}

func (p *EventPipeline) handle(ctx context.Context, ev models.MarketDataEvent) {
	start := time.Now()
	if err := p.handler.Handle(ctx, ev); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.log.Warn("event handling failed", logger.String("kind", string(ev.Kind())), logger.Error(err))
		return
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
}
