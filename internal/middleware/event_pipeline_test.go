package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"QuoteFlow/internal/domain/models"
	"QuoteFlow/pkg/metrics"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []time.Time
	fail bool
}

func (h *recordingHandler) Handle(_ context.Context, ev models.MarketDataEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ev.EventTime())
	if h.fail {
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func tradeAt(i int) *models.Trade {
	return &models.Trade{Price: 100, Size: 1, Side: models.SideBuy, Timestamp: time.Unix(int64(i+1), 0)}
}

func TestPipelinePreservesOrder(t *testing.T) {
	h := &recordingHandler{}
	p := NewEventPipeline(h, metrics.NewWithRegistry(prometheus.NewRegistry()), WithBufferSize(64))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := p.Submit(ctx, tradeAt(i)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	p.Start(ctx)
	p.Stop()

	if h.count() != 50 {
		t.Fatalf("expected 50 handled events, got %d", h.count())
	}
	for i := 1; i < len(h.seen); i++ {
		if !h.seen[i].After(h.seen[i-1]) {
			t.Fatalf("out of order at %d", i)
		}
	}
}

func TestPipelineReportsFullQueue(t *testing.T) {
	p := NewEventPipeline(&recordingHandler{}, metrics.NewWithRegistry(prometheus.NewRegistry()), WithBufferSize(2))
	ctx := context.Background()

	if err := p.Submit(ctx, tradeAt(0)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := p.Submit(ctx, tradeAt(1)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	err := p.Submit(ctx, tradeAt(2))
	if !errors.Is(err, models.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if p.Depth() != 2 {
		t.Fatalf("depth = %d", p.Depth())
	}
}

func TestPipelineRejectsNilEvent(t *testing.T) {
	p := NewEventPipeline(&recordingHandler{}, metrics.NewWithRegistry(prometheus.NewRegistry()))
	if err := p.Submit(context.Background(), nil); !errors.Is(err, models.ErrMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
}

func TestPipelineKeepsRunningAfterHandlerError(t *testing.T) {
	h := &recordingHandler{fail: true}
	p := NewEventPipeline(h, metrics.NewWithRegistry(prometheus.NewRegistry()))
	ctx := context.Background()
	p.Start(ctx)
	for i := 0; i < 3; i++ {
		if err := p.Submit(ctx, tradeAt(i)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	p.Stop()
	if h.count() != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.count())
	}
}
