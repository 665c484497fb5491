package usecase

import (
	"context"
	"sync"
	"time"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/pkg/logger"
)

// JournalWriter batches snapshots and decisions in memory and flushes them to the
// journal by size or by interval, so the quoting path never waits on ClickHouse.
type JournalWriter struct {
	journal  drepo.Journal
	symbol   string
	batchSz  int
	batchTO  time.Duration
	maxQueue int
	metrics  drepo.Metrics
	log      *logger.Logger

	mu        sync.Mutex
	snapshots []models.SignalSnapshot
	decisions []drepo.DecisionRecord
	kick      chan struct{}
}

// NewJournalWriter creates a writer. Pending rows beyond 20 batches are discarded and counted.
func NewJournalWriter(journal drepo.Journal, symbol string, batchSz int, batchTO time.Duration, metrics drepo.Metrics, log *logger.Logger) *JournalWriter {
	if batchSz <= 0 {
		batchSz = 500
	}
	if batchTO <= 0 {
		batchTO = time.Second
	}
	return &JournalWriter{
		journal:  journal,
		symbol:   symbol,
		batchSz:  batchSz,
		batchTO:  batchTO,
		maxQueue: batchSz * 20,
		metrics:  metrics,
		log:      log.With(logger.String("component", "journal_writer")),
		kick:     make(chan struct{}, 1),
	}
}

// AddSnapshot queues a snapshot row.
func (w *JournalWriter) AddSnapshot(s models.SignalSnapshot) {
	w.mu.Lock()
	if len(w.snapshots) >= w.maxQueue {
		w.snapshots = w.snapshots[1:]
		w.metrics.RecordError("journal_overflow")
	}
	w.snapshots = append(w.snapshots, s)
	full := len(w.snapshots) >= w.batchSz
	w.mu.Unlock()
	if full {
		w.signal()
	}
}

// AddDecisions queues the decisions of one quote set.
func (w *JournalWriter) AddDecisions(set models.QuoteSet, at time.Time) {
	w.mu.Lock()
	for _, d := range set.Decisions {
		if d.Outcome == "" {
			continue
		}
		if len(w.decisions) >= w.maxQueue {
			w.decisions = w.decisions[1:]
			w.metrics.RecordError("journal_overflow")
		}
		w.decisions = append(w.decisions, drepo.DecisionRecord{At: at, Symbol: w.symbol, Decision: d})
	}
	full := len(w.decisions) >= w.batchSz
	w.mu.Unlock()
	if full {
		w.signal()
	}
}

func (w *JournalWriter) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run flushes until ctx is cancelled, then performs a final flush.
func (w *JournalWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.batchTO)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.Flush(fctx)
			cancel()
			return nil
		case <-ticker.C:
			w.Flush(ctx)
		case <-w.kick:
			w.Flush(ctx)
		}
	}
}

// Flush writes everything pending. Failed rows are put back in front of newer ones.
func (w *JournalWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	snaps, decs := w.snapshots, w.decisions
	w.snapshots, w.decisions = nil, nil
	w.mu.Unlock()

	if len(snaps) > 0 {
		start := time.Now()
		if err := w.journal.StoreSnapshots(ctx, w.symbol, snaps); err != nil {
			w.metrics.RecordError("journal_snapshots")
			w.log.Error("store snapshots", logger.Int("rows", len(snaps)), logger.Error(err))
			w.requeue(snaps, nil)
		} else {
			w.metrics.RecordLatency("journal_snapshots", time.Since(start).Seconds())
		}
	}
	if len(decs) > 0 {
		start := time.Now()
		if err := w.journal.StoreDecisions(ctx, decs); err != nil {
			w.metrics.RecordError("journal_decisions")
			w.log.Error("store decisions", logger.Int("rows", len(decs)), logger.Error(err))
			w.requeue(nil, decs)
		} else {
			w.metrics.RecordLatency("journal_decisions", time.Since(start).Seconds())
		}
	}
}

// Pending returns the number of queued snapshot and decision rows.
func (w *JournalWriter) Pending() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.snapshots), len(w.decisions)
}

func (w *JournalWriter) requeue(snaps []models.SignalSnapshot, decs []drepo.DecisionRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(snaps) > 0 {
		w.snapshots = trimFront(append(snaps, w.snapshots...), w.maxQueue)
	}
	if len(decs) > 0 {
		w.decisions = trimFront(append(decs, w.decisions...), w.maxQueue)
	}
}

func trimFront[T any](s []T, max int) []T {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
