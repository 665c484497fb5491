package repository

import (
	"context"
	"time"

	"QuoteFlow/internal/domain/models"
)

// MarketStream is a live source of normalized market data events.
// Read errors wrap models.ErrDisconnected.
type MarketStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.MarketDataEvent, <-chan error)
	Close() error
	IsConnected() bool
}

// QuotePublisher ships risk-filtered quotes downstream.
type QuotePublisher interface {
	PublishQuotes(ctx context.Context, set models.QuoteSet) error
	Close() error
}

// DecisionRecord is one journaled risk decision.
type DecisionRecord struct {
	At       time.Time           `json:"at"`
	Symbol   string              `json:"symbol"`
	Decision models.RiskDecision `json:"decision"`
}

// Journal persists snapshots and decisions for later analysis.
type Journal interface {
	Init(ctx context.Context) error
	StoreSnapshots(ctx context.Context, symbol string, snaps []models.SignalSnapshot) error
	StoreDecisions(ctx context.Context, recs []DecisionRecord) error
	RecentDecisions(ctx context.Context, symbol string, limit int) ([]DecisionRecord, error)
	RecentSnapshots(ctx context.Context, symbol string, limit int) ([]models.SignalSnapshot, error)
	Health(ctx context.Context) error
	Close() error
}

// StateMirror keeps the latest snapshot and ledger where other processes can read them.
type StateMirror interface {
	SaveSnapshot(ctx context.Context, s models.SignalSnapshot) error
	SaveLedger(ctx context.Context, l models.LedgerState) error
	LoadLedger(ctx context.Context) (models.LedgerState, bool, error)
}

type Metrics interface {
	RecordEvent(kind string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	SetFeedConnected(connected bool)
}

// QuoteMetrics exposes the trading state itself.
type QuoteMetrics interface {
	ObserveSnapshot(s models.SignalSnapshot)
	RecordDecision(d models.RiskDecision)
	ObserveLedger(l models.LedgerState)
}
