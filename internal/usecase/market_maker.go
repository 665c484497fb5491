package usecase

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/services/quote"
	"QuoteFlow/internal/services/risk"
	"QuoteFlow/internal/services/signal"
	"QuoteFlow/pkg/logger"
)

// MarketMaker wires router, signal engine, quote layer and risk gate into one API.
// PushEvent is serialized; readers never block on it.
type MarketMaker struct {
	mu      sync.Mutex
	symbol  string
	router  *EventRouter
	engine  *signal.Engine
	quotes  *quote.Manager
	risk    *risk.Manager
	current atomic.Pointer[models.SignalSnapshot]

	log     *logger.Logger
	metrics drepo.Metrics
	qm      drepo.QuoteMetrics
}

// NewMarketMaker creates a MarketMaker for a single symbol.
func NewMarketMaker(
	symbol string,
	engine *signal.Engine,
	quotes *quote.Manager,
	rm *risk.Manager,
	log *logger.Logger,
	metrics drepo.Metrics,
	qm drepo.QuoteMetrics,
) *MarketMaker {
	m := &MarketMaker{
		symbol:  symbol,
		router:  NewEventRouter(engine, symbol),
		engine:  engine,
		quotes:  quotes,
		risk:    rm,
		log:     log.With(logger.String("component", "market_maker"), logger.String("symbol", symbol)),
		metrics: metrics,
		qm:      qm,
	}
	snap := engine.Snapshot()
	m.current.Store(&snap)
	return m
}

// Symbol returns the instrument this instance quotes.
func (m *MarketMaker) Symbol() string { return m.symbol }

// PushEvent is the sole ingestion entry point.
func (m *MarketMaker) PushEvent(ev models.MarketDataEvent) (models.SignalSnapshot, error) {
	start := time.Now()
	m.mu.Lock()
	snap, err := m.router.Route(ev)
	if err == nil {
		m.current.Store(&snap)
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.RecordError("malformed_input")
		m.log.Warn("event rejected", logger.Error(err))
		return m.CurrentSnapshot(), err
	}

	m.metrics.RecordEvent(string(ev.Kind()))
	if t, ok := ev.(*models.Trade); ok {
		m.metrics.RecordLastPrice(m.symbol, t.Price)
	}
	m.metrics.RecordLatency("push_event", time.Since(start).Seconds())
	m.qm.ObserveSnapshot(snap)
	m.log.Debug(snap.String(),
		logger.String("state", string(snap.State)),
		logger.String("mean_reversion", string(snap.MeanReversion)),
	)
	return snap, nil
}

// CurrentSnapshot returns the latest snapshot without blocking on ingestion.
func (m *MarketMaker) CurrentSnapshot() models.SignalSnapshot {
	return *m.current.Load()
}

// NextQuotes builds a pair from the current snapshot and runs both legs through the risk gate.
// ok is false while holding or when both legs were rejected.
func (m *MarketMaker) NextQuotes() (models.QuoteSet, bool, error) {
	snap := m.CurrentSnapshot()
	pair, err := m.quotes.Propose(snap)
	if err != nil {
		m.metrics.RecordError("invariant_violation")
		return models.QuoteSet{Snapshot: snap}, false, fmt.Errorf("propose quotes: %w", err)
	}
	if pair == nil {
		return models.QuoteSet{Snapshot: snap}, false, nil
	}

	decisions := m.risk.EvaluatePair(*pair, snap.Mid)
	set := models.QuoteSet{Decisions: decisions, Snapshot: snap}
	for i := range decisions {
		d := decisions[i]
		m.qm.RecordDecision(d)
		if !d.Accepted() {
			continue
		}
		p := d.Proposal
		if p.Side == models.SideBuy {
			set.Bid = &p
		} else {
			set.Ask = &p
		}
	}
	if set.Bid != nil && set.Ask != nil && set.Bid.Price >= set.Ask.Price {
		m.metrics.RecordError("invariant_violation")
		return models.QuoteSet{Snapshot: snap}, false,
			fmt.Errorf("crossed quote after risk %.8f >= %.8f: %w", set.Bid.Price, set.Ask.Price, models.ErrInvariantViolation)
	}
	return set, set.Bid != nil || set.Ask != nil, nil
}

// ReportFill books an execution into the inventory ledger.
func (m *MarketMaker) ReportFill(side models.Side, price, size float64) (models.LedgerState, error) {
	st, err := m.risk.ReportFill(side, price, size)
	if err != nil {
		if errors.Is(err, models.ErrMalformedInput) {
			m.metrics.RecordError("malformed_fill")
		}
		return st, err
	}
	m.qm.ObserveLedger(st)
	m.log.Info("fill booked",
		logger.String("side", side.String()),
		logger.Float64("price", price),
		logger.Float64("size", size),
		logger.Float64("position", st.NetPosition),
		logger.Float64("avg_price", st.AvgEntryPrice),
	)
	return st, nil
}

// Ledger returns a copy of the inventory state.
func (m *MarketMaker) Ledger() models.LedgerState { return m.risk.Ledger() }

// Risk exposes the risk manager for lifecycle tasks such as restoring the ledger.
func (m *MarketMaker) Risk() *risk.Manager { return m.risk }
