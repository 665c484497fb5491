package usecase

import (
	"context"
	"sync"
	"time"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/service/ratelimit"
	"QuoteFlow/internal/services/quote"
	"QuoteFlow/pkg/logger"
)

// CycleConfig tunes what happens after every processed event.
type CycleConfig struct {
	PublishBurst  float64 // token bucket capacity for quote publication
	PublishRate   float64 // tokens per second
	RequoteOnly   bool    // publish only when quotes moved enough
	SnapshotEvery int     // journal every Nth snapshot
}

// QuoteCycle is the per-event loop: push the event, build quotes, then publish,
// journal, apply the fill policy and mirror state.
type QuoteCycle struct {
	mm      *MarketMaker
	pub     drepo.QuotePublisher
	journal *JournalWriter
	mirror  drepo.StateMirror
	limiter *ratelimit.Limiter
	policy  FillPolicy
	cfg     CycleConfig
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu        sync.Mutex
	published *models.QuoteSet
	seq       int
}

// NewQuoteCycle wires the loop. pub, journal and mirror may be nil when the matching backend is disabled.
func NewQuoteCycle(
	mm *MarketMaker,
	pub drepo.QuotePublisher,
	journal *JournalWriter,
	mirror drepo.StateMirror,
	limiter *ratelimit.Limiter,
	policy FillPolicy,
	cfg CycleConfig,
	metrics drepo.Metrics,
	log *logger.Logger,
) *QuoteCycle {
	if policy == nil {
		policy = ExternalFill{}
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 1
	}
	return &QuoteCycle{
		mm:      mm,
		pub:     pub,
		journal: journal,
		mirror:  mirror,
		limiter: limiter,
		policy:  policy,
		cfg:     cfg,
		metrics: metrics,
		log:     log.With(logger.String("component", "quote_cycle")),
		now:     time.Now,
	}
}

// Handle implements middleware.EventHandler.
func (c *QuoteCycle) Handle(ctx context.Context, ev models.MarketDataEvent) error {
	snap, err := c.mm.PushEvent(ev)
	if err != nil {
		return err
	}
	c.afterEvent(ctx, snap)
	return nil
}

func (c *QuoteCycle) afterEvent(ctx context.Context, snap models.SignalSnapshot) {
	start := time.Now()
	c.mu.Lock()
	c.seq++
	journalSnap := c.seq%c.cfg.SnapshotEvery == 0
	c.mu.Unlock()

	if c.journal != nil && journalSnap {
		c.journal.AddSnapshot(snap)
	}
	if c.mirror != nil {
		if err := c.mirror.SaveSnapshot(ctx, snap); err != nil {
			c.metrics.RecordError("mirror_snapshot")
			c.log.Warn("mirror snapshot", logger.Error(err))
		}
	}

	set, ok, err := c.mm.NextQuotes()
	if err != nil {
		c.log.Error("quote cycle aborted", logger.Error(err), logger.String("signal", snap.String()))
		return
	}
	if set.Decisions[0].Outcome != "" && c.journal != nil {
		c.journal.AddDecisions(set, c.now())
	}
	if !ok {
		return
	}
	if !c.shouldPublish(set) {
		return
	}
	if c.pub != nil {
		if err := c.pub.PublishQuotes(ctx, set); err != nil {
			c.metrics.RecordError("publish_quotes")
			c.log.Error("publish quotes", logger.Error(err))
			return
		}
	}
	c.mu.Lock()
	c.published = &set
	c.mu.Unlock()
	c.metrics.RecordLatency("quote_cycle", time.Since(start).Seconds())

	for _, f := range c.policy.Fills(set, c.now()) {
		if _, err := c.ApplyFill(ctx, f); err != nil {
			c.log.Error("instant fill", logger.Error(err))
		}
	}
}

func (c *QuoteCycle) shouldPublish(set models.QuoteSet) bool {
	c.mu.Lock()
	prev := c.published
	c.mu.Unlock()
	if c.cfg.RequoteOnly && !quotesChanged(prev, set) {
		return false
	}
	if c.cfg.PublishRate > 0 && !c.limiter.Allow(c.mm.Symbol(), c.cfg.PublishBurst, c.cfg.PublishRate) {
		c.metrics.RecordError("publish_throttled")
		return false
	}
	return true
}

// ApplyFill books a fill and mirrors the resulting ledger.
func (c *QuoteCycle) ApplyFill(ctx context.Context, f models.Fill) (models.LedgerState, error) {
	st, err := c.mm.ReportFill(f.Side, f.Price, f.Size)
	if err != nil {
		return st, err
	}
	if c.mirror != nil {
		if err := c.mirror.SaveLedger(ctx, st); err != nil {
			c.metrics.RecordError("mirror_ledger")
			c.log.Warn("mirror ledger", logger.Error(err))
		}
	}
	return st, nil
}

// LastPublished returns the most recent published quote set.
func (c *QuoteCycle) LastPublished() (models.QuoteSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		return models.QuoteSet{}, false
	}
	return *c.published, true
}

// RestoreLedger loads the mirrored ledger into the risk manager, if present.
func (c *QuoteCycle) RestoreLedger(ctx context.Context) (bool, error) {
	if c.mirror == nil {
		return false, nil
	}
	st, ok, err := c.mirror.LoadLedger(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := c.mm.Risk().Restore(st); err != nil {
		return false, err
	}
	c.log.Info("ledger restored",
		logger.Float64("position", st.NetPosition),
		logger.Float64("avg_price", st.AvgEntryPrice),
	)
	return true, nil
}

func quotesChanged(prev *models.QuoteSet, next models.QuoteSet) bool {
	if prev == nil {
		return true
	}
	if (prev.Bid == nil) != (next.Bid == nil) || (prev.Ask == nil) != (next.Ask == nil) {
		return true
	}
	if prev.Bid != nil && prev.Ask != nil {
		return quote.Requote(
			&models.QuotePair{Bid: *prev.Bid, Ask: *prev.Ask},
			models.QuotePair{Bid: *next.Bid, Ask: *next.Ask},
		)
	}
	p, n := prev.Bid, next.Bid
	if p == nil {
		p, n = prev.Ask, next.Ask
	}
	return p.Price != n.Price || p.Size != n.Size
}
