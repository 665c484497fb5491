package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/service/cache"
	"QuoteFlow/internal/service/ratelimit"
	"QuoteFlow/pkg/logger"
	"QuoteFlow/pkg/metrics"
)

type memPublisher struct {
	mu   sync.Mutex
	sets []models.QuoteSet
	err  error
}

func (p *memPublisher) PublishQuotes(_ context.Context, set models.QuoteSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sets = append(p.sets, set)
	return nil
}

func (p *memPublisher) Close() error { return nil }

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sets)
}

type memJournal struct {
	mu        sync.Mutex
	snapshots []models.SignalSnapshot
	decisions []drepo.DecisionRecord
	fail      bool
}

func (j *memJournal) Init(context.Context) error { return nil }

func (j *memJournal) StoreSnapshots(_ context.Context, _ string, s []models.SignalSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("clickhouse down")
	}
	j.snapshots = append(j.snapshots, s...)
	return nil
}

func (j *memJournal) StoreDecisions(_ context.Context, r []drepo.DecisionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("clickhouse down")
	}
	j.decisions = append(j.decisions, r...)
	return nil
}

func (j *memJournal) RecentDecisions(context.Context, string, int) ([]drepo.DecisionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]drepo.DecisionRecord(nil), j.decisions...), nil
}

func (j *memJournal) RecentSnapshots(context.Context, string, int) ([]models.SignalSnapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.SignalSnapshot(nil), j.snapshots...), nil
}

func (j *memJournal) Health(context.Context) error { return nil }
func (j *memJournal) Close() error                 { return nil }

type cycleFixture struct {
	mm      *MarketMaker
	cycle   *QuoteCycle
	pub     *memPublisher
	journal *memJournal
	writer  *JournalWriter
	mirror  *cache.StateMirror
}

func newCycleFixture(t *testing.T, policy FillPolicy, cfg CycleConfig) *cycleFixture {
	t.Helper()
	mm := newTestMarketMaker(t, 5)
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	f := &cycleFixture{
		mm:      mm,
		pub:     &memPublisher{},
		journal: &memJournal{},
		mirror:  cache.NewStateMirror(cache.NewTTLCache(), "", "BTC", 0),
	}
	f.writer = NewJournalWriter(f.journal, "BTC", 100, time.Hour, rec, logger.Nop())
	f.cycle = NewQuoteCycle(mm, f.pub, f.writer, f.mirror, ratelimit.New(), policy, cfg, rec, logger.Nop())
	return f
}

func TestQuoteCyclePublishesAndFillsInstantly(t *testing.T) {
	f := newCycleFixture(t, InstantFill{}, CycleConfig{})
	ctx := context.Background()

	require.NoError(t, f.cycle.Handle(ctx, book(99.5, 100.5, t0)))
	assert.Equal(t, 0, f.pub.count(), "no quotes before the first trade")

	require.NoError(t, f.cycle.Handle(ctx, trade(100, 1, t0.Add(time.Second))))
	require.Equal(t, 1, f.pub.count())

	set, ok := f.cycle.LastPublished()
	require.True(t, ok)
	assert.InDelta(t, 99.5, set.Bid.Price, 1e-9)

	l := f.mm.Ledger()
	assert.Equal(t, int64(2), l.Fills)
	assert.InDelta(t, 0, l.NetPosition, 1e-12)
	assert.InDelta(t, 1.0, l.RealizedPnL, 1e-9)

	mirrored, ok, err := f.mirror.LoadLedger(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), mirrored.Fills)

	f.writer.Flush(ctx)
	snaps, _ := f.journal.RecentSnapshots(ctx, "BTC", 10)
	decs, _ := f.journal.RecentDecisions(ctx, "BTC", 10)
	assert.Len(t, snaps, 2)
	assert.Len(t, decs, 2)
}

func TestQuoteCycleRequoteOnly(t *testing.T) {
	f := newCycleFixture(t, ExternalFill{}, CycleConfig{RequoteOnly: true})
	ctx := context.Background()

	require.NoError(t, f.cycle.Handle(ctx, book(99.5, 100.5, t0)))
	require.NoError(t, f.cycle.Handle(ctx, trade(100, 1, t0.Add(time.Second))))
	require.NoError(t, f.cycle.Handle(ctx, book(99.5, 100.5, t0.Add(2*time.Second))))
	assert.Equal(t, 1, f.pub.count(), "unchanged quotes are not republished")
	assert.Zero(t, f.mm.Ledger().Fills, "external policy books nothing by itself")
}

func TestQuoteCycleThrottlesPublication(t *testing.T) {
	f := newCycleFixture(t, ExternalFill{}, CycleConfig{PublishBurst: 1, PublishRate: 1e-6})
	ctx := context.Background()

	require.NoError(t, f.cycle.Handle(ctx, book(99.5, 100.5, t0)))
	for i := 1; i <= 5; i++ {
		require.NoError(t, f.cycle.Handle(ctx, trade(100, 1, t0.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, 1, f.pub.count())
}

func TestQuoteCycleReturnsMalformed(t *testing.T) {
	f := newCycleFixture(t, ExternalFill{}, CycleConfig{})
	err := f.cycle.Handle(context.Background(), trade(0, 1, t0))
	assert.ErrorIs(t, err, models.ErrMalformedInput)
	assert.Equal(t, 0, f.pub.count())
}

func TestQuoteCyclePublishFailureSkipsFills(t *testing.T) {
	f := newCycleFixture(t, InstantFill{}, CycleConfig{})
	f.pub.err = errors.New("broker down")
	ctx := context.Background()

	require.NoError(t, f.cycle.Handle(ctx, book(99.5, 100.5, t0)))
	require.NoError(t, f.cycle.Handle(ctx, trade(100, 1, t0.Add(time.Second))))
	_, ok := f.cycle.LastPublished()
	assert.False(t, ok)
	assert.Zero(t, f.mm.Ledger().Fills)
}

func TestQuoteCycleRestoreLedger(t *testing.T) {
	f := newCycleFixture(t, ExternalFill{}, CycleConfig{})
	ctx := context.Background()

	ok, err := f.cycle.RestoreLedger(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.mirror.SaveLedger(ctx, models.LedgerState{NetPosition: 2, AvgEntryPrice: 100, Fills: 7}))
	ok, err = f.cycle.RestoreLedger(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	l := f.mm.Ledger()
	assert.InDelta(t, 2, l.NetPosition, 1e-12)
	assert.InDelta(t, 5, l.MaxLongLimit, 1e-12, "configured limits win over mirrored ones")
}

func TestJournalWriterRequeuesOnFailure(t *testing.T) {
	j := &memJournal{fail: true}
	w := NewJournalWriter(j, "BTC", 10, time.Hour, metrics.NewWithRegistry(prometheus.NewRegistry()), logger.Nop())
	w.AddSnapshot(models.SignalSnapshot{TWAP: 1})
	w.Flush(context.Background())
	s, _ := w.Pending()
	assert.Equal(t, 1, s)

	j.mu.Lock()
	j.fail = false
	j.mu.Unlock()
	w.Flush(context.Background())
	s, _ = w.Pending()
	assert.Equal(t, 0, s)
}

func TestParseFillPolicy(t *testing.T) {
	p, err := ParseFillPolicy("instant")
	require.NoError(t, err)
	assert.Equal(t, "instant", p.Name())
	p, err = ParseFillPolicy("")
	require.NoError(t, err)
	assert.Equal(t, "external", p.Name())
	_, err = ParseFillPolicy("magic")
	assert.Error(t, err)
}
