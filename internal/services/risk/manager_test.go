package risk

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuoteFlow/internal/domain/models"
)

var at = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{MaxLong: 5, MaxShort: 5}, WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	return m
}

func buy(size float64) models.QuoteProposal {
	return models.QuoteProposal{ID: "b", Side: models.SideBuy, Price: 99.5, Size: size}
}

func sell(size float64) models.QuoteProposal {
	return models.QuoteProposal{ID: "s", Side: models.SideSell, Price: 100.5, Size: size}
}

func state(pos float64) models.LedgerState {
	return models.LedgerState{NetPosition: pos, MaxLongLimit: 5, MaxShortLimit: 5}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name    string
		p       models.QuoteProposal
		pos     float64
		outcome models.Outcome
		size    float64
		reason  string
	}{
		{"flat buy inside", buy(1), 0, models.OutcomeApproved, 1, ""},
		{"buy up to the limit", buy(1), 4, models.OutcomeApproved, 1, ""},
		{"buy at long limit", buy(1), 5, models.OutcomeRejected, 1, models.ReasonLimitBreach},
		{"buy beyond long limit", buy(1), 6, models.OutcomeRejected, 1, models.ReasonLimitBreach},
		{"buy crossing long limit", buy(2), 4.5, models.OutcomeAdjusted, 0.5, ""},
		{"sell at short limit", sell(1), -5, models.OutcomeRejected, 1, models.ReasonLimitBreach},
		{"sell crossing short limit", sell(3), -4, models.OutcomeAdjusted, 1, ""},
		{"sell reducing long", sell(2), 5, models.OutcomeApproved, 2, ""},
		{"sell flipping through flat", sell(8), 4, models.OutcomeApproved, 8, ""},
		{"sell beyond flip", sell(10), 4, models.OutcomeAdjusted, 9, ""},
		{"zero size", buy(0), 0, models.OutcomeRejected, 0, models.ReasonInvalidProposal},
		{"nan price", models.QuoteProposal{Side: models.SideBuy, Price: math.NaN(), Size: 1}, 0, models.OutcomeRejected, 1, models.ReasonInvalidProposal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.p, state(tc.pos))
			assert.Equal(t, tc.outcome, d.Outcome)
			assert.Equal(t, tc.size, d.Proposal.Size)
			assert.Equal(t, tc.reason, d.Reason)
			if tc.outcome == models.OutcomeAdjusted {
				assert.Equal(t, tc.p.Size, d.OriginalSize)
				assert.Equal(t, tc.p.ID, d.Proposal.ID)
			}
		})
	}
}

func TestEvaluateMatchesLedger(t *testing.T) {
	m := newManager(t)
	_, err := m.ReportFill(models.SideBuy, 100, 4.5)
	require.NoError(t, err)

	d := m.Evaluate(buy(2))
	assert.Equal(t, models.OutcomeAdjusted, d.Outcome)
	assert.Equal(t, 0.5, d.Proposal.Size)

	_, err = m.ReportFill(models.SideBuy, 100, 0.5)
	require.NoError(t, err)
	d = m.Evaluate(buy(1))
	assert.Equal(t, models.OutcomeRejected, d.Outcome)
	assert.Equal(t, models.ReasonLimitBreach, d.Reason)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	m := newManager(t)
	_, err := m.ReportFill(models.SideSell, 100, 3)
	require.NoError(t, err)
	first := m.EvaluatePair(models.QuotePair{Bid: buy(1), Ask: sell(4)}, 100)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.EvaluatePair(models.QuotePair{Bid: buy(1), Ask: sell(4)}, 100))
	}
	assert.Equal(t, models.OutcomeApproved, first[0].Outcome)
	assert.Equal(t, models.OutcomeAdjusted, first[1].Outcome)
	assert.Equal(t, 2.0, first[1].Proposal.Size)
	assert.Equal(t, -3.0, m.Ledger().NetPosition)
}

func TestWeightedAverageCost(t *testing.T) {
	t.Run("buy from flat", func(t *testing.T) {
		m := newManager(t)
		s, err := m.ReportFill(models.SideBuy, 100, 2)
		require.NoError(t, err)
		assert.Equal(t, 2.0, s.NetPosition)
		assert.Equal(t, 100.0, s.AvgEntryPrice)

		s, err = m.ReportFill(models.SideBuy, 110, 2)
		require.NoError(t, err)
		assert.Equal(t, 4.0, s.NetPosition)
		assert.Equal(t, 105.0, s.AvgEntryPrice)
		assert.Equal(t, at, s.UpdatedAt)
		assert.EqualValues(t, 2, s.Fills)
	})

	t.Run("sell that exactly flattens", func(t *testing.T) {
		m := newManager(t)
		_, err := m.ReportFill(models.SideBuy, 100, 2)
		require.NoError(t, err)
		s, err := m.ReportFill(models.SideSell, 105, 2)
		require.NoError(t, err)
		assert.Equal(t, 0.0, s.NetPosition)
		assert.Equal(t, 0.0, s.AvgEntryPrice)
		assert.Equal(t, 10.0, s.RealizedPnL)
	})

	t.Run("buy that partially covers a short", func(t *testing.T) {
		m := newManager(t)
		_, err := m.ReportFill(models.SideSell, 100, 3)
		require.NoError(t, err)
		s, err := m.ReportFill(models.SideBuy, 95, 1)
		require.NoError(t, err)
		assert.Equal(t, -2.0, s.NetPosition)
		assert.Equal(t, 100.0, s.AvgEntryPrice)
		assert.Equal(t, 5.0, s.RealizedPnL)
	})

	t.Run("sell that flips a long", func(t *testing.T) {
		m := newManager(t)
		_, err := m.ReportFill(models.SideBuy, 100, 1)
		require.NoError(t, err)
		s, err := m.ReportFill(models.SideSell, 90, 3)
		require.NoError(t, err)
		assert.Equal(t, -2.0, s.NetPosition)
		assert.Equal(t, 90.0, s.AvgEntryPrice)
		assert.Equal(t, -10.0, s.RealizedPnL)
	})

	t.Run("decimal bookkeeping", func(t *testing.T) {
		m := newManager(t)
		for i := 0; i < 10; i++ {
			_, err := m.ReportFill(models.SideBuy, 100, 0.1)
			require.NoError(t, err)
		}
		assert.Equal(t, 1.0, m.Ledger().NetPosition)
	})
}

func TestFillBeyondLimitIsBooked(t *testing.T) {
	m := newManager(t)
	_, err := m.ReportFill(models.SideBuy, 100, 6)
	require.NoError(t, err)
	assert.Equal(t, 6.0, m.Ledger().NetPosition)
	assert.Equal(t, models.OutcomeRejected, m.Evaluate(buy(0.1)).Outcome)
	assert.Equal(t, models.OutcomeApproved, m.Evaluate(sell(1)).Outcome)
}

func TestMalformedFill(t *testing.T) {
	m := newManager(t)
	before := m.Ledger()
	for _, f := range []struct {
		side        models.Side
		price, size float64
	}{
		{models.SideBuy, math.NaN(), 1},
		{models.SideBuy, 100, 0},
		{models.SideSell, -1, 1},
		{models.SideSell, 100, math.Inf(1)},
		{models.Side(0), 100, 1},
	} {
		_, err := m.ReportFill(f.side, f.price, f.size)
		assert.ErrorIs(t, err, models.ErrMalformedInput)
	}
	assert.Equal(t, before, m.Ledger())
}

func TestKillSwitch(t *testing.T) {
	m := newManager(t)
	m.SetKillSwitch(true)
	assert.True(t, m.KillSwitch())
	d := m.Evaluate(buy(1))
	assert.Equal(t, models.OutcomeRejected, d.Outcome)
	assert.Equal(t, models.ReasonKillSwitch, d.Reason)

	m.SetKillSwitch(false)
	assert.Equal(t, models.OutcomeApproved, m.Evaluate(buy(1)).Outcome)
}

func TestStopLossOnlyAllowsFlattening(t *testing.T) {
	m, err := NewManager(Config{MaxLong: 5, MaxShort: 5, MaxLoss: 3})
	require.NoError(t, err)
	_, err = m.ReportFill(models.SideBuy, 100, 2)
	require.NoError(t, err)

	// 2 long from 100 marked at 99: -2, inside the stop
	assert.False(t, m.StopLoss(99))
	pair := models.QuotePair{Bid: buy(1), Ask: sell(3)}
	d := m.EvaluatePair(pair, 99)
	assert.Equal(t, models.OutcomeApproved, d[0].Outcome)
	assert.Equal(t, models.OutcomeApproved, d[1].Outcome)

	// marked at 98: -4, past the stop
	assert.True(t, m.StopLoss(98))
	d = m.EvaluatePair(pair, 98)
	assert.Equal(t, models.OutcomeRejected, d[0].Outcome)
	assert.Equal(t, models.ReasonStopLoss, d[0].Reason)
	assert.Equal(t, models.OutcomeAdjusted, d[1].Outcome)
	assert.InDelta(t, 2.0, d[1].Proposal.Size, 1e-12)

	_, err = m.ReportFill(models.SideSell, 98, 2)
	require.NoError(t, err)
	// flat with -4 realized: nothing may open
	d = m.EvaluatePair(pair, 98)
	assert.Equal(t, models.ReasonStopLoss, d[0].Reason)
	assert.Equal(t, models.ReasonStopLoss, d[1].Reason)
	assert.Equal(t, models.ReasonStopLoss, m.Evaluate(sell(1)).Reason)
}

func TestStopLossDisabledByDefault(t *testing.T) {
	m := newManager(t)
	_, err := m.ReportFill(models.SideBuy, 100, 2)
	require.NoError(t, err)
	assert.False(t, m.StopLoss(1))
	assert.Equal(t, models.OutcomeApproved, m.EvaluateAt(buy(1), 1).Outcome)
}

func TestRestore(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Restore(models.LedgerState{NetPosition: -2, AvgEntryPrice: 101, RealizedPnL: 3, Fills: 7, UpdatedAt: at}))
	s := m.Ledger()
	assert.Equal(t, -2.0, s.NetPosition)
	assert.Equal(t, 101.0, s.AvgEntryPrice)
	assert.Equal(t, 5.0, s.MaxLongLimit)
	assert.EqualValues(t, 7, s.Fills)

	assert.ErrorIs(t, m.Restore(models.LedgerState{NetPosition: math.NaN()}), models.ErrMalformedInput)
}

func TestConcurrentFillsAndEvaluations(t *testing.T) {
	m, err := NewManager(Config{MaxLong: 1000, MaxShort: 1000})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = m.ReportFill(models.SideBuy, 100, 1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d := m.Evaluate(buy(1))
				assert.True(t, d.Accepted())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800.0, m.Ledger().NetPosition)
	assert.Equal(t, 100.0, m.Ledger().AvgEntryPrice)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{MaxLong: 0, MaxShort: 1}.Validate())
	assert.Error(t, Config{MaxLong: 1, MaxShort: 1, MaxLoss: -1}.Validate())
	assert.Error(t, Config{MaxLong: 1, MaxShort: math.Inf(1)}.Validate())
	assert.NoError(t, Config{MaxLong: 1, MaxShort: 1}.Validate())
}
