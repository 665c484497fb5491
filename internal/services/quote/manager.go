// Package quote builds two-sided quote proposals from a signal snapshot.
package quote

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"QuoteFlow/internal/domain/models"
)

// minPrice is the floor used for the bid when no tick size is configured.
const minPrice = 1e-8

// Manager is a pure function of the snapshot it is handed plus its config.
type Manager struct {
	cfg   Config
	now   func() time.Time
	newID func() string
}

type Option func(*Manager)

// WithClock overrides the proposal timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides proposal id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the calibration in use.
func (m *Manager) Config() Config { return m.cfg }

// Spread is MinSpread widened linearly with volatility.
func (m *Manager) Spread(vol float64) float64 {
	return m.cfg.MinSpread * (1 + m.cfg.VolSpreadK*vol)
}

// Size grows with fill likelihood, shrinks with volatility and is clamped to [MinSize, MaxSize].
func (m *Manager) Size(vol, fillScore float64) float64 {
	size := m.cfg.BaseSize * (1 + m.cfg.FillSizeK*fillScore) / (1 + m.cfg.VolSizeK*vol)
	return math.Min(math.Max(size, m.cfg.MinSize), m.cfg.MaxSize)
}

// Propose returns nil without error when the snapshot cannot be quoted on.
// A non-nil pair always has 0 < bid < ask and a positive size.
func (m *Manager) Propose(snap models.SignalSnapshot) (*models.QuotePair, error) {
	if snap.Insufficient() {
		return nil, nil
	}
	if !finite(snap.TWAP) || snap.TWAP <= 0 || !finite(snap.Volatility) || snap.Volatility < 0 || !finite(snap.NormSlide) || !finite(snap.FillScore) {
		return nil, fmt.Errorf("quote: unusable snapshot twap=%v vol=%v: %w", snap.TWAP, snap.Volatility, models.ErrInvariantViolation)
	}

	spread := m.Spread(snap.Volatility)
	center := snap.TWAP
	if snap.Aggressive {
		// lean away from the flow
		center -= sign(snap.NormSlide) * m.cfg.SkewFraction * spread
	}

	bid := center - spread/2
	ask := center + spread/2
	if tick := m.cfg.TickSize; tick > 0 {
		bid = roundDown(bid, tick)
		ask = roundUp(ask, tick)
	}

	floor := minPrice
	if m.cfg.TickSize > 0 {
		floor = m.cfg.TickSize
	}
	if bid <= 0 {
		bid = floor
	}
	if ask <= bid {
		ask = bid + math.Max(spread, m.cfg.TickSize)
	}

	size := m.Size(snap.Volatility, snap.FillScore)
	if !(bid > 0 && ask > bid && size > 0) || !finite(ask) {
		return nil, fmt.Errorf("quote: bid=%v ask=%v size=%v: %w", bid, ask, size, models.ErrInvariantViolation)
	}

	now := m.now()
	return &models.QuotePair{
		Bid: models.QuoteProposal{ID: m.newID(), Side: models.SideBuy, Price: bid, Size: size, Timestamp: now, SourceSnapshotTimestamp: snap.Timestamp},
		Ask: models.QuoteProposal{ID: m.newID(), Side: models.SideSell, Price: ask, Size: size, Timestamp: now, SourceSnapshotTimestamp: snap.Timestamp},
	}, nil
}

// Requote reports whether next differs enough from prev to be worth republishing:
// either leg moved by at least half of prev's spread, or the size changed.
func Requote(prev *models.QuotePair, next models.QuotePair) bool {
	if prev == nil {
		return true
	}
	half := prev.Spread() / 2
	if math.Abs(next.Bid.Price-prev.Bid.Price) >= half || math.Abs(next.Ask.Price-prev.Ask.Price) >= half {
		return true
	}
	return next.Bid.Size != prev.Bid.Size || next.Ask.Size != prev.Ask.Size
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// roundDown and roundUp snap to the tick grid, tolerating float noise.
func roundDown(v, tick float64) float64 {
	return math.Floor(v/tick+1e-9) * tick
}

func roundUp(v, tick float64) float64 {
	return math.Ceil(v/tick-1e-9) * tick
}
