// Package risk gates quote proposals against inventory limits and keeps the
// inventory ledger.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"QuoteFlow/internal/domain/models"
)

// Config defines the position limits. Both are positive magnitudes:
// the net position must stay within [-MaxShort, +MaxLong].
//
// MaxLoss is the stop loss on realized plus unrealized PnL; 0 disables it.
type Config struct {
	MaxLong    float64
	MaxShort   float64
	MaxLoss    float64
	KillSwitch bool
}

func (c Config) Validate() error {
	if !finite(c.MaxLong) || c.MaxLong <= 0 || !finite(c.MaxShort) || c.MaxShort <= 0 {
		return fmt.Errorf("risk: limits must be finite and positive, got long=%v short=%v", c.MaxLong, c.MaxShort)
	}
	if !finite(c.MaxLoss) || c.MaxLoss < 0 {
		return fmt.Errorf("risk: max loss must be finite and non-negative, got %v", c.MaxLoss)
	}
	return nil
}

// Decide is the pure limit check. A proposal whose fill keeps the position
// inside the limits is approved; one that would cross a limit is shrunk to
// the remaining headroom; with no headroom left it is rejected.
func Decide(p models.QuoteProposal, state models.LedgerState) models.RiskDecision {
	if !p.Side.Valid() || !finite(p.Price) || p.Price <= 0 || !finite(p.Size) || p.Size <= 0 {
		return models.Reject(p, models.ReasonInvalidProposal)
	}
	l := &ledger{
		position: decimal.NewFromFloat(state.NetPosition),
		maxLong:  decimal.NewFromFloat(state.MaxLongLimit),
		maxShort: decimal.NewFromFloat(state.MaxShortLimit),
	}
	return decide(p, l)
}

func decide(p models.QuoteProposal, l *ledger) models.RiskDecision {
	room := l.headroom(p.Side)
	size := decimal.NewFromFloat(p.Size)
	switch {
	case size.LessThanOrEqual(room):
		return models.Approve(p)
	case room.IsPositive():
		return models.Adjust(p, room.InexactFloat64())
	default:
		return models.Reject(p, models.ReasonLimitBreach)
	}
}

// Manager owns the ledger. Evaluate and ReportFill are mutually exclusive.
type Manager struct {
	mu      sync.Mutex
	ledger  *ledger
	killed  bool
	maxLoss decimal.Decimal
	now     func() time.Time
}

type Option func(*Manager)

// WithClock overrides the time stamped on ledger updates.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		ledger: newLedger(cfg.MaxLong, cfg.MaxShort),
		killed:  cfg.KillSwitch,
		maxLoss: decimal.NewFromFloat(cfg.MaxLoss),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Evaluate checks p against the current inventory. It does not change state,
// so repeated calls without an intervening fill return the same decision.
// Without a mark the stop loss only sees realized PnL.
func (m *Manager) Evaluate(p models.QuoteProposal) models.RiskDecision {
	return m.EvaluateAt(p, 0)
}

// EvaluateAt is Evaluate with the open position marked at mark.
func (m *Manager) EvaluateAt(p models.QuoteProposal, mark float64) models.RiskDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateLocked(p, m.stoppedLocked(mark))
}

// EvaluatePair checks both legs against the same inventory snapshot, marking
// the open position at mark.
func (m *Manager) EvaluatePair(pair models.QuotePair, mark float64) [2]models.RiskDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	stopped := m.stoppedLocked(mark)
	return [2]models.RiskDecision{m.evaluateLocked(pair.Bid, stopped), m.evaluateLocked(pair.Ask, stopped)}
}

func (m *Manager) evaluateLocked(p models.QuoteProposal, stopped bool) models.RiskDecision {
	if !p.Side.Valid() || !finite(p.Price) || p.Price <= 0 || !finite(p.Size) || p.Size <= 0 {
		return models.Reject(p, models.ReasonInvalidProposal)
	}
	if m.killed {
		return models.Reject(p, models.ReasonKillSwitch)
	}
	if stopped {
		// only quotes that flatten the position survive, never past flat
		pos := m.ledger.position
		reducing := (p.Side == models.SideSell && pos.IsPositive()) || (p.Side == models.SideBuy && pos.IsNegative())
		if !reducing {
			return models.Reject(p, models.ReasonStopLoss)
		}
		if open := pos.Abs(); decimal.NewFromFloat(p.Size).GreaterThan(open) {
			return models.Adjust(p, open.InexactFloat64())
		}
	}
	return decide(p, m.ledger)
}

// StopLoss reports whether realized plus unrealized PnL at mark is below -MaxLoss.
func (m *Manager) StopLoss(mark float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stoppedLocked(mark)
}

func (m *Manager) stoppedLocked(mark float64) bool {
	if !m.maxLoss.IsPositive() {
		return false
	}
	pnl := m.ledger.realized
	if finite(mark) && mark > 0 {
		pnl = pnl.Add(decimal.NewFromFloat(mark).Sub(m.ledger.avgPrice).Mul(m.ledger.position))
	}
	return pnl.LessThan(m.maxLoss.Neg())
}

// ReportFill books an execution. Fills are applied even when they push the
// position past a limit: the exchange already executed them.
func (m *Manager) ReportFill(side models.Side, price, size float64) (models.LedgerState, error) {
	if err := validateFill(side, price, size); err != nil {
		return m.Ledger(), err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.apply(side, decimal.NewFromFloat(price), decimal.NewFromFloat(size), m.now())
	return m.ledger.state(), nil
}

// Ledger returns a copy of the inventory state.
func (m *Manager) Ledger() models.LedgerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.state()
}

// Restore seeds the ledger from a persisted state, keeping the configured limits.
func (m *Manager) Restore(s models.LedgerState) error {
	if !finite(s.NetPosition) || !finite(s.AvgEntryPrice) || s.AvgEntryPrice < 0 || !finite(s.RealizedPnL) {
		return models.Malformed("ledger", s, "non-finite restore state")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.position = decimal.NewFromFloat(s.NetPosition)
	m.ledger.avgPrice = decimal.NewFromFloat(s.AvgEntryPrice)
	m.ledger.realized = decimal.NewFromFloat(s.RealizedPnL)
	m.ledger.fills = s.Fills
	m.ledger.updatedAt = s.UpdatedAt
	if m.ledger.position.IsZero() {
		m.ledger.avgPrice = decimal.Zero
	}
	return nil
}

// SetKillSwitch rejects every proposal while on.
func (m *Manager) SetKillSwitch(on bool) {
	m.mu.Lock()
	m.killed = on
	m.mu.Unlock()
}

func (m *Manager) KillSwitch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

func validateFill(side models.Side, price, size float64) error {
	switch {
	case !side.Valid():
		return models.Malformed("side", int(side), "unknown side")
	case !finite(price) || price <= 0:
		return models.Malformed("price", price, "must be finite and positive")
	case !finite(size) || size <= 0:
		return models.Malformed("size", size, "must be finite and positive")
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
