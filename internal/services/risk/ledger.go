package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"QuoteFlow/internal/domain/models"
)

// ledger is the inventory book. It is only reached through Manager, which
// holds the lock around every read and write.
type ledger struct {
	position  decimal.Decimal
	avgPrice  decimal.Decimal
	realized  decimal.Decimal
	maxLong   decimal.Decimal
	maxShort  decimal.Decimal
	fills     int64
	updatedAt time.Time
}

func newLedger(maxLong, maxShort float64) *ledger {
	return &ledger{
		maxLong:  decimal.NewFromFloat(maxLong),
		maxShort: decimal.NewFromFloat(maxShort),
	}
}

// apply books a fill at weighted-average cost.
//
// Adding to the position blends the average. Reducing keeps it and realizes
// PnL on the closed quantity. Landing flat resets it to zero, crossing through
// zero opens the remainder at the fill price.
func (l *ledger) apply(side models.Side, price, size decimal.Decimal, at time.Time) {
	signed := size
	if side == models.SideSell {
		signed = size.Neg()
	}
	pos := l.position
	next := pos.Add(signed)

	switch {
	case pos.IsZero():
		l.avgPrice = price
	case pos.Sign() == signed.Sign():
		held := pos.Abs()
		l.avgPrice = l.avgPrice.Mul(held).Add(price.Mul(size)).Div(held.Add(size))
	default:
		closed := decimal.Min(pos.Abs(), size)
		pnl := price.Sub(l.avgPrice).Mul(closed)
		if pos.Sign() < 0 {
			pnl = pnl.Neg()
		}
		l.realized = l.realized.Add(pnl)
		switch {
		case next.IsZero():
			l.avgPrice = decimal.Zero
		case next.Sign() != pos.Sign():
			l.avgPrice = price
		}
	}

	l.position = next
	l.fills++
	if at.After(l.updatedAt) {
		l.updatedAt = at
	}
}

// headroom is how much more can be added on side before a limit is reached.
func (l *ledger) headroom(side models.Side) decimal.Decimal {
	if side == models.SideBuy {
		return l.maxLong.Sub(l.position)
	}
	return l.position.Add(l.maxShort)
}

func (l *ledger) state() models.LedgerState {
	return models.LedgerState{
		NetPosition:   l.position.InexactFloat64(),
		AvgEntryPrice: l.avgPrice.InexactFloat64(),
		MaxLongLimit:  l.maxLong.InexactFloat64(),
		MaxShortLimit: l.maxShort.InexactFloat64(),
		RealizedPnL:   l.realized.InexactFloat64(),
		Fills:         l.fills,
		UpdatedAt:     l.updatedAt,
	}
}
