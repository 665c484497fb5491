package usecase

import (
	"time"

	"QuoteFlow/internal/domain/models"
)

// SignalSink consumes classified market data. Implemented by signal.Engine.
type SignalSink interface {
	OnBookUpdate(bids, asks []models.Level, ts time.Time) (models.SignalSnapshot, error)
	OnTrade(price, size float64, side models.Side, ts time.Time) (models.SignalSnapshot, error)
}

// EventRouter dispatches each event to the sink in arrival order. It keeps no signal state.
type EventRouter struct {
	sink   SignalSink
	symbol string
}

// NewEventRouter creates a router. An empty symbol accepts any instrument tag.
func NewEventRouter(sink SignalSink, symbol string) *EventRouter {
	return &EventRouter{sink: sink, symbol: symbol}
}

// Route classifies ev and forwards it. Unknown or empty events are malformed.
func (r *EventRouter) Route(ev models.MarketDataEvent) (models.SignalSnapshot, error) {
	switch e := ev.(type) {
	case *models.BookUpdate:
		if e == nil {
			return models.SignalSnapshot{}, models.Malformed("event", nil, "nil book update")
		}
		if err := r.checkSymbol(e.Symbol); err != nil {
			return models.SignalSnapshot{}, err
		}
		return r.sink.OnBookUpdate(e.Bids, e.Asks, e.Timestamp)
	case *models.Trade:
		if e == nil {
			return models.SignalSnapshot{}, models.Malformed("event", nil, "nil trade")
		}
		if err := r.checkSymbol(e.Symbol); err != nil {
			return models.SignalSnapshot{}, err
		}
		return r.sink.OnTrade(e.Price, e.Size, e.Side, e.Timestamp)
	case nil:
		return models.SignalSnapshot{}, models.Malformed("event", nil, "nil event")
	default:
		return models.SignalSnapshot{}, models.Malformed("event", e.Kind(), "unknown event kind")
	}
}

func (r *EventRouter) checkSymbol(sym string) error {
	if r.symbol == "" || sym == "" || sym == r.symbol {
		return nil
	}
	return models.Malformed("symbol", sym, "routed to "+r.symbol)
}
