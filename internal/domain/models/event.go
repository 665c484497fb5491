package models

import (
	"strings"
	"time"
)

// Side is the direction of a trade, fill or quote leg.
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = -1
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buy and -1 for sell.
func (s Side) Sign() float64 { return float64(s) }

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the other side.
func (s Side) Opposite() Side { return -s }

// ParseSide accepts buy/sell and the common exchange shorthands (B/A, bid/ask, S).
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "b", "bid":
		return SideBuy, nil
	case "sell", "s", "a", "ask":
		return SideSell, nil
	}
	return 0, &InputError{Field: "side", Value: v, Reason: "unknown side"}
}

// MarshalText writes "buy", "sell" or "unknown". A rejected proposal may carry
// an invalid side and must still serialize.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// EventKind tags the variants of MarketDataEvent.
type EventKind string

const (
	EventBook  EventKind = "book"
	EventTrade EventKind = "trade"
)

// Level is one price level of an order book side.
type Level struct {
	Price float64 `json:"px"`
	Size  float64 `json:"sz"`
}

// MarketDataEvent is either a *BookUpdate or a *Trade.
type MarketDataEvent interface {
	Kind() EventKind
	EventTime() time.Time
	isMarketDataEvent()
}

// BookUpdate is a full snapshot of the visible depth, best level first on each side.
type BookUpdate struct {
	Symbol    string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

func (*BookUpdate) Kind() EventKind        { return EventBook }
func (b *BookUpdate) EventTime() time.Time { return b.Timestamp }
func (*BookUpdate) isMarketDataEvent()     {}

// BestBid returns the first bid level, if any.
func (b *BookUpdate) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the first ask level, if any.
func (b *BookUpdate) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Trade is a single executed print on the venue.
type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Side      Side
	Timestamp time.Time
}

func (*Trade) Kind() EventKind        { return EventTrade }
func (t *Trade) EventTime() time.Time { return t.Timestamp }
func (*Trade) isMarketDataEvent()     {}

// Fill is an execution against one of our own quotes.
type Fill struct {
	Side       Side
	Price      float64
	Size       float64
	Timestamp  time.Time
	ProposalID string
}
