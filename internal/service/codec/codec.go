// Package codec translates the normalized JSON envelope shared by the websocket,
// Kafka and HTTP feeders into domain events, and renders quotes for publication.
package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"QuoteFlow/internal/domain/models"
	"QuoteFlow/pkg/util"
)

const (
	typeBook   = "book"
	typeTrade  = "trade"
	typeQuotes = "quotes"
)

// Envelope is the wire form of a market data event.
// Book levels are [price, size] pairs, best first.
type Envelope struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol,omitempty"`
	TS     json.RawMessage `json:"ts"`
	Bids   [][2]float64    `json:"bids,omitempty"`
	Asks   [][2]float64    `json:"asks,omitempty"`
	Px     float64         `json:"px,omitempty"`
	Sz     float64         `json:"sz,omitempty"`
	Side   string          `json:"side,omitempty"`
}

// FillEnvelope is the wire form of an execution report.
type FillEnvelope struct {
	Side       string          `json:"side"`
	Px         float64         `json:"px"`
	Sz         float64         `json:"sz"`
	TS         json.RawMessage `json:"ts,omitempty"`
	ProposalID string          `json:"proposal_id,omitempty"`
}

// DecodeEvent parses one envelope.
func DecodeEvent(b []byte) (models.MarketDataEvent, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, models.Malformed("payload", len(b), err.Error())
	}
	return env.Event()
}

// DecodeEvents accepts a single envelope or a JSON array of envelopes.
func DecodeEvents(b []byte) ([]models.MarketDataEvent, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		ev, err := DecodeEvent(trimmed)
		if err != nil {
			return nil, err
		}
		return []models.MarketDataEvent{ev}, nil
	}
	var envs []Envelope
	if err := json.Unmarshal(trimmed, &envs); err != nil {
		return nil, models.Malformed("payload", len(b), err.Error())
	}
	out := make([]models.MarketDataEvent, 0, len(envs))
	for i := range envs {
		ev, err := envs[i].Event()
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Event converts the envelope to a domain event. Numeric sanity is left to the signal engine.
func (e Envelope) Event() (models.MarketDataEvent, error) {
	ts, err := parseTS(e.TS)
	if err != nil {
		return nil, err
	}
	switch e.Type {
	case typeBook:
		return &models.BookUpdate{
			Symbol:    e.Symbol,
			Bids:      levels(e.Bids),
			Asks:      levels(e.Asks),
			Timestamp: ts,
		}, nil
	case typeTrade:
		side, err := models.ParseSide(e.Side)
		if err != nil {
			return nil, err
		}
		return &models.Trade{Symbol: e.Symbol, Price: e.Px, Size: e.Sz, Side: side, Timestamp: ts}, nil
	default:
		return nil, models.Malformed("type", e.Type, "expected book or trade")
	}
}

// EncodeEvent renders ev as an envelope with a millisecond timestamp.
func EncodeEvent(ev models.MarketDataEvent) ([]byte, error) {
	switch e := ev.(type) {
	case *models.BookUpdate:
		return json.Marshal(Envelope{
			Type:   typeBook,
			Symbol: e.Symbol,
			TS:     millis(e.Timestamp),
			Bids:   pairs(e.Bids),
			Asks:   pairs(e.Asks),
		})
	case *models.Trade:
		return json.Marshal(Envelope{
			Type:   typeTrade,
			Symbol: e.Symbol,
			TS:     millis(e.Timestamp),
			Px:     e.Price,
			Sz:     e.Size,
			Side:   e.Side.String(),
		})
	}
	return nil, models.Malformed("event", ev, "cannot encode")
}

// DecodeFill parses an execution report. A missing timestamp means now.
func DecodeFill(b []byte) (models.Fill, error) {
	var env FillEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.Fill{}, models.Malformed("payload", len(b), err.Error())
	}
	side, err := models.ParseSide(env.Side)
	if err != nil {
		return models.Fill{}, err
	}
	ts := time.Now().UTC()
	if len(env.TS) > 0 {
		if ts, err = parseTS(env.TS); err != nil {
			return models.Fill{}, err
		}
	}
	return models.Fill{Side: side, Price: env.Px, Size: env.Sz, Timestamp: ts, ProposalID: env.ProposalID}, nil
}

// EncodeFill renders f as a fill envelope.
func EncodeFill(f models.Fill) ([]byte, error) {
	return json.Marshal(FillEnvelope{
		Side:       f.Side.String(),
		Px:         f.Price,
		Sz:         f.Size,
		TS:         millis(f.Timestamp),
		ProposalID: f.ProposalID,
	})
}

// QuoteLeg is one published side.
type QuoteLeg struct {
	ID   string  `json:"id"`
	Px   float64 `json:"px"`
	Sz   float64 `json:"sz"`
	Side string  `json:"side"`
}

// DecisionView is the compact form of a risk decision.
type DecisionView struct {
	Side       string  `json:"side"`
	Outcome    string  `json:"outcome"`
	Sz         float64 `json:"sz"`
	OriginalSz float64 `json:"orig_sz,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// QuoteMessage is what downstream consumers receive for every published quote set.
type QuoteMessage struct {
	Type       string         `json:"type"`
	Symbol     string         `json:"symbol"`
	TS         int64          `json:"ts"`
	SnapshotTS int64          `json:"snapshot_ts"`
	Bid        *QuoteLeg      `json:"bid"`
	Ask        *QuoteLeg      `json:"ask"`
	Decisions  []DecisionView `json:"decisions"`
	Signal     string         `json:"signal"`
}

// NewQuoteMessage builds the published view of set.
func NewQuoteMessage(symbol string, set models.QuoteSet, at time.Time) QuoteMessage {
	msg := QuoteMessage{
		Type:       typeQuotes,
		Symbol:     symbol,
		TS:         at.UnixMilli(),
		SnapshotTS: set.Snapshot.Timestamp.UnixMilli(),
		Bid:        leg(set.Bid),
		Ask:        leg(set.Ask),
		Signal:     set.Snapshot.String(),
	}
	for _, d := range set.Decisions {
		if d.Outcome == "" {
			continue
		}
		msg.Decisions = append(msg.Decisions, DecisionView{
			Side:       d.Proposal.Side.String(),
			Outcome:    string(d.Outcome),
			Sz:         d.Proposal.Size,
			OriginalSz: d.OriginalSize,
			Reason:     d.Reason,
		})
	}
	return msg
}

// EncodeQuotes renders set for publication.
func EncodeQuotes(symbol string, set models.QuoteSet, at time.Time) ([]byte, error) {
	return json.Marshal(NewQuoteMessage(symbol, set, at))
}

func leg(p *models.QuoteProposal) *QuoteLeg {
	if p == nil {
		return nil
	}
	return &QuoteLeg{ID: p.ID, Px: p.Price, Sz: p.Size, Side: p.Side.String()}
}

func parseTS(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, models.Malformed("ts", nil, "missing timestamp")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, models.Malformed("ts", string(raw), err.Error())
		}
		t, ok := util.ParseTime(s)
		if !ok {
			return time.Time{}, models.Malformed("ts", s, "unrecognized time format")
		}
		return t, nil
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || n <= 0 {
		return time.Time{}, models.Malformed("ts", string(raw), "expected positive unix time")
	}
	return util.FromUnix(int64(n)), nil
}

func millis(t time.Time) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(t.UnixMilli(), 10))
}

func levels(in [][2]float64) []models.Level {
	out := make([]models.Level, len(in))
	for i, l := range in {
		out[i] = models.Level{Price: l[0], Size: l[1]}
	}
	return out
}

func pairs(in []models.Level) [][2]float64 {
	out := make([][2]float64, len(in))
	for i, l := range in {
		out[i] = [2]float64{l.Price, l.Size}
	}
	return out
}
