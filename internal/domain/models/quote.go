package models

import "time"

// QuoteProposal is one priced and sized leg offered to the risk gate.
type QuoteProposal struct {
	ID                      string    `json:"id"`
	Side                    Side      `json:"side"`
	Price                   float64   `json:"price"`
	Size                    float64   `json:"size"`
	Timestamp               time.Time `json:"timestamp"`
	SourceSnapshotTimestamp time.Time `json:"source_snapshot_ts"`
}

// QuotePair is the bid and ask built from one snapshot.
type QuotePair struct {
	Bid QuoteProposal `json:"bid"`
	Ask QuoteProposal `json:"ask"`
}

// Spread returns ask minus bid.
func (p QuotePair) Spread() float64 { return p.Ask.Price - p.Bid.Price }

// Outcome is the verdict of the risk gate.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeAdjusted Outcome = "adjusted"
	OutcomeRejected Outcome = "rejected"
)

// Rejection reasons.
const (
	ReasonLimitBreach     = "limit breach"
	ReasonInvalidProposal = "invalid proposal"
	ReasonKillSwitch      = "kill switch"
	ReasonStopLoss        = "stop loss"
)

// RiskDecision is the tagged result of evaluating one proposal.
// OriginalSize is only set for Adjusted; Reason only for Rejected.
type RiskDecision struct {
	Outcome      Outcome       `json:"outcome"`
	Proposal     QuoteProposal `json:"proposal"`
	OriginalSize float64       `json:"original_size,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

func Approve(p QuoteProposal) RiskDecision {
	return RiskDecision{Outcome: OutcomeApproved, Proposal: p}
}

// Adjust shrinks p to size and remembers what was asked for.
func Adjust(p QuoteProposal, size float64) RiskDecision {
	orig := p.Size
	p.Size = size
	return RiskDecision{Outcome: OutcomeAdjusted, Proposal: p, OriginalSize: orig}
}

func Reject(p QuoteProposal, reason string) RiskDecision {
	return RiskDecision{Outcome: OutcomeRejected, Proposal: p, Reason: reason}
}

// Accepted is true for Approved and Adjusted.
func (d RiskDecision) Accepted() bool { return d.Outcome != OutcomeRejected }

// QuoteSet is what the market maker hands to the outside after the risk gate.
// A rejected leg is nil.
type QuoteSet struct {
	Bid       *QuoteProposal  `json:"bid,omitempty"`
	Ask       *QuoteProposal  `json:"ask,omitempty"`
	Decisions [2]RiskDecision `json:"decisions"`
	Snapshot  SignalSnapshot  `json:"snapshot"`
}

// Legs returns the accepted proposals in bid, ask order.
func (q QuoteSet) Legs() []QuoteProposal {
	out := make([]QuoteProposal, 0, 2)
	if q.Bid != nil {
		out = append(out, *q.Bid)
	}
	if q.Ask != nil {
		out = append(out, *q.Ask)
	}
	return out
}

// LedgerState is a read-only copy of the inventory ledger.
type LedgerState struct {
	NetPosition   float64   `json:"net_position"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	MaxLongLimit  float64   `json:"max_long"`
	MaxShortLimit float64   `json:"max_short"`
	RealizedPnL   float64   `json:"realized_pnl"`
	Fills         int64     `json:"fills"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Unrealized is the mark-to-market PnL of the open position.
func (l LedgerState) Unrealized(mark float64) float64 {
	return (mark - l.AvgEntryPrice) * l.NetPosition
}
