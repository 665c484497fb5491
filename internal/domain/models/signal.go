package models

import (
	"fmt"
	"time"
)

// DataState tells consumers whether the signal set can be quoted on.
type DataState string

const (
	DataReady        DataState = "ready"
	DataInsufficient DataState = "insufficient_data"
)

// MeanReversion labels how far the mid has stretched from the TWAP.
type MeanReversion string

const (
	MeanReversionNeutral MeanReversion = "neutral"
	MeanReversionFade    MeanReversion = "fade_breakout"
	MeanReversionScalp   MeanReversion = "scalp_retracement"
)

// SignalSnapshot is an immutable view of every derived signal at one instant.
// While State is DataInsufficient, TWAP and Deviation are zero.
type SignalSnapshot struct {
	Trend         float64       `json:"trend"`
	TWAP          float64       `json:"twap"`
	Slide         float64       `json:"slide"`
	NormSlide     float64       `json:"norm_slide"`
	FillScore     float64       `json:"fill_score"`
	Deviation     float64       `json:"deviation"`
	Volatility    float64       `json:"volatility"`
	Aggressive    bool          `json:"aggressive"`
	MeanReversion MeanReversion `json:"mean_reversion"`
	Mid           float64       `json:"mid"`
	BestBid       float64       `json:"best_bid"`
	BestAsk       float64       `json:"best_ask"`
	Trades        int           `json:"trades"`
	State         DataState     `json:"state"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Insufficient reports whether there is not enough data to quote.
func (s SignalSnapshot) Insufficient() bool { return s.State != DataReady }

// String renders the one-line diagnostic form used in logs.
func (s SignalSnapshot) String() string {
	return fmt.Sprintf("Trend %+.5f | TWAP %.4f | Slide %+.4f | NormSlide %+.3f | FillScore %.3f | Dev %+.5f | Vol %.6f | Aggro %t",
		s.Trend, s.TWAP, s.Slide, s.NormSlide, s.FillScore, s.Deviation, s.Volatility, s.Aggressive)
}
