// Package signal turns book and trade events into decay-weighted market signals.
package signal

import (
	"math"
	"time"

	"QuoteFlow/internal/domain/models"
)

// Engine owns all rolling signal state. It is not safe for concurrent use;
// callers serialize OnBookUpdate, OnTrade and Snapshot.
//
// The engine clock is the latest event timestamp seen. Late or duplicate
// timestamps are applied with zero elapsed time and never move the clock back.
type Engine struct {
	cfg   Config
	clock time.Time

	haveBook bool
	bestBid  float64
	bestAsk  float64
	mid      float64
	mids     *midRing

	slide     float64
	slideAt   time.Time
	prevImbal float64

	lastPx    float64
	varSum    float64
	varWeight float64
	volAt     time.Time

	liquidity float64
	liqAt     time.Time

	twap *twapWindow
}

// NewEngine builds an engine; cfg must pass Validate.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:  cfg,
		mids: newMidRing(cfg.MomentumWindow + 1),
		twap: newTWAPWindow(cfg.TWAPWindow, cfg.TWAPMaxSamples),
	}, nil
}

// Config returns the calibration in use.
func (e *Engine) Config() Config { return e.cfg }

// OnBookUpdate folds a depth snapshot into the mid history and the order-flow slide.
// Every derived value is computed before any state changes; an update that
// would overflow is rejected as malformed.
func (e *Engine) OnBookUpdate(bids, asks []models.Level, ts time.Time) (models.SignalSnapshot, error) {
	if err := validateBook(bids, asks, ts); err != nil {
		return e.Snapshot(), err
	}

	bestBid, bestAsk := bids[0].Price, asks[0].Price
	mid := bestBid/2 + bestAsk/2
	bv, av := depth(bids, e.cfg.DepthLevels), depth(asks, e.cfg.DepthLevels)
	if !finite(bv + av) {
		return e.Snapshot(), models.Malformed("book", bv+av, "overflow")
	}
	imbal := imbalance(bv, av)
	d := 1.0
	if !e.slideAt.IsZero() {
		d = decay(ts.Sub(e.slideAt), e.cfg.DecayTau)
	}
	slide := e.slide*d + (imbal - e.prevImbal)
	if !finite(slide) {
		return e.Snapshot(), models.Malformed("book", slide, "overflow")
	}

	e.bestBid, e.bestAsk, e.mid = bestBid, bestAsk, mid
	e.haveBook = true
	e.mids.push(mid)
	e.slide = slide
	e.prevImbal = imbal
	if ts.After(e.slideAt) {
		e.slideAt = ts
	}

	e.advance(ts)
	return e.Snapshot(), nil
}

// OnTrade folds a print into the TWAP window, volatility and fill liquidity.
// Like OnBookUpdate it rejects a print whose accumulators would overflow.
func (e *Engine) OnTrade(price, size float64, side models.Side, ts time.Time) (models.SignalSnapshot, error) {
	if err := validateTrade(price, size, side, ts); err != nil {
		return e.Snapshot(), err
	}

	varSum, varWeight := e.varSum, e.varWeight
	if e.lastPx > 0 {
		r := math.Log(price / e.lastPx)
		d := decay(ts.Sub(e.volAt), e.cfg.VolatilityTau)
		varSum = varSum*d + r*r
		varWeight = varWeight*d + 1
		if !finite(varSum) {
			return e.Snapshot(), models.Malformed("price", price, "overflow")
		}
	}
	d := 1.0
	if !e.liqAt.IsZero() {
		d = decay(ts.Sub(e.liqAt), e.cfg.FillTau)
	}
	liquidity := e.liquidity*d + size
	if !finite(liquidity + e.cfg.FillScale) {
		return e.Snapshot(), models.Malformed("size", size, "overflow")
	}

	at := ts
	if at.Before(e.clock) {
		at = e.clock
	}
	e.twap.add(price, at)

	e.varSum, e.varWeight = varSum, varWeight
	e.lastPx = price
	if ts.After(e.volAt) {
		e.volAt = ts
	}
	e.liquidity = liquidity
	if ts.After(e.liqAt) {
		e.liqAt = ts
	}

	e.advance(ts)
	return e.Snapshot(), nil
}

func (e *Engine) advance(ts time.Time) {
	if ts.After(e.clock) {
		e.clock = ts
	}
}

// Snapshot derives every signal as of the engine clock. It does not mutate state.
func (e *Engine) Snapshot() models.SignalSnapshot {
	s := models.SignalSnapshot{
		Trend:         e.mids.trend(),
		Mid:           e.mid,
		BestBid:       e.bestBid,
		BestAsk:       e.bestAsk,
		Timestamp:     e.clock,
		State:         models.DataInsufficient,
		MeanReversion: models.MeanReversionNeutral,
	}

	if !e.slideAt.IsZero() {
		s.Slide = e.slide * decay(e.clock.Sub(e.slideAt), e.cfg.DecayTau)
	}
	if e.varWeight > 0 {
		s.Volatility = math.Sqrt(e.varSum / e.varWeight)
	}
	s.NormSlide = math.Tanh(s.Slide / (1 + e.cfg.NormVolScale*s.Volatility))

	if !e.liqAt.IsZero() {
		liq := e.liquidity * decay(e.clock.Sub(e.liqAt), e.cfg.FillTau)
		s.FillScore = liq / (liq + e.cfg.FillScale)
	}

	s.Trades = e.twap.inWindow(e.clock)
	twap, ok := e.twap.value(e.clock)
	if !ok || !e.haveBook {
		return s
	}

	s.TWAP = twap
	s.Deviation = (e.mid - twap) / twap
	s.Aggressive = math.Abs(s.NormSlide) > e.cfg.AggressiveSlide && s.FillScore > e.cfg.AggressiveFill
	switch {
	case s.Deviation > e.cfg.DeviationThreshold:
		s.MeanReversion = models.MeanReversionFade
	case s.Deviation < -e.cfg.DeviationThreshold:
		s.MeanReversion = models.MeanReversionScalp
	}
	s.State = models.DataReady
	return s
}

// imbalance is (bidVol-askVol)/(bidVol+askVol); both volumes are finite.
func imbalance(bv, av float64) float64 {
	if bv+av == 0 {
		return 0
	}
	return (bv - av) / (bv + av)
}

func depth(side []models.Level, levels int) float64 {
	if levels > 0 && len(side) > levels {
		side = side[:levels]
	}
	var sum float64
	for _, l := range side {
		sum += l.Size
	}
	return sum
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func validateBook(bids, asks []models.Level, ts time.Time) error {
	if ts.IsZero() {
		return models.Malformed("timestamp", ts, "zero")
	}
	if len(bids) == 0 || len(asks) == 0 {
		return models.Malformed("book", len(bids)+len(asks), "empty side")
	}
	for _, side := range [][]models.Level{bids, asks} {
		for _, l := range side {
			if !finite(l.Price) || l.Price <= 0 {
				return models.Malformed("price", l.Price, "must be finite and positive")
			}
			if !finite(l.Size) || l.Size < 0 {
				return models.Malformed("size", l.Size, "must be finite and non-negative")
			}
		}
	}
	if bids[0].Price > asks[0].Price {
		return models.Malformed("book", bids[0].Price, "best bid above best ask")
	}
	return nil
}

func validateTrade(price, size float64, side models.Side, ts time.Time) error {
	switch {
	case ts.IsZero():
		return models.Malformed("timestamp", ts, "zero")
	case !finite(price) || price <= 0:
		return models.Malformed("price", price, "must be finite and positive")
	case !finite(size) || size <= 0:
		return models.Malformed("size", size, "must be finite and positive")
	case !side.Valid():
		return models.Malformed("side", int(side), "unknown side")
	}
	return nil
}
