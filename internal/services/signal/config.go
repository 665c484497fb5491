package signal

import (
	"fmt"
	"time"
)

// Config holds the tunables of the signal engine. All thresholds live here
// so deployments can calibrate without code changes.
type Config struct {
	DecayTau       time.Duration // order-flow slide decay
	VolatilityTau  time.Duration // squared log-return decay
	FillTau        time.Duration // traded-size decay feeding fillScore
	TWAPWindow     time.Duration
	TWAPMaxSamples int
	MomentumWindow int // mid changes in the trend window
	DepthLevels    int // book levels summed for imbalance, 0 = all

	NormVolScale       float64
	FillScale          float64
	AggressiveSlide    float64
	AggressiveFill     float64
	DeviationThreshold float64
}

// DefaultConfig returns the calibration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DecayTau:           5 * time.Second,
		VolatilityTau:      30 * time.Second,
		FillTau:            10 * time.Second,
		TWAPWindow:         60 * time.Second,
		TWAPMaxSamples:     120,
		MomentumWindow:     10,
		DepthLevels:        5,
		NormVolScale:       100,
		FillScale:          1,
		AggressiveSlide:    0.4,
		AggressiveFill:     0.5,
		DeviationThreshold: 0.002,
	}
}

// Validate checks the config can drive the engine without producing NaN.
func (c Config) Validate() error {
	if c.DecayTau <= 0 || c.VolatilityTau <= 0 || c.FillTau <= 0 {
		return fmt.Errorf("signal: decay constants must be positive")
	}
	if c.TWAPWindow <= 0 {
		return fmt.Errorf("signal: twap window must be positive")
	}
	if c.TWAPMaxSamples < 1 {
		return fmt.Errorf("signal: twap max samples must be >= 1")
	}
	if c.MomentumWindow < 1 {
		return fmt.Errorf("signal: momentum window must be >= 1")
	}
	if c.DepthLevels < 0 {
		return fmt.Errorf("signal: depth levels must be >= 0")
	}
	if c.NormVolScale < 0 || c.FillScale <= 0 {
		return fmt.Errorf("signal: norm vol scale must be >= 0 and fill scale > 0")
	}
	if c.AggressiveSlide < 0 || c.AggressiveSlide >= 1 || c.AggressiveFill < 0 || c.AggressiveFill >= 1 {
		return fmt.Errorf("signal: aggressive thresholds must be in [0, 1)")
	}
	if c.DeviationThreshold < 0 {
		return fmt.Errorf("signal: deviation threshold must be >= 0")
	}
	return nil
}
