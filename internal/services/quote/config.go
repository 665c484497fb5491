package quote

import "fmt"

// Config calibrates spread, skew and size.
type Config struct {
	MinSpread    float64 // absolute price units
	VolSpreadK   float64
	SkewFraction float64 // share of the spread the center moves in aggressive mode
	BaseSize     float64
	VolSizeK     float64
	FillSizeK    float64
	MinSize      float64
	MaxSize      float64
	TickSize     float64 // 0 disables rounding
}

func DefaultConfig() Config {
	return Config{
		MinSpread:    1.0,
		VolSpreadK:   50,
		SkewFraction: 0.25,
		BaseSize:     1.0,
		VolSizeK:     50,
		FillSizeK:    1.0,
		MinSize:      0.1,
		MaxSize:      5,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinSpread <= 0:
		return fmt.Errorf("quote: min spread must be positive")
	case c.VolSpreadK < 0 || c.VolSizeK < 0 || c.FillSizeK < 0:
		return fmt.Errorf("quote: sensitivities must be >= 0")
	case c.SkewFraction < 0 || c.SkewFraction > 1:
		return fmt.Errorf("quote: skew fraction must be in [0, 1]")
	case c.MinSize <= 0:
		return fmt.Errorf("quote: min size must be positive")
	case c.MaxSize < c.MinSize:
		return fmt.Errorf("quote: max size %.8g below min size %.8g", c.MaxSize, c.MinSize)
	case c.BaseSize < c.MinSize || c.BaseSize > c.MaxSize:
		return fmt.Errorf("quote: base size %.8g outside [%.8g, %.8g]", c.BaseSize, c.MinSize, c.MaxSize)
	case c.TickSize < 0:
		return fmt.Errorf("quote: tick size must be >= 0")
	}
	return nil
}
