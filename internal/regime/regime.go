package regime

import (
	"github.com/marketflow/perpcore/internal/domain"
)

// Regime is the trend/range market environment classification.
type Regime string

const (
	Trend   Regime = "TREND"
	Range   Regime = "RANGE"
	Mixed   Regime = "MIXED"
	Unknown Regime = "UNKNOWN"
)

// Config holds the hysteresis thresholds for the trend/range classifier.
// Enter and exit thresholds are deliberately asymmetric; the gap is the
// anti-flicker margin.
type Config struct {
	EnterTrend  float64 `yaml:"enter_trend"`  // from MIXED/UNKNOWN, strength >= this enters TREND
	ExitTrend   float64 `yaml:"exit_trend"`   // from TREND, strength < this degrades to MIXED
	EnterRange  float64 `yaml:"enter_range"`  // from MIXED/UNKNOWN, strength <= this enters RANGE
	ExitRange   float64 `yaml:"exit_range"`   // from RANGE, strength > this degrades to MIXED
	StrengthKey string  `yaml:"strength_key"` // feature field carrying trend strength
	MinSamples  int     `yaml:"min_samples"`
}

// DefaultConfig returns the production trend/range thresholds.
func DefaultConfig() Config {
	return Config{
		EnterTrend:  26,
		ExitTrend:   23,
		EnterRange:  17,
		ExitRange:   19,
		StrengthKey: domain.FieldADX,
		MinSamples:  50,
	}
}

// Classifier labels the market environment from a trend-strength series.
// The previous label is explicit input: the caller owns one label cell per
// symbol and re-supplies it every cycle.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a trend/range classifier.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns the regime label and the current trend-strength value.
// ok is false when the series is too short or the field is missing, in which
// case the label is Unknown.
func (c *Classifier) Classify(tbl *domain.Table, prev Regime) (Regime, float64, bool) {
	series := tbl.Column(c.cfg.StrengthKey)
	if len(series) < c.cfg.MinSamples {
		return Unknown, 0, false
	}
	strength := series[len(series)-1]

	switch prev {
	case Trend:
		// Leaving a trend needs clear weakening, not a single soft bar.
		if strength < c.cfg.ExitTrend {
			return Mixed, strength, true
		}
		return Trend, strength, true
	case Range:
		if strength > c.cfg.ExitRange {
			return Mixed, strength, true
		}
		return Range, strength, true
	}

	// From MIXED or UNKNOWN.
	if strength >= c.cfg.EnterTrend {
		return Trend, strength, true
	}
	if strength <= c.cfg.EnterRange {
		return Range, strength, true
	}
	return Mixed, strength, true
}
