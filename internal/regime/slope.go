package regime

import (
	"github.com/marketflow/perpcore/internal/domain"
)

// Slope is the direction of a smoothed derivative series.
type Slope string

const (
	SlopeUp      Slope = "UP"
	SlopeDown    Slope = "DOWN"
	SlopeFlat    Slope = "FLAT"
	SlopeUnknown Slope = "UNKNOWN"
)

// SlopeConfig configures slope-state classification. The flat band is
// self-relative: epsilon is BandK times the window's own standard deviation,
// so no fixed threshold has to fit every symbol.
type SlopeConfig struct {
	Window int     `yaml:"window"`
	BandK  float64 `yaml:"band_k"`
}

// DefaultSlopeConfig returns the production slope-band configuration.
func DefaultSlopeConfig() SlopeConfig {
	return SlopeConfig{Window: 200, BandK: 0.2}
}

// SlopeState is the classified state of one slope series.
type SlopeState struct {
	State   Slope   `json:"state"`
	Current float64 `json:"current"`
	Epsilon float64 `json:"epsilon"`
}

// ClassifySlope labels the latest value of a slope field relative to the
// rolling window's noise band.
func ClassifySlope(tbl *domain.Table, field string, cfg SlopeConfig) SlopeState {
	series := tbl.Column(field)
	if len(series) < cfg.Window {
		return SlopeState{State: SlopeUnknown}
	}
	window := series[len(series)-cfg.Window:]
	cur := window[len(window)-1]

	eps := 0.0
	if std := domain.StdDev(window); std > 0 {
		eps = std * cfg.BandK
	}

	state := SlopeFlat
	if cur > eps {
		state = SlopeUp
	} else if cur < -eps {
		state = SlopeDown
	}
	return SlopeState{State: state, Current: cur, Epsilon: eps}
}

// TimingState bundles the slope states the policy gate consumes.
type TimingState struct {
	TrendSlope SlopeState `json:"trend_slope"` // trend-strength derivative
	WidthSlope SlopeState `json:"width_slope"` // band-width derivative
}

// ClassifyTiming evaluates both gate-relevant slopes on one timeframe.
func ClassifyTiming(tbl *domain.Table, cfg SlopeConfig) TimingState {
	return TimingState{
		TrendSlope: ClassifySlope(tbl, domain.FieldADXSlope, cfg),
		WidthSlope: ClassifySlope(tbl, domain.FieldBBWSlope, cfg),
	}
}
