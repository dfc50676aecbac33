package regime

import (
	"github.com/marketflow/perpcore/internal/domain"
)

// VolLevel is the volatility environment classification. It is derived fresh
// every cycle from two independent percentile views; no hysteresis.
type VolLevel string

const (
	VolLow     VolLevel = "LOW"
	VolNormal  VolLevel = "NORMAL"
	VolHigh    VolLevel = "HIGH"
	VolUnknown VolLevel = "UNKNOWN"
)

// VolConfig configures the two-view percentile consensus.
type VolConfig struct {
	RangeKey string  `yaml:"range_key"` // normalized true range field
	WidthKey string  `yaml:"width_key"` // volatility band width field
	Window   int     `yaml:"window"`
	LowQ     float64 `yaml:"low_q"`
	HighQ    float64 `yaml:"high_q"`
}

// DefaultVolConfig returns the production volatility-view configuration.
func DefaultVolConfig() VolConfig {
	return VolConfig{
		RangeKey: domain.FieldNATR,
		WidthKey: domain.FieldBBWidth,
		Window:   200,
		LowQ:     0.2,
		HighQ:    0.8,
	}
}

// VolView is the debug detail of one percentile view.
type VolView struct {
	Current float64  `json:"current"`
	P20     float64  `json:"p20"`
	P80     float64  `json:"p80"`
	Level   VolLevel `json:"level"`
}

// VolDetail explains how the consensus label was reached.
type VolDetail struct {
	Level      VolLevel `json:"level"`
	Confidence string   `json:"confidence"` // "high" on agreement, "low" on conflict
	Range      VolView  `json:"range"`
	Width      VolView  `json:"width"`
}

// ClassifyVolatility labels the volatility environment from two independent
// views of the same timeframe. When the views disagree it collapses to
// VolNormal with low confidence: a single noisy view never declares an
// extreme. Returns VolUnknown with nil detail when either series is short.
func ClassifyVolatility(tbl *domain.Table, cfg VolConfig) (VolLevel, *VolDetail) {
	rangeSeries := tbl.Column(cfg.RangeKey)
	widthSeries := tbl.Column(cfg.WidthKey)
	if len(rangeSeries) < cfg.Window || len(widthSeries) < cfg.Window {
		return VolUnknown, nil
	}

	rangeView := classifyView(rangeSeries[len(rangeSeries)-cfg.Window:], cfg)
	widthView := classifyView(widthSeries[len(widthSeries)-cfg.Window:], cfg)

	detail := &VolDetail{Range: rangeView, Width: widthView}
	if rangeView.Level == widthView.Level {
		detail.Level = rangeView.Level
		detail.Confidence = "high"
	} else {
		detail.Level = VolNormal
		detail.Confidence = "low"
	}
	return detail.Level, detail
}

func classifyView(window []float64, cfg VolConfig) VolView {
	cur := window[len(window)-1]
	p20 := domain.Percentile(window, cfg.LowQ)
	p80 := domain.Percentile(window, cfg.HighQ)

	level := VolNormal
	if cur <= p20 {
		level = VolLow
	} else if cur >= p80 {
		level = VolHigh
	}
	return VolView{Current: cur, P20: p20, P80: p80, Level: level}
}
