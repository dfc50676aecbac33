package signal

import (
	"fmt"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
)

// TriggerConfig tunes the fast-timeframe entry trigger. Distances are in ATR
// multiples so the trigger scales with volatility.
type TriggerConfig struct {
	Lookback           int     `yaml:"lookback"`             // prior bars for breakout extremes
	BreakoutPad        float64 `yaml:"breakout_pad"`         // ATR pad over the level, relaxed mode
	BreakoutPadStrict  float64 `yaml:"breakout_pad_strict"`
	PullbackBand       float64 `yaml:"pullback_band"`        // ATR distance to count as "near" the fast avg
	PullbackBandStrict float64 `yaml:"pullback_band_strict"`
	TangleGap          float64 `yaml:"tangle_gap"`           // strict: min avg separation in ATR
	MinBreakoutNATR    float64 `yaml:"min_breakout_natr"`    // strict: don't chase breakouts below this
	PullbackStrength   float64 `yaml:"pullback_strength"`
	PullbackStrict     float64 `yaml:"pullback_strict"`
	BreakoutStrength   float64 `yaml:"breakout_strength"`
	BreakoutStrict     float64 `yaml:"breakout_strict"`
}

// DefaultTriggerConfig returns the production trigger tunables.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Lookback:           20,
		BreakoutPad:        0.05,
		BreakoutPadStrict:  0.20,
		PullbackBand:       0.35,
		PullbackBandStrict: 0.25,
		TangleGap:          0.20,
		MinBreakoutNATR:    0.005,
		PullbackStrength:   0.58,
		PullbackStrict:     0.62,
		BreakoutStrength:   0.60,
		BreakoutStrict:     0.65,
	}
}

// TriggerResult reports whether an entry fires right now and at what
// reference price.
type TriggerResult struct {
	EntryOK    bool     `json:"entry_ok"`
	RefPrice   float64  `json:"ref_price"` // valid only when EntryOK
	Strength   float64  `json:"strength"`
	IsBreakout bool     `json:"is_breakout"`
	Reasons    []string `json:"reasons"`
}

// ComputeTrigger checks the two mutually exclusive entry patterns on the fast
// timeframe. Pullback is checked first: price near the fast average plus an
// action confirmation (reclaim/reject of the average, or a bar closing in the
// bias direction; strict mode requires both). Only if no pullback fires is a
// breakout considered, and only as an event: the previous close on the wrong
// side of the padded level and the current close across it, so a running
// trend does not re-trigger every bar.
func ComputeTrigger(tbl *domain.Table, dir DirectionResult, dec gates.Decision, cfg TriggerConfig) TriggerResult {
	if dir.Side == domain.SideNone {
		return TriggerResult{Reasons: []string{"no direction -> no trigger"}}
	}

	open_, okOpen := tbl.Value(domain.FieldOpen, 0)
	high, okHigh := tbl.Value(domain.FieldHigh, 0)
	low, okLow := tbl.Value(domain.FieldLow, 0)
	close_, okClose := tbl.Value(domain.FieldClose, 0)
	fast, okFast := tbl.Value(domain.FieldEMAFast, 0)
	slowAvg, okSlow := tbl.Value(domain.FieldEMASlow, 0)
	atr, okATR := tbl.Value(domain.FieldATR, 0)
	if !okOpen || !okHigh || !okLow || !okClose || !okFast || !okSlow || !okATR {
		return TriggerResult{Reasons: []string{"trigger: required fields missing"}}
	}
	prevClose, okPrev := tbl.Value(domain.FieldClose, 1)
	if !okPrev || tbl.Len() < 3 {
		return TriggerResult{Reasons: []string{"trigger: insufficient bars (<3)"}}
	}
	if atr <= 0 {
		return TriggerResult{Reasons: []string{"trigger: ATR invalid (<=0)"}}
	}

	strict := dec.StrictEntry
	breakoutPad := cfg.BreakoutPad * atr
	pullbackBand := cfg.PullbackBand * atr
	if strict {
		breakoutPad = cfg.BreakoutPadStrict * atr
		pullbackBand = cfg.PullbackBandStrict * atr
	}

	isGreen := close_ > open_
	isRed := close_ < open_
	inBullStruct := fast >= slowAvg
	inBearStruct := fast <= slowAvg
	nearFast := abs(close_-fast) <= pullbackBand

	var reasons []string
	res := TriggerResult{}

	// A) Pullback with action confirmation.
	if dir.Side == domain.SideLong && inBullStruct {
		reclaim := low <= fast && close_ >= fast
		actionOK := reclaim || isGreen
		if strict {
			actionOK = reclaim && isGreen
		}
		if nearFast && close_ >= fast && actionOK {
			res.EntryOK = true
			res.RefPrice = close_
			res.Strength = cfg.PullbackStrength
			if strict {
				res.Strength = cfg.PullbackStrict
			}
			reasons = append(reasons, "trigger: pullback confirmed long", "trigger: near fast avg")
			if reclaim {
				reasons = append(reasons, "trigger: reclaim (dipped through fast avg, closed back above)")
			}
			if isGreen {
				reasons = append(reasons, "trigger: green candle")
			}
		}
	} else if dir.Side == domain.SideShort && inBearStruct {
		reject := high >= fast && close_ <= fast
		actionOK := reject || isRed
		if strict {
			actionOK = reject && isRed
		}
		if nearFast && close_ <= fast && actionOK {
			res.EntryOK = true
			res.RefPrice = close_
			res.Strength = cfg.PullbackStrength
			if strict {
				res.Strength = cfg.PullbackStrict
			}
			reasons = append(reasons, "trigger: pullback confirmed short", "trigger: near fast avg")
			if reject {
				reasons = append(reasons, "trigger: reject (spiked through fast avg, closed back below)")
			}
			if isRed {
				reasons = append(reasons, "trigger: red candle")
			}
		}
	}

	// B) Breakout of the prior-window extreme, event-triggered.
	if !res.EntryOK {
		winLen := cfg.Lookback
		if avail := tbl.Len() - 1; avail < winLen {
			winLen = avail
		}
		hh, okHH := tbl.WindowMax(domain.FieldHigh, winLen, true)
		ll, okLL := tbl.WindowMin(domain.FieldLow, winLen, true)

		if dir.Side == domain.SideLong && inBullStruct && okHH {
			upLevel := hh + breakoutPad
			if prevClose < upLevel && close_ >= upLevel {
				res.EntryOK = true
				res.IsBreakout = true
				res.RefPrice = upLevel
				res.Strength = cfg.BreakoutStrength
				if strict {
					res.Strength = cfg.BreakoutStrict
				}
				reasons = append(reasons, fmt.Sprintf("trigger: breakout close-confirmed above %d-bar high + pad (long)", winLen))
			}
		} else if dir.Side == domain.SideShort && inBearStruct && okLL {
			dnLevel := ll - breakoutPad
			if prevClose > dnLevel && close_ <= dnLevel {
				res.EntryOK = true
				res.IsBreakout = true
				res.RefPrice = dnLevel
				res.Strength = cfg.BreakoutStrength
				if strict {
					res.Strength = cfg.BreakoutStrict
				}
				reasons = append(reasons, fmt.Sprintf("trigger: breakdown close-confirmed below %d-bar low - pad (short)", winLen))
			}
		}
	}

	// Strict filters run last so their rejection reasons carry the context.
	if res.EntryOK && strict {
		if abs(fast-slowAvg) < cfg.TangleGap*atr {
			return TriggerResult{Reasons: append(reasons, "strict: averages too tight -> reject")}
		}
		if res.IsBreakout && atr/close_ < cfg.MinBreakoutNATR {
			return TriggerResult{Reasons: append(reasons, "strict: volatility too low for breakout -> reject")}
		}
	}

	res.Reasons = reasons
	return res
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
