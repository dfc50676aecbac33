package signal

import (
	"math"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
)

// ValidityConfig tunes the risk layer: stop construction, trailing distance,
// adverse-drift quality, and the flip check.
type ValidityConfig struct {
	MinRows        int     `yaml:"min_rows"`
	SwingLookback  int     `yaml:"swing_lookback"`
	StopATR        float64 `yaml:"stop_atr"`
	StopATRStrict  float64 `yaml:"stop_atr_strict"`
	TrailATR       float64 `yaml:"trail_atr"`
	TrailATRStrict float64 `yaml:"trail_atr_strict"`
	AvgStopPad     float64 `yaml:"avg_stop_pad"`   // ATR pad under/over the fast average
	SwingStopPad   float64 `yaml:"swing_stop_pad"` // ATR pad past the swing extreme
	ExitSwingPad   float64 `yaml:"exit_swing_pad"`

	DriftBars    int     `yaml:"drift_bars"`
	DriftATRFlat float64 `yaml:"drift_atr_flat"` // adverse drift (in fastest ATR) that penalizes a fresh entry
	DriftATRHeld float64 `yaml:"drift_atr_held"`
	DriftPenFlat float64 `yaml:"drift_pen_flat"`
	DriftPenHeld float64 `yaml:"drift_pen_held"`

	FlatQuality   float64 `yaml:"flat_quality"`
	HeldQuality   float64 `yaml:"held_quality"`
	QualityFloor  float64 `yaml:"quality_floor"` // strict: below this the layer flags a veto reason
	FlipLookback  int     `yaml:"flip_lookback"`
	FlipPad       float64 `yaml:"flip_pad"`
}

// DefaultValidityConfig returns the production risk-layer tunables.
func DefaultValidityConfig() ValidityConfig {
	return ValidityConfig{
		MinRows:        30,
		SwingLookback:  10,
		StopATR:        1.55,
		StopATRStrict:  1.25,
		TrailATR:       1.35,
		TrailATRStrict: 1.10,
		AvgStopPad:     0.25,
		SwingStopPad:   0.10,
		ExitSwingPad:   0.05,
		DriftBars:      3,
		DriftATRFlat:   0.35,
		DriftATRHeld:   0.40,
		DriftPenFlat:   0.30,
		DriftPenHeld:   0.20,
		FlatQuality:    0.70,
		HeldQuality:    0.65,
		QualityFloor:   0.45,
		FlipLookback:   20,
		FlipPad:        0.15,
	}
}

// ValidityResult carries the stop, exit/flip flags, and a quality score for
// the proposed or held position.
type ValidityResult struct {
	StopPrice float64  `json:"stop_price"`
	HasStop   bool     `json:"has_stop"`
	ExitOK    bool     `json:"exit_ok"`
	FlipOK    bool     `json:"flip_ok"`
	Quality   float64  `json:"quality"`
	Reasons   []string `json:"reasons"`
}

// ComputeValidity evaluates the risk layer. Flat, it builds an initial stop
// (the more conservative of an ATR stop and a structural stop) and grades the
// entry with an adverse-drift filter on the fastest timeframe. In a position,
// it trails the stop without ever loosening it, and raises exit/flip flags.
func ComputeValidity(
	fast *domain.Table,
	fastest *domain.Table,
	dir DirectionResult,
	trg TriggerResult,
	dec gates.Decision,
	pos *domain.Position,
	cfg ValidityConfig,
) ValidityResult {
	if fast.Len() < cfg.MinRows {
		return ValidityResult{Reasons: []string{"risk: insufficient bars"}}
	}

	close_, okClose := tblLatest(fast, domain.FieldClose)
	fastAvg, okFast := tblLatest(fast, domain.FieldEMAFast)
	slowAvg, okSlow := tblLatest(fast, domain.FieldEMASlow)
	atr, okATR := tblLatest(fast, domain.FieldATR)
	if !okClose || !okFast || !okSlow || !okATR {
		return ValidityResult{Reasons: []string{"risk: required fields missing"}}
	}
	if atr <= 0 {
		return ValidityResult{Reasons: []string{"risk: ATR invalid (<=0)"}}
	}

	strict := dec.StrictEntry

	if !pos.Open() {
		return validityFlat(fast, fastest, dir, trg, strict, close_, fastAvg, atr, cfg)
	}
	return validityHeld(fast, fastest, pos, strict, dec.AllowFlip, close_, fastAvg, slowAvg, atr, cfg)
}

func validityFlat(
	fast, fastest *domain.Table,
	dir DirectionResult,
	trg TriggerResult,
	strict bool,
	close_, fastAvg, atr float64,
	cfg ValidityConfig,
) ValidityResult {
	if !trg.EntryOK {
		return ValidityResult{Reasons: []string{"flat: no entry -> skip validity"}}
	}
	if dir.Side == domain.SideNone {
		return ValidityResult{Reasons: []string{"flat: no direction"}}
	}

	entryRef := trg.RefPrice
	if entryRef == 0 {
		entryRef = close_
	}

	kATR := cfg.StopATR
	if strict {
		kATR = cfg.StopATRStrict
	}
	atrDist := kATR * atr

	swingLow, _ := fast.WindowMin(domain.FieldLow, cfg.SwingLookback, false)
	swingHigh, _ := fast.WindowMax(domain.FieldHigh, cfg.SwingLookback, false)

	var stop float64
	if dir.Side == domain.SideLong {
		atrStop := entryRef - atrDist
		var structStop float64
		if trg.IsBreakout {
			// The breakout level itself is the structure; losing it voids
			// the entry thesis.
			structStop = math.Max(trg.RefPrice-cfg.AvgStopPad*atr, fastAvg-cfg.AvgStopPad*atr)
		} else {
			structStop = swingLow - cfg.SwingStopPad*atr
		}
		stop = math.Max(atrStop, structStop)
	} else {
		atrStop := entryRef + atrDist
		var structStop float64
		if trg.IsBreakout {
			structStop = math.Min(trg.RefPrice+cfg.AvgStopPad*atr, fastAvg+cfg.AvgStopPad*atr)
		} else {
			structStop = swingHigh + cfg.SwingStopPad*atr
		}
		stop = math.Min(atrStop, structStop)
	}

	var reasons []string
	quality := cfg.FlatQuality
	if _, hit := adverseDrift(fastest, dir.Side, cfg.DriftBars, cfg.DriftATRFlat); hit {
		quality -= cfg.DriftPenFlat
		reasons = append(reasons, "flat: adverse drift on fastest timeframe")
	}
	if strict && quality < cfg.QualityFloor {
		// The aggregator applies the threshold; this layer only reports.
		reasons = append(reasons, "strict: quality too low -> veto entry")
	}

	return ValidityResult{
		StopPrice: stop,
		HasStop:   true,
		Quality:   clamp01(quality),
		Reasons:   reasons,
	}
}

func validityHeld(
	fast, fastest *domain.Table,
	pos *domain.Position,
	strict, allowFlip bool,
	close_, fastAvg, slowAvg, atr float64,
	cfg ValidityConfig,
) ValidityResult {
	kTrail := cfg.TrailATR
	if strict {
		kTrail = cfg.TrailATRStrict
	}
	trailDist := kTrail * atr

	oldStop := pos.StopPrice
	var stop float64
	if pos.Side == domain.SideLong {
		newStop := math.Max(fastAvg-cfg.AvgStopPad*atr, close_-trailDist)
		stop = newStop
		if oldStop > 0 {
			// Never loosen an existing protective stop.
			stop = math.Max(oldStop, newStop)
		}
	} else {
		newStop := math.Min(fastAvg+cfg.AvgStopPad*atr, close_+trailDist)
		stop = newStop
		if oldStop > 0 {
			stop = math.Min(oldStop, newStop)
		}
	}

	swingLow, _ := fast.WindowMin(domain.FieldLow, cfg.SwingLookback, false)
	swingHigh, _ := fast.WindowMax(domain.FieldHigh, cfg.SwingLookback, false)

	exitOK := false
	if pos.Side == domain.SideLong {
		if close_ < swingLow-cfg.ExitSwingPad*atr {
			exitOK = true
		}
		if fastAvg < slowAvg {
			exitOK = true
		}
		if close_ <= stop {
			exitOK = true
		}
	} else {
		if close_ > swingHigh+cfg.ExitSwingPad*atr {
			exitOK = true
		}
		if fastAvg > slowAvg {
			exitOK = true
		}
		if close_ >= stop {
			exitOK = true
		}
	}

	// Flip reuses the breakout-style cross on the opposite side. It is
	// intentionally easier than a fresh strict breakout entry: no tangle or
	// low-volatility filter applies here.
	flipOK := false
	if strict || allowFlip {
		winLen := cfg.FlipLookback
		if avail := fast.Len() - 1; avail < winLen {
			winLen = avail
		}
		hh, okHH := fast.WindowMax(domain.FieldHigh, winLen, true)
		ll, okLL := fast.WindowMin(domain.FieldLow, winLen, true)
		prevClose, okPrev := fast.Value(domain.FieldClose, 1)
		pad := cfg.FlipPad * atr

		if okPrev {
			if pos.Side == domain.SideLong && okLL {
				if exitOK && fastAvg <= slowAvg && prevClose > ll-pad && close_ <= ll-pad {
					flipOK = true
				}
			} else if pos.Side == domain.SideShort && okHH {
				if exitOK && fastAvg >= slowAvg && prevClose < hh+pad && close_ >= hh+pad {
					flipOK = true
				}
			}
		}
	}

	var reasons []string
	quality := cfg.HeldQuality
	if _, hit := adverseDrift(fastest, pos.Side, cfg.DriftBars, cfg.DriftATRHeld); hit {
		quality -= cfg.DriftPenHeld
		reasons = append(reasons, "held: adverse drift on fastest timeframe")
	}

	return ValidityResult{
		StopPrice: stop,
		HasStop:   true,
		ExitOK:    exitOK,
		FlipOK:    flipOK,
		Quality:   clamp01(quality),
		Reasons:   reasons,
	}
}

// adverseDrift reports whether the fastest timeframe shows price drifting
// against the intended side over the last few bars, measured in that
// timeframe's own ATR.
func adverseDrift(fastest *domain.Table, side domain.Side, bars int, limitATR float64) (float64, bool) {
	if fastest == nil || fastest.Len() < bars+3 {
		return 0, false
	}
	last, okLast := fastest.Value(domain.FieldClose, 0)
	first, okFirst := fastest.Value(domain.FieldClose, bars-1)
	atr, okATR := fastest.Value(domain.FieldATR, 0)
	if !okLast || !okFirst || !okATR || atr <= 0 {
		return 0, false
	}
	drift := last - first
	if side == domain.SideLong && drift < -limitATR*atr {
		return drift, true
	}
	if side == domain.SideShort && drift > limitATR*atr {
		return drift, true
	}
	return drift, false
}

func tblLatest(tbl *domain.Table, field string) (float64, bool) {
	return tbl.Value(field, 0)
}
