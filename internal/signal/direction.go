package signal

import (
	"fmt"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
)

// DirectionConfig tunes the slow-timeframe bias layer.
type DirectionConfig struct {
	MinSlope       float64 `yaml:"min_slope"`        // per-bar fast-average slope below which a trend is flat
	ExtLimit       float64 `yaml:"ext_limit"`        // deviation from fast average where chase risk starts
	ExtHard        float64 `yaml:"ext_hard"`         // deviation where the extension penalty saturates
	ExtPenaltyMax  float64 `yaml:"ext_penalty_max"`
	SlopePenalty   float64 `yaml:"slope_penalty"`
	StrongTrend    float64 `yaml:"strong_trend"`
	WeakTrend      float64 `yaml:"weak_trend"`
	DisallowWeight float64 `yaml:"disallow_weight"` // multiplier when trend strategies are gated off
	NoneCap        float64 `yaml:"none_cap"`        // confidence ceiling for a NONE side
}

// DefaultDirectionConfig returns the production bias-layer tunables.
func DefaultDirectionConfig() DirectionConfig {
	return DirectionConfig{
		MinSlope:       0.0002,
		ExtLimit:       0.02,
		ExtHard:        0.035,
		ExtPenaltyMax:  0.15,
		SlopePenalty:   0.12,
		StrongTrend:    25,
		WeakTrend:      18,
		DisallowWeight: 0.60,
		NoneCap:        0.40,
	}
}

// DirectionResult is the bias layer output: a side to prefer and how much to
// trust it. It is a bias, not an entry.
type DirectionResult struct {
	Side       domain.Side `json:"side"`
	Confidence float64     `json:"confidence"`
	Reasons    []string    `json:"reasons"`
}

// ComputeDirection derives the directional bias from the slow timeframe.
// Structure (fast vs slow average) decides the side; price location grades it
// as momentum, pullback, or tentative breakdown; trend strength and the
// policy decision adjust the weight. The bias survives pullbacks but is
// downweighted when flat, extended, or environment-disallowed.
func ComputeDirection(tbl *domain.Table, dec gates.Decision, cfg DirectionConfig) DirectionResult {
	var reasons []string

	close_, okClose := tbl.Value(domain.FieldClose, 0)
	fast, okFast := tbl.Value(domain.FieldEMAFast, 0)
	slow, okSlow := tbl.Value(domain.FieldEMASlow, 0)
	strength, okStrength := tbl.Value(domain.FieldADX, 0)
	if !okClose || !okFast || !okSlow || !okStrength {
		return DirectionResult{Side: domain.SideNone, Reasons: []string{"bias: required fields missing"}}
	}
	fastPrev, okPrev := tbl.Value(domain.FieldEMAFast, 1)
	if !okPrev {
		return DirectionResult{Side: domain.SideNone, Reasons: []string{"bias: insufficient bars (<2)"}}
	}

	slopePct := 0.0
	if fastPrev != 0 {
		slopePct = (fast - fastPrev) / fastPrev
	}
	ext := 0.0
	if fast != 0 {
		ext = (close_ - fast) / fast // positive means above the fast average
	}
	pullbackSlopeFloor := -cfg.MinSlope

	side := domain.SideNone
	conf := 0.0

	switch {
	case fast > slow: // bull structure
		side = domain.SideLong
		switch {
		case close_ > fast:
			conf = 0.60
			reasons = append(reasons, "bias: bull momentum (close above fast avg)")
			if slopePct >= cfg.MinSlope {
				conf += 0.05
				reasons = append(reasons, fmt.Sprintf("bias: slope up (+) %.3f%%", slopePct*100))
			} else {
				conf -= cfg.SlopePenalty
				reasons = append(reasons, fmt.Sprintf("bias: slope too flat (-) %.3f%%", slopePct*100))
			}
			if ext > cfg.ExtLimit {
				pen := extensionPenalty(ext, cfg)
				conf -= pen
				reasons = append(reasons, fmt.Sprintf("bias: extension high (+%.2f%%) -> -%.2f", ext*100, pen))
			}
		case close_ > slow:
			conf = 0.48
			reasons = append(reasons, "bias: bull pullback (between averages)")
			if slopePct < pullbackSlopeFloor {
				conf -= 0.10
				reasons = append(reasons, fmt.Sprintf("bias: pullback but slope turning down (%.3f%%)", slopePct*100))
			}
		default:
			// Below the slow average: possible structure break, wait for
			// confirmation instead of flipping the bias instantly.
			side = domain.SideNone
			conf = 0.15
			reasons = append(reasons, "bias: below slow avg -> possible bull breakdown (wait confirm)")
		}

	case fast < slow: // bear structure
		side = domain.SideShort
		switch {
		case close_ < fast:
			conf = 0.60
			reasons = append(reasons, "bias: bear momentum (close below fast avg)")
			if slopePct <= -cfg.MinSlope {
				conf += 0.05
				reasons = append(reasons, fmt.Sprintf("bias: slope down (+) %.3f%%", slopePct*100))
			} else {
				conf -= cfg.SlopePenalty
				reasons = append(reasons, fmt.Sprintf("bias: slope too flat (-) %.3f%%", slopePct*100))
			}
			if ext < -cfg.ExtLimit {
				pen := extensionPenalty(-ext, cfg)
				conf -= pen
				reasons = append(reasons, fmt.Sprintf("bias: extension high (%.2f%%) -> -%.2f", ext*100, pen))
			}
		case close_ < slow:
			conf = 0.48
			reasons = append(reasons, "bias: bear pullback (between averages)")
			if slopePct > cfg.MinSlope {
				conf -= 0.10
				reasons = append(reasons, fmt.Sprintf("bias: pullback but slope turning up (%.3f%%)", slopePct*100))
			}
		default:
			side = domain.SideNone
			conf = 0.15
			reasons = append(reasons, "bias: above slow avg -> possible bear breakdown (wait confirm)")
		}

	default:
		side = domain.SideNone
		conf = 0.25
		reasons = append(reasons, "bias: averages tangled -> no clear bias")
	}

	// Trend-strength weighting is by value, independent of the regime label.
	if side != domain.SideNone {
		if strength >= cfg.StrongTrend {
			conf += 0.15
			reasons = append(reasons, fmt.Sprintf("bias: trend strong (+) %.1f", strength))
		} else if strength <= cfg.WeakTrend {
			conf -= 0.10
			reasons = append(reasons, fmt.Sprintf("bias: trend weak (-) %.1f", strength))
		}
	}

	// Policy gate downweights, never hard-zeroes.
	if side != domain.SideNone && !dec.AllowTrend {
		conf *= cfg.DisallowWeight
		reasons = append(reasons, fmt.Sprintf("policy: trend not allowed -> confidence x%.2f", cfg.DisallowWeight))
	}

	conf = clamp01(conf)
	if side == domain.SideNone && conf > cfg.NoneCap {
		conf = cfg.NoneCap
	}
	return DirectionResult{Side: side, Confidence: conf, Reasons: reasons}
}

// extensionPenalty ramps from 0 to ExtPenaltyMax as the absolute deviation
// grows from ExtLimit toward ExtHard.
func extensionPenalty(ext float64, cfg DirectionConfig) float64 {
	span := cfg.ExtHard - cfg.ExtLimit
	if span <= 0 {
		return cfg.ExtPenaltyMax
	}
	t := (ext - cfg.ExtLimit) / span
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return cfg.ExtPenaltyMax * t
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
