package gates

import (
	"fmt"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/regime"
)

// Config holds the hard thresholds for the policy gate.
type Config struct {
	MaxSpreadBps   float64 `yaml:"max_spread_bps"`
	MinDepthUSD    float64 `yaml:"min_depth_usd"`
	ImbalanceLimit float64 `yaml:"imbalance_limit"` // absolute value
	WeakTrend      float64 `yaml:"weak_trend"`      // below this, trend strategies are off
	StrongTrend    float64 `yaml:"strong_trend"`    // above this, a fading slope is tolerated
	AllowFlip      bool    `yaml:"allow_flip"`
}

// DefaultConfig returns the production gate thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSpreadBps:   12.0,
		MinDepthUSD:    200_000,
		ImbalanceLimit: 0.8,
		WeakTrend:      20.0,
		StrongTrend:    25.0,
		AllowFlip:      false,
	}
}

// Inputs is the full environment snapshot the gate evaluates.
type Inputs struct {
	Regime        regime.Regime
	TrendStrength float64
	StrengthOK    bool // false when the trend-strength value is missing
	Vol           regime.VolLevel
	Book          *domain.OrderBookSnapshot // nil when unavailable
	Timing        regime.TimingState
}

// Decision is the per-cycle trading policy. It is created once per cycle and
// never mutated; downstream layers consume the allow flags as weights or
// vetoes, not as errors.
type Decision struct {
	Action domain.Action `json:"action"`

	AllowTrend    bool `json:"allow_trend"`
	AllowMean     bool `json:"allow_mean"`
	AllowNewEntry bool `json:"allow_new_entry"`
	AllowManage   bool `json:"allow_manage"`
	AllowFlip     bool `json:"allow_flip"`
	StrictEntry   bool `json:"strict_entry"`

	RiskScale     float64 `json:"risk_scale"`
	CooldownScale float64 `json:"cooldown_scale"`

	Reasons []string `json:"reasons"`

	// Context snapshot of the inputs that produced the decision, kept for
	// audit and replay.
	Regime        regime.Regime             `json:"regime"`
	TrendStrength float64                   `json:"trend_strength"`
	Vol           regime.VolLevel           `json:"vol"`
	Book          *domain.OrderBookSnapshot `json:"book,omitempty"`
}

// Gate turns environment and microstructure state into a Decision.
type Gate struct {
	cfg Config
}

// NewGate creates a policy gate.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate walks the policy tiers in strict priority order; the first
// matching tier short-circuits the rest: hard stop, strategy gating,
// soft stop, dead-end closure, green light.
func (g *Gate) Evaluate(in Inputs) Decision {
	base := Decision{
		Regime:        in.Regime,
		TrendStrength: in.TrendStrength,
		Vol:           in.Vol,
		Book:          in.Book,
		AllowManage:   true,
		AllowFlip:     g.cfg.AllowFlip,
		RiskScale:     1.0,
		CooldownScale: 1.0,
	}

	// Tier 1: hard stop. Existing risk management is never blocked.
	var hard []string
	if in.Regime == regime.Unknown || in.Vol == regime.VolUnknown {
		hard = append(hard, "regime or volatility unknown")
	}
	if !in.StrengthOK {
		hard = append(hard, "trend strength missing")
	}
	if in.Book != nil && in.Book.SpreadBps > g.cfg.MaxSpreadBps {
		hard = append(hard, fmt.Sprintf("spread too wide (%.2fbps > %.2fbps)", in.Book.SpreadBps, g.cfg.MaxSpreadBps))
	}
	if len(hard) > 0 {
		base.Action = domain.ActionStopAll
		base.AllowTrend = false
		base.AllowMean = false
		base.AllowNewEntry = false
		base.RiskScale = 0
		base.CooldownScale = 2.0
		base.Reasons = hard
		return base
	}

	// Tier 2: strategy gating.
	allowTrend := in.Regime == regime.Trend || in.Regime == regime.Mixed
	allowMean := in.Regime == regime.Range || in.Regime == regime.Mixed
	strictEntry := false
	var gateLogs []string

	switch in.Vol {
	case regime.VolHigh:
		if allowMean {
			allowMean = false
			gateLogs = append(gateLogs, "gate: high volatility disables mean reversion")
		}
	case regime.VolLow:
		if in.Timing.WidthSlope.State != regime.SlopeUp {
			strictEntry = true
			gateLogs = append(gateLogs, "gate: low volatility -> strict entry (no expansion)")
		} else {
			gateLogs = append(gateLogs, "gate: low volatility but width expanding -> ok")
		}
	}

	if in.TrendStrength < g.cfg.WeakTrend && allowTrend {
		allowTrend = false
		gateLogs = append(gateLogs, fmt.Sprintf("gate: trend too weak (%.1f < %.1f)", in.TrendStrength, g.cfg.WeakTrend))
	}

	if in.Timing.TrendSlope.State == regime.SlopeDown && allowTrend {
		// A strong trend is allowed to pull back; a weak one is ending.
		if in.TrendStrength <= g.cfg.StrongTrend {
			allowTrend = false
			gateLogs = append(gateLogs, fmt.Sprintf("gate: trend fading (%.1f) with slope down", in.TrendStrength))
		}
	}

	if in.Timing.WidthSlope.State == regime.SlopeUp &&
		(in.Regime == regime.Range || in.Regime == regime.Mixed) && allowMean {
		// An opening range is not a range to fade.
		allowMean = false
		gateLogs = append(gateLogs, "gate: band width expanding disables mean reversion")
	}

	// Tier 3: soft stop.
	var soft []string
	if in.Book != nil {
		if depth := in.Book.Depth(); depth > 0 && depth < g.cfg.MinDepthUSD {
			soft = append(soft, fmt.Sprintf("order book thin (depth=%.0f)", depth))
		}
		if imb := in.Book.Imbalance; imb > g.cfg.ImbalanceLimit || imb < -g.cfg.ImbalanceLimit {
			soft = append(soft, fmt.Sprintf("extreme imbalance (%.2f)", imb))
		}
	} else {
		soft = append(soft, "order book missing")
	}
	if in.Vol == regime.VolHigh && (in.Regime == regime.Range || in.Regime == regime.Mixed) {
		soft = append(soft, "high volatility in range: whipsaw risk")
	}

	// Risk scaling by volatility baseline, then dynamic corrections.
	riskScale, cooldownScale := 1.0, 1.0
	switch in.Vol {
	case regime.VolHigh:
		riskScale, cooldownScale = 0.6, 2.0
	case regime.VolLow:
		riskScale, cooldownScale = 0.8, 1.5
	}
	if in.Timing.TrendSlope.State == regime.SlopeDown && allowTrend && in.TrendStrength > g.cfg.StrongTrend {
		riskScale *= 0.75
	}
	if in.Vol == regime.VolLow && strictEntry {
		// Probe size in sniper mode.
		riskScale *= 0.7
	}

	base.StrictEntry = strictEntry
	base.AllowTrend = allowTrend
	base.AllowMean = allowMean
	base.RiskScale = riskScale
	base.CooldownScale = cooldownScale

	if len(soft) > 0 {
		base.Action = domain.ActionNoNewEntry
		base.AllowNewEntry = false
		base.Reasons = append(soft, gateLogs...)
		return base
	}

	// Tier 4: dead-end closure, gating left no strategy standing.
	if !allowTrend && !allowMean {
		base.Action = domain.ActionNoNewEntry
		base.AllowNewEntry = false
		base.StrictEntry = false
		if len(gateLogs) > 0 {
			base.Reasons = gateLogs
		} else {
			base.Reasons = []string{"no strategy fits this environment"}
		}
		return base
	}

	// Tier 5: green light.
	base.Action = domain.ActionOK
	base.AllowNewEntry = true
	base.Reasons = append([]string{fmt.Sprintf("ok: regime=%s", in.Regime)}, gateLogs...)
	return base
}
