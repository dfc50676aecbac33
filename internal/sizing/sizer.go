package sizing

import (
	"fmt"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
	"github.com/marketflow/perpcore/internal/signal"
)

// Config tunes risk-based position sizing.
type Config struct {
	RiskPct        float64 `yaml:"risk_pct"`        // fraction of equity risked per trade
	Leverage       float64 `yaml:"leverage"`
	NotionalBuffer float64 `yaml:"notional_buffer"` // safety fraction of max notional, < 1.0
	MarketScore    float64 `yaml:"market_score"`    // composite score at which entry goes market
	Slippage       float64 `yaml:"slippage"`        // limit offset from the reference price
}

// DefaultConfig returns the production sizing parameters.
func DefaultConfig() Config {
	return Config{
		RiskPct:        0.01,
		Leverage:       5.0,
		NotionalBuffer: 0.95,
		MarketScore:    90.0,
		Slippage:       0.001,
	}
}

// Result is a sized order proposal. A zero quantity is a rejection with
// reasons, not an error.
type Result struct {
	Quantity   float64          `json:"quantity"`
	Kind       domain.OrderKind `json:"kind"`
	LimitPrice float64          `json:"limit_price"` // valid only for limit kind
	Reasons    []string         `json:"reasons"`
}

// Sizer converts a signal snapshot plus account state into a quantity.
type Sizer struct {
	cfg Config
}

// NewSizer creates a position sizer.
func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size divides the risk budget by the per-unit risk (reference to stop
// distance), caps the result at a leverage-derived notional ceiling, and
// rounds down to the asset's quantity precision.
func (s *Sizer) Size(equity float64, snap signal.Snapshot, dec gates.Decision, asset domain.AssetInfo) Result {
	res := Result{Kind: domain.OrderMarket}

	if equity <= 0 {
		res.Reasons = append(res.Reasons, "sizing: non-positive equity")
		return res
	}
	if snap.RefPrice <= 0 || !snap.HasStop {
		res.Reasons = append(res.Reasons, "sizing: missing reference or stop price")
		return res
	}

	r := snap.RefPrice - snap.StopPrice
	if r < 0 {
		r = -r
	}
	if r <= 0 {
		res.Reasons = append(res.Reasons, "sizing: invalid R (reference-stop <= 0)")
		return res
	}

	riskBudget := equity * s.cfg.RiskPct * dec.RiskScale
	rawQty := riskBudget / r

	maxNotional := equity * s.cfg.Leverage * s.cfg.NotionalBuffer
	maxQty := maxNotional / snap.RefPrice
	qty := rawQty
	if maxQty < qty {
		qty = maxQty
		res.Reasons = append(res.Reasons, fmt.Sprintf("sizing: notional cap binds (%.2f)", maxNotional))
	}

	qty = domain.RoundDown(qty, asset.SizeDecimals)
	if qty <= 0 {
		res.Quantity = 0
		res.Reasons = append(res.Reasons, "sizing: quantity too small after rounding")
		return res
	}
	res.Quantity = qty

	if snap.Score >= s.cfg.MarketScore {
		res.Kind = domain.OrderMarket
	} else {
		res.Kind = domain.OrderLimit
		if snap.Side == domain.SideLong {
			res.LimitPrice = snap.RefPrice * (1 - s.cfg.Slippage)
		} else {
			res.LimitPrice = snap.RefPrice * (1 + s.cfg.Slippage)
		}
	}
	return res
}
