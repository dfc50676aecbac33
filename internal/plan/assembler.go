package plan

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
	"github.com/marketflow/perpcore/internal/signal"
	"github.com/marketflow/perpcore/internal/sizing"
)

// PlanAction is the terminal instruction of one evaluation cycle.
type PlanAction string

const (
	ActionOpen   PlanAction = "OPEN"
	ActionClose  PlanAction = "CLOSE"
	ActionFlip   PlanAction = "FLIP"
	ActionAdd    PlanAction = "ADD"
	ActionReduce PlanAction = "REDUCE"
	ActionHold   PlanAction = "HOLD"
	ActionNone   PlanAction = "NONE"
)

// Config tunes plan assembly.
type Config struct {
	RR              float64 `yaml:"rr"`                // take-profit as a multiple of R
	PostOnly        bool    `yaml:"post_only"`
	MinAddGapPct    float64 `yaml:"min_add_gap_pct"`   // add only when target exceeds held size by this fraction
	MaxStepPct      float64 `yaml:"max_step_pct"`      // per-step add/reduce cap as fraction of target/held
	ReduceBufferPct float64 `yaml:"reduce_buffer_pct"` // tolerated oversize before reducing
	DecayCloseScore float64 `yaml:"decay_close_score"` // same-side score below this closes the position
}

// DefaultConfig returns the production plan parameters.
func DefaultConfig() Config {
	return Config{
		RR:              1.8,
		PostOnly:        false,
		MinAddGapPct:    0.10,
		MaxStepPct:      0.50,
		ReduceBufferPct: 0.15,
		DecayCloseScore: 40.0,
	}
}

// TradePlan is the executable order intent handed to the external executor.
type TradePlan struct {
	ID         string           `json:"id"`
	Action     PlanAction       `json:"action"`
	Symbol     string           `json:"symbol"`
	Side       domain.Side      `json:"side,omitempty"`       // open side for OPEN/FLIP/ADD
	CloseSide  domain.Side      `json:"close_side,omitempty"` // side being closed for CLOSE/FLIP/REDUCE
	Quantity   float64          `json:"quantity"`
	Kind       domain.OrderKind `json:"kind"`
	LimitPrice float64          `json:"limit_price,omitempty"`
	StopPrice  float64          `json:"stop_price,omitempty"`
	TakeProfit float64          `json:"take_profit,omitempty"`
	ReduceOnly bool             `json:"reduce_only"`
	PostOnly   bool             `json:"post_only"`
	Reasons    []string         `json:"reasons"`
}

// Assembler turns the cycle's signal, policy, and position state into a plan.
type Assembler struct {
	cfg   Config
	sizer *sizing.Sizer
}

// NewAssembler creates a trade-plan assembler.
func NewAssembler(cfg Config, sizer *sizing.Sizer) *Assembler {
	return &Assembler{cfg: cfg, sizer: sizer}
}

// Assemble runs the plan state machine. Every branch carries rationale built
// from the upstream reasons for auditability; a rejected cycle is a plan with
// action NONE or HOLD and reasons, never an error.
func (a *Assembler) Assemble(
	symbol string,
	snap signal.Snapshot,
	dec gates.Decision,
	pos *domain.Position,
	equity float64,
	asset domain.AssetInfo,
) TradePlan {
	if pos.Open() {
		return a.assembleHeld(symbol, snap, dec, pos, equity, asset)
	}
	return a.assembleFlat(symbol, snap, dec, equity, asset)
}

func (a *Assembler) assembleFlat(symbol string, snap signal.Snapshot, dec gates.Decision, equity float64, asset domain.AssetInfo) TradePlan {
	if !dec.AllowNewEntry {
		return a.none(symbol, "policy disallows new entry")
	}
	// Tradable but unconfirmed: the signal did not clear the entry bar, so the
	// cycle waits rather than concluding nothing is there.
	if !snap.EntryOK {
		return a.hold(symbol, append([]string{"signal not ready for entry"}, snap.Reasons...))
	}
	if snap.Side == domain.SideNone {
		return a.none(symbol, "no directional side")
	}

	sized := a.sizer.Size(equity, snap, dec, asset)
	if sized.Quantity <= 0 {
		return a.noneWith(symbol, append(snap.Reasons, sized.Reasons...))
	}

	return TradePlan{
		ID:         uuid.NewString(),
		Action:     ActionOpen,
		Symbol:     symbol,
		Side:       snap.Side,
		Quantity:   sized.Quantity,
		Kind:       sized.Kind,
		LimitPrice: sized.LimitPrice,
		StopPrice:  snap.StopPrice,
		TakeProfit: a.takeProfit(snap),
		PostOnly:   a.cfg.PostOnly,
		Reasons:    append(snap.Reasons, sized.Reasons...),
	}
}

func (a *Assembler) assembleHeld(symbol string, snap signal.Snapshot, dec gates.Decision, pos *domain.Position, equity float64, asset domain.AssetInfo) TradePlan {
	// Opposite signal with a confirmed reversal closes and re-opens in one
	// combined intent.
	if snap.FlipOK && snap.Side != domain.SideNone && snap.Side != pos.Side && dec.AllowNewEntry {
		sized := a.sizer.Size(equity, snap, dec, asset)
		if sized.Quantity > 0 {
			reasons := append([]string{fmt.Sprintf("flip: close %s %.4f then open %s", pos.Side, pos.Size, snap.Side)}, snap.Reasons...)
			return TradePlan{
				ID:         uuid.NewString(),
				Action:     ActionFlip,
				Symbol:     symbol,
				Side:       snap.Side,
				CloseSide:  pos.Side,
				Quantity:   sized.Quantity,
				Kind:       sized.Kind,
				LimitPrice: sized.LimitPrice,
				StopPrice:  snap.StopPrice,
				TakeProfit: a.takeProfit(snap),
				PostOnly:   a.cfg.PostOnly,
				Reasons:    reasons,
			}
		}
	}

	if snap.ExitOK {
		return TradePlan{
			ID:         uuid.NewString(),
			Action:     ActionClose,
			Symbol:     symbol,
			CloseSide:  pos.Side,
			Quantity:   pos.Size,
			Kind:       domain.OrderMarket,
			ReduceOnly: true,
			Reasons:    append([]string{"exit condition met"}, snap.Reasons...),
		}
	}

	// Same-side score decay: the thesis is gone even without a hard exit.
	if snap.Side == pos.Side && snap.Score < a.cfg.DecayCloseScore {
		return TradePlan{
			ID:         uuid.NewString(),
			Action:     ActionClose,
			Symbol:     symbol,
			CloseSide:  pos.Side,
			Quantity:   pos.Size,
			Kind:       domain.OrderMarket,
			ReduceOnly: true,
			Reasons: append([]string{
				fmt.Sprintf("score decayed (%.1f < %.1f)", snap.Score, a.cfg.DecayCloseScore),
			}, snap.Reasons...),
		}
	}

	// Same-side improvement: resize toward the target within step limits.
	if snap.Side == pos.Side && snap.EntryOK && dec.AllowNewEntry {
		sized := a.sizer.Size(equity, snap, dec, asset)
		target := sized.Quantity
		if target > 0 {
			if gap := target - pos.Size; gap > a.cfg.MinAddGapPct*target {
				step := gap
				if limit := a.cfg.MaxStepPct * target; step > limit {
					step = limit
				}
				step = domain.RoundDown(step, asset.SizeDecimals)
				if step > 0 {
					return TradePlan{
						ID:         uuid.NewString(),
						Action:     ActionAdd,
						Symbol:     symbol,
						Side:       snap.Side,
						Quantity:   step,
						Kind:       sized.Kind,
						LimitPrice: sized.LimitPrice,
						StopPrice:  snap.StopPrice,
						PostOnly:   a.cfg.PostOnly,
						Reasons: append([]string{
							fmt.Sprintf("add: target %.4f vs held %.4f", target, pos.Size),
						}, snap.Reasons...),
					}
				}
			}
			if pos.Size > target*(1+a.cfg.ReduceBufferPct) {
				step := pos.Size - target
				if limit := a.cfg.MaxStepPct * pos.Size; step > limit {
					step = limit
				}
				step = domain.RoundDown(step, asset.SizeDecimals)
				if step > 0 {
					return TradePlan{
						ID:         uuid.NewString(),
						Action:     ActionReduce,
						Symbol:     symbol,
						CloseSide:  pos.Side,
						Quantity:   step,
						Kind:       domain.OrderMarket,
						ReduceOnly: true,
						Reasons: append([]string{
							fmt.Sprintf("reduce: held %.4f above target %.4f", pos.Size, target),
						}, snap.Reasons...),
					}
				}
			}
		}
	}

	return a.hold(symbol, append([]string{"no actionable change"}, snap.Reasons...))
}

func (a *Assembler) takeProfit(snap signal.Snapshot) float64 {
	if !snap.HasStop || snap.RefPrice <= 0 {
		return 0
	}
	r := snap.RefPrice - snap.StopPrice
	if r < 0 {
		r = -r
	}
	if snap.Side == domain.SideLong {
		return snap.RefPrice + a.cfg.RR*r
	}
	return snap.RefPrice - a.cfg.RR*r
}

func (a *Assembler) hold(symbol string, reasons []string) TradePlan {
	return TradePlan{
		ID:      uuid.NewString(),
		Action:  ActionHold,
		Symbol:  symbol,
		Kind:    domain.OrderMarket,
		Reasons: reasons,
	}
}

func (a *Assembler) none(symbol, reason string) TradePlan {
	return a.noneWith(symbol, []string{reason})
}

func (a *Assembler) noneWith(symbol string, reasons []string) TradePlan {
	return TradePlan{
		ID:      uuid.NewString(),
		Action:  ActionNone,
		Symbol:  symbol,
		Kind:    domain.OrderMarket,
		Reasons: reasons,
	}
}
