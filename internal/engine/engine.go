package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
	"github.com/marketflow/perpcore/internal/metrics"
	"github.com/marketflow/perpcore/internal/plan"
	"github.com/marketflow/perpcore/internal/regime"
	"github.com/marketflow/perpcore/internal/signal"
	"github.com/marketflow/perpcore/internal/sizing"
)

// Config aggregates the per-layer configurations of one engine instance.
type Config struct {
	Regime    regime.Config          `yaml:"regime"`
	Vol       regime.VolConfig       `yaml:"volatility"`
	Slope     regime.SlopeConfig     `yaml:"slope"`
	Gate      gates.Config           `yaml:"gate"`
	Direction signal.DirectionConfig `yaml:"direction"`
	Trigger   signal.TriggerConfig   `yaml:"trigger"`
	Validity  signal.ValidityConfig  `yaml:"validity"`
	Score     signal.ScoreConfig     `yaml:"score"`
	Sizing    sizing.Config          `yaml:"sizing"`
	Plan      plan.Config            `yaml:"plan"`
}

// DefaultConfig returns the full production configuration.
func DefaultConfig() Config {
	return Config{
		Regime:    regime.DefaultConfig(),
		Vol:       regime.DefaultVolConfig(),
		Slope:     regime.DefaultSlopeConfig(),
		Gate:      gates.DefaultConfig(),
		Direction: signal.DefaultDirectionConfig(),
		Trigger:   signal.DefaultTriggerConfig(),
		Validity:  signal.DefaultValidityConfig(),
		Score:     signal.DefaultScoreConfig(),
		Sizing:    sizing.DefaultConfig(),
		Plan:      plan.DefaultConfig(),
	}
}

// Inputs is everything one evaluation cycle consumes. Tables are ordered
// slow to fastest; the engine never fetches data itself.
type Inputs struct {
	Symbol  string
	Slow    *domain.Table // environment timeframe: regime, volatility, bias
	Fast    *domain.Table // trigger timeframe
	Fastest *domain.Table // drift-check timeframe

	Book     *domain.OrderBookSnapshot
	Position *domain.Position
	Equity   float64
	Asset    domain.AssetInfo

	PrevRegime regime.Regime
	Now        time.Time
}

// Result is the full decision record of one cycle.
type Result struct {
	Symbol        string            `json:"symbol"`
	Regime        regime.Regime     `json:"regime"`
	TrendStrength float64           `json:"trend_strength"`
	Vol           regime.VolLevel   `json:"vol"`
	VolDetail     *regime.VolDetail `json:"vol_detail,omitempty"`
	Decision      gates.Decision    `json:"decision"`
	Signal        signal.Snapshot   `json:"signal"`
	Plan          plan.TradePlan    `json:"plan"`
}

// Engine composes the layers of one evaluation cycle: environment
// classification, policy gate, signal pipeline, plan assembly. It holds no
// market state; the regime label travels through Inputs and Result.
type Engine struct {
	classifier *regime.Classifier
	gate       *gates.Gate
	pipeline   *signal.Pipeline
	assembler  *plan.Assembler

	volCfg   regime.VolConfig
	slopeCfg regime.SlopeConfig

	metrics *metrics.Registry // nil disables instrumentation
}

// New creates an engine from config. metrics may be nil.
func New(cfg Config, m *metrics.Registry) *Engine {
	return &Engine{
		classifier: regime.NewClassifier(cfg.Regime),
		gate:       gates.NewGate(cfg.Gate),
		pipeline:   signal.NewPipeline(cfg.Direction, cfg.Trigger, cfg.Validity, cfg.Score),
		assembler:  plan.NewAssembler(cfg.Plan, sizing.NewSizer(cfg.Sizing)),
		volCfg:     cfg.Vol,
		slopeCfg:   cfg.Slope,
		metrics:    m,
	}
}

// Evaluate runs one full cycle. It is pure with respect to its inputs and
// always returns a Result; a blocked or empty cycle surfaces as a plan with
// action NONE or HOLD, never as an error.
func (e *Engine) Evaluate(in Inputs) Result {
	var timer *metrics.CycleTimer
	if e.metrics != nil {
		timer = e.metrics.StartCycle(in.Symbol)
	}

	label, strength, strengthOK := e.classifier.Classify(in.Slow, in.PrevRegime)
	vol, volDetail := regime.ClassifyVolatility(in.Slow, e.volCfg)
	timing := regime.ClassifyTiming(in.Slow, e.slopeCfg)

	if e.metrics != nil && label != in.PrevRegime {
		e.metrics.RecordRegimeSwitch(string(in.PrevRegime), string(label))
	}

	dec := e.gate.Evaluate(gates.Inputs{
		Regime:        label,
		TrendStrength: strength,
		StrengthOK:    strengthOK,
		Vol:           vol,
		Book:          in.Book,
		Timing:        timing,
	})

	snap := e.pipeline.Build(in.Slow, in.Fast, in.Fastest, dec, in.Position, in.Now)
	tradePlan := e.assembler.Assemble(in.Symbol, snap, dec, in.Position, in.Equity, in.Asset)

	if e.metrics != nil {
		e.metrics.CompositeScore.Set(snap.Score)
		e.metrics.RiskScale.Set(dec.RiskScale)
		e.metrics.RecordPlan(in.Symbol, string(tradePlan.Action))
		timer.Stop(string(dec.Action))
	}

	log.Info().
		Str("symbol", in.Symbol).
		Str("regime", string(label)).
		Float64("trend_strength", strength).
		Str("vol", string(vol)).
		Str("action", string(dec.Action)).
		Float64("risk_scale", dec.RiskScale).
		Str("side", string(snap.Side)).
		Float64("score", snap.Score).
		Str("plan", string(tradePlan.Action)).
		Msg("cycle evaluated")

	return Result{
		Symbol:        in.Symbol,
		Regime:        label,
		TrendStrength: strength,
		Vol:           vol,
		VolDetail:     volDetail,
		Decision:      dec,
		Signal:        snap,
		Plan:          tradePlan,
	}
}
