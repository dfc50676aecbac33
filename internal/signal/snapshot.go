package signal

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
)

// ScoreConfig tunes the composite scoring and entry acceptance.
type ScoreConfig struct {
	DirectionWeight float64       `yaml:"direction_weight"`
	TriggerWeight   float64       `yaml:"trigger_weight"`
	QualityWeight   float64       `yaml:"quality_weight"`
	TrendPenalty    float64       `yaml:"trend_penalty"` // multiplier when trend strategies are gated off
	Threshold       float64       `yaml:"threshold"`
	ThresholdStrict float64       `yaml:"threshold_strict"`
	TTL             time.Duration `yaml:"ttl"`
	TTLStrict       time.Duration `yaml:"ttl_strict"`
}

// DefaultScoreConfig returns the production scoring weights.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		DirectionWeight: 40,
		TriggerWeight:   40,
		QualityWeight:   20,
		TrendPenalty:    0.70,
		Threshold:       70,
		ThresholdStrict: 80,
		TTL:             120 * time.Second,
		TTLStrict:       45 * time.Second,
	}
}

// Snapshot is the fused, scored signal for one cycle. The TTL is advisory:
// the engine never expires anything itself; the caller enforces staleness.
type Snapshot struct {
	ID        string        `json:"id"`
	Side      domain.Side   `json:"side"`
	EntryOK   bool          `json:"entry_ok"`
	ExitOK    bool          `json:"exit_ok"`
	FlipOK    bool          `json:"flip_ok"`
	RefPrice  float64       `json:"ref_price"`
	StopPrice float64       `json:"stop_price"`
	HasStop   bool          `json:"has_stop"`
	Score     float64       `json:"score"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"created_at"`
	Reasons   []string      `json:"reasons"`
}

// Score combines the three layers into one composite: direction and trigger
// carry equal weight, quality the remainder, with a flat penalty when the
// policy gate disallows trend strategies. A trigger that did not fire
// contributes zero regardless of its strength.
func Score(dir DirectionResult, trg TriggerResult, val ValidityResult, dec gates.Decision, cfg ScoreConfig) (float64, []string) {
	var reasons []string

	score := cfg.DirectionWeight * dir.Confidence
	reasons = append(reasons, dir.Reasons...)

	if trg.EntryOK {
		score += cfg.TriggerWeight * trg.Strength
	}
	reasons = append(reasons, trg.Reasons...)

	score += cfg.QualityWeight * val.Quality
	reasons = append(reasons, val.Reasons...)

	if !dec.AllowTrend {
		score *= cfg.TrendPenalty
		reasons = append(reasons, "penalty: trend not allowed")
	}
	if dec.StrictEntry {
		reasons = append(reasons, "strict entry enabled")
	}
	return score, reasons
}

// Pipeline runs the three signal layers and the scorer for one cycle.
type Pipeline struct {
	dirCfg   DirectionConfig
	trgCfg   TriggerConfig
	valCfg   ValidityConfig
	scoreCfg ScoreConfig
}

// NewPipeline creates the signal pipeline.
func NewPipeline(dirCfg DirectionConfig, trgCfg TriggerConfig, valCfg ValidityConfig, scoreCfg ScoreConfig) *Pipeline {
	return &Pipeline{dirCfg: dirCfg, trgCfg: trgCfg, valCfg: valCfg, scoreCfg: scoreCfg}
}

// Build evaluates direction on the slow table, the trigger on the fast table,
// and validity on fast+fastest, then scores the composite and applies the
// entry threshold.
func (p *Pipeline) Build(
	slow, fast, fastest *domain.Table,
	dec gates.Decision,
	pos *domain.Position,
	now time.Time,
) Snapshot {
	dir := ComputeDirection(slow, dec, p.dirCfg)
	trg := ComputeTrigger(fast, dir, dec, p.trgCfg)
	val := ComputeValidity(fast, fastest, dir, trg, dec, pos, p.valCfg)

	score, reasons := Score(dir, trg, val, dec, p.scoreCfg)

	threshold := p.scoreCfg.Threshold
	ttl := p.scoreCfg.TTL
	if dec.StrictEntry {
		threshold = p.scoreCfg.ThresholdStrict
		ttl = p.scoreCfg.TTLStrict
	}

	entryOK := trg.EntryOK && score >= threshold && dir.Side != domain.SideNone

	return Snapshot{
		ID:        uuid.NewString(),
		Side:      dir.Side,
		EntryOK:   entryOK,
		ExitOK:    val.ExitOK,
		FlipOK:    val.FlipOK,
		RefPrice:  trg.RefPrice,
		StopPrice: val.StopPrice,
		HasStop:   val.HasStop,
		Score:     score,
		TTL:       ttl,
		CreatedAt: now,
		Reasons:   reasons,
	}
}
