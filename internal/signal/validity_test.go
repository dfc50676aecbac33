package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/gates"
)

// riskTable builds n identical bars and lets the caller override the last one.
func riskTable(n int, base map[string]float64, last map[string]float64) *domain.Table {
	tbl := &domain.Table{}
	for i := 0; i < n; i++ {
		fields := make(map[string]float64, len(base))
		for k, v := range base {
			fields[k] = v
		}
		if i == n-1 {
			for k, v := range last {
				fields[k] = v
			}
		}
		tbl.Rows = append(tbl.Rows, domain.Row{Fields: fields})
	}
	return tbl
}

func baseBars() map[string]float64 {
	return map[string]float64{
		domain.FieldOpen:    99.5,
		domain.FieldHigh:    100.5,
		domain.FieldLow:     99.0,
		domain.FieldClose:   100.0,
		domain.FieldEMAFast: 100.0,
		domain.FieldEMASlow: 98.0,
		domain.FieldATR:     1.0,
	}
}

func TestValidityFlatPullbackStop(t *testing.T) {
	fast := riskTable(40, baseBars(), map[string]float64{domain.FieldClose: 100.2})
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	trg := TriggerResult{EntryOK: true, RefPrice: 100.2, Strength: 0.58}

	got := ComputeValidity(fast, nil, dir, trg, gates.Decision{}, nil, DefaultValidityConfig())

	assert.True(t, got.HasStop)
	// ATR stop 100.2 - 1.55 = 98.65; swing stop 99.0 - 0.10 = 98.90.
	// The tighter (higher) structural stop wins for a long.
	assert.InDelta(t, 98.90, got.StopPrice, 1e-9)
	assert.InDelta(t, 0.70, got.Quality, 1e-9)
	assert.False(t, got.ExitOK)
	assert.False(t, got.FlipOK)
}

func TestValidityFlatBreakoutStopUsesLevel(t *testing.T) {
	fast := riskTable(40, baseBars(), map[string]float64{domain.FieldClose: 100.6})
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	trg := TriggerResult{EntryOK: true, RefPrice: 100.55, Strength: 0.60, IsBreakout: true}

	got := ComputeValidity(fast, nil, dir, trg, gates.Decision{}, nil, DefaultValidityConfig())

	// ATR stop 100.55 - 1.55 = 99.00; structural
	// max(level-0.25, fastAvg-0.25) = max(100.30, 99.75) = 100.30.
	assert.InDelta(t, 100.30, got.StopPrice, 1e-9)
}

func TestValidityFlatNoEntrySkips(t *testing.T) {
	fast := riskTable(40, baseBars(), nil)
	dir := DirectionResult{Side: domain.SideLong}
	got := ComputeValidity(fast, nil, dir, TriggerResult{}, gates.Decision{}, nil, DefaultValidityConfig())

	assert.False(t, got.HasStop)
	assert.Zero(t, got.Quality)
}

func TestValidityFlatAdverseDriftPenalty(t *testing.T) {
	fast := riskTable(40, baseBars(), map[string]float64{domain.FieldClose: 100.2})
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	trg := TriggerResult{EntryOK: true, RefPrice: 100.2, Strength: 0.58}

	// Fastest timeframe drifting hard against the long: close fell 0.5 over
	// the last 3 bars with ATR 0.2 (limit is 0.35 * 0.2 = 0.07).
	fastest := &domain.Table{}
	for i := 0; i < 10; i++ {
		c := 100.5
		if i >= 7 {
			c = 100.5 - 0.25*float64(i-7) // 100.5, 100.25, 100.0
		}
		fastest.Rows = append(fastest.Rows, domain.Row{Fields: map[string]float64{
			domain.FieldClose: c,
			domain.FieldATR:   0.2,
		}})
	}

	got := ComputeValidity(fast, fastest, dir, trg, gates.Decision{}, nil, DefaultValidityConfig())
	assert.InDelta(t, 0.40, got.Quality, 1e-9)
	assert.NotEmpty(t, got.Reasons)
}

func TestValidityHeldTrailNeverLoosens(t *testing.T) {
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	pos := &domain.Position{Symbol: "X", Side: domain.SideLong, Size: 1, EntryPrice: 100, StopPrice: 99.5}

	// Healthy bar first: the trail advances past the old stop.
	up := riskTable(40, baseBars(), map[string]float64{
		domain.FieldClose:   101.0,
		domain.FieldEMAFast: 100.0,
	})
	first := ComputeValidity(up, nil, dir, TriggerResult{}, gates.Decision{}, pos, DefaultValidityConfig())
	// max(fastAvg-0.25, close-1.35) = max(99.75, 99.65) -> above the old 99.5.
	assert.InDelta(t, 99.75, first.StopPrice, 1e-9)

	// Then a weaker bar: the recomputed trail is lower, the stop holds.
	pos.StopPrice = first.StopPrice
	down := riskTable(40, baseBars(), map[string]float64{
		domain.FieldClose:   100.2,
		domain.FieldEMAFast: 99.8,
	})
	second := ComputeValidity(down, nil, dir, TriggerResult{}, gates.Decision{}, pos, DefaultValidityConfig())
	assert.InDelta(t, 99.75, second.StopPrice, 1e-9, "trailing stop must never loosen")
}

func TestValidityHeldExitOnAverageCross(t *testing.T) {
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	pos := &domain.Position{Symbol: "X", Side: domain.SideLong, Size: 1, EntryPrice: 100}

	crossed := riskTable(40, baseBars(), map[string]float64{
		domain.FieldEMAFast: 97.5, // below the 98.0 slow average
		domain.FieldClose:   100.0,
	})
	got := ComputeValidity(crossed, nil, dir, TriggerResult{}, gates.Decision{}, pos, DefaultValidityConfig())
	assert.True(t, got.ExitOK)
}

func TestValidityHeldExitOnBreakdown(t *testing.T) {
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	pos := &domain.Position{Symbol: "X", Side: domain.SideLong, Size: 1, EntryPrice: 100}

	// Close collapses well under the trail built off the fast average.
	broke := riskTable(40, baseBars(), map[string]float64{
		domain.FieldClose: 98.9,
		domain.FieldLow:   98.8,
	})
	got := ComputeValidity(broke, nil, dir, TriggerResult{}, gates.Decision{}, pos, DefaultValidityConfig())
	assert.True(t, got.ExitOK)
}

func TestValidityHeldHealthyPositionNoExit(t *testing.T) {
	dir := DirectionResult{Side: domain.SideLong, Confidence: 0.7}
	pos := &domain.Position{Symbol: "X", Side: domain.SideLong, Size: 1, EntryPrice: 100}

	healthy := riskTable(40, baseBars(), map[string]float64{domain.FieldClose: 101.0})
	got := ComputeValidity(healthy, nil, dir, TriggerResult{}, gates.Decision{}, pos, DefaultValidityConfig())
	assert.False(t, got.ExitOK)
	assert.False(t, got.FlipOK)
	assert.InDelta(t, 0.65, got.Quality, 1e-9)
}

func TestValidityHeldFlipRequiresOppositeBreak(t *testing.T) {
	dir := DirectionResult{Side: domain.SideShort, Confidence: 0.7}
	pos := &domain.Position{Symbol: "X", Side: domain.SideLong, Size: 1, EntryPrice: 100}

	base := baseBars()
	// Bear structure: fast under slow, prior close above the padded 20-bar
	// low, current close smashing through it.
	bars := riskTable(40, base, nil)
	for i := range bars.Rows {
		bars.Rows[i].Fields[domain.FieldEMAFast] = 97.0
		bars.Rows[i].Fields[domain.FieldEMASlow] = 98.0
	}
	last := bars.Rows[len(bars.Rows)-1].Fields
	last[domain.FieldClose] = 98.5 // ll 99.0 - 0.15 pad = 98.85
	last[domain.FieldLow] = 98.4

	got := ComputeValidity(bars, nil, dir, TriggerResult{}, gates.Decision{AllowFlip: true}, pos, DefaultValidityConfig())
	assert.True(t, got.ExitOK, "avg cross and swing break force the exit")
	assert.True(t, got.FlipOK)

	// Same bars without flip permission (and not strict): no flip.
	noFlip := ComputeValidity(bars, nil, dir, TriggerResult{}, gates.Decision{}, pos, DefaultValidityConfig())
	assert.True(t, noFlip.ExitOK)
	assert.False(t, noFlip.FlipOK)
}
