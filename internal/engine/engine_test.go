package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/metrics"
	"github.com/marketflow/perpcore/internal/plan"
	"github.com/marketflow/perpcore/internal/regime"
)

// slowTable builds an environment timeframe with enough history for every
// classifier: constant trend strength, volatility ramping so the latest bar
// reads high, and a clean bull structure for the bias layer.
func slowTable(n int, strength float64) *domain.Table {
	tbl := &domain.Table{}
	for i := 0; i < n; i++ {
		tbl.Rows = append(tbl.Rows, domain.Row{
			Timestamp: time.Unix(int64(i*3600), 0),
			Fields: map[string]float64{
				domain.FieldClose:    101,
				domain.FieldEMAFast:  100,
				domain.FieldEMASlow:  90,
				domain.FieldADX:      strength,
				domain.FieldNATR:     float64(i + 1),
				domain.FieldBBWidth:  float64(i + 1),
				domain.FieldADXSlope: 0,
				domain.FieldBBWSlope: 0,
			},
		})
	}
	return tbl
}

func fastTable(n int) *domain.Table {
	tbl := &domain.Table{}
	for i := 0; i < n; i++ {
		fields := map[string]float64{
			domain.FieldOpen:    99,
			domain.FieldHigh:    100.2,
			domain.FieldLow:     98.5,
			domain.FieldClose:   99.5,
			domain.FieldEMAFast: 100,
			domain.FieldEMASlow: 95,
			domain.FieldATR:     1.0,
		}
		if i == n-1 {
			fields[domain.FieldOpen] = 99.5
			fields[domain.FieldHigh] = 100.4
			fields[domain.FieldLow] = 99.0
			fields[domain.FieldClose] = 100.2
		}
		tbl.Rows = append(tbl.Rows, domain.Row{Timestamp: time.Unix(int64(i*900), 0), Fields: fields})
	}
	return tbl
}

func goodBook() *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Symbol:      "BTC-USDT-PERP",
		BestBid:     99.975,
		BestAsk:     100.025,
		SpreadBps:   5.0,
		BidDepthUSD: 300_000,
		AskDepthUSD: 280_000,
		Imbalance:   0.1,
	}
}

func TestEvaluateInsufficientHistoryHardStops(t *testing.T) {
	eng := New(DefaultConfig(), nil)

	res := eng.Evaluate(Inputs{
		Symbol:     "BTC-USDT-PERP",
		Slow:       slowTable(20, 30), // far below every window
		Fast:       fastTable(40),
		Book:       goodBook(),
		Equity:     10000,
		Asset:      domain.AssetInfo{Symbol: "BTC-USDT-PERP", SizeDecimals: 3},
		PrevRegime: regime.Unknown,
		Now:        time.Now(),
	})

	assert.Equal(t, regime.Unknown, res.Regime)
	assert.Equal(t, domain.ActionStopAll, res.Decision.Action)
	assert.Equal(t, 0.0, res.Decision.RiskScale)
	assert.Equal(t, plan.ActionNone, res.Plan.Action)
}

func TestEvaluateFullCycleHighVolTrend(t *testing.T) {
	eng := New(DefaultConfig(), nil)

	res := eng.Evaluate(Inputs{
		Symbol:     "BTC-USDT-PERP",
		Slow:       slowTable(220, 30),
		Fast:       fastTable(40),
		Book:       goodBook(),
		Equity:     10000,
		Asset:      domain.AssetInfo{Symbol: "BTC-USDT-PERP", SizeDecimals: 3},
		PrevRegime: regime.Trend,
		Now:        time.Now(),
	})

	// Environment: established trend, volatility ramp reads high on both
	// views, slopes flat.
	assert.Equal(t, regime.Trend, res.Regime)
	assert.Equal(t, 30.0, res.TrendStrength)
	assert.Equal(t, regime.VolHigh, res.Vol)
	require.NotNil(t, res.VolDetail)

	// Policy: tradable, mean reversion off, size cut for high volatility.
	assert.Equal(t, domain.ActionOK, res.Decision.Action)
	assert.True(t, res.Decision.AllowTrend)
	assert.False(t, res.Decision.AllowMean)
	assert.Equal(t, 0.6, res.Decision.RiskScale)

	// Signal: long bias with a confirmed pullback trigger.
	assert.Equal(t, domain.SideLong, res.Signal.Side)
	assert.True(t, res.Signal.HasStop)
	assert.Greater(t, res.Signal.Score, 0.0)

	// Plan: whatever the score decides, the plan must be internally
	// consistent with the snapshot.
	if res.Signal.EntryOK {
		assert.Equal(t, plan.ActionOpen, res.Plan.Action)
		assert.Greater(t, res.Plan.Quantity, 0.0)
	} else {
		assert.Equal(t, plan.ActionHold, res.Plan.Action)
	}
}

func TestEvaluateRecordsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	eng := New(DefaultConfig(), reg)

	eng.Evaluate(Inputs{
		Symbol:     "BTC-USDT-PERP",
		Slow:       slowTable(220, 30),
		Fast:       fastTable(40),
		Book:       goodBook(),
		Equity:     10000,
		Asset:      domain.AssetInfo{Symbol: "BTC-USDT-PERP", SizeDecimals: 3},
		PrevRegime: regime.Mixed, // forces a regime switch record
		Now:        time.Now(),
	})

	families, err := reg.Reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["perpcore_cycles_total"])
	assert.True(t, names["perpcore_plans_total"])
	assert.True(t, names["perpcore_regime_switches_total"])
	assert.True(t, names["perpcore_cycle_duration_seconds"])
}
