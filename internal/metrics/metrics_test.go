package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistriesAreIsolated(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewRegistry()
	b := NewRegistry()
	a.RecordPlan("BTC", "OPEN")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.PlansTotal.WithLabelValues("BTC", "OPEN")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PlansTotal.WithLabelValues("BTC", "OPEN")))
}

func TestCycleTimerCounts(t *testing.T) {
	r := NewRegistry()

	timer := r.StartCycle("BTC")
	timer.Stop("OK")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.CyclesTotal.WithLabelValues("BTC", "OK")))
}

func TestRegimeSwitchUpdatesGauges(t *testing.T) {
	r := NewRegistry()

	r.RecordRegimeSwitch("MIXED", "TREND")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RegimeSwitches.WithLabelValues("MIXED", "TREND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveRegime.WithLabelValues("TREND")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveRegime.WithLabelValues("MIXED")))

	r.RecordRegimeSwitch("TREND", "RANGE")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveRegime.WithLabelValues("TREND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveRegime.WithLabelValues("RANGE")))
}

func TestCacheCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordCacheHit("signal")
	r.RecordCacheHit("signal")
	r.RecordCacheMiss("signal")

	require.Equal(t, 2.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("signal")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.CacheMisses.WithLabelValues("signal")))
}
