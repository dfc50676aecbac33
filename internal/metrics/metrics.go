package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the decision engine. It carries
// its own prometheus.Registry so tests can create isolated instances without
// default-registry collisions.
type Registry struct {
	Reg *prometheus.Registry

	CycleDuration *prometheus.HistogramVec
	CyclesTotal   *prometheus.CounterVec
	PlansTotal    *prometheus.CounterVec

	CompositeScore prometheus.Gauge
	RiskScale      prometheus.Gauge

	RegimeSwitches *prometheus.CounterVec
	ActiveRegime   *prometheus.GaugeVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewRegistry creates and registers all engine metrics.
func NewRegistry() *Registry {
	r := &Registry{
		Reg: prometheus.NewRegistry(),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpcore_cycle_duration_seconds",
				Help:    "Duration of one full evaluation cycle in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"symbol"},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcore_cycles_total",
				Help: "Total evaluation cycles by policy action",
			},
			[]string{"symbol", "action"},
		),
		PlansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcore_plans_total",
				Help: "Total trade plans emitted by plan action",
			},
			[]string{"symbol", "plan_action"},
		),
		CompositeScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "perpcore_composite_score",
				Help: "Composite signal score of the most recent cycle (0-100)",
			},
		),
		RiskScale: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "perpcore_risk_scale",
				Help: "Risk scale of the most recent policy decision",
			},
		),
		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcore_regime_switches_total",
				Help: "Regime transitions by from/to label",
			},
			[]string{"from", "to"},
		),
		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perpcore_active_regime",
				Help: "One-hot gauge of the current regime label",
			},
			[]string{"regime"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcore_cache_hits_total",
				Help: "Signal cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcore_cache_misses_total",
				Help: "Signal cache misses by cache type",
			},
			[]string{"cache_type"},
		),
	}

	r.Reg.MustRegister(
		r.CycleDuration,
		r.CyclesTotal,
		r.PlansTotal,
		r.CompositeScore,
		r.RiskScale,
		r.RegimeSwitches,
		r.ActiveRegime,
		r.CacheHits,
		r.CacheMisses,
	)
	return r
}

// CycleTimer times one evaluation cycle.
type CycleTimer struct {
	reg    *Registry
	symbol string
	start  time.Time
}

// StartCycle begins timing an evaluation cycle for a symbol.
func (r *Registry) StartCycle(symbol string) *CycleTimer {
	return &CycleTimer{reg: r, symbol: symbol, start: time.Now()}
}

// Stop records the cycle duration and its policy action.
func (t *CycleTimer) Stop(action string) {
	elapsed := time.Since(t.start)
	t.reg.CycleDuration.WithLabelValues(t.symbol).Observe(elapsed.Seconds())
	t.reg.CyclesTotal.WithLabelValues(t.symbol, action).Inc()

	log.Debug().
		Str("symbol", t.symbol).
		Str("action", action).
		Dur("duration", elapsed).
		Msg("cycle completed")
}

// RecordPlan counts an emitted trade plan.
func (r *Registry) RecordPlan(symbol, planAction string) {
	r.PlansTotal.WithLabelValues(symbol, planAction).Inc()
}

// RecordRegimeSwitch records a regime transition and refreshes the one-hot
// regime gauge.
func (r *Registry) RecordRegimeSwitch(from, to string) {
	r.RegimeSwitches.WithLabelValues(from, to).Inc()
	r.SetActiveRegime(to)

	log.Info().
		Str("from", from).
		Str("to", to).
		Msg("regime switch recorded")
}

// SetActiveRegime sets the one-hot regime gauge.
func (r *Registry) SetActiveRegime(current string) {
	for _, label := range []string{"TREND", "RANGE", "MIXED", "UNKNOWN"} {
		v := 0.0
		if label == current {
			v = 1.0
		}
		r.ActiveRegime.WithLabelValues(label).Set(v)
	}
}

// RecordCacheHit counts a cache hit.
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss.
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
}
