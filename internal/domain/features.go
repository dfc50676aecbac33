package domain

import (
	"math"
	"sort"
	"time"
)

// Well-known feature field keys. Indicator computation happens upstream; the
// engine only reads these by name and degrades when a field is absent.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"

	FieldEMAFast  = "ema_20"
	FieldEMASlow  = "ema_50"
	FieldADX      = "adx_14"
	FieldATR      = "atr_14"
	FieldNATR     = "natr_14"
	FieldBBWidth  = "bb_width"
	FieldADXSlope = "adx_slope"
	FieldBBWSlope = "bbw_slope"
	FieldMACDHist = "macd_hist"
	FieldRSI      = "rsi_14"
	FieldOBV      = "obv"
	FieldPOC      = "vp_poc"
	FieldAVWAP    = "avwap"
)

// Row is one closed bar of price plus precomputed indicators. Missing fields
// are simply absent from the map; NaN values count as missing too.
type Row struct {
	Timestamp time.Time          `json:"timestamp"`
	Fields    map[string]float64 `json:"fields"`
}

// Table is an ordered feature series for one timeframe, oldest first.
// It is immutable once handed to the engine.
type Table struct {
	Rows []Row `json:"rows"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Value reads a field at the given offset from the end (0 = latest closed
// bar, 1 = the bar before it). ok is false for absent fields, NaN values, or
// out-of-range offsets.
func (t *Table) Value(field string, offset int) (float64, bool) {
	if t == nil || offset < 0 || offset >= len(t.Rows) {
		return 0, false
	}
	v, present := t.Rows[len(t.Rows)-1-offset].Fields[field]
	if !present || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Column returns all present, non-NaN values of a field in row order.
func (t *Table) Column(field string) []float64 {
	if t == nil {
		return nil
	}
	out := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		if v, present := row.Fields[field]; present && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// WindowMax returns the maximum of a field over the last n rows. When
// excludeLast is set the latest bar is left out (prior-window extremes for
// breakout levels). The window shrinks when fewer rows are available.
func (t *Table) WindowMax(field string, n int, excludeLast bool) (float64, bool) {
	return t.windowExtreme(field, n, excludeLast, true)
}

// WindowMin is the mirror of WindowMax.
func (t *Table) WindowMin(field string, n int, excludeLast bool) (float64, bool) {
	return t.windowExtreme(field, n, excludeLast, false)
}

func (t *Table) windowExtreme(field string, n int, excludeLast, max bool) (float64, bool) {
	if t == nil || n <= 0 {
		return 0, false
	}
	end := len(t.Rows)
	if excludeLast {
		end--
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	found := false
	var ext float64
	for i := start; i < end; i++ {
		v, present := t.Rows[i].Fields[field]
		if !present || math.IsNaN(v) {
			continue
		}
		if !found || (max && v > ext) || (!max && v < ext) {
			ext = v
			found = true
		}
	}
	return ext, found
}

// Percentile computes the q-quantile (0..1) of vals with linear
// interpolation between order statistics.
func Percentile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// StdDev computes the sample standard deviation of vals.
func StdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// RoundDown truncates q to the given number of decimals. Sizing must never
// round exposure up past the risk budget.
func RoundDown(q float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	mult := math.Pow(10, float64(decimals))
	return math.Floor(q*mult) / mult
}
