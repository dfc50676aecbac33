package domain

import "math"

// Side is the direction of a bias, trigger, or position. SideNone means the
// structure exists but the current location/momentum does not support acting.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
)

// Opposite returns the reverse trading side. SideNone has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// Action is the top-level permission emitted by the policy gate.
type Action string

const (
	// ActionStopAll blocks new entries and adds; managing existing risk
	// (stops, reduces, closes) stays allowed.
	ActionStopAll Action = "STOP_ALL"
	// ActionNoNewEntry blocks new entries but position management continues.
	ActionNoNewEntry Action = "NO_NEW_ENTRY"
	ActionOK         Action = "OK"
)

// OrderKind selects the entry order style on a trade plan.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// OrderBookSnapshot is a best bid/ask microstructure snapshot supplied by the
// collaborator layer. Depth values are in quote currency.
type OrderBookSnapshot struct {
	Symbol       string  `json:"symbol"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	SpreadBps    float64 `json:"spread_bps"`
	BidDepthUSD  float64 `json:"bid_depth_usd"`
	AskDepthUSD  float64 `json:"ask_depth_usd"`
	Imbalance    float64 `json:"imbalance"` // -1.0 (sell pressure) .. +1.0 (buy pressure)
	TimestampMs  int64   `json:"timestamp_ms"`
}

// Depth returns combined two-sided depth in quote currency.
func (ob *OrderBookSnapshot) Depth() float64 {
	return ob.BidDepthUSD + ob.AskDepthUSD
}

// SpreadBps computes the bid/ask spread in basis points of the mid price.
// Returns NaN for a crossed or empty book.
func SpreadBps(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || bid >= ask {
		return math.NaN()
	}
	mid := (bid + ask) / 2.0
	return (ask - bid) / mid * 10000.0
}

// Position is the caller-owned open position state. The engine only reads it.
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	StopPrice  float64 `json:"stop_price"` // 0 means no protective stop resting
}

// Open reports whether the position carries live exposure.
func (p *Position) Open() bool {
	return p != nil && p.Side != SideNone && p.Size > 0
}

// AssetInfo is the contract metadata needed for sizing and rounding.
type AssetInfo struct {
	Symbol       string  `json:"symbol"`
	SizeDecimals int     `json:"size_decimals"`
	MaxLeverage  float64 `json:"max_leverage"`
}
