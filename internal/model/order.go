package model

import "time"

// Side is the direction of a venue order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SymbolRules holds the venue trading constraints for one symbol.
type SymbolRules struct {
	Symbol      string  `json:"symbol"`
	LotStep     float64 `json:"lot_step"`     // minimum quantity increment
	MinNotional float64 `json:"min_notional"` // minimum price*qty for an order
}

// OrderIntent is a sized, validated order the gateway is about to submit.
// Qty is already rounded down to the symbol's lot step.
type OrderIntent struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Qty      float64 `json:"qty"`
	RefPrice float64 `json:"ref_price"` // reference price used for the notional check
	Notional float64 `json:"notional"`
}

// OrderResult is the normalized outcome of a submitted market order.
type OrderResult struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Qty       float64   `json:"qty"`
	AvgPrice  float64   `json:"avg_price"` // fill price reported by the venue (0 if unknown)
	Submitted time.Time `json:"submitted"`
}
