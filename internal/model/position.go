package model

import "time"

// PositionSide enumerates the three position states of a lane.
type PositionSide string

const (
	PositionFlat  PositionSide = "FLAT"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is the tracked position of one symbol.
// EntryPrice and Qty are non-zero iff Side != PositionFlat.
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	Qty        float64      `json:"qty"` // always positive; Side carries direction
	OpenedAt   time.Time    `json:"opened_at"`
}

// Open reports whether a position is held.
func (p Position) Open() bool {
	return p.Side == PositionLong || p.Side == PositionShort
}

// UnrealizedPnL computes the unrealized profit/loss at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	switch p.Side {
	case PositionLong:
		return (price - p.EntryPrice) * p.Qty
	case PositionShort:
		return (p.EntryPrice - price) * p.Qty
	default:
		return 0
	}
}
