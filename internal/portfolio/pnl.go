package portfolio

import (
	"sync"
	"time"

	"trendbotv1/internal/model"
)

// Trade is one completed fill for P&L accounting.
type Trade struct {
	Symbol    string     `json:"symbol"`
	Side      model.Side `json:"side"`
	Qty       float64    `json:"qty"`
	Price     float64    `json:"price"`
	Timestamp time.Time  `json:"timestamp"`
}

// PnLTracker tracks realized P&L from fills.
//
// Cost basis is kept per symbol as a signed quantity (positive long,
// negative short), so shorts realize profit when bought back lower.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []Trade

	realized  float64
	costBasis map[string]costEntry
}

type costEntry struct {
	Qty      float64 // signed
	AvgPrice float64
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades:    make([]Trade, 0, 500),
		costBasis: make(map[string]costEntry),
	}
}

// RecordFill records a fill and returns the P&L realized by it (zero when
// the fill opens or extends a position).
func (p *PnLTracker) RecordFill(res model.OrderResult) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, Trade{
		Symbol:    res.Symbol,
		Side:      res.Side,
		Qty:       res.Qty,
		Price:     res.AvgPrice,
		Timestamp: res.Submitted,
	})

	signed := res.Qty
	if res.Side == model.SideSell {
		signed = -res.Qty
	}

	entry := p.costBasis[res.Symbol]
	var realized float64

	switch {
	case entry.Qty == 0 || sameSign(entry.Qty, signed):
		// Opening or extending: weighted average entry.
		totalCost := entry.AvgPrice*abs(entry.Qty) + res.AvgPrice*abs(signed)
		entry.Qty += signed
		if entry.Qty != 0 {
			entry.AvgPrice = totalCost / abs(entry.Qty)
		}
	default:
		// Reducing or flipping: realize P&L on the closed quantity.
		closeQty := abs(signed)
		if closeQty > abs(entry.Qty) {
			closeQty = abs(entry.Qty)
		}
		if entry.Qty > 0 {
			realized = (res.AvgPrice - entry.AvgPrice) * closeQty
		} else {
			realized = (entry.AvgPrice - res.AvgPrice) * closeQty
		}
		p.realized += realized

		entry.Qty += signed
		if entry.Qty == 0 {
			entry.AvgPrice = 0
		} else if !sameSign(entry.Qty, -signed) {
			// Flipped through flat: remainder opens at the fill price.
			entry.AvgPrice = res.AvgPrice
		}
	}

	p.costBasis[res.Symbol] = entry
	return realized
}

// Realized returns cumulative realized P&L.
func (p *PnLTracker) Realized() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Trades returns a snapshot of all recorded trades.
func (p *PnLTracker) Trades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
