// Package portfolio tracks positions, P&L, and exposure.
//
// Each lane owns its instrument's position; the Book is the cross-lane read
// view used by the health endpoint, the risk gate, and the startup reconcile
// against the venue account.
package portfolio

import (
	"sync"

	"trendbotv1/internal/model"
)

// Book tracks all open positions and their latest marks.
type Book struct {
	mu        sync.RWMutex
	positions map[string]model.Position
	marks     map[string]float64 // latest reference price per symbol
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{
		positions: make(map[string]model.Position),
		marks:     make(map[string]float64),
	}
}

// Set records the position for its symbol. A flat position clears the entry.
func (b *Book) Set(pos model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !pos.Open() {
		delete(b.positions, pos.Symbol)
		return
	}
	b.positions[pos.Symbol] = pos
}

// Clear removes the position for symbol.
func (b *Book) Clear(symbol string) {
	b.mu.Lock()
	delete(b.positions, symbol)
	b.mu.Unlock()
}

// Get returns the position for symbol; a flat zero value when none is open.
func (b *Book) Get(symbol string) model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[symbol]; ok {
		return p
	}
	return model.Position{Symbol: symbol, Side: model.PositionFlat}
}

// MarkPrice records the latest reference price for symbol.
func (b *Book) MarkPrice(symbol string, price float64) {
	b.mu.Lock()
	b.marks[symbol] = price
	b.mu.Unlock()
}

// Positions returns a snapshot of all open positions.
func (b *Book) Positions() []model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns the number of open positions.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// TotalUnrealizedPnL sums unrealized P&L across open positions at their
// latest marks. Symbols with no mark contribute zero.
func (b *Book) TotalUnrealizedPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for sym, p := range b.positions {
		mark, ok := b.marks[sym]
		if !ok {
			continue
		}
		total += p.UnrealizedPnL(mark)
	}
	return total
}

// Exposure returns the total notional of open positions at their latest
// marks (entry price where no mark exists yet).
func (b *Book) Exposure() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for sym, p := range b.positions {
		price := p.EntryPrice
		if mark, ok := b.marks[sym]; ok {
			price = mark
		}
		total += p.Qty * price
	}
	return total
}
