package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trendbotv1/internal/model"
)

// PaperVenue simulates the order-side venue surface without real API calls.
// Prices and trading rules are set by the caller; fills happen at the set
// price plus configurable slippage. Used for paper trading and tests.
type PaperVenue struct {
	mu       sync.RWMutex
	rules    map[string]model.SymbolRules
	prices   map[string]float64
	fills    []model.OrderResult
	orderSeq int64

	// SlippageBps is simulated slippage in basis points (5 = 0.05%).
	// Buys fill higher, sells fill lower.
	SlippageBps float64
}

// NewPaperVenue creates a paper venue with the given trading rules.
func NewPaperVenue(rules map[string]model.SymbolRules) *PaperVenue {
	if rules == nil {
		rules = make(map[string]model.SymbolRules)
	}
	return &PaperVenue{
		rules:  rules,
		prices: make(map[string]float64),
	}
}

// SetPrice sets the simulated reference price for a symbol.
func (p *PaperVenue) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// Fills returns a snapshot of all simulated fills.
func (p *PaperVenue) Fills() []model.OrderResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.OrderResult, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperVenue) ExchangeSymbols(ctx context.Context) (map[string]model.SymbolRules, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make(map[string]model.SymbolRules, len(p.rules))
	for k, v := range p.rules {
		cp[k] = v
	}
	return cp, nil
}

func (p *PaperVenue) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	price, ok := p.prices[symbol]
	p.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("paper venue: no price for %s", symbol)
	}
	return price, nil
}

func (p *PaperVenue) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (model.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return model.OrderResult{}, fmt.Errorf("paper venue: no price for %s", symbol)
	}

	slip := price * p.SlippageBps / 10000
	fillPrice := price
	if side == model.SideBuy {
		fillPrice += slip
	} else {
		fillPrice -= slip
	}

	p.orderSeq++
	res := model.OrderResult{
		OrderID:   fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		AvgPrice:  fillPrice,
		Submitted: time.Now().UTC(),
	}
	p.fills = append(p.fills, res)

	log.Printf("[paper] %s %s qty=%v price=%v order=%s", side, symbol, qty, fillPrice, res.OrderID)
	return res, nil
}
