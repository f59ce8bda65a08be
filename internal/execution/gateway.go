// Package execution turns decisions into venue orders.
//
// The Gateway applies the sizing and safety rules that sit between a raw
// quantity and a live market order: lot-step rounding, the minimum-notional
// floor, bounded retry on rate limits, and a per-symbol in-flight guard so a
// decision can never double-submit while a prior order is still pending.
// Fills are persisted to the SQLite journal for audit.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"trendbotv1/internal/binance"
	"trendbotv1/internal/model"
)

// ErrOrderTooSmall marks an intent whose notional is below the venue minimum
// or whose quantity rounds to zero. Such orders are never submitted.
var ErrOrderTooSmall = errors.New("order below venue minimum")

// ErrSubmitInFlight marks a submit attempted while a prior submission for the
// same symbol has not completed.
var ErrSubmitInFlight = errors.New("order submission already in flight")

// ErrUnknownSymbol marks a submit for a symbol the venue has no rules for.
var ErrUnknownSymbol = errors.New("no trading rules for symbol")

// Venue is the order-side surface of the exchange. *binance.Client satisfies
// it; PaperVenue simulates it.
type Venue interface {
	ExchangeSymbols(ctx context.Context) (map[string]model.SymbolRules, error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (model.OrderResult, error)
}

const (
	defaultRulesTTL  = time.Hour
	defaultRetryBase = time.Second
)

// Gateway submits market orders with sizing checks and retry discipline.
// Safe for concurrent use across symbols; per symbol, at most one submission
// is in flight at a time.
type Gateway struct {
	venue    Venue
	maxRetry int

	// RetryBase is the first backoff delay after a rate-limit response;
	// each retry doubles it.
	RetryBase time.Duration
	// RulesTTL bounds how long cached trading rules are trusted.
	RulesTTL time.Duration

	// OnFill, when set, receives every confirmed fill.
	OnFill func(model.OrderResult)
	// OnRetry, when set, is called before each rate-limit backoff.
	OnRetry func(symbol string)

	rulesMu sync.RWMutex
	rules   map[string]model.SymbolRules
	rulesAt time.Time

	inflightMu sync.Mutex
	inflight   map[string]bool

	journal *Journal
}

// NewGateway creates a gateway over venue. journal may be nil.
func NewGateway(venue Venue, maxRetry int, journal *Journal) *Gateway {
	return &Gateway{
		venue:     venue,
		maxRetry:  maxRetry,
		RetryBase: defaultRetryBase,
		RulesTTL:  defaultRulesTTL,
		inflight:  make(map[string]bool),
		journal:   journal,
	}
}

// Submit sizes, validates, and places a market order.
//
// rawQty is the unrounded quantity (budget divided by price). refReason is a
// short free-form tag recorded with the fill ("enter uptrend", "take profit").
func (g *Gateway) Submit(ctx context.Context, symbol string, side model.Side, rawQty float64, refReason string) (model.OrderResult, error) {
	symbol = strings.ToUpper(symbol)

	if !g.acquire(symbol) {
		return model.OrderResult{}, fmt.Errorf("%s: %w", symbol, ErrSubmitInFlight)
	}
	defer g.release(symbol)

	intent, err := g.buildIntent(ctx, symbol, side, rawQty)
	if err != nil {
		return model.OrderResult{}, err
	}

	res, err := g.placeWithRetry(ctx, intent)
	if err != nil {
		return model.OrderResult{}, err
	}

	log.Printf("[execution] filled %s %s qty=%s avg=%s order=%s",
		res.Side, res.Symbol,
		strconv.FormatFloat(res.Qty, 'f', -1, 64),
		strconv.FormatFloat(res.AvgPrice, 'f', -1, 64),
		res.OrderID)

	if g.journal != nil {
		if err := g.journal.RecordFill(Fill{
			OrderID:  res.OrderID,
			Symbol:   res.Symbol,
			Side:     string(res.Side),
			Qty:      res.Qty,
			Price:    res.AvgPrice,
			Notional: res.Qty * res.AvgPrice,
			Reason:   refReason,
			FilledAt: res.Submitted,
		}); err != nil {
			log.Printf("[execution] journal write failed for %s: %v", res.OrderID, err)
		}
	}
	if g.OnFill != nil {
		g.OnFill(res)
	}
	return res, nil
}

// buildIntent resolves rules, rounds the quantity, and enforces the
// minimum-notional floor. It never submits.
func (g *Gateway) buildIntent(ctx context.Context, symbol string, side model.Side, rawQty float64) (model.OrderIntent, error) {
	rules, err := g.rulesFor(ctx, symbol)
	if err != nil {
		return model.OrderIntent{}, err
	}

	qty := RoundToStep(rawQty, rules.LotStep)
	if qty <= 0 {
		return model.OrderIntent{}, fmt.Errorf("%s: quantity %v rounds to zero at step %v: %w",
			symbol, rawQty, rules.LotStep, ErrOrderTooSmall)
	}

	price, err := g.venue.TickerPrice(ctx, symbol)
	if err != nil {
		return model.OrderIntent{}, fmt.Errorf("reference price %s: %w", symbol, err)
	}

	notional := price * qty
	if notional < rules.MinNotional {
		return model.OrderIntent{}, fmt.Errorf("%s: notional %.4f below minimum %.4f: %w",
			symbol, notional, rules.MinNotional, ErrOrderTooSmall)
	}

	return model.OrderIntent{
		Symbol:   symbol,
		Side:     side,
		Qty:      qty,
		RefPrice: price,
		Notional: notional,
	}, nil
}

// placeWithRetry submits the order, retrying only on rate-limit responses
// with exponential backoff up to maxRetry attempts. Any other rejection is
// surfaced immediately so a possibly-filled order is never resubmitted.
func (g *Gateway) placeWithRetry(ctx context.Context, intent model.OrderIntent) (model.OrderResult, error) {
	delay := g.RetryBase
	var lastErr error
	for attempt := 0; attempt < g.maxRetry; attempt++ {
		if attempt > 0 {
			log.Printf("[execution] rate limited, retry %d/%d for %s in %v",
				attempt, g.maxRetry-1, intent.Symbol, delay)
			if g.OnRetry != nil {
				g.OnRetry(intent.Symbol)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.OrderResult{}, ctx.Err()
			}
			delay *= 2
		}

		res, err := g.venue.PlaceMarketOrder(ctx, intent.Symbol, intent.Side, intent.Qty)
		if err == nil {
			return res, nil
		}
		if binance.IsRateLimited(err) {
			lastErr = err
			continue
		}
		if binance.IsRejected(err) {
			// Stale lot step or notional rule; next submit re-fetches.
			g.invalidateRules()
		}
		return model.OrderResult{}, err
	}
	return model.OrderResult{}, fmt.Errorf("submit %s: rate-limit retries exhausted: %w", intent.Symbol, lastErr)
}

// rulesFor returns the trading rules for symbol, refreshing the cache when
// it is empty or past its TTL.
func (g *Gateway) rulesFor(ctx context.Context, symbol string) (model.SymbolRules, error) {
	g.rulesMu.RLock()
	fresh := g.rules != nil && time.Since(g.rulesAt) < g.RulesTTL
	r, ok := g.rules[symbol]
	g.rulesMu.RUnlock()
	if fresh && ok {
		return r, nil
	}

	rules, err := g.venue.ExchangeSymbols(ctx)
	if err != nil {
		if ok {
			// Stale rules beat no rules.
			return r, nil
		}
		return model.SymbolRules{}, fmt.Errorf("exchange rules: %w", err)
	}

	g.rulesMu.Lock()
	g.rules = rules
	g.rulesAt = time.Now()
	r, ok = rules[symbol]
	g.rulesMu.Unlock()
	if !ok {
		return model.SymbolRules{}, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return r, nil
}

func (g *Gateway) invalidateRules() {
	g.rulesMu.Lock()
	g.rulesAt = time.Time{}
	g.rulesMu.Unlock()
}

func (g *Gateway) acquire(symbol string) bool {
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	if g.inflight[symbol] {
		return false
	}
	g.inflight[symbol] = true
	return true
}

func (g *Gateway) release(symbol string) {
	g.inflightMu.Lock()
	delete(g.inflight, symbol)
	g.inflightMu.Unlock()
}

// RoundToStep rounds qty down to a multiple of step. The result is always
// <= qty and snapped to the step's decimal precision to avoid float drift.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	prec := stepPrecision(step)
	pow := math.Pow(10, float64(prec))
	n := math.Floor(qty/step + 1e-9)
	for n > 0 {
		r := math.Floor(n*step*pow+0.5) / pow
		if r <= qty {
			return r
		}
		// The epsilon nudged qty across a step boundary it had not
		// actually reached; back off one step.
		n--
	}
	return 0
}

// stepPrecision counts decimal places in step, e.g. 0.001 -> 3.
func stepPrecision(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
