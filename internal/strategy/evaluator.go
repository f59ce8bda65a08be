// Package strategy turns indicator snapshots into position decisions.
//
// The Evaluator is the single state machine all entry/exit variants collapse
// into: states Flat/Long/Short, and only state *changes* produce a decision.
// A cooldown gate wraps every evaluation so oscillating indicators can never
// cause an order storm.
package strategy

import (
	"time"

	"trendbotv1/internal/model"
)

// Policy holds every numeric knob of the state machine. All values arrive
// from configuration; the evaluator never hardcodes a threshold.
type Policy struct {
	Cooldown       time.Duration // minimum gap between non-Hold decisions
	TakeProfitUSD  float64       // absolute unrealized PnL target per position
	OrderBudgetUSD float64       // quote budget per entry
}

// RawQty sizes an entry from the quote budget at the given price.
// Returns 0 for a non-positive price.
func (p Policy) RawQty(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return p.OrderBudgetUSD / price
}

// Evaluator is the per-lane signal evaluator. It is owned by exactly one
// lane goroutine and therefore carries no lock.
type Evaluator struct {
	policy       Policy
	lastSignalAt time.Time
}

// New creates an evaluator with the given policy.
func New(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy { return e.policy }

// InCooldown reports whether the cooldown gate is closed at the given time.
func (e *Evaluator) InCooldown(now time.Time) bool {
	return now.Sub(e.lastSignalAt) < e.policy.Cooldown
}

// Commit records that a non-Hold decision was actually emitted downstream.
// lastSignalAt advances only here, never on plain evaluation.
func (e *Evaluator) Commit(now time.Time) {
	e.lastSignalAt = now
}

// OnSnapshot evaluates a closed-candle indicator snapshot against the current
// position and returns a decision. Neutral snapshots always hold.
func (e *Evaluator) OnSnapshot(now time.Time, snap model.IndicatorSnapshot, pos *model.Position) model.Decision {
	if e.InCooldown(now) {
		return model.DecisionHold
	}
	if snap.Neutral() {
		return model.DecisionHold
	}

	switch pos.Side {
	case model.PositionFlat, "":
		switch {
		case snap.Trend == model.TrendUp,
			snap.Trend == model.TrendSideways && snap.Oversold:
			return model.DecisionEnterLong
		case snap.Trend == model.TrendDown,
			snap.Trend == model.TrendSideways && snap.Overbought:
			return model.DecisionEnterShort
		}

	case model.PositionLong:
		// Bearish reversal closes the long; staying long is not a decision.
		if snap.Trend == model.TrendDown {
			return model.DecisionExit
		}

	case model.PositionShort:
		if snap.Trend == model.TrendUp {
			return model.DecisionExit
		}
	}

	return model.DecisionHold
}

// OnPrice evaluates an intrabar price update for the take-profit exit.
// Only an open position whose unrealized PnL has crossed the target exits;
// everything else holds. The cooldown gate applies here too.
func (e *Evaluator) OnPrice(now time.Time, price float64, pos *model.Position) model.Decision {
	if e.InCooldown(now) {
		return model.DecisionHold
	}
	if !pos.Open() || price <= 0 {
		return model.DecisionHold
	}
	if pos.UnrealizedPnL(price) >= e.policy.TakeProfitUSD {
		return model.DecisionExit
	}
	return model.DecisionHold
}

// CloseSide returns the venue side that flattens the given position.
func CloseSide(pos *model.Position) model.Side {
	if pos.Side == model.PositionLong {
		return model.SideSell
	}
	return model.SideBuy
}

// EntrySide returns the venue side that opens a position for a decision.
func EntrySide(d model.Decision) model.Side {
	if d == model.DecisionEnterShort {
		return model.SideSell
	}
	return model.SideBuy
}
