package portfolio

import (
	"log"
	"sync"
)

// RiskLimits defines configurable risk thresholds.
type RiskLimits struct {
	MaxOpenPositions int     `json:"max_open_positions"`
	MaxExposureUSD   float64 `json:"max_exposure_usd"`
	MaxDailyLossUSD  float64 `json:"max_daily_loss_usd"`
}

// DefaultRiskLimits returns conservative default limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxOpenPositions: 5,
		MaxExposureUSD:   500,
		MaxDailyLossUSD:  50,
	}
}

// RiskManager gates new entries against the limits. Exits are never blocked.
type RiskManager struct {
	mu     sync.RWMutex
	limits RiskLimits
	book   *Book
	pnl    *PnLTracker

	dailyRealized float64
}

// NewRiskManager creates a RiskManager over book and pnl.
func NewRiskManager(limits RiskLimits, book *Book, pnl *PnLTracker) *RiskManager {
	return &RiskManager{
		limits: limits,
		book:   book,
		pnl:    pnl,
	}
}

// CanEnter reports whether opening a position of the given notional for
// symbol stays inside the limits. The reason string is empty when allowed.
func (rm *RiskManager) CanEnter(symbol string, notional float64) (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	held := rm.book.Get(symbol)
	if rm.limits.MaxOpenPositions > 0 &&
		rm.book.OpenCount() >= rm.limits.MaxOpenPositions &&
		!held.Open() {
		return false, "max open positions reached"
	}
	if rm.limits.MaxExposureUSD > 0 &&
		rm.book.Exposure()+notional > rm.limits.MaxExposureUSD {
		return false, "exposure limit reached"
	}
	if rm.limits.MaxDailyLossUSD > 0 &&
		rm.dailyRealized <= -rm.limits.MaxDailyLossUSD {
		return false, "daily loss limit reached"
	}
	return true, ""
}

// RecordRealized folds a realized P&L delta into the daily total.
func (rm *RiskManager) RecordRealized(delta float64) {
	rm.mu.Lock()
	rm.dailyRealized += delta
	if rm.dailyRealized <= -rm.limits.MaxDailyLossUSD && rm.limits.MaxDailyLossUSD > 0 {
		log.Printf("[risk] daily loss limit hit: %.2f", rm.dailyRealized)
	}
	rm.mu.Unlock()
}

// ResetDaily zeroes the daily realized total (call at the day boundary).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	rm.dailyRealized = 0
	rm.mu.Unlock()
}
