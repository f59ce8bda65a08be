package portfolio

import (
	"math"
	"testing"
	"time"

	"trendbotv1/internal/model"
)

func long(symbol string, entry, qty float64) model.Position {
	return model.Position{
		Symbol:     symbol,
		Side:       model.PositionLong,
		EntryPrice: entry,
		Qty:        qty,
		OpenedAt:   time.Now(),
	}
}

func short(symbol string, entry, qty float64) model.Position {
	return model.Position{
		Symbol:     symbol,
		Side:       model.PositionShort,
		EntryPrice: entry,
		Qty:        qty,
		OpenedAt:   time.Now(),
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBookSetAndClear(t *testing.T) {
	b := NewBook()
	b.Set(long("BTCUSDT", 100, 0.5))
	if b.OpenCount() != 1 {
		t.Fatalf("open count = %d, want 1", b.OpenCount())
	}
	if got := b.Get("BTCUSDT"); got.EntryPrice != 100 {
		t.Errorf("entry = %v", got.EntryPrice)
	}

	// Setting a flat position clears the entry.
	b.Set(model.Position{Symbol: "BTCUSDT", Side: model.PositionFlat})
	if b.OpenCount() != 0 {
		t.Errorf("open count = %d after flat set, want 0", b.OpenCount())
	}
	cleared := b.Get("BTCUSDT")
	if cleared.Open() {
		t.Error("cleared position should read flat")
	}
}

func TestBookUnrealizedPnL(t *testing.T) {
	b := NewBook()
	b.Set(long("BTCUSDT", 100, 1))
	b.Set(short("ETHUSDT", 50, 2))
	b.MarkPrice("BTCUSDT", 110) // +10
	b.MarkPrice("ETHUSDT", 45)  // +10

	if got := b.TotalUnrealizedPnL(); !approx(got, 20) {
		t.Errorf("total pnl = %v, want 20", got)
	}
}

func TestBookExposure(t *testing.T) {
	b := NewBook()
	b.Set(long("BTCUSDT", 100, 1))
	b.Set(long("ETHUSDT", 50, 2))
	b.MarkPrice("BTCUSDT", 120)

	// BTC at mark 120, ETH at entry 50.
	if got := b.Exposure(); !approx(got, 220) {
		t.Errorf("exposure = %v, want 220", got)
	}
}

func fill(symbol string, side model.Side, qty, price float64) model.OrderResult {
	return model.OrderResult{
		OrderID:   "x",
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		AvgPrice:  price,
		Submitted: time.Now(),
	}
}

func TestPnLLongRoundTrip(t *testing.T) {
	p := NewPnLTracker()
	if got := p.RecordFill(fill("BTCUSDT", model.SideBuy, 1, 100)); !approx(got, 0) {
		t.Errorf("opening fill realized %v, want 0", got)
	}
	if got := p.RecordFill(fill("BTCUSDT", model.SideSell, 1, 110)); !approx(got, 10) {
		t.Errorf("closing fill realized %v, want 10", got)
	}
	if got := p.Realized(); !approx(got, 10) {
		t.Errorf("cumulative = %v, want 10", got)
	}
}

func TestPnLShortRoundTrip(t *testing.T) {
	p := NewPnLTracker()
	p.RecordFill(fill("ETHUSDT", model.SideSell, 2, 50))
	if got := p.RecordFill(fill("ETHUSDT", model.SideBuy, 2, 45)); !approx(got, 10) {
		t.Errorf("short close realized %v, want 10", got)
	}
}

func TestPnLWeightedAverageEntry(t *testing.T) {
	p := NewPnLTracker()
	p.RecordFill(fill("BTCUSDT", model.SideBuy, 1, 100))
	p.RecordFill(fill("BTCUSDT", model.SideBuy, 1, 110)) // avg 105
	if got := p.RecordFill(fill("BTCUSDT", model.SideSell, 2, 120)); !approx(got, 30) {
		t.Errorf("realized %v, want 30", got)
	}
}

func TestRiskManagerLimits(t *testing.T) {
	book := NewBook()
	pnl := NewPnLTracker()
	rm := NewRiskManager(RiskLimits{
		MaxOpenPositions: 1,
		MaxExposureUSD:   100,
		MaxDailyLossUSD:  10,
	}, book, pnl)

	if ok, _ := rm.CanEnter("BTCUSDT", 50); !ok {
		t.Fatal("empty book should allow entry")
	}

	book.Set(long("BTCUSDT", 50, 1))
	if ok, reason := rm.CanEnter("ETHUSDT", 10); ok {
		t.Error("second position should hit the max-open limit")
	} else if reason == "" {
		t.Error("rejection should carry a reason")
	}

	// Exposure: 50 held + 60 requested > 100.
	book.Clear("BTCUSDT")
	book.Set(long("XRPUSDT", 50, 1))
	if ok, _ := rm.CanEnter("XRPUSDT", 60); ok {
		t.Error("entry should hit the exposure limit")
	}

	// Daily loss.
	rm.RecordRealized(-15)
	if ok, reason := rm.CanEnter("XRPUSDT", 1); ok {
		t.Error("entry should hit the daily loss limit")
	} else if reason != "daily loss limit reached" {
		t.Errorf("reason = %q", reason)
	}
	rm.ResetDaily()
	if ok, _ := rm.CanEnter("XRPUSDT", 1); !ok {
		t.Error("entry should be allowed after daily reset")
	}
}
