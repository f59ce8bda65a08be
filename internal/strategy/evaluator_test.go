package strategy

import (
	"testing"
	"time"

	"trendbotv1/internal/model"
)

func testPolicy() Policy {
	return Policy{
		Cooldown:       5 * time.Second,
		TakeProfitUSD:  0.05,
		OrderBudgetUSD: 10,
	}
}

func flat() *model.Position {
	return &model.Position{Symbol: "BTCUSDT", Side: model.PositionFlat}
}

func long(entry, qty float64) *model.Position {
	return &model.Position{Symbol: "BTCUSDT", Side: model.PositionLong, EntryPrice: entry, Qty: qty}
}

func short(entry, qty float64) *model.Position {
	return &model.Position{Symbol: "BTCUSDT", Side: model.PositionShort, EntryPrice: entry, Qty: qty}
}

func TestOnSnapshot_NeutralHolds(t *testing.T) {
	e := New(testPolicy())
	now := time.Unix(1000, 0)

	snap := model.IndicatorSnapshot{Trend: model.TrendUnknown}
	if d := e.OnSnapshot(now, snap, flat()); d != model.DecisionHold {
		t.Errorf("neutral snapshot + flat must hold, got %s", d)
	}
}

func TestOnSnapshot_Transitions(t *testing.T) {
	now := time.Unix(1000, 0)

	cases := []struct {
		name string
		snap model.IndicatorSnapshot
		pos  *model.Position
		want model.Decision
	}{
		{"flat enters long on uptrend", model.IndicatorSnapshot{Trend: model.TrendUp}, flat(), model.DecisionEnterLong},
		{"flat enters short on downtrend", model.IndicatorSnapshot{Trend: model.TrendDown}, flat(), model.DecisionEnterShort},
		{"flat enters long on sideways oversold", model.IndicatorSnapshot{Trend: model.TrendSideways, Oversold: true}, flat(), model.DecisionEnterLong},
		{"flat enters short on sideways overbought", model.IndicatorSnapshot{Trend: model.TrendSideways, Overbought: true}, flat(), model.DecisionEnterShort},
		{"flat holds on plain sideways", model.IndicatorSnapshot{Trend: model.TrendSideways, Momentum: 0.1}, flat(), model.DecisionHold},
		{"long self-transition is not a decision", model.IndicatorSnapshot{Trend: model.TrendUp}, long(100, 1), model.DecisionHold},
		{"long exits on bearish reversal", model.IndicatorSnapshot{Trend: model.TrendDown}, long(100, 1), model.DecisionExit},
		{"short exits on bullish reversal", model.IndicatorSnapshot{Trend: model.TrendUp}, short(100, 1), model.DecisionExit},
		{"short self-transition is not a decision", model.IndicatorSnapshot{Trend: model.TrendDown}, short(100, 1), model.DecisionHold},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New(testPolicy())
			if got := e.OnSnapshot(now, tc.snap, tc.pos); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCooldown_OnlyFirstDecisionFires(t *testing.T) {
	e := New(testPolicy())
	now := time.Unix(1000, 0)
	up := model.IndicatorSnapshot{Trend: model.TrendUp}

	first := e.OnSnapshot(now, up, flat())
	if first != model.DecisionEnterLong {
		t.Fatalf("expected EnterLong, got %s", first)
	}
	e.Commit(now)

	// Second attempt inside the cooldown window must hold regardless of signal.
	second := e.OnSnapshot(now.Add(2*time.Second), up, flat())
	if second != model.DecisionHold {
		t.Errorf("expected Hold inside cooldown, got %s", second)
	}

	// After the window, decisions flow again.
	third := e.OnSnapshot(now.Add(6*time.Second), up, flat())
	if third != model.DecisionEnterLong {
		t.Errorf("expected EnterLong after cooldown, got %s", third)
	}
}

func TestCooldown_EvaluationDoesNotAdvanceClock(t *testing.T) {
	e := New(testPolicy())
	now := time.Unix(1000, 0)

	// Hold decisions never commit, so the gate stays open.
	for i := 0; i < 10; i++ {
		e.OnSnapshot(now.Add(time.Duration(i)*time.Millisecond), model.IndicatorSnapshot{Trend: model.TrendUnknown}, flat())
	}
	if e.InCooldown(now.Add(time.Minute)) {
		t.Error("holds must not arm the cooldown gate")
	}
}

func TestOnPrice_TakeProfitLong(t *testing.T) {
	e := New(testPolicy())
	now := time.Unix(1000, 0)
	pos := long(100, 0.1) // +0.05 USD at price 100.5

	if d := e.OnPrice(now, 100.2, pos); d != model.DecisionHold {
		t.Errorf("below target must hold, got %s", d)
	}
	if d := e.OnPrice(now, 100.5, pos); d != model.DecisionExit {
		t.Errorf("at target must exit, got %s", d)
	}
}

func TestOnPrice_TakeProfitShort(t *testing.T) {
	e := New(testPolicy())
	now := time.Unix(1000, 0)
	pos := short(100, 0.1)

	if d := e.OnPrice(now, 99.5, pos); d != model.DecisionExit {
		t.Errorf("short profit at lower price must exit, got %s", d)
	}
	if d := e.OnPrice(now, 100.4, pos); d != model.DecisionHold {
		t.Errorf("short loss must hold, got %s", d)
	}
}

func TestOnPrice_FlatHolds(t *testing.T) {
	e := New(testPolicy())
	if d := e.OnPrice(time.Unix(1000, 0), 123, flat()); d != model.DecisionHold {
		t.Errorf("flat position must hold on price updates, got %s", d)
	}
}

func TestRawQty(t *testing.T) {
	p := testPolicy()
	if got := p.RawQty(250); got != 0.04 {
		t.Errorf("expected 0.04, got %f", got)
	}
	if got := p.RawQty(0); got != 0 {
		t.Errorf("expected 0 for zero price, got %f", got)
	}
}
