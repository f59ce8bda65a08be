package indicator

import (
	"math"
	"reflect"
	"testing"
	"time"

	"trendbotv1/internal/model"
)

func makeWindow(closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Symbol:   "BTCUSDT",
			Interval: "5m",
			OpenTime: time.Unix(int64(i)*300, 0).UTC(),
			Open:     c,
			High:     c * 1.002,
			Low:      c * 0.998,
			Close:    c,
			Volume:   100,
		}
	}
	return out
}

// trendingCloses builds a strongly rising series long enough for every lookback.
func trendingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)*2
	}
	return closes
}

func TestEvaluate_InsufficientDataIsNeutral(t *testing.T) {
	cfg := DefaultConfig()
	window := makeWindow(trendingCloses(cfg.MinWindow() - 1))

	snap := Evaluate(window, cfg)
	if !snap.Neutral() {
		t.Fatalf("expected neutral sentinel below min window, got %+v", snap)
	}
	if snap.Trend != model.TrendUnknown {
		t.Errorf("expected TrendUnknown, got %s", snap.Trend)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	window := makeWindow(trendingCloses(60))

	first := Evaluate(window, cfg)
	second := Evaluate(window, cfg)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluate not deterministic: %+v vs %+v", first, second)
	}
}

func TestEvaluate_Uptrend(t *testing.T) {
	cfg := DefaultConfig()
	window := makeWindow(trendingCloses(60))

	snap := Evaluate(window, cfg)
	if snap.Trend != model.TrendUp {
		t.Errorf("expected TrendUp on monotone rise, got %s", snap.Trend)
	}
	if snap.Momentum <= 0 {
		t.Errorf("expected positive momentum, got %f", snap.Momentum)
	}
	if !snap.Overbought {
		t.Error("monotone rise should read overbought")
	}
}

func TestEvaluate_Downtrend(t *testing.T) {
	cfg := DefaultConfig()
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 500 - float64(i)*3
	}
	snap := Evaluate(makeWindow(closes), cfg)
	if snap.Trend != model.TrendDown {
		t.Errorf("expected TrendDown on monotone fall, got %s", snap.Trend)
	}
	if snap.Momentum >= 0 {
		t.Errorf("expected negative momentum, got %f", snap.Momentum)
	}
	if !snap.Oversold {
		t.Error("monotone fall should read oversold")
	}
}

func TestEvaluate_SidewaysFlatSeries(t *testing.T) {
	cfg := DefaultConfig()
	closes := make([]float64, 60)
	for i := range closes {
		// Tiny oscillation around 100
		closes[i] = 100 + 0.05*math.Sin(float64(i))
	}
	snap := Evaluate(makeWindow(closes), cfg)
	if snap.Trend != model.TrendSideways {
		t.Errorf("expected TrendSideways on flat oscillation, got %s", snap.Trend)
	}
}

func TestEvaluate_VolumeSpike(t *testing.T) {
	cfg := DefaultConfig()
	window := makeWindow(trendingCloses(60))
	window[len(window)-1].Volume = 1000 // 10x the 100 baseline

	snap := Evaluate(window, cfg)
	if !snap.VolumeSpike {
		t.Error("expected volume spike at 10x average")
	}
}

func TestRSISeries_AllGains(t *testing.T) {
	closes := trendingCloses(30)
	rsi := RSISeries(closes, 14)
	if got := Last(rsi); got != 100 {
		t.Errorf("expected RSI 100 on pure gains, got %f", got)
	}
	for i := 0; i < 14; i++ {
		if rsi[i] != 0 {
			t.Errorf("expected zero before warmup at %d, got %f", i, rsi[i])
		}
	}
}

func TestEMASeries_ConstantInput(t *testing.T) {
	values := []float64{50, 50, 50, 50, 50}
	ema := EMASeries(values, 3)
	for i, v := range ema {
		if math.Abs(v-50) > 1e-9 {
			t.Errorf("index %d: expected 50, got %f", i, v)
		}
	}
}

func TestMACD_ConstantInputIsZero(t *testing.T) {
	values := make([]float64, 40)
	for i := range values {
		values[i] = 100
	}
	line, sig, hist := MACD(values, 12, 26, 9)
	if Last(line) != 0 || Last(sig) != 0 || Last(hist) != 0 {
		t.Errorf("constant series must produce zero MACD, got line=%f sig=%f hist=%f",
			Last(line), Last(sig), Last(hist))
	}
}

func TestADXSeries_Warmup(t *testing.T) {
	window := makeWindow(trendingCloses(40))
	adx := ADXSeries(window, 14)
	for i := 0; i < 28; i++ {
		if adx[i] != 0 {
			t.Errorf("expected zero ADX before warmup at %d, got %f", i, adx[i])
		}
	}
	if Last(adx) <= 20 {
		t.Errorf("expected strong ADX on monotone trend, got %f", Last(adx))
	}
}

func TestConfig_MinWindow(t *testing.T) {
	cfg := DefaultConfig()
	// MACD slow+signal = 35 dominates 2*ADX+1 = 29 and slowEMA = 21.
	if got := cfg.MinWindow(); got != 35 {
		t.Errorf("expected min window 35, got %d", got)
	}
}
