package scanner

import (
	"context"
	"testing"
	"time"

	"trendbotv1/internal/binance"
	"trendbotv1/internal/indicator"
	"trendbotv1/internal/model"
)

type fakeMarket struct {
	tickers []binance.Ticker24h
	windows map[string][]model.Candle
	fetched []string
}

func (f *fakeMarket) Tickers24h(ctx context.Context) ([]binance.Ticker24h, error) {
	return f.tickers, nil
}

func (f *fakeMarket) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	f.fetched = append(f.fetched, symbol)
	return f.windows[symbol], nil
}

func window(closes func(i int) float64, n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		c := closes(i)
		out[i] = model.Candle{
			Symbol:   "X",
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

func rising(n int) []model.Candle {
	return window(func(i int) float64 { return 100 + float64(i)*2 }, n)
}

func falling(n int) []model.Candle {
	return window(func(i int) float64 { return 300 - float64(i)*2 }, n)
}

func flat(n int) []model.Candle {
	return window(func(i int) float64 { return 100 }, n)
}

func TestScanRanksAndClassifies(t *testing.T) {
	market := &fakeMarket{
		tickers: []binance.Ticker24h{
			{Symbol: "DOGEUSDT", LastPrice: "0.1", PriceChangePercent: "1.0", QuoteVolume: "3000"},
			{Symbol: "BTCUSDT", LastPrice: "50000", PriceChangePercent: "2.5", QuoteVolume: "9000"},
			{Symbol: "ETHBTC", LastPrice: "0.05", PriceChangePercent: "4.0", QuoteVolume: "99999"}, // not a USDT pair
			{Symbol: "ETHUSDT", LastPrice: "3000", PriceChangePercent: "-3.0", QuoteVolume: "5000"},
			{Symbol: "XRPUSDT", LastPrice: "0.5", PriceChangePercent: "0.1", QuoteVolume: "4000"},
		},
		windows: map[string][]model.Candle{
			"BTCUSDT":  rising(60),
			"ETHUSDT":  falling(60),
			"XRPUSDT":  flat(60),
			"DOGEUSDT": rising(60),
		},
	}

	s := New(market, "5m", 10, indicator.DefaultConfig())
	s.Pause = 0

	got, err := s.Scan(context.Background(), 10)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// XRPUSDT is sideways/unknown, ETHBTC is filtered out; turnover order
	// is BTC > ETH > XRP > DOGE.
	wantSymbols := []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"}
	if len(got) != len(wantSymbols) {
		t.Fatalf("candidates = %+v, want symbols %v", got, wantSymbols)
	}
	for i, w := range wantSymbols {
		if got[i].Symbol != w {
			t.Errorf("candidate %d = %s, want %s", i, got[i].Symbol, w)
		}
	}
	if got[0].Trend != model.TrendUp {
		t.Errorf("BTCUSDT trend = %s, want UP", got[0].Trend)
	}
	if got[1].Trend != model.TrendDown {
		t.Errorf("ETHUSDT trend = %s, want DOWN", got[1].Trend)
	}
	if got[0].Price != 50000 || got[0].ChangePercent != 2.5 {
		t.Errorf("BTCUSDT carried price %v change %v", got[0].Price, got[0].ChangePercent)
	}
}

func TestScanHonorsLimit(t *testing.T) {
	market := &fakeMarket{
		tickers: []binance.Ticker24h{
			{Symbol: "AUSDT", LastPrice: "1", PriceChangePercent: "1", QuoteVolume: "300"},
			{Symbol: "BUSDT", LastPrice: "1", PriceChangePercent: "1", QuoteVolume: "200"},
			{Symbol: "CUSDT", LastPrice: "1", PriceChangePercent: "1", QuoteVolume: "100"},
		},
		windows: map[string][]model.Candle{
			"AUSDT": rising(60),
			"BUSDT": rising(60),
			"CUSDT": rising(60),
		},
	}

	s := New(market, "5m", 10, indicator.DefaultConfig())
	s.Pause = 0

	got, err := s.Scan(context.Background(), 2)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	// Once the limit is reached, no further symbols are fetched.
	if len(market.fetched) != 2 {
		t.Errorf("fetched %v, want 2 fetches", market.fetched)
	}
}

func TestScanSizeBoundsClassification(t *testing.T) {
	market := &fakeMarket{
		tickers: []binance.Ticker24h{
			{Symbol: "AUSDT", LastPrice: "1", PriceChangePercent: "1", QuoteVolume: "300"},
			{Symbol: "BUSDT", LastPrice: "1", PriceChangePercent: "1", QuoteVolume: "200"},
			{Symbol: "CUSDT", LastPrice: "1", PriceChangePercent: "1", QuoteVolume: "100"},
		},
		windows: map[string][]model.Candle{
			"AUSDT": flat(60),
			"BUSDT": flat(60),
			"CUSDT": rising(60),
		},
	}

	s := New(market, "5m", 2, indicator.DefaultConfig())
	s.Pause = 0

	got, err := s.Scan(context.Background(), 10)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	// CUSDT trends up but is outside the scan size.
	if len(got) != 0 {
		t.Errorf("candidates = %+v, want none", got)
	}
	if len(market.fetched) != 2 {
		t.Errorf("fetched %v, want only the top 2", market.fetched)
	}
}
