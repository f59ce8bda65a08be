// Package scanner ranks the market for tradeable candidates. It pulls the
// venue's 24h ticker statistics, keeps the highest-turnover USDT perpetuals,
// classifies each one's trend from a fresh candle window, and returns the
// trending symbols ranked by turnover. The registry consumes the result to
// decide what to watch.
package scanner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"trendbotv1/internal/binance"
	"trendbotv1/internal/indicator"
	"trendbotv1/internal/model"
)

// MarketData is the read-only venue surface the scanner needs.
// *binance.Client satisfies it.
type MarketData interface {
	Tickers24h(ctx context.Context) ([]binance.Ticker24h, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

const (
	// classifyLimit is how much history each classification fetches; enough
	// for every indicator in the evaluation to warm up.
	classifyLimit = 100
	// fetchPause spaces the per-symbol kline fetches to stay inside the
	// venue's request weight budget.
	fetchPause = 200 * time.Millisecond
)

// Scanner classifies top-volume symbols by trend.
type Scanner struct {
	venue    MarketData
	interval string
	scanSize int
	indCfg   indicator.Config

	// Pause between per-symbol kline fetches. Exposed for tests.
	Pause time.Duration
}

// New creates a scanner over venue. scanSize bounds how many top-turnover
// symbols are classified per scan.
func New(venue MarketData, interval string, scanSize int, indCfg indicator.Config) *Scanner {
	return &Scanner{
		venue:    venue,
		interval: interval,
		scanSize: scanSize,
		indCfg:   indCfg,
		Pause:    fetchPause,
	}
}

// Scan returns up to limit trending candidates, ranked by 24h quote volume.
// Sideways and unclassifiable symbols are skipped.
func (s *Scanner) Scan(ctx context.Context, limit int) ([]model.ScanCandidate, error) {
	tickers, err := s.venue.Tickers24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	ranked := rankByTurnover(tickers, s.scanSize)
	log.Printf("[scanner] classifying %d of %d tickers", len(ranked), len(tickers))

	out := make([]model.ScanCandidate, 0, limit)
	for _, t := range ranked {
		if len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		window, err := s.venue.Klines(ctx, t.Symbol, s.interval, classifyLimit)
		if err != nil {
			log.Printf("[scanner] %s: history fetch failed, skipping: %v", t.Symbol, err)
			continue
		}
		snap := indicator.Evaluate(window, s.indCfg)
		if snap.Trend != model.TrendUp && snap.Trend != model.TrendDown {
			s.pause(ctx)
			continue
		}

		price, _ := strconv.ParseFloat(t.LastPrice, 64)
		change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		out = append(out, model.ScanCandidate{
			Symbol:        t.Symbol,
			Price:         price,
			ChangePercent: change,
			Trend:         snap.Trend,
		})
		log.Printf("[scanner] candidate %s trend=%s change=%.2f%%", t.Symbol, snap.Trend, change)
		s.pause(ctx)
	}
	return out, nil
}

func (s *Scanner) pause(ctx context.Context) {
	if s.Pause <= 0 {
		return
	}
	select {
	case <-time.After(s.Pause):
	case <-ctx.Done():
	}
}

// rankByTurnover filters to USDT pairs and returns the top n by 24h quote
// volume, highest first.
func rankByTurnover(tickers []binance.Ticker24h, n int) []binance.Ticker24h {
	type ranked struct {
		t   binance.Ticker24h
		vol float64
	}
	rows := make([]ranked, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		vol, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil {
			continue
		}
		rows = append(rows, ranked{t: t, vol: vol})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].vol > rows[j].vol })

	if n > len(rows) {
		n = len(rows)
	}
	out := make([]binance.Ticker24h, n)
	for i := 0; i < n; i++ {
		out[i] = rows[i].t
	}
	return out
}
