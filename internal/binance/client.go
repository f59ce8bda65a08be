// Package binance is the REST client for the USDS-M futures venue.
//
// It covers exactly the surface the pipeline needs: historical klines,
// reference prices, 24h tickers for scanning, trading rules, the account
// snapshot, and signed market-order submission. Errors are normalized into
// *APIError so callers can tell a rate limit from a rejection.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trendbotv1/internal/model"
)

const (
	defaultRecvWindow = "10000"
	requestTimeout    = 10 * time.Second
)

// Config configures the venue client.
type Config struct {
	BaseURL   string // e.g. "https://fapi.binance.com"
	WSBaseURL string // e.g. "wss://fstream.binance.com"
	APIKey    string
	APISecret string
}

// Client talks to the venue REST API. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a venue client.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// StreamURL returns the kline websocket endpoint for one symbol+interval.
func (c *Client) StreamURL(symbol, interval string) string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", c.cfg.WSBaseURL, strings.ToLower(symbol), interval)
}

// ServerTime returns the venue clock in epoch milliseconds. Signed requests
// carry this timestamp so a skewed local clock cannot invalidate them.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/fapi/v1/time", nil, &out); err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	return out.ServerTime, nil
}

// Klines fetches up to limit closed candles for symbol, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]json.RawMessage
	if err := c.get(ctx, "/fapi/v1/klines", q, &rows); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			continue
		}
		candles = append(candles, model.Candle{
			Symbol:   strings.ToUpper(symbol),
			Interval: interval,
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     rawFloat(row[1]),
			High:     rawFloat(row[2]),
			Low:      rawFloat(row[3]),
			Close:    rawFloat(row[4]),
			Volume:   rawFloat(row[5]),
		})
	}
	return candles, nil
}

// TickerPrice returns the current reference price for a symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))

	var out struct {
		Price string `json:"price"`
	}
	if err := c.get(ctx, "/fapi/v1/ticker/price", q, &out); err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	p, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: parse %q: %w", symbol, out.Price, err)
	}
	return p, nil
}

// Ticker24h is one row of the 24h rolling statistics endpoint.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`
}

// Tickers24h returns rolling 24h statistics for every symbol.
func (c *Client) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	var out []Ticker24h
	if err := c.get(ctx, "/fapi/v1/ticker/24hr", nil, &out); err != nil {
		return nil, fmt.Errorf("24h tickers: %w", err)
	}
	return out, nil
}

// ExchangeSymbols returns the trading rules of every tradeable perpetual.
func (c *Client) ExchangeSymbols(ctx context.Context) (map[string]model.SymbolRules, error) {
	var out struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
			Filters      []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				Notional    string `json:"notional"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, &out); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	rules := make(map[string]model.SymbolRules, len(out.Symbols))
	for _, s := range out.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" {
			continue
		}
		r := model.SymbolRules{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				r.LotStep, _ = strconv.ParseFloat(f.StepSize, 64)
			case "MIN_NOTIONAL":
				// Futures exchangeInfo spells the field either way.
				if f.Notional != "" {
					r.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
				} else {
					r.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
				}
			}
		}
		rules[s.Symbol] = r
	}
	return rules, nil
}

// Account returns the open positions reported by the venue.
// Used once at startup to reconcile lane state with venue truth.
func (c *Client) Account(ctx context.Context) ([]model.AccountPosition, error) {
	var out struct {
		Positions []struct {
			Symbol      string `json:"symbol"`
			PositionAmt string `json:"positionAmt"`
			EntryPrice  string `json:"entryPrice"`
			Notional    string `json:"notional"`
		} `json:"positions"`
	}
	if err := c.signedCall(ctx, http.MethodGet, "/fapi/v2/account", url.Values{}, &out); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}

	positions := make([]model.AccountPosition, 0, 4)
	for _, p := range out.Positions {
		notional, _ := strconv.ParseFloat(p.Notional, 64)
		if notional == 0 {
			continue
		}
		qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		positions = append(positions, model.AccountPosition{
			Symbol:     p.Symbol,
			Qty:        qty,
			EntryPrice: entry,
			Notional:   notional,
		})
	}
	return positions, nil
}

// PlaceMarketOrder signs and submits a market order.
// Qty must already be rounded to the symbol's lot step.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (model.OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))

	var out struct {
		OrderID  int64  `json:"orderId"`
		AvgPrice string `json:"avgPrice"`
	}
	if err := c.signedCall(ctx, http.MethodPost, "/fapi/v1/order", q, &out); err != nil {
		return model.OrderResult{}, fmt.Errorf("place order %s %s: %w", side, symbol, err)
	}

	avg, _ := strconv.ParseFloat(out.AvgPrice, 64)
	return model.OrderResult{
		OrderID:   strconv.FormatInt(out.OrderID, 10),
		Symbol:    strings.ToUpper(symbol),
		Side:      side,
		Qty:       qty,
		AvgPrice:  avg,
		Submitted: time.Now().UTC(),
	}, nil
}

// signedCall appends timestamp, recvWindow, and signature to params and
// performs an authenticated request.
func (c *Client) signedCall(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	serverTime, err := c.ServerTime(ctx)
	if err != nil {
		return err
	}
	params.Set("timestamp", strconv.FormatInt(serverTime, 10))
	params.Set("recvWindow", defaultRecvWindow)

	query := params.Encode()
	query += "&signature=" + sign(query, c.cfg.APISecret)

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Msg: string(body)}
		var venueErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &venueErr) == nil && venueErr.Msg != "" {
			apiErr.Code = venueErr.Code
			apiErr.Msg = venueErr.Msg
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// rawFloat parses a JSON string-encoded decimal like "123.45".
func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
