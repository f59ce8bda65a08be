// Package feed owns the streaming market-data subscriptions. One goroutine
// per watched symbol seeds the candle window from the REST history endpoint,
// then consumes the venue's kline websocket, appending closed candles to the
// store and surfacing forming-candle closes as price updates.
//
// Connection lifecycle is an explicit state machine
// (Disconnected -> Connecting -> Connected) driven by a single loop per
// subscription. The initial seed retries with exponential backoff and is
// fatal for the instrument after exhaustion; the websocket reconnects forever
// with a fixed delay, reseeding the window after every reconnect so no candle
// is skipped. Duplicate appends after a reseed are rejected by the store.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trendbotv1/internal/candlestore"
	"trendbotv1/internal/model"
	"trendbotv1/internal/ringbuf"
)

// ConnState is the state of one subscription's transport.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// History provides the REST surface the feed needs: bulk candle fetches for
// (re)seeding and the websocket endpoint per symbol. *binance.Client
// satisfies it.
type History interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	StreamURL(symbol, interval string) string
}

const (
	defaultSeedRetryBase  = time.Second
	defaultSeedMaxRetry   = 5
	defaultReconnectDelay = 5 * time.Second
	readDeadline          = 90 * time.Second
	pingInterval          = 30 * time.Second
	dispatchTick          = 100 * time.Millisecond
	ringCapacity          = 256
)

// Manager runs one subscription per watched symbol.
type Manager struct {
	hist     History
	store    *candlestore.Store
	interval string
	limit    int

	// SeedRetryBase is the first backoff delay for a failed seed fetch;
	// each retry doubles it. SeedMaxRetry caps the attempts.
	SeedRetryBase  time.Duration
	SeedMaxRetry   int
	ReconnectDelay time.Duration

	// OnClosed fires for every closed candle accepted by the store,
	// in open-time order per symbol.
	OnClosed func(model.Candle)
	// OnPrice fires on every forming-candle update with the latest close.
	OnPrice func(model.PriceUpdate)
	// OnSeedFailure fires when the initial seed exhausts its retries and
	// the subscription gives up. The symbol stays unwatched.
	OnSeedFailure func(symbol string, err error)
	// OnReconnect fires each time an established connection is lost.
	OnReconnect func(symbol string)
	// OnOverflow fires when a symbol's ring is full and a closed candle
	// is dropped.
	OnOverflow func(symbol string)

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	symbol string
	cancel context.CancelFunc
	done   chan struct{}
	ring   *ringbuf.Ring
	state  atomic.Int32
}

// NewManager creates a feed manager appending into store.
func NewManager(hist History, store *candlestore.Store, interval string, limit int) *Manager {
	return &Manager{
		hist:           hist,
		store:          store,
		interval:       interval,
		limit:          limit,
		SeedRetryBase:  defaultSeedRetryBase,
		SeedMaxRetry:   defaultSeedMaxRetry,
		ReconnectDelay: defaultReconnectDelay,
		subs:           make(map[string]*subscription),
	}
}

// Subscribe starts a subscription for symbol. A second subscribe for the
// same symbol is a no-op.
func (m *Manager) Subscribe(ctx context.Context, symbol string) {
	m.mu.Lock()
	if _, ok := m.subs[symbol]; ok {
		m.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		symbol: symbol,
		cancel: cancel,
		done:   make(chan struct{}),
		ring:   ringbuf.New(ringCapacity),
	}
	m.subs[symbol] = sub
	m.mu.Unlock()

	go m.run(subCtx, sub)
}

// Unsubscribe tears down the subscription for symbol and waits for its
// goroutines to exit. The candle window is dropped.
func (m *Manager) Unsubscribe(symbol string) {
	m.mu.Lock()
	sub, ok := m.subs[symbol]
	if ok {
		delete(m.subs, symbol)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
	m.store.Drop(symbol)
}

// State reports the connection state for symbol.
func (m *Manager) State(symbol string) ConnState {
	m.mu.Lock()
	sub, ok := m.subs[symbol]
	m.mu.Unlock()
	if !ok {
		return StateDisconnected
	}
	return ConnState(sub.state.Load())
}

// Symbols returns the currently subscribed symbols.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	return out
}

// Close tears down every subscription and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for s, sub := range m.subs {
		subs = append(subs, sub)
		delete(m.subs, s)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

// run drives one subscription: seed, connect, consume, reconnect.
func (m *Manager) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	defer sub.state.Store(int32(StateDisconnected))

	// The websocket read loop is the only producer on the ring; this
	// dispatcher is the only consumer and the only writer of the symbol's
	// window after the seed.
	dispatchDone := make(chan struct{})
	go m.dispatch(ctx, sub, dispatchDone)
	defer func() { <-dispatchDone }()

	if err := m.seedWithRetry(ctx, sub.symbol); err != nil {
		if ctx.Err() == nil {
			log.Printf("[feed] %s: seed failed permanently: %v", sub.symbol, err)
			if m.OnSeedFailure != nil {
				m.OnSeedFailure(sub.symbol, err)
			}
		}
		return
	}

	first := true
	for ctx.Err() == nil {
		if !first {
			select {
			case <-time.After(m.ReconnectDelay):
			case <-ctx.Done():
				return
			}
			// Reseed takes precedence over anything buffered mid-disconnect.
			m.drainRing(ctx, sub)
			if err := m.seedOnce(ctx, sub.symbol); err != nil {
				log.Printf("[feed] %s: reseed failed, will retry: %v", sub.symbol, err)
				continue
			}
		}
		first = false

		sub.state.Store(int32(StateConnecting))
		err := m.consume(ctx, sub)
		sub.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			return
		}
		log.Printf("[feed] %s: disconnected: %v", sub.symbol, err)
		if m.OnReconnect != nil {
			m.OnReconnect(sub.symbol)
		}
	}
}

// seedWithRetry performs the startup seed with exponential backoff,
// bounded by SeedMaxRetry.
func (m *Manager) seedWithRetry(ctx context.Context, symbol string) error {
	delay := m.SeedRetryBase
	var lastErr error
	for attempt := 0; attempt < m.SeedMaxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if lastErr = m.seedOnce(ctx, symbol); lastErr == nil {
			return nil
		}
		log.Printf("[feed] %s: seed attempt %d/%d failed: %v", symbol, attempt+1, m.SeedMaxRetry, lastErr)
	}
	return fmt.Errorf("seed %s: %d attempts exhausted: %w", symbol, m.SeedMaxRetry, lastErr)
}

func (m *Manager) seedOnce(ctx context.Context, symbol string) error {
	candles, err := m.hist.Klines(ctx, symbol, m.interval, m.limit)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("seed %s: empty history", symbol)
	}
	m.store.Seed(symbol, candles)
	log.Printf("[feed] %s: seeded %d candles", symbol, len(candles))
	return nil
}

// drainRing waits for the dispatcher to empty the ring so a reseed cannot
// race with stale buffered candles.
func (m *Manager) drainRing(ctx context.Context, sub *subscription) {
	for sub.ring.Len() > 0 {
		select {
		case <-time.After(dispatchTick):
		case <-ctx.Done():
			return
		}
	}
}

// dispatch drains the ring into the store and fans closed candles out to
// OnClosed. Single consumer of the ring, single appender for the symbol.
func (m *Manager) dispatch(ctx context.Context, sub *subscription, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				c, ok := sub.ring.Pop()
				if !ok {
					break
				}
				if !m.store.Append(sub.symbol, c) {
					continue // duplicate after reseed
				}
				if m.OnClosed != nil {
					m.OnClosed(c)
				}
			}
		}
	}
}

// klineEvent is the venue's kline stream payload.
type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// consume dials the stream and reads until error or cancellation.
func (m *Manager) consume(ctx context.Context, sub *subscription) error {
	url := m.hist.StreamURL(sub.symbol, m.interval)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	sub.state.Store(int32(StateConnected))
	log.Printf("[feed] %s: connected %s", sub.symbol, url)

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	// Unblock the read on cancellation.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		var ev klineEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("[feed] %s: bad message: %v", sub.symbol, err)
			continue
		}
		if ev.Event != "kline" {
			continue
		}

		price, err := strconv.ParseFloat(ev.Kline.Close, 64)
		if err != nil {
			log.Printf("[feed] %s: bad close price %q", sub.symbol, ev.Kline.Close)
			continue
		}
		if m.OnPrice != nil {
			m.OnPrice(model.PriceUpdate{Symbol: sub.symbol, Price: price, At: time.Now()})
		}
		if !ev.Kline.Closed {
			continue
		}

		c := model.Candle{
			Symbol:   sub.symbol,
			Interval: ev.Kline.Interval,
			OpenTime: time.UnixMilli(ev.Kline.OpenTime).UTC(),
			Open:     parseOr(ev.Kline.Open),
			High:     parseOr(ev.Kline.High),
			Low:      parseOr(ev.Kline.Low),
			Close:    price,
			Volume:   parseOr(ev.Kline.Volume),
		}
		if !sub.ring.Push(c) {
			log.Printf("[feed] %s: ring full, dropped candle %s", sub.symbol, c.Key())
			if m.OnOverflow != nil {
				m.OnOverflow(sub.symbol)
			}
		}
	}
}

func parseOr(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
