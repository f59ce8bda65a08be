package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trendbotv1/internal/candlestore"
	"trendbotv1/internal/model"
)

type fakeHistory struct {
	mu      sync.Mutex
	batches [][]model.Candle // successive Klines responses; last one repeats
	calls   int
	err     error
	url     string
}

func (f *fakeHistory) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	return f.batches[i], nil
}

func (f *fakeHistory) StreamURL(symbol, interval string) string {
	return f.url
}

func seedCandles(openMs ...int64) []model.Candle {
	out := make([]model.Candle, len(openMs))
	for i, ms := range openMs {
		out[i] = model.Candle{
			Symbol:   "BTCUSDT",
			Interval: "5m",
			OpenTime: time.UnixMilli(ms).UTC(),
			Close:    100,
		}
	}
	return out
}

func klineJSON(openMs int64, closed bool) string {
	return fmt.Sprintf(`{"e":"kline","s":"BTCUSDT","k":{"t":%d,"i":"5m","o":"1","h":"2","l":"0.5","c":"1.5","v":"10","x":%v}}`, openMs, closed)
}

// klineServer upgrades each connection and runs the per-connection script.
func klineServer(t *testing.T, scripts []func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	var connN atomic.Int32
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := int(connN.Add(1)) - 1
		if n >= len(scripts) {
			n = len(scripts) - 1
		}
		scripts[n](conn)
	}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// A disconnect mid-stream must reconnect, reseed, and resume appends
// without duplicating the last-seen candle.
func TestReconnectNoDuplicates(t *testing.T) {
	hold := make(chan struct{})

	srv := klineServer(t, []func(*websocket.Conn){
		func(c *websocket.Conn) {
			c.WriteMessage(websocket.TextMessage, []byte(klineJSON(100, true)))
			c.WriteMessage(websocket.TextMessage, []byte(klineJSON(200, true)))
			time.Sleep(300 * time.Millisecond) // let the client drain
			c.Close()
		},
		func(c *websocket.Conn) {
			// replays the last-seen candle, then a new one
			c.WriteMessage(websocket.TextMessage, []byte(klineJSON(200, true)))
			c.WriteMessage(websocket.TextMessage, []byte(klineJSON(300, true)))
			<-hold
			c.Close()
		},
	})
	defer srv.Close()
	defer close(hold) // unblock the handler before the server shuts down

	hist := &fakeHistory{
		url: "ws" + strings.TrimPrefix(srv.URL, "http"),
		batches: [][]model.Candle{
			seedCandles(0),
			seedCandles(0, 100, 200), // history has caught up by reconnect time
		},
	}

	store := candlestore.New(288)
	mgr := NewManager(hist, store, "5m", 288)
	mgr.ReconnectDelay = 50 * time.Millisecond

	var mu sync.Mutex
	var closed []int64
	mgr.OnClosed = func(c model.Candle) {
		mu.Lock()
		closed = append(closed, c.OpenTime.UnixMilli())
		mu.Unlock()
	}
	reconnects := atomic.Int32{}
	mgr.OnReconnect = func(string) { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Subscribe(ctx, "BTCUSDT")
	defer mgr.Close()

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closed) >= 3
	})

	mu.Lock()
	got := append([]int64(nil), closed...)
	mu.Unlock()

	want := []int64{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("closed candles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closed candles = %v, want %v", got, want)
		}
	}
	if reconnects.Load() < 1 {
		t.Error("expected at least one reconnect")
	}

	// window must be strictly increasing with no duplicate of 200
	snap := store.Snapshot("BTCUSDT")
	for i := 1; i < len(snap); i++ {
		if !snap[i].OpenTime.After(snap[i-1].OpenTime) {
			t.Errorf("window not strictly increasing at %d: %v -> %v",
				i, snap[i-1].OpenTime, snap[i].OpenTime)
		}
	}
}

func TestSeedFailureIsFatalForInstrument(t *testing.T) {
	hist := &fakeHistory{err: errors.New("boom")}
	store := candlestore.New(288)
	mgr := NewManager(hist, store, "5m", 288)
	mgr.SeedRetryBase = time.Millisecond
	mgr.SeedMaxRetry = 3

	failed := make(chan error, 1)
	mgr.OnSeedFailure = func(symbol string, err error) {
		failed <- err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Subscribe(ctx, "ETHUSDT")
	defer mgr.Close()

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("expected non-nil seed failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("seed failure never surfaced")
	}

	hist.mu.Lock()
	calls := hist.calls
	hist.mu.Unlock()
	if calls != 3 {
		t.Errorf("seed attempts = %d, want 3", calls)
	}
}

func TestSubscribeTwiceIsNoop(t *testing.T) {
	hist := &fakeHistory{err: errors.New("unreachable")}
	mgr := NewManager(hist, candlestore.New(10), "5m", 10)
	mgr.SeedRetryBase = time.Millisecond
	mgr.SeedMaxRetry = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Subscribe(ctx, "BTCUSDT")
	mgr.Subscribe(ctx, "BTCUSDT")
	if n := len(mgr.Symbols()); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
	mgr.Close()
}

func TestUnsubscribeDropsWindow(t *testing.T) {
	hold := make(chan struct{})
	srv := klineServer(t, []func(*websocket.Conn){
		func(c *websocket.Conn) {
			<-hold
			c.Close()
		},
	})
	defer srv.Close()
	defer close(hold)

	hist := &fakeHistory{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		batches: [][]model.Candle{seedCandles(0, 100)},
	}
	store := candlestore.New(10)
	mgr := NewManager(hist, store, "5m", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Subscribe(ctx, "BTCUSDT")

	waitFor(t, 2*time.Second, func() bool { return store.Len("BTCUSDT") == 2 })

	mgr.Unsubscribe("BTCUSDT")
	if store.Len("BTCUSDT") != 0 {
		t.Error("window should be dropped after unsubscribe")
	}
	if got := mgr.State("BTCUSDT"); got != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", got)
	}
}
