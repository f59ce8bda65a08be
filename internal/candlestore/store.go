// Package candlestore maintains the bounded, ordered candle window for each
// watched symbol. Each window is append-only with FIFO eviction; reads hand
// out copies so indicator evaluation never observes a half-updated window.
//
// Writes for a symbol come only from that symbol's feed goroutine, but reads
// (lane evaluation, metrics) may arrive from other goroutines, so each window
// carries its own lock.
package candlestore

import (
	"sync"

	"trendbotv1/internal/model"
)

// window is the per-symbol bounded candle sequence.
type window struct {
	mu       sync.RWMutex
	capacity int
	candles  []model.Candle // sorted by OpenTime, len <= capacity
}

// Store holds one window per symbol.
type Store struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*window

	// OnDuplicate is called when an append is rejected as a replay.
	OnDuplicate func(symbol string)
}

// New creates a Store whose windows hold at most capacity candles.
// Minimum capacity is 1.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		windows:  make(map[string]*window),
	}
}

func (s *Store) get(symbol string, create bool) *window {
	s.mu.RLock()
	w := s.windows[symbol]
	s.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.windows[symbol]; w == nil {
		w = &window{capacity: s.capacity, candles: make([]model.Candle, 0, s.capacity)}
		s.windows[symbol] = w
	}
	return w
}

// Seed replaces the symbol's window wholesale with the given candles.
// Input is assumed venue-ordered; duplicates by OpenTime are collapsed and
// only the trailing capacity candles are kept.
func (s *Store) Seed(symbol string, candles []model.Candle) {
	w := s.get(symbol, true)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.candles = w.candles[:0]
	for _, c := range candles {
		n := len(w.candles)
		if n > 0 && !c.OpenTime.After(w.candles[n-1].OpenTime) {
			continue // replayed or out-of-order seed row
		}
		w.candles = append(w.candles, c)
	}
	if over := len(w.candles) - w.capacity; over > 0 {
		w.candles = append(w.candles[:0], w.candles[over:]...)
	}
}

// Append inserts one closed candle, evicting the oldest when full.
// Returns false when the candle is rejected: duplicate OpenTime (feed replay)
// or older than the window head (out-of-order delivery). Rejection is silent
// by design; replays are expected after reconnects.
func (s *Store) Append(symbol string, c model.Candle) bool {
	w := s.get(symbol, true)

	w.mu.Lock()
	if n := len(w.candles); n > 0 && !c.OpenTime.After(w.candles[n-1].OpenTime) {
		w.mu.Unlock()
		if s.OnDuplicate != nil {
			s.OnDuplicate(symbol)
		}
		return false
	}

	if len(w.candles) >= w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
	w.mu.Unlock()
	return true
}

// Snapshot returns a copy of the symbol's window, oldest first.
// Returns nil for an unknown symbol.
func (s *Store) Snapshot(symbol string) []model.Candle {
	w := s.get(symbol, false)
	if w == nil {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Len returns the current window length for a symbol.
func (s *Store) Len(symbol string) int {
	w := s.get(symbol, false)
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Drop releases the window of a symbol that left the watch-set.
func (s *Store) Drop(symbol string) {
	s.mu.Lock()
	delete(s.windows, symbol)
	s.mu.Unlock()
}

// Symbols returns the symbols currently holding a window.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.windows))
	for sym := range s.windows {
		out = append(out, sym)
	}
	return out
}
