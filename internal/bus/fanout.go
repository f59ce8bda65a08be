// Package bus fans closed candles out to the persistence subscribers.
package bus

import (
	"context"
	"log"
	"sync"

	"trendbotv1/internal/model"
)

// FanOut broadcasts candles from one input channel to every subscriber.
// Delivery is drop-on-full per subscriber: a slow sqlite or redis consumer
// loses candles instead of backing up the trading path.
type FanOut struct {
	mu      sync.RWMutex
	subs    []chan model.Candle
	bufSize int

	// OnDrop fires with the 0-based subscriber index whose channel was full.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut whose subscriber channels buffer bufSize candles.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers and returns a new subscriber channel. The channel is
// closed when Run returns.
func (f *FanOut) Subscribe() <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// Run broadcasts from input until ctx is cancelled or input closes, then
// closes every subscriber channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer f.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-input:
			if !ok {
				return
			}
			f.broadcast(c)
		}
	}
}

func (f *FanOut) broadcast(c model.Candle) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.subs {
		select {
		case ch <- c:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				log.Printf("[bus] subscriber %d full, dropping candle %s", i, c.Key())
			}
		}
	}
}

func (f *FanOut) closeAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		close(ch)
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats reports the fill level of every subscriber channel, in
// subscription order.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ChannelStat, len(f.subs))
	for i, ch := range f.subs {
		out[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return out
}
