// Package registry holds the current watch-set. Watching a symbol starts
// its feed subscription; unwatching tears it down. Both are idempotent.
package registry

import (
	"context"
	"log"
	"sort"
	"sync"
)

// Subscriber is the feed surface the registry drives.
type Subscriber interface {
	Subscribe(ctx context.Context, symbol string)
	Unsubscribe(symbol string)
}

// Registry is the bookkeeping for watched instruments.
type Registry struct {
	mu      sync.Mutex
	watched map[string]bool
	feed    Subscriber
	max     int

	// OnWatch fires after a symbol is added (outside the lock).
	OnWatch func(symbol string)
	// OnUnwatch fires after a symbol is removed (outside the lock).
	OnUnwatch func(symbol string)
}

// New creates a registry driving feed. max caps the watch-set size; zero
// means unbounded.
func New(feed Subscriber, max int) *Registry {
	return &Registry{
		watched: make(map[string]bool),
		feed:    feed,
		max:     max,
	}
}

// Watch adds symbol to the watch-set and subscribes its feed. Adding an
// already-watched symbol is a no-op. Returns false when the watch-set is
// full or the symbol was already present.
func (r *Registry) Watch(ctx context.Context, symbol string) bool {
	r.mu.Lock()
	if r.watched[symbol] {
		r.mu.Unlock()
		return false
	}
	if r.max > 0 && len(r.watched) >= r.max {
		r.mu.Unlock()
		log.Printf("[registry] watch-set full (%d), not adding %s", r.max, symbol)
		return false
	}
	r.watched[symbol] = true
	r.mu.Unlock()

	log.Printf("[registry] watching %s", symbol)
	r.feed.Subscribe(ctx, symbol)
	if r.OnWatch != nil {
		r.OnWatch(symbol)
	}
	return true
}

// Unwatch removes symbol and tears down its subscription. Removing an
// unwatched symbol is a no-op.
func (r *Registry) Unwatch(symbol string) bool {
	r.mu.Lock()
	if !r.watched[symbol] {
		r.mu.Unlock()
		return false
	}
	delete(r.watched, symbol)
	r.mu.Unlock()

	log.Printf("[registry] unwatching %s", symbol)
	r.feed.Unsubscribe(symbol)
	if r.OnUnwatch != nil {
		r.OnUnwatch(symbol)
	}
	return true
}

// List returns the watched symbols, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.watched))
	for s := range r.watched {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the watch-set size.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watched)
}

// Clear unwatches everything. Used during the coordinated restart.
func (r *Registry) Clear() {
	for _, s := range r.List() {
		r.Unwatch(s)
	}
}
