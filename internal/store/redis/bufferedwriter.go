package redis

import (
	"context"
	"log"
	"sync"

	"trendbotv1/internal/model"
)

// pending is one write queued while the breaker is open.
type pending struct {
	candle   *model.Candle
	symbol   string
	snapshot *model.IndicatorSnapshot
}

// BufferedWriter routes candle and snapshot mirrors through the circuit
// breaker. While the breaker is open, writes queue in memory (oldest dropped
// past maxBuf) and replay when the breaker closes again, so a Redis outage
// costs staleness, not data loss.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	queue  []pending
	maxBuf int

	// OnBuffer fires for every queued write; OnFlush after a replay.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedWriter wraps w behind cb. maxBufferSize caps the queue
// (default 10000). The breaker's close transition triggers the replay.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		maxBuf: maxBufferSize,
	}

	chained := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if chained != nil {
			chained(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// WriteCandle mirrors a closed candle, queueing it if the breaker is open.
func (bw *BufferedWriter) WriteCandle(c model.Candle) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeCandle(bw.ctx, c)
	})
	if err == ErrCircuitOpen {
		bw.enqueue(pending{candle: &c})
		return nil
	}
	return err
}

// WriteSnapshot mirrors an indicator snapshot, queueing it if the breaker
// is open.
func (bw *BufferedWriter) WriteSnapshot(symbol string, snap model.IndicatorSnapshot) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeSnapshot(bw.ctx, symbol, snap)
	})
	if err == ErrCircuitOpen {
		bw.enqueue(pending{symbol: symbol, snapshot: &snap})
		return nil
	}
	return err
}

func (bw *BufferedWriter) enqueue(p pending) {
	bw.mu.Lock()
	if len(bw.queue) >= bw.maxBuf {
		bw.queue = bw.queue[1:]
	}
	bw.queue = append(bw.queue, p)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays the queue through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	replay := bw.queue
	bw.queue = nil
	bw.mu.Unlock()
	if len(replay) == 0 {
		return
	}

	for _, p := range replay {
		var err error
		switch {
		case p.candle != nil:
			err = bw.writer.writeCandle(bw.ctx, *p.candle)
		case p.snapshot != nil:
			err = bw.writer.writeSnapshot(bw.ctx, p.symbol, *p.snapshot)
		}
		if err != nil {
			log.Printf("[redis] replay write failed: %v", err)
		}
	}

	log.Printf("[redis] circuit closed, replayed %d buffered writes", len(replay))
	if bw.OnFlush != nil {
		bw.OnFlush(len(replay))
	}
}

// PendingCount reports how many writes wait for the breaker to close.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.queue)
}
