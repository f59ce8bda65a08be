// Package redis mirrors closed candles, indicator snapshots, and live prices
// into Redis for dashboards and external consumers. Writes are pipelined and
// never on the trading path: the engine publishes via the fan-out bus and a
// slow or down Redis can only cost mirror data, never a decision.
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trendbotv1/internal/model"
)

const (
	// Stream trimming: ~3.5 days of 5m candles.
	streamMaxLen = 1000
	latestTTL    = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer mirrors market state to Redis.
type Writer struct {
	client *goredis.Client
}

// New connects and verifies the server is reachable before returning.
func New(cfg WriterConfig) (*Writer, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: c}, nil
}

// Client exposes the connection for liveness pings.
func (w *Writer) Client() *goredis.Client { return w.client }

// Run mirrors closed candles from candleCh until ctx is cancelled or the
// channel closes. Write failures are logged; the loop keeps going.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := w.writeCandle(ctx, c); err != nil {
				log.Printf("[redis] pipeline error for %s: %v", c.Key(), err)
			}
		}
	}
}

// writeCandle pipelines SET latest + XADD stream + PUBLISH for one closed
// candle.
func (w *Writer) writeCandle(ctx context.Context, c model.Candle) error {
	suffix := c.Interval + ":" + c.Symbol
	payload := string(c.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "candle:"+c.Interval+":latest:"+c.Symbol, payload, latestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "candle:" + suffix,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(ctx, "pub:candle:"+suffix, payload)

	_, err := pipe.Exec(ctx)
	return err
}

// writeSnapshot mirrors the latest indicator snapshot for a symbol. SET
// latest + PUBLISH, no stream; only the newest evaluation matters.
func (w *Writer) writeSnapshot(ctx context.Context, symbol string, snap model.IndicatorSnapshot) error {
	payload := string(snap.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "snapshot:latest:"+symbol, payload, latestTTL)
	pipe.Publish(ctx, "pub:snapshot:"+symbol, payload)

	_, err := pipe.Exec(ctx)
	return err
}

// WritePrice mirrors the latest forming-candle price. SET only; prices are
// too frequent to stream.
func (w *Writer) WritePrice(ctx context.Context, upd model.PriceUpdate) {
	val := strconv.FormatFloat(upd.Price, 'f', -1, 64)
	if err := w.client.Set(ctx, "price:latest:"+upd.Symbol, val, latestTTL).Err(); err != nil {
		log.Printf("[redis] price write error for %s: %v", upd.Symbol, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
