// Package metrics exposes Prometheus counters for the trading pipeline and
// a JSON health endpoint, served together on one HTTP listener.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading pipeline.
type Metrics struct {
	// Market data
	CandlesTotal    *prometheus.CounterVec // labels: symbol
	WSReconnects    *prometheus.CounterVec // labels: symbol
	SeedFailures    prometheus.Counter
	RingBufOverflow prometheus.Counter
	CandleLag       prometheus.Gauge

	// Fan-out backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Strategy
	DecisionsTotal  *prometheus.CounterVec // labels: decision
	EvaluateDur     prometheus.Histogram
	TakeProfitExits prometheus.Counter
	OpenPositions   prometheus.Gauge

	// Execution
	OrdersTotal       *prometheus.CounterVec // labels: side, status
	OrderRetriesTotal prometheus.Counter
	OrdersTooSmall    prometheus.Counter

	// Scanner
	ScanDur        prometheus.Histogram
	ScanCandidates prometheus.Gauge

	// Storage
	RedisWriteDur            prometheus.Histogram
	SQLiteCommitDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Lifecycle
	RestartsTotal prometheus.Counter
}

// evaluateBuckets cover the sub-millisecond range a pure indicator pass
// lands in; scanBuckets cover whole-market REST sweeps.
var (
	evaluateBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}
	scanBuckets     = []float64{1, 5, 10, 30, 60, 120}
)

func counter(reg *[]prometheus.Collector, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	*reg = append(*reg, c)
	return c
}

func counterVec(reg *[]prometheus.Collector, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	*reg = append(*reg, c)
	return c
}

func gauge(reg *[]prometheus.Collector, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	*reg = append(*reg, g)
	return g
}

func histogram(reg *[]prometheus.Collector, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	*reg = append(*reg, h)
	return h
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	var reg []prometheus.Collector
	m := &Metrics{
		CandlesTotal: counterVec(&reg, "trendbot_candles_total",
			"Closed candles appended per symbol", "symbol"),
		WSReconnects: counterVec(&reg, "trendbot_ws_reconnects_total",
			"WebSocket reconnections per symbol", "symbol"),
		SeedFailures: counter(&reg, "trendbot_seed_failures_total",
			"Instruments dropped after exhausting seed retries"),
		RingBufOverflow: counter(&reg, "trendbot_ringbuf_overflow_total",
			"Ring buffer push overflows (dropped candles)"),
		CandleLag: gauge(&reg, "trendbot_candle_lag_seconds",
			"Lag between candle close and pipeline processing"),
		FanoutDropsTotal: counterVec(&reg, "trendbot_fanout_drops_total",
			"Candles dropped by FanOut bus per subscriber", "subscriber"),
		DecisionsTotal: counterVec(&reg, "trendbot_decisions_total",
			"Strategy decisions emitted by type", "decision"),
		EvaluateDur: histogram(&reg, "trendbot_evaluate_duration_seconds",
			"Indicator evaluation latency per closed candle", evaluateBuckets),
		TakeProfitExits: counter(&reg, "trendbot_take_profit_exits_total",
			"Positions closed by the take-profit check"),
		OpenPositions: gauge(&reg, "trendbot_open_positions",
			"Currently open positions"),
		OrdersTotal: counterVec(&reg, "trendbot_orders_total",
			"Order submissions by side and outcome", "side", "status"),
		OrderRetriesTotal: counter(&reg, "trendbot_order_retries_total",
			"Order submissions retried after a rate limit"),
		OrdersTooSmall: counter(&reg, "trendbot_orders_too_small_total",
			"Intents rejected below the venue minimum notional"),
		ScanDur: histogram(&reg, "trendbot_scan_duration_seconds",
			"Full market scan latency", scanBuckets),
		ScanCandidates: gauge(&reg, "trendbot_scan_candidates",
			"Candidates returned by the last market scan"),
		RedisWriteDur: histogram(&reg, "trendbot_redis_write_duration_seconds",
			"Redis write latency", prometheus.DefBuckets),
		SQLiteCommitDur: histogram(&reg, "trendbot_sqlite_commit_duration_seconds",
			"SQLite batch commit latency", prometheus.DefBuckets),
		RedisCircuitBreakerState: gauge(&reg, "trendbot_redis_circuit_breaker_state",
			"Redis circuit breaker state (0=closed, 1=open, 2=half-open)"),
		RedisCircuitBreakerTrips: counter(&reg, "trendbot_redis_circuit_breaker_trips_total",
			"Times the Redis circuit breaker tripped open"),
		RedisBufferedWrites: counter(&reg, "trendbot_redis_buffered_writes_total",
			"Writes buffered locally while the Redis circuit breaker is open"),
		RestartsTotal: counter(&reg, "trendbot_restarts_total",
			"Clock-aligned full restarts performed"),
	}
	prometheus.MustRegister(reg...)
	return m
}

// HealthStatus is the mutable state behind /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	watched        []string
	feedsConnected int
	lastCandleTime time.Time
	openPositions  int
	paperMode      bool

	redisConnected  bool
	redisLatencyMs  float64
	sqliteOK        bool
	sqliteLatencyMs float64
	lastCheckAt     time.Time
	startedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startedAt: time.Now()}
}

func (h *HealthStatus) SetWatched(symbols []string, connected int) {
	h.mu.Lock()
	h.watched = symbols
	h.feedsConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.lastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetOpenPositions(n int) {
	h.mu.Lock()
	h.openPositions = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaperMode(v bool) {
	h.mu.Lock()
	h.paperMode = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	ok, ms := probe(func() error { return rdb.Ping(ctx).Err() })
	h.mu.Lock()
	h.redisConnected = ok
	h.redisLatencyMs = ms
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	ok, ms := probe(func() error { return db.PingContext(ctx) })
	h.mu.Lock()
	h.sqliteOK = ok
	h.sqliteLatencyMs = ms
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

func probe(fn func() error) (ok bool, latencyMs float64) {
	start := time.Now()
	err := fn()
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// StartLivenessChecker probes dependencies every interval until ctx ends.
// Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	Watched         []string `json:"watched"`
	FeedsConnected  int      `json:"feeds_connected"`
	LastCandleTime  string   `json:"last_candle_time"`
	CandleAge       string   `json:"candle_age"`
	OpenPositions   int      `json:"open_positions"`
	PaperMode       bool     `json:"paper_mode"`
	RedisConnected  bool     `json:"redis_connected"`
	RedisLatencyMs  float64  `json:"redis_latency_ms"`
	SQLiteOK        bool     `json:"sqlite_ok"`
	SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
	LastCheckAt     string   `json:"last_check_at"`
}

// ServeHTTP handles /healthz. Degraded when any watched feed is down or
// SQLite is unhealthy; unhealthy when every feed is down.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	rep := healthReport{
		Status:          "healthy",
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
		Watched:         h.watched,
		FeedsConnected:  h.feedsConnected,
		LastCandleTime:  h.lastCandleTime.Format(time.RFC3339),
		OpenPositions:   h.openPositions,
		PaperMode:       h.paperMode,
		RedisConnected:  h.redisConnected,
		RedisLatencyMs:  h.redisLatencyMs,
		SQLiteOK:        h.sqliteOK,
		SQLiteLatencyMs: h.sqliteLatencyMs,
		LastCheckAt:     h.lastCheckAt.Format(time.RFC3339),
	}
	if !h.lastCandleTime.IsZero() {
		rep.CandleAge = time.Since(h.lastCandleTime).Round(time.Millisecond).String()
	}
	degraded := h.feedsConnected < len(h.watched) || !h.sqliteOK
	dead := h.feedsConnected == 0 && len(h.watched) > 0
	h.mu.RUnlock()

	code := http.StatusOK
	if degraded {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if dead {
		rep.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server exposes /metrics and /healthz on one listener.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
