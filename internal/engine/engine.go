package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"trendbotv1/internal/candlestore"
	"trendbotv1/internal/execution"
	"trendbotv1/internal/indicator"
	"trendbotv1/internal/metrics"
	"trendbotv1/internal/model"
	"trendbotv1/internal/notification"
	"trendbotv1/internal/portfolio"
	"trendbotv1/internal/registry"
	"trendbotv1/internal/schedule"
	"trendbotv1/internal/strategy"
)

// Scans produces the ranked candidate list a rebuild watches.
// *scanner.Scanner satisfies it.
type Scans interface {
	Scan(ctx context.Context, limit int) ([]model.ScanCandidate, error)
}

// AccountSource reports the venue's open positions for startup reconcile.
// *binance.Client satisfies it. Nil in paper mode.
type AccountSource interface {
	Account(ctx context.Context) ([]model.AccountPosition, error)
}

// Config is the engine's tuning surface.
type Config struct {
	Policy       strategy.Policy
	Indicators   indicator.Config
	MaxWatch     int
	RestartEvery int           // minutes between clock-aligned restarts
	StopTimeout  time.Duration // max wait for lanes to drain on restart
}

// Deps are the engine's collaborators. Metrics, Health, Accounts and the
// sink callbacks are optional.
type Deps struct {
	Store    *candlestore.Store
	Registry *registry.Registry
	Scanner  Scans
	Gateway  Submitter
	Accounts AccountSource
	Book     *portfolio.Book
	PnL      *portfolio.PnLTracker
	Risk     *portfolio.RiskManager
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus

	// Mirror receives every accepted closed candle (the persistence bus).
	Mirror func(model.Candle)
	// SnapshotSink receives every computed indicator snapshot.
	SnapshotSink func(symbol string, snap model.IndicatorSnapshot)
	// ConnectedFeeds reports how many watched feeds hold a live connection.
	ConnectedFeeds func() int
}

const defaultStopTimeout = 30 * time.Second

// Engine owns the lane set. It builds lanes from scan results, routes feed
// events into them, and performs the periodic full restart.
type Engine struct {
	cfg  Config
	deps Deps

	// mu guards the lane map only. It is never held across a registry
	// call: Unwatch waits for the feed goroutine, and the feed goroutine
	// calls back into HandleClosedCandle, which needs this lock.
	mu         sync.Mutex
	lanes      map[string]*Lane
	laneCancel context.CancelFunc
}

// New creates an engine. Run starts it.
func New(cfg Config, deps Deps) *Engine {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		lanes: make(map[string]*Lane),
	}
}

// Run reconciles against the venue account, builds the initial lane set,
// and then restarts the whole pipeline at every clock boundary until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		return err
	}
	e.rebuild(ctx)

	if e.cfg.RestartEvery > 0 {
		schedule.New(e.cfg.RestartEvery).Run(ctx, e.restart)
	} else {
		<-ctx.Done()
	}

	e.teardown()
	return ctx.Err()
}

// reconcile seeds the book from the venue's open positions so a crash or
// deploy never orphans a live position.
func (e *Engine) reconcile(ctx context.Context) error {
	if e.deps.Accounts == nil {
		return nil
	}
	positions, err := e.deps.Accounts.Account(ctx)
	if err != nil {
		return err
	}
	for i := range positions {
		ap := &positions[i]
		if ap.Side() == model.PositionFlat {
			continue
		}
		qty := ap.Qty
		if qty < 0 {
			qty = -qty
		}
		e.deps.Book.Set(model.Position{
			Symbol:     ap.Symbol,
			Side:       ap.Side(),
			EntryPrice: ap.EntryPrice,
			Qty:        qty,
			OpenedAt:   time.Now(),
		})
		log.Printf("[engine] reconciled open position %s %s qty=%.8f entry=%.4f",
			ap.Symbol, ap.Side(), qty, ap.EntryPrice)
	}
	return nil
}

// restart is the scheduler's boundary callback: tear everything down, wait
// for in-flight submissions to finish, and rebuild from a fresh scan.
func (e *Engine) restart(ctx context.Context) {
	log.Printf("[engine] clock boundary, restarting pipeline")
	if e.deps.Metrics != nil {
		e.deps.Metrics.RestartsTotal.Inc()
	}
	e.teardown()
	e.rebuild(ctx)

	if e.deps.Notifier != nil {
		e.notify(notification.RestartAlert(e.deps.Registry.List()))
	}
}

// teardown stops every lane and unwatches every symbol. Lane goroutines
// finish any in-flight submission before reporting done; waiting caps at
// StopTimeout per restart, not per lane.
func (e *Engine) teardown() {
	e.mu.Lock()
	if e.laneCancel != nil {
		e.laneCancel()
		e.laneCancel = nil
	}
	stopped := e.lanes
	e.lanes = make(map[string]*Lane)
	e.mu.Unlock()

	// Clear waits for the feed goroutines, which may be mid-callback
	// into the engine; the lock is already released.
	e.deps.Registry.Clear()

	deadline := time.NewTimer(e.cfg.StopTimeout)
	defer deadline.Stop()
	for symbol, lane := range stopped {
		select {
		case <-lane.Done():
		case <-deadline.C:
			log.Printf("[engine] lane %s did not drain within %s", symbol, e.cfg.StopTimeout)
			// Keep collecting the rest without waiting further.
			deadline.Reset(0)
		}
	}
}

// rebuild scans the market and watches the picks. Symbols with an open
// position are watched first so an exit signal can always reach them.
func (e *Engine) rebuild(ctx context.Context) {
	watch := e.pickWatchSet(ctx)

	e.mu.Lock()
	laneCtx, cancel := context.WithCancel(context.Background())
	e.laneCancel = cancel
	e.mu.Unlock()

	for _, symbol := range watch {
		if !e.deps.Registry.Watch(ctx, symbol) {
			continue
		}
		// The feed seeds asynchronously; the lane is in place well
		// before the first closed candle routes to it.
		e.startLane(laneCtx, symbol)
	}

	e.updateHealth()
	log.Printf("[engine] watching %v", e.deps.Registry.List())
}

// pickWatchSet merges open-position symbols with fresh scan candidates,
// open positions first, capped at MaxWatch.
func (e *Engine) pickWatchSet(ctx context.Context) []string {
	seen := make(map[string]bool)
	var watch []string

	held := e.deps.Book.Positions()
	sort.Slice(held, func(i, j int) bool { return held[i].Symbol < held[j].Symbol })
	for _, p := range held {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			watch = append(watch, p.Symbol)
		}
	}

	scanStart := time.Now()
	candidates, err := e.deps.Scanner.Scan(ctx, e.cfg.MaxWatch)
	if err != nil {
		log.Printf("[engine] market scan failed: %v", err)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ScanDur.Observe(time.Since(scanStart).Seconds())
		e.deps.Metrics.ScanCandidates.Set(float64(len(candidates)))
	}

	for _, c := range candidates {
		if len(watch) >= e.cfg.MaxWatch {
			break
		}
		if !seen[c.Symbol] {
			seen[c.Symbol] = true
			watch = append(watch, c.Symbol)
		}
	}
	return watch
}

// startLane builds and launches the lane for symbol.
func (e *Engine) startLane(ctx context.Context, symbol string) *Lane {
	eval := strategy.New(e.cfg.Policy)
	initial := e.deps.Book.Get(symbol)
	lane := NewLane(symbol, e.deps.Store, eval, e.cfg.Indicators,
		e.deps.Gateway, e.deps.Book, e.deps.Risk, initial, e.laneHooks())
	e.mu.Lock()
	e.lanes[symbol] = lane
	e.mu.Unlock()
	go lane.Run(ctx)
	return lane
}

func (e *Engine) laneHooks() LaneHooks {
	return LaneHooks{
		OnSnapshot: func(symbol string, snap model.IndicatorSnapshot) {
			if e.deps.SnapshotSink != nil {
				e.deps.SnapshotSink(symbol, snap)
			}
		},
		OnDecision: func(symbol string, d model.Decision) {
			if e.deps.Metrics != nil {
				e.deps.Metrics.DecisionsTotal.WithLabelValues(string(d)).Inc()
			}
		},
		OnFill:        e.onFill,
		OnTakeProfit:  e.onTakeProfit,
		OnSubmitError: e.onSubmitError,
		OnEvaluate: func(d time.Duration) {
			if e.deps.Metrics != nil {
				e.deps.Metrics.EvaluateDur.Observe(d.Seconds())
			}
		},
	}
}

func (e *Engine) onFill(res model.OrderResult, reason string) {
	var realized float64
	if e.deps.PnL != nil {
		realized = e.deps.PnL.RecordFill(res)
	}
	if e.deps.Risk != nil && realized != 0 {
		e.deps.Risk.RecordRealized(realized)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.OrdersTotal.WithLabelValues(string(res.Side), "filled").Inc()
		e.deps.Metrics.OpenPositions.Set(float64(e.deps.Book.OpenCount()))
	}
	if e.deps.Health != nil {
		e.deps.Health.SetOpenPositions(e.deps.Book.OpenCount())
	}
	if e.deps.Notifier != nil {
		e.notify(notification.FillAlert(res, reason))
	}
}

func (e *Engine) onTakeProfit(symbol string, pnl float64) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.TakeProfitExits.Inc()
	}
	log.Printf("[engine] take profit %s pnl=%.4f", symbol, pnl)
}

func (e *Engine) onSubmitError(symbol string, err error) {
	if e.deps.Metrics == nil {
		return
	}
	switch {
	case errors.Is(err, execution.ErrOrderTooSmall):
		e.deps.Metrics.OrdersTooSmall.Inc()
	case errors.Is(err, context.Canceled):
	default:
		e.deps.Metrics.OrdersTotal.WithLabelValues("unknown", "failed").Inc()
	}
}

// HandleClosedCandle routes a closed candle from the feed into its lane and
// mirrors it to the persistence bus. Wired to feed.Manager.OnClosed.
func (e *Engine) HandleClosedCandle(c model.Candle) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.CandlesTotal.WithLabelValues(c.Symbol).Inc()
		e.deps.Metrics.CandleLag.Set(time.Since(c.OpenTime).Seconds())
	}
	if e.deps.Health != nil {
		e.deps.Health.SetLastCandleTime(time.Now())
	}
	if e.deps.Mirror != nil {
		e.deps.Mirror(c)
	}
	if lane := e.lane(c.Symbol); lane != nil {
		if !lane.OfferCandle(c) {
			log.Printf("[engine] lane %s candle buffer full, dropped %s", c.Symbol, c.OpenTime.UTC())
		}
	}
}

// HandlePrice routes a forming-candle price update into its lane.
// Wired to feed.Manager.OnPrice. Drops are silent; the next tick replaces it.
func (e *Engine) HandlePrice(u model.PriceUpdate) {
	if lane := e.lane(u.Symbol); lane != nil {
		lane.OfferPrice(u)
	}
}

// HandleSeedFailure unwatches a symbol whose history seed exhausted its
// retries. Wired to feed.Manager.OnSeedFailure.
func (e *Engine) HandleSeedFailure(symbol string, err error) {
	log.Printf("[engine] dropping %s, seed failed: %v", symbol, err)
	if e.deps.Metrics != nil {
		e.deps.Metrics.SeedFailures.Inc()
	}
	if e.deps.Notifier != nil {
		e.notify(notification.SeedFailureAlert(symbol, err))
	}

	// Unwatch off the feed goroutine: Unsubscribe waits for the
	// subscription that is reporting the failure.
	go func() {
		e.deps.Registry.Unwatch(symbol)
		e.mu.Lock()
		delete(e.lanes, symbol)
		e.mu.Unlock()
		e.updateHealth()
	}()
}

// HandleReconnect counts a dropped websocket connection.
// Wired to feed.Manager.OnReconnect.
func (e *Engine) HandleReconnect(symbol string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.WSReconnects.WithLabelValues(symbol).Inc()
	}
}

// Watched returns the symbols currently being traded.
func (e *Engine) Watched() []string {
	return e.deps.Registry.List()
}

func (e *Engine) lane(symbol string) *Lane {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lanes[symbol]
}

func (e *Engine) updateHealth() {
	if e.deps.Health == nil {
		return
	}
	connected := 0
	if e.deps.ConnectedFeeds != nil {
		connected = e.deps.ConnectedFeeds()
	}
	e.deps.Health.SetWatched(e.deps.Registry.List(), connected)
	e.deps.Health.SetOpenPositions(e.deps.Book.OpenCount())
}

func (e *Engine) notify(alert notification.Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.deps.Notifier.Send(ctx, alert); err != nil {
			log.Printf("[engine] notification failed: %v", err)
		}
	}()
}
