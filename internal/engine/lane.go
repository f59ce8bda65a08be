// Package engine runs the per-instrument processing lanes and the
// coordinator that builds, restarts, and reconciles them.
//
// A Lane owns everything mutable about one instrument: its position, its
// evaluator state, and the hand-off channels the feed fills. All of it is
// touched by exactly one goroutine, so the lane carries no locks of its own.
package engine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"trendbotv1/internal/candlestore"
	"trendbotv1/internal/execution"
	"trendbotv1/internal/indicator"
	"trendbotv1/internal/logger"
	"trendbotv1/internal/model"
	"trendbotv1/internal/portfolio"
	"trendbotv1/internal/strategy"
)

// Submitter is the execution surface a lane needs. *execution.Gateway
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, symbol string, side model.Side, rawQty float64, reason string) (model.OrderResult, error)
}

// LaneHooks carry the cross-cutting concerns out of the lane: mirroring,
// metrics, notifications. All optional.
type LaneHooks struct {
	// OnSnapshot fires after every closed-candle evaluation.
	OnSnapshot func(symbol string, snap model.IndicatorSnapshot)
	// OnDecision fires for every decision, including holds.
	OnDecision func(symbol string, d model.Decision)
	// OnFill fires after a submission the lane acted on succeeded.
	OnFill func(res model.OrderResult, reason string)
	// OnTakeProfit fires when an intrabar take-profit exit fills.
	OnTakeProfit func(symbol string, pnl float64)
	// OnSubmitError fires when a submission the lane attempted failed.
	OnSubmitError func(symbol string, err error)
	// OnEvaluate observes the indicator evaluation latency.
	OnEvaluate func(d time.Duration)
}

const (
	laneCandleBuf = 16
	lanePriceBuf  = 64

	// submitTimeout bounds an order submission that has been detached from
	// lane cancellation, so a dead venue cannot wedge Done.
	submitTimeout = 30 * time.Second
)

// Lane is the single-goroutine pipeline stage for one instrument.
type Lane struct {
	symbol string
	store  *candlestore.Store
	eval   *strategy.Evaluator
	indCfg indicator.Config
	gw     Submitter
	book   *portfolio.Book
	risk   *portfolio.RiskManager // may be nil
	hooks  LaneHooks

	pos       model.Position
	lastPrice float64

	candleCh chan model.Candle
	priceCh  chan model.PriceUpdate
	done     chan struct{}
}

// NewLane creates a lane. initial is the reconciled starting position
// (flat when the account holds nothing for the symbol).
func NewLane(symbol string, store *candlestore.Store, eval *strategy.Evaluator,
	indCfg indicator.Config, gw Submitter, book *portfolio.Book,
	risk *portfolio.RiskManager, initial model.Position, hooks LaneHooks) *Lane {

	if initial.Side == "" {
		initial.Side = model.PositionFlat
	}
	initial.Symbol = symbol
	book.Set(initial)

	return &Lane{
		symbol:   symbol,
		store:    store,
		eval:     eval,
		indCfg:   indCfg,
		gw:       gw,
		book:     book,
		risk:     risk,
		hooks:    hooks,
		pos:      initial,
		candleCh: make(chan model.Candle, laneCandleBuf),
		priceCh:  make(chan model.PriceUpdate, lanePriceBuf),
		done:     make(chan struct{}),
	}
}

// OfferCandle hands a closed candle to the lane without blocking.
// Returns false if the lane's buffer is full.
func (l *Lane) OfferCandle(c model.Candle) bool {
	select {
	case l.candleCh <- c:
		return true
	default:
		return false
	}
}

// OfferPrice hands a forming-candle price to the lane without blocking.
// Price updates are best-effort; a dropped one is replaced by the next.
func (l *Lane) OfferPrice(u model.PriceUpdate) bool {
	select {
	case l.priceCh <- u:
		return true
	default:
		return false
	}
}

// Position returns the lane's current position. Callers outside the lane
// goroutine should use the Book instead; this is for the lane's owner after
// Run has returned.
func (l *Lane) Position() model.Position {
	return l.pos
}

// Done closes when Run has returned, with no submission left in flight.
func (l *Lane) Done() <-chan struct{} {
	return l.done
}

// Run drives the lane until ctx is cancelled. An in-progress submission
// finishes before Run returns.
func (l *Lane) Run(ctx context.Context) {
	defer close(l.done)
	ctx = logger.WithLane(ctx, l.symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-l.candleCh:
			l.onClosedCandle(ctx, c)
		case u := <-l.priceCh:
			l.onPrice(ctx, u)
		}
	}
}

// onClosedCandle re-evaluates the whole window and acts on the decision.
func (l *Lane) onClosedCandle(ctx context.Context, c model.Candle) {
	l.lastPrice = c.Close
	l.book.MarkPrice(l.symbol, c.Close)

	window := l.store.Snapshot(l.symbol)
	evalStart := time.Now()
	snap := indicator.Evaluate(window, l.indCfg)
	if l.hooks.OnEvaluate != nil {
		l.hooks.OnEvaluate(time.Since(evalStart))
	}
	if l.hooks.OnSnapshot != nil {
		l.hooks.OnSnapshot(l.symbol, snap)
	}

	now := time.Now()
	d := l.eval.OnSnapshot(now, snap, &l.pos)
	if l.hooks.OnDecision != nil {
		l.hooks.OnDecision(l.symbol, d)
	}
	if !d.Actionable() {
		return
	}

	switch d {
	case model.DecisionEnterLong, model.DecisionEnterShort:
		l.enter(ctx, now, d, snap)
	case model.DecisionExit:
		l.exit(ctx, now, "trend reversal")
	}
}

// onPrice checks the take-profit exit on a forming-candle price.
func (l *Lane) onPrice(ctx context.Context, u model.PriceUpdate) {
	l.lastPrice = u.Price
	l.book.MarkPrice(l.symbol, u.Price)

	now := time.Now()
	if l.eval.OnPrice(now, u.Price, &l.pos) != model.DecisionExit {
		return
	}

	pnl := l.pos.UnrealizedPnL(u.Price)
	if l.exit(ctx, now, "take profit") && l.hooks.OnTakeProfit != nil {
		l.hooks.OnTakeProfit(l.symbol, pnl)
	}
}

// enter opens a position in the decision's direction.
func (l *Lane) enter(ctx context.Context, now time.Time, d model.Decision, snap model.IndicatorSnapshot) {
	if l.lastPrice <= 0 {
		return
	}
	rawQty := l.eval.Policy().RawQty(l.lastPrice)
	notional := l.eval.Policy().OrderBudgetUSD

	if l.risk != nil {
		if ok, reason := l.risk.CanEnter(l.symbol, notional); !ok {
			log.Printf("[lane %s] entry blocked: %s", l.symbol, reason)
			return
		}
	}

	reason := "enter " + trendWord(snap.Trend)
	subCtx, cancelSub := submitContext(ctx)
	res, err := l.gw.Submit(subCtx, l.symbol, strategy.EntrySide(d), rawQty, reason)
	cancelSub()
	if err != nil {
		l.logSubmitError(ctx, "entry", err)
		return
	}

	side := model.PositionLong
	if d == model.DecisionEnterShort {
		side = model.PositionShort
	}
	l.pos = model.Position{
		Symbol:     l.symbol,
		Side:       side,
		EntryPrice: res.AvgPrice,
		Qty:        res.Qty,
		OpenedAt:   res.Submitted,
	}
	l.book.Set(l.pos)
	l.eval.Commit(now)

	if l.hooks.OnFill != nil {
		l.hooks.OnFill(res, reason)
	}
}

// exit flattens the open position. Reports whether it filled.
func (l *Lane) exit(ctx context.Context, now time.Time, reason string) bool {
	if !l.pos.Open() {
		return false
	}
	subCtx, cancelSub := submitContext(ctx)
	res, err := l.gw.Submit(subCtx, l.symbol, strategy.CloseSide(&l.pos), l.pos.Qty, reason)
	cancelSub()
	if err != nil {
		l.logSubmitError(ctx, "exit", err)
		return false
	}

	l.pos = model.Position{Symbol: l.symbol, Side: model.PositionFlat}
	l.book.Clear(l.symbol)
	l.eval.Commit(now)

	if l.hooks.OnFill != nil {
		l.hooks.OnFill(res, reason)
	}
	return true
}

// submitContext detaches an order submission from lane cancellation: once an
// order is on the wire it is fire-and-confirm, so a restart or shutdown must
// let it finish and record the result rather than abort it mid-request.
func submitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
}

func (l *Lane) logSubmitError(ctx context.Context, kind string, err error) {
	if l.hooks.OnSubmitError != nil {
		l.hooks.OnSubmitError(l.symbol, err)
	}
	switch {
	case errors.Is(err, execution.ErrOrderTooSmall):
		log.Printf("[lane %s] %s skipped: %v", l.symbol, kind, err)
	case errors.Is(err, execution.ErrSubmitInFlight):
		log.Printf("[lane %s] %s skipped, submission in flight", l.symbol, kind)
	case errors.Is(err, context.Canceled):
		// Shutting down.
	default:
		args := append(logger.LaneAttrs(ctx), "stage", kind, "err", err)
		slog.Error("order submission failed", args...)
	}
}

func trendWord(t model.TrendClass) string {
	switch t {
	case model.TrendUp:
		return "uptrend"
	case model.TrendDown:
		return "downtrend"
	case model.TrendSideways:
		return "range"
	default:
		return "signal"
	}
}
