// Package schedule provides the clock-aligned restart trigger. The venue
// trades around the clock, so the only scheduling concern is firing on exact
// wall-clock boundaries ("every 15 minutes, on the quarter hour") so candle
// windows and the watch-set rebuild line up with candle close times.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"
)

// NextBoundary returns the earliest instant strictly after t that falls on a
// multiple of every minutes since midnight UTC. every must be a divisor-ish
// positive minute count; non-positive values default to 15.
func NextBoundary(t time.Time, every int) time.Time {
	if every <= 0 {
		every = 15
	}
	step := time.Duration(every) * time.Minute
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := utc.Sub(midnight)
	next := midnight.Add((elapsed/step + 1) * step)
	return next
}

// UntilBoundary returns the wait from t to the next boundary.
func UntilBoundary(t time.Time, every int) time.Duration {
	return NextBoundary(t, every).Sub(t)
}

// Scheduler fires a callback on every clock-aligned boundary.
type Scheduler struct {
	every int
	// now is swappable for tests.
	now func() time.Time
}

// New creates a scheduler firing every `every` minutes on the boundary.
func New(every int) *Scheduler {
	return &Scheduler{every: every, now: time.Now}
}

// Run blocks, invoking fire at each boundary, until ctx is cancelled.
// fire runs synchronously; a slow fire delays the next boundary wait but
// boundaries themselves stay clock-aligned.
func (s *Scheduler) Run(ctx context.Context, fire func(ctx context.Context)) {
	for {
		wait := UntilBoundary(s.now(), s.every)
		log.Printf("[schedule] next boundary in %s", fmtDur(wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		fire(ctx)
	}
}

func fmtDur(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%02ds", m, s)
}
