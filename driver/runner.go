package driver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/rsvfx/rsfuse/logging"
)

// Ticker is anything driven once per frame.
type Ticker interface {
	Tick(ctx context.Context) bool
}

// Runner calls Tick at a fixed interval, standing in for a render loop.
type Runner struct {
	ticker   Ticker
	clock    clock.Clock
	interval time.Duration
	logger   logging.Logger

	ticks   atomic.Int64
	updates atomic.Int64
}

// NewRunner returns a runner ticking t every interval on clk.
func NewRunner(t Ticker, clk clock.Clock, interval time.Duration, logger logging.Logger) *Runner {
	return &Runner{ticker: t, clock: clk, interval: interval, logger: logger}
}

// Run ticks until ctx is done. Ticks missed while a Tick is running are dropped.
func (r *Runner) Run(ctx context.Context) {
	t := r.clock.Ticker(r.interval)
	defer t.Stop()
	r.logger.Debugw("runner started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if r.ticker.Tick(ctx) {
			r.updates.Inc()
		}
		r.ticks.Inc()
	}
}

// Ticks returns how many ticks ran and how many of them updated the maps.
func (r *Runner) Ticks() (ticks, updates int64) {
	return r.ticks.Load(), r.updates.Load()
}
