package sweep

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Timer runs the sweep on an interval for deployments without an
// external scheduler.
type Timer struct {
	sweeper  *Sweeper
	interval time.Duration
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new in-process sweep timer.
func NewTimer(sweeper *Sweeper, interval time.Duration) *Timer {
	return &Timer{
		sweeper:  sweeper,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.sweeper.logger.Error("panic in sweep timer", "panic", fmt.Sprint(r))
		}
	}()
	if _, err := t.sweeper.Run(ctx, time.Now()); err != nil {
		t.sweeper.logger.Error("scheduled sweep failed", "error", err)
	}
}
