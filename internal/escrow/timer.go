package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically completes paid transactions whose escrow window has
// closed, so sellers get paid even when nobody reads the transaction.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a release sweep that runs every interval.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the sweep loop until ctx is cancelled or Stop is called. Call
// in a goroutine.
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
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in release sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Timer) sweep(ctx context.Context) {
	settled, err := t.service.SettleElapsed(ctx, t.service.Now())
	if err != nil {
		t.logger.Warn("release sweep failed", "error", err)
		return
	}
	if settled > 0 {
		t.logger.Info("release sweep completed transactions", "count", settled)
	}
}
