package sessions

import (
	"context"
	"time"

	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/pkg/osa"
)

// IdleSweepConfig controls the idle-timeout sweep.
type IdleSweepConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// DefaultIdleSweepConfig returns the default session idle timeout.
func DefaultIdleSweepConfig() IdleSweepConfig {
	return IdleSweepConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// IdleSweeper periodically retires sessions that have had no activity for
// IdleTimeout, using the same ticker-driven sweep loop shape as a lease
// renewal loop, generalized from lease renewal to idle eviction.
type IdleSweeper struct {
	store  Store
	bus    *eventbus.Bus
	cfg    IdleSweepConfig
	stopCh chan struct{}
}

// NewIdleSweeper builds a sweeper over store. bus may be nil.
func NewIdleSweeper(store Store, bus *eventbus.Bus, cfg IdleSweepConfig) *IdleSweeper {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleSweepConfig().IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultIdleSweepConfig().SweepInterval
	}
	return &IdleSweeper{store: store, bus: bus, cfg: cfg, stopCh: make(chan struct{})}
}

// Run blocks, sweeping on cfg.SweepInterval, until ctx is cancelled or
// Stop is called.
func (w *IdleSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// Stop ends a running Run call.
func (w *IdleSweeper) Stop() {
	close(w.stopCh)
}

func (w *IdleSweeper) sweepOnce(ctx context.Context) {
	now := time.Now()
	for _, sess := range w.store.List(ctx) {
		if now.Sub(sess.LastActivity()) < w.cfg.IdleTimeout {
			continue
		}
		_ = w.store.Delete(ctx, sess.ID)
		if w.bus != nil {
			w.bus.Emit(ctx, osa.EventSystemEvent, sess.ID, map[string]any{
				"event": osa.SysEventSessionIdle,
			})
		}
	}
}
