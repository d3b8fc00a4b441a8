package multiplayer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brainquiz/backend/internal/models"
)

// Reaper periodically tears down matches with no activity for longer than the timeout and
// deletes lobby records that never got a live match.
type Reaper struct {
	ctrl     *Controller
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReaper creates a reaper for ctrl.
func NewReaper(ctrl *Controller, interval, timeout time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{ctrl: ctrl, interval: interval, timeout: timeout, logger: logger}
}

// Start begins the sweep loop. Call Stop() to release resources.
func (r *Reaper) Start() {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	r.logger.Info("reaper started", zap.Duration("interval", r.interval), zap.Duration("timeout", r.timeout))
}

// Stop stops the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	<-r.done
	r.logger.Info("reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of matches torn down.
func (r *Reaper) Sweep(ctx context.Context) (reaped int) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reaper sweep panicked", zap.Any("panic", p))
		}
	}()

	now := r.ctrl.now()
	for _, m := range r.ctrl.registry.Snapshot() {
		m.mu.Lock()
		idle := now.Sub(m.lastActivity) > r.timeout
		ended := m.ended
		m.mu.Unlock()
		if !idle || ended {
			continue
		}
		r.ctrl.teardown(ctx, m, models.QuitInactivity)
		reaped++
	}

	codes, err := r.ctrl.store.ListMultiBefore(ctx, now.Add(-r.timeout))
	if err != nil {
		r.logger.Warn("reaper list lobbies failed", zap.Error(err))
		return reaped
	}
	for _, code := range codes {
		var err error
		r.ctrl.registry.IfAbsent(code, func() {
			err = r.ctrl.store.DeleteMulti(ctx, code)
		})
		if err != nil {
			r.logger.Warn("reaper delete lobby failed", zap.String("code", code), zap.Error(err))
		}
	}
	if reaped > 0 || len(codes) > 0 {
		r.logger.Info("reaper sweep", zap.Int("matches", reaped), zap.Int("stale_lobbies", len(codes)))
	}
	return reaped
}
