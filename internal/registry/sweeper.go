package registry

import (
	"context"
	"sync"
	"time"
)

// Sweeper runs SweepStale on a fixed interval. It tolerates being delayed
// (each tick sweeps against the wall clock, no assumption of exact
// periodicity) and is safe to run concurrently with registrations.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSweeper creates a background stale sweeper.
// A non-positive interval selects 5 seconds.
func NewSweeper(registry *Registry, interval time.Duration, logger Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. The loop stops when ctx is cancelled
// or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("stale sweeper started", "interval", s.interval)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stale sweeper stopped")
				return
			case <-ticker.C:
				swept, err := s.registry.SweepStale(ctx, time.Now().UTC())
				if err != nil {
					s.logger.Error("stale sweep failed", "error", err)
					continue
				}
				if len(swept) > 0 {
					s.logger.Info("stale sweep completed", "transitioned", len(swept))
				}
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
// Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}
