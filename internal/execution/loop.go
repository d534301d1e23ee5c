package execution

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/if001/trikernel/internal/logging"
)

// Loop periodically drives the dispatcher while the worker pool runs
// alongside. Non-fatal tick errors are logged and the loop continues; the
// only way out is context cancellation.
type Loop struct {
	dispatcher *Dispatcher
	pool       *Pool
	interval   time.Duration
	logger     logging.Logger
}

// NewLoop binds a dispatcher and a pool under one driver.
func NewLoop(dispatcher *Dispatcher, pool *Pool, interval time.Duration, logger logging.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	return &Loop{
		dispatcher: dispatcher,
		pool:       pool,
		interval:   interval,
		logger:     logging.OrNop(logger),
	}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return l.pool.Run(ctx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			if err := l.dispatcher.RunOnce(ctx); err != nil {
				l.logger.Error("dispatcher tick failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return group.Wait()
}
