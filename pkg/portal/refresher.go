package portal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campuskit/portal-core/pkg/cache"
)

// OwnersLister is the slice of the account store the refresher needs.
type OwnersLister interface {
	Owners(ctx context.Context) ([]int64, error)
}

// Refresher periodically clears the cache namespace of every owner that
// holds accounts, so cached portal data never outlives one sweep interval
// even when no mutation triggers an invalidation.
type Refresher struct {
	store    OwnersLister
	cache    cache.Cache
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher. It is inert until Start is called.
func NewRefresher(store OwnersLister, c cache.Cache, interval time.Duration, logger *slog.Logger) (*Refresher, error) {
	if store == nil {
		return nil, errors.New("portal: owners lister is required")
	}
	if c == nil {
		return nil, errors.New("portal: cache is required")
	}
	if interval <= 0 {
		return nil, errors.New("portal: refresher interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{store: store, cache: c, interval: interval, logger: logger}, nil
}

// Start launches the sweep loop. Calling Start on a running refresher is
// an error.
func (r *Refresher) Start() error {
	if r.cancel != nil {
		return errors.New("portal: refresher already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)

	r.logger.Info("cache refresher started", "interval", r.interval)
	return nil
}

func (r *Refresher) loop(ctx context.Context) {
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

// Sweep clears the cache namespace of every owner holding accounts. A
// failure for one owner is logged and the sweep moves on.
func (r *Refresher) Sweep(ctx context.Context) {
	owners, err := r.store.Owners(ctx)
	if err != nil {
		r.logger.Error("listing owners for cache sweep failed", "error", err)
		return
	}
	if len(owners) == 0 {
		return
	}

	cleared := 0
	for _, owner := range owners {
		if err := r.cache.ClearOwner(ctx, owner); err != nil {
			r.logger.Warn("cache sweep failed for owner", "owner", owner, "error", err)
			continue
		}
		cleared++
	}

	r.logger.Debug("cache sweep finished", "owners", len(owners), "cleared", cleared)
}

// Close stops the sweep loop and waits for it to exit. Closing a never
// started refresher is a no-op.
func (r *Refresher) Close() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.logger.Info("cache refresher stopped")
}
