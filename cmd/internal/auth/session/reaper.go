package session

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically deletes session records whose expiry has passed.
//
// Expiry-on-read in Consume already keeps expired records from ever
// rotating; the reaper only stops the store from growing without bound,
// the way the storefront previously leaned on document-store TTLs.
type Reaper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
	metrics  *Metrics
}

// NewReaper constructs a Reaper. A nil metrics is fine.
func NewReaper(store Store, interval time.Duration, log *slog.Logger, metrics *Metrics) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Reaper{store: store, interval: interval, log: log, metrics: metrics}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
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

// Sweep deletes expired records once. Failures are logged, not fatal:
// the next tick retries.
func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.store.DeleteExpiredBefore(ctx, time.Now().UTC())
	if err != nil {
		r.log.Error("session.reaper.fail", "err", err)
		return
	}
	if n > 0 {
		r.log.Info("session.reaper.swept", "deleted", n)
		r.metrics.addReaped(n)
	}
}
