// Package sweeper periodically deletes dead revocation entries.
package sweeper

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"sdushare/backend/internal/telemetry"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = time.Hour

// Store deletes revocation entries with expires_at < now.
type Store interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs Store.Sweep on a fixed interval. Failures are logged and retried on the next tick.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	emitter  telemetry.EventEmitter
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// New returns a Sweeper. interval <= 0 selects DefaultInterval. logger, emitter and metrics may be nil.
func New(store Store, interval time.Duration, logger *slog.Logger, emitter telemetry.EventEmitter, metrics *telemetry.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		emitter:  emitter,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("revocation sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("revocation sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep and returns the number of deleted entries.
// Errors are logged, never returned.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	start := s.now()
	n, err := s.store.Sweep(ctx, start)
	s.metrics.RecordSwept(ctx, n)
	if err != nil {
		if ctx.Err() != nil {
			return n
		}
		s.logger.Error("revocation sweep failed", "deleted", n, "error", err)
		return n
	}
	s.logger.Info("revocation sweep done", "deleted", n, "took", time.Since(start).String())
	if n > 0 {
		ev := telemetry.NewEvent(telemetry.EventRevocationsSwept, "")
		ev.Metadata = map[string]string{"deleted": strconv.FormatInt(n, 10)}
		telemetry.EmitAsync(s.emitter, ctx, ev)
	}
	return n
}
