package chat

import (
	"context"
	"time"

	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
	"github.com/suPer8Hu/ai-prompt-service/internal/metrics"
)

const purgeLockKey = "chat:purge"

// Locker is a cross-process mutex, so that only one replica purges at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Sweeper periodically deletes sessions idle for longer than expiry.
type Sweeper struct {
	store    *Store
	expiry   time.Duration
	interval time.Duration
	locker   Locker
	metrics  metrics.Metrics
	now      func() time.Time
}

// NewSweeper builds a Sweeper. locker may be nil when a single process runs.
func NewSweeper(store *Store, expiry, interval time.Duration, locker Locker, m metrics.Metrics) *Sweeper {
	if m == nil {
		m = metrics.Noop{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		expiry:   expiry,
		interval: interval,
		locker:   locker,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logging.Info("purge", "sweeper started", "expiry", s.expiry, "interval", s.interval)
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("purge", "sweeper stopped")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		logging.Error("purge", "sweep failed", "err", err)
	}
}

// SweepOnce purges expired sessions and reports how many were removed. It
// returns 0 without touching the store when another process holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	failed := false
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, purgeLockKey, s.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			logging.Info("purge", "another instance holds the purge lock")
			return 0, nil
		}
		// held until it expires on success, so replicas sweep once per interval
		defer func() {
			if !failed {
				return
			}
			if err := s.locker.Unlock(context.WithoutCancel(ctx), purgeLockKey, token); err != nil {
				logging.Warn("purge", "unlock failed", "err", err)
			}
		}()
	}

	cutoff := s.now().Add(-s.expiry)
	n, err := s.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		failed = true
		return 0, err
	}
	s.metrics.AddSessionsPurged(n)
	if n > 0 {
		logging.Info("purge", "purged expired sessions", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
