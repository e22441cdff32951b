package chat

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/suPer8Hu/ai-prompt-service/internal/store/redisstore"
)

type countingMetrics struct {
	purged int64
}

func (m *countingMetrics) ObserveRequest(string, string, string, float64) {}
func (m *countingMetrics) ObserveGeneration(string, string, float64)      {}
func (m *countingMetrics) AddSessionsPurged(n int64)                      { m.purged += n }

func seedExpired(t *testing.T, store *Store, now time.Time) (old, fresh *Session) {
	t.Helper()
	store.now = func() time.Time { return now.Add(-25 * time.Hour) }
	old = mustSession(t, store, "")
	store.now = func() time.Time { return now.Add(-time.Hour) }
	fresh = mustSession(t, store, "")
	return old, fresh
}

func TestSweepOnceWithoutLocker(t *testing.T) {
	store := NewStore(openTestDB(t))
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	old, fresh := seedExpired(t, store, now)

	m := &countingMetrics{}
	sw := NewSweeper(store, 24*time.Hour, time.Hour, nil, m)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || m.purged != 1 {
		t.Fatalf("expected 1 purged, got n=%d metric=%d", n, m.purged)
	}
	if _, err := store.GetSession(context.Background(), old.ID); err == nil {
		t.Fatalf("old session survived")
	}
	if _, err := store.GetSession(context.Background(), fresh.ID); err != nil {
		t.Fatalf("fresh session purged: %v", err)
	}
}

func TestSweepOnceHonoursLock(t *testing.T) {
	mr := miniredis.RunT(t)
	locks, err := redisstore.New(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = locks.Close() })

	store := NewStore(openTestDB(t))
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	old, _ := seedExpired(t, store, now)

	// another replica is mid-sweep
	if _, ok, err := locks.TryLock(context.Background(), purgeLockKey, time.Minute); err != nil || !ok {
		t.Fatalf("pre-lock: ok=%v err=%v", ok, err)
	}

	sw := NewSweeper(store, 24*time.Hour, time.Minute, locks, nil)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected skipped sweep, n=%d err=%v", n, err)
	}
	if _, err := store.GetSession(context.Background(), old.ID); err != nil {
		t.Fatalf("session purged while lock held: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	n, err = sw.SweepOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected sweep after lock expiry, n=%d err=%v", n, err)
	}
	// the lock stays held for the interval after a successful sweep
	if _, ok, _ := locks.TryLock(context.Background(), purgeLockKey, time.Minute); ok {
		t.Fatalf("expected purge lock to be held after sweep")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := NewStore(openTestDB(t))
	sw := NewSweeper(store, time.Hour, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
