package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/ai-prompt-service/internal/db"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	gdb, err := db.Connect("sqlite", dsn, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb, Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func mustSession(t *testing.T, s *Store, systemPrompt string) *Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), ProviderClaude, "claude-3-sonnet-20240229", systemPrompt)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateAndGetSession(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, ProviderGemini, " gemini-pro ", "You are terse.")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.ID) != 36 {
		t.Fatalf("expected uuid id, got %q", sess.ID)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Provider != ProviderGemini || got.Model != "gemini-pro" || got.SystemPrompt != "You are terse." {
		t.Fatalf("unexpected session: %+v", got)
	}

	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", msgs)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, err := store.CreateSession(ctx, Provider("openai"), "gpt", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for provider, got %v", err)
	}
	if _, err := store.CreateSession(ctx, ProviderClaude, "  ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for model, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.ListMessages(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from list, got %v", err)
	}
	if _, err := store.AppendMessage(ctx, "missing", RoleHuman, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from append, got %v", err)
	}
}

func TestAppendMessageAssignsSequentialOrder(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	sess := mustSession(t, store, "")

	roles := []string{RoleHuman, RoleAssistant, RoleHuman}
	for i, role := range roles {
		m, err := store.AppendMessage(ctx, sess.ID, role, fmt.Sprintf("turn %d", i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if m.Order != i {
			t.Fatalf("append %d: order = %d", i, m.Order)
		}
	}

	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Order != i || m.Role != roles[i] || m.Content != fmt.Sprintf("turn %d", i) {
			t.Fatalf("message %d: %+v", i, m)
		}
	}
}

func TestAppendMessageBumpsUpdatedAt(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	sess := mustSession(t, store, "")

	store.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := store.AppendMessage(ctx, sess.ID, RoleHuman, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("updated_at = %s", got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at = %s", got.CreatedAt)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	sess := mustSession(t, store, "")

	if _, err := store.AppendMessage(ctx, sess.ID, "system", "hi"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for role, got %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, RoleHuman, " \n "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for content, got %v", err)
	}
}

// The in-memory database runs on a single connection, so these appends are
// serialized by the pool; TestConcurrentAppendsOnSharedFile drives the order
// race itself.
func TestConcurrentAppendsGetDistinctOrders(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	sess := mustSession(t, store, "")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.AppendMessage(ctx, sess.ID, RoleHuman, fmt.Sprintf("m%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	orders := make([]int, 0, len(msgs))
	for _, m := range msgs {
		orders = append(orders, m.Order)
	}
	sort.Ints(orders)
	if len(orders) != n {
		t.Fatalf("expected %d messages, got %d", n, len(orders))
	}
	for i, o := range orders {
		if o != i {
			t.Fatalf("orders are not 0..%d: %v", n-1, orders)
		}
	}
}

// openFileDB opens a file-backed database whose pool holds several
// connections, so transactions really interleave.
func openFileDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	gdb, err := db.Connect("sqlite", dsn, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb, Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

func TestConcurrentAppendsOnSharedFile(t *testing.T) {
	store := NewStore(openFileDB(t, 4))
	// Writers that lose the lock upgrade fail fast and start over.
	store.appendAttempts = 200
	ctx := context.Background()
	sess := mustSession(t, store, "")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, err := store.AppendMessage(ctx, sess.ID, RoleHuman, fmt.Sprintf("m%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Order != i {
			t.Fatalf("message %d has order %d", i, m.Order)
		}
	}
}

// stealSeq makes the next steals message inserts lose their seq to a row
// written inside the same transaction.
func stealSeq(t *testing.T, gdb *gorm.DB, steals int) *int {
	t.Helper()
	var mu sync.Mutex
	stolen := 0
	err := gdb.Callback().Create().Before("gorm:create").Register("test:steal_seq", func(tx *gorm.DB) {
		m, ok := tx.Statement.Dest.(*Message)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if stolen >= steals {
			return
		}
		stolen++
		if err := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO messages (id, session_id, role, content, seq, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			fmt.Sprintf("rival-%d", stolen), m.SessionID, RoleHuman, "rival", m.Order, time.Now().UTC(),
		).Error; err != nil {
			t.Errorf("rival insert: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return &stolen
}

func TestAppendMessageRetriesOnOrderConflict(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	ctx := context.Background()
	sess := mustSession(t, store, "")

	stolen := stealSeq(t, gdb, 1)

	m, err := store.AppendMessage(ctx, sess.ID, RoleHuman, "hello")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if *stolen != 1 {
		t.Fatalf("expected one conflict, got %d", *stolen)
	}
	// the rival row rolled back with the losing transaction
	if m.Order != 0 {
		t.Fatalf("order = %d", m.Order)
	}
	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestAppendMessageGivesUpAfterRepeatedConflicts(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	store.appendAttempts = 3
	ctx := context.Background()
	sess := mustSession(t, store, "")

	stolen := stealSeq(t, gdb, 100)

	_, err := store.AppendMessage(ctx, sess.ID, RoleHuman, "hello")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if *stolen != 3 {
		t.Fatalf("expected 3 attempts, got %d", *stolen)
	}
	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected nothing stored, got %+v", msgs)
	}
}

func TestDeleteSessionRemovesChildren(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	ctx := context.Background()

	sess := mustSession(t, store, "")
	keep := mustSession(t, store, "")
	if _, _, err := store.EnqueueJob(ctx, &Job{
		ID: "01HZZZZZZZZZZZZZZZZZZZZZZ0", SessionID: sess.ID, Status: JobQueued,
	}, "hi"); err != nil {
		t.Fatalf("enqueue job: %v", err)
	}
	if _, err := store.AppendMessage(ctx, keep.ID, RoleHuman, "stay"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	var orphans int64
	gdb.Model(&Message{}).Where("session_id = ?", sess.ID).Count(&orphans)
	if orphans != 0 {
		t.Fatalf("expected no orphan messages, got %d", orphans)
	}
	gdb.Model(&Job{}).Where("session_id = ?", sess.ID).Count(&orphans)
	if orphans != 0 {
		t.Fatalf("expected no orphan jobs, got %d", orphans)
	}

	msgs, err := store.ListMessages(ctx, keep.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("other session touched: %v %+v", err, msgs)
	}

	// deleting again is a no-op
	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	ctx := context.Background()

	cutoff := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	at := func(ts time.Time) { store.now = func() time.Time { return ts } }

	at(cutoff.Add(-48 * time.Hour))
	old := mustSession(t, store, "")
	if _, err := store.AppendMessage(ctx, old.ID, RoleHuman, "ancient"); err != nil {
		t.Fatalf("append: %v", err)
	}

	at(cutoff)
	boundary := mustSession(t, store, "")

	// created long ago but active recently
	at(cutoff.Add(-72 * time.Hour))
	revived := mustSession(t, store, "")
	at(cutoff.Add(time.Minute))
	if _, err := store.AppendMessage(ctx, revived.ID, RoleHuman, "still here"); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := store.PurgeExpired(ctx, cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged session, got %d", n)
	}
	if _, err := store.GetSession(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old session purged, got %v", err)
	}
	var orphans int64
	gdb.Model(&Message{}).Where("session_id = ?", old.ID).Count(&orphans)
	if orphans != 0 {
		t.Fatalf("expected purged messages, got %d", orphans)
	}
	for _, id := range []string{boundary.ID, revived.ID} {
		if _, err := store.GetSession(ctx, id); err != nil {
			t.Fatalf("session %s should survive: %v", id, err)
		}
	}

	n, err = store.PurgeExpired(ctx, cutoff)
	if err != nil || n != 0 {
		t.Fatalf("second purge: n=%d err=%v", n, err)
	}
}

func TestJobIdempotency(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	ctx := context.Background()
	sess := mustSession(t, store, "")

	key := "abc"
	first, created, err := store.EnqueueJob(ctx, &Job{
		ID: "01HAAAAAAAAAAAAAAAAAAAAAA1", SessionID: sess.ID, IdempotencyKey: &key, Status: JobQueued,
	}, "hi")
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	if first.HumanMessageID == "" {
		t.Fatal("expected the job to reference its human message")
	}
	again, created, err := store.EnqueueJob(ctx, &Job{
		ID: "01HAAAAAAAAAAAAAAAAAAAAAA2", SessionID: sess.ID, IdempotencyKey: &key, Status: JobQueued,
	}, "hi again")
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected existing job %s, got %s (created=%v)", first.ID, again.ID, created)
	}
	var msgs int64
	gdb.Model(&Message{}).Where("session_id = ?", sess.ID).Count(&msgs)
	if msgs != 1 {
		t.Fatalf("expected the repeated key to store nothing, got %d messages", msgs)
	}

	if err := store.MarkJobRunning(ctx, first.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.MarkJobFailed(ctx, first.ID, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := store.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobFailed || got.Error == nil || *got.Error != "boom" {
		t.Fatalf("unexpected job: %+v", got)
	}

	if _, err := store.GetJob(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnqueueJob_ConcurrentSameKeyStoresOneTurn(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	ctx := context.Background()
	sess := mustSession(t, store, "")

	const n = 12
	key := "retry-me"
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		creates int
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := key
			job, created, err := store.EnqueueJob(ctx, &Job{
				ID: fmt.Sprintf("01HBBBBBBBBBBBBBBBBBBBBB%02d", i), SessionID: sess.ID, IdempotencyKey: &k, Status: JobQueued,
			}, "same request")
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[job.ID]++
			if created {
				creates++
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("enqueue: %v", err)
	}

	if creates != 1 || len(ids) != 1 {
		t.Fatalf("expected one job for the key, got creates=%d ids=%v", creates, ids)
	}
	var msgs, jobs int64
	gdb.Model(&Message{}).Where("session_id = ?", sess.ID).Count(&msgs)
	gdb.Model(&Job{}).Where("session_id = ?", sess.ID).Count(&jobs)
	if msgs != 1 || jobs != 1 {
		t.Fatalf("expected 1 message and 1 job, got %d and %d", msgs, jobs)
	}
}

func TestEnqueueJob_UnknownSessionStoresNothing(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)

	_, _, err := store.EnqueueJob(context.Background(), &Job{
		ID: "01HCCCCCCCCCCCCCCCCCCCCCC1", SessionID: "missing", Status: JobQueued,
	}, "hello")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var msgs int64
	gdb.Model(&Message{}).Count(&msgs)
	if msgs != 0 {
		t.Fatalf("expected no messages, got %d", msgs)
	}
}

func TestMarkJobQueuedOnlyFromRunning(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	sess := mustSession(t, store, "")
	job, _, err := store.EnqueueJob(ctx, &Job{ID: "01HDDDDDDDDDDDDDDDDDDDDDD1", SessionID: sess.ID, Status: JobQueued}, "hi")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := store.MarkJobRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.MarkJobQueued(ctx, job.ID); err != nil {
		t.Fatalf("mark queued: %v", err)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != JobQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}

	if err := store.MarkJobFailed(ctx, job.ID, "gave up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkJobQueued(ctx, job.ID); err != nil {
		t.Fatalf("mark queued: %v", err)
	}
	got, _ = store.GetJob(ctx, job.ID)
	if got.Status != JobFailed {
		t.Fatalf("a failed job must stay failed, got %s", got.Status)
	}
}

func TestStoreUnavailable(t *testing.T) {
	gdb := openTestDB(t)
	store := NewStore(gdb)
	ctx := context.Background()
	sess := mustSession(t, store, "")

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	if err := store.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ping: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("get: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, RoleHuman, "hi"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("append: expected ErrStoreUnavailable, got %v", err)
	}
}
