package cleanup

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository/memrepo"
	"github.com/hitoshi/ltme/internal/storage"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// recordingMetrics は削除件数の記録を保持するMetricsCollector。
type recordingMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	deleted map[string]int
}

func (m *recordingMetrics) RecordCleanupDeleted(kind string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted == nil {
		m.deleted = make(map[string]int)
	}
	m.deleted[kind] += count
}

// mockPurger はSessionPurgerのモック実装。
type mockPurger struct {
	n   int64
	err error
}

func (m *mockPurger) DeleteExpired(ctx context.Context) (int64, error) { return m.n, m.err }

func putObject(t *testing.T, store storage.Store, key string) {
	t.Helper()
	if err := store.Put(context.Background(), key, strings.NewReader("x"), 1, "image/png"); err != nil {
		t.Fatal(err)
	}
}

func TestCleanupJob_Run_PurgesExpiredSessions(t *testing.T) {
	db := memrepo.New()
	ctx := context.Background()
	if err := db.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	sessions := db.Sessions()
	_ = sessions.Create(ctx, &model.Session{ID: "expired", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)})
	_ = sessions.Create(ctx, &model.Session{ID: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})

	mc := &recordingMetrics{}
	var buf bytes.Buffer
	job := NewCleanupJob(sessions, db.Posts(), nil, mc, newTestLogger(&buf))

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s, _ := sessions.FindByID(ctx, "expired"); s != nil {
		t.Error("expired session should be deleted")
	}
	if s, _ := sessions.FindByID(ctx, "live"); s == nil {
		t.Error("live session should remain")
	}
	if mc.deleted[KindSessions] != 1 {
		t.Errorf("sessions metric = %d, want 1", mc.deleted[KindSessions])
	}
	if !strings.Contains(buf.String(), "クリーンアップジョブが完了しました") {
		t.Errorf("completion log missing: %s", buf.String())
	}
}

func TestCleanupJob_Run_SweepsOnlyUnreferencedImagesPastGrace(t *testing.T) {
	db := memrepo.New()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	if err := db.Users().Create(ctx, &model.User{
		ID: "u1", Email: "a@example.com", Username: "alice",
		AvatarURL: "https://cdn.example.com/avatars/2024/01/01/me.png",
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.Posts().Create(ctx, &model.Post{ID: "p1", UserID: "u1", ImageKey: "posts/2024/01/01/used.png"}); err != nil {
		t.Fatal(err)
	}

	putObject(t, store, "posts/2024/01/01/used.png")
	putObject(t, store, "posts/2024/01/01/orphan.png")
	putObject(t, store, "avatars/2024/01/01/me.png")
	putObject(t, store, "avatars/2024/01/01/old.png")

	mc := &recordingMetrics{}
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, db.Posts(), store, mc, newTestLogger(&buf))

	t.Run("within grace nothing is deleted", func(t *testing.T) {
		if err := job.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		objs, _ := store.List(ctx, "")
		if len(objs) != 4 {
			t.Errorf("objects = %d, want 4", len(objs))
		}
	})

	t.Run("past grace orphans are deleted", func(t *testing.T) {
		job.now = func() time.Time { return time.Now().Add(DefaultOrphanGrace + time.Hour) }
		if err := job.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		objs, _ := store.List(ctx, "")
		var keys []string
		for _, o := range objs {
			keys = append(keys, o.Key)
		}
		want := []string{"avatars/2024/01/01/me.png", "posts/2024/01/01/used.png"}
		if strings.Join(keys, ",") != strings.Join(want, ",") {
			t.Errorf("remaining = %v, want %v", keys, want)
		}
		if mc.deleted[KindImages] != 2 {
			t.Errorf("images metric = %d, want 2", mc.deleted[KindImages])
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		if err := job.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if mc.deleted[KindImages] != 2 {
			t.Errorf("images metric = %d, want 2", mc.deleted[KindImages])
		}
	})
}

func TestCleanupJob_Run_SessionErrorStillSweepsImages(t *testing.T) {
	store := storage.NewMemoryStore()
	putObject(t, store, "posts/2024/01/01/orphan.png")

	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{err: errors.New("connection refused")}, memrepo.New().Posts(), store, nil, newTestLogger(&buf))
	job.OrphanGrace = 0
	job.now = func() time.Time { return time.Now().Add(time.Second) }

	err := job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Run() error = %v, want session error", err)
	}

	objs, _ := store.List(context.Background(), "")
	if len(objs) != 0 {
		t.Errorf("orphan should be swept even when session purge fails, remaining %d", len(objs))
	}
	if !strings.Contains(buf.String(), "期限切れセッションの削除に失敗しました") {
		t.Errorf("error log missing: %s", buf.String())
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, nil, nil, nil, newTestLogger(&buf))
	s := NewScheduler(context.Background(), job, newTestLogger(&buf))

	if err := s.Start("not a cron spec"); err == nil {
		t.Fatal("Start() should reject an invalid schedule")
	}
}

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	purger := &countingPurger{}
	var buf bytes.Buffer
	job := NewCleanupJob(purger, nil, nil, nil, newTestLogger(&buf))
	s := NewScheduler(context.Background(), job, newTestLogger(&buf))

	if err := s.Start("@every 1h"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Stop()

	if got := purger.calls(); got != 1 {
		t.Errorf("DeleteExpired calls = %d, want 1", got)
	}
}

// countingPurger は呼び出し回数を数えるSessionPurger。
type countingPurger struct {
	mu sync.Mutex
	n  int
}

func (c *countingPurger) DeleteExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return 0, nil
}

func (c *countingPurger) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
