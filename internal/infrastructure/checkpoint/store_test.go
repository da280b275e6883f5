package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"MedicineCrawler/internal/domain"
)

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	cp, err := store.Load(ctx)
	if err != nil || cp != nil {
		t.Fatalf("cold start should be empty: %v %v", cp, err)
	}

	if err := store.Save(ctx, domain.KeywordProgress{Keyword: "타이레놀", Page: 3, ProcessedCount: 42}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err = store.Load(ctx)
	if err != nil || cp == nil {
		t.Fatalf("load: %v %v", cp, err)
	}
	if cp.Keyword != "타이레놀" || cp.Page != 3 || cp.ProcessedCount != 42 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	if !cp.Timestamp.Equal(store.now()) {
		t.Fatalf("timestamp not stored: %s", cp.Timestamp)
	}

	raw, err := os.ReadFile(filepath.Join(dir, checkpointFile))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	for _, key := range []string{`"source_key"`, `"page"`, `"processed_count"`, `"timestamp"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("checkpoint file misses %s: %s", key, raw)
		}
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cp, _ = store.Load(ctx); cp != nil {
		t.Fatalf("checkpoint survived clear: %+v", cp)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestCheckpointKeepsEveryKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tick := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	if err := store.Save(ctx, domain.KeywordProgress{Keyword: "a", Page: 2, Offset: 40, ProcessedCount: 140}); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.Save(ctx, domain.KeywordProgress{Keyword: "b", Page: 3, ProcessedCount: 200}); err != nil {
		t.Fatalf("save b: %v", err)
	}

	cp, err := store.Load(ctx)
	if err != nil || cp == nil {
		t.Fatalf("load: %v %v", cp, err)
	}
	if cp.Keyword != "b" {
		t.Fatalf("latest save should lead, got %q", cp.Keyword)
	}
	a, ok := cp.Progress("a")
	if !ok || a.Page != 2 || a.Offset != 40 || a.ProcessedCount != 140 {
		t.Fatalf("keyword a lost its progress: %+v %v", a, ok)
	}
	if got := cp.Keywords(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("unexpected keyword order %v", got)
	}

	if err := store.Remove(ctx, "b"); err != nil {
		t.Fatalf("remove b: %v", err)
	}
	cp, _ = store.Load(ctx)
	if cp == nil || cp.Keyword != "a" {
		t.Fatalf("remaining keyword should lead: %+v", cp)
	}
	if _, ok := cp.Progress("b"); ok {
		t.Fatalf("removed keyword still present")
	}

	if err := store.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if cp, _ = store.Load(ctx); cp != nil {
		t.Fatalf("empty checkpoint should read as nil: %+v", cp)
	}
	if _, err := os.Stat(filepath.Join(dir, checkpointFile)); !os.IsNotExist(err) {
		t.Fatalf("checkpoint file should be gone: %v", err)
	}
}

func TestCheckpointReadsSingleSlotFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	legacy := `{"source_key": "타이레놀", "page": 4, "processed_count": 310, "timestamp": "2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, checkpointFile), []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Save(ctx, domain.KeywordProgress{Keyword: "게보린", Page: 1, ProcessedCount: 10}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err := store.Load(ctx)
	if err != nil || cp == nil {
		t.Fatalf("load: %v %v", cp, err)
	}
	old, ok := cp.Progress("타이레놀")
	if !ok || old.Page != 4 || old.ProcessedCount != 310 {
		t.Fatalf("single-slot progress dropped: %+v %v", old, ok)
	}
}

func TestLedgers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.MarkCompleted(ctx, "아스피린"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := store.MarkFailed(ctx, "게보린", "after 3 attempts:\nconnection reset"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	done, err := store.Completed(ctx)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if !done["아스피린"] || len(done) != 1 {
		t.Fatalf("unexpected completed set %v", done)
	}
	failed, err := store.Failed(ctx)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Keyword != "게보린" || failed[0].Reason != "after 3 attempts: connection reset" {
		t.Fatalf("unexpected failed ledger %+v", failed)
	}
}

func TestConcurrentLedgerAppends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.MarkCompleted(ctx, string(rune('a'+i))); err != nil {
				t.Errorf("mark: %v", err)
			}
			if err := store.Save(ctx, domain.KeywordProgress{Keyword: "kw", Page: i, ProcessedCount: i}); err != nil {
				t.Errorf("save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	done, err := store.Completed(ctx)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if len(done) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(done))
	}
}
