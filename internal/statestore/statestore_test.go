package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.db"), Config{PoolSize: 2, AcquireTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{
		Name:                 "daily-golang",
		CronExpr:             "0 * * * *",
		Subreddits:           []string{"golang", "programming"},
		Enabled:              true,
		MaxPostsPerSubreddit: 25,
		RetryCount:           3,
		RetryDelaySeconds:    5,
		TimeoutSeconds:       300,
	}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected SaveTask to assign an id")
	}

	loaded, err := s.LoadTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected task to be found")
	}
	if loaded.Name != task.Name || len(loaded.Subreddits) != 2 {
		t.Fatalf("loaded task mismatch: %+v", loaded)
	}
}

func TestSaveTaskValidatesInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := &Task{Name: "", CronExpr: "0 * * * *", MaxPostsPerSubreddit: 1, TimeoutSeconds: 1, RetryDelaySeconds: 1}
	if err := s.SaveTask(ctx, bad); err == nil {
		t.Fatal("expected validation error for empty name")
	}
}

func TestUpdateTaskUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{
		Name: "t", CronExpr: "0 * * * *", Subreddits: []string{"golang"},
		Enabled: true, MaxPostsPerSubreddit: 10, RetryCount: 1, RetryDelaySeconds: 1, TimeoutSeconds: 10,
	}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	task.Name = "renamed"
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	all, err := s.LoadAllTasks(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one task after upsert, got %d", len(all))
	}
	if all[0].Name != "renamed" {
		t.Fatalf("expected updated name, got %q", all[0].Name)
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Name: "t", CronExpr: "0 * * * *", Subreddits: []string{"golang"}, Enabled: true, MaxPostsPerSubreddit: 10, RetryDelaySeconds: 1, TimeoutSeconds: 10}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, err := s.LoadTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected task to be gone after delete")
	}
}

func TestRecordAndQueryDownloads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &DownloadRecord{
		PostID: "abc123", PostURL: "https://reddit.com/r/golang/abc123", Subreddit: "golang",
		Title: "A post", Author: "someone", DownloadedAt: time.Now().UTC(), FilePath: "/archive/golang/abc123.md",
	}
	if err := s.RecordDownload(ctx, rec); err != nil {
		t.Fatalf("record download: %v", err)
	}

	ok, err := s.IsPostDownloaded(ctx, "abc123", "golang")
	if err != nil {
		t.Fatalf("is downloaded: %v", err)
	}
	if !ok {
		t.Fatal("expected post to be marked downloaded")
	}

	posts, err := s.GetDownloadedPosts(ctx, "golang", 30)
	if err != nil {
		t.Fatalf("get downloaded posts: %v", err)
	}
	if !posts["abc123"] {
		t.Fatal("expected abc123 in downloaded posts set")
	}
}

func TestCleanupOldHistoryBatched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	for i := 0; i < 5; i++ {
		rec := &DownloadRecord{
			PostID: "old" + string(rune('a'+i)), PostURL: "u", Subreddit: "golang",
			DownloadedAt: old, FilePath: "p",
		}
		if err := s.RecordDownload(ctx, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	recent := &DownloadRecord{PostID: "new1", PostURL: "u", Subreddit: "golang", DownloadedAt: time.Now().UTC(), FilePath: "p"}
	if err := s.RecordDownload(ctx, recent); err != nil {
		t.Fatalf("seed recent: %v", err)
	}

	deleted, err := s.CleanupOldHistory(ctx, 30, 2)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted, got %d", deleted)
	}

	ok, err := s.IsPostDownloaded(ctx, "new1", "golang")
	if err != nil {
		t.Fatalf("is downloaded: %v", err)
	}
	if !ok {
		t.Fatal("expected recent record to survive cleanup")
	}
}

func TestGetStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Name: "t", CronExpr: "0 * * * *", Subreddits: []string{"golang"}, Enabled: true, MaxPostsPerSubreddit: 10, RetryDelaySeconds: 1, TimeoutSeconds: 10}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := &DownloadRecord{PostID: "p1", PostURL: "u", Subreddit: "golang", DownloadedAt: time.Now().UTC(), FilePath: "p"}
	if err := s.RecordDownload(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	stats, err := s.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalTasks != 1 || stats.EnabledTasks != 1 || stats.TotalDownloads != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIntegrityCheckClean(t *testing.T) {
	s := newTestStore(t)
	report, err := s.IntegrityCheck(context.Background())
	if err != nil {
		t.Fatalf("integrity check: %v", err)
	}
	if !report.OK {
		t.Fatalf("expected clean database to report OK, got %+v", report)
	}
}
