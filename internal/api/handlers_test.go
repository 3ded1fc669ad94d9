package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/scheduler"
	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
	"github.com/cheolwanpark/meows-archive/collector/internal/tagging"
)

type noopExecutor struct{}

func (noopExecutor) ExecuteTask(ctx context.Context, task *statestore.Task) *statestore.TaskResult {
	now := time.Now().UTC()
	return &statestore.TaskResult{TaskID: task.ID, Status: statestore.StatusCompleted, StartedAt: now, CompletedAt: &now}
}

func newTestRouter(t *testing.T) (http.Handler, *searchindex.Index) {
	t.Helper()
	dir := t.TempDir()

	store, err := statestore.Open(filepath.Join(dir, "state.db"), statestore.Config{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	idx, err := searchindex.Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	tagMgr := tagging.New(idx, nil, "")
	sched := scheduler.New(store, noopExecutor{}, scheduler.Config{})

	return SetupRouter(store, idx, tagMgr, sched), idx
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListTasks(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/tasks/", CreateTaskRequest{
		Name: "golang daily", CronExpr: "0 */6 * * *", Subreddits: []string{"golang"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	if created.ID == "" || created.MaxPostsPerSubreddit != 25 {
		t.Fatalf("unexpected created task: %+v", created)
	}

	rec = doRequest(t, router, http.MethodGet, "/tasks/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode task list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("expected 1 task matching created id, got %+v", list)
	}
}

func TestCreateTaskRejectsBadCron(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodPost, "/tasks/", CreateTaskRequest{
		Name: "bad", CronExpr: "not a cron", Subreddits: []string{"golang"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid cron, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateTaskDisablesIt(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodPost, "/tasks/", CreateTaskRequest{
		Name: "t", CronExpr: "0 * * * *", Subreddits: []string{"golang"},
	})
	var created TaskResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	enabled := false
	rec = doRequest(t, router, http.MethodPatch, "/tasks/"+created.ID, UpdateTaskRequest{Enabled: &enabled})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated TaskResponse
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Enabled {
		t.Fatal("expected task to be disabled")
	}
}

func TestSearchAndTagFlow(t *testing.T) {
	router, idx := newTestRouter(t)
	ctx := context.Background()

	id, _, err := idx.Upsert(ctx, searchindex.PostInput{
		FilePath: "/archive/golang/abc123.md", PostID: "abc123", Title: "Channels explained",
		Author: "gopher", Subreddit: "golang", URL: "https://reddit.com/r/golang/comments/abc123/x/",
		CreatedUTC: 1700000000, Upvotes: 42, ReplyCount: 3,
		ContentPreview: "A deep dive into channels", Content: "channels are pretty fundamental to golang concurrency",
	})
	if err != nil {
		t.Fatalf("seed post: %v", err)
	}

	rec := doRequest(t, router, http.MethodGet, "/search?q=channels", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var results []SearchResultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode search results: %v", err)
	}
	if len(results) != 1 || results[0].Post.PostID != "abc123" {
		t.Fatalf("expected one match for abc123, got %+v", results)
	}

	rec = doRequest(t, router, http.MethodPost, "/posts/1/tags/", TagPostRequest{Tags: []string{"discussion"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 tagging post, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/tags/", nil)
	var tagList []TagResponse
	json.Unmarshal(rec.Body.Bytes(), &tagList)
	if len(tagList) != 1 || tagList[0].Name != "discussion" || tagList[0].UsageCount != 1 {
		t.Fatalf("unexpected tag list: %+v", tagList)
	}

	_ = id
}

func TestHealthAndStats(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Search == nil || stats.Schedule == nil {
		t.Fatalf("expected both search and schedule stats populated, got %+v", stats)
	}
}
