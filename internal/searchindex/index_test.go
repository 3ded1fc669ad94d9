package searchindex

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertInsertsNewPost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	id, updated, err := idx.Upsert(ctx, PostInput{
		FilePath: "/archive/golang/abc123.md", PostID: "abc123", Title: "Hello Go",
		Subreddit: "golang", Author: "gopher", Content: "full markdown body",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}
	if updated {
		t.Fatal("expected first insert to report updated=false")
	}
}

func TestUpsertSkipsUnchangedContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	in := PostInput{FilePath: "/p.md", PostID: "abc123", Title: "T", Subreddit: "golang", Content: "same"}
	id1, _, err := idx.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	id2, updated, err := idx.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id across idempotent upsert, got %d and %d", id1, id2)
	}
	if updated {
		t.Fatal("expected unchanged content to report updated=false")
	}
}

func TestUpsertUpdatesOnContentChange(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	in := PostInput{FilePath: "/p.md", PostID: "abc123", Title: "T", Subreddit: "golang", Content: "v1"}
	id1, _, err := idx.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	in.Content = "v2"
	id2, updated, err := idx.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id on update, got %d and %d", id1, id2)
	}
	if !updated {
		t.Fatal("expected changed content to report updated=true")
	}
}

func TestUpsertRejectsInvalidPostID(t *testing.T) {
	idx := newTestIndex(t)
	_, _, err := idx.Upsert(context.Background(), PostInput{FilePath: "/p.md", PostID: "bad id!", Title: "T"})
	if err == nil {
		t.Fatal("expected validation error for invalid post id")
	}
}

func TestSearchPostsOptimizedFullText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	seed := []PostInput{
		{FilePath: "/1.md", PostID: "p1", Title: "Learning Go concurrency", Subreddit: "golang", Content: "goroutines and channels are great"},
		{FilePath: "/2.md", PostID: "p2", Title: "Python async", Subreddit: "python", Content: "asyncio event loop basics"},
	}
	for _, s := range seed {
		if _, _, err := idx.Upsert(ctx, s); err != nil {
			t.Fatalf("seed upsert: %v", err)
		}
	}

	results, err := idx.SearchPostsOptimized(ctx, SearchParams{Query: "goroutines"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Post.PostID != "p1" {
		t.Fatalf("expected single match on p1, got %+v", results)
	}
}

func TestSearchPostsOptimizedFiltersWithoutQuery(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for i, sub := range []string{"golang", "python", "golang"} {
		_, _, err := idx.Upsert(ctx, PostInput{FilePath: filepath.Join("/", string(rune('a'+i))+".md"), PostID: "p" + string(rune('a'+i)), Title: "t", Subreddit: sub, Upvotes: i * 10})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	results, err := idx.SearchPostsOptimized(ctx, SearchParams{Subreddits: []string{"golang"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 golang posts, got %d", len(results))
	}
}

func TestPrepareSafeFTSQuery(t *testing.T) {
	got := prepareSafeFTSQuery(`hello; DROP TABLE posts; -- "world`)
	if got == "" {
		t.Fatal("expected non-empty sanitized query")
	}
	for _, bad := range []string{";", "DROP", "--"} {
		if got == bad {
			t.Fatalf("sanitized query retained dangerous token: %q", got)
		}
	}
}

func TestNormalizeTagName(t *testing.T) {
	cases := map[string]string{
		"Question!!": "question",
		"  multi   word  ": "multi_word",
		"already_ok": "already_ok",
	}
	for in, want := range cases {
		got, err := normalizeTagName(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("normalize %q = %q, want %q", in, got, want)
		}
	}
}

func TestDeletePost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, _, err := idx.Upsert(ctx, PostInput{FilePath: "/p.md", PostID: "abc123", Title: "T"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	found, err := idx.DeletePost(ctx, "/p.md")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !found {
		t.Fatal("expected delete to report found=true")
	}
	post, err := idx.GetByFilePath(ctx, "/p.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if post != nil {
		t.Fatal("expected post to be gone after delete")
	}
}

func TestIntegrityCheckClean(t *testing.T) {
	idx := newTestIndex(t)
	report, err := idx.IntegrityCheck(context.Background())
	if err != nil {
		t.Fatalf("integrity check: %v", err)
	}
	if !report.DatabaseIntegrity {
		t.Fatalf("expected clean database, got %+v", report)
	}
}

func TestSearchStreamingPaginatesLazily(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := idx.Upsert(ctx, PostInput{
			FilePath: filepath.Join("/", string(rune('a'+i))+".md"),
			PostID:   "p" + string(rune('a'+i)),
			Title:    "t", Subreddit: "golang",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	next := idx.SearchStreaming(ctx, SearchParams{Subreddits: []string{"golang"}}, 2)
	seen := 0
	for {
		page, err := next()
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) == 0 {
			break
		}
		seen += len(page)
	}
	if seen != 5 {
		t.Fatalf("expected to stream all 5 results, saw %d", seen)
	}
}
