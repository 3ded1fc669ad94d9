package tagging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
)

func newTestManager(t *testing.T) (*Manager, *searchindex.Index) {
	t.Helper()
	dir := t.TempDir()
	idx, err := searchindex.Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return New(idx, nil, ""), idx
}

func TestAutoTagPostMatchesQuestionPattern(t *testing.T) {
	m, idx := newTestManager(t)
	ctx := context.Background()

	id, _, err := idx.Upsert(ctx, searchindex.PostInput{
		FilePath: "/p.md", PostID: "abc123", Title: "How do I learn Go?", Subreddit: "golang",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tags, err := m.AutoTagPost(ctx, id)
	if err != nil {
		t.Fatalf("auto tag: %v", err)
	}
	found := false
	for _, tg := range tags {
		if tg == "question" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected question tag, got %v", tags)
	}

	applied, err := m.GetPostTags(ctx, id)
	if err != nil {
		t.Fatalf("get post tags: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected auto-tagging to persist tags on the post")
	}
}

func TestAutoTagPostAppliesSubredditTag(t *testing.T) {
	m, idx := newTestManager(t)
	ctx := context.Background()

	id, _, err := idx.Upsert(ctx, searchindex.PostInput{
		FilePath: "/p.md", PostID: "abc123", Title: "neutral title", Subreddit: "r/GoLang",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tags, err := m.AutoTagPost(ctx, id)
	if err != nil {
		t.Fatalf("auto tag: %v", err)
	}
	found := false
	for _, tg := range tags {
		if tg == "sub_golang" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sub_golang tag, got %v", tags)
	}
}

func TestAutoTagPostUnknownPost(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.AutoTagPost(context.Background(), 999); err == nil {
		t.Fatal("expected error for unknown post id")
	}
}

func TestManualTagAndUntag(t *testing.T) {
	m, idx := newTestManager(t)
	ctx := context.Background()

	id, _, err := idx.Upsert(ctx, searchindex.PostInput{FilePath: "/p.md", PostID: "abc123", Title: "t"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.TagPost(ctx, id, "custom"); err != nil {
		t.Fatalf("tag: %v", err)
	}
	tags, err := m.GetPostTags(ctx, id)
	if err != nil || len(tags) != 1 || tags[0] != "custom" {
		t.Fatalf("expected [custom], got %v err=%v", tags, err)
	}
	if err := m.UntagPost(ctx, id, "custom"); err != nil {
		t.Fatalf("untag: %v", err)
	}
	tags, err = m.GetPostTags(ctx, id)
	if err != nil || len(tags) != 0 {
		t.Fatalf("expected no tags after untag, got %v", tags)
	}
}
