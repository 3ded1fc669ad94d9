package searchindex

import (
	"context"
	"testing"

	"github.com/cheolwanpark/meows-archive/collector/internal/cache"
)

func seedPosts(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()
	posts := []PostInput{
		{FilePath: "/a/1.md", PostID: "p1", Title: "Goroutines and channels tutorial", Subreddit: "golang", Author: "gopher1", Upvotes: 120, Content: "..."},
		{FilePath: "/a/2.md", PostID: "p2", Title: "Goroutine leak guide", Subreddit: "golang", Author: "gopher2", Upvotes: 80, Content: "..."},
		{FilePath: "/a/3.md", PostID: "p3", Title: "Python tutorial for beginners", Subreddit: "Python", Author: "pydev", Upvotes: 200, Content: "..."},
	}
	for _, p := range posts {
		if _, _, err := idx.Upsert(ctx, p); err != nil {
			t.Fatalf("seed upsert: %v", err)
		}
	}
}

func TestSearchCacheHitAvoidsRecompute(t *testing.T) {
	idx := newTestIndex(t)
	seedPosts(t, idx)
	idx.SetSearchCache(cache.NewSearchCache(300, 100))
	ctx := context.Background()

	params := SearchParams{Subreddits: []string{"golang"}}
	first, err := idx.SearchPostsOptimized(ctx, params)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	second, err := idx.SearchPostsOptimized(ctx, params)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if len(first) != len(second) || len(first) != 2 {
		t.Fatalf("expected 2 cached golang results both times, got %d then %d", len(first), len(second))
	}

	analytics := idx.Analytics()
	if analytics.CacheHits != 1 || analytics.CacheMisses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got hits=%d misses=%d", analytics.CacheHits, analytics.CacheMisses)
	}
}

func TestSearchCacheInvalidatedByTagging(t *testing.T) {
	idx := newTestIndex(t)
	seedPosts(t, idx)
	idx.SetSearchCache(cache.NewSearchCache(300, 100))
	ctx := context.Background()

	params := SearchParams{Subreddits: []string{"golang"}}
	first, err := idx.SearchPostsOptimized(ctx, params)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if len(first[0].Post.Tags) != 0 {
		t.Fatalf("expected no tags yet")
	}

	if err := idx.TagPost(ctx, first[0].Post.ID, "discussion"); err != nil {
		t.Fatalf("tag post: %v", err)
	}

	second, err := idx.SearchPostsOptimized(ctx, params)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	found := false
	for _, r := range second {
		if r.Post.ID == first[0].Post.ID {
			if len(r.Post.Tags) != 1 || r.Post.Tags[0] != "discussion" {
				t.Fatalf("expected tag to appear after cache invalidation, got %+v", r.Post.Tags)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("tagged post missing from second search")
	}
}

func TestGetSuggestionsOptimizedMatchesTitleWords(t *testing.T) {
	idx := newTestIndex(t)
	seedPosts(t, idx)
	ctx := context.Background()

	suggestions, err := idx.GetSuggestionsOptimized(ctx, "gor", 10)
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	found := false
	for _, s := range suggestions {
		if s == "goroutines" || s == "goroutine" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a goroutine-related suggestion, got %v", suggestions)
	}
}

func TestGetSuggestionsOptimizedRejectsShortQuery(t *testing.T) {
	idx := newTestIndex(t)
	suggestions, err := idx.GetSuggestionsOptimized(context.Background(), "g", 10)
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if suggestions != nil {
		t.Fatalf("expected nil suggestions for sub-2-character query, got %v", suggestions)
	}
}

func TestGetPopularSearchesOptimizedRanksByEngagement(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	// golang needs post_count > 1 to qualify.
	seedPosts(t, idx)

	popular, err := idx.GetPopularSearchesOptimized(ctx, 10)
	if err != nil {
		t.Fatalf("popular searches: %v", err)
	}
	if len(popular) != 1 || popular[0].Subreddit != "golang" {
		t.Fatalf("expected only golang (post_count>1) to qualify, got %+v", popular)
	}
	_ = ctx
}

func TestWarmCacheIsNoopWithoutCache(t *testing.T) {
	idx := newTestIndex(t)
	seedPosts(t, idx)
	idx.WarmCache(context.Background())
}
