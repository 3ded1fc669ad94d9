package searchindex

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/cache"
)

// SearchAnalytics is a point-in-time snapshot of query volume, cache
// effectiveness and latency distribution, grounded on
// original_source/python/search/optimized_search_engine.py's
// SearchAnalytics.get_stats.
type SearchAnalytics struct {
	TotalSearches     int64
	CacheHits         int64
	CacheMisses       int64
	CacheHitRate      float64
	QueryTimeP50Ms    float64
	QueryTimeP95Ms    float64
	QueryTimeP99Ms    float64
	PopularTerms      []TermCount
	PopularSubreddits []TermCount
}

// TermCount is one entry of a popularity ranking.
type TermCount struct {
	Term  string
	Count int
}

const analyticsWindow = 1000

var suggestionWordPattern = regexp.MustCompile(`\b\w{3,}\b`)

type analyticsTracker struct {
	mu              sync.Mutex
	totalSearches   int64
	cacheHits       int64
	cacheMisses     int64
	queryTimes      []time.Duration // ring buffer, oldest dropped past analyticsWindow
	popularTerms    map[string]int
	popularSubs     map[string]int
}

func newAnalyticsTracker() *analyticsTracker {
	return &analyticsTracker{popularTerms: make(map[string]int), popularSubs: make(map[string]int)}
}

func (a *analyticsTracker) recordSearch(params SearchParams, elapsed time.Duration, cacheHit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSearches++
	if cacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}

	a.queryTimes = append(a.queryTimes, elapsed)
	if len(a.queryTimes) > analyticsWindow {
		a.queryTimes = a.queryTimes[len(a.queryTimes)-analyticsWindow:]
	}

	for _, term := range strings.Fields(strings.ToLower(params.Query)) {
		a.popularTerms[term]++
	}
	for _, sub := range params.Subreddits {
		a.popularSubs[sub]++
	}
}

func (a *analyticsTracker) snapshot() SearchAnalytics {
	a.mu.Lock()
	defer a.mu.Unlock()

	sorted := append([]time.Duration(nil), a.queryTimes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	percentile := func(p float64) float64 {
		if len(sorted) == 0 {
			return 0
		}
		i := int(float64(len(sorted)) * p)
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return float64(sorted[i]) / float64(time.Millisecond)
	}

	var hitRate float64
	if total := a.cacheHits + a.cacheMisses; total > 0 {
		hitRate = float64(a.cacheHits) / float64(total)
	}

	return SearchAnalytics{
		TotalSearches:     a.totalSearches,
		CacheHits:         a.cacheHits,
		CacheMisses:       a.cacheMisses,
		CacheHitRate:      hitRate,
		QueryTimeP50Ms:    percentile(0.50),
		QueryTimeP95Ms:    percentile(0.95),
		QueryTimeP99Ms:    percentile(0.99),
		PopularTerms:      topN(a.popularTerms, 10),
		PopularSubreddits: topN(a.popularSubs, 10),
	}
}

func topN(counts map[string]int, n int) []TermCount {
	list := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		list = append(list, TermCount{Term: term, Count: count})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Term < list[j].Term
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}

// SetSearchCache attaches a result cache to the index. SearchPostsOptimized
// reads through it when present; Open does not construct one so tests and
// callers that want caching off by default don't pay for it.
func (idx *Index) SetSearchCache(c *cache.SearchCache) {
	idx.searchCache = c
}

// Analytics returns the current search analytics snapshot.
func (idx *Index) Analytics() SearchAnalytics {
	return idx.analytics.snapshot()
}

// GetSuggestionsOptimized returns up to limit suggested search terms for a
// partial query: matching words drawn from post titles ranked by upvotes,
// topped up with matching subreddit names if titles don't fill the quota.
// Grounded on get_suggestions_optimized.
func (idx *Index) GetSuggestionsOptimized(ctx context.Context, partialQuery string, limit int) ([]string, error) {
	clean := strings.TrimSpace(partialQuery)
	if len(clean) < 2 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT title FROM posts WHERE title LIKE ? ORDER BY upvotes DESC LIMIT ?
	`, "%"+clean+"%", limit*2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var suggestions []string
	lowerQuery := strings.ToLower(clean)
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		for _, word := range suggestionWordPattern.FindAllString(strings.ToLower(title), -1) {
			if !strings.Contains(word, lowerQuery) {
				continue
			}
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			suggestions = append(suggestions, word)
			if len(suggestions) >= limit {
				break
			}
		}
		if len(suggestions) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(suggestions) < limit {
		subRows, err := idx.db.QueryContext(ctx, `
			SELECT subreddit, COUNT(*) AS post_count FROM posts
			WHERE subreddit LIKE ? GROUP BY subreddit ORDER BY post_count DESC LIMIT ?
		`, "%"+clean+"%", limit-len(suggestions))
		if err != nil {
			return nil, err
		}
		defer subRows.Close()
		for subRows.Next() {
			var subreddit string
			var count int
			if err := subRows.Scan(&subreddit, &count); err != nil {
				return nil, err
			}
			if subreddit == "" {
				continue
			}
			if _, ok := seen[subreddit]; ok {
				continue
			}
			seen[subreddit] = struct{}{}
			suggestions = append(suggestions, subreddit)
		}
		if err := subRows.Err(); err != nil {
			return nil, err
		}
	}
	return suggestions, nil
}

// PopularSearch ranks a subreddit by a blended engagement score, matching
// get_popular_searches_optimized's weighting (post count and total
// upvotes each 0.4, distinct authors 0.2).
type PopularSearch struct {
	Subreddit       string
	PostCount       int
	TotalUpvotes    int64
	AvgUpvotes      float64
	UniqueAuthors   int
	EngagementScore float64
}

// GetPopularSearchesOptimized returns the most engaging subreddits
// (post count > 1), ranked by engagement score.
func (idx *Index) GetPopularSearchesOptimized(ctx context.Context, limit int) ([]PopularSearch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT subreddit, COUNT(*) AS post_count, SUM(upvotes) AS total_upvotes,
		       AVG(upvotes) AS avg_upvotes, COUNT(DISTINCT author) AS unique_authors
		FROM posts WHERE subreddit IS NOT NULL AND subreddit != ''
		GROUP BY subreddit HAVING post_count > 1
		ORDER BY (post_count * 0.4 + total_upvotes * 0.4 + unique_authors * 0.2) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PopularSearch
	for rows.Next() {
		var p PopularSearch
		var totalUpvotes sql.NullInt64
		var avgUpvotes sql.NullFloat64
		if err := rows.Scan(&p.Subreddit, &p.PostCount, &totalUpvotes, &avgUpvotes, &p.UniqueAuthors); err != nil {
			return nil, err
		}
		p.TotalUpvotes = totalUpvotes.Int64
		p.AvgUpvotes = avgUpvotes.Float64
		p.EngagementScore = float64(p.PostCount)*0.4 + float64(p.TotalUpvotes)*0.4 + float64(p.UniqueAuthors)*0.2
		out = append(out, p)
	}
	return out, rows.Err()
}

// WarmCache runs a fixed battery of common queries to pre-populate the
// search result cache after a cold start. No-op if no cache is attached.
// Grounded on warm_cache/_generate_common_queries.
func (idx *Index) WarmCache(ctx context.Context) {
	if idx.searchCache == nil {
		return
	}
	for _, params := range commonQueries() {
		if _, err := idx.SearchPostsOptimized(ctx, params); err != nil {
			continue
		}
	}
}

func commonQueries() []SearchParams {
	var out []SearchParams
	for _, sub := range []string{"Python", "programming", "MachineLearning", "datascience"} {
		out = append(out, SearchParams{Subreddits: []string{sub}, Limit: 20})
	}
	for _, term := range []string{"tutorial", "guide", "python", "javascript", "machine learning"} {
		out = append(out, SearchParams{Query: term, Limit: 20})
	}
	min100, min500 := 100, 500
	out = append(out, SearchParams{MinUpvotes: &min100, Limit: 50})
	out = append(out, SearchParams{MinUpvotes: &min500, Limit: 20})
	return out
}
