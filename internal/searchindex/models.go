// Package searchindex implements C5: the FTS5-backed search index over
// archived posts, grounded on
// original_source/python/search/optimized_search_database.py.
package searchindex

// Post is a single indexed post row plus its tags.
type Post struct {
	ID                int64
	FilePath          string
	PostID            string
	Title             string
	Author            string
	Subreddit         string
	URL               string
	CreatedUTC        int64
	Upvotes           int
	ReplyCount        int
	FileModifiedTime  float64
	IndexedTime       int64
	ContentPreview    string
	ContentHash       string
	Tags              []string
}

// PostInput is the data accepted by Upsert. Content is hashed for
// change-detection and is not stored verbatim outside the FTS shadow
// table.
type PostInput struct {
	FilePath         string
	PostID           string
	Title            string
	Author           string
	Subreddit        string
	URL              string
	CreatedUTC       int64
	Upvotes          int
	ReplyCount       int
	FileModifiedTime float64
	ContentPreview   string
	Content          string
}

// SearchResult is one row of a search response: the post plus FTS
// ranking metadata (only populated when a text query was given).
type SearchResult struct {
	Post      Post
	Snippet   string
	RankScore float64
}

// SearchParams controls SearchPostsOptimized. All slice/string filters
// are optional (nil/empty means unfiltered).
type SearchParams struct {
	Query      string
	Subreddits []string
	Authors    []string
	Tags       []string
	MinUpvotes *int
	MaxUpvotes *int
	DateFrom   *int64
	DateTo     *int64
	Limit      int
	Offset     int
}

// Stats is the cached statistics snapshot from GetStatsCached.
type Stats struct {
	TotalPosts      int
	TotalSubreddits int
	TotalAuthors    int
	TotalUpvotes    int64
	AvgUpvotes      float64
	TotalTags       int
}

// IntegrityReport is returned by IntegrityCheck.
type IntegrityReport struct {
	DatabaseIntegrity     bool
	ForeignKeyViolations  []string
	OrphanedFTSEntries    int
	IssuesFound           []string
}
