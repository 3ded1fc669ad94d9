// Package fetch declares the external-collaborator contracts the
// executor depends on to reach Reddit and render posts to disk. Concrete
// implementations (HTTP client, OAuth token source, markdown/HTML
// renderer) are out of scope here; this package exists so internal/executor
// can be written and tested against a fake.
package fetch

import "context"

// PostSummary is the minimal listing data needed to decide whether a
// post is new and where to fetch it from.
type PostSummary struct {
	URL   string
	Title string
}

// SubredditLister returns the best/hot post URLs for a subreddit.
type SubredditLister interface {
	ListPosts(ctx context.Context, subreddit string, limit int) ([]PostSummary, error)
}

// PostData is the raw post payload fetched for a single URL.
type PostData struct {
	PostID     string
	Title      string
	Author     string
	Subreddit  string
	URL        string
	CreatedUTC int64
	Upvotes    int
	Replies    []ReplyData
}

// ReplyData is a single comment/reply on a post.
type ReplyData struct {
	Author  string
	Content string
	Depth   int
}

// JSONFetcher fetches the raw post+comments payload for a URL.
type JSONFetcher interface {
	FetchPost(ctx context.Context, url string) (*PostData, error)
}

// Renderer renders a fetched post into the markdown (or HTML) file
// content that gets written to the archive.
type Renderer interface {
	Render(post *PostData) (string, error)
}

// TokenSource supplies the OAuth access token used to authenticate
// requests to Reddit's API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
