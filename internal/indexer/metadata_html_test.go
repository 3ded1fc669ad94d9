package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
)

const samplePostHTML = `<p><strong>golang</strong> | Posted by u/gopher123 ⬆️ 120 <em>( 2024-01-01 12:00:00 )</em></p>
<h2>How do I learn channels?</h2>
<p>Original post: <a href="https://reddit.com/r/golang/comments/abc123/how_do_i/">https://reddit.com/r/golang/comments/abc123/how_do_i/</a></p>
<p>Body text explaining the question in detail so there is enough content for a preview.</p>
<p>💬 ~ 3 replies</p>
`

func TestIsRedditHTMLFile(t *testing.T) {
	if !IsRedditHTMLFile(samplePostHTML) {
		t.Fatal("expected sample HTML post to be recognized as reddit HTML")
	}
	if IsRedditHTMLFile("<html><body><p>just a page</p></body></html>") {
		t.Fatal("expected plain HTML to be rejected")
	}
}

func TestExtractFromHTML(t *testing.T) {
	md := ExtractFromHTML(samplePostHTML, "abc123.html")
	if md.Subreddit != "golang" || md.Author != "gopher123" {
		t.Fatalf("unexpected subreddit/author: %+v", md)
	}
	if md.Title != "How do I learn channels?" {
		t.Fatalf("unexpected title: %q", md.Title)
	}
	if md.PostID != "abc123" {
		t.Fatalf("unexpected post id: %q", md.PostID)
	}
	if md.Upvotes != 120 {
		t.Fatalf("unexpected upvote count: %d", md.Upvotes)
	}
	if md.ReplyCount != 3 {
		t.Fatalf("unexpected reply count: %d", md.ReplyCount)
	}
	if md.OriginalURL != "https://reddit.com/r/golang/comments/abc123/how_do_i/" {
		t.Fatalf("unexpected original url: %q", md.OriginalURL)
	}
}

func TestIndexDirectoryHandlesHTMLFiles(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSample(t, archiveDir, "abc123.html", samplePostHTML)

	idx, err := searchindex.Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	ix := New(idx, Config{}, nil)
	result, err := ix.IndexDirectory(context.Background(), archiveDir, IndexOptions{Recursive: true})
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if result.Indexed != 1 {
		t.Fatalf("expected 1 indexed HTML file, got %+v", result)
	}
}
