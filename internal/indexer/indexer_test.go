package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
)

const samplePost = `**golang** | Posted by u/gopher123 ⬆️ 120 _( 2024-01-01 12:00:00 )_
## How do I learn channels?
Original post: [https://reddit.com/r/golang/comments/abc123/how_do_i/](https://reddit.com/r/golang/comments/abc123/how_do_i/)

Body text explaining the question in detail so there is enough content for a preview.

💬 ~ 3 replies
`

func writeSample(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestIsRedditMarkdownFile(t *testing.T) {
	if !IsRedditMarkdownFile(samplePost) {
		t.Fatal("expected sample post to be recognized as reddit markdown")
	}
	if IsRedditMarkdownFile("just some random text\nwith no structure") {
		t.Fatal("expected plain text to be rejected")
	}
}

func TestExtractFromContent(t *testing.T) {
	md := ExtractFromContent(samplePost, "abc123.md")
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
}

func TestIndexDirectoryIndexesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := writeSample(t, archiveDir, "abc123.md", samplePost)

	idx, err := searchindex.Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	ix := New(idx, Config{}, nil)
	ctx := context.Background()

	result, err := ix.IndexDirectory(ctx, archiveDir, IndexOptions{Recursive: true})
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if result.Indexed != 1 {
		t.Fatalf("expected 1 indexed, got %+v", result)
	}

	// Second pass with no file change should skip re-indexing.
	result2, err := ix.IndexDirectory(ctx, archiveDir, IndexOptions{Recursive: true})
	if err != nil {
		t.Fatalf("second index directory: %v", err)
	}
	if result2.Indexed != 0 || result2.Updated != 0 {
		t.Fatalf("expected no-op second pass, got %+v", result2)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	result3, err := ix.IndexDirectory(ctx, archiveDir, IndexOptions{Recursive: true})
	if err != nil {
		t.Fatalf("third index directory: %v", err)
	}
	if result3.Deleted != 1 {
		t.Fatalf("expected cleanup sweep to delete 1 row, got %+v", result3)
	}
}

func TestIndexDirectoryNonRecursiveSkipsSubdirs(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	nested := filepath.Join(archiveDir, "nested")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSample(t, archiveDir, "top.md", samplePost)
	writeSample(t, nested, "deep.md", samplePost)

	idx, err := searchindex.Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	ix := New(idx, Config{}, nil)
	ctx := context.Background()

	result, err := ix.IndexDirectory(ctx, archiveDir, IndexOptions{Recursive: false})
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if result.Indexed != 1 {
		t.Fatalf("expected only the top-level file indexed, got %+v", result)
	}
}

func TestIndexDirectoryForceReindexesUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSample(t, archiveDir, "abc123.md", samplePost)

	idx, err := searchindex.Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	ix := New(idx, Config{}, nil)
	ctx := context.Background()

	if _, err := ix.IndexDirectory(ctx, archiveDir, IndexOptions{Recursive: true}); err != nil {
		t.Fatalf("first index directory: %v", err)
	}

	result, err := ix.IndexDirectory(ctx, archiveDir, IndexOptions{Recursive: true, Force: true})
	if err != nil {
		t.Fatalf("forced index directory: %v", err)
	}
	if result.Indexed == 0 && result.Updated == 0 {
		t.Fatalf("expected force reindex to reprocess the unchanged file, got %+v", result)
	}
}

func TestCalculatePriorityFavorsSmallFiles(t *testing.T) {
	ix := New(nil, Config{}, nil)
	small := ix.calculatePriority("/x.md", 1024)
	large := ix.calculatePriority("/x.md", 1024*1024)
	if small <= large {
		t.Fatalf("expected small file to have higher priority, got small=%d large=%d", small, large)
	}
}
