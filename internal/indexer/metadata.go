// Package indexer implements C6: filesystem scanning, change detection,
// and metadata extraction for rendered Reddit-post markdown files, on top
// of searchindex. Grounded on
// original_source/python/search/optimized_indexer.py and
// original_source/python/search/metadata_extractor.py.
package indexer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	subredditAuthorPattern = regexp.MustCompile(`(?m)^\*\*([A-Za-z0-9_]+)\*\*\s*\|\s*Posted by u/([A-Za-z0-9_-]+)`)
	titlePattern           = regexp.MustCompile(`(?m)^## (.+)$`)
	originalURLPattern     = regexp.MustCompile(`(?m)^Original post:\s*\[([^\]]+)\]`)
	upvotePattern          = regexp.MustCompile(`(?i)(?:⬆️|\bupvotes?\b)\s*:?\s*([\d.]+)\s*(k)?`)
	timestampPattern       = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
	replyCountPattern      = regexp.MustCompile(`(?i)(\d+)\s*(?:replies|comments)`)
	postIDFromURLPattern   = regexp.MustCompile(`/comments/([a-z0-9]+)/`)
	redditIndicatorA       = regexp.MustCompile(`(?m)^\*\*[A-Za-z0-9_]+\*\*\s*\|\s*Posted by u/`)
	redditIndicatorB       = regexp.MustCompile(`(?m)^## .+`)
	redditIndicatorC       = regexp.MustCompile(`(?i)reddit\.com`)

	headerSkipPattern = regexp.MustCompile(`^(#|\*\*|u/|Original post:|💬)`)
)

// Metadata is the result of extracting fields from a rendered post file.
type Metadata struct {
	Subreddit      string
	Author         string
	Title          string
	OriginalURL    string
	Upvotes        int
	Timestamp      string
	ReplyCount     int
	PostID         string
	ContentPreview string
}

// ExtractFromContent parses a rendered markdown post's content into
// Metadata. fallbackName is used to derive a post id when none can be
// found in the content (matching the Python fallback chain: URL → 6-8
// char alphanumeric filename segment → raw filename).
func ExtractFromContent(content, fallbackName string) Metadata {
	var md Metadata

	if m := subredditAuthorPattern.FindStringSubmatch(content); m != nil {
		md.Subreddit = m[1]
		md.Author = m[2]
	}
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		md.Title = strings.TrimSpace(m[1])
	}
	if m := originalURLPattern.FindStringSubmatch(content); m != nil {
		md.OriginalURL = m[1]
	}
	if m := upvotePattern.FindStringSubmatch(content); m != nil {
		md.Upvotes = parseUpvoteCount(m[1], m[2] != "")
	}
	if m := timestampPattern.FindStringSubmatch(content); m != nil {
		md.Timestamp = m[1]
	}
	if m := replyCountPattern.FindStringSubmatch(content); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			md.ReplyCount = n
		}
	}

	md.PostID = extractPostID(md.OriginalURL, fallbackName)
	md.ContentPreview = generatePreview(content)
	return md
}

func parseUpvoteCount(raw string, hasK bool) int {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	if hasK {
		value *= 1000
	}
	return int(value)
}

var fallbackIDPattern = regexp.MustCompile(`[a-zA-Z0-9]{6,8}`)

func extractPostID(originalURL, fallbackName string) string {
	if originalURL != "" {
		if m := postIDFromURLPattern.FindStringSubmatch(originalURL); m != nil {
			return m[1]
		}
	}
	if m := fallbackIDPattern.FindString(fallbackName); m != "" {
		return m
	}
	return fallbackName
}

const previewMaxLen = 200

func generatePreview(content string) string {
	var out []string
	total := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || headerSkipPattern.MatchString(trimmed) {
			continue
		}
		stripped := stripMarkdown(trimmed)
		if stripped == "" {
			continue
		}
		out = append(out, stripped)
		total += len(stripped)
		if total >= previewMaxLen {
			break
		}
	}
	preview := strings.Join(out, " ")
	if len(preview) > previewMaxLen {
		preview = preview[:previewMaxLen] + "..."
	}
	return preview
}

var (
	mdBoldItalic = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	mdLinks      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

func stripMarkdown(s string) string {
	s = mdLinks.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdBoldItalic.ReplaceAllString(s, "$1")
	return s
}

// IsRedditMarkdownFile reports whether the content looks like a rendered
// Reddit post, requiring at least two of three indicator patterns to
// match within the first 10 lines.
func IsRedditMarkdownFile(content string) bool {
	lines := strings.SplitN(content, "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	head := strings.Join(lines, "\n")

	hits := 0
	for _, pattern := range []*regexp.Regexp{redditIndicatorA, redditIndicatorB, redditIndicatorC} {
		if pattern.MatchString(head) {
			hits++
		}
	}
	return hits >= 2
}
