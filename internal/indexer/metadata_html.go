package indexer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlHeaderPattern matches the header paragraph's text, in which the
// subreddit is wrapped in <strong> rather than Markdown asterisks.
var htmlHeaderPattern = regexp.MustCompile(`([A-Za-z0-9_]+)\s*\|\s*Posted by u/([A-Za-z0-9_-]+)`)

// ExtractFromHTML parses an HTML-rendered post file into Metadata. The
// renderer produces HTML derived directly from the Markdown layout (§6),
// so the same header fields live in predictable tags: the subreddit in
// the first <strong>, the title in the first <h2>, the original link in
// the paragraph mentioning "Original post", and the reply count in the
// trailing paragraph mentioning "replies".
func ExtractFromHTML(content, fallbackName string) Metadata {
	var md Metadata

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return md
	}

	md.Subreddit = strings.TrimSpace(doc.Find("strong").First().Text())
	md.Title = strings.TrimSpace(doc.Find("h2").First().Text())

	header := doc.Find("p").First().Text()
	if m := htmlHeaderPattern.FindStringSubmatch(header); m != nil {
		if md.Subreddit == "" {
			md.Subreddit = m[1]
		}
		md.Author = m[2]
	}
	if m := upvotePattern.FindStringSubmatch(header); m != nil {
		md.Upvotes = parseUpvoteCount(m[1], m[2] != "")
	}
	if m := timestampPattern.FindStringSubmatch(header); m != nil {
		md.Timestamp = m[1]
	}

	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "Original post") {
			return true
		}
		if href, ok := s.Find("a").First().Attr("href"); ok {
			md.OriginalURL = href
		}
		return false
	})

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if m := replyCountPattern.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				md.ReplyCount = n
			}
		}
	})

	md.PostID = extractPostID(md.OriginalURL, fallbackName)
	md.ContentPreview = generateHTMLPreview(doc)
	return md
}

// generateHTMLPreview concatenates body paragraph text, skipping the
// header and footer paragraphs that carry metadata rather than content.
func generateHTMLPreview(doc *goquery.Document) string {
	var out []string
	total := 0
	doc.Find("p").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.Contains(text, "Original post") || replyCountPattern.MatchString(text) {
			return true
		}
		out = append(out, text)
		total += len(text)
		return total < previewMaxLen
	})
	preview := strings.Join(out, " ")
	if len(preview) > previewMaxLen {
		preview = preview[:previewMaxLen] + "..."
	}
	return preview
}

// IsRedditHTMLFile reports whether content parses as HTML and carries the
// same two-of-three header indicators ExtractFromHTML relies on.
func IsRedditHTMLFile(content string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return false
	}
	hits := 0
	if doc.Find("strong").Length() > 0 {
		hits++
	}
	if doc.Find("h2").Length() > 0 {
		hits++
	}
	if strings.Contains(strings.ToLower(doc.Text()), "reddit.com") {
		hits++
	}
	return hits >= 2
}
