// Package tagging implements the supplemented tag-management feature
// (manual tag CRUD plus pattern-based and LLM-assisted auto-tagging),
// grounded on original_source/python/search/tag_manager.py.
package tagging

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
	"github.com/cheolwanpark/meows-archive/collector/internal/gemini"
	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
	"google.golang.org/genai"
)

// patternFamily is one named family of regexes used for automatic
// tagging, mirroring tag_manager.py's auto_tag_patterns dict.
type patternFamily struct {
	tag      string
	patterns []*regexp.Regexp
}

var defaultPatternFamilies = []patternFamily{
	{tag: "question", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\?`),
		regexp.MustCompile(`(?i)^(how|what|why|when|where|who|which|can|should|is|are|does|do)\b`),
	}},
	{tag: "discussion", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(discuss|thoughts?|opinion|debate)\b`),
	}},
	{tag: "news", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(announce|release[sd]?|breaking|report)\b`),
	}},
	{tag: "tutorial", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(tutorial|guide|how ?to|walkthrough|step[- ]by[- ]step)\b`),
	}},
	{tag: "review", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(review|comparison|vs\.?|versus)\b`),
	}},
	{tag: "meme", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(meme|lol|lmao)\b`),
	}},
}

// Manager applies tag CRUD and auto-tagging on top of a search index.
type Manager struct {
	idx      *searchindex.Index
	families []patternFamily
	llm      *gemini.Client
	llmModel string
}

// New creates a Manager. llm may be nil, in which case AutoTagPostWithLLM
// falls back to pattern matching only.
func New(idx *searchindex.Index, llm *gemini.Client, llmModel string) *Manager {
	return &Manager{idx: idx, families: defaultPatternFamilies, llm: llm, llmModel: llmModel}
}

// CreateTag creates (or returns the existing) tag by name.
func (m *Manager) CreateTag(ctx context.Context, name, description, color string) (*searchindex.Tag, error) {
	return m.idx.CreateTag(ctx, name, description, color)
}

// ListTags returns every tag, most-used first.
func (m *Manager) ListTags(ctx context.Context) ([]*searchindex.Tag, error) {
	return m.idx.ListTags(ctx)
}

// DeleteTag removes a tag and its post associations.
func (m *Manager) DeleteTag(ctx context.Context, name string) error {
	return m.idx.DeleteTag(ctx, name)
}

// TagPost manually attaches tags to a post.
func (m *Manager) TagPost(ctx context.Context, postID int64, tagNames ...string) error {
	return m.idx.TagPost(ctx, postID, tagNames...)
}

// UntagPost removes a tag from a post.
func (m *Manager) UntagPost(ctx context.Context, postID int64, tagName string) error {
	return m.idx.UntagPost(ctx, postID, tagName)
}

// GetPostTags returns the tags currently applied to a post.
func (m *Manager) GetPostTags(ctx context.Context, postID int64) ([]string, error) {
	return m.idx.GetPostTags(ctx, postID)
}

// BulkTagPosts applies tagNames to every post in postIDs.
func (m *Manager) BulkTagPosts(ctx context.Context, postIDs []int64, tagNames []string) (int, error) {
	return m.idx.BulkTagPosts(ctx, postIDs, tagNames)
}

// AutoTagPost looks up the post directly by its database id and applies
// every pattern-family tag whose regexes match the title or content
// preview, plus a sub_<subreddit> tag when the post has a subreddit. Unlike the
// tag_manager.py function this is grounded on, there is no dead lookup
// by an empty file path first: that call never did anything useful in
// the original and is skipped entirely here.
func (m *Manager) AutoTagPost(ctx context.Context, postID int64) ([]string, error) {
	post, err := m.idx.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, errs.NewInvalidInput("post_id", "no such post")
	}

	var matched []string
	haystack := strings.ToLower(post.Title + " " + post.ContentPreview)
	for _, family := range m.families {
		for _, pattern := range family.patterns {
			if pattern.MatchString(haystack) {
				matched = append(matched, family.tag)
				break
			}
		}
	}

	if post.Subreddit != "" {
		matched = append(matched, subredditTag(post.Subreddit))
	}

	if len(matched) > 0 {
		if err := m.idx.TagPost(ctx, postID, matched...); err != nil {
			return nil, err
		}
	}
	return matched, nil
}

// subredditTag builds the "sub_<subreddit>" tag auto-applied to every
// post, mirroring tag_manager.py's subreddit_tag construction.
func subredditTag(subreddit string) string {
	name := strings.ToLower(subreddit)
	name = strings.ReplaceAll(name, "r/", "")
	return "sub_" + name
}

type llmTagSuggestion struct {
	Tags []string `json:"tags"`
}

// AutoTagPostWithLLM runs the pattern-based pass first, then asks the
// configured Gemini model to suggest additional tags from a fixed
// vocabulary, applying any that the pattern pass missed. Returns the
// pattern-matched tags alone when no LLM client is configured.
func (m *Manager) AutoTagPostWithLLM(ctx context.Context, postID int64) ([]string, error) {
	patternTags, err := m.AutoTagPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if m.llm == nil {
		return patternTags, nil
	}

	post, err := m.idx.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return patternTags, nil
	}

	vocabulary := make([]string, 0, len(m.families))
	for _, f := range m.families {
		vocabulary = append(vocabulary, f.tag)
	}
	prompt := fmt.Sprintf(
		"Classify this Reddit post into zero or more of these tags: %s.\nTitle: %s\nPreview: %s\nRespond as JSON: {\"tags\": [\"...\"]}",
		strings.Join(vocabulary, ", "), post.Title, post.ContentPreview,
	)

	suggestion, err := gemini.GenerateContentTyped[llmTagSuggestion](m.llm, ctx, m.llmModel, prompt, &genai.GenerateContentConfig{})
	if err != nil {
		// LLM assist is best-effort; fall back to the pattern-only result.
		return patternTags, nil
	}

	existing := make(map[string]bool, len(patternTags))
	for _, t := range patternTags {
		existing[t] = true
	}
	var added []string
	for _, t := range suggestion.Tags {
		if existing[t] {
			continue
		}
		added = append(added, t)
	}
	if len(added) > 0 {
		if err := m.idx.TagPost(ctx, postID, added...); err != nil {
			return nil, err
		}
	}
	return append(patternTags, added...), nil
}
