package api

import (
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
)

// ErrorResponse is the standard error body returned on any non-2xx
// response.
// @Description Standard error response format
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// TaskResponse is the safe DTO for a Scheduled Task.
// @Description Scheduled task state
type TaskResponse struct {
	ID                   string                `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name                 string                `json:"name" example:"golang daily"`
	CronExpr             string                `json:"cron_expression" example:"0 */6 * * *"`
	Subreddits           []string              `json:"subreddits" example:"golang,programming"`
	Enabled              bool                  `json:"enabled"`
	MaxPostsPerSubreddit int                   `json:"max_posts_per_subreddit" example:"25"`
	RetryCount           int                   `json:"retry_count" example:"3"`
	RetryDelaySeconds    int                   `json:"retry_delay_seconds" example:"60"`
	TimeoutSeconds       int                   `json:"timeout_seconds" example:"3600"`
	CreatedAt            time.Time             `json:"created_at"`
	LastRun              *time.Time            `json:"last_run,omitempty"`
	NextRun              *time.Time            `json:"next_run,omitempty"`
	LastResult           *statestore.TaskResult `json:"last_result,omitempty"`
}

func toTaskResponse(t *statestore.Task) TaskResponse {
	return TaskResponse{
		ID: t.ID, Name: t.Name, CronExpr: t.CronExpr, Subreddits: t.Subreddits, Enabled: t.Enabled,
		MaxPostsPerSubreddit: t.MaxPostsPerSubreddit, RetryCount: t.RetryCount,
		RetryDelaySeconds: t.RetryDelaySeconds, TimeoutSeconds: t.TimeoutSeconds,
		CreatedAt: t.CreatedAt, LastRun: t.LastRun, NextRun: t.NextRun, LastResult: t.LastResult,
	}
}

// CreateTaskRequest is the request body for creating a scheduled task.
// @Description Request body for creating a scheduled task
type CreateTaskRequest struct {
	Name                 string   `json:"name" example:"golang daily"`
	CronExpr             string   `json:"cron_expression" example:"0 */6 * * *"`
	Subreddits           []string `json:"subreddits" example:"golang,programming"`
	Enabled              *bool    `json:"enabled,omitempty"`
	MaxPostsPerSubreddit int      `json:"max_posts_per_subreddit,omitempty" example:"25"`
	RetryCount           *int     `json:"retry_count,omitempty" example:"3"`
	RetryDelaySeconds    int      `json:"retry_delay_seconds,omitempty" example:"60"`
	TimeoutSeconds       int      `json:"timeout_seconds,omitempty" example:"3600"`
}

// UpdateTaskRequest is the request body for PATCHing a scheduled task;
// only enabled is mutable through the HTTP surface.
// @Description Request body for enabling/disabling a scheduled task
type UpdateTaskRequest struct {
	Enabled *bool `json:"enabled"`
}

// PostResponse is the DTO for one indexed post.
// @Description Indexed post
type PostResponse struct {
	ID             int64    `json:"id"`
	FilePath       string   `json:"file_path"`
	PostID         string   `json:"post_id"`
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	Subreddit      string   `json:"subreddit"`
	URL            string   `json:"url"`
	CreatedUTC     int64    `json:"created_utc"`
	Upvotes        int      `json:"upvotes"`
	ReplyCount     int      `json:"reply_count"`
	ContentPreview string   `json:"content_preview"`
	Tags           []string `json:"tags"`
}

func toPostResponse(p searchindex.Post) PostResponse {
	return PostResponse{
		ID: p.ID, FilePath: p.FilePath, PostID: p.PostID, Title: p.Title, Author: p.Author,
		Subreddit: p.Subreddit, URL: p.URL, CreatedUTC: p.CreatedUTC, Upvotes: p.Upvotes,
		ReplyCount: p.ReplyCount, ContentPreview: p.ContentPreview, Tags: p.Tags,
	}
}

// SearchResultResponse is one ranked row of a search response.
// @Description One search result row
type SearchResultResponse struct {
	Post      PostResponse `json:"post"`
	Snippet   string       `json:"snippet,omitempty"`
	RankScore float64      `json:"rank_score"`
}

func toSearchResultResponse(r searchindex.SearchResult) SearchResultResponse {
	return SearchResultResponse{Post: toPostResponse(r.Post), Snippet: r.Snippet, RankScore: r.RankScore}
}

// TagResponse is the DTO for a tag row.
// @Description Tag with usage count
type TagResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	UsageCount  int    `json:"usage_count"`
}

func toTagResponse(t *searchindex.Tag) TagResponse {
	return TagResponse{ID: t.ID, Name: t.Name, Description: t.Description, Color: t.Color, UsageCount: t.UsageCount}
}

// CreateTagRequest is the request body for creating a tag.
// @Description Request body for creating a tag
type CreateTagRequest struct {
	Name        string `json:"name" example:"discussion"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty" example:"#3366ff"`
}

// TagPostRequest names the tags to attach to or detach from a post.
// @Description Request body for tagging a post
type TagPostRequest struct {
	Tags []string `json:"tags"`
}

// StatsResponse combines the search index and state store statistics
// snapshots into one response for the /stats endpoint.
// @Description Combined search-index and scheduler statistics
type StatsResponse struct {
	Search   *searchindex.Stats `json:"search"`
	Schedule *statestore.Stats  `json:"schedule"`
}
