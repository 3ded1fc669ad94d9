package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
	"github.com/cheolwanpark/meows-archive/collector/internal/scheduler"
	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
	"github.com/cheolwanpark/meows-archive/collector/internal/tagging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler holds the dependencies HTTP routes are served from: the task
// scheduler (which owns the state store's task set), the search index,
// and the tagging manager layered over it.
type Handler struct {
	store *statestore.Store
	idx   *searchindex.Index
	tags  *tagging.Manager
	sched *scheduler.Scheduler
}

// NewHandler creates a new Handler.
func NewHandler(store *statestore.Store, idx *searchindex.Index, tags *tagging.Manager, sched *scheduler.Scheduler) *Handler {
	return &Handler{store: store, idx: idx, tags: tags, sched: sched}
}

// CreateTask godoc
// @Summary Create a scheduled task
// @Description Add a new cron-scheduled Reddit download task
// @Tags tasks
// @Accept json
// @Produce json
// @Param task body CreateTaskRequest true "Task configuration"
// @Success 201 {object} TaskResponse
// @Failure 400 {object} ErrorResponse "Invalid task configuration or cron expression"
// @Router /tasks [post]
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	maxPosts := req.MaxPostsPerSubreddit
	if maxPosts <= 0 {
		maxPosts = 25
	}
	retryCount := 3
	if req.RetryCount != nil {
		retryCount = *req.RetryCount
	}
	retryDelay := req.RetryDelaySeconds
	if retryDelay <= 0 {
		retryDelay = 60
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 3600
	}

	task := &statestore.Task{
		ID: uuid.New().String(), Name: req.Name, CronExpr: req.CronExpr, Subreddits: req.Subreddits,
		Enabled: enabled, MaxPostsPerSubreddit: maxPosts, RetryCount: retryCount,
		RetryDelaySeconds: retryDelay, TimeoutSeconds: timeout,
	}

	if err := h.sched.AddTask(r.Context(), task); err != nil {
		respondAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	respondJSON(w, toTaskResponse(task))
}

// ListTasks godoc
// @Summary List scheduled tasks
// @Tags tasks
// @Produce json
// @Success 200 {array} TaskResponse
// @Router /tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.sched.GetAllTasks()
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	respondJSON(w, out)
}

// GetTask godoc
// @Summary Get a scheduled task by id
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} TaskResponse
// @Failure 404 {object} ErrorResponse
// @Router /tasks/{id} [get]
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := h.sched.GetTask(id)
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, toTaskResponse(task))
}

// UpdateTask godoc
// @Summary Enable or disable a scheduled task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param task body UpdateTaskRequest true "Enabled flag"
// @Success 200 {object} TaskResponse
// @Failure 404 {object} ErrorResponse
// @Router /tasks/{id} [patch]
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.sched.GetTask(id); !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "invalid request body: enabled is required")
		return
	}

	if err := h.sched.SetTaskEnabled(r.Context(), id, *req.Enabled); err != nil {
		respondAPIError(w, err)
		return
	}

	task, _ := h.sched.GetTask(id)
	respondJSON(w, toTaskResponse(task))
}

// DeleteTask godoc
// @Summary Delete a scheduled task
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 204
// @Router /tasks/{id} [delete]
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sched.RemoveTask(r.Context(), id); err != nil {
		respondAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search godoc
// @Summary Search indexed posts
// @Tags search
// @Produce json
// @Param q query string false "Full-text query"
// @Param subreddits query string false "Comma-separated subreddit filter"
// @Param authors query string false "Comma-separated author filter"
// @Param tags query string false "Comma-separated tag filter"
// @Param min_upvotes query int false "Minimum upvote count"
// @Param max_upvotes query int false "Maximum upvote count"
// @Param date_from query int false "Epoch-seconds lower bound"
// @Param date_to query int false "Epoch-seconds upper bound"
// @Param limit query int false "Page size (default 20, max 1000)"
// @Param offset query int false "Page offset"
// @Success 200 {array} SearchResultResponse
// @Failure 400 {object} ErrorResponse
// @Router /search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.idx.SearchPostsOptimized(r.Context(), params)
	if err != nil {
		respondAPIError(w, err)
		return
	}

	out := make([]SearchResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toSearchResultResponse(res))
	}
	respondJSON(w, out)
}

// SearchStream godoc
// @Summary Stream search results as newline-delimited JSON
// @Description Pages through SearchPostsOptimized lazily, writing one JSON array per batch as a line of NDJSON
// @Tags search
// @Produce json
// @Param q query string false "Full-text query"
// @Param batch_size query int false "Page size per streamed batch (default 50)"
// @Success 200 {string} string "application/x-ndjson body"
// @Router /search/stream [get]
func (h *Handler) SearchStream(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	batchSize := 50
	if v := r.URL.Query().Get("batch_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			batchSize = n
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	next := h.idx.SearchStreaming(r.Context(), params, batchSize)
	encoder := json.NewEncoder(w)
	for {
		page, err := next()
		if err != nil {
			slog.Error("search stream failed mid-page", "error", err)
			return
		}
		if len(page) == 0 {
			return
		}
		out := make([]SearchResultResponse, 0, len(page))
		for _, res := range page {
			out = append(out, toSearchResultResponse(res))
		}
		if err := encoder.Encode(out); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// SearchSuggestions godoc
// @Summary Query-completion suggestions
// @Tags search
// @Produce json
// @Param q query string true "Partial query (min 2 characters)"
// @Param limit query int false "Maximum suggestions (default 10)"
// @Success 200 {array} string
// @Router /search/suggestions [get]
func (h *Handler) SearchSuggestions(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	suggestions, err := h.idx.GetSuggestionsOptimized(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		respondAPIError(w, err)
		return
	}
	respondJSON(w, suggestions)
}

// PopularSearches godoc
// @Summary Most-engaging subreddits by a blended post-count/upvote/author score
// @Tags search
// @Produce json
// @Param limit query int false "Maximum results (default 10)"
// @Success 200 {array} searchindex.PopularSearch
// @Router /search/popular [get]
func (h *Handler) PopularSearches(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	popular, err := h.idx.GetPopularSearchesOptimized(r.Context(), limit)
	if err != nil {
		respondAPIError(w, err)
		return
	}
	respondJSON(w, popular)
}

func parseSearchParams(r *http.Request) (searchindex.SearchParams, error) {
	q := r.URL.Query()
	params := searchindex.SearchParams{
		Query:      q.Get("q"),
		Subreddits: splitCSV(q.Get("subreddits")),
		Authors:    splitCSV(q.Get("authors")),
		Tags:       splitCSV(q.Get("tags")),
		Limit:      20,
	}

	var err error
	if params.MinUpvotes, err = parseOptionalInt(q.Get("min_upvotes")); err != nil {
		return params, fmt.Errorf("invalid min_upvotes: %w", err)
	}
	if params.MaxUpvotes, err = parseOptionalInt(q.Get("max_upvotes")); err != nil {
		return params, fmt.Errorf("invalid max_upvotes: %w", err)
	}
	if params.DateFrom, err = parseOptionalInt64(q.Get("date_from")); err != nil {
		return params, fmt.Errorf("invalid date_from: %w", err)
	}
	if params.DateTo, err = parseOptionalInt64(q.Get("date_to")); err != nil {
		return params, fmt.Errorf("invalid date_to: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid limit: %w", err)
		}
		params.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid offset: %w", err)
		}
		params.Offset = n
	}
	return params, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOptionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseOptionalInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListTags godoc
// @Summary List all tags
// @Tags tags
// @Produce json
// @Success 200 {array} TagResponse
// @Router /tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tags.ListTags(r.Context())
	if err != nil {
		respondAPIError(w, err)
		return
	}
	out := make([]TagResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, toTagResponse(t))
	}
	respondJSON(w, out)
}

// CreateTag godoc
// @Summary Create a tag
// @Tags tags
// @Accept json
// @Produce json
// @Param tag body CreateTagRequest true "Tag definition"
// @Success 201 {object} TagResponse
// @Failure 400 {object} ErrorResponse
// @Router /tags [post]
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req CreateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tag, err := h.tags.CreateTag(r.Context(), req.Name, req.Description, req.Color)
	if err != nil {
		respondAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	respondJSON(w, toTagResponse(tag))
}

// DeleteTag godoc
// @Summary Delete a tag
// @Tags tags
// @Param name path string true "Tag name"
// @Success 204
// @Router /tags/{name} [delete]
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.tags.DeleteTag(r.Context(), name); err != nil {
		respondAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TagPost godoc
// @Summary Attach tags to a post
// @Tags tags
// @Accept json
// @Produce json
// @Param id path int true "Post rowid"
// @Param body body TagPostRequest true "Tag names"
// @Success 200 {array} string
// @Failure 400 {object} ErrorResponse
// @Router /posts/{id}/tags [post]
func (h *Handler) TagPost(w http.ResponseWriter, r *http.Request) {
	postID, err := parsePostID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req TagPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.tags.TagPost(r.Context(), postID, req.Tags...); err != nil {
		respondAPIError(w, err)
		return
	}
	tagNames, err := h.tags.GetPostTags(r.Context(), postID)
	if err != nil {
		respondAPIError(w, err)
		return
	}
	respondJSON(w, tagNames)
}

// UntagPost godoc
// @Summary Detach a tag from a post
// @Tags tags
// @Param id path int true "Post rowid"
// @Param name path string true "Tag name"
// @Success 204
// @Router /posts/{id}/tags/{name} [delete]
func (h *Handler) UntagPost(w http.ResponseWriter, r *http.Request) {
	postID, err := parsePostID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.tags.UntagPost(r.Context(), postID, name); err != nil {
		respondAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AutoTagPost godoc
// @Summary Auto-tag a post from its title/preview, optionally assisted by an LLM
// @Tags tags
// @Produce json
// @Param id path int true "Post rowid"
// @Param llm query bool false "Use the LLM-assisted classifier in addition to pattern matching"
// @Success 200 {array} string
// @Failure 404 {object} ErrorResponse
// @Router /posts/{id}/autotag [post]
func (h *Handler) AutoTagPost(w http.ResponseWriter, r *http.Request) {
	postID, err := parsePostID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tagNames []string
	if r.URL.Query().Get("llm") == "true" {
		tagNames, err = h.tags.AutoTagPostWithLLM(r.Context(), postID)
	} else {
		tagNames, err = h.tags.AutoTagPost(r.Context(), postID)
	}
	if err != nil {
		respondAPIError(w, err)
		return
	}
	respondJSON(w, tagNames)
}

func parsePostID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid post id %q", raw)
	}
	return id, nil
}

// Stats godoc
// @Summary Combined search-index and scheduler statistics
// @Tags stats
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	searchStats, err := h.idx.GetStatsCached(r.Context())
	if err != nil {
		respondAPIError(w, err)
		return
	}
	scheduleStats, err := h.store.GetStatistics(r.Context())
	if err != nil {
		respondAPIError(w, err)
		return
	}
	respondJSON(w, StatsResponse{Search: searchStats, Schedule: scheduleStats})
}

// Integrity godoc
// @Summary Run integrity checks over both stores
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]any
// @Router /integrity [get]
func (h *Handler) Integrity(w http.ResponseWriter, r *http.Request) {
	searchReport, err := h.idx.IntegrityCheck(r.Context())
	if err != nil {
		respondAPIError(w, err)
		return
	}
	storeReport, err := h.store.IntegrityCheck(r.Context())
	if err != nil {
		respondAPIError(w, err)
		return
	}
	respondJSON(w, map[string]any{"search": searchReport, "state_store": storeReport})
}

// Metrics godoc
// @Summary Search analytics: query volume, cache hit rate, latency percentiles, popular terms
// @Tags stats
// @Produce json
// @Success 200 {object} searchindex.SearchAnalytics
// @Router /metrics [get]
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.idx.Analytics())
}

// Health godoc
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	respondJSON(w, ErrorResponse{Error: message})
}

// respondAPIError maps the engine's error taxonomy onto HTTP status
// codes: InvalidInput is a client error (400), everything else
// (Transient, Integrity, Fatal, or an unwrapped driver error) is
// reported as a server error (500) since the HTTP surface has no
// narrower recovery to offer the caller.
func respondAPIError(w http.ResponseWriter, err error) {
	var invalid *errs.InvalidInput
	if errors.As(err, &invalid) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
