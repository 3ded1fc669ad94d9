// Package executor implements C7: running a single Scheduled Task to
// completion — validating it, fetching new posts per subreddit with
// dedup and rate limiting, rendering and writing them to disk, and
// recording each download — aggregating everything into a Task Result.
// Grounded on original_source/python/scheduler/task_executor.py.
package executor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/archivesec"
	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
	"github.com/cheolwanpark/meows-archive/collector/internal/fetch"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
)

// RetryPolicy controls the backoff used when a per-post fetch fails.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy matches task_executor.py's RetryConfig defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, BackoffMultiplier: 2.0}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * pow(p.BackoffMultiplier, attempt-1)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := (0.1 + rand.Float64()*0.2) * d
	return time.Duration(d + jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Config wires an Executor's collaborators.
type Config struct {
	Store                    *statestore.Store
	Lister                   fetch.SubredditLister
	Fetcher                  fetch.JSONFetcher
	Renderer                 fetch.Renderer
	SaveDir                  string
	MaxConcurrentSubreddits  int
	PacingDelay              time.Duration
	Retry                    RetryPolicy
	Logger                   *log.Logger
}

func (c *Config) setDefaults() {
	if c.MaxConcurrentSubreddits <= 0 {
		c.MaxConcurrentSubreddits = 3
	}
	if c.PacingDelay <= 0 {
		c.PacingDelay = 100 * time.Millisecond
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Executor runs Scheduled Tasks.
type Executor struct {
	cfg Config
}

// New creates an Executor.
func New(cfg Config) *Executor {
	cfg.setDefaults()
	return &Executor{cfg: cfg}
}

type subredditOutcome struct {
	downloaded int
	skipped    int
	errors     []string
}

// ExecuteTask runs task to completion, enforcing its configured timeout
// cooperatively: the watchdog observes wall-clock elapsed time and
// reports a timeout in the result, but never force-kills in-flight work
// — a subreddit loop that is mid-fetch when the deadline passes is
// allowed to finish that one fetch before the cancellation is observed.
func (e *Executor) ExecuteTask(ctx context.Context, task *statestore.Task) *statestore.TaskResult {
	start := time.Now().UTC()

	if !task.Enabled {
		return failResult(task.ID, start, "task is disabled")
	}
	if len(task.Subreddits) == 0 {
		return failResult(task.ID, start, "no subreddits configured")
	}

	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan *statestore.TaskResult, 1)
	go func() {
		resultCh <- e.doExecute(runCtx, task, start)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-runCtx.Done():
		return failResult(task.ID, start, fmt.Sprintf("task execution timed out after %d seconds", task.TimeoutSeconds))
	}
}

func (e *Executor) doExecute(ctx context.Context, task *statestore.Task, start time.Time) *statestore.TaskResult {
	downloaded, skipped := 0, 0
	var errs []string

	if e.cfg.MaxConcurrentSubreddits <= 1 || len(task.Subreddits) == 1 {
		for _, sub := range task.Subreddits {
			o := e.processSubreddit(ctx, task, sub)
			downloaded += o.downloaded
			skipped += o.skipped
			errs = append(errs, o.errors...)
		}
	} else {
		var mu sync.Mutex
		sem := make(chan struct{}, e.cfg.MaxConcurrentSubreddits)
		var wg sync.WaitGroup
		for _, sub := range task.Subreddits {
			sub := sub
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				o := e.processSubreddit(ctx, task, sub)
				mu.Lock()
				downloaded += o.downloaded
				skipped += o.skipped
				errs = append(errs, o.errors...)
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	completed := time.Now().UTC()
	status := statestore.StatusCompleted
	if len(errs) > 0 && downloaded == 0 {
		status = statestore.StatusFailed
	}

	output := fmt.Sprintf("Downloaded: %d posts\nSkipped: %d posts\nSubreddits processed: %d", downloaded, skipped, len(task.Subreddits))
	if len(errs) > 0 {
		output += fmt.Sprintf("\nErrors: %d", len(errs))
	}

	var errPtr *string
	if len(errs) > 0 {
		limited := errs
		if len(limited) > 3 {
			limited = limited[:3]
		}
		joined := strings.Join(limited, "; ")
		errPtr = &joined
	}

	return &statestore.TaskResult{
		TaskID: task.ID, Status: status, StartedAt: start, CompletedAt: &completed,
		Error: errPtr, Output: output,
	}
}

func (e *Executor) processSubreddit(ctx context.Context, task *statestore.Task, subreddit string) subredditOutcome {
	var out subredditOutcome

	recent, err := e.cfg.Store.GetDownloadedPosts(ctx, subreddit, 30)
	if err != nil {
		out.errors = append(out.errors, fmt.Sprintf("error processing subreddit %s: %v", subreddit, err))
		return out
	}

	posts, err := e.cfg.Lister.ListPosts(ctx, subreddit, task.MaxPostsPerSubreddit)
	if err != nil {
		out.errors = append(out.errors, fmt.Sprintf("error processing subreddit %s: %v", subreddit, err))
		return out
	}

	for _, summary := range posts {
		if ctx.Err() != nil {
			return out
		}
		cleanURL := cleanPostURL(summary.URL)
		postID := extractPostID(cleanURL)
		if recent[postID] {
			out.skipped++
			continue
		}

		if !validPostURL(cleanURL) {
			out.errors = append(out.errors, errs.NewInvalidInput("url", fmt.Sprintf("invalid URL: %s", cleanURL)).Error())
			continue
		}

		data, err := e.fetchWithRetry(ctx, cleanURL)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error downloading %s: %v", cleanURL, err))
			continue
		}

		content, err := e.cfg.Renderer.Render(data)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error rendering %s: %v", cleanURL, err))
			continue
		}

		filePath := e.targetPath(subreddit, postID)
		if err := archivesec.ValidatePathSafety(filePath, e.cfg.SaveDir); err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error writing %s: %v", cleanURL, err))
			continue
		}
		if err := archivesec.ValidateExtension(filePath); err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error writing %s: %v", cleanURL, err))
			continue
		}
		if err := archivesec.ValidateContent([]byte(content)); err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error writing %s: %v", cleanURL, err))
			continue
		}
		if err := writeFileAtomic(filePath, []byte(content)); err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error writing %s: %v", cleanURL, err))
			continue
		}

		taskID := task.ID
		record := &statestore.DownloadRecord{
			PostID: postID, PostURL: cleanURL, Subreddit: subreddit,
			Title: data.Title, Author: data.Author, DownloadedAt: time.Now().UTC(),
			FilePath: filePath, TaskID: &taskID,
		}
		if err := e.cfg.Store.RecordDownload(ctx, record); err != nil {
			out.errors = append(out.errors, fmt.Sprintf("error recording download %s: %v", cleanURL, err))
			continue
		}

		out.downloaded++
		time.Sleep(e.cfg.PacingDelay)
	}

	return out
}

func (e *Executor) fetchWithRetry(ctx context.Context, url string) (*fetch.PostData, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.Retry.delay(attempt - 1)):
			}
		}
		data, err := e.cfg.Fetcher.FetchPost(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Executor) targetPath(subreddit, postID string) string {
	return filepath.Join(e.cfg.SaveDir, subreddit, postID+".md")
}

// writeFileAtomic writes content to a sibling temp file and renames it
// into place, so a concurrent indexer pass never observes a partially
// written post.
func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var (
	commentsURLPattern  = regexp.MustCompile(`/comments/([a-zA-Z0-9]+)/`)
	shortURLPattern     = regexp.MustCompile(`redd\.it/([a-zA-Z0-9]+)`)
	validPostURLPattern = regexp.MustCompile(`^https://(www\.)?reddit\.com/r/\w+/comments/\w+/[\w_]+/?`)
)

// cleanPostURL strips trailing tracking query parameters from a Reddit
// post URL, mirroring reddit_utils.py's clean_url.
func cleanPostURL(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.Index(url, "?utm_source"); i >= 0 {
		url = url[:i]
	}
	return url
}

// validPostURL reports whether url has the shape of a Reddit post
// permalink, mirroring reddit_utils.py's valid_url.
func validPostURL(url string) bool {
	return validPostURLPattern.MatchString(url)
}

// extractPostID pulls the Reddit post id out of a post URL, falling back
// to the first 12 hex characters of the URL's MD5 hash when no
// recognizable pattern matches.
func extractPostID(url string) string {
	if m := commentsURLPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := shortURLPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}

func failResult(taskID string, start time.Time, msg string) *statestore.TaskResult {
	completed := time.Now().UTC()
	return &statestore.TaskResult{
		TaskID: taskID, Status: statestore.StatusFailed, StartedAt: start, CompletedAt: &completed,
		Error: &msg,
	}
}
