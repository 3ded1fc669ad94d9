package indexer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
)

// Task is a single file queued for indexing, with a priority used to
// order the batch (smaller files and caller-supplied patterns first, so
// cheap wins land before expensive ones).
type Task struct {
	FilePath      string
	Priority      int
	EstimatedSize int64
}

// ProgressReport is delivered to a caller-supplied callback as the batch
// proceeds.
type ProgressReport struct {
	Processed int
	Total     int
	Percent   float64
	Rate      float64
	ETASeconds float64
}

// Result aggregates the outcome of an IndexDirectory run.
type Result struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
	Errors  []string
	Deleted int
}

// IndexOptions controls a single IndexDirectory pass: how far it walks,
// which files it considers, and whether it skips files whose mtime
// hasn't advanced since the last pass. Mirrors
// optimized_indexer.py's index_directory_optimized(directory, recursive,
// file_extensions, force_reindex, ...) caller-supplied inputs.
type IndexOptions struct {
	Recursive      bool
	FileExtensions []string
	Force          bool
}

func (o *IndexOptions) setDefaults() {
	if len(o.FileExtensions) == 0 {
		o.FileExtensions = []string{".md", ".html"}
	}
}

// Config controls an Indexer's concurrency and resource behavior.
type Config struct {
	BatchSize            int
	Workers              int
	MemoryCeilingPercent  float64
	CheckpointInterval    int
	PriorityPatterns      map[string]int
	OnProgress            func(ProgressReport)
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		cpu := runtime.NumCPU()
		if cpu > 8 {
			cpu = 8
		}
		c.Workers = cpu
	}
	if c.MemoryCeilingPercent <= 0 {
		c.MemoryCeilingPercent = 80
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 50
	}
}

// Indexer walks a directory of rendered post files and feeds them into a
// searchindex.Index, skipping unchanged files and cleaning up rows whose
// backing file has been removed.
type Indexer struct {
	idx    *searchindex.Index
	cfg    Config
	logger *log.Logger
}

// New creates an Indexer over idx.
func New(idx *searchindex.Index, cfg Config, logger *log.Logger) *Indexer {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Indexer{idx: idx, cfg: cfg, logger: logger}
}

// IndexDirectory walks root, indexes every changed rendered Reddit post
// file (Markdown or HTML) it finds, and removes index rows for files that have since been
// deleted from root. opts controls whether the walk recurses into
// subdirectories, which file extensions it considers, and whether
// unchanged files are reindexed anyway.
func (ix *Indexer) IndexDirectory(ctx context.Context, root string, opts IndexOptions) (*Result, error) {
	opts.setDefaults()

	files, err := ix.findFiles(root, opts.Recursive, opts.FileExtensions)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	tasks, err := ix.filterChangedFiles(ctx, files, opts.Force)
	if err != nil {
		return nil, fmt.Errorf("filter changed files: %w", err)
	}

	result := ix.processTasks(ctx, tasks)

	deleted, err := ix.cleanupDeletedFiles(ctx, root)
	if err != nil {
		ix.logger.Printf("indexer: cleanup sweep failed: %v", err)
	}
	result.Deleted = deleted

	return result, nil
}

func (ix *Indexer) findFiles(root string, recursive bool, extensions []string) ([]string, error) {
	var files []string
	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if hasAnySuffix(path, extensions) {
			files = append(files, path)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func hasAnySuffix(path string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func (ix *Indexer) filterChangedFiles(ctx context.Context, files []string, force bool) ([]Task, error) {
	var tasks []Task
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !force {
			existing, err := ix.idx.GetByFilePath(ctx, path)
			if err != nil {
				return nil, err
			}
			if existing != nil && existing.FileModifiedTime >= float64(info.ModTime().Unix()) {
				continue
			}
		}
		tasks = append(tasks, Task{
			FilePath:      path,
			Priority:      ix.calculatePriority(path, info.Size()),
			EstimatedSize: info.Size(),
		})
	}
	return tasks, nil
}

func (ix *Indexer) calculatePriority(path string, size int64) int {
	priority := 0
	if size < 10*1024 {
		priority += 10
	} else if size < 100*1024 {
		priority += 5
	}
	for pattern, weight := range ix.cfg.PriorityPatterns {
		if strings.Contains(path, pattern) {
			priority += weight
		}
	}
	return priority
}

func (ix *Indexer) processTasks(ctx context.Context, tasks []Task) *Result {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].EstimatedSize < tasks[j].EstimatedSize
	})

	result := &Result{}
	total := len(tasks)
	if total == 0 {
		return result
	}

	stop := ix.startResourceMonitor(ctx)
	defer stop()

	start := time.Now()
	var mu sync.Mutex
	processed := 0

	report := func() {
		if ix.cfg.OnProgress == nil {
			return
		}
		elapsed := time.Since(start).Seconds()
		rate := 0.0
		eta := 0.0
		if elapsed > 0 {
			rate = float64(processed) / elapsed
		}
		if rate > 0 {
			eta = float64(total-processed) / rate
		}
		ix.cfg.OnProgress(ProgressReport{
			Processed: processed, Total: total,
			Percent: 100 * float64(processed) / float64(total),
			Rate: rate, ETASeconds: eta,
		})
	}

	recordOutcome := func(outcome string, errMsg string) {
		mu.Lock()
		defer mu.Unlock()
		processed++
		switch outcome {
		case "indexed":
			result.Indexed++
		case "updated":
			result.Updated++
		case "skipped":
			result.Skipped++
		case "failed":
			result.Failed++
			if errMsg != "" {
				result.Errors = append(result.Errors, errMsg)
			}
		}
		if processed%ix.cfg.CheckpointInterval == 0 || processed == total {
			report()
		}
	}

	if total <= ix.cfg.BatchSize || ix.cfg.Workers <= 1 {
		for _, t := range tasks {
			outcome, errMsg := ix.processSingleTask(ctx, t)
			recordOutcome(outcome, errMsg)
		}
		return result
	}

	sem := make(chan struct{}, ix.cfg.Workers)
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, errMsg := ix.processSingleTask(ctx, t)
			recordOutcome(outcome, errMsg)
		}()
	}
	wg.Wait()
	return result
}

func (ix *Indexer) processSingleTask(ctx context.Context, t Task) (outcome, errMsg string) {
	content, err := os.ReadFile(t.FilePath)
	if err != nil {
		return "failed", err.Error()
	}
	text := string(content)

	var md Metadata
	switch {
	case strings.HasSuffix(t.FilePath, ".html"):
		if !IsRedditHTMLFile(text) {
			return "skipped", ""
		}
		md = ExtractFromHTML(text, filepath.Base(t.FilePath))
	default:
		if !IsRedditMarkdownFile(text) {
			return "skipped", ""
		}
		md = ExtractFromContent(text, filepath.Base(t.FilePath))
	}
	if md.Title == "" || md.PostID == "" {
		return "skipped", ""
	}

	info, err := os.Stat(t.FilePath)
	if err != nil {
		return "failed", err.Error()
	}

	_, updated, err := ix.idx.Upsert(ctx, searchindex.PostInput{
		FilePath:         t.FilePath,
		PostID:           md.PostID,
		Title:            md.Title,
		Author:           md.Author,
		Subreddit:        md.Subreddit,
		URL:              md.OriginalURL,
		Upvotes:          md.Upvotes,
		ReplyCount:       md.ReplyCount,
		FileModifiedTime: float64(info.ModTime().Unix()),
		ContentPreview:   md.ContentPreview,
		Content:          text,
	})
	if err != nil {
		return "failed", err.Error()
	}
	if updated {
		return "updated", ""
	}
	return "indexed", ""
}

// cleanupDeletedFiles removes index rows whose file_path is under root
// but no longer exists on disk.
func (ix *Indexer) cleanupDeletedFiles(ctx context.Context, root string) (int, error) {
	paths, err := ix.idx.ListFilePathsUnder(ctx, root)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if _, err := ix.idx.DeletePost(ctx, p); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// startResourceMonitor periodically samples process memory usage and
// forces a GC cycle when it exceeds the configured ceiling, returning a
// stop function. Grounded on optimized_indexer.py's ResourceMonitor:
// observation and reaction only, never a forced abort of in-flight work.
func (ix *Indexer) startResourceMonitor(ctx context.Context) func() {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				checkMemoryPressure(ix.cfg.MemoryCeilingPercent, ix.logger)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(stopCh) }
}

func checkMemoryPressure(ceilingPercent float64, logger *log.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys == 0 {
		return
	}
	usedPercent := 100 * float64(m.HeapInuse) / float64(m.Sys)
	if usedPercent >= ceilingPercent {
		logger.Printf("indexer: memory usage %.1f%% exceeds ceiling %.1f%%, forcing GC", usedPercent, ceilingPercent)
		runtime.GC()
	}
}
