package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/api"
	"github.com/cheolwanpark/meows-archive/collector/internal/cache"
	"github.com/cheolwanpark/meows-archive/collector/internal/config"
	"github.com/cheolwanpark/meows-archive/collector/internal/executor"
	"github.com/cheolwanpark/meows-archive/collector/internal/gemini"
	"github.com/cheolwanpark/meows-archive/collector/internal/indexer"
	"github.com/cheolwanpark/meows-archive/collector/internal/ratelimit"
	"github.com/cheolwanpark/meows-archive/collector/internal/scheduler"
	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
	"github.com/cheolwanpark/meows-archive/collector/internal/tagging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	saveDir, err := config.ResolveSaveDir(cfg.Executor.SaveDir)
	if err != nil {
		log.Fatalf("Failed to resolve save directory: %v", err)
	}

	log.Printf("Starting archived engine...")
	log.Printf("Configuration: StateDB=%s, SearchDB=%s, SaveDir=%s, Port=%d, LogLevel=%s",
		cfg.StateStore.DBPath, cfg.Indexer.DBPath, saveDir, cfg.Server.Port, cfg.Server.LogLevel)

	store, err := statestore.Open(cfg.StateStore.DBPath, statestore.Config{
		PoolSize:       cfg.StateStore.PoolSize,
		AcquireTimeout: time.Duration(cfg.StateStore.PoolAcquireMs) * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer store.Close()
	log.Println("State store opened")

	idx, err := searchindex.Open(cfg.Indexer.DBPath)
	if err != nil {
		log.Fatalf("Failed to open search index: %v", err)
	}
	defer idx.Close()
	log.Println("Search index opened")

	idx.SetSearchCache(cache.NewSearchCache(cfg.Cache.SearchCacheTTLSeconds, cfg.Cache.SearchCacheCapacity))
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	idx.WarmCache(warmCtx)
	warmCancel()

	var llmClient *gemini.Client
	if cfg.Tagging.LLMAssistEnabled && cfg.Tagging.GeminiAPIKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		llmClient, err = gemini.NewClient(ctx, cfg.Tagging.GeminiAPIKey)
		cancel()
		if err != nil {
			log.Printf("LLM-assisted tagging disabled: %v", err)
			llmClient = nil
		}
	}
	tagMgr := tagging.New(idx, llmClient, "gemini-1.5-flash")

	collaborators := &redditCollaborators{
		limiter:   ratelimit.New(cfg.RateLimits.WindowSeconds, cfg.RateLimits.MaxPerWindow),
		pacer:     newTokenPacer(1000.0/float64(cfg.Executor.PerPostPauseMs+1), 10),
		jsonCache: cache.NewJSONCache(cfg.Cache.JSONCacheTTLSeconds, cfg.Cache.JSONCacheCapacity),
		tokens:    &storeTokenSource{store: store, service: "reddit_oauth_token"},
		logger:    log.Default(),
	}
	exec := executor.New(executor.Config{
		Store:                   store,
		Lister:                  collaborators,
		Fetcher:                 collaborators,
		Renderer:                collaborators,
		SaveDir:                 saveDir,
		MaxConcurrentSubreddits: cfg.Executor.MaxConcurrentSubreddits,
		PacingDelay:             time.Duration(cfg.Executor.PerPostPauseMs) * time.Millisecond,
		Retry: executor.RetryPolicy{
			MaxRetries:        cfg.Executor.RetryMaxAttempts,
			BaseDelay:         time.Duration(cfg.Executor.RetryBaseDelaySec * float64(time.Second)),
			MaxDelay:          time.Duration(cfg.Executor.RetryMaxDelaySec * float64(time.Second)),
			BackoffMultiplier: cfg.Executor.RetryBackoffMultiplier,
		},
	})

	sched := scheduler.New(store, exec, scheduler.Config{
		CheckInterval:      time.Duration(cfg.Schedule.TickInterval) * time.Second,
		MaxConcurrentTasks: cfg.Schedule.Workers,
		MaxMemoryMB:        cfg.Schedule.MaxMemoryMB,
		EnableMonitoring:   cfg.Schedule.MonitorEnabled,
		ShutdownTimeout:    time.Duration(cfg.Schedule.ShutdownTimeoutSec) * time.Second,
	})

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sched.LoadFromStore(loadCtx); err != nil {
		loadCancel()
		log.Fatalf("Failed to load scheduled tasks: %v", err)
	}
	loadCancel()

	sched.Start()
	log.Println("Scheduler started")

	ix := indexer.New(idx, indexer.Config{
		BatchSize:            cfg.Indexer.BatchSize,
		Workers:              cfg.Indexer.MaxWorkers,
		MemoryCeilingPercent: cfg.Indexer.MaxMemoryPercent,
		CheckpointInterval:   cfg.Indexer.CheckpointEvery,
	}, log.Default())

	indexerDone := make(chan struct{})
	indexerCtx, indexerCancel := context.WithCancel(context.Background())
	indexOpts := indexer.IndexOptions{
		Recursive:      cfg.Indexer.Recursive,
		FileExtensions: cfg.Indexer.FileExtensions,
		Force:          cfg.Indexer.ForceReindex,
	}
	go runIndexerLoop(indexerCtx, ix, saveDir, indexOpts, time.Duration(cfg.Schedule.MonitorIntervalSec)*time.Second, indexerDone)

	router := api.SetupRouter(store, idx, tagMgr, sched)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}

	case sig := <-shutdown:
		log.Printf("Received signal %v, starting graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			server.Close()
		}

		indexerCancel()
		<-indexerDone

		sched.Stop()
		log.Println("Graceful shutdown complete")
	}
}

// runIndexerLoop periodically re-walks the archive directory so files
// written by newly completed tasks land in the search index without a
// separate operator-triggered reindex step.
func runIndexerLoop(ctx context.Context, ix *indexer.Indexer, root string, opts indexer.IndexOptions, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := ix.IndexDirectory(ctx, root, opts)
			if err != nil {
				log.Printf("Index pass failed: %v", err)
				continue
			}
			log.Printf("Index pass: indexed=%d updated=%d skipped=%d failed=%d deleted=%d",
				result.Indexed, result.Updated, result.Skipped, result.Failed, result.Deleted)
		}
	}
}
