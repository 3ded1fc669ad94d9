// Package config loads the engine's typed configuration from environment
// variables. Every numeric/boolean knob tolerates a malformed value by
// logging a warning and falling back to its default rather than failing
// startup; only structural problems (missing required paths, out-of-range
// values such as the port or pool size) are fatal.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration tree for the engine.
type Config struct {
	Server     ServerConfig
	Schedule   ScheduleConfig
	StateStore StateStoreConfig
	RateLimits RateLimitsConfig
	Cache      CacheConfig
	Indexer    IndexerConfig
	Executor   ExecutorConfig
	Tagging    TaggingConfig
}

// ServerConfig controls the interactive HTTP search surface.
type ServerConfig struct {
	Port          int
	LogLevel      string
	EnableSwagger bool
}

// ScheduleConfig controls C8's tick loop and monitoring.
type ScheduleConfig struct {
	TickInterval       int // seconds, default 30, minimum 1
	Workers            int // bounded worker pool size, default 5
	MonitorEnabled     bool
	MonitorIntervalSec int // default 30
	MaxMemoryMB        int // admission ceiling in MB; below 50 (including the default 0) the scheduler uses 500
	ShutdownTimeoutSec int // default 30
	CircuitFailures    int // default 3
	CircuitCooldownSec int // default 900 (15 min)
	RateLimitMinGapSec int // minimum gap between task admits, default 60
	StuckTaskHours     int // default 2
}

// StateStoreConfig controls C2's SQLite-backed state store.
type StateStoreConfig struct {
	DBPath          string
	PoolSize        int // default 5
	PoolAcquireMs   int // acquire timeout before falling back to an ad-hoc connection, default 5000
	RetentionDays   int // default 90
	RetentionBatch  int // default 0 = unbatched
	DedupWindowDays int // default 30
}

// RateLimitsConfig controls C3's sliding-window admission.
type RateLimitsConfig struct {
	WindowSeconds int // default 60
	MaxPerWindow  int // default 60
}

// CacheConfig controls C4's JSON response cache and search result cache.
type CacheConfig struct {
	JSONCacheTTLSeconds   int // default 300
	JSONCacheCapacity     int // default 1000
	SearchCacheTTLSeconds int // default 300
	SearchCacheCapacity   int // default 1000
}

// IndexerConfig controls C6's directory walk and worker pool.
type IndexerConfig struct {
	DBPath           string
	MaxWorkers       int // default min(CPU, 8); 0 means auto-detect
	BatchSize        int // default 100
	MaxMemoryPercent float64
	CheckpointEvery  int // default 50
	ThrottlePauseMs  int // default 1000
	Recursive        bool     // default true
	FileExtensions   []string // default [".md", ".html"]
	ForceReindex     bool     // default false; reindex unchanged files too
}

// ExecutorConfig controls C7's per-task execution contract.
type ExecutorConfig struct {
	SaveDir                 string // resolved via ResolveSaveDir
	MaxConcurrentSubreddits int    // default 3
	PerPostPauseMs          int    // default 100
	RetryMaxAttempts        int    // default 3
	RetryBaseDelaySec       float64
	RetryMaxDelaySec        float64
	RetryBackoffMultiplier  float64
}

// ResolveSaveDir mirrors the original tool's directory-resolution order:
// a configured path is used as-is, unless it is literally the sentinel
// "DEFAULT_REDDIT_SAVE_LOCATION", in which case the directory comes from
// the environment variable of the same name (fatal if unset).
func ResolveSaveDir(configured string) (string, error) {
	if configured != "DEFAULT_REDDIT_SAVE_LOCATION" {
		if configured == "" {
			return "", fmt.Errorf("ARCHIVED_SAVE_DIR is required")
		}
		return configured, nil
	}
	dir := os.Getenv("DEFAULT_REDDIT_SAVE_LOCATION")
	if dir == "" {
		return "", fmt.Errorf("DEFAULT_REDDIT_SAVE_LOCATION environment variable not set")
	}
	return dir, nil
}

// TaggingConfig controls the supplemented auto-tagging feature.
type TaggingConfig struct {
	LLMAssistEnabled bool
	GeminiAPIKey     string
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnvAsInt("ARCHIVED_PORT", 8080),
			LogLevel:      getEnv("ARCHIVED_LOG_LEVEL", "info"),
			EnableSwagger: getEnvAsBool("ARCHIVED_ENABLE_SWAGGER", false),
		},
		Schedule: ScheduleConfig{
			TickInterval:       getEnvAsInt("ARCHIVED_TICK_INTERVAL_SEC", 30),
			Workers:            getEnvAsInt("ARCHIVED_SCHEDULER_WORKERS", 5),
			MonitorEnabled:     getEnvAsBool("ARCHIVED_MONITOR_ENABLED", true),
			MonitorIntervalSec: getEnvAsInt("ARCHIVED_MONITOR_INTERVAL_SEC", 30),
			MaxMemoryMB:        getEnvAsInt("ARCHIVED_MAX_MEMORY_MB", 0),
			ShutdownTimeoutSec: getEnvAsInt("ARCHIVED_SHUTDOWN_TIMEOUT_SEC", 30),
			CircuitFailures:    getEnvAsInt("ARCHIVED_CIRCUIT_FAILURES", 3),
			CircuitCooldownSec: getEnvAsInt("ARCHIVED_CIRCUIT_COOLDOWN_SEC", 900),
			RateLimitMinGapSec: getEnvAsInt("ARCHIVED_TASK_MIN_GAP_SEC", 60),
			StuckTaskHours:     getEnvAsInt("ARCHIVED_STUCK_TASK_HOURS", 2),
		},
		StateStore: StateStoreConfig{
			DBPath:          getEnv("ARCHIVED_STATE_DB_PATH", "./data/state.db"),
			PoolSize:        getEnvAsInt("ARCHIVED_STATE_POOL_SIZE", 5),
			PoolAcquireMs:   getEnvAsInt("ARCHIVED_STATE_POOL_ACQUIRE_MS", 5000),
			RetentionDays:   getEnvAsInt("ARCHIVED_RETENTION_DAYS", 90),
			RetentionBatch:  getEnvAsInt("ARCHIVED_RETENTION_BATCH", 0),
			DedupWindowDays: getEnvAsInt("ARCHIVED_DEDUP_WINDOW_DAYS", 30),
		},
		RateLimits: RateLimitsConfig{
			WindowSeconds: getEnvAsInt("ARCHIVED_RATE_WINDOW_SEC", 60),
			MaxPerWindow:  getEnvAsInt("ARCHIVED_RATE_MAX_PER_WINDOW", 60),
		},
		Cache: CacheConfig{
			JSONCacheTTLSeconds:   getEnvAsInt("ARCHIVED_JSON_CACHE_TTL_SEC", 300),
			JSONCacheCapacity:     getEnvAsInt("ARCHIVED_JSON_CACHE_CAPACITY", 1000),
			SearchCacheTTLSeconds: getEnvAsInt("ARCHIVED_SEARCH_CACHE_TTL_SEC", 300),
			SearchCacheCapacity:   getEnvAsInt("ARCHIVED_SEARCH_CACHE_CAPACITY", 1000),
		},
		Indexer: IndexerConfig{
			DBPath:           getEnv("ARCHIVED_SEARCH_DB_PATH", "./data/search.db"),
			MaxWorkers:       getEnvAsInt("ARCHIVED_INDEXER_MAX_WORKERS", 0),
			BatchSize:        getEnvAsInt("ARCHIVED_INDEXER_BATCH_SIZE", 100),
			MaxMemoryPercent: getEnvAsFloat("ARCHIVED_INDEXER_MAX_MEMORY_PERCENT", 80.0),
			CheckpointEvery:  getEnvAsInt("ARCHIVED_INDEXER_CHECKPOINT_EVERY", 50),
			ThrottlePauseMs:  getEnvAsInt("ARCHIVED_INDEXER_THROTTLE_PAUSE_MS", 1000),
			Recursive:        getEnvAsBool("ARCHIVED_INDEXER_RECURSIVE", true),
			FileExtensions:   getEnvAsStringList("ARCHIVED_INDEXER_FILE_EXTENSIONS", []string{".md", ".html"}),
			ForceReindex:     getEnvAsBool("ARCHIVED_INDEXER_FORCE_REINDEX", false),
		},
		Executor: ExecutorConfig{
			SaveDir:                 getEnv("ARCHIVED_SAVE_DIR", "DEFAULT_REDDIT_SAVE_LOCATION"),
			MaxConcurrentSubreddits: getEnvAsInt("ARCHIVED_EXECUTOR_MAX_CONCURRENT_SUBREDDITS", 3),
			PerPostPauseMs:          getEnvAsInt("ARCHIVED_EXECUTOR_PER_POST_PAUSE_MS", 100),
			RetryMaxAttempts:        getEnvAsInt("ARCHIVED_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelaySec:       getEnvAsFloat("ARCHIVED_RETRY_BASE_DELAY_SEC", 1.0),
			RetryMaxDelaySec:        getEnvAsFloat("ARCHIVED_RETRY_MAX_DELAY_SEC", 60.0),
			RetryBackoffMultiplier:  getEnvAsFloat("ARCHIVED_RETRY_BACKOFF_MULTIPLIER", 2.0),
		},
		Tagging: TaggingConfig{
			LLMAssistEnabled: getEnvAsBool("ARCHIVED_TAGGING_LLM_ASSIST", false),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// getEnv returns the environment variable value or the default if unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer, logging a
// warning and falling back to defaultValue if it cannot be parsed.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s=%s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsFloat returns the environment variable as a float64, logging a
// warning and falling back to defaultValue if it cannot be parsed.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float for %s=%s, using default %v", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsBool accepts true/false, 1/0, yes/no, on/off (case-insensitive).
// Logs a warning and falls back to defaultValue on anything else.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(strings.TrimSpace(valueStr))
	switch valueStr {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		log.Printf("Warning: Invalid boolean for %s=%s, using default %v", key, valueStr, defaultValue)
		return defaultValue
	}
}

// getEnvAsStringList splits a comma-separated environment variable,
// trimming whitespace around each entry and dropping empty ones.
func getEnvAsStringList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the entire configuration tree.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("ARCHIVED_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("ARCHIVED_LOG_LEVEL must be one of [debug, info, warn, error], got %q", c.Server.LogLevel)
	}

	if c.Schedule.TickInterval < 1 {
		return fmt.Errorf("ARCHIVED_TICK_INTERVAL_SEC must be >= 1, got %d", c.Schedule.TickInterval)
	}
	if c.Schedule.Workers <= 0 {
		return fmt.Errorf("ARCHIVED_SCHEDULER_WORKERS must be positive, got %d", c.Schedule.Workers)
	}

	if c.StateStore.DBPath == "" {
		return fmt.Errorf("ARCHIVED_STATE_DB_PATH is required")
	}
	if c.StateStore.PoolSize <= 0 {
		return fmt.Errorf("ARCHIVED_STATE_POOL_SIZE must be positive, got %d", c.StateStore.PoolSize)
	}

	if c.RateLimits.WindowSeconds <= 0 || c.RateLimits.MaxPerWindow <= 0 {
		return fmt.Errorf("ARCHIVED_RATE_WINDOW_SEC and ARCHIVED_RATE_MAX_PER_WINDOW must be positive")
	}

	if c.Indexer.DBPath == "" {
		return fmt.Errorf("ARCHIVED_SEARCH_DB_PATH is required")
	}

	// Startup sanity check of the robfig/cron standard parser against a
	// fixed expression. Task cron expressions are not checked here; the
	// scheduler parses them with cronexpr when a task is added.
	if _, err := cron.ParseStandard("0 * * * *"); err != nil {
		return fmt.Errorf("cron reference parser unavailable: %w", err)
	}

	return nil
}
