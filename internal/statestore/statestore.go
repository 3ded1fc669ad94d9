// Package statestore implements C2: the durable store of Scheduled Tasks
// and Download Records, backed by an embedded SQLite database accessed
// through a bounded connection pool. Grounded on the teacher's
// internal/db/db.go for database/sql + go-sqlite3 wiring, and on
// original_source/python/scheduler/state_manager.py for the exact pool,
// schema and retention semantics.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
	"github.com/google/uuid"
)

// Store wraps the state database. Every pooled connection is opened with
// WAL journaling, synchronous=NORMAL, temp store in memory, an enlarged
// cache and foreign keys on, per spec.md §4.2.
type Store struct {
	db     *sql.DB
	pool   *pool
	logger *log.Logger
}

// Config controls pool sizing and acquire timeout.
type Config struct {
	PoolSize       int
	AcquireTimeout time.Duration
	Logger         *log.Logger
}

// Open opens (creating if necessary) the state database at path and
// creates the schema if absent.
func Open(path string, cfg Config) (*Store, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 5
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-10000)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.NewFatal(fmt.Errorf("open state db: %w", err))
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize + 2) // leave headroom above the logical pool for fallback connections
	sqlDB.SetMaxIdleConns(cfg.PoolSize)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errs.NewFatal(fmt.Errorf("ping state db: %w", err))
	}

	s := &Store{
		db:     sqlDB,
		pool:   newPool(sqlDB, cfg.PoolSize, cfg.AcquireTimeout, cfg.Logger),
		logger: cfg.Logger,
	}
	if err := s.createSchema(); err != nil {
		sqlDB.Close()
		return nil, errs.NewFatal(fmt.Errorf("create schema: %w", err))
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	subreddits TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	max_posts_per_subreddit INTEGER NOT NULL DEFAULT 25,
	retry_count INTEGER NOT NULL DEFAULT 3,
	retry_delay_seconds INTEGER NOT NULL DEFAULT 5,
	timeout_seconds INTEGER NOT NULL DEFAULT 300,
	created_at TEXT NOT NULL,
	last_run TEXT,
	next_run TEXT,
	last_result TEXT,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_next_run_enabled ON scheduled_tasks(next_run, enabled);

CREATE TABLE IF NOT EXISTS download_history (
	rowid INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id TEXT NOT NULL,
	post_url TEXT NOT NULL,
	subreddit TEXT NOT NULL,
	title TEXT,
	author TEXT,
	downloaded_at TEXT NOT NULL,
	file_path TEXT NOT NULL,
	task_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_downloads_post ON download_history(post_id);
CREATE INDEX IF NOT EXISTS idx_downloads_subreddit_time ON download_history(subreddit, downloaded_at);
CREATE INDEX IF NOT EXISTS idx_downloads_task_time ON download_history(task_id, downloaded_at);

CREATE TABLE IF NOT EXISTS credentials (
	service TEXT PRIMARY KEY,
	value_encrypted TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

func (s *Store) createSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes all connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// withConn acquires a pooled connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	a, err := s.pool.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.Release()
	return fn(a.conn)
}

// withTx issues BEGIN IMMEDIATE, runs fn, commits on clean exit and rolls
// back on any returned error or panic, always releasing the connection.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Conn) error) (err error) {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			return fmt.Errorf("begin immediate: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				conn.ExecContext(ctx, "ROLLBACK")
				panic(p)
			}
		}()
		if txErr := fn(conn); txErr != nil {
			if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
				return fmt.Errorf("%w (rollback also failed: %v)", txErr, rbErr)
			}
			return txErr
		}
		if _, cErr := conn.ExecContext(ctx, "COMMIT"); cErr != nil {
			return fmt.Errorf("commit: %w", cErr)
		}
		return nil
	})
}

// SaveTask creates or replaces a Scheduled Task. Validates before
// persisting.
func (s *Store) SaveTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if err := t.Validate(); err != nil {
		return err
	}
	subreddits, err := json.Marshal(t.Subreddits)
	if err != nil {
		return fmt.Errorf("marshal subreddits: %w", err)
	}
	var lastResult []byte
	if t.LastResult != nil {
		lastResult, err = json.Marshal(t.LastResult)
		if err != nil {
			return fmt.Errorf("marshal last_result: %w", err)
		}
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO scheduled_tasks
				(id, name, cron_expression, subreddits, enabled, max_posts_per_subreddit,
				 retry_count, retry_delay_seconds, timeout_seconds, created_at,
				 last_run, next_run, last_result, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, cron_expression=excluded.cron_expression,
				subreddits=excluded.subreddits, enabled=excluded.enabled,
				max_posts_per_subreddit=excluded.max_posts_per_subreddit,
				retry_count=excluded.retry_count, retry_delay_seconds=excluded.retry_delay_seconds,
				timeout_seconds=excluded.timeout_seconds,
				last_run=excluded.last_run, next_run=excluded.next_run,
				last_result=excluded.last_result, updated_at=excluded.updated_at
		`,
			t.ID, t.Name, t.CronExpr, string(subreddits), boolToInt(t.Enabled), t.MaxPostsPerSubreddit,
			t.RetryCount, t.RetryDelaySeconds, t.TimeoutSeconds, isoString(t.CreatedAt),
			nullableISO(t.LastRun), nullableISO(t.NextRun), nullableJSON(lastResult), isoString(now),
		)
		return err
	})
}

// LoadTask loads a single task by id.
func (s *Store) LoadTask(ctx context.Context, id string) (*Task, error) {
	var t *Task
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT id, name, cron_expression, subreddits, enabled, max_posts_per_subreddit,
			       retry_count, retry_delay_seconds, timeout_seconds, created_at,
			       last_run, next_run, last_result
			FROM scheduled_tasks WHERE id = ?`, id)
		loaded, err := scanTask(row)
		if err != nil {
			return err
		}
		t = loaded
		return nil
	})
	return t, err
}

// LoadAllTasks loads every task.
func (s *Store) LoadAllTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, name, cron_expression, subreddits, enabled, max_posts_per_subreddit,
			       retry_count, retry_delay_seconds, timeout_seconds, created_at,
			       last_run, next_run, last_result
			FROM scheduled_tasks`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	return tasks, err
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", id)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t               Task
		subreddits      string
		enabledInt      int
		createdAt       string
		lastRun         sql.NullString
		nextRun         sql.NullString
		lastResultJSON  sql.NullString
	)
	if err := row.Scan(
		&t.ID, &t.Name, &t.CronExpr, &subreddits, &enabledInt, &t.MaxPostsPerSubreddit,
		&t.RetryCount, &t.RetryDelaySeconds, &t.TimeoutSeconds, &createdAt,
		&lastRun, &nextRun, &lastResultJSON,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	t.Enabled = enabledInt != 0
	if err := json.Unmarshal([]byte(subreddits), &t.Subreddits); err != nil {
		return nil, fmt.Errorf("unmarshal subreddits: %w", err)
	}
	parsedCreated, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CreatedAt = parsedCreated

	if lastRun.Valid {
		v, err := time.Parse(time.RFC3339, lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_run: %w", err)
		}
		t.LastRun = &v
	}
	if nextRun.Valid {
		v, err := time.Parse(time.RFC3339, nextRun.String)
		if err != nil {
			return nil, fmt.Errorf("parse next_run: %w", err)
		}
		t.NextRun = &v
	}
	if lastResultJSON.Valid {
		var r TaskResult
		if err := json.Unmarshal([]byte(lastResultJSON.String), &r); err != nil {
			return nil, fmt.Errorf("unmarshal last_result: %w", err)
		}
		t.LastResult = &r
	}
	return &t, nil
}

// RecordDownload appends a Download Record.
func (s *Store) RecordDownload(ctx context.Context, r *DownloadRecord) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO download_history (post_id, post_url, subreddit, title, author, downloaded_at, file_path, task_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.PostID, r.PostURL, r.Subreddit, r.Title, r.Author, isoString(r.DownloadedAt), r.FilePath, nullableString(r.TaskID),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err == nil {
			r.RowID = id
		}
		return nil
	})
}

// IsPostDownloaded reports whether (postID, subreddit) has been recorded.
func (s *Store) IsPostDownloaded(ctx context.Context, postID, subreddit string) (bool, error) {
	var exists bool
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM download_history WHERE post_id = ? AND subreddit = ?)",
			postID, subreddit,
		).Scan(&exists)
	})
	return exists, err
}

// GetDownloadedPosts returns the set of post ids downloaded from
// subreddit within the last sinceDays days.
func (s *Store) GetDownloadedPosts(ctx context.Context, subreddit string, sinceDays int) (map[string]bool, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -sinceDays)
	result := make(map[string]bool)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT DISTINCT post_id FROM download_history WHERE subreddit = ? AND downloaded_at >= ?",
			subreddit, isoString(cutoff),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			result[id] = true
		}
		return rows.Err()
	})
	return result, err
}

// CleanupOldHistory deletes download_history rows older than now-daysToKeep
// days. When batchSize > 0, deletes in chunks of that many rowids,
// committing between chunks, until exhausted. Returns the total deleted.
func (s *Store) CleanupOldHistory(ctx context.Context, daysToKeep, batchSize int) (int, error) {
	cutoff := isoString(time.Now().UTC().AddDate(0, 0, -daysToKeep))

	if batchSize <= 0 {
		var total int
		err := s.withConn(ctx, func(conn *sql.Conn) error {
			res, err := conn.ExecContext(ctx, "DELETE FROM download_history WHERE downloaded_at < ?", cutoff)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			total = int(n)
			return err
		})
		return total, err
	}

	total := 0
	for {
		deletedThisChunk := 0
		err := s.withTx(ctx, func(conn *sql.Conn) error {
			res, err := conn.ExecContext(ctx, `
				DELETE FROM download_history WHERE rowid IN (
					SELECT rowid FROM download_history WHERE downloaded_at < ? LIMIT ?
				)`, cutoff, batchSize)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			deletedThisChunk = int(n)
			return err
		})
		if err != nil {
			return total, err
		}
		total += deletedThisChunk
		if deletedThisChunk < batchSize {
			break
		}
	}
	return total, nil
}

// IntegrityCheck reports foreign-key violations in the state database.
// There is no full-text shadow in this store (that lives in searchindex),
// so OrphanedRows is always 0 here; it is kept on this package's report
// type for symmetry with searchindex.IntegrityReport's OrphanedFTSEntries.
func (s *Store) IntegrityCheck(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{OK: true}
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "PRAGMA foreign_key_check")
		if err != nil {
			return err
		}
		defer rows.Close()
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			report.OK = false
			report.ForeignKeyViolations = append(report.ForeignKeyViolations, fmt.Sprintf("%v", vals))
		}
		return rows.Err()
	})
	return report, err
}

// GetStatistics returns the statistics snapshot described in spec.md §4.2.
func (s *Store) GetStatistics(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM scheduled_tasks").Scan(&stats.TotalTasks); err != nil {
			return err
		}
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM scheduled_tasks WHERE enabled = 1").Scan(&stats.EnabledTasks); err != nil {
			return err
		}
		stats.DisabledTasks = stats.TotalTasks - stats.EnabledTasks

		if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_history").Scan(&stats.TotalDownloads); err != nil {
			return err
		}
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(DISTINCT subreddit) FROM download_history").Scan(&stats.UniqueSubreddits); err != nil {
			return err
		}
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(DISTINCT post_id) FROM download_history").Scan(&stats.UniquePosts); err != nil {
			return err
		}
		weekAgo := isoString(time.Now().UTC().AddDate(0, 0, -7))
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_history WHERE downloaded_at >= ?", weekAgo).Scan(&stats.Recent7Days); err != nil {
			return err
		}
		return nil
	})
	return stats, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isoString(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableISO(t *time.Time) any {
	if t == nil {
		return nil
	}
	return isoString(*t)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
