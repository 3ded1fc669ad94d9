package searchindex

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cheolwanpark/meows-archive/collector/internal/cache"
	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
)

var (
	postIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)
	wordPattern   = regexp.MustCompile(`\b\w+\b`)
	tagNameClean  = regexp.MustCompile(`[^\w-]`)
	tagNameCollapse = regexp.MustCompile(`_+`)
)

// Index is the FTS5-backed search index over archived posts.
type Index struct {
	db *sql.DB

	statsMu     sync.RWMutex
	statsCache  *Stats
	statsAt     time.Time
	statsTTL    time.Duration

	searchCache *cache.SearchCache
	analytics   *analyticsTracker

	now func() time.Time
}

// Open opens (creating if necessary) the index database at path.
func Open(path string) (*Index, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-10000)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.NewFatal(fmt.Errorf("open search index: %w", err))
	}
	sqlDB.SetMaxOpenConns(8)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errs.NewFatal(fmt.Errorf("ping search index: %w", err))
	}

	idx := &Index{db: sqlDB, statsTTL: time.Minute, now: time.Now, analytics: newAnalyticsTracker()}
	if err := idx.createSchema(); err != nil {
		sqlDB.Close()
		return nil, errs.NewFatal(fmt.Errorf("create search schema: %w", err))
	}
	return idx, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT UNIQUE NOT NULL,
	post_id TEXT NOT NULL,
	title TEXT NOT NULL,
	author TEXT,
	subreddit TEXT,
	url TEXT,
	created_utc INTEGER,
	upvotes INTEGER DEFAULT 0,
	reply_count INTEGER DEFAULT 0,
	file_modified_time REAL,
	indexed_time INTEGER DEFAULT (strftime('%s','now')),
	content_preview TEXT,
	content_hash TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(
	post_id, title, content, author, subreddit,
	tokenize='porter unicode61 remove_diacritics 1'
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	description TEXT,
	color TEXT,
	created_time INTEGER DEFAULT (strftime('%s','now')),
	usage_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS post_tags (
	post_id INTEGER,
	tag_id INTEGER,
	created_time INTEGER DEFAULT (strftime('%s','now')),
	PRIMARY KEY (post_id, tag_id),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE,
	FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author);
CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_utc);
CREATE INDEX IF NOT EXISTS idx_posts_upvotes ON posts(upvotes);
CREATE INDEX IF NOT EXISTS idx_posts_file_modified ON posts(file_modified_time);
CREATE INDEX IF NOT EXISTS idx_posts_content_hash ON posts(content_hash);
CREATE INDEX IF NOT EXISTS idx_posts_post_id ON posts(post_id);
CREATE INDEX IF NOT EXISTS idx_posts_subreddit_upvotes ON posts(subreddit, upvotes DESC);
CREATE INDEX IF NOT EXISTS idx_posts_author_created ON posts(author, created_utc DESC);
CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);
CREATE INDEX IF NOT EXISTS idx_tags_usage ON tags(usage_count DESC);

CREATE TRIGGER IF NOT EXISTS update_tag_usage_insert AFTER INSERT ON post_tags
BEGIN
	UPDATE tags SET usage_count = usage_count + 1 WHERE id = NEW.tag_id;
END;
CREATE TRIGGER IF NOT EXISTS update_tag_usage_delete AFTER DELETE ON post_tags
BEGIN
	UPDATE tags SET usage_count = usage_count - 1 WHERE id = OLD.tag_id;
END;
`

func (idx *Index) createSchema() error {
	_, err := idx.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// withTx runs fn inside a BEGIN IMMEDIATE transaction on a dedicated
// connection, taking the write lock up front rather than on first write
// (matching the Python implementation this is grounded on).
func (idx *Index) withTx(ctx context.Context, fn func(*sql.Conn) error) (err error) {
	conn, err := idx.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

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
		conn.ExecContext(ctx, "ROLLBACK")
		return txErr
	}
	_, err = conn.ExecContext(ctx, "COMMIT")
	return err
}

func validatePostID(postID string) error {
	if postID == "" || !postIDPattern.MatchString(postID) {
		return errs.NewInvalidInput("post_id", "must match ^[a-zA-Z0-9_-]{1,50}$")
	}
	return nil
}

func normalizeTagName(name string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	cleaned := tagNameClean.ReplaceAllString(lowered, "_")
	cleaned = tagNameCollapse.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "", errs.NewInvalidInput("tag_name", "empty after normalization")
	}
	if len(cleaned) > 50 {
		return "", errs.NewInvalidInput("tag_name", "too long")
	}
	return cleaned, nil
}

// Upsert inserts or updates a post by file path. When the post already
// exists and its content hash is unchanged, the write is skipped
// entirely (idempotent reindexing) and the existing database id is
// returned with updated=false.
func (idx *Index) Upsert(ctx context.Context, in PostInput) (id int64, updated bool, err error) {
	if in.FilePath == "" {
		return 0, false, errs.NewInvalidInput("file_path", "must be non-empty")
	}
	if err := validatePostID(in.PostID); err != nil {
		return 0, false, err
	}
	if in.Title == "" {
		return 0, false, errs.NewInvalidInput("title", "must be non-empty")
	}
	title := in.Title
	if len(title) > 500 {
		title = title[:500]
	}
	sum := sha256.Sum256([]byte(in.Content))
	contentHash := hex.EncodeToString(sum[:])

	err = idx.withTx(ctx, func(tx *sql.Conn) error {
		var existingID int64
		var existingHash string
		rowErr := tx.QueryRowContext(ctx, "SELECT id, content_hash FROM posts WHERE file_path = ?", in.FilePath).Scan(&existingID, &existingHash)
		isUpdate := rowErr == nil
		if rowErr != nil && rowErr != sql.ErrNoRows {
			return rowErr
		}

		if isUpdate && existingHash == contentHash {
			id = existingID
			updated = false
			return nil
		}

		if isUpdate {
			_, err := tx.ExecContext(ctx, `
				UPDATE posts SET post_id=?, title=?, author=?, subreddit=?, url=?,
					created_utc=?, upvotes=?, reply_count=?, file_modified_time=?,
					content_preview=?, content_hash=?
				WHERE file_path=?`,
				in.PostID, title, in.Author, in.Subreddit, in.URL,
				in.CreatedUTC, in.Upvotes, in.ReplyCount, in.FileModifiedTime,
				in.ContentPreview, contentHash, in.FilePath,
			)
			if err != nil {
				return err
			}
			id = existingID
			updated = true
		} else {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO posts (file_path, post_id, title, author, subreddit, url,
					created_utc, upvotes, reply_count, file_modified_time, content_preview, content_hash)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				in.FilePath, in.PostID, title, in.Author, in.Subreddit, in.URL,
				in.CreatedUTC, in.Upvotes, in.ReplyCount, in.FileModifiedTime, in.ContentPreview, contentHash,
			)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			updated = false
		}

		if in.Content != "" {
			if isUpdate {
				if _, err := tx.ExecContext(ctx, "DELETE FROM posts_fts WHERE rowid = ?", id); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO posts_fts (rowid, post_id, title, content, author, subreddit)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, in.PostID, title, in.Content, in.Author, in.Subreddit,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	idx.clearStatsCache()
	return id, updated, nil
}

// GetByID fetches a post row by its database id, without tags.
func (idx *Index) GetByID(ctx context.Context, id int64) (*Post, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT id, file_path, post_id, title, author, subreddit, url, created_utc,
		       upvotes, reply_count, file_modified_time, indexed_time, content_preview, content_hash
		FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetByFilePath fetches a post row by its file path, without tags.
func (idx *Index) GetByFilePath(ctx context.Context, filePath string) (*Post, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT id, file_path, post_id, title, author, subreddit, url, created_utc,
		       upvotes, reply_count, file_modified_time, indexed_time, content_preview, content_hash
		FROM posts WHERE file_path = ?`, filePath)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*Post, error) {
	var p Post
	var author, subreddit, url, preview, hash sql.NullString
	var createdUTC sql.NullInt64
	if err := row.Scan(
		&p.ID, &p.FilePath, &p.PostID, &p.Title, &author, &subreddit, &url, &createdUTC,
		&p.Upvotes, &p.ReplyCount, &p.FileModifiedTime, &p.IndexedTime, &preview, &hash,
	); err != nil {
		return nil, err
	}
	p.Author = author.String
	p.Subreddit = subreddit.String
	p.URL = url.String
	p.ContentPreview = preview.String
	p.ContentHash = hash.String
	p.CreatedUTC = createdUTC.Int64
	return &p, nil
}

// DeletePost removes a post (and its FTS shadow row and tag links) by
// file path. Returns false if no such post existed.
func (idx *Index) DeletePost(ctx context.Context, filePath string) (bool, error) {
	var found bool
	err := idx.withTx(ctx, func(tx *sql.Conn) error {
		var id int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM posts WHERE file_path = ?", filePath).Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		found = true
		if _, err := tx.ExecContext(ctx, "DELETE FROM posts_fts WHERE rowid = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", id)
		return err
	})
	if err != nil {
		return false, err
	}
	if found {
		idx.clearStatsCache()
	}
	return found, nil
}

// ListFilePathsUnder returns every indexed file_path that is lexically
// under root, for the indexer's deleted-file cleanup sweep.
func (idx *Index) ListFilePathsUnder(ctx context.Context, root string) ([]string, error) {
	prefix := strings.TrimSuffix(root, "/") + "/"
	rows, err := idx.db.QueryContext(ctx, "SELECT file_path FROM posts WHERE file_path LIKE ? || '%'", prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func prepareSafeFTSQuery(text string) string {
	if text == "" {
		return ""
	}
	if strings.Count(text, `"`)%2 != 0 {
		text = strings.ReplaceAll(text, `"`, "")
	}
	words := wordPattern.FindAllString(text, -1)
	if len(words) > 20 {
		words = words[:20]
	}
	var terms []string
	for _, w := range words {
		cleaned := tagNameClean.ReplaceAllString(w, "")
		if len(cleaned) >= 2 {
			terms = append(terms, cleaned+"*")
		}
	}
	return strings.Join(terms, " ")
}

// SearchPostsOptimized runs a search with the given filters, returning at
// most params.Limit results starting at params.Offset. Tag filters that
// fail to normalize are skipped rather than erroring, matching the
// permissive behavior of the source it is grounded on.
func (idx *Index) SearchPostsOptimized(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	start := idx.now()
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	limit = clampInt(limit, 1, 1000)
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var cacheKey string
	if idx.searchCache != nil {
		cacheKey = searchParamsCacheKey(params, limit, offset)
		if cached, ok := idx.searchCache.Get(cacheKey); ok {
			idx.analytics.recordSearch(params, idx.now().Sub(start), true)
			return cached.([]SearchResult), nil
		}
	}

	var sql strings.Builder
	var args []any
	hasQuery := strings.TrimSpace(params.Query) != ""

	if hasQuery {
		sql.WriteString(`
			SELECT p.id, p.file_path, p.post_id, p.title, p.author, p.subreddit, p.url,
			       p.created_utc, p.upvotes, p.reply_count, p.file_modified_time, p.indexed_time,
			       p.content_preview, p.content_hash,
			       snippet(posts_fts, 2, '<mark>', '</mark>', '...', 32) AS snippet,
			       bm25(posts_fts) AS rank_score
			FROM posts p
			JOIN posts_fts ON p.id = posts_fts.rowid
			WHERE posts_fts MATCH ?`)
		args = append(args, prepareSafeFTSQuery(params.Query))
	} else {
		sql.WriteString(`
			SELECT id, file_path, post_id, title, author, subreddit, url,
			       created_utc, upvotes, reply_count, file_modified_time, indexed_time,
			       content_preview, content_hash, '' AS snippet, 0 AS rank_score
			FROM posts WHERE 1=1`)
	}

	prefix := ""
	if hasQuery {
		prefix = "p."
	}
	var conditions []string

	if len(params.Subreddits) > 0 {
		placeholders := make([]string, len(params.Subreddits))
		for i, s := range params.Subreddits {
			placeholders[i] = "?"
			args = append(args, truncate(s, 50))
		}
		conditions = append(conditions, fmt.Sprintf("%ssubreddit IN (%s)", prefix, strings.Join(placeholders, ",")))
	}
	if len(params.Authors) > 0 {
		placeholders := make([]string, len(params.Authors))
		for i, a := range params.Authors {
			placeholders[i] = "?"
			args = append(args, truncate(a, 50))
		}
		conditions = append(conditions, fmt.Sprintf("%sauthor IN (%s)", prefix, strings.Join(placeholders, ",")))
	}
	if params.MinUpvotes != nil {
		conditions = append(conditions, fmt.Sprintf("%supvotes >= ?", prefix))
		args = append(args, *params.MinUpvotes)
	}
	if params.MaxUpvotes != nil {
		conditions = append(conditions, fmt.Sprintf("%supvotes <= ?", prefix))
		args = append(args, *params.MaxUpvotes)
	}
	if params.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("%screated_utc >= ?", prefix))
		args = append(args, *params.DateFrom)
	}
	if params.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("%screated_utc <= ?", prefix))
		args = append(args, *params.DateTo)
	}

	if len(params.Tags) > 0 {
		var validTags []string
		for _, t := range params.Tags {
			norm, err := normalizeTagName(t)
			if err != nil {
				continue
			}
			validTags = append(validTags, norm)
		}
		if len(validTags) > 0 {
			// Tags are matched through the junction table as a subquery
			// condition, so a post carrying several requested tags appears once.
			placeholders := make([]string, len(validTags))
			for i, tg := range validTags {
				placeholders[i] = "?"
				args = append(args, tg)
			}
			conditions = append(conditions, fmt.Sprintf(
				"%sid IN (SELECT pt.post_id FROM post_tags pt JOIN tags t ON pt.tag_id = t.id WHERE t.name IN (%s))",
				prefix, strings.Join(placeholders, ",")))
		}
	}

	if len(conditions) > 0 {
		sql.WriteString(" AND " + strings.Join(conditions, " AND "))
	}

	if hasQuery {
		sql.WriteString(" ORDER BY rank_score ASC")
	} else {
		sql.WriteString(" ORDER BY created_utc DESC")
	}
	sql.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := idx.db.QueryContext(ctx, sql.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	var ids []int64
	for rows.Next() {
		var p Post
		var author, subreddit, url, preview, hash sql.NullString
		var createdUTC sql.NullInt64
		var snippet string
		var rank float64
		if err := rows.Scan(
			&p.ID, &p.FilePath, &p.PostID, &p.Title, &author, &subreddit, &url, &createdUTC,
			&p.Upvotes, &p.ReplyCount, &p.FileModifiedTime, &p.IndexedTime, &preview, &hash,
			&snippet, &rank,
		); err != nil {
			return nil, err
		}
		p.Author = author.String
		p.Subreddit = subreddit.String
		p.URL = url.String
		p.ContentPreview = preview.String
		p.ContentHash = hash.String
		p.CreatedUTC = createdUTC.Int64
		results = append(results, SearchResult{Post: p, Snippet: snippet, RankScore: rank})
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagsByPost, err := idx.loadTagsForPosts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Post.Tags = tagsByPost[results[i].Post.ID]
	}

	if idx.searchCache != nil {
		idx.searchCache.Put(cacheKey, results)
	}
	idx.analytics.recordSearch(params, idx.now().Sub(start), false)
	return results, nil
}

// searchParamsCacheKey adapts SearchParams to cache.SearchQuery's
// canonical key, folding in the clamped limit/offset actually used.
func searchParamsCacheKey(params SearchParams, limit, offset int) string {
	return cache.SearchQuery{
		Text:       params.Query,
		Subreddits: params.Subreddits,
		Authors:    params.Authors,
		Tags:       params.Tags,
		MinUpvotes: params.MinUpvotes,
		MaxUpvotes: params.MaxUpvotes,
		DateFrom:   params.DateFrom,
		DateTo:     params.DateTo,
		Limit:      limit,
		Offset:     offset,
	}.CacheKey()
}

// loadTagsForPosts batch-loads tags for a set of post ids in a single
// query, avoiding an N+1 per-result lookup.
func (idx *Index) loadTagsForPosts(ctx context.Context, postIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string)
	if len(postIDs) == 0 {
		return result, nil
	}
	placeholders := make([]string, len(postIDs))
	args := make([]any, len(postIDs))
	for i, id := range postIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := idx.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT pt.post_id, t.name FROM post_tags pt
		JOIN tags t ON pt.tag_id = t.id
		WHERE pt.post_id IN (%s)
		ORDER BY t.name`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var postID int64
		var name string
		if err := rows.Scan(&postID, &name); err != nil {
			return nil, err
		}
		result[postID] = append(result[postID], name)
	}
	return result, rows.Err()
}

// SearchStreaming returns a lazy iterator over search results, fetching
// pageSize rows at a time so a caller can stop early without paying for
// the whole result set. Each call to the returned function yields the
// next page; it returns a nil slice once exhausted, a short page is
// seen, or the caller's original params.Limit has been met.
func (idx *Index) SearchStreaming(ctx context.Context, params SearchParams, pageSize int) func() ([]SearchResult, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := params.Offset
	exhausted := false
	remaining := params.Limit
	return func() ([]SearchResult, error) {
		if exhausted {
			return nil, nil
		}
		limit := pageSize
		if remaining > 0 && remaining < limit {
			limit = remaining
		}
		page := params
		page.Limit = limit
		page.Offset = offset
		results, err := idx.SearchPostsOptimized(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(results) < limit {
			exhausted = true
		}
		offset += len(results)
		if remaining > 0 {
			remaining -= len(results)
			if remaining <= 0 {
				exhausted = true
			}
		}
		if len(results) == 0 {
			return nil, nil
		}
		return results, nil
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// GetStatsCached returns database statistics, recomputing only when the
// cache has expired (spec.md's cache-TTL on stats lookups).
func (idx *Index) GetStatsCached(ctx context.Context) (*Stats, error) {
	idx.statsMu.RLock()
	if idx.statsCache != nil && idx.now().Sub(idx.statsAt) < idx.statsTTL {
		cached := *idx.statsCache
		idx.statsMu.RUnlock()
		return &cached, nil
	}
	idx.statsMu.RUnlock()

	stats, err := idx.computeStats(ctx)
	if err != nil {
		return nil, err
	}

	idx.statsMu.Lock()
	idx.statsCache = stats
	idx.statsAt = idx.now()
	idx.statsMu.Unlock()
	return stats, nil
}

func (idx *Index) computeStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var totalUpvotes sql.NullInt64
	var avgUpvotes sql.NullFloat64
	err := idx.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT subreddit), COUNT(DISTINCT author), SUM(upvotes), AVG(upvotes)
		FROM posts WHERE subreddit IS NOT NULL AND author IS NOT NULL
	`).Scan(&stats.TotalPosts, &stats.TotalSubreddits, &stats.TotalAuthors, &totalUpvotes, &avgUpvotes)
	if err != nil {
		return nil, err
	}
	stats.TotalUpvotes = totalUpvotes.Int64
	stats.AvgUpvotes = avgUpvotes.Float64

	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tags").Scan(&stats.TotalTags); err != nil {
		return nil, err
	}
	return stats, nil
}

func (idx *Index) clearStatsCache() {
	idx.statsMu.Lock()
	idx.statsCache = nil
	idx.statsMu.Unlock()
	if idx.searchCache != nil {
		idx.searchCache.Clear()
	}
}

// IntegrityCheck performs SQLite's built-in integrity and foreign-key
// checks plus an FTS-orphan scan, returning a structured report rather
// than raising.
func (idx *Index) IntegrityCheck(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{DatabaseIntegrity: true}

	var integrity string
	if err := idx.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return nil, err
	}
	if integrity != "ok" {
		report.DatabaseIntegrity = false
		report.IssuesFound = append(report.IssuesFound, "database integrity: "+integrity)
	}

	fkRows, err := idx.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, err
	}
	for fkRows.Next() {
		cols, _ := fkRows.Columns()
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := fkRows.Scan(ptrs...); err != nil {
			fkRows.Close()
			return nil, err
		}
		report.ForeignKeyViolations = append(report.ForeignKeyViolations, fmt.Sprintf("%v", vals))
	}
	fkRows.Close()
	if len(report.ForeignKeyViolations) > 0 {
		report.IssuesFound = append(report.IssuesFound, fmt.Sprintf("foreign key violations: %d", len(report.ForeignKeyViolations)))
	}

	if err := idx.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts_fts WHERE rowid NOT IN (SELECT id FROM posts)
	`).Scan(&report.OrphanedFTSEntries); err != nil {
		return nil, err
	}
	if report.OrphanedFTSEntries > 0 {
		report.IssuesFound = append(report.IssuesFound, fmt.Sprintf("orphaned FTS entries: %d", report.OrphanedFTSEntries))
	}

	return report, nil
}

// RepairDatabase deletes orphaned FTS rows, rebuilds the FTS index and
// recomputes tag usage counts.
func (idx *Index) RepairDatabase(ctx context.Context) error {
	return idx.withTx(ctx, func(tx *sql.Conn) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM posts_fts WHERE rowid NOT IN (SELECT id FROM posts)"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO posts_fts(posts_fts) VALUES('rebuild')"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE tags SET usage_count = (SELECT COUNT(*) FROM post_tags WHERE tag_id = tags.id)
		`)
		return err
	})
}
