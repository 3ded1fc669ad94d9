package searchindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
)

// Tag is a normalized tag row.
type Tag struct {
	ID          int64
	Name        string
	Description string
	Color       string
	UsageCount  int
}

// CreateTag creates a tag, normalizing its name, or returns the existing
// tag if one with that normalized name already exists.
func (idx *Index) CreateTag(ctx context.Context, name, description, color string) (*Tag, error) {
	normalized, err := normalizeTagName(name)
	if err != nil {
		return nil, err
	}
	if existing, err := idx.GetTagByName(ctx, normalized); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	var id int64
	err = idx.withTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, "INSERT INTO tags (name, description, color) VALUES (?, ?, ?)", normalized, description, color)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Tag{ID: id, Name: normalized, Description: description, Color: color}, nil
}

// GetTagByName looks up a tag by its normalized name, returning nil if
// absent.
func (idx *Index) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	normalized, err := normalizeTagName(name)
	if err != nil {
		return nil, err
	}
	row := idx.db.QueryRowContext(ctx, "SELECT id, name, description, color, usage_count FROM tags WHERE name = ?", normalized)
	return scanTag(row)
}

func scanTag(row scannable) (*Tag, error) {
	var t Tag
	var description, color sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &description, &color, &t.UsageCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.Description = description.String
	t.Color = color.String
	return &t, nil
}

// ListTags returns all tags ordered by usage count descending.
func (idx *Index) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := idx.db.QueryContext(ctx, "SELECT id, name, description, color, usage_count FROM tags ORDER BY usage_count DESC, name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// DeleteTag removes a tag and all of its post associations.
func (idx *Index) DeleteTag(ctx context.Context, name string) error {
	normalized, err := normalizeTagName(name)
	if err != nil {
		return err
	}
	if err := idx.withTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "DELETE FROM tags WHERE name = ?", normalized)
		return err
	}); err != nil {
		return err
	}
	idx.clearStatsCache()
	return nil
}

// TagPost attaches tag(s) to a post, creating any tag that does not yet
// exist. Already-applied tags are silently skipped (idempotent), mirroring
// the PRIMARY KEY(post_id, tag_id) conflict handling in the source this
// is grounded on.
func (idx *Index) TagPost(ctx context.Context, postID int64, tagNames ...string) error {
	for _, name := range tagNames {
		tag, err := idx.CreateTag(ctx, name, "", "")
		if err != nil {
			return err
		}
		err = idx.withTx(ctx, func(conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)", postID, tag.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("tag post %d with %q: %w", postID, name, err)
		}
	}
	idx.clearStatsCache()
	return nil
}

// UntagPost removes a tag from a post.
func (idx *Index) UntagPost(ctx context.Context, postID int64, tagName string) error {
	tag, err := idx.GetTagByName(ctx, tagName)
	if err != nil {
		return err
	}
	if tag == nil {
		return errs.NewInvalidInput("tag_name", "no such tag")
	}
	if err := idx.withTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "DELETE FROM post_tags WHERE post_id = ? AND tag_id = ?", postID, tag.ID)
		return err
	}); err != nil {
		return err
	}
	idx.clearStatsCache()
	return nil
}

// GetPostTags returns the tag names attached to a post.
func (idx *Index) GetPostTags(ctx context.Context, postID int64) ([]string, error) {
	tagsByPost, err := idx.loadTagsForPosts(ctx, []int64{postID})
	if err != nil {
		return nil, err
	}
	return tagsByPost[postID], nil
}

// BulkTagPosts applies tagNames to every post in postIDs, continuing past
// individual failures and returning how many (post, tag) pairs were
// applied successfully.
func (idx *Index) BulkTagPosts(ctx context.Context, postIDs []int64, tagNames []string) (applied int, err error) {
	for _, id := range postIDs {
		if tagErr := idx.TagPost(ctx, id, tagNames...); tagErr != nil {
			continue
		}
		applied += len(tagNames)
	}
	return applied, nil
}
