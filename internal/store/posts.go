package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const newsPostColumns = `id, type, title, summary, body, tags, source_type, source_id, is_pinned, is_hidden, published_at, created_at, updated_at`

func scanNewsPost(row rowScanner) (*NewsPost, error) {
	var (
		p          NewsPost
		postType   string
		sourceType *string
	)
	err := row.Scan(&p.ID, &postType, &p.Title, &p.Summary, &p.Body, &p.Tags,
		&sourceType, &p.SourceID, &p.IsPinned, &p.IsHidden, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan news post: %w", err)
	}
	p.Type = PostType(postType)
	if sourceType != nil {
		st := SourceType(*sourceType)
		p.SourceType = &st
	}
	return &p, nil
}

func collectNewsPosts(rows pgx.Rows) ([]*NewsPost, error) {
	defer rows.Close()
	var posts []*NewsPost
	for rows.Next() {
		p, err := scanNewsPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// NewsPostParams holds the writable fields of a news post.
type NewsPostParams struct {
	Type        PostType
	Title       string
	Summary     string
	Body        string
	Tags        []string
	SourceType  *SourceType
	SourceID    *uuid.UUID
	IsPinned    bool
	IsHidden    bool
	PublishedAt *time.Time
}

// CreatePost inserts a news post. A nil PublishedAt leaves it as a draft that
// the feed never serves.
func (s *Store) CreatePost(ctx context.Context, p NewsPostParams) (*NewsPost, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO news_posts (type, title, summary, body, tags, source_type, source_id, is_pinned, is_hidden, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+newsPostColumns,
		p.Type, p.Title, p.Summary, p.Body, tags, p.SourceType, p.SourceID, p.IsPinned, p.IsHidden, p.PublishedAt)
	return scanNewsPost(row)
}

// GetPost returns a single news post by ID.
func (s *Store) GetPost(ctx context.Context, id uuid.UUID) (*NewsPost, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+newsPostColumns+` FROM news_posts WHERE id = $1`, id)
	return scanNewsPost(row)
}

// UpdatePost replaces the writable fields of a news post.
func (s *Store) UpdatePost(ctx context.Context, id uuid.UUID, p NewsPostParams) (*NewsPost, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE news_posts
		 SET type = $2, title = $3, summary = $4, body = $5, tags = $6,
		     source_type = $7, source_id = $8, is_pinned = $9, is_hidden = $10,
		     published_at = $11, updated_at = now()
		 WHERE id = $1
		 RETURNING `+newsPostColumns,
		id, p.Type, p.Title, p.Summary, p.Body, tags, p.SourceType, p.SourceID, p.IsPinned, p.IsHidden, p.PublishedAt)
	return scanNewsPost(row)
}

// DeletePost removes a news post.
func (s *Store) DeletePost(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM news_posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete news post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPosts returns all posts for administration, newest first, including
// hidden posts and drafts.
func (s *Store) ListPosts(ctx context.Context, limit, offset int) ([]*NewsPost, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+newsPostColumns+`
		 FROM news_posts
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list news posts: %w", err)
	}
	return collectNewsPosts(rows)
}

// FeedQuery selects a page of the public feed. A zero Type means no type
// filter.
type FeedQuery struct {
	Type  PostType
	Page  int
	Limit int
}

// FeedPage is one page of the public feed. Pinned is populated only for the
// first page and does not consume Items slots.
type FeedPage struct {
	Pinned []*NewsPost
	Items  []*NewsPost
	Total  int
}

const feedVisible = `is_hidden = FALSE AND published_at IS NOT NULL AND published_at <= now()`

// ListFeed returns one page of visible posts, newest first. Pinned posts are
// returned separately and only on page one; Total counts the non-pinned
// population so pagination is stable regardless of pins.
func (s *Store) ListFeed(ctx context.Context, q FeedQuery) (*FeedPage, error) {
	filter := feedVisible
	args := []any{q.Limit, (q.Page - 1) * q.Limit}
	if q.Type != "" {
		filter += ` AND type = $3`
		args = append(args, q.Type)
	}

	page := &FeedPage{}

	countArgs := args[2:]
	countFilter := filter
	if q.Type != "" {
		countFilter = feedVisible + ` AND type = $1`
	}
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM news_posts WHERE `+countFilter+` AND is_pinned = FALSE`,
		countArgs...).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to count feed posts: %w", err)
	}

	if q.Page == 1 {
		pinnedArgs := countArgs
		rows, err := s.pool.Query(ctx,
			`SELECT `+newsPostColumns+`
			 FROM news_posts
			 WHERE `+countFilter+` AND is_pinned = TRUE
			 ORDER BY published_at DESC`, pinnedArgs...)
		if err != nil {
			return nil, fmt.Errorf("failed to list pinned posts: %w", err)
		}
		page.Pinned, err = collectNewsPosts(rows)
		if err != nil {
			return nil, err
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+newsPostColumns+`
		 FROM news_posts
		 WHERE `+filter+` AND is_pinned = FALSE
		 ORDER BY published_at DESC, id
		 LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed posts: %w", err)
	}
	page.Items, err = collectNewsPosts(rows)
	if err != nil {
		return nil, err
	}
	return page, nil
}
