package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const collectionColumns = `id, collection_id, title, last_change_at, meta, created_at, updated_at`

func scanCollection(row rowScanner) (*Collection, error) {
	var c Collection
	err := row.Scan(&c.ID, &c.CollectionID, &c.Title, &c.LastChangeAt, &c.Meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	return &c, nil
}

// ListCollections returns all tracked collections ordered by title.
func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+collectionColumns+` FROM collections ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

// GetCollection returns a single collection by ID.
func (s *Store) GetCollection(ctx context.Context, id uuid.UUID) (*Collection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id)
	return scanCollection(row)
}

// GetCollectionByExternalID returns a collection by its external collection ID.
func (s *Store) GetCollectionByExternalID(ctx context.Context, collectionID string) (*Collection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE collection_id = $1`, collectionID)
	return scanCollection(row)
}

// CreateCollection registers a new collection for tracking.
func (s *Store) CreateCollection(ctx context.Context, collectionID, title string) (*Collection, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO collections (collection_id, title)
		 VALUES ($1, $2)
		 RETURNING `+collectionColumns, collectionID, title)
	return scanCollection(row)
}

// UpdateCollection replaces the mutable fields of a collection.
func (s *Store) UpdateCollection(ctx context.Context, id uuid.UUID, collectionID, title string) (*Collection, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE collections
		 SET collection_id = $2, title = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+collectionColumns, id, collectionID, title)
	return scanCollection(row)
}

// DeleteCollection removes a collection and, via cascade, its recorded
// updates.
func (s *Store) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCollectionUpdates returns the most recent recorded updates for a
// collection.
func (s *Store) ListCollectionUpdates(ctx context.Context, collectionID uuid.UUID, limit int) ([]*CollectionUpdate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, collection_id, detected_at, change
		 FROM collection_updates
		 WHERE collection_id = $1
		 ORDER BY detected_at DESC
		 LIMIT $2`, collectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection updates: %w", err)
	}
	defer rows.Close()

	var updates []*CollectionUpdate
	for rows.Next() {
		var u CollectionUpdate
		if err := rows.Scan(&u.ID, &u.CollectionID, &u.DetectedAt, &u.Change); err != nil {
			return nil, fmt.Errorf("failed to scan collection update: %w", err)
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}

// CollectionChange describes a detected collection change to persist.
type CollectionChange struct {
	CollectionID uuid.UUID
	Title        string
	ChangedAt    *time.Time // external change timestamp, nil when the source reports none
	Meta         []byte
	Change       []byte
	DetectedAt   time.Time
	Post         PostDraft
}

// ApplyCollectionChange atomically advances a collection to a newer external
// state, records the change, and publishes the corresponding post. The same
// staleness rule as ApplyWorkshopChange applies: a non-advancing write leaves
// the database untouched and returns ErrStaleSource.
func (s *Store) ApplyCollectionChange(ctx context.Context, ch CollectionChange) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE collections
		 SET title = $2, last_change_at = COALESCE($3, last_change_at), meta = $4, updated_at = now()
		 WHERE id = $1
		   AND (($3::timestamptz IS NOT NULL AND (last_change_at IS NULL OR last_change_at < $3))
		     OR ($3::timestamptz IS NULL AND title IS DISTINCT FROM $2))`,
		ch.CollectionID, ch.Title, ch.ChangedAt, ch.Meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to advance collection state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, ErrStaleSource
	}

	var updateID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO collection_updates (collection_id, detected_at, change)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		ch.CollectionID, ch.DetectedAt, ch.Change).Scan(&updateID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record collection update: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO news_posts (type, title, summary, body, tags, source_type, source_id, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.Post.Type, ch.Post.Title, ch.Post.Summary, ch.Post.Body, ch.Post.Tags,
		SourceTypeCollection, updateID, ch.DetectedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish collection post: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit collection change: %w", err)
	}
	return updateID, nil
}
