package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const workshopItemColumns = `id, workshop_file_id, title, last_update_at, meta, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkshopItem(row rowScanner) (*WorkshopItem, error) {
	var it WorkshopItem
	err := row.Scan(&it.ID, &it.WorkshopFileID, &it.Title, &it.LastUpdateAt, &it.Meta, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan workshop item: %w", err)
	}
	return &it, nil
}

// ListWorkshopItems returns all tracked workshop items ordered by title.
func (s *Store) ListWorkshopItems(ctx context.Context) ([]*WorkshopItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workshopItemColumns+` FROM workshop_items ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workshop items: %w", err)
	}
	defer rows.Close()

	var items []*WorkshopItem
	for rows.Next() {
		it, err := scanWorkshopItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetWorkshopItem returns a single workshop item by ID.
func (s *Store) GetWorkshopItem(ctx context.Context, id uuid.UUID) (*WorkshopItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workshopItemColumns+` FROM workshop_items WHERE id = $1`, id)
	return scanWorkshopItem(row)
}

// GetWorkshopItemByFileID returns a workshop item by its external file ID.
func (s *Store) GetWorkshopItemByFileID(ctx context.Context, fileID string) (*WorkshopItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workshopItemColumns+` FROM workshop_items WHERE workshop_file_id = $1`, fileID)
	return scanWorkshopItem(row)
}

// CreateWorkshopItem registers a new workshop item for tracking.
func (s *Store) CreateWorkshopItem(ctx context.Context, fileID, title string) (*WorkshopItem, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO workshop_items (workshop_file_id, title)
		 VALUES ($1, $2)
		 RETURNING `+workshopItemColumns, fileID, title)
	return scanWorkshopItem(row)
}

// UpdateWorkshopItem replaces the mutable fields of a workshop item.
func (s *Store) UpdateWorkshopItem(ctx context.Context, id uuid.UUID, fileID, title string) (*WorkshopItem, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE workshop_items
		 SET workshop_file_id = $2, title = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+workshopItemColumns, id, fileID, title)
	return scanWorkshopItem(row)
}

// DeleteWorkshopItem removes a workshop item and, via cascade, its recorded
// updates.
func (s *Store) DeleteWorkshopItem(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workshop_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workshop item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkshopUpdates returns the most recent recorded updates for an item.
func (s *Store) ListWorkshopUpdates(ctx context.Context, itemID uuid.UUID, limit int) ([]*WorkshopUpdate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workshop_item_id, detected_at, change
		 FROM workshop_updates
		 WHERE workshop_item_id = $1
		 ORDER BY detected_at DESC
		 LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workshop updates: %w", err)
	}
	defer rows.Close()

	var updates []*WorkshopUpdate
	for rows.Next() {
		var u WorkshopUpdate
		if err := rows.Scan(&u.ID, &u.WorkshopItemID, &u.DetectedAt, &u.Change); err != nil {
			return nil, fmt.Errorf("failed to scan workshop update: %w", err)
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}

// PostDraft carries the content of a post to be published alongside a change
// record. The store fills in the source reference itself.
type PostDraft struct {
	Type    PostType
	Title   string
	Summary string
	Body    string
	Tags    []string
}

// WorkshopChange describes a detected workshop item change to persist.
type WorkshopChange struct {
	ItemID     uuid.UUID
	Title      string
	UpdatedAt  *time.Time // external update timestamp, nil when the source reports none
	Meta       []byte
	Change     []byte
	DetectedAt time.Time
	Post       PostDraft
}

// ApplyWorkshopChange atomically advances a workshop item to a newer external
// state, records the change, and publishes the corresponding post. The item
// row update is conditional: when the external timestamp is present it must be
// strictly newer than the stored one, and when it is absent the title must
// differ. If the condition does not hold nothing is written and
// ErrStaleSource is returned, so concurrent runs over the same observation
// produce exactly one change record.
func (s *Store) ApplyWorkshopChange(ctx context.Context, ch WorkshopChange) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE workshop_items
		 SET title = $2, last_update_at = COALESCE($3, last_update_at), meta = $4, updated_at = now()
		 WHERE id = $1
		   AND (($3::timestamptz IS NOT NULL AND (last_update_at IS NULL OR last_update_at < $3))
		     OR ($3::timestamptz IS NULL AND title IS DISTINCT FROM $2))`,
		ch.ItemID, ch.Title, ch.UpdatedAt, ch.Meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to advance workshop item state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, ErrStaleSource
	}

	var updateID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO workshop_updates (workshop_item_id, detected_at, change)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		ch.ItemID, ch.DetectedAt, ch.Change).Scan(&updateID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record workshop update: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO news_posts (type, title, summary, body, tags, source_type, source_id, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.Post.Type, ch.Post.Title, ch.Post.Summary, ch.Post.Body, ch.Post.Tags,
		SourceTypeWorkshop, updateID, ch.DetectedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish workshop post: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit workshop change: %w", err)
	}
	return updateID, nil
}
