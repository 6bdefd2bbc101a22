package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/breachymba/hub/internal/posts"
	"github.com/breachymba/hub/internal/sources/steam"
	"github.com/breachymba/hub/internal/store"
)

// CollectionSyncer polls the bulk collection-details API for every tracked
// collection and records changes exactly once.
type CollectionSyncer struct {
	store      CollectionStore
	steam      steam.Client
	batchSize  int
	batchDelay time.Duration
	now        func() time.Time
}

// CollectionSyncerOption configures a CollectionSyncer.
type CollectionSyncerOption func(*CollectionSyncer)

// WithCollectionBatchSize overrides the bulk request size. Zero keeps the
// default.
func WithCollectionBatchSize(size int) CollectionSyncerOption {
	return func(s *CollectionSyncer) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithCollectionBatchDelay overrides the pause between bulk requests.
// Negative values disable it.
func WithCollectionBatchDelay(delay time.Duration) CollectionSyncerOption {
	return func(s *CollectionSyncer) {
		s.batchDelay = delay
	}
}

// WithCollectionClock overrides the time source. Used in tests.
func WithCollectionClock(now func() time.Time) CollectionSyncerOption {
	return func(s *CollectionSyncer) {
		s.now = now
	}
}

// NewCollectionSyncer creates a collection syncer.
func NewCollectionSyncer(st CollectionStore, client steam.Client, opts ...CollectionSyncerOption) *CollectionSyncer {
	s := &CollectionSyncer{
		store:      st,
		steam:      client,
		batchSize:  defaultCollectionBatchSize,
		batchDelay: defaultBatchDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one full sync pass over all tracked collections and returns
// how many changes it recorded.
func (s *CollectionSyncer) Run(ctx context.Context) (int, error) {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list collections: %w", err)
	}
	if len(collections) == 0 {
		return 0, nil
	}

	byExternalID := make(map[string]*store.Collection, len(collections))
	ids := make([]string, 0, len(collections))
	for _, col := range collections {
		byExternalID[col.CollectionID] = col
		ids = append(ids, col.CollectionID)
	}

	applied := 0
	for i, batch := range batches(ids, s.batchSize) {
		if i > 0 {
			if err := sleepCtx(ctx, s.batchDelay); err != nil {
				return applied, err
			}
		}

		details, err := s.steam.CollectionDetails(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			slog.Error("Collection details fetch failed, skipping batch",
				"batch_size", len(batch), "error", err)
			continue
		}

		for _, externalID := range batch {
			detail, ok := details[externalID]
			if !ok {
				continue
			}
			if s.applyDetail(ctx, byExternalID[externalID], detail) {
				applied++
			}
		}
	}
	return applied, ctx.Err()
}

func (s *CollectionSyncer) applyDetail(ctx context.Context, col *store.Collection, detail *steam.CollectionDetail) bool {
	changedAt := detail.UpdatedAt()

	if changedAt != nil && col.LastChangeAt != nil && !changedAt.After(*col.LastChangeAt) {
		return false
	}

	newTitle := detail.Title
	if newTitle == "" {
		newTitle = col.Title
	}

	var changeLines []string
	if col.Title != detail.Title {
		changeLines = append(changeLines, posts.TitleChangeLine(col.Title, detail.Title))
	}
	if len(detail.Children) > 0 {
		changeLines = append(changeLines, posts.ItemCountChangeLine(len(detail.Children)))
	}
	if changedAt != nil {
		changeLines = append(changeLines, posts.UpdatedAtChangeLine(*changedAt))
	}

	// Without a timestamp only a title change counts; membership size alone
	// is not a reliable signal across passes.
	if changedAt == nil && col.Title == detail.Title {
		return false
	}

	itemCount := len(detail.Children)
	record := posts.ChangeRecord{
		Prev: posts.ChangeState{Title: col.Title, UpdatedAt: col.LastChangeAt},
		Next: posts.ChangeState{Title: detail.Title, UpdatedAt: changedAt, Items: &itemCount},
		Meta: detail.Raw,
	}
	change, err := record.Marshal()
	if err != nil {
		slog.Error("Failed to serialize collection change", "collection_id", col.CollectionID, "error", err)
		return false
	}

	detectedAt := s.now().UTC()
	updateID, err := s.store.ApplyCollectionChange(ctx, store.CollectionChange{
		CollectionID: col.ID,
		Title:        newTitle,
		ChangedAt:    changedAt,
		Meta:         detail.Raw,
		Change:       change,
		DetectedAt:   detectedAt,
		Post:         posts.BuildCollectionPost(newTitle, col.CollectionID, detectedAt, changeLines),
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleSource) {
			slog.Debug("Collection change already applied", "collection_id", col.CollectionID)
			return false
		}
		slog.Error("Failed to apply collection change", "collection_id", col.CollectionID, "error", err)
		return false
	}

	slog.Info("Recorded collection update",
		"collection_id", col.CollectionID,
		"title", newTitle,
		"update_id", updateID)
	return true
}
