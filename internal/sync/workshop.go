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

// WorkshopSyncer polls the bulk published-file API for every tracked workshop
// item and records changes exactly once.
type WorkshopSyncer struct {
	store      WorkshopStore
	steam      steam.Client
	batchSize  int
	batchDelay time.Duration
	now        func() time.Time
}

// WorkshopSyncerOption configures a WorkshopSyncer.
type WorkshopSyncerOption func(*WorkshopSyncer)

// WithItemBatchSize overrides the bulk request size. Zero keeps the default.
func WithItemBatchSize(size int) WorkshopSyncerOption {
	return func(s *WorkshopSyncer) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithItemBatchDelay overrides the pause between bulk requests. Negative
// values disable it.
func WithItemBatchDelay(delay time.Duration) WorkshopSyncerOption {
	return func(s *WorkshopSyncer) {
		s.batchDelay = delay
	}
}

// WithWorkshopClock overrides the time source. Used in tests.
func WithWorkshopClock(now func() time.Time) WorkshopSyncerOption {
	return func(s *WorkshopSyncer) {
		s.now = now
	}
}

// NewWorkshopSyncer creates a workshop item syncer.
func NewWorkshopSyncer(st WorkshopStore, client steam.Client, opts ...WorkshopSyncerOption) *WorkshopSyncer {
	s := &WorkshopSyncer{
		store:      st,
		steam:      client,
		batchSize:  defaultItemBatchSize,
		batchDelay: defaultBatchDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one full sync pass over all tracked workshop items and
// returns how many changes it recorded. A failed batch is logged and skipped;
// only context cancellation aborts the pass.
func (s *WorkshopSyncer) Run(ctx context.Context) (int, error) {
	items, err := s.store.ListWorkshopItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workshop items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	byFileID := make(map[string]*store.WorkshopItem, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		byFileID[item.WorkshopFileID] = item
		ids = append(ids, item.WorkshopFileID)
	}

	applied := 0
	for i, batch := range batches(ids, s.batchSize) {
		if i > 0 {
			if err := sleepCtx(ctx, s.batchDelay); err != nil {
				return applied, err
			}
		}

		details, err := s.steam.PublishedFileDetails(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			slog.Error("Workshop details fetch failed, skipping batch",
				"batch_size", len(batch), "error", err)
			continue
		}

		for _, fileID := range batch {
			detail, ok := details[fileID]
			if !ok {
				// Unknown or deleted upstream; nothing to compare.
				continue
			}
			if s.applyDetail(ctx, byFileID[fileID], detail) {
				applied++
			}
		}
	}
	return applied, ctx.Err()
}

// applyDetail compares one fetched detail against the stored item and, when
// it represents new state, persists the change. Reports whether a change was
// recorded.
func (s *WorkshopSyncer) applyDetail(ctx context.Context, item *store.WorkshopItem, detail *steam.PublishedFileDetail) bool {
	updatedAt := detail.UpdatedAt()

	// The cheap pre-check; the store re-validates under the transaction.
	if updatedAt != nil && item.LastUpdateAt != nil && !updatedAt.After(*item.LastUpdateAt) {
		return false
	}

	newTitle := detail.Title
	if newTitle == "" {
		newTitle = item.Title
	}

	var changeLines []string
	if item.Title != detail.Title {
		changeLines = append(changeLines, posts.TitleChangeLine(item.Title, detail.Title))
	}
	if updatedAt != nil {
		changeLines = append(changeLines, posts.UpdatedAtChangeLine(*updatedAt))
	}

	// Sources that report no timestamp only count as changed when a field
	// actually differs, otherwise every pass would re-announce them.
	if updatedAt == nil && len(changeLines) == 0 {
		return false
	}

	record := posts.ChangeRecord{
		Prev: posts.ChangeState{Title: item.Title, UpdatedAt: item.LastUpdateAt},
		Next: posts.ChangeState{Title: detail.Title, UpdatedAt: updatedAt},
		Meta: detail.Raw,
	}
	change, err := record.Marshal()
	if err != nil {
		slog.Error("Failed to serialize workshop change", "workshop_file_id", item.WorkshopFileID, "error", err)
		return false
	}

	detectedAt := s.now().UTC()
	updateID, err := s.store.ApplyWorkshopChange(ctx, store.WorkshopChange{
		ItemID:     item.ID,
		Title:      newTitle,
		UpdatedAt:  updatedAt,
		Meta:       detail.Raw,
		Change:     change,
		DetectedAt: detectedAt,
		Post:       posts.BuildWorkshopPost(newTitle, item.WorkshopFileID, detectedAt, changeLines),
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleSource) {
			slog.Debug("Workshop change already applied", "workshop_file_id", item.WorkshopFileID)
			return false
		}
		slog.Error("Failed to apply workshop change", "workshop_file_id", item.WorkshopFileID, "error", err)
		return false
	}

	slog.Info("Recorded workshop update",
		"workshop_file_id", item.WorkshopFileID,
		"title", newTitle,
		"update_id", updateID)
	return true
}
