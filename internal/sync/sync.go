// Package sync implements the change-detection workers that mirror external
// workshop content into the local feed.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/store"
)

const (
	// defaultItemBatchSize is how many workshop file IDs go into one bulk
	// details request.
	defaultItemBatchSize = 50
	// defaultCollectionBatchSize is the same for collection details.
	defaultCollectionBatchSize = 25
	// defaultBatchDelay spaces out consecutive bulk requests so a large
	// tracked set does not hammer the upstream API.
	defaultBatchDelay = 500 * time.Millisecond
)

// WorkshopStore is the persistence surface the workshop syncer needs.
type WorkshopStore interface {
	ListWorkshopItems(ctx context.Context) ([]*store.WorkshopItem, error)
	ApplyWorkshopChange(ctx context.Context, ch store.WorkshopChange) (uuid.UUID, error)
}

// CollectionStore is the persistence surface the collection syncer needs.
type CollectionStore interface {
	ListCollections(ctx context.Context) ([]*store.Collection, error)
	ApplyCollectionChange(ctx context.Context, ch store.CollectionChange) (uuid.UUID, error)
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// batches splits ids into consecutive slices of at most size elements.
func batches(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
