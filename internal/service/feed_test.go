package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachymba/hub/internal/store"
)

type fakeFeedStore struct {
	mu        sync.Mutex
	page      *store.FeedPage
	notes     map[store.PatchRef]bool
	listCalls int
	lastQuery store.FeedQuery
}

func (f *fakeFeedStore) ListFeed(_ context.Context, q store.FeedQuery) (*store.FeedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastQuery = q
	return f.page, nil
}

func (f *fakeFeedStore) HasPatchNotes(_ context.Context, refs []store.PatchRef) (map[store.PatchRef]bool, error) {
	out := make(map[store.PatchRef]bool)
	for _, ref := range refs {
		if f.notes[ref] {
			out[ref] = true
		}
	}
	return out, nil
}

func publishedPost(postType store.PostType, title string, pinned bool, sourceID *uuid.UUID) *store.NewsPost {
	published := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var sourceType *store.SourceType
	if sourceID != nil {
		st := store.SourceTypeWorkshop
		sourceType = &st
	}
	return &store.NewsPost{
		ID:          uuid.New(),
		Type:        postType,
		Title:       title,
		Summary:     "summary",
		Body:        "body",
		Tags:        []string{"AUTO"},
		SourceType:  sourceType,
		SourceID:    sourceID,
		IsPinned:    pinned,
		PublishedAt: &published,
	}
}

type feedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *feedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *feedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFeedService(st FeedStore) (*FeedService, *feedClock) {
	clock := &feedClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	return NewFeedService(st, WithCacheClock(clock.Now)), clock
}

func TestGetFeed_AssemblesPage(t *testing.T) {
	t.Parallel()

	updateID := uuid.New()
	pinned := publishedPost(store.PostTypeManual, "Pinned announcement", true, nil)
	item := publishedPost(store.PostTypeAutoWorkshop, "Addon updated: X", false, &updateID)
	st := &fakeFeedStore{
		page: &store.FeedPage{
			Pinned: []*store.NewsPost{pinned},
			Items:  []*store.NewsPost{item},
			Total:  1,
		},
		notes: map[store.PatchRef]bool{
			{RefType: store.PatchRefWorkshopUpdate, RefID: updateID}: true,
		},
	}
	svc, _ := newTestFeedService(st)

	resp, err := svc.GetFeed(context.Background(), FilterAll, 1, 20)
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.Limit)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Pinned, 1)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Pinned announcement", resp.Pinned[0].Title)
	assert.False(t, resp.Pinned[0].HasPatchNotes)
	assert.True(t, resp.Items[0].HasPatchNotes, "the synthesized post's patch notes hang off its change record")
}

func TestGetFeed_FilterMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filter   string
		wantType store.PostType
	}{
		{filter: FilterAll, wantType: ""},
		{filter: FilterManual, wantType: store.PostTypeManual},
		{filter: FilterWorkshop, wantType: store.PostTypeAutoWorkshop},
		{filter: FilterCollections, wantType: store.PostTypeAutoCollection},
		{filter: FilterServers, wantType: store.PostTypeAutoServer},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			t.Parallel()

			st := &fakeFeedStore{page: &store.FeedPage{}}
			svc, _ := newTestFeedService(st)

			_, err := svc.GetFeed(context.Background(), tt.filter, 1, 20)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, st.lastQuery.Type)
		})
	}
}

func TestGetFeed_UnknownFilter(t *testing.T) {
	t.Parallel()

	svc, _ := newTestFeedService(&fakeFeedStore{page: &store.FeedPage{}})

	_, err := svc.GetFeed(context.Background(), "everything", 1, 20)
	require.ErrorIs(t, err, ErrUnknownFilter)
}

func TestGetFeed_ClampsPaging(t *testing.T) {
	t.Parallel()

	st := &fakeFeedStore{page: &store.FeedPage{}}
	svc, _ := newTestFeedService(st)

	_, err := svc.GetFeed(context.Background(), "", 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, st.lastQuery.Page)
	assert.Equal(t, maxFeedLimit, st.lastQuery.Limit)
}

func TestGetFeed_CacheTTL(t *testing.T) {
	t.Parallel()

	st := &fakeFeedStore{page: &store.FeedPage{Total: 1}}
	svc, clock := newTestFeedService(st)
	ctx := context.Background()

	first, err := svc.GetFeed(ctx, FilterAll, 1, 20)
	require.NoError(t, err)

	clock.Advance(14 * time.Second)
	second, err := svc.GetFeed(ctx, FilterAll, 1, 20)
	require.NoError(t, err)
	assert.Same(t, first, second, "within the TTL the cached response is returned as-is")
	assert.Equal(t, 1, st.listCalls)

	clock.Advance(2 * time.Second)
	_, err = svc.GetFeed(ctx, FilterAll, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, st.listCalls, "past the TTL the page is recomputed")
}

func TestGetFeed_CacheKeyedByQuery(t *testing.T) {
	t.Parallel()

	st := &fakeFeedStore{page: &store.FeedPage{}}
	svc, _ := newTestFeedService(st)
	ctx := context.Background()

	_, err := svc.GetFeed(ctx, FilterAll, 1, 20)
	require.NoError(t, err)
	_, err = svc.GetFeed(ctx, FilterAll, 2, 20)
	require.NoError(t, err)
	_, err = svc.GetFeed(ctx, FilterManual, 1, 20)
	require.NoError(t, err)

	assert.Equal(t, 3, st.listCalls, "distinct queries must not share cache entries")
}

func TestGetFeed_InvalidateDropsCache(t *testing.T) {
	t.Parallel()

	st := &fakeFeedStore{page: &store.FeedPage{}}
	svc, _ := newTestFeedService(st)
	ctx := context.Background()

	_, err := svc.GetFeed(ctx, FilterAll, 1, 20)
	require.NoError(t, err)

	svc.Invalidate()

	_, err = svc.GetFeed(ctx, FilterAll, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, st.listCalls)
}
