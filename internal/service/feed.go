// Package service assembles API responses from the store, with a short-lived
// cache in front of the hot feed path.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/cache"
	"github.com/breachymba/hub/internal/store"
)

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 50

	defaultCacheTTL = 15 * time.Second
)

// Feed filter names accepted by the API.
const (
	FilterAll         = "all"
	FilterManual      = "manual"
	FilterWorkshop    = "workshop"
	FilterCollections = "collections"
	FilterServers     = "servers"
)

var filterTypes = map[string]store.PostType{
	FilterAll:         "",
	FilterManual:      store.PostTypeManual,
	FilterWorkshop:    store.PostTypeAutoWorkshop,
	FilterCollections: store.PostTypeAutoCollection,
	FilterServers:     store.PostTypeAutoServer,
}

// ErrUnknownFilter is returned for a filter name outside the accepted set.
var ErrUnknownFilter = fmt.Errorf("unknown feed filter")

// FeedStore is the persistence surface the feed service needs.
type FeedStore interface {
	ListFeed(ctx context.Context, q store.FeedQuery) (*store.FeedPage, error)
	HasPatchNotes(ctx context.Context, refs []store.PatchRef) (map[store.PatchRef]bool, error)
}

// FeedPost is one feed entry as served to clients.
type FeedPost struct {
	ID            uuid.UUID         `json:"id"`
	Type          store.PostType    `json:"type"`
	Title         string            `json:"title"`
	Summary       string            `json:"summary"`
	Body          string            `json:"body"`
	Tags          []string          `json:"tags"`
	SourceType    *store.SourceType `json:"sourceType,omitempty"`
	SourceID      *uuid.UUID        `json:"sourceId,omitempty"`
	IsPinned      bool              `json:"isPinned"`
	PublishedAt   *time.Time        `json:"publishedAt"`
	HasPatchNotes bool              `json:"hasPatchNotes"`
}

// FeedResponse is one page of the feed. Pinned is non-empty only on page
// one.
type FeedResponse struct {
	Pinned []FeedPost `json:"pinned"`
	Items  []FeedPost `json:"items"`
	Page   int        `json:"page"`
	Limit  int        `json:"limit"`
	Total  int        `json:"total"`
}

// FeedService serves feed pages, caching each distinct query briefly so a
// busy feed does not hit the database on every request.
type FeedService struct {
	store FeedStore
	cache *cache.Cache[*FeedResponse]
}

// FeedOption configures a FeedService.
type FeedOption func(*feedConfig)

type feedConfig struct {
	ttl       time.Duration
	cacheOpts []cache.Option[*FeedResponse]
}

// WithCacheTTL overrides the feed cache TTL. Zero keeps the default.
func WithCacheTTL(ttl time.Duration) FeedOption {
	return func(c *feedConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock overrides the cache's time source. Used in tests.
func WithCacheClock(now func() time.Time) FeedOption {
	return func(c *feedConfig) {
		c.cacheOpts = append(c.cacheOpts, cache.WithClock[*FeedResponse](now))
	}
}

// NewFeedService creates a FeedService.
func NewFeedService(st FeedStore, opts ...FeedOption) *FeedService {
	cfg := &feedConfig{ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(cfg)
	}
	return &FeedService{
		store: st,
		cache: cache.New(cfg.ttl, cfg.cacheOpts...),
	}
}

// GetFeed returns one page of the feed for the given filter. Results are
// cached per (filter, page, limit) for the configured TTL.
func (s *FeedService) GetFeed(ctx context.Context, filter string, page, limit int) (*FeedResponse, error) {
	if filter == "" {
		filter = FilterAll
	}
	postType, ok := filterTypes[filter]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, filter)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	key := fmt.Sprintf("feed:%s:%d:%d", filter, page, limit)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	feedPage, err := s.store.ListFeed(ctx, store.FeedQuery{Type: postType, Page: page, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}

	response := &FeedResponse{
		Pinned: []FeedPost{},
		Items:  []FeedPost{},
		Page:   page,
		Limit:  limit,
		Total:  feedPage.Total,
	}

	all := make([]*store.NewsPost, 0, len(feedPage.Pinned)+len(feedPage.Items))
	all = append(all, feedPage.Pinned...)
	all = append(all, feedPage.Items...)
	notes, err := s.patchNoteFlags(ctx, all)
	if err != nil {
		return nil, err
	}

	for _, post := range feedPage.Pinned {
		response.Pinned = append(response.Pinned, toFeedPost(post, notes))
	}
	for _, post := range feedPage.Items {
		response.Items = append(response.Items, toFeedPost(post, notes))
	}

	s.cache.Set(key, response)
	return response, nil
}

// Invalidate drops all cached pages. Called after writes that change feed
// contents.
func (s *FeedService) Invalidate() {
	s.cache.Invalidate()
}

// patchNoteFlags resolves which posts have patch notes attached, keyed by
// post ID.
func (s *FeedService) patchNoteFlags(ctx context.Context, all []*store.NewsPost) (map[uuid.UUID]bool, error) {
	refs := make([]store.PatchRef, 0, len(all))
	refByPost := make(map[uuid.UUID]store.PatchRef, len(all))
	for _, post := range all {
		ref, ok := PatchRefFor(post)
		if !ok {
			continue
		}
		refs = append(refs, ref)
		refByPost[post.ID] = ref
	}

	have, err := s.store.HasPatchNotes(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve patch notes: %w", err)
	}

	flags := make(map[uuid.UUID]bool, len(refByPost))
	for postID, ref := range refByPost {
		flags[postID] = have[ref]
	}
	return flags, nil
}

// PatchRefFor maps a post to the entity its patch notes hang off: manual
// posts carry their own, synthesized posts point at the originating record.
func PatchRefFor(post *store.NewsPost) (store.PatchRef, bool) {
	switch post.Type {
	case store.PostTypeManual:
		return store.PatchRef{RefType: store.PatchRefNewsPost, RefID: post.ID}, true
	case store.PostTypeAutoWorkshop:
		if post.SourceID != nil {
			return store.PatchRef{RefType: store.PatchRefWorkshopUpdate, RefID: *post.SourceID}, true
		}
	case store.PostTypeAutoCollection:
		if post.SourceID != nil {
			return store.PatchRef{RefType: store.PatchRefCollectionUpdate, RefID: *post.SourceID}, true
		}
	case store.PostTypeAutoServer:
		if post.SourceID != nil {
			return store.PatchRef{RefType: store.PatchRefServer, RefID: *post.SourceID}, true
		}
	}
	return store.PatchRef{}, false
}

func toFeedPost(post *store.NewsPost, notes map[uuid.UUID]bool) FeedPost {
	return FeedPost{
		ID:            post.ID,
		Type:          post.Type,
		Title:         post.Title,
		Summary:       post.Summary,
		Body:          post.Body,
		Tags:          post.Tags,
		SourceType:    post.SourceType,
		SourceID:      post.SourceID,
		IsPinned:      post.IsPinned,
		PublishedAt:   post.PublishedAt,
		HasPatchNotes: notes[post.ID],
	}
}
