package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachymba/hub/internal/api"
	"github.com/breachymba/hub/internal/auth"
	"github.com/breachymba/hub/internal/service"
	"github.com/breachymba/hub/internal/store"
)

const (
	testBotToken   = "12345:test-bot-token"
	testJWTSecret  = "test-session-secret"
	adminTelegram  = "777000"
	memberTelegram = "555000"
)

// fakeStore is an in-memory stand-in for the persistence layer.
type fakeStore struct {
	posts             map[uuid.UUID]*store.NewsPost
	patchNotes        map[uuid.UUID]*store.PatchNote
	items             map[uuid.UUID]*store.WorkshopItem
	collections       map[uuid.UUID]*store.Collection
	servers           map[uuid.UUID]*store.Server
	snapshots         map[uuid.UUID][]*store.ServerSnapshot
	workshopUpdates   map[uuid.UUID][]*store.WorkshopUpdate
	collectionUpdates map[uuid.UUID][]*store.CollectionUpdate
	users             map[string]*store.User

	err error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:             map[uuid.UUID]*store.NewsPost{},
		patchNotes:        map[uuid.UUID]*store.PatchNote{},
		items:             map[uuid.UUID]*store.WorkshopItem{},
		collections:       map[uuid.UUID]*store.Collection{},
		servers:           map[uuid.UUID]*store.Server{},
		snapshots:         map[uuid.UUID][]*store.ServerSnapshot{},
		workshopUpdates:   map[uuid.UUID][]*store.WorkshopUpdate{},
		collectionUpdates: map[uuid.UUID][]*store.CollectionUpdate{},
		users:             map[string]*store.User{},
	}
}

func (f *fakeStore) GetPost(_ context.Context, id uuid.UUID) (*store.NewsPost, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPosts(_ context.Context, limit, offset int) ([]*store.NewsPost, error) {
	if f.err != nil {
		return nil, f.err
	}
	all := make([]*store.NewsPost, 0, len(f.posts))
	for _, p := range f.posts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeStore) CreatePost(_ context.Context, p store.NewsPostParams) (*store.NewsPost, error) {
	if f.err != nil {
		return nil, f.err
	}
	post := &store.NewsPost{
		ID:          uuid.New(),
		Type:        p.Type,
		Title:       p.Title,
		Summary:     p.Summary,
		Body:        p.Body,
		Tags:        p.Tags,
		SourceType:  p.SourceType,
		SourceID:    p.SourceID,
		IsPinned:    p.IsPinned,
		IsHidden:    p.IsHidden,
		PublishedAt: p.PublishedAt,
	}
	f.posts[post.ID] = post
	return post, nil
}

func (f *fakeStore) UpdatePost(ctx context.Context, id uuid.UUID, p store.NewsPostParams) (*store.NewsPost, error) {
	post, err := f.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	post.Type = p.Type
	post.Title = p.Title
	post.Summary = p.Summary
	post.Body = p.Body
	post.Tags = p.Tags
	post.SourceType = p.SourceType
	post.SourceID = p.SourceID
	post.IsPinned = p.IsPinned
	post.IsHidden = p.IsHidden
	post.PublishedAt = p.PublishedAt
	return post, nil
}

func (f *fakeStore) DeletePost(_ context.Context, id uuid.UUID) error {
	if _, ok := f.posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.posts, id)
	return nil
}

func (f *fakeStore) ListWorkshopItems(_ context.Context) ([]*store.WorkshopItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*store.WorkshopItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeStore) GetWorkshopItem(_ context.Context, id uuid.UUID) (*store.WorkshopItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) GetWorkshopItemByFileID(_ context.Context, fileID string) (*store.WorkshopItem, error) {
	for _, item := range f.items {
		if item.WorkshopFileID == fileID {
			return item, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateWorkshopItem(_ context.Context, fileID, title string) (*store.WorkshopItem, error) {
	item := &store.WorkshopItem{ID: uuid.New(), WorkshopFileID: fileID, Title: title}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateWorkshopItem(ctx context.Context, id uuid.UUID, fileID, title string) (*store.WorkshopItem, error) {
	item, err := f.GetWorkshopItem(ctx, id)
	if err != nil {
		return nil, err
	}
	item.WorkshopFileID = fileID
	item.Title = title
	return item, nil
}

func (f *fakeStore) DeleteWorkshopItem(_ context.Context, id uuid.UUID) error {
	if _, ok := f.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeStore) ListWorkshopUpdates(_ context.Context, itemID uuid.UUID, _ int) ([]*store.WorkshopUpdate, error) {
	return f.workshopUpdates[itemID], nil
}

func (f *fakeStore) ListCollections(_ context.Context) ([]*store.Collection, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*store.Collection, 0, len(f.collections))
	for _, c := range f.collections {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) GetCollection(_ context.Context, id uuid.UUID) (*store.Collection, error) {
	c, ok := f.collections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetCollectionByExternalID(_ context.Context, collectionID string) (*store.Collection, error) {
	for _, c := range f.collections {
		if c.CollectionID == collectionID {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateCollection(_ context.Context, collectionID, title string) (*store.Collection, error) {
	c := &store.Collection{ID: uuid.New(), CollectionID: collectionID, Title: title}
	f.collections[c.ID] = c
	return c, nil
}

func (f *fakeStore) UpdateCollection(ctx context.Context, id uuid.UUID, collectionID, title string) (*store.Collection, error) {
	c, err := f.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	c.CollectionID = collectionID
	c.Title = title
	return c, nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, id uuid.UUID) error {
	if _, ok := f.collections[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.collections, id)
	return nil
}

func (f *fakeStore) ListCollectionUpdates(_ context.Context, collectionID uuid.UUID, _ int) ([]*store.CollectionUpdate, error) {
	return f.collectionUpdates[collectionID], nil
}

func (f *fakeStore) GetServer(_ context.Context, id uuid.UUID) (*store.Server, error) {
	srv, ok := f.servers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return srv, nil
}

func (f *fakeStore) CreateServer(_ context.Context, p store.ServerParams) (*store.Server, error) {
	srv := &store.Server{
		ID:        uuid.New(),
		Title:     p.Title,
		IP:        p.IP,
		Port:      p.Port,
		Tags:      p.Tags,
		SortOrder: p.SortOrder,
		IsEnabled: p.IsEnabled,
	}
	f.servers[srv.ID] = srv
	return srv, nil
}

func (f *fakeStore) UpdateServer(ctx context.Context, id uuid.UUID, p store.ServerParams) (*store.Server, error) {
	srv, err := f.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	srv.Title = p.Title
	srv.IP = p.IP
	srv.Port = p.Port
	srv.Tags = p.Tags
	srv.SortOrder = p.SortOrder
	srv.IsEnabled = p.IsEnabled
	return srv, nil
}

func (f *fakeStore) DeleteServer(_ context.Context, id uuid.UUID) error {
	if _, ok := f.servers[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.servers, id)
	return nil
}

func (f *fakeStore) RecentSnapshots(_ context.Context, serverID uuid.UUID, _ int) ([]*store.ServerSnapshot, error) {
	return f.snapshots[serverID], nil
}

func (f *fakeStore) CreatePatchNote(_ context.Context, p store.PatchNoteParams) (*store.PatchNote, error) {
	note := &store.PatchNote{
		ID:       uuid.New(),
		Title:    p.Title,
		Markdown: p.Markdown,
		RefType:  p.RefType,
		RefID:    p.RefID,
	}
	f.patchNotes[note.ID] = note
	return note, nil
}

func (f *fakeStore) GetPatchNote(_ context.Context, id uuid.UUID) (*store.PatchNote, error) {
	note, ok := f.patchNotes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return note, nil
}

func (f *fakeStore) UpdatePatchNote(ctx context.Context, id uuid.UUID, p store.PatchNoteParams) (*store.PatchNote, error) {
	note, err := f.GetPatchNote(ctx, id)
	if err != nil {
		return nil, err
	}
	note.Title = p.Title
	note.Markdown = p.Markdown
	note.RefType = p.RefType
	note.RefID = p.RefID
	return note, nil
}

func (f *fakeStore) DeletePatchNote(_ context.Context, id uuid.UUID) error {
	if _, ok := f.patchNotes[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.patchNotes, id)
	return nil
}

func (f *fakeStore) ListPatchNotesByRef(_ context.Context, ref store.PatchRef) ([]*store.PatchNote, error) {
	var out []*store.PatchNote
	for _, note := range f.patchNotes {
		if note.RefType == ref.RefType && note.RefID == ref.RefID {
			out = append(out, note)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertUser(_ context.Context, telegramID, username string) (*store.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[telegramID]; ok {
		u.Username = username
		return u, nil
	}
	u := &store.User{ID: uuid.New(), TelegramID: telegramID, Username: username}
	f.users[telegramID] = u
	return u, nil
}

func (f *fakeStore) GetUserByTelegramID(_ context.Context, telegramID string) (*store.User, error) {
	u, ok := f.users[telegramID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

// fakeFeed serves a canned page and counts invalidations.
type fakeFeed struct {
	resp          *service.FeedResponse
	invalidations int
}

func (f *fakeFeed) GetFeed(_ context.Context, filter string, page, limit int) (*service.FeedResponse, error) {
	if filter != "" && filter != service.FilterAll && filter != service.FilterManual {
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownFilter, filter)
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &service.FeedResponse{Pinned: []service.FeedPost{}, Items: []service.FeedPost{}, Page: page, Limit: limit}, nil
}

func (f *fakeFeed) Invalidate() {
	f.invalidations++
}

// fakeStatus serves a canned status listing.
type fakeStatus struct {
	statuses []service.ServerStatus
	err      error
}

func (f *fakeStatus) ListStatus(_ context.Context) ([]service.ServerStatus, error) {
	return f.statuses, f.err
}

type testEnv struct {
	store    *fakeStore
	feed     *fakeFeed
	status   *fakeStatus
	sessions *auth.Sessions
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    newFakeStore(),
		feed:     &fakeFeed{},
		status:   &fakeStatus{},
		sessions: auth.NewSessions(testJWTSecret),
	}
	routes := api.NewRoutes(
		env.store,
		env.feed,
		env.status,
		auth.NewVerifier(testBotToken),
		env.sessions,
		func(telegramID string) bool { return telegramID == adminTelegram },
	)
	env.router = api.NewServer(routes)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/version", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var version map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.NotEmpty(t, version["version"])
	assert.NotEmpty(t, version["go_version"])
}

func TestGetFeed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.feed.resp = &service.FeedResponse{
		Pinned: []service.FeedPost{},
		Items:  []service.FeedPost{{ID: uuid.New(), Type: store.PostTypeManual, Title: "Launch day"}},
		Page:   1,
		Limit:  20,
		Total:  1,
	}

	rec := env.do(t, http.MethodGet, "/api/feed?page=1&limit=20", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp service.FeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Launch day", resp.Items[0].Title)
	assert.Equal(t, 1, resp.Total)
}

func TestGetFeed_UnknownFilter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/feed?filter=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNewsPost(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	post, err := env.store.CreatePost(context.Background(), store.NewsPostParams{
		Type:  store.PostTypeManual,
		Title: "Patch 1.3",
	})
	require.NoError(t, err)
	note, err := env.store.CreatePatchNote(context.Background(), store.PatchNoteParams{
		Title:   "Balance changes",
		RefType: store.PatchRefNewsPost,
		RefID:   post.ID,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/news/"+post.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID         uuid.UUID `json:"id"`
		Title      string    `json:"title"`
		PatchNotes []struct {
			ID    uuid.UUID `json:"id"`
			Title string    `json:"title"`
		} `json:"patchNotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, post.ID, resp.ID)
	require.Len(t, resp.PatchNotes, 1)
	assert.Equal(t, note.ID, resp.PatchNotes[0].ID)
	assert.Equal(t, "Balance changes", resp.PatchNotes[0].Title)
}

func TestGetNewsPost_SynthesizedPostNotes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Notes for a synthesized post hang off the workshop update record, not
	// the post itself. The detail view must follow that ref.
	updateID := uuid.New()
	sourceType := store.SourceTypeWorkshop
	post, err := env.store.CreatePost(context.Background(), store.NewsPostParams{
		Type:       store.PostTypeAutoWorkshop,
		Title:      "Addon updated: Nuke Pack",
		SourceType: &sourceType,
		SourceID:   &updateID,
	})
	require.NoError(t, err)
	note, err := env.store.CreatePatchNote(context.Background(), store.PatchNoteParams{
		Title:   "Fixed crash on round start",
		RefType: store.PatchRefWorkshopUpdate,
		RefID:   updateID,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/news/"+post.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PatchNotes []struct {
			ID uuid.UUID `json:"id"`
		} `json:"patchNotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.PatchNotes, 1)
	assert.Equal(t, note.ID, resp.PatchNotes[0].ID)
}

func TestGetNewsPost_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/news/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/news/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkshopRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	item, err := env.store.CreateWorkshopItem(context.Background(), "123456", "Better Maps")
	require.NoError(t, err)
	env.store.workshopUpdates[item.ID] = []*store.WorkshopUpdate{
		{ID: uuid.New(), WorkshopItemID: item.ID, DetectedAt: time.Now(), Change: []byte(`{"prev":{},"next":{}}`)},
	}

	rec := env.do(t, http.MethodGet, "/api/workshop", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "123456", items[0]["workshopFileId"])

	rec = env.do(t, http.MethodGet, "/api/workshop/"+item.ID.String()+"/updates", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var updates []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updates))
	require.Len(t, updates, 1)

	rec = env.do(t, http.MethodGet, "/api/workshop/"+uuid.NewString()+"/updates", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	srv, err := env.store.CreateServer(context.Background(), store.ServerParams{
		Title: "EU #1", IP: "198.51.100.7", Port: 27015, Tags: []string{"pvp"}, IsEnabled: true,
	})
	require.NoError(t, err)
	env.status.statuses = []service.ServerStatus{
		{ID: srv.ID, Title: srv.Title, IP: srv.IP, Port: srv.Port, IsOnline: true, Players: 12, MaxPlayers: 64},
	}
	env.store.snapshots[srv.ID] = []*store.ServerSnapshot{
		{ID: uuid.New(), ServerID: srv.ID, CheckedAt: time.Now(), IsOnline: true, Players: 12, MaxPlayers: 64},
	}

	rec := env.do(t, http.MethodGet, "/api/servers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []service.ServerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsOnline)

	rec = env.do(t, http.MethodGet, "/api/servers/"+srv.ID.String()+"/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)

	rec = env.do(t, http.MethodGet, "/api/servers/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
