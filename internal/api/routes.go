package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/auth"
	"github.com/breachymba/hub/internal/service"
	"github.com/breachymba/hub/internal/store"
	"github.com/breachymba/hub/internal/versions"
)

const historyLimit = 50

// Store is the persistence surface the API handlers read from and write to.
type Store interface {
	GetPost(ctx context.Context, id uuid.UUID) (*store.NewsPost, error)
	ListPosts(ctx context.Context, limit, offset int) ([]*store.NewsPost, error)
	CreatePost(ctx context.Context, p store.NewsPostParams) (*store.NewsPost, error)
	UpdatePost(ctx context.Context, id uuid.UUID, p store.NewsPostParams) (*store.NewsPost, error)
	DeletePost(ctx context.Context, id uuid.UUID) error

	ListWorkshopItems(ctx context.Context) ([]*store.WorkshopItem, error)
	GetWorkshopItem(ctx context.Context, id uuid.UUID) (*store.WorkshopItem, error)
	GetWorkshopItemByFileID(ctx context.Context, fileID string) (*store.WorkshopItem, error)
	CreateWorkshopItem(ctx context.Context, fileID, title string) (*store.WorkshopItem, error)
	UpdateWorkshopItem(ctx context.Context, id uuid.UUID, fileID, title string) (*store.WorkshopItem, error)
	DeleteWorkshopItem(ctx context.Context, id uuid.UUID) error
	ListWorkshopUpdates(ctx context.Context, itemID uuid.UUID, limit int) ([]*store.WorkshopUpdate, error)

	ListCollections(ctx context.Context) ([]*store.Collection, error)
	GetCollection(ctx context.Context, id uuid.UUID) (*store.Collection, error)
	GetCollectionByExternalID(ctx context.Context, collectionID string) (*store.Collection, error)
	CreateCollection(ctx context.Context, collectionID, title string) (*store.Collection, error)
	UpdateCollection(ctx context.Context, id uuid.UUID, collectionID, title string) (*store.Collection, error)
	DeleteCollection(ctx context.Context, id uuid.UUID) error
	ListCollectionUpdates(ctx context.Context, collectionID uuid.UUID, limit int) ([]*store.CollectionUpdate, error)

	GetServer(ctx context.Context, id uuid.UUID) (*store.Server, error)
	CreateServer(ctx context.Context, p store.ServerParams) (*store.Server, error)
	UpdateServer(ctx context.Context, id uuid.UUID, p store.ServerParams) (*store.Server, error)
	DeleteServer(ctx context.Context, id uuid.UUID) error
	RecentSnapshots(ctx context.Context, serverID uuid.UUID, limit int) ([]*store.ServerSnapshot, error)

	CreatePatchNote(ctx context.Context, p store.PatchNoteParams) (*store.PatchNote, error)
	GetPatchNote(ctx context.Context, id uuid.UUID) (*store.PatchNote, error)
	UpdatePatchNote(ctx context.Context, id uuid.UUID, p store.PatchNoteParams) (*store.PatchNote, error)
	DeletePatchNote(ctx context.Context, id uuid.UUID) error
	ListPatchNotesByRef(ctx context.Context, ref store.PatchRef) ([]*store.PatchNote, error)

	UpsertUser(ctx context.Context, telegramID, username string) (*store.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID string) (*store.User, error)
}

// FeedService serves cached feed pages.
type FeedService interface {
	GetFeed(ctx context.Context, filter string, page, limit int) (*service.FeedResponse, error)
	Invalidate()
}

// StatusService serves the merged server status listing.
type StatusService interface {
	ListStatus(ctx context.Context) ([]service.ServerStatus, error)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the hub API with dependency injection
type Routes struct {
	store    Store
	feed     FeedService
	status   StatusService
	verifier *auth.Verifier
	sessions *auth.Sessions
	isAdmin  func(telegramID string) bool
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(
	st Store,
	feed FeedService,
	status StatusService,
	verifier *auth.Verifier,
	sessions *auth.Sessions,
	isAdmin func(telegramID string) bool,
) *Routes {
	return &Routes{
		store:    st,
		feed:     feed,
		status:   status,
		verifier: verifier,
		sessions: sessions,
		isAdmin:  isAdmin,
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	response := map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// getFeed handles GET /api/feed
func (rr *Routes) getFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	resp, err := rr.feed.GetFeed(r.Context(), q.Get("filter"), page, limit)
	if err != nil {
		if errors.Is(err, service.ErrUnknownFilter) {
			rr.writeErrorResponse(w, "Unknown feed filter", http.StatusBadRequest)
			return
		}
		slog.Error("Failed to assemble feed", "error", err)
		rr.writeErrorResponse(w, "Failed to get feed", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, resp)
}

// getNewsPost handles GET /api/news/{id}
func (rr *Routes) getNewsPost(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	post, err := rr.store.GetPost(r.Context(), id)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to get news post")
		return
	}

	// Synthesized posts attach their patch notes to the originating record,
	// not the post row. Resolve the ref the same way the feed does so the
	// detail view agrees with hasPatchNotes.
	var notes []*store.PatchNote
	if ref, ok := service.PatchRefFor(post); ok {
		notes, err = rr.store.ListPatchNotesByRef(r.Context(), ref)
		if err != nil {
			slog.Error("Failed to list patch notes", "post_id", post.ID, "error", err)
			rr.writeErrorResponse(w, "Failed to get news post", http.StatusInternalServerError)
			return
		}
	}

	rr.writeJSONResponse(w, toNewsPostDetail(post, notes))
}

// listWorkshopItems handles GET /api/workshop
func (rr *Routes) listWorkshopItems(w http.ResponseWriter, r *http.Request) {
	items, err := rr.store.ListWorkshopItems(r.Context())
	if err != nil {
		slog.Error("Failed to list workshop items", "error", err)
		rr.writeErrorResponse(w, "Failed to list workshop items", http.StatusInternalServerError)
		return
	}

	out := make([]workshopItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toWorkshopItem(item))
	}
	rr.writeJSONResponse(w, out)
}

// getWorkshopItem handles GET /api/workshop/{id}
func (rr *Routes) getWorkshopItem(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	item, err := rr.store.GetWorkshopItem(r.Context(), id)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to get workshop item")
		return
	}
	rr.writeJSONResponse(w, toWorkshopItem(item))
}

// listWorkshopItemUpdates handles GET /api/workshop/{id}/updates
func (rr *Routes) listWorkshopItemUpdates(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	if _, err := rr.store.GetWorkshopItem(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to get workshop item")
		return
	}

	updates, err := rr.store.ListWorkshopUpdates(r.Context(), id, historyLimit)
	if err != nil {
		slog.Error("Failed to list workshop updates", "item_id", id, "error", err)
		rr.writeErrorResponse(w, "Failed to list workshop updates", http.StatusInternalServerError)
		return
	}

	out := make([]updateResponse, 0, len(updates))
	for _, u := range updates {
		out = append(out, updateResponse{
			ID:         u.ID,
			DetectedAt: u.DetectedAt,
			Change:     json.RawMessage(u.Change),
		})
	}
	rr.writeJSONResponse(w, out)
}

// listCollections handles GET /api/collections
func (rr *Routes) listCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := rr.store.ListCollections(r.Context())
	if err != nil {
		slog.Error("Failed to list collections", "error", err)
		rr.writeErrorResponse(w, "Failed to list collections", http.StatusInternalServerError)
		return
	}

	out := make([]collectionResponse, 0, len(cols))
	for _, c := range cols {
		out = append(out, toCollection(c))
	}
	rr.writeJSONResponse(w, out)
}

// getCollection handles GET /api/collections/{id}
func (rr *Routes) getCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	col, err := rr.store.GetCollection(r.Context(), id)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to get collection")
		return
	}
	rr.writeJSONResponse(w, toCollection(col))
}

// listCollectionUpdates handles GET /api/collections/{id}/updates
func (rr *Routes) listCollectionUpdates(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	if _, err := rr.store.GetCollection(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to get collection")
		return
	}

	updates, err := rr.store.ListCollectionUpdates(r.Context(), id, historyLimit)
	if err != nil {
		slog.Error("Failed to list collection updates", "collection_id", id, "error", err)
		rr.writeErrorResponse(w, "Failed to list collection updates", http.StatusInternalServerError)
		return
	}

	out := make([]updateResponse, 0, len(updates))
	for _, u := range updates {
		out = append(out, updateResponse{
			ID:         u.ID,
			DetectedAt: u.DetectedAt,
			Change:     json.RawMessage(u.Change),
		})
	}
	rr.writeJSONResponse(w, out)
}

// listServerStatus handles GET /api/servers
func (rr *Routes) listServerStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := rr.status.ListStatus(r.Context())
	if err != nil {
		slog.Error("Failed to list server status", "error", err)
		rr.writeErrorResponse(w, "Failed to list servers", http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, statuses)
}

// getServer handles GET /api/servers/{id}
func (rr *Routes) getServer(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	srv, err := rr.store.GetServer(r.Context(), id)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to get server")
		return
	}
	rr.writeJSONResponse(w, toServer(srv))
}

// listServerHistory handles GET /api/servers/{id}/history
func (rr *Routes) listServerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}

	if _, err := rr.store.GetServer(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to get server")
		return
	}

	snaps, err := rr.store.RecentSnapshots(r.Context(), id, historyLimit)
	if err != nil {
		slog.Error("Failed to list server history", "server_id", id, "error", err)
		rr.writeErrorResponse(w, "Failed to list server history", http.StatusInternalServerError)
		return
	}

	out := make([]snapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toSnapshot(snap))
	}
	rr.writeJSONResponse(w, out)
}

// pathID parses the {id} path parameter, writing a 400 on malformed input.
func (rr *Routes) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rr.writeErrorResponse(w, "Invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps store lookup failures onto HTTP status codes.
func (rr *Routes) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		rr.writeErrorResponse(w, "Not found", http.StatusNotFound)
		return
	}
	slog.Error(message, "error", err)
	rr.writeErrorResponse(w, message, http.StatusInternalServerError)
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
