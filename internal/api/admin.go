package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/store"
)

// newsPostRequest is the admin payload for creating or replacing a post.
type newsPostRequest struct {
	Type        store.PostType `json:"type"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	Body        string         `json:"body"`
	Tags        []string       `json:"tags"`
	IsPinned    bool           `json:"isPinned"`
	IsHidden    bool           `json:"isHidden"`
	PublishedAt *time.Time     `json:"publishedAt"`
}

func (req *newsPostRequest) validate() string {
	if req.Title == "" {
		return "title is required"
	}
	switch req.Type {
	case "", store.PostTypeManual:
	default:
		return "type must be MANUAL for authored posts"
	}
	return ""
}

func (req *newsPostRequest) params() store.NewsPostParams {
	return store.NewsPostParams{
		Type:        store.PostTypeManual,
		Title:       req.Title,
		Summary:     req.Summary,
		Body:        req.Body,
		Tags:        req.Tags,
		IsPinned:    req.IsPinned,
		IsHidden:    req.IsHidden,
		PublishedAt: req.PublishedAt,
	}
}

const (
	defaultAdminPageSize = 20
	maxAdminPageSize     = 100
)

// listNewsPosts handles GET /api/admin/news. Unlike the public feed it
// includes hidden and unpublished posts.
func (rr *Routes) listNewsPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defaultAdminPageSize
	}
	if limit > maxAdminPageSize {
		limit = maxAdminPageSize
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	posts, err := rr.store.ListPosts(r.Context(), limit, offset)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to list news posts")
		return
	}

	out := make([]newsPostResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toNewsPost(p))
	}
	rr.writeJSONResponse(w, out)
}

// createNewsPost handles POST /api/admin/news
func (rr *Routes) createNewsPost(w http.ResponseWriter, r *http.Request) {
	var req newsPostRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		rr.writeErrorResponse(w, msg, http.StatusBadRequest)
		return
	}

	post, err := rr.store.CreatePost(r.Context(), req.params())
	if err != nil {
		rr.writeStoreError(w, err, "Failed to create news post")
		return
	}

	rr.feed.Invalidate()
	rr.writeJSONResponse(w, toNewsPost(post))
}

// updateNewsPost handles PUT /api/admin/news/{id}
func (rr *Routes) updateNewsPost(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req newsPostRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		rr.writeErrorResponse(w, msg, http.StatusBadRequest)
		return
	}

	// Synthesized posts keep their type and source link. The update only
	// touches authored fields.
	current, err := rr.store.GetPost(r.Context(), id)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to update news post")
		return
	}
	params := req.params()
	params.Type = current.Type
	params.SourceType = current.SourceType
	params.SourceID = current.SourceID

	post, err := rr.store.UpdatePost(r.Context(), id, params)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to update news post")
		return
	}

	rr.feed.Invalidate()
	rr.writeJSONResponse(w, toNewsPost(post))
}

// deleteNewsPost handles DELETE /api/admin/news/{id}
func (rr *Routes) deleteNewsPost(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.store.DeletePost(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to delete news post")
		return
	}
	rr.feed.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// workshopItemRequest is the admin payload for a tracked workshop addon.
type workshopItemRequest struct {
	WorkshopFileID string `json:"workshopFileId"`
	Title          string `json:"title"`
}

// createWorkshopItem handles POST /api/admin/workshop
func (rr *Routes) createWorkshopItem(w http.ResponseWriter, r *http.Request) {
	var req workshopItemRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if req.WorkshopFileID == "" {
		rr.writeErrorResponse(w, "workshopFileId is required", http.StatusBadRequest)
		return
	}

	if _, err := rr.store.GetWorkshopItemByFileID(r.Context(), req.WorkshopFileID); err == nil {
		rr.writeErrorResponse(w, "workshopFileId is already tracked", http.StatusConflict)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		rr.writeStoreError(w, err, "Failed to create workshop item")
		return
	}

	item, err := rr.store.CreateWorkshopItem(r.Context(), req.WorkshopFileID, req.Title)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to create workshop item")
		return
	}
	rr.writeJSONResponse(w, toWorkshopItem(item))
}

// updateWorkshopItem handles PUT /api/admin/workshop/{id}
func (rr *Routes) updateWorkshopItem(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req workshopItemRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if req.WorkshopFileID == "" {
		rr.writeErrorResponse(w, "workshopFileId is required", http.StatusBadRequest)
		return
	}

	item, err := rr.store.UpdateWorkshopItem(r.Context(), id, req.WorkshopFileID, req.Title)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to update workshop item")
		return
	}
	rr.writeJSONResponse(w, toWorkshopItem(item))
}

// deleteWorkshopItem handles DELETE /api/admin/workshop/{id}
func (rr *Routes) deleteWorkshopItem(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.store.DeleteWorkshopItem(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to delete workshop item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// collectionRequest is the admin payload for a tracked collection.
type collectionRequest struct {
	CollectionID string `json:"collectionId"`
	Title        string `json:"title"`
}

// createCollection handles POST /api/admin/collections
func (rr *Routes) createCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if req.CollectionID == "" {
		rr.writeErrorResponse(w, "collectionId is required", http.StatusBadRequest)
		return
	}

	if _, err := rr.store.GetCollectionByExternalID(r.Context(), req.CollectionID); err == nil {
		rr.writeErrorResponse(w, "collectionId is already tracked", http.StatusConflict)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		rr.writeStoreError(w, err, "Failed to create collection")
		return
	}

	col, err := rr.store.CreateCollection(r.Context(), req.CollectionID, req.Title)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to create collection")
		return
	}
	rr.writeJSONResponse(w, toCollection(col))
}

// updateCollection handles PUT /api/admin/collections/{id}
func (rr *Routes) updateCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req collectionRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if req.CollectionID == "" {
		rr.writeErrorResponse(w, "collectionId is required", http.StatusBadRequest)
		return
	}

	col, err := rr.store.UpdateCollection(r.Context(), id, req.CollectionID, req.Title)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to update collection")
		return
	}
	rr.writeJSONResponse(w, toCollection(col))
}

// deleteCollection handles DELETE /api/admin/collections/{id}
func (rr *Routes) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.store.DeleteCollection(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to delete collection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serverRequest is the admin payload for a monitored game server.
type serverRequest struct {
	Title     string   `json:"title"`
	IP        string   `json:"ip"`
	Port      int      `json:"port"`
	Tags      []string `json:"tags"`
	SortOrder int      `json:"sortOrder"`
	IsEnabled bool     `json:"isEnabled"`
}

func (req *serverRequest) validate() string {
	if req.Title == "" {
		return "title is required"
	}
	if req.IP == "" {
		return "ip is required"
	}
	if req.Port < 1 || req.Port > 65535 {
		return "port must be between 1 and 65535"
	}
	return ""
}

func (req *serverRequest) params() store.ServerParams {
	return store.ServerParams{
		Title:     req.Title,
		IP:        req.IP,
		Port:      req.Port,
		Tags:      req.Tags,
		SortOrder: req.SortOrder,
		IsEnabled: req.IsEnabled,
	}
}

// createServer handles POST /api/admin/servers
func (rr *Routes) createServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		rr.writeErrorResponse(w, msg, http.StatusBadRequest)
		return
	}

	srv, err := rr.store.CreateServer(r.Context(), req.params())
	if err != nil {
		rr.writeStoreError(w, err, "Failed to create server")
		return
	}
	rr.writeJSONResponse(w, toServer(srv))
}

// updateServer handles PUT /api/admin/servers/{id}
func (rr *Routes) updateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req serverRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		rr.writeErrorResponse(w, msg, http.StatusBadRequest)
		return
	}

	srv, err := rr.store.UpdateServer(r.Context(), id, req.params())
	if err != nil {
		rr.writeStoreError(w, err, "Failed to update server")
		return
	}
	rr.writeJSONResponse(w, toServer(srv))
}

// deleteServer handles DELETE /api/admin/servers/{id}
func (rr *Routes) deleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.store.DeleteServer(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to delete server")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// patchNoteRequest is the admin payload for attaching commentary to an
// entity.
type patchNoteRequest struct {
	Title    string             `json:"title"`
	Markdown string             `json:"markdown"`
	RefType  store.PatchRefType `json:"refType"`
	RefID    uuid.UUID          `json:"refId"`
}

func (req *patchNoteRequest) validate() string {
	if req.Title == "" {
		return "title is required"
	}
	switch req.RefType {
	case store.PatchRefNewsPost, store.PatchRefWorkshopUpdate,
		store.PatchRefCollectionUpdate, store.PatchRefServer:
	default:
		return "refType is invalid"
	}
	if req.RefID == uuid.Nil {
		return "refId is required"
	}
	return ""
}

func (req *patchNoteRequest) params() store.PatchNoteParams {
	return store.PatchNoteParams{
		Title:    req.Title,
		Markdown: req.Markdown,
		RefType:  req.RefType,
		RefID:    req.RefID,
	}
}

// createPatchNote handles POST /api/admin/patch-notes
func (rr *Routes) createPatchNote(w http.ResponseWriter, r *http.Request) {
	var req patchNoteRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		rr.writeErrorResponse(w, msg, http.StatusBadRequest)
		return
	}

	note, err := rr.store.CreatePatchNote(r.Context(), req.params())
	if err != nil {
		rr.writeStoreError(w, err, "Failed to create patch note")
		return
	}
	rr.feed.Invalidate()
	rr.writeJSONResponse(w, toPatchNote(note))
}

// getPatchNote handles GET /api/admin/patch-notes/{id}
func (rr *Routes) getPatchNote(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	note, err := rr.store.GetPatchNote(r.Context(), id)
	if err != nil {
		rr.writeStoreError(w, err, "Failed to get patch note")
		return
	}
	rr.writeJSONResponse(w, toPatchNote(note))
}

// updatePatchNote handles PUT /api/admin/patch-notes/{id}
func (rr *Routes) updatePatchNote(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req patchNoteRequest
	if !rr.decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		rr.writeErrorResponse(w, msg, http.StatusBadRequest)
		return
	}

	note, err := rr.store.UpdatePatchNote(r.Context(), id, req.params())
	if err != nil {
		rr.writeStoreError(w, err, "Failed to update patch note")
		return
	}
	rr.feed.Invalidate()
	rr.writeJSONResponse(w, toPatchNote(note))
}

// deletePatchNote handles DELETE /api/admin/patch-notes/{id}
func (rr *Routes) deletePatchNote(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.store.DeletePatchNote(r.Context(), id); err != nil {
		rr.writeStoreError(w, err, "Failed to delete patch note")
		return
	}
	rr.feed.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON request body, writing a 400 on malformed input.
func (rr *Routes) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
