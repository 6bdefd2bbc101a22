package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/store"
)

// newsPostResponse is a news post as served to clients.
type newsPostResponse struct {
	ID          uuid.UUID         `json:"id"`
	Type        store.PostType    `json:"type"`
	Title       string            `json:"title"`
	Summary     string            `json:"summary"`
	Body        string            `json:"body"`
	Tags        []string          `json:"tags"`
	SourceType  *store.SourceType `json:"sourceType,omitempty"`
	SourceID    *uuid.UUID        `json:"sourceId,omitempty"`
	IsPinned    bool              `json:"isPinned"`
	IsHidden    bool              `json:"isHidden"`
	PublishedAt *time.Time        `json:"publishedAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// newsPostDetail adds the attached patch notes to a single-post response.
type newsPostDetail struct {
	newsPostResponse
	PatchNotes []patchNoteResponse `json:"patchNotes"`
}

type patchNoteResponse struct {
	ID        uuid.UUID          `json:"id"`
	Title     string             `json:"title"`
	Markdown  string             `json:"markdown"`
	RefType   store.PatchRefType `json:"refType"`
	RefID     uuid.UUID          `json:"refId"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type workshopItemResponse struct {
	ID             uuid.UUID  `json:"id"`
	WorkshopFileID string     `json:"workshopFileId"`
	Title          string     `json:"title"`
	LastUpdateAt   *time.Time `json:"lastUpdateAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type collectionResponse struct {
	ID           uuid.UUID  `json:"id"`
	CollectionID string     `json:"collectionId"`
	Title        string     `json:"title"`
	LastChangeAt *time.Time `json:"lastChangeAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type updateResponse struct {
	ID         uuid.UUID       `json:"id"`
	DetectedAt time.Time       `json:"detectedAt"`
	Change     json.RawMessage `json:"change"`
}

type serverResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	Tags      []string  `json:"tags"`
	SortOrder int       `json:"sortOrder"`
	IsEnabled bool      `json:"isEnabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type snapshotResponse struct {
	ID         uuid.UUID `json:"id"`
	CheckedAt  time.Time `json:"checkedAt"`
	IsOnline   bool      `json:"isOnline"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"maxPlayers"`
	Map        *string   `json:"map,omitempty"`
	PingMs     *int      `json:"pingMs,omitempty"`
}

type userResponse struct {
	ID         uuid.UUID `json:"id"`
	TelegramID string    `json:"telegramId"`
	Username   string    `json:"username"`
}

func toNewsPost(p *store.NewsPost) newsPostResponse {
	return newsPostResponse{
		ID:          p.ID,
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
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toNewsPostDetail(p *store.NewsPost, notes []*store.PatchNote) newsPostDetail {
	out := newsPostDetail{
		newsPostResponse: toNewsPost(p),
		PatchNotes:       make([]patchNoteResponse, 0, len(notes)),
	}
	for _, n := range notes {
		out.PatchNotes = append(out.PatchNotes, toPatchNote(n))
	}
	return out
}

func toPatchNote(n *store.PatchNote) patchNoteResponse {
	return patchNoteResponse{
		ID:        n.ID,
		Title:     n.Title,
		Markdown:  n.Markdown,
		RefType:   n.RefType,
		RefID:     n.RefID,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toWorkshopItem(item *store.WorkshopItem) workshopItemResponse {
	return workshopItemResponse{
		ID:             item.ID,
		WorkshopFileID: item.WorkshopFileID,
		Title:          item.Title,
		LastUpdateAt:   item.LastUpdateAt,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

func toCollection(c *store.Collection) collectionResponse {
	return collectionResponse{
		ID:           c.ID,
		CollectionID: c.CollectionID,
		Title:        c.Title,
		LastChangeAt: c.LastChangeAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toServer(s *store.Server) serverResponse {
	return serverResponse{
		ID:        s.ID,
		Title:     s.Title,
		IP:        s.IP,
		Port:      s.Port,
		Tags:      s.Tags,
		SortOrder: s.SortOrder,
		IsEnabled: s.IsEnabled,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toSnapshot(s *store.ServerSnapshot) snapshotResponse {
	return snapshotResponse{
		ID:         s.ID,
		CheckedAt:  s.CheckedAt,
		IsOnline:   s.IsOnline,
		Players:    s.Players,
		MaxPlayers: s.MaxPlayers,
		Map:        s.Map,
		PingMs:     s.PingMs,
	}
}

func toUser(u *store.User) userResponse {
	return userResponse{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
	}
}
