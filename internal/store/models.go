package store

import (
	"time"

	"github.com/google/uuid"
)

// PostType classifies a feed post by how it was authored.
type PostType string

const (
	PostTypeManual         PostType = "MANUAL"
	PostTypeAutoWorkshop   PostType = "AUTO_WORKSHOP"
	PostTypeAutoCollection PostType = "AUTO_COLLECTION"
	PostTypeAutoServer     PostType = "AUTO_SERVER"
)

// SourceType identifies which tracked entity a synthesized post refers to.
type SourceType string

const (
	SourceTypeWorkshop   SourceType = "WORKSHOP"
	SourceTypeCollection SourceType = "COLLECTION"
	SourceTypeServer     SourceType = "SERVER"
)

// PatchRefType identifies what a patch note annotates.
type PatchRefType string

const (
	PatchRefNewsPost         PatchRefType = "NEWS_POST"
	PatchRefWorkshopUpdate   PatchRefType = "WORKSHOP_UPDATE"
	PatchRefCollectionUpdate PatchRefType = "COLLECTION_UPDATE"
	PatchRefServer           PatchRefType = "SERVER"
)

// User is a Telegram-authenticated account. Admin status is derived from
// configuration, not stored.
type User struct {
	ID         uuid.UUID
	TelegramID string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WorkshopItem is a tracked workshop addon. LastUpdateAt mirrors the external
// update timestamp of the last applied change and gates staleness checks.
type WorkshopItem struct {
	ID             uuid.UUID
	WorkshopFileID string
	Title          string
	LastUpdateAt   *time.Time
	Meta           []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkshopUpdate is a recorded change for a workshop item. Change holds the
// serialized before/after diff.
type WorkshopUpdate struct {
	ID             uuid.UUID
	WorkshopItemID uuid.UUID
	DetectedAt     time.Time
	Change         []byte
}

// Collection is a tracked workshop collection.
type Collection struct {
	ID           uuid.UUID
	CollectionID string
	Title        string
	LastChangeAt *time.Time
	Meta         []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CollectionUpdate is a recorded change for a collection.
type CollectionUpdate struct {
	ID           uuid.UUID
	CollectionID uuid.UUID
	DetectedAt   time.Time
	Change       []byte
}

// Server is a tracked game server endpoint.
type Server struct {
	ID        uuid.UUID
	Title     string
	IP        string
	Port      int
	Tags      []string
	SortOrder int
	IsEnabled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServerSnapshot is one liveness probe result for a server.
type ServerSnapshot struct {
	ID         uuid.UUID
	ServerID   uuid.UUID
	CheckedAt  time.Time
	IsOnline   bool
	Players    int
	MaxPlayers int
	Map        *string
	PingMs     *int
	Raw        []byte
}

// NewsPost is a feed entry, either authored manually or synthesized from a
// detected change.
type NewsPost struct {
	ID          uuid.UUID
	Type        PostType
	Title       string
	Summary     string
	Body        string
	Tags        []string
	SourceType  *SourceType
	SourceID    *uuid.UUID
	IsPinned    bool
	IsHidden    bool
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PatchNote is structured commentary attached to a post, update, or server.
type PatchNote struct {
	ID        uuid.UUID
	Title     string
	Markdown  string
	RefType   PatchRefType
	RefID     uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PatchRef identifies the target of a patch note lookup.
type PatchRef struct {
	RefType PatchRefType
	RefID   uuid.UUID
}
