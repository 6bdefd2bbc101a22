// Package posts synthesizes feed posts and change records from detected
// source changes. Everything here is a pure function; callers persist the
// results.
package posts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/breachymba/hub/internal/store"
)

const (
	workshopLinkFormat = "https://steamcommunity.com/sharedfiles/filedetails/?id=%s"

	// maxChangeLines caps how many change lines a post body lists.
	maxChangeLines = 3

	// isoMillis matches the wire format the frontend expects in post text.
	isoMillis = "2006-01-02T15:04:05.000Z"
)

var (
	workshopTags   = []string{"AUTO", "WORKSHOP", "UPDATE"}
	collectionTags = []string{"AUTO", "COLLECTION", "UPDATE"}
	serverTags     = []string{"AUTO", "SERVER", "STATUS"}
)

func isoTimestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// TitleChangeLine describes a title change.
func TitleChangeLine(oldTitle, newTitle string) string {
	return fmt.Sprintf("Title: %q -> %q", oldTitle, newTitle)
}

// ItemCountChangeLine describes a collection's current membership size.
func ItemCountChangeLine(count int) string {
	return fmt.Sprintf("Items: %d", count)
}

// UpdatedAtChangeLine describes the source's reported update time.
func UpdatedAtChangeLine(t time.Time) string {
	return fmt.Sprintf("Updated at %s", isoTimestamp(t))
}

// ChangeRecord is the serialized before/after diff stored with each recorded
// update. Meta carries the raw upstream payload.
type ChangeRecord struct {
	Prev ChangeState     `json:"prev"`
	Next ChangeState     `json:"next"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// ChangeState is one side of a diff. Items is the collection's member count
// and stays unset for workshop records.
type ChangeState struct {
	Title     string     `json:"title"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Items     *int       `json:"items,omitempty"`
}

// Marshal serializes the change record for jsonb storage.
func (c *ChangeRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change record: %w", err)
	}
	return data, nil
}

// BuildWorkshopPost builds the post announcing a workshop item update.
func BuildWorkshopPost(title, workshopFileID string, detectedAt time.Time, changeLines []string) store.PostDraft {
	return store.PostDraft{
		Type:    store.PostTypeAutoWorkshop,
		Title:   "Addon updated: " + title,
		Summary: fmt.Sprintf("Detected update at %s. Tap for details.", isoTimestamp(detectedAt)),
		Body:    buildBody(changeLines, fmt.Sprintf(workshopLinkFormat, workshopFileID)),
		Tags:    workshopTags,
	}
}

// BuildCollectionPost builds the post announcing a collection change.
func BuildCollectionPost(title, collectionID string, detectedAt time.Time, changeLines []string) store.PostDraft {
	return store.PostDraft{
		Type:    store.PostTypeAutoCollection,
		Title:   "Collection changed: " + title,
		Summary: fmt.Sprintf("Detected update at %s. Tap for details.", isoTimestamp(detectedAt)),
		Body:    buildBody(changeLines, fmt.Sprintf(workshopLinkFormat, collectionID)),
		Tags:    collectionTags,
	}
}

// BuildServerStatusPost builds the post announcing a server status
// transition, e.g. status "back online".
func BuildServerStatusPost(title, status string, detectedAt time.Time) store.PostDraft {
	return store.PostDraft{
		Type:    store.PostTypeAutoServer,
		Title:   fmt.Sprintf("Server %s: %s", status, title),
		Summary: fmt.Sprintf("Detected status change at %s.", isoTimestamp(detectedAt)),
		Body:    fmt.Sprintf("Status update: %s.", status),
		Tags:    serverTags,
	}
}

func buildBody(lines []string, link string) string {
	if len(lines) > maxChangeLines {
		lines = lines[:maxChangeLines]
	}
	section := "Key changes: (not provided)"
	if len(lines) > 0 {
		section = "Key changes:"
		for _, line := range lines {
			section += "\n- " + line
		}
	}
	return section + "\n\nLink: " + link
}
