package posts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachymba/hub/internal/posts"
	"github.com/breachymba/hub/internal/store"
)

var detectedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestBuildWorkshopPost(t *testing.T) {
	t.Parallel()

	lines := []string{
		posts.TitleChangeLine("Old Guns", "Better Guns"),
		posts.UpdatedAtChangeLine(detectedAt),
	}
	draft := posts.BuildWorkshopPost("Better Guns", "1234567890", detectedAt, lines)

	assert.Equal(t, store.PostTypeAutoWorkshop, draft.Type)
	assert.Equal(t, "Addon updated: Better Guns", draft.Title)
	assert.Equal(t, "Detected update at 2026-03-14T09:26:53.000Z. Tap for details.", draft.Summary)
	assert.Equal(t, "Key changes:\n"+
		"- Title: \"Old Guns\" -> \"Better Guns\"\n"+
		"- Updated at 2026-03-14T09:26:53.000Z\n"+
		"\n"+
		"Link: https://steamcommunity.com/sharedfiles/filedetails/?id=1234567890", draft.Body)
	assert.Equal(t, []string{"AUTO", "WORKSHOP", "UPDATE"}, draft.Tags)
}

func TestBuildWorkshopPost_CapsChangeLines(t *testing.T) {
	t.Parallel()

	lines := []string{"one", "two", "three", "four", "five"}
	draft := posts.BuildWorkshopPost("X", "1", detectedAt, lines)

	assert.Contains(t, draft.Body, "- three")
	assert.NotContains(t, draft.Body, "- four")
}

func TestBuildWorkshopPost_NoChangeLines(t *testing.T) {
	t.Parallel()

	draft := posts.BuildWorkshopPost("X", "1", detectedAt, nil)
	assert.Equal(t, "Key changes: (not provided)\n\nLink: https://steamcommunity.com/sharedfiles/filedetails/?id=1", draft.Body)
}

func TestBuildCollectionPost(t *testing.T) {
	t.Parallel()

	lines := []string{posts.ItemCountChangeLine(12)}
	draft := posts.BuildCollectionPost("Official Pack", "9988776655", detectedAt, lines)

	assert.Equal(t, store.PostTypeAutoCollection, draft.Type)
	assert.Equal(t, "Collection changed: Official Pack", draft.Title)
	assert.Contains(t, draft.Body, "- Items: 12")
	assert.Contains(t, draft.Body, "?id=9988776655")
	assert.Equal(t, []string{"AUTO", "COLLECTION", "UPDATE"}, draft.Tags)
}

func TestBuildServerStatusPost(t *testing.T) {
	t.Parallel()

	draft := posts.BuildServerStatusPost("EU #1", "back online", detectedAt)

	assert.Equal(t, store.PostTypeAutoServer, draft.Type)
	assert.Equal(t, "Server back online: EU #1", draft.Title)
	assert.Equal(t, "Detected status change at 2026-03-14T09:26:53.000Z.", draft.Summary)
	assert.Equal(t, "Status update: back online.", draft.Body)
	assert.Equal(t, []string{"AUTO", "SERVER", "STATUS"}, draft.Tags)
}

func TestChangeRecordMarshal(t *testing.T) {
	t.Parallel()

	prev := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := posts.ChangeRecord{
		Prev: posts.ChangeState{Title: "Old", UpdatedAt: &prev},
		Next: posts.ChangeState{Title: "New", UpdatedAt: &detectedAt},
		Meta: []byte(`{"publishedfileid":"1"}`),
	}

	data, err := rec.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"prev": {"title": "Old", "updatedAt": "2026-01-01T00:00:00Z"},
		"next": {"title": "New", "updatedAt": "2026-03-14T09:26:53Z"},
		"meta": {"publishedfileid": "1"}
	}`, string(data))
}
