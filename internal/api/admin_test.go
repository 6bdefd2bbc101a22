package api_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachymba/hub/internal/store"
)

// signInitData builds a signed init-data query string the way Telegram does.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	pairs := make([]string, 0, len(fields))
	for k, v := range fields {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(pairs, "\n")))
	hash := hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hash)
	return values.Encode()
}

func loginFields(telegramID string) map[string]string {
	return map[string]string{
		"user":      `{"id":` + telegramID + `,"username":"breachy"}`,
		"auth_date": strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10),
	}
}

// login runs the Telegram handshake and returns the minted session token.
func login(t *testing.T, env *testEnv, telegramID string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"initData": signInitData(t, testBotToken, loginFields(telegramID)),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/auth/telegram", body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestTelegramLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body, err := json.Marshal(map[string]string{
		"initData": signInitData(t, testBotToken, loginFields(adminTelegram)),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/auth/telegram", body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token   string `json:"token"`
		IsAdmin bool   `json:"isAdmin"`
		User    struct {
			TelegramID string `json:"telegramId"`
			Username   string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsAdmin)
	assert.Equal(t, adminTelegram, resp.User.TelegramID)
	assert.Equal(t, "breachy", resp.User.Username)

	claims, err := env.sessions.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, adminTelegram, claims.TelegramID)
	assert.True(t, claims.IsAdmin)
}

func TestTelegramLogin_Rejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	fields := loginFields(adminTelegram)
	signed := signInitData(t, "another-bot-token", fields)

	body, err := json.Marshal(map[string]string{"initData": signed})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/auth/telegram", body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hash_mismatch", resp.Code)
}

func TestTelegramLogin_MissingInitData(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/telegram", []byte(`{}`), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "missing_init_data", resp.Code)
}

func TestTelegramLogin_NoUserField(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Validly signed, but only auth_date and query_id. The signature checks
	// out, yet no session can be minted without a user.
	fields := map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10),
		"query_id":  "AAF1tlYuAAAAAHW2Vi49p9nY",
	}
	body, err := json.Marshal(map[string]string{
		"initData": signInitData(t, testBotToken, fields),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/auth/telegram", body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Verification failed", resp.Error)
	assert.Empty(t, resp.Code, "a signed payload without a user is not a verification failure code")
}

func TestGetMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, memberTelegram)

	rec := env.do(t, http.MethodGet, "/api/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		IsAdmin bool `json:"isAdmin"`
		User    struct {
			TelegramID string `json:"telegramId"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsAdmin)
	assert.Equal(t, memberTelegram, resp.User.TelegramID)

	rec = env.do(t, http.MethodGet, "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes_Gating(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	memberToken := login(t, env, memberTelegram)

	body := []byte(`{"title":"Season opener","summary":"We are live"}`)

	rec := env.do(t, http.MethodPost, "/api/admin/news", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/news", body, "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/news", body, memberToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminNewsPosts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	rec := env.do(t, http.MethodPost, "/api/admin/news",
		[]byte(`{"title":"Season opener","summary":"We are live","isPinned":true}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ID       uuid.UUID `json:"id"`
		Type     string    `json:"type"`
		IsPinned bool      `json:"isPinned"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, string(store.PostTypeManual), created.Type)
	assert.True(t, created.IsPinned)
	assert.Equal(t, 1, env.feed.invalidations)

	rec = env.do(t, http.MethodPut, "/api/admin/news/"+created.ID.String(),
		[]byte(`{"title":"Season opener","summary":"Edited","isHidden":true}`), token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.feed.invalidations)

	post, err := env.store.GetPost(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited", post.Summary)
	assert.True(t, post.IsHidden)

	rec = env.do(t, http.MethodDelete, "/api/admin/news/"+created.ID.String(), nil, token)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 3, env.feed.invalidations)

	rec = env.do(t, http.MethodDelete, "/api/admin/news/"+created.ID.String(), nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminNewsPosts_SynthesizedKeepsSource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	sourceType := store.SourceTypeWorkshop
	sourceID := uuid.New()
	post, err := env.store.CreatePost(context.Background(), store.NewsPostParams{
		Type:       store.PostTypeAutoWorkshop,
		Title:      "Addon updated: Better Maps",
		SourceType: &sourceType,
		SourceID:   &sourceID,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPut, "/api/admin/news/"+post.ID.String(),
		[]byte(`{"title":"Addon updated: Better Maps","isHidden":true}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := env.store.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PostTypeAutoWorkshop, updated.Type)
	require.NotNil(t, updated.SourceType)
	assert.Equal(t, store.SourceTypeWorkshop, *updated.SourceType)
	require.NotNil(t, updated.SourceID)
	assert.Equal(t, sourceID, *updated.SourceID)
	assert.True(t, updated.IsHidden)
}

func TestAdminValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	tests := []struct {
		name string
		path string
		body string
	}{
		{
			name: "news post without title",
			path: "/api/admin/news",
			body: `{"summary":"no title"}`,
		},
		{
			name: "news post with synthesized type",
			path: "/api/admin/news",
			body: `{"title":"x","type":"AUTO_WORKSHOP"}`,
		},
		{
			name: "workshop item without file id",
			path: "/api/admin/workshop",
			body: `{"title":"orphan"}`,
		},
		{
			name: "server with bad port",
			path: "/api/admin/servers",
			body: `{"title":"EU #1","ip":"198.51.100.7","port":700000}`,
		},
		{
			name: "patch note with bad ref type",
			path: "/api/admin/patch-notes",
			body: `{"title":"x","refType":"BOGUS","refId":"` + uuid.NewString() + `"}`,
		},
		{
			name: "malformed body",
			path: "/api/admin/news",
			body: `{not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, []byte(tt.body), token)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminListNewsPosts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	_, err := env.store.CreatePost(context.Background(), store.NewsPostParams{
		Type: store.PostTypeManual, Title: "Hidden draft", IsHidden: true,
	})
	require.NoError(t, err)
	_, err = env.store.CreatePost(context.Background(), store.NewsPostParams{
		Type: store.PostTypeManual, Title: "Published",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/admin/news", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var posts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	assert.Len(t, posts, 2)

	rec = env.do(t, http.MethodGet, "/api/admin/news?limit=1", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	assert.Len(t, posts, 1)
}

func TestAdminWorkshopItems_DuplicateFileID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	rec := env.do(t, http.MethodPost, "/api/admin/workshop",
		[]byte(`{"workshopFileId":"123456","title":"Better Maps"}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/workshop",
		[]byte(`{"workshopFileId":"123456","title":"Duplicate"}`), token)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/collections",
		[]byte(`{"collectionId":"9000","title":"Starter Pack"}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/collections",
		[]byte(`{"collectionId":"9000","title":"Duplicate"}`), token)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminServers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	rec := env.do(t, http.MethodPost, "/api/admin/servers",
		[]byte(`{"title":"EU #1","ip":"198.51.100.7","port":27015,"tags":["pvp"],"isEnabled":true}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodPut, "/api/admin/servers/"+created.ID.String(),
		[]byte(`{"title":"EU #1","ip":"198.51.100.7","port":27016,"isEnabled":false}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	srv, err := env.store.GetServer(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 27016, srv.Port)
	assert.False(t, srv.IsEnabled)

	rec = env.do(t, http.MethodDelete, "/api/admin/servers/"+created.ID.String(), nil, token)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/admin/servers/"+created.ID.String(), nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPatchNotes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := login(t, env, adminTelegram)

	refID := uuid.New()
	rec := env.do(t, http.MethodPost, "/api/admin/patch-notes",
		[]byte(`{"title":"Balance pass","markdown":"- nerfed","refType":"WORKSHOP_UPDATE","refId":"`+refID.String()+`"}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ID      uuid.UUID `json:"id"`
		RefType string    `json:"refType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, string(store.PatchRefWorkshopUpdate), created.RefType)

	rec = env.do(t, http.MethodGet, "/api/admin/patch-notes/"+created.ID.String(), nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/admin/patch-notes/"+created.ID.String(), nil, token)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
