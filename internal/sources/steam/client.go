// Package steam fetches published file and collection details from the Steam
// Web API.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.steampowered.com"

	publishedFileDetailsPath = "/ISteamRemoteStorage/GetPublishedFileDetails/v1/"
	collectionDetailsPath    = "/ISteamRemoteStorage/GetCollectionDetails/v1/"

	defaultTimeout = 30 * time.Second

	userAgent = "hub-api/1.0"

	// resultOK is the Steam API per-entry success code. Entries with any
	// other result refer to deleted or hidden files and carry no details.
	resultOK = 1
)

// PublishedFileDetail is the subset of Steam's published file response the
// hub tracks. Raw preserves the full entry for storage in item metadata.
type PublishedFileDetail struct {
	PublishedFileID string          `json:"publishedfileid"`
	Result          int             `json:"result"`
	Title           string          `json:"title"`
	TimeUpdated     int64           `json:"time_updated"`
	Raw             json.RawMessage `json:"-"`
}

// OK reports whether Steam returned details for this entry.
func (d *PublishedFileDetail) OK() bool {
	return d.Result == resultOK
}

// UpdatedAt converts the Steam update timestamp to a time value. It returns
// nil when the source reports no timestamp.
func (d *PublishedFileDetail) UpdatedAt() *time.Time {
	if d.TimeUpdated == 0 {
		return nil
	}
	t := time.Unix(d.TimeUpdated, 0).UTC()
	return &t
}

// CollectionChild is one member of a collection.
type CollectionChild struct {
	PublishedFileID string `json:"publishedfileid"`
	SortOrder       int    `json:"sortorder"`
}

// CollectionDetail is the state of one collection: its own metadata plus the
// membership listing.
type CollectionDetail struct {
	PublishedFileID string            `json:"publishedfileid"`
	Result          int               `json:"result"`
	Title           string            `json:"title"`
	TimeUpdated     int64             `json:"time_updated"`
	Children        []CollectionChild `json:"children"`
	Raw             json.RawMessage   `json:"-"`
}

// OK reports whether Steam returned details for this entry.
func (d *CollectionDetail) OK() bool {
	return d.Result == resultOK
}

// UpdatedAt converts the Steam update timestamp to a time value. It returns
// nil when the source reports no timestamp.
func (d *CollectionDetail) UpdatedAt() *time.Time {
	if d.TimeUpdated == 0 {
		return nil
	}
	t := time.Unix(d.TimeUpdated, 0).UTC()
	return &t
}

// Client retrieves workshop metadata from the Steam Web API. Results are
// keyed by published file ID; IDs Steam does not know are absent from the
// map.
type Client interface {
	PublishedFileDetails(ctx context.Context, fileIDs []string) (map[string]*PublishedFileDetail, error)
	CollectionDetails(ctx context.Context, collectionIDs []string) (map[string]*CollectionDetail, error)
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Steam client.
type ClientOption func(*client)

// WithBaseURL overrides the Steam API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithTimeout sets the HTTP request timeout. Zero keeps the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a Steam Web API client.
func NewClient(opts ...ClientOption) Client {
	c := &client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublishedFileDetails fetches details for a batch of workshop file IDs.
func (c *client) PublishedFileDetails(ctx context.Context, fileIDs []string) (map[string]*PublishedFileDetail, error) {
	if len(fileIDs) == 0 {
		return map[string]*PublishedFileDetail{}, nil
	}

	form := url.Values{}
	form.Set("itemcount", strconv.Itoa(len(fileIDs)))
	for i, id := range fileIDs {
		form.Set(fmt.Sprintf("publishedfileids[%d]", i), id)
	}

	var payload struct {
		Response struct {
			PublishedFileDetails []json.RawMessage `json:"publishedfiledetails"`
		} `json:"response"`
	}
	if err := c.postForm(ctx, publishedFileDetailsPath, form, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch published file details: %w", err)
	}

	details := make(map[string]*PublishedFileDetail, len(payload.Response.PublishedFileDetails))
	for _, raw := range payload.Response.PublishedFileDetails {
		var d PublishedFileDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode published file detail: %w", err)
		}
		if !d.OK() {
			continue
		}
		d.Raw = raw
		details[d.PublishedFileID] = &d
	}
	return details, nil
}

// CollectionDetails fetches membership listings for a batch of collection
// IDs.
func (c *client) CollectionDetails(ctx context.Context, collectionIDs []string) (map[string]*CollectionDetail, error) {
	if len(collectionIDs) == 0 {
		return map[string]*CollectionDetail{}, nil
	}

	form := url.Values{}
	form.Set("collectioncount", strconv.Itoa(len(collectionIDs)))
	for i, id := range collectionIDs {
		form.Set(fmt.Sprintf("publishedfileids[%d]", i), id)
	}

	var payload struct {
		Response struct {
			CollectionDetails []json.RawMessage `json:"collectiondetails"`
		} `json:"response"`
	}
	if err := c.postForm(ctx, collectionDetailsPath, form, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch collection details: %w", err)
	}

	details := make(map[string]*CollectionDetail, len(payload.Response.CollectionDetails))
	for _, raw := range payload.Response.CollectionDetails {
		var d CollectionDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode collection detail: %w", err)
		}
		if !d.OK() {
			continue
		}
		d.Raw = raw
		details[d.PublishedFileID] = &d
	}
	return details, nil
}

func (c *client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
