// Package monitor probes tracked game servers on a schedule, keeps a bounded
// liveness history, and announces debounced offline-to-online transitions.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/posts"
	"github.com/breachymba/hub/internal/probe"
	"github.com/breachymba/hub/internal/store"
	"github.com/breachymba/hub/internal/telemetry"
)

const (
	// defaultOfflineThreshold is how many consecutive offline snapshots must
	// precede an online probe before the recovery is announced.
	defaultOfflineThreshold = 3
	// defaultRetention caps the stored snapshot history per server.
	defaultRetention = 50
)

// Store is the persistence surface the monitor needs.
type Store interface {
	ListServers(ctx context.Context, enabledOnly bool) ([]*store.Server, error)
	RecentSnapshots(ctx context.Context, serverID uuid.UUID, limit int) ([]*store.ServerSnapshot, error)
	RecordSnapshot(ctx context.Context, p store.SnapshotParams, keep int) (*store.ServerSnapshot, error)
	CreatePost(ctx context.Context, p store.NewsPostParams) (*store.NewsPost, error)
}

// WasOffline reports whether the history shows at least threshold entries and
// every one of them offline. The window has no gap tolerance: one online
// sample resets the debounce. Histories shorter than the threshold can never
// satisfy it, so a freshly added server cannot fire a recovery post.
func WasOffline(history []*store.ServerSnapshot, threshold int) bool {
	if threshold <= 0 || len(history) < threshold {
		return false
	}
	for _, snap := range history[:threshold] {
		if snap.IsOnline {
			return false
		}
	}
	return true
}

// Monitor runs one liveness pass over all enabled servers.
type Monitor struct {
	store            Store
	prober           probe.Prober
	offlineThreshold int
	retention        int
	metrics          *telemetry.MonitorMetrics
	now              func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithOfflineThreshold overrides the debounce window size. Zero keeps the
// default.
func WithOfflineThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.offlineThreshold = n
		}
	}
}

// WithRetention overrides the per-server snapshot cap. Zero keeps the
// default.
func WithRetention(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.retention = n
		}
	}
}

// WithMetrics attaches probe metrics.
func WithMetrics(metrics *telemetry.MonitorMetrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a Monitor.
func New(st Store, prober probe.Prober, opts ...Option) *Monitor {
	m := &Monitor{
		store:            st,
		prober:           prober,
		offlineThreshold: defaultOfflineThreshold,
		retention:        defaultRetention,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes every enabled server once and returns how many recovery posts
// it published. Per-server failures are logged and do not abort the pass.
func (m *Monitor) Run(ctx context.Context) (int, error) {
	servers, err := m.store.ListServers(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list servers: %w", err)
	}

	transitions := 0
	for _, server := range servers {
		if ctx.Err() != nil {
			return transitions, ctx.Err()
		}
		if m.checkServer(ctx, server) {
			transitions++
		}
	}
	return transitions, nil
}

// checkServer records one probe for a server and reports whether it
// announced a recovery.
func (m *Monitor) checkServer(ctx context.Context, server *store.Server) bool {
	result := m.prober.Probe(ctx, server.IP, server.Port)
	m.metrics.RecordProbe(ctx, server.Title, result.Online)
	if !result.Online {
		slog.Debug("Server probe failed", "server", server.Title, "error", result.Err)
	}

	// The debounce reads the history as it was before this probe lands.
	history, err := m.store.RecentSnapshots(ctx, server.ID, m.offlineThreshold)
	if err != nil {
		slog.Error("Failed to read snapshot history", "server", server.Title, "error", err)
		return false
	}
	wasOffline := WasOffline(history, m.offlineThreshold)

	checkedAt := m.now().UTC()
	params := store.SnapshotParams{
		ServerID:  server.ID,
		CheckedAt: checkedAt,
		IsOnline:  result.Online,
		Raw:       result.Raw(),
	}
	if result.Info != nil {
		params.Players = result.Info.Players
		params.MaxPlayers = result.Info.MaxPlayers
		if result.Info.Map != "" {
			mapName := result.Info.Map
			params.Map = &mapName
		}
		ping := result.PingMs
		params.PingMs = &ping
	}

	if _, err := m.store.RecordSnapshot(ctx, params, m.retention); err != nil {
		slog.Error("Failed to record snapshot", "server", server.Title, "error", err)
		return false
	}

	// Going offline stays silent; only a debounced recovery is announced.
	if !result.Online || !wasOffline {
		return false
	}

	draft := posts.BuildServerStatusPost(server.Title, "back online", checkedAt)
	sourceType := store.SourceTypeServer
	serverID := server.ID
	_, err = m.store.CreatePost(ctx, store.NewsPostParams{
		Type:        draft.Type,
		Title:       draft.Title,
		Summary:     draft.Summary,
		Body:        draft.Body,
		Tags:        draft.Tags,
		SourceType:  &sourceType,
		SourceID:    &serverID,
		PublishedAt: &checkedAt,
	})
	if err != nil {
		slog.Error("Failed to publish recovery post", "server", server.Title, "error", err)
		return false
	}

	slog.Info("Server back online", "server", server.Title)
	m.metrics.RecordTransition(ctx, server.Title)
	return true
}
