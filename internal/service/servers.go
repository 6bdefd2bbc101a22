package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/breachymba/hub/internal/store"
)

// StatusStore is the persistence surface the status service needs.
type StatusStore interface {
	ListServers(ctx context.Context, enabledOnly bool) ([]*store.Server, error)
	LatestSnapshots(ctx context.Context) (map[uuid.UUID]*store.ServerSnapshot, error)
}

// ServerStatus is one server with its most recent liveness snapshot.
type ServerStatus struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	IP         string     `json:"ip"`
	Port       int        `json:"port"`
	Tags       []string   `json:"tags"`
	IsOnline   bool       `json:"isOnline"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"maxPlayers"`
	Map        *string    `json:"map,omitempty"`
	PingMs     *int       `json:"pingMs,omitempty"`
	CheckedAt  *time.Time `json:"checkedAt,omitempty"`
}

// StatusService serves the public server status listing.
type StatusService struct {
	store StatusStore
}

// NewStatusService creates a StatusService.
func NewStatusService(st StatusStore) *StatusService {
	return &StatusService{store: st}
}

// ListStatus returns all enabled servers with their latest snapshot, in sort
// order. Servers never probed yet report offline with no checked time.
func (s *StatusService) ListStatus(ctx context.Context) ([]ServerStatus, error) {
	servers, err := s.store.ListServers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	latest, err := s.store.LatestSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	statuses := make([]ServerStatus, 0, len(servers))
	for _, server := range servers {
		status := ServerStatus{
			ID:    server.ID,
			Title: server.Title,
			IP:    server.IP,
			Port:  server.Port,
			Tags:  server.Tags,
		}
		if snap, ok := latest[server.ID]; ok {
			status.IsOnline = snap.IsOnline
			status.Players = snap.Players
			status.MaxPlayers = snap.MaxPlayers
			status.Map = snap.Map
			status.PingMs = snap.PingMs
			checkedAt := snap.CheckedAt
			status.CheckedAt = &checkedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
