package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const snapshotColumns = `id, server_id, checked_at, is_online, players, max_players, map, ping_ms, raw`

// SnapshotParams holds one probe result to record for a server.
type SnapshotParams struct {
	ServerID   uuid.UUID
	CheckedAt  time.Time
	IsOnline   bool
	Players    int
	MaxPlayers int
	Map        *string
	PingMs     *int
	Raw        []byte
}

// RecordSnapshot inserts a probe result and prunes the server's history down
// to keep entries, oldest first, in one transaction.
func (s *Store) RecordSnapshot(ctx context.Context, p SnapshotParams, keep int) (*ServerSnapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var snap ServerSnapshot
	err = tx.QueryRow(ctx,
		`INSERT INTO server_snapshots (server_id, checked_at, is_online, players, max_players, map, ping_ms, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+snapshotColumns,
		p.ServerID, p.CheckedAt, p.IsOnline, p.Players, p.MaxPlayers, p.Map, p.PingMs, p.Raw).
		Scan(&snap.ID, &snap.ServerID, &snap.CheckedAt, &snap.IsOnline, &snap.Players,
			&snap.MaxPlayers, &snap.Map, &snap.PingMs, &snap.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM server_snapshots
		 WHERE server_id = $1
		   AND id NOT IN (
		       SELECT id FROM server_snapshots
		       WHERE server_id = $1
		       ORDER BY checked_at DESC
		       LIMIT $2
		   )`, p.ServerID, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return &snap, nil
}

// RecentSnapshots returns up to limit snapshots for a server, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, serverID uuid.UUID, limit int) ([]*ServerSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM server_snapshots
		 WHERE server_id = $1
		 ORDER BY checked_at DESC
		 LIMIT $2`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*ServerSnapshot
	for rows.Next() {
		var snap ServerSnapshot
		err := rows.Scan(&snap.ID, &snap.ServerID, &snap.CheckedAt, &snap.IsOnline, &snap.Players,
			&snap.MaxPlayers, &snap.Map, &snap.PingMs, &snap.Raw)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

// LatestSnapshots returns the newest snapshot per server, keyed by server ID.
func (s *Store) LatestSnapshots(ctx context.Context) (map[uuid.UUID]*ServerSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (server_id) `+snapshotColumns+`
		 FROM server_snapshots
		 ORDER BY server_id, checked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	defer rows.Close()

	latest := make(map[uuid.UUID]*ServerSnapshot)
	for rows.Next() {
		var snap ServerSnapshot
		err := rows.Scan(&snap.ID, &snap.ServerID, &snap.CheckedAt, &snap.IsOnline, &snap.Players,
			&snap.MaxPlayers, &snap.Map, &snap.PingMs, &snap.Raw)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		latest[snap.ServerID] = &snap
	}
	return latest, rows.Err()
}
