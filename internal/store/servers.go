package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const serverColumns = `id, title, ip, port, tags, sort_order, is_enabled, created_at, updated_at`

func scanServer(row rowScanner) (*Server, error) {
	var sv Server
	err := row.Scan(&sv.ID, &sv.Title, &sv.IP, &sv.Port, &sv.Tags, &sv.SortOrder, &sv.IsEnabled, &sv.CreatedAt, &sv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan server: %w", err)
	}
	return &sv, nil
}

// ServerParams holds the writable fields of a server record.
type ServerParams struct {
	Title     string
	IP        string
	Port      int
	Tags      []string
	SortOrder int
	IsEnabled bool
}

// ListServers returns servers ordered by sort order. When enabledOnly is set,
// disabled servers are excluded.
func (s *Store) ListServers(ctx context.Context, enabledOnly bool) ([]*Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers`
	if enabledOnly {
		query += ` WHERE is_enabled`
	}
	query += ` ORDER BY sort_order, title, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		sv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, sv)
	}
	return servers, rows.Err()
}

// GetServer returns a single server by ID.
func (s *Store) GetServer(ctx context.Context, id uuid.UUID) (*Server, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	return scanServer(row)
}

// CreateServer registers a new server for monitoring.
func (s *Store) CreateServer(ctx context.Context, p ServerParams) (*Server, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO servers (title, ip, port, tags, sort_order, is_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+serverColumns,
		p.Title, p.IP, p.Port, tags, p.SortOrder, p.IsEnabled)
	return scanServer(row)
}

// UpdateServer replaces the writable fields of a server record.
func (s *Store) UpdateServer(ctx context.Context, id uuid.UUID, p ServerParams) (*Server, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE servers
		 SET title = $2, ip = $3, port = $4, tags = $5, sort_order = $6, is_enabled = $7, updated_at = now()
		 WHERE id = $1
		 RETURNING `+serverColumns,
		id, p.Title, p.IP, p.Port, tags, p.SortOrder, p.IsEnabled)
	return scanServer(row)
}

// DeleteServer removes a server and, via cascade, its snapshots.
func (s *Store) DeleteServer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
