package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, telegram_id, username, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// UpsertUser creates the account for a Telegram identity on first login and
// refreshes the username on subsequent ones.
func (s *Store) UpsertUser(ctx context.Context, telegramID, username string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_id, username)
		 VALUES ($1, $2)
		 ON CONFLICT (telegram_id)
		 DO UPDATE SET username = EXCLUDED.username, updated_at = now()
		 RETURNING `+userColumns, telegramID, username)
	return scanUser(row)
}

// GetUserByTelegramID returns the account for a Telegram identity.
func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}
