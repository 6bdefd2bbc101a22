// Package store provides Postgres persistence for the hub's entities.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleSource is returned when a conditional change write finds the
	// tracked source already at or past the incoming external state. It is a
	// deliberate skip, not a failure: the caller must not record a change or
	// publish a post for it.
	ErrStaleSource = errors.New("source state is not newer than stored state")
)

// Store wraps a pgx connection pool with typed queries for all hub entities.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
