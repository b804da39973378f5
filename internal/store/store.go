// internal/store/store.go

// Package store persists GitHub entities in Postgres. Every write is an
// idempotent natural-key upsert, so repeated syncs converge instead of
// duplicating rows.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the Postgres-backed store.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a store on top of an established connection pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}
