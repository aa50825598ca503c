// Package store is the Store Gateway: typed read/write access to the
// persistent ban store, built the way the teacher's internal/core package
// builds its Postgres access (squirrel-built SQL, database/sql underneath).
package store

import (
	"database/sql"

	"go.banwarden.dev/banwarden/internal/db"
)

// Store is the one shared mutable resource adapters and the reconciler ever
// touch: a connection pool plus the dialect it was opened with.
type Store struct {
	conn    *sql.DB
	dialect db.Dialect
}

// New wraps an already-opened, already-migrated database handle.
func New(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{conn: conn, dialect: dialect}
}
