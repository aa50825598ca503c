// Package db provides the thin, dialect-aware plumbing the store gateway is
// built on. The Executor interface is carried over verbatim from the
// teacher's db/db.go: it lets store code run the same squirrel-built SQL
// against either a *sql.DB or a *sql.Tx.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Executor is satisfied by both *sql.DB and *sql.Tx.
type Executor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect selects the SQL dialect in play, as configured by dbConfig.dbType.
type Dialect string

const (
	DialectPostgres Dialect = "Postgres"
	DialectMySQL    Dialect = "MySql"
	DialectMariaDB  Dialect = "MariaDB"
)

// PlaceholderFormat returns the squirrel placeholder style for d.
func (d Dialect) PlaceholderFormat() squirrel.PlaceholderFormat {
	if d == DialectPostgres {
		return squirrel.Dollar
	}
	return squirrel.Question
}

// SupportsReturning reports whether INSERT ... RETURNING id can be used to
// recover a store-assigned primary key in one round trip.
func (d Dialect) SupportsReturning() bool {
	return d == DialectPostgres
}

// ParseDialect validates and normalizes a configured dbType value.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectPostgres, DialectMySQL, DialectMariaDB:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unknown dbConfig.dbType %q (want Postgres, MySql, or MariaDB)", s)
	}
}

// PostgresDSN builds a libpq connection string, mirroring the teacher's
// db.PostgresDSN helper.
func PostgresDSN(host string, port int, user, pass, name string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, pass, host, port, name)
}
