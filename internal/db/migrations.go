package db

import (
	"database/sql"
	"embed"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrationsLogger adapts the standard logger to migrate.Logger, exactly as
// the teacher's internal/db/migrations.go does.
type migrationsLogger struct {
	verbose bool
}

func (ml *migrationsLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (ml *migrationsLogger) Verbose() bool                  { return ml.verbose }

// Migrate applies every pending migration. Only the Postgres dialect is
// wired to a migrate database driver today; see DESIGN.md for why MySQL and
// MariaDB stop at the query-builder layer rather than also getting a
// migration driver.
func Migrate(database *sql.DB, verbose bool) error {
	driver, err := postgres.WithInstance(database, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrationsLogger{verbose: verbose}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
