// Package bootstrap wires a loaded configuration into a running daemon: it
// builds the dialect-aware Store, constructs every configured adapter from
// the compile-time registry, and hands both to a Scheduler. This plays the
// role the teacher's cmd/main.go run() function plays, minus the HTTP
// server half of that function — there is no downstream API in scope here.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.banwarden.dev/banwarden/internal/adapter"
	"go.banwarden.dev/banwarden/internal/ckey"
	"go.banwarden.dev/banwarden/internal/db"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/reconcile"
	"go.banwarden.dev/banwarden/internal/scheduler"
	"go.banwarden.dev/banwarden/internal/shared/config"
	"go.banwarden.dev/banwarden/internal/shared/logger"
	"go.banwarden.dev/banwarden/internal/store"
)

// App is every long-lived component a running daemon needs to hold onto.
type App struct {
	DB        *sql.DB
	Store     *store.Store
	Scheduler *scheduler.Scheduler
}

// Build opens the store, migrates it, constructs every adapter named in
// cfg.Sources, and returns an App ready for Run. It never starts the
// scheduler itself; the caller decides when Start happens.
func Build(ctx context.Context, cfg *config.Struct, log zerolog.Logger) (*App, error) {
	dialect, err := db.ParseDialect(cfg.DbConfig.DbType)
	if err != nil {
		return nil, joberr.ConfigurationError("dbConfig.dbType", err)
	}

	conn, err := sql.Open(sqlDriverName(dialect), cfg.DbConfig.ConnectionString)
	if err != nil {
		return nil, joberr.ConfigurationError("dbConfig.connectionString", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if dialect == db.DialectPostgres {
		log.Info().Msg("migrating store")
		if err := db.Migrate(conn, cfg.DbConfig.Migrate.Verbose); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	} else {
		log.Warn().Str("dialect", string(dialect)).Msg("no migration driver wired for this dialect, schema must already exist")
	}

	st := store.New(conn, dialect)

	ignored := ignoreChecker(cfg.IgnoreList)
	recon := reconcile.New(st, ignored, logger.Component(log, "reconciler"))

	sched := scheduler.New(recon.Run, logger.Component(log, "scheduler"))

	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		section := cfg.Sources[name]
		kind := section["kind"]
		if kind == "" {
			conn.Close()
			return nil, joberr.ConfigurationError(fmt.Sprintf("sources.%s.kind", name), fmt.Errorf("missing adapter kind"))
		}

		a, err := adapter.Build(kind, name, adapter.Config(section))
		if err != nil {
			conn.Close()
			return nil, joberr.ConfigurationError(fmt.Sprintf("sources.%s", name), err)
		}

		if err := sched.Register(name, a); err != nil {
			conn.Close()
			return nil, fmt.Errorf("register adapter %q: %w", name, err)
		}
		log.Info().Str("adapter", name).Str("kind", kind).Msg("registered adapter")
	}

	return &App{DB: conn, Store: st, Scheduler: sched}, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops it
// and releases the store connection.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start(ctx)
	<-ctx.Done()
	a.Scheduler.Stop(context.Background())
	return a.DB.Close()
}

func sqlDriverName(d db.Dialect) string {
	switch d {
	case db.DialectPostgres:
		return "postgres"
	default:
		return "mysql"
	}
}

func ignoreChecker(list []string) reconcile.IgnoreChecker {
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(list))
	for _, raw := range list {
		if raw == "" {
			continue
		}
		set[ckey.Canonicalize(raw)] = struct{}{}
	}
	return func(c string) bool {
		_, ok := set[c]
		return ok
	}
}
