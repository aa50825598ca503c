package store

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"go.banwarden.dev/banwarden/internal/db"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/models"
)

// EnsureSources guarantees every BanSource an adapter declares exists in the
// store, creating any that are missing, and returns the store-resident copy
// of each keyed by name.
func (s *Store) EnsureSources(ctx context.Context, skeletons map[string]models.BanSource) (map[string]models.BanSource, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, joberr.WrapStoreError(err, "begin ensure-sources transaction")
	}
	defer tx.Rollback()

	out := make(map[string]models.BanSource, len(skeletons))
	for name := range skeletons {
		existing, err := s.selectSourceByName(ctx, tx, name)
		if err == nil {
			out[name] = existing
			continue
		}
		if err != sql.ErrNoRows {
			return nil, joberr.WrapStoreError(err, "lookup ban source %q", name)
		}

		created, err := s.insertSource(ctx, tx, name)
		if err != nil {
			return nil, joberr.WrapStoreError(err, "create ban source %q", name)
		}
		out[name] = created
	}

	if err := tx.Commit(); err != nil {
		return nil, joberr.WrapStoreError(err, "commit ensure-sources transaction")
	}
	return out, nil
}

func (s *Store) selectSourceByName(ctx context.Context, ex db.Executor, name string) (models.BanSource, error) {
	qb := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Select("id", "name").From("ban_sources").Where(squirrel.Eq{"name": name})

	query, args, err := qb.ToSql()
	if err != nil {
		return models.BanSource{}, err
	}

	var src models.BanSource
	err = ex.QueryRowContext(ctx, query, args...).Scan(&src.ID, &src.Name)
	return src, err
}

func (s *Store) insertSource(ctx context.Context, ex db.Executor, name string) (models.BanSource, error) {
	qb := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Insert("ban_sources").Columns("name").Values(name)

	if s.dialect.SupportsReturning() {
		query, args, err := qb.Suffix("RETURNING id").ToSql()
		if err != nil {
			return models.BanSource{}, err
		}
		var id int64
		if err := ex.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return models.BanSource{}, err
		}
		return models.BanSource{ID: id, Name: name}, nil
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return models.BanSource{}, err
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return models.BanSource{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.BanSource{}, err
	}
	return models.BanSource{ID: id, Name: name}, nil
}
