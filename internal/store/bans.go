package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"go.banwarden.dev/banwarden/internal/db"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/models"
)

// LoadBans returns every stored ban whose SourceID is in sourceIDs, with
// JobBans hydrated — the "stored" input to the reconciler.
func (s *Store) LoadBans(ctx context.Context, sourceIDs []int64) ([]models.Ban, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	query, args, err := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Select("id", "source_id", "source_ban_id", "ckey", "ban_type", "banned_on", "banned_by", "expires", "reason", "unbanned_by").
		From("bans").
		Where(squirrel.Eq{"source_id": sourceIDs}).
		ToSql()
	if err != nil {
		return nil, joberr.WrapStoreError(err, "build load-bans query")
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, joberr.WrapStoreError(err, "query bans")
	}
	defer rows.Close()

	byID := make(map[int64]*models.Ban)
	var ordered []int64
	for rows.Next() {
		var b models.Ban
		var banType string
		var expires sql.NullTime
		var unbannedBy sql.NullString
		var sourceBanID sql.NullInt64

		if err := rows.Scan(&b.ID, &b.SourceID, &sourceBanID, &b.Ckey, &banType, &b.BannedOn, &b.BannedBy, &expires, &b.Reason, &unbannedBy); err != nil {
			return nil, joberr.WrapStoreError(err, "scan ban row")
		}
		b.BanType = models.BanType(banType)
		b.BannedOn = b.BannedOn.UTC()
		if sourceBanID.Valid {
			v := sourceBanID.Int64
			b.SourceBanID = &v
		}
		if expires.Valid {
			t := expires.Time.UTC()
			b.Expires = &t
		}
		if unbannedBy.Valid {
			v := unbannedBy.String
			b.UnbannedBy = &v
		}

		byID[b.ID] = &b
		ordered = append(ordered, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, joberr.WrapStoreError(err, "iterate ban rows")
	}

	if err := s.hydrateJobBans(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]models.Ban, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *Store) hydrateJobBans(ctx context.Context, byID map[int64]*models.Ban) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query, args, err := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Select("ban_id", "job").From("job_bans").Where(squirrel.Eq{"ban_id": ids}).ToSql()
	if err != nil {
		return joberr.WrapStoreError(err, "build job-bans query")
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return joberr.WrapStoreError(err, "query job bans")
	}
	defer rows.Close()

	for rows.Next() {
		var jb models.JobBan
		if err := rows.Scan(&jb.BanID, &jb.Job); err != nil {
			return joberr.WrapStoreError(err, "scan job ban row")
		}
		if b, ok := byID[jb.BanID]; ok {
			b.JobBans = append(b.JobBans, jb)
		}
	}
	if err := rows.Err(); err != nil {
		return joberr.WrapStoreError(err, "iterate job ban rows")
	}
	return nil
}

// CommitChanges persists inserts and updates in a single transaction.
// Inserted bans are returned with their store-assigned IDs.
func (s *Store) CommitChanges(ctx context.Context, inserts, updates []models.Ban) ([]models.Ban, error) {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, joberr.WrapStoreError(err, "begin commit-changes transaction")
	}
	defer tx.Rollback()

	inserted := make([]models.Ban, 0, len(inserts))
	for _, b := range inserts {
		id, err := s.insertBan(ctx, tx, b)
		if err != nil {
			return nil, joberr.WrapStoreError(err, "insert ban for ckey %q", b.Ckey)
		}
		b.ID = id
		if err := s.replaceJobBans(ctx, tx, b.ID, b.JobBans); err != nil {
			return nil, joberr.WrapStoreError(err, "insert job bans for ban %d", b.ID)
		}
		inserted = append(inserted, b)
	}

	for _, b := range updates {
		if err := s.updateBan(ctx, tx, b); err != nil {
			return nil, joberr.WrapStoreError(err, "update ban %d", b.ID)
		}
		if b.BanType == models.BanTypeJob {
			if err := s.replaceJobBans(ctx, tx, b.ID, b.JobBans); err != nil {
				return nil, joberr.WrapStoreError(err, "replace job bans for ban %d", b.ID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, joberr.WrapStoreError(err, "commit commit-changes transaction")
	}
	return inserted, nil
}

// CommitDeletions removes every given ban in a single transaction. The
// caller is expected to have already cleared the safety gate.
func (s *Store) CommitDeletions(ctx context.Context, deletes []models.Ban) error {
	if len(deletes) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return joberr.WrapStoreError(err, "begin commit-deletions transaction")
	}
	defer tx.Rollback()

	ids := make([]int64, len(deletes))
	for i, b := range deletes {
		ids[i] = b.ID
	}

	jbQuery, jbArgs, err := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Delete("job_bans").Where(squirrel.Eq{"ban_id": ids}).ToSql()
	if err != nil {
		return joberr.WrapStoreError(err, "build delete job_bans query")
	}
	if _, err := tx.ExecContext(ctx, jbQuery, jbArgs...); err != nil {
		return joberr.WrapStoreError(err, "delete job_bans")
	}

	banQuery, banArgs, err := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Delete("bans").Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return joberr.WrapStoreError(err, "build delete bans query")
	}
	if _, err := tx.ExecContext(ctx, banQuery, banArgs...); err != nil {
		return joberr.WrapStoreError(err, "delete bans")
	}

	if err := tx.Commit(); err != nil {
		return joberr.WrapStoreError(err, "commit commit-deletions transaction")
	}
	return nil
}

func (s *Store) insertBan(ctx context.Context, ex db.Executor, b models.Ban) (int64, error) {
	qb := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Insert("bans").
		Columns("source_id", "source_ban_id", "ckey", "ban_type", "banned_on", "banned_by", "expires", "reason", "unbanned_by").
		Values(b.SourceID, b.SourceBanID, b.Ckey, string(b.BanType), b.BannedOn.UTC(), b.BannedBy, nullableTime(b.Expires), b.Reason, b.UnbannedBy)

	if s.dialect.SupportsReturning() {
		query, args, err := qb.Suffix("RETURNING id").ToSql()
		if err != nil {
			return 0, err
		}
		var id int64
		err = ex.QueryRowContext(ctx, query, args...).Scan(&id)
		return id, err
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) updateBan(ctx context.Context, ex db.Executor, b models.Ban) error {
	query, args, err := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Update("bans").
		Set("reason", b.Reason).
		Set("expires", nullableTime(b.Expires)).
		Set("unbanned_by", b.UnbannedBy).
		Where(squirrel.Eq{"id": b.ID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) replaceJobBans(ctx context.Context, ex db.Executor, banID int64, jobs []models.JobBan) error {
	delQuery, delArgs, err := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Delete("job_bans").Where(squirrel.Eq{"ban_id": banID}).ToSql()
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return err
	}

	if len(jobs) == 0 {
		return nil
	}

	insert := squirrel.StatementBuilder.PlaceholderFormat(s.dialect.PlaceholderFormat()).
		Insert("job_bans").Columns("ban_id", "job")
	seen := make(map[string]struct{}, len(jobs))
	for _, jb := range jobs {
		if _, dup := seen[jb.Job]; dup {
			continue
		}
		seen[jb.Job] = struct{}{}
		insert = insert.Values(banID, jb.Job)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return err
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
