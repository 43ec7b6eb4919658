package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
)

func (s *SQLiteStore) GetSummary(ctx context.Context, owner string) (*model.UserSummary, error) {
	var us model.UserSummary
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, summary, reflection_count, updated_at FROM user_summaries WHERE owner = ?`, owner).
		Scan(&us.Owner, &us.Summary, &us.ReflectionCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: summary for %q", model.ErrNotFound, owner)
	}
	if err != nil {
		return nil, model.NewStorageError("get summary", err)
	}
	us.UpdatedAt = fromMS(updated)
	return &us, nil
}

// UpsertSummary replaces the summary text. The reflection count is kept.
func (s *SQLiteStore) UpsertSummary(ctx context.Context, us model.UserSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_summaries (owner, summary, reflection_count, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		us.Owner, us.Summary, us.ReflectionCount, toMS(us.UpdatedAt))
	return model.NewStorageError("upsert summary", err)
}

// AddReflections increments the owner's reflection count by n.
func (s *SQLiteStore) AddReflections(ctx context.Context, owner string, n int, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_summaries (owner, summary, reflection_count, updated_at) VALUES (?, '', ?, ?)
		 ON CONFLICT(owner) DO UPDATE SET
			reflection_count = user_summaries.reflection_count + excluded.reflection_count,
			updated_at = excluded.updated_at`,
		owner, n, toMS(now))
	return model.NewStorageError("add reflections", err)
}

// ListOwners returns owners with memories created, updated or seen since the
// given time. A zero since returns every owner.
func (s *SQLiteStore) ListOwners(ctx context.Context, since time.Time) ([]string, error) {
	ms := toMS(since)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT owner FROM memories
		 WHERE owner != '' AND (created_at >= ? OR updated_at >= ? OR last_seen_at >= ?)
		 ORDER BY owner`, ms, ms, ms)
	if err != nil {
		return nil, model.NewStorageError("list owners", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, model.NewStorageError("list owners", err)
		}
		owners = append(owners, o)
	}
	return owners, model.NewStorageError("list owners", rows.Err())
}

func (s *SQLiteStore) summaries(ctx context.Context, owner string) ([]model.UserSummary, error) {
	query := `SELECT owner, summary, reflection_count, updated_at FROM user_summaries`
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY owner`, args...)
	if err != nil {
		return nil, model.NewStorageError("summaries", err)
	}
	defer rows.Close()

	var out []model.UserSummary
	for rows.Next() {
		var us model.UserSummary
		var updated int64
		if err := rows.Scan(&us.Owner, &us.Summary, &us.ReflectionCount, &updated); err != nil {
			return nil, model.NewStorageError("summaries", err)
		}
		us.UpdatedAt = fromMS(updated)
		out = append(out, us)
	}
	return out, model.NewStorageError("summaries", rows.Err())
}
