package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
)

const waypointColumns = `src_id, dst_id, weight, created_at, updated_at`

// UpsertWaypoint sets the single outgoing edge of w.SrcID. Pointing at the
// same destination keeps the original created_at.
func (s *SQLiteStore) UpsertWaypoint(ctx context.Context, w model.Waypoint) error {
	if w.SrcID == w.DstID {
		return fmt.Errorf("%w: waypoint cannot point to itself", model.ErrInvalidQuery)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("upsert waypoint", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE id IN (?, ?)`, w.SrcID, w.DstID).Scan(&n); err != nil {
		return model.NewStorageError("upsert waypoint", err)
	}
	if n != 2 {
		return fmt.Errorf("%w: waypoint endpoint %s -> %s", model.ErrNotFound, w.SrcID, w.DstID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO waypoints (`+waypointColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(src_id) DO UPDATE SET
			created_at = CASE WHEN waypoints.dst_id = excluded.dst_id THEN waypoints.created_at ELSE excluded.created_at END,
			dst_id = excluded.dst_id,
			weight = excluded.weight,
			updated_at = excluded.updated_at`,
		w.SrcID, w.DstID, model.Clamp01(w.Weight), toMS(w.CreatedAt), toMS(w.UpdatedAt))
	if err != nil {
		return model.NewStorageError("upsert waypoint", err)
	}
	return model.NewStorageError("commit waypoint", tx.Commit())
}

// Waypoint returns the outgoing edge of src.
func (s *SQLiteStore) Waypoint(ctx context.Context, src string) (*model.Waypoint, error) {
	w, err := scanWaypoint(s.db.QueryRowContext(ctx,
		`SELECT `+waypointColumns+` FROM waypoints WHERE src_id = ?`, src))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: waypoint from %s", model.ErrNotFound, src)
	}
	if err != nil {
		return nil, model.NewStorageError("waypoint", err)
	}
	return &w, nil
}

// Outgoing returns the edges leaving any of srcs, keyed by source.
func (s *SQLiteStore) Outgoing(ctx context.Context, srcs []string) (map[string]model.Waypoint, error) {
	out := make(map[string]model.Waypoint, len(srcs))
	if len(srcs) == 0 {
		return out, nil
	}
	ws, err := s.queryWaypoints(ctx,
		`SELECT `+waypointColumns+` FROM waypoints WHERE src_id IN (`+placeholders(len(srcs))+`)`,
		stringArgs(srcs)...)
	if err != nil {
		return nil, err
	}
	for _, w := range ws {
		out[w.SrcID] = w
	}
	return out, nil
}

// Incoming returns the edges pointing at dst.
func (s *SQLiteStore) Incoming(ctx context.Context, dst string) ([]model.Waypoint, error) {
	return s.queryWaypoints(ctx,
		`SELECT `+waypointColumns+` FROM waypoints WHERE dst_id = ? ORDER BY weight DESC, src_id`, dst)
}

// Waypoints returns a snapshot of every edge.
func (s *SQLiteStore) Waypoints(ctx context.Context) ([]model.Waypoint, error) {
	return s.queryWaypoints(ctx, `SELECT `+waypointColumns+` FROM waypoints ORDER BY src_id`)
}

// AddWaypointWeight raises the weight of src -> dst by delta, capped at 1.
// It reports false when that edge does not exist.
func (s *SQLiteStore) AddWaypointWeight(ctx context.Context, src, dst string, delta float64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE waypoints SET weight = MAX(0.0, MIN(1.0, weight + ?)), updated_at = ?
		 WHERE src_id = ? AND dst_id = ?`,
		delta, toMS(now), src, dst)
	if err != nil {
		return false, model.NewStorageError("reinforce waypoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.NewStorageError("reinforce waypoint", err)
	}
	return n > 0, nil
}

// DeleteWaypointIf removes w only if its weight and updated_at are unchanged
// since it was read.
func (s *SQLiteStore) DeleteWaypointIf(ctx context.Context, w model.Waypoint) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM waypoints WHERE src_id = ? AND dst_id = ? AND updated_at = ? AND weight = ?`,
		w.SrcID, w.DstID, toMS(w.UpdatedAt), w.Weight)
	return deleted(res, err)
}

// DeleteDanglingWaypoint removes src -> dst only if dst no longer exists.
func (s *SQLiteStore) DeleteDanglingWaypoint(ctx context.Context, src, dst string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM waypoints WHERE src_id = ? AND dst_id = ?
		 AND NOT EXISTS (SELECT 1 FROM memories WHERE id = waypoints.dst_id)`,
		src, dst)
	return deleted(res, err)
}

// Existing reports which of ids are stored memories.
func (s *SQLiteStore) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, model.NewStorageError("existing", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, model.NewStorageError("existing", err)
		}
		out[id] = true
	}
	return out, model.NewStorageError("existing", rows.Err())
}

func (s *SQLiteStore) queryWaypoints(ctx context.Context, query string, args ...any) ([]model.Waypoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("waypoints", err)
	}
	defer rows.Close()

	var ws []model.Waypoint
	for rows.Next() {
		w, err := scanWaypoint(rows)
		if err != nil {
			return nil, model.NewStorageError("waypoints", err)
		}
		ws = append(ws, w)
	}
	return ws, model.NewStorageError("waypoints", rows.Err())
}

func scanWaypoint(row scanner) (model.Waypoint, error) {
	var w model.Waypoint
	var created, updated int64
	if err := row.Scan(&w.SrcID, &w.DstID, &w.Weight, &created, &updated); err != nil {
		return w, err
	}
	w.CreatedAt = fromMS(created)
	w.UpdatedAt = fromMS(updated)
	return w, nil
}

func deleted(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, model.NewStorageError("delete waypoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.NewStorageError("delete waypoint", err)
	}
	return n > 0, nil
}
