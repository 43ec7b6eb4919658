package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

// checkDims enforces one dimension per sector, recording it on first write.
func (s *SQLiteStore) checkDims(ctx context.Context, tx *sql.Tx, vecs []model.SectorVector) error {
	for _, sv := range vecs {
		var dim int
		err := tx.QueryRowContext(ctx, `SELECT dim FROM sector_dims WHERE sector = ?`, string(sv.Sector)).Scan(&dim)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sector_dims (sector, dim) VALUES (?, ?)`, string(sv.Sector), len(sv.Vector)); err != nil {
				return model.NewStorageError("record dims", err)
			}
		case err != nil:
			return model.NewStorageError("check dims", err)
		case dim != len(sv.Vector):
			return model.DimensionError(sv.Sector, dim, len(sv.Vector))
		}
	}
	return nil
}

func (s *SQLiteStore) rememberDims(vecs []model.SectorVector) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	for _, sv := range vecs {
		s.dims[sv.Sector] = len(sv.Vector)
	}
}

// SectorDim returns the recorded dimension of a sector, false when the sector
// has never been written.
func (s *SQLiteStore) SectorDim(ctx context.Context, sector model.Sector) (int, bool, error) {
	s.dimMu.RLock()
	dim, ok := s.dims[sector]
	s.dimMu.RUnlock()
	if ok {
		return dim, true, nil
	}

	err := s.db.QueryRowContext(ctx, `SELECT dim FROM sector_dims WHERE sector = ?`, string(sector)).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, model.NewStorageError("sector dim", err)
	}
	s.dimMu.Lock()
	s.dims[sector] = dim
	s.dimMu.Unlock()
	return dim, true, nil
}

// Nearest returns up to topK memories of a sector ranked by cosine similarity.
func (s *SQLiteStore) Nearest(ctx context.Context, sector model.Sector, q vector.Vector, topK int) ([]vector.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", model.ErrInvalidQuery)
	}
	dim, ok, err := s.SectorDim(ctx, sector)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if dim != len(q) {
		return nil, model.DimensionError(sector, dim, len(q))
	}

	err = s.index.Load(ctx, string(sector), func(add func(id string, v vector.Vector) error) error {
		return s.eachVector(ctx, sector, add)
	})
	if err != nil {
		return nil, model.NewStorageError("load sector "+string(sector), err)
	}

	hits, err := s.index.Search(ctx, string(sector), q, topK)
	if err != nil {
		return nil, model.NewStorageError("nearest", err)
	}
	return hits, nil
}

func (s *SQLiteStore) eachVector(ctx context.Context, sector model.Sector, fn func(id string, v vector.Vector) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, v FROM vectors WHERE sector = ?`, string(sector))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		v, err := vector.Decode(blob)
		if err != nil {
			return fmt.Errorf("decode vector %s/%s: %w", id, sector, err)
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Vectors returns every sector vector of a memory, in sector order.
func (s *SQLiteStore) Vectors(ctx context.Context, id string) ([]model.SectorVector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sector, v, compressed FROM vectors WHERE memory_id = ?`, id)
	if err != nil {
		return nil, model.NewStorageError("vectors", err)
	}
	defer rows.Close()

	bySector := make(map[model.Sector]model.SectorVector)
	for rows.Next() {
		var sec string
		var blob, comp []byte
		if err := rows.Scan(&sec, &blob, &comp); err != nil {
			return nil, model.NewStorageError("vectors", err)
		}
		sv := model.SectorVector{MemoryID: id, Sector: model.Sector(sec)}
		if sv.Vector, err = vector.Decode(blob); err != nil {
			return nil, model.NewStorageError("vectors", err)
		}
		if len(comp) > 0 {
			if sv.Compressed, err = vector.Decode(comp); err != nil {
				return nil, model.NewStorageError("vectors", err)
			}
		}
		bySector[sv.Sector] = sv
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("vectors", err)
	}
	// release the single connection before the existence check
	rows.Close()
	if len(bySector) == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	out := make([]model.SectorVector, 0, len(bySector))
	for _, sec := range model.Sectors {
		if sv, ok := bySector[sec]; ok {
			out = append(out, sv)
		}
	}
	return out, nil
}

// RecentMeans returns mean vectors of recent memories, newest first.
func (s *SQLiteStore) RecentMeans(ctx context.Context, q MeanQuery) ([]MeanRef, error) {
	where := []string{"mean_vec IS NOT NULL"}
	var args []any
	if !q.AnyOwner {
		where = append(where, "owner = ?")
		args = append(args, q.Owner)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMS(q.Since))
	}
	if q.Unconsolidated {
		where = append(where, "consolidated_into = ''")
	}
	if len(q.Sectors) > 0 {
		where = append(where, `id IN (SELECT memory_id FROM vectors WHERE sector IN (`+placeholders(len(q.Sectors))+`))`)
		for _, sec := range q.Sectors {
			args = append(args, string(sec))
		}
	}
	args = append(args, sqlLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, primary_sector, content, created_at, mean_vec FROM memories
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, model.NewStorageError("recent means", err)
	}
	defer rows.Close()

	var out []MeanRef
	for rows.Next() {
		var r MeanRef
		var primary string
		var created int64
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Owner, &primary, &r.Content, &created, &blob); err != nil {
			return nil, model.NewStorageError("recent means", err)
		}
		r.Primary = model.Sector(primary)
		r.CreatedAt = fromMS(created)
		if r.Mean, err = vector.Decode(blob); err != nil {
			return nil, model.NewStorageError("recent means", err)
		}
		out = append(out, r)
	}
	return out, model.NewStorageError("recent means", rows.Err())
}
