package store

import (
	"context"
	"os"

	"github.com/rcliao/sector-memory/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string        `json:"db_path"`
	DBSizeBytes    int64         `json:"db_size_bytes"`
	TotalMemories  int           `json:"total_memories"`
	ColdMemories   int           `json:"cold_memories"`
	Consolidated   int           `json:"consolidated_memories"`
	Owners         int           `json:"owners"`
	Waypoints      int           `json:"waypoints"`
	MeanSalience   float64       `json:"mean_salience"`
	MeanEdgeWeight float64       `json:"mean_waypoint_weight"`
	Sectors        []SectorStats `json:"sectors"`
}

// SectorStats holds per-sector counts.
type SectorStats struct {
	Sector    model.Sector `json:"sector"`
	Primary   int          `json:"primary"`
	Vectors   int          `json:"vectors"`
	Dim       int          `json:"dim,omitempty"`
	Delegated bool         `json:"delegated,omitempty"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cold), 0),
		       COALESCE(SUM(CASE WHEN consolidated_into != '' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT NULLIF(owner, '')), COALESCE(AVG(salience), 0)
		FROM memories`).
		Scan(&st.TotalMemories, &st.ColdMemories, &st.Consolidated, &st.Owners, &st.MeanSalience)
	if err != nil {
		return nil, model.NewStorageError("stats", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(weight), 0) FROM waypoints`).
		Scan(&st.Waypoints, &st.MeanEdgeWeight)
	if err != nil {
		return nil, model.NewStorageError("stats", err)
	}

	primary, err := s.countBy(ctx, `SELECT primary_sector, COUNT(*) FROM memories GROUP BY primary_sector`)
	if err != nil {
		return nil, err
	}
	vecs, err := s.countBy(ctx, `SELECT sector, COUNT(*) FROM vectors GROUP BY sector`)
	if err != nil {
		return nil, err
	}
	dims, err := s.countBy(ctx, `SELECT sector, dim FROM sector_dims`)
	if err != nil {
		return nil, err
	}

	for _, sec := range model.Sectors {
		st.Sectors = append(st.Sectors, SectorStats{
			Sector:    sec,
			Primary:   primary[sec],
			Vectors:   vecs[sec],
			Dim:       dims[sec],
			Delegated: s.index.Delegated(string(sec)),
		})
	}
	return st, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, query string) (map[model.Sector]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.NewStorageError("stats", err)
	}
	defer rows.Close()

	out := make(map[model.Sector]int)
	for rows.Next() {
		var sec string
		var n int
		if err := rows.Scan(&sec, &n); err != nil {
			return nil, model.NewStorageError("stats", err)
		}
		out[model.Sector(sec)] = n
	}
	return out, model.NewStorageError("stats", rows.Err())
}
