package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
)

// ExportVersion is bumped whenever the export layout changes.
const ExportVersion = 1

// Export is a portable dump of memories, their vectors, waypoints and summaries.
type Export struct {
	Version    int                 `json:"version"`
	ExportedAt time.Time           `json:"exported_at"`
	Memories   []ExportedMemory    `json:"memories"`
	Waypoints  []model.Waypoint    `json:"waypoints,omitempty"`
	Summaries  []model.UserSummary `json:"summaries,omitempty"`
}

// ExportedMemory carries a memory with everything needed to restore it.
type ExportedMemory struct {
	model.Memory
	MeanVector []float32            `json:"mean_vector,omitempty"`
	Vectors    []model.SectorVector `json:"vectors"`
}

// ExportAll dumps every memory, optionally restricted to one owner. Waypoints
// are included only when both endpoints are exported.
func (s *SQLiteStore) ExportAll(ctx context.Context, owner string) (*Export, error) {
	memories, err := s.Scan(ctx, ScanParams{Owner: owner})
	if err != nil {
		return nil, err
	}

	exp := &Export{Version: ExportVersion, ExportedAt: time.Now().UTC()}
	ids := make(map[string]bool, len(memories))
	for _, m := range memories {
		vecs, err := s.Vectors(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		exp.Memories = append(exp.Memories, ExportedMemory{Memory: m, MeanVector: m.MeanVector, Vectors: vecs})
		ids[m.ID] = true
	}

	ws, err := s.Waypoints(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range ws {
		if ids[w.SrcID] && ids[w.DstID] {
			exp.Waypoints = append(exp.Waypoints, w)
		}
	}

	if exp.Summaries, err = s.summaries(ctx, owner); err != nil {
		return nil, err
	}
	return exp, nil
}

// Import restores an export. Memories whose id already exists are skipped.
// It returns the number of memories imported.
func (s *SQLiteStore) Import(ctx context.Context, exp *Export) (int, error) {
	imported := 0
	for _, em := range exp.Memories {
		if _, err := s.Get(ctx, em.ID); err == nil {
			continue
		} else if !errors.Is(err, model.ErrNotFound) {
			return imported, err
		}
		m := em.Memory
		m.MeanVector = em.MeanVector
		if _, err := s.Add(ctx, &m, em.Vectors); err != nil {
			return imported, err
		}
		imported++
	}

	for _, w := range exp.Waypoints {
		if err := s.UpsertWaypoint(ctx, w); err != nil && !errors.Is(err, model.ErrNotFound) {
			return imported, err
		}
	}
	for _, us := range exp.Summaries {
		if err := s.UpsertSummary(ctx, us); err != nil {
			return imported, err
		}
		// UpsertSummary keeps an existing count; restore it for fresh owners.
		if cur, err := s.GetSummary(ctx, us.Owner); err == nil && cur.ReflectionCount < us.ReflectionCount {
			if err := s.AddReflections(ctx, us.Owner, us.ReflectionCount-cur.ReflectionCount, us.UpdatedAt); err != nil {
				return imported, err
			}
		}
	}
	return imported, nil
}
