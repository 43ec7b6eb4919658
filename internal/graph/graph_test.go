package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/store"
	"github.com/rcliao/sector-memory/internal/vector"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGraph(t *testing.T, n int) (*Graph, *store.SQLiteStore, []string) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ids := make([]string, n)
	for i := range ids {
		m, err := st.Add(context.Background(), &model.Memory{
			Content:       "memory",
			PrimarySector: model.Semantic,
			Salience:      0.5,
			CreatedAt:     now,
		}, []model.SectorVector{{Sector: model.Semantic, Vector: vector.Vector{1, float32(i)}}})
		require.NoError(t, err)
		ids[i] = m.ID
	}
	return New(st, Options{}), st, ids
}

func TestLinkKeepsSingleOutgoingEdge(t *testing.T) {
	ctx := context.Background()
	g, st, ids := newTestGraph(t, 3)

	_, err := g.Link(ctx, ids[0], ids[1], 0.8, now)
	require.NoError(t, err)
	w, err := g.Link(ctx, ids[0], ids[2], 0.9, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ids[2], w.DstID)

	all, err := st.Waypoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ids[2], all[0].DstID)
	assert.InDelta(t, 0.9, all[0].Weight, 1e-9)
}

func TestLinkSameTargetKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	g, _, ids := newTestGraph(t, 2)

	_, err := g.Link(ctx, ids[0], ids[1], 0.8, now)
	require.NoError(t, err)
	w, err := g.Link(ctx, ids[0], ids[1], 0.85, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, w.CreatedAt.Equal(now))
	assert.True(t, w.UpdatedAt.Equal(now.Add(time.Hour)))
}

func TestLinkErrors(t *testing.T) {
	ctx := context.Background()
	g, _, ids := newTestGraph(t, 1)

	_, err := g.Link(ctx, ids[0], "missing", 0.8, now)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = g.Link(ctx, ids[0], ids[0], 0.8, now)
	assert.True(t, errors.Is(err, model.ErrInvalidQuery))
}

func TestLinkBest(t *testing.T) {
	ctx := context.Background()
	g, _, ids := newTestGraph(t, 3)

	mean := vector.Vector{1, 0}
	w, err := g.LinkBest(ctx, ids[0], mean, []Candidate{
		{ID: ids[1], Mean: vector.Vector{0.9, 0.1}},
		{ID: ids[2], Mean: vector.Vector{0, 1}},
	}, now)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, ids[1], w.DstID)
	assert.InDelta(t, vector.Cosine(mean, vector.Vector{0.9, 0.1}), w.Weight, 1e-6)

	w, err = g.LinkBest(ctx, ids[2], vector.Vector{0, 1}, []Candidate{{ID: ids[1], Mean: vector.Vector{1, 0}}}, now)
	require.NoError(t, err)
	assert.Nil(t, w, "below threshold should not link")
}

func TestReinforce(t *testing.T) {
	ctx := context.Background()
	g, st, ids := newTestGraph(t, 3)
	_, err := g.Link(ctx, ids[0], ids[1], 0.98, now)
	require.NoError(t, err)

	ok, err := g.Reinforce(ctx, ids[0], ids[1], DefaultReinforceDelta, now)
	require.NoError(t, err)
	assert.True(t, ok)
	w, _ := st.Waypoint(ctx, ids[0])
	assert.Equal(t, 1.0, w.Weight, "weight is capped at 1")

	ok, err = g.Reinforce(ctx, ids[0], ids[2], DefaultReinforceDelta, now)
	require.NoError(t, err)
	assert.False(t, ok, "reinforcing a missing edge is a no-op")
	_, err = st.Waypoint(ctx, ids[2])
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestExpand(t *testing.T) {
	ctx := context.Background()
	g, _, ids := newTestGraph(t, 5)
	// 0 -> 1 (0.9) -> 2 (0.5); 3 -> 4 (0.8)
	for _, l := range []struct {
		src, dst int
		w        float64
	}{{0, 1, 0.9}, {1, 2, 0.5}, {3, 4, 0.8}} {
		_, err := g.Link(ctx, ids[l.src], ids[l.dst], l.w, now)
		require.NoError(t, err)
	}

	got, err := g.Expand(ctx, []string{ids[0], ids[3]}, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].ID)
	assert.Equal(t, []string{ids[0], ids[1]}, got[0].Path)
	assert.Equal(t, ids[4], got[1].ID)

	got, err = g.Expand(ctx, []string{ids[0]}, 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[1].ID)
	assert.Equal(t, 2, got[1].Depth)
	assert.InDelta(t, 0.45, got[1].Weight, 1e-9)

	got, err = g.Expand(ctx, []string{ids[0], ids[3]}, 1, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1, "max_new caps the expansion")

	got, err = g.Expand(ctx, []string{ids[0], ids[1]}, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "seeds are never returned")
	assert.Equal(t, ids[2], got[0].ID)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	g, st, ids := newTestGraph(t, 4)
	_, err := g.Link(ctx, ids[0], ids[1], 0.01, now)
	require.NoError(t, err)
	_, err = g.Link(ctx, ids[2], ids[3], 0.9, now)
	require.NoError(t, err)

	res, err := g.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Weak)

	all, _ := st.Waypoints(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, ids[2], all[0].SrcID)

	res, err = g.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res, "prune is idempotent")
}

func TestPruneSkipsEdgeChangedSinceSnapshot(t *testing.T) {
	ctx := context.Background()
	g, st, ids := newTestGraph(t, 2)
	_, err := g.Link(ctx, ids[0], ids[1], 0.01, now)
	require.NoError(t, err)

	snap, _ := st.Waypoints(ctx)
	_, err = g.Reinforce(ctx, ids[0], ids[1], 0.001, now.Add(time.Second))
	require.NoError(t, err)

	ok, err := st.DeleteWaypointIf(ctx, snap[0])
	require.NoError(t, err)
	assert.False(t, ok, "a stale snapshot must not delete a reinforced edge")
}

func TestNeighborhood(t *testing.T) {
	ctx := context.Background()
	g, _, ids := newTestGraph(t, 4)
	_, err := g.Link(ctx, ids[0], ids[1], 0.9, now)
	require.NoError(t, err)
	_, err = g.Link(ctx, ids[2], ids[1], 0.8, now)
	require.NoError(t, err)
	_, err = g.Link(ctx, ids[3], ids[2], 0.8, now)
	require.NoError(t, err)

	sub, err := g.Neighborhood(ctx, ids[1], 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[1], ids[2]}, sub.Nodes)
	assert.Len(t, sub.Edges, 2)

	sub, err = g.Neighborhood(ctx, ids[1], 2)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 4)

	_, err = g.Neighborhood(ctx, "missing", 1)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
