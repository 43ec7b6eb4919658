package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/sector-memory/internal/model"
)

const day = 24 * time.Hour

func TestDecaySweepCoolsFadedMemory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mem := add(t, e, "I felt so anxious and upset yesterday", map[string]any{model.MetaSector: "emotional"}).Memory
	require.Equal(t, 0.02, mem.DecayLambda)

	now := t0.Add(90 * day)
	rep, err := e.RunDecaySweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Decayed)
	assert.Equal(t, 1, rep.Cooled)

	got, err := e.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*math.Exp(-1.8), got.Salience, 1e-3)
	assert.True(t, got.Cold)
	assert.Equal(t, now, got.DecayedAt)

	vecs, err := e.st.Vectors(ctx, mem.ID)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0].Compressed, 64)
	assert.Len(t, vecs[0].Vector, 384)

	// same instant again: nothing left to decay
	rep, err = e.RunDecaySweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Decayed)
	assert.Equal(t, 0, rep.Cooled)
	again, err := e.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Salience, again.Salience)
}

func TestDecaySweepIsAdditive(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mem := add(t, e, "Tokyo is known as the capital of Japan", nil).Memory

	_, err := e.RunDecaySweep(ctx, t0.Add(10*day))
	require.NoError(t, err)
	_, err = e.RunDecaySweep(ctx, t0.Add(20*day))
	require.NoError(t, err)
	stepped, err := e.Get(ctx, mem.ID)
	require.NoError(t, err)

	want := e.decay.Decayed(model.Semantic, e.decay.Decayed(model.Semantic, 0.5, 10), 10)
	assert.InDelta(t, want, stepped.Salience, 1e-12)
	assert.False(t, stepped.Cold)
}

func TestReinforceWarmsColdMemory(t *testing.T) {
	e, clk := newTestEngine(t)
	ctx := context.Background()
	mem := add(t, e, "plain note", map[string]any{model.MetaSalience: 0.05}).Memory

	_, err := e.RunDecaySweep(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	got, err := e.Get(ctx, mem.ID)
	require.NoError(t, err)
	require.True(t, got.Cold)

	clk.Set(t0.Add(2 * time.Hour))
	_, err = e.Reinforce(ctx, mem.ID, 0.5)
	require.NoError(t, err)

	rep, err := e.RunDecaySweep(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Warmed)
	got, err = e.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.False(t, got.Cold)
	vecs, err := e.st.Vectors(ctx, mem.ID)
	require.NoError(t, err)
	assert.Empty(t, vecs[0].Compressed)
}

func TestRunReflectionConsolidatesCluster(t *testing.T) {
	e, clk := newTestEngine(t)
	ctx := context.Background()
	a := add(t, e, "The deploy pipeline runs on every merge to main", nil).Memory
	b := add(t, e, "The deploy pipeline runs on every merge to main branch", nil).Memory
	other := add(t, e, "Tokyo is known as the capital of Japan", nil).Memory

	now := t0.Add(time.Hour)
	clk.Set(now)
	rep, err := e.RunReflection(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 1, rep.Clusters)
	assert.Equal(t, 2, rep.Consolidated)
	require.Len(t, rep.Created, 1)

	refl, err := e.Get(ctx, rep.Created[0])
	require.NoError(t, err)
	assert.Equal(t, model.Reflective, refl.PrimarySector)
	assert.Equal(t, []string{"reflection"}, refl.Tags)
	assert.Equal(t, "alice", refl.Owner)
	ids, ok := refl.Metadata.Strings(model.MetaSourceIDs)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	assert.Contains(t, refl.Content, "deploy pipeline")

	for _, id := range []string{a.ID, b.ID} {
		m, err := e.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, refl.ID, m.ConsolidatedInto)
		assert.InDelta(t, 0.55, m.Salience, 0.01)
	}
	m, err := e.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, m.ConsolidatedInto)

	sum, err := e.Summary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ReflectionCount)

	// consolidated and reflective memories are not clustered again
	rep, err = e.RunReflection(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, rep.Clusters)
}

func TestRunReflectionRespectsWindowAndOwner(t *testing.T) {
	e, clk := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "The deploy pipeline runs on every merge to main", nil)
	_, err := e.Add(ctx, AddParams{Content: "The deploy pipeline runs on every merge to main branch", Owner: "bob"})
	require.NoError(t, err)

	rep, err := e.RunReflection(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, rep.Clusters, "different owners never cluster")

	clk.Set(t0.Add(3 * day))
	add(t, e, "The deploy pipeline runs on every merge to main branch", nil)
	rep, err = e.RunReflection(ctx, t0.Add(3*day))
	require.NoError(t, err)
	assert.Zero(t, rep.Clusters, "old memories fall outside the window")
}

func TestRefreshUserSummaries(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "The deploy pipeline runs on every merge to main", nil)
	add(t, e, "Tokyo is known as the capital of Japan", nil)
	_, err := e.Add(ctx, AddParams{Content: "shared note"})
	require.NoError(t, err)

	n, err := e.RefreshUserSummaries(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sum, err := e.Summary(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, sum.Summary, "2 recent memories")
	assert.Contains(t, sum.Summary, "procedural 1")
	assert.Contains(t, sum.Summary, "Tokyo is known as the capital of Japan")
	assert.Equal(t, t0.Add(time.Hour), sum.UpdatedAt)

	// inactive owners are left alone
	n, err = e.RefreshUserSummaries(ctx, t0.Add(10*day))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruneWaypoints(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := add(t, e, "Tokyo is known as the capital of Japan", nil).Memory
	b := add(t, e, "How to install the package: run make install", nil).Memory
	_, err := e.Link(ctx, a.ID, b.ID, 0.01)
	require.NoError(t, err)

	res, err := e.PruneWaypoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Weak)
	_, err = e.st.Waypoint(ctx, a.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
