package engine

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/sector-memory/internal/embedding"
	"github.com/rcliao/sector-memory/internal/model"
)

func resultIDs(rs []Result) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	sort.Strings(ids)
	return ids
}

func TestQueryFindsPreference(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mem := add(t, e, "User prefers dark mode", nil).Memory
	assert.Equal(t, model.Semantic, mem.PrimarySector)
	for _, c := range []string{
		"Tokyo is known as the capital of Japan",
		"The deploy pipeline runs on every merge to main",
		"Water boils at one hundred degrees Celsius",
		"The quarterly report is due on Friday",
		"Paris hosts the Louvre museum",
		"Rust compiles to native machine code",
	} {
		add(t, e, c, nil)
	}

	rs, err := e.Query(ctx, QueryParams{Text: "what theme does the user like", K: 3})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, mem.ID, rs[0].ID)
	assert.Greater(t, rs[0].Score, 0.7)
	assert.Contains(t, rs[0].Sectors, model.Semantic)
	for _, r := range rs[1:] {
		assert.Less(t, r.Score, 0.5, r.Content)
	}

	got, err := e.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Salience, 1e-9)
}

func TestQueryScoresAreSortedAndBounded(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "The deploy pipeline runs on every merge to main", nil)
	add(t, e, "Tokyo is known as the capital of Japan", nil)
	add(t, e, "User prefers dark mode", nil)

	rs, err := e.Query(ctx, QueryParams{Text: "deploy pipeline merge", K: 3})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, "The deploy pipeline runs on every merge to main", rs[0].Content)
	for i, r := range rs {
		assert.Greater(t, r.Score, 0.0)
		assert.Less(t, r.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, rs[i-1].Score, r.Score)
		}
	}
}

func TestQueryTruncatesToK(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, c := range []string{"alpha note", "beta note", "gamma note", "delta note"} {
		add(t, e, c, nil)
	}
	rs, err := e.Query(context.Background(), QueryParams{Text: "note", K: 2})
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestQueryMinScoreSkipsReinforcement(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := add(t, e, "alpha note", nil).Memory
	add(t, e, "beta note", nil)

	rs, err := e.Query(ctx, QueryParams{Text: "alpha note", K: 5, MinScore: 0.99})
	require.NoError(t, err)
	assert.Empty(t, rs)

	got, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Salience)
}

func TestQueryFiltersOwner(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Add(ctx, AddParams{Content: "User prefers dark mode", Owner: "bob"})
	require.NoError(t, err)
	mine := add(t, e, "User prefers light mode", nil).Memory

	rs, err := e.Query(ctx, QueryParams{Text: "user mode", K: 5, Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, resultIDs(rs))
}

func TestQuerySectorAllowList(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "Tokyo is known as the capital of Japan", nil)
	proc := add(t, e, "How to install the package: run make install", nil).Memory

	rs, err := e.Query(ctx, QueryParams{Text: "install package", K: 5, Sectors: []model.Sector{model.Procedural}})
	require.NoError(t, err)
	assert.Equal(t, []string{proc.ID}, resultIDs(rs))
	assert.Equal(t, []model.Sector{model.Procedural}, rs[0].Sectors)
}

func TestQueryRejectsBadInput(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tests := []struct {
		name string
		p    QueryParams
	}{
		{"empty text", QueryParams{Text: "  ", K: 3}},
		{"zero k", QueryParams{Text: "x", K: 0}},
		{"unknown sector", QueryParams{Text: "x", K: 3, Sectors: []model.Sector{"musical"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Query(ctx, tt.p)
			assert.ErrorIs(t, err, model.ErrInvalidQuery)
		})
	}
}

func TestQueryEmptyStore(t *testing.T) {
	e, _ := newTestEngine(t)
	rs, err := e.Query(context.Background(), QueryParams{Text: "anything at all", K: 3})
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestQueryWaypointExpansion(t *testing.T) {
	st := newTestStore(t)
	clk := &clock{t: t0}
	base := newEngineOn(t, st, embedding.NewSynthetic(0), testOptions(clk))
	ctx := context.Background()

	a := add(t, base, "Tokyo is known as the capital of Japan", nil).Memory
	b := add(t, base, "How to install the package: run make install", nil).Memory
	require.Equal(t, []model.Sector{model.Procedural}, b.SectorSet())
	_, err := base.Link(ctx, a.ID, b.ID, 0.9)
	require.NoError(t, err)

	off := testOptions(clk)
	off.ExpansionThreshold = -1
	rs, err := newEngineOn(t, st, embedding.NewSynthetic(0), off).Query(ctx, QueryParams{Text: "capital of Japan", K: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, resultIDs(rs))

	always := testOptions(clk)
	always.ExpansionThreshold = 1.0
	rs, err = newEngineOn(t, st, embedding.NewSynthetic(0), always).Query(ctx, QueryParams{Text: "capital of Japan", K: 5})
	require.NoError(t, err)
	want := []string{a.ID, b.ID}
	sort.Strings(want)
	assert.Equal(t, want, resultIDs(rs))

	for _, r := range rs {
		if r.ID == b.ID {
			assert.Equal(t, []string{a.ID, b.ID}, r.Path)
			assert.Equal(t, []model.Sector{model.Procedural}, r.Sectors)
		}
	}

	// the traversed edge was reinforced
	wp, err := st.Waypoint(ctx, a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, wp.Weight, 1e-9)
}

func TestQueryReinforcesCoRetrievedEdge(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "The deploy pipeline runs on every merge to main", nil)
	second := add(t, e, "The deploy pipeline runs on every merge to main branch", nil)
	require.NotNil(t, second.Waypoint)
	before := second.Waypoint.Weight

	rs, err := e.Query(ctx, QueryParams{Text: "deploy pipeline merge main", K: 5})
	require.NoError(t, err)
	require.Len(t, rs, 2)

	wp, err := e.st.Waypoint(ctx, second.Memory.ID)
	require.NoError(t, err)
	assert.InDelta(t, min(1, before+0.05), wp.Weight, 1e-9)
}

func TestQueryRateLimited(t *testing.T) {
	clk := &clock{t: t0}
	opts := testOptions(clk)
	opts.MaxInFlight = 1
	emb := newBlockingEmbedder()
	e := newEngineOn(t, newTestStore(t), emb, opts)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := e.Query(ctx, QueryParams{Text: "first query", K: 3})
		done <- err
	}()
	<-emb.started

	_, err := e.Query(ctx, QueryParams{Text: "second query", K: 3})
	assert.ErrorIs(t, err, model.ErrRateLimited)

	close(emb.release)
	assert.NoError(t, <-done)

	_, err = e.Query(ctx, QueryParams{Text: "third query", K: 3})
	assert.NoError(t, err)
}

func TestQueryEmbeddingUnavailable(t *testing.T) {
	clk := &clock{t: t0}
	e := newEngineOn(t, newTestStore(t), failingEmbedder{}, testOptions(clk))
	_, err := e.Query(context.Background(), QueryParams{Text: "anything", K: 3})
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
}

func TestQuerySectorsOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	cls := e.Classifier().Classify("how to deploy when I feel anxious", nil)
	got := querySectors(cls, nil)
	assert.Equal(t, cls.Primary, got[0])
	assert.Contains(t, got, model.Semantic)

	got = querySectors(cls, []model.Sector{model.Episodic})
	assert.Equal(t, []model.Sector{model.Episodic}, got)
}

func TestLogistic(t *testing.T) {
	assert.Equal(t, 0.5, logistic(0))
	assert.Greater(t, logistic(2), 0.85)
	assert.Less(t, logistic(-2), 0.15)
}
