package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextPacksWithinBudget(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "The deploy pipeline runs on every merge to main", nil)
	add(t, e, "Tokyo is known as the capital of Japan", nil)

	res, err := e.Context(ctx, ContextParams{Query: "deploy pipeline", Owner: "alice", Budget: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Budget)
	assert.Len(t, res.Memories, 2)
	assert.LessOrEqual(t, res.Used, res.Budget)
	assert.Equal(t, "The deploy pipeline runs on every merge to main", res.Memories[0].Content)
	assert.Empty(t, res.Summary)
}

func TestContextExcerptsLastMemory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	long := "The deploy pipeline runs on every merge to main. " + strings.Repeat("It builds, tests and ships the service. ", 20)
	add(t, e, long, nil)

	res, err := e.Context(ctx, ContextParams{Query: "deploy pipeline", Budget: 50})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.True(t, res.Memories[0].Excerpt)
	assert.LessOrEqual(t, len(res.Memories[0].Content), 50*charsPerToken+3)
}

func TestContextIncludesSummary(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	add(t, e, "Tokyo is known as the capital of Japan", nil)
	_, err := e.RefreshUserSummaries(ctx, t0.Add(time.Hour))
	require.NoError(t, err)

	res, err := e.Context(ctx, ContextParams{Query: "capital", Owner: "alice"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "1 recent memories")
	assert.Equal(t, defaultContextBudget, res.Budget)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "h", truncateRunes("héllo", 2))
	assert.Equal(t, "hé", truncateRunes("héllo", 3))
}
