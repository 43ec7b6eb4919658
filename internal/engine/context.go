package engine

import (
	"context"
	"errors"
	"math"

	"github.com/rcliao/sector-memory/internal/model"
)

const (
	defaultContextBudget = 1000 // tokens
	charsPerToken        = 4
	minExcerpt           = 100
	contextCandidates    = 50
)

// ContextParams describes a context assembly request.
type ContextParams struct {
	Query  string
	Owner  string
	Budget int // tokens
}

// ContextMemory is one memory placed in an assembled context.
type ContextMemory struct {
	ID      string       `json:"id"`
	Sector  model.Sector `json:"sector"`
	Content string       `json:"content"`
	Score   float64      `json:"score"`
	Excerpt bool         `json:"excerpt,omitempty"`
}

// ContextResult is an assembled context block.
type ContextResult struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Summary  string          `json:"summary,omitempty"`
	Memories []ContextMemory `json:"memories"`
}

// Context packs the best query results for p.Query into a token budget,
// led by the owner's summary when there is one. The last memory that does
// not fit whole is excerpted if enough room is left.
func (e *Engine) Context(ctx context.Context, p ContextParams) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = defaultContextBudget
	}
	room := budget * charsPerToken
	res := &ContextResult{Budget: budget, Memories: []ContextMemory{}}

	if p.Owner != "" {
		sum, err := e.st.GetSummary(ctx, p.Owner)
		switch {
		case err == nil && sum.Summary != "" && len(sum.Summary) <= room:
			res.Summary = sum.Summary
			room -= len(sum.Summary)
		case err != nil && !errors.Is(err, model.ErrNotFound):
			return nil, err
		}
	}

	results, err := e.Query(ctx, QueryParams{Text: p.Query, K: contextCandidates, Owner: p.Owner})
	if err != nil {
		return nil, err
	}

	used := 0
	for _, r := range results {
		cm := ContextMemory{ID: r.ID, Content: r.Content, Score: math.Round(r.Score*100) / 100}
		if len(r.Sectors) > 0 {
			cm.Sector = r.Sectors[0]
		}
		if used+len(r.Content) <= room {
			res.Memories = append(res.Memories, cm)
			used += len(r.Content)
			continue
		}
		if left := room - used; left >= minExcerpt {
			cm.Content = truncateRunes(r.Content, left) + "..."
			cm.Excerpt = true
			res.Memories = append(res.Memories, cm)
			used += len(cm.Content)
		}
		break
	}
	res.Used = (used + len(res.Summary)) / charsPerToken
	return res, nil
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
