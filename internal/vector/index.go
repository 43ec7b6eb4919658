package vector

import (
	"context"
	"sort"
	"sync"
)

// Hit is one nearest-neighbour result.
type Hit struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Index is a nearest-neighbour index over one sector's vectors.
type Index interface {
	Upsert(ctx context.Context, id string, v Vector) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, q Vector, k int) ([]Hit, error)
	Len() int
}

// Linear is an exact index that scans every vector.
type Linear struct {
	mu   sync.RWMutex
	vecs map[string]Vector
}

// NewLinear creates an empty linear index.
func NewLinear() *Linear {
	return &Linear{vecs: make(map[string]Vector)}
}

func (l *Linear) Upsert(_ context.Context, id string, v Vector) error {
	l.mu.Lock()
	l.vecs[id] = v
	l.mu.Unlock()
	return nil
}

func (l *Linear) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	delete(l.vecs, id)
	l.mu.Unlock()
	return nil
}

func (l *Linear) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vecs)
}

func (l *Linear) Search(_ context.Context, q Vector, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	l.mu.RLock()
	hits := make([]Hit, 0, len(l.vecs))
	for id, v := range l.vecs {
		hits = append(hits, Hit{ID: id, Similarity: Cosine(q, v)})
	}
	l.mu.RUnlock()
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// each calls fn for every stored vector.
func (l *Linear) each(fn func(id string, v Vector)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, v := range l.vecs {
		fn(id, v)
	}
}

// SortHits orders by similarity descending, then id for determinism.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
}
