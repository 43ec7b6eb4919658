package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Chromem delegates search to an embedded chromem-go collection. chromem-go
// normalises documents on insert, so similarities are cosine.
type Chromem struct {
	mu  sync.Mutex
	col *chromem.Collection
}

// NewChromem creates a delegate index backed by a fresh collection in db.
func NewChromem(db *chromem.DB, name string) (*Chromem, error) {
	// embeddings are always supplied, so no embedding func is needed
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Chromem{col: col}, nil
}

func (c *Chromem) Upsert(ctx context.Context, id string, v Vector) error {
	if Norm(v) == 0 {
		// chromem cannot normalise a zero vector; it can never match anyway
		return c.Remove(ctx, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(Vector, len(v))
	copy(cp, v)
	return c.col.AddDocument(ctx, chromem.Document{ID: id, Embedding: cp, Content: id})
}

func (c *Chromem) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.col.Delete(ctx, nil, nil, id)
}

func (c *Chromem) Len() int {
	return c.col.Count()
}

func (c *Chromem) Search(ctx context.Context, q Vector, k int) ([]Hit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// chromem-go requires nResults <= collection size
	if n := c.col.Count(); k > n {
		k = n
	}
	if k <= 0 || Norm(q) == 0 {
		return nil, nil
	}
	results, err := c.col.QueryEmbedding(ctx, q, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	SortHits(hits)
	return hits, nil
}
