package engine

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

// ttlCache is a bounded, TTL-expiring cache shared by concurrent queries.
type ttlCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newTTLCache(maxItems int64, ttl time.Duration) (*ttlCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &ttlCache{c: c, ttl: ttl}, nil
}

func (t *ttlCache) get(key string) (any, bool) { return t.c.Get(key) }

func (t *ttlCache) set(key string, v any) { t.c.SetWithTTL(key, v, 1, t.ttl) }

func (t *ttlCache) del(key string) { t.c.Del(key) }

func (t *ttlCache) close() { t.c.Close() }

func embeddingKey(s model.Sector, text string) string {
	return string(s) + "\x00" + text
}

func (e *Engine) cachedEmbedding(s model.Sector, text string) (vector.Vector, bool) {
	v, ok := e.embeddings.get(embeddingKey(s, text))
	if !ok {
		return nil, false
	}
	vec, ok := v.(vector.Vector)
	return vec, ok
}

type cachedRow struct {
	m   *model.Memory
	gen uint64
}

func (e *Engine) cachedMemory(id string) (*model.Memory, bool) {
	v, ok := e.memories.get(id)
	if !ok {
		return nil, false
	}
	row, ok := v.(cachedRow)
	if !ok || row.gen != e.gens.current(id) {
		return nil, false
	}
	return row.m, true
}

// cacheMemory stores m if no write happened since gen was taken. Sets are
// applied asynchronously, so a stale row can still land; the generation
// check in cachedMemory rejects it.
func (e *Engine) cacheMemory(m *model.Memory, gen uint64) {
	if e.gens.current(m.ID) == gen {
		e.memories.set(m.ID, cachedRow{m: m, gen: gen})
	}
}

// forget invalidates a memory row after a local write.
func (e *Engine) forget(ids ...string) {
	for _, id := range ids {
		e.gens.bump(id)
		e.memories.del(id)
	}
}
