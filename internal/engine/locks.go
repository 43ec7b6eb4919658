package engine

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const lockStripes = 256

// stripedLock serialises read-modify-write cycles per memory id without
// keeping one mutex per id alive.
type stripedLock struct {
	mu [lockStripes]sync.Mutex
}

func stripe(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32() % lockStripes
}

func (l *stripedLock) lock(id string) func() {
	m := &l.mu[stripe(id)]
	m.Lock()
	return m.Unlock
}

// generations count writes per stripe. A cached row is valid only while its
// stripe has not been written since the row was read.
type generations struct {
	n [lockStripes]atomic.Uint64
}

func (g *generations) current(id string) uint64 { return g.n[stripe(id)].Load() }

func (g *generations) bump(id string) { g.n[stripe(id)].Add(1) }
