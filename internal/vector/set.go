package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// DefaultDelegateThreshold is the sector size above which search moves from a
// linear scan to the chromem-go delegate.
const DefaultDelegateThreshold = 2048

// Set keeps one index per named partition (a sector). Partitions start as
// Linear and are migrated to Chromem once they grow past the threshold.
type Set struct {
	mu        sync.RWMutex
	threshold int
	db        *chromem.DB
	parts     map[string]Index
	gen       int
}

// NewSet creates an empty set. threshold <= 0 disables delegation.
func NewSet(threshold int) *Set {
	return &Set{
		threshold: threshold,
		db:        chromem.NewDB(),
		parts:     make(map[string]Index),
	}
}

// Has reports whether the partition has been created (loaded).
func (s *Set) Has(part string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.parts[part]
	return ok
}

// Load creates part and fills it through fill, unless it already exists.
// Writers block until the fill completes.
func (s *Set) Load(ctx context.Context, part string, fill func(add func(id string, v Vector) error) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[part]; ok {
		return nil
	}
	lin := NewLinear()
	err := fill(func(id string, v Vector) error {
		return lin.Upsert(ctx, id, v)
	})
	if err != nil {
		return err
	}
	s.parts[part] = lin
	return s.maybeDelegateLocked(ctx, part)
}

// Ensure creates an empty partition if it is missing.
func (s *Set) Ensure(part string) {
	s.mu.Lock()
	if _, ok := s.parts[part]; !ok {
		s.parts[part] = NewLinear()
	}
	s.mu.Unlock()
}

// Drop forgets a partition so it is reloaded on next use.
func (s *Set) Drop(part string) {
	s.mu.Lock()
	delete(s.parts, part)
	s.mu.Unlock()
}

func (s *Set) get(part string) (Index, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.parts[part]
	return idx, ok
}

// Upsert stores v in part. It is a no-op for partitions that were never
// loaded; they are populated from the store on first search.
func (s *Set) Upsert(ctx context.Context, part, id string, v Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.parts[part]
	if !ok {
		return nil
	}
	if err := idx.Upsert(ctx, id, v); err != nil {
		return err
	}
	return s.maybeDelegateLocked(ctx, part)
}

// Remove deletes id from part.
func (s *Set) Remove(ctx context.Context, part, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.parts[part]
	if !ok {
		return nil
	}
	return idx.Remove(ctx, id)
}

// Search returns the k most similar vectors in part.
func (s *Set) Search(ctx context.Context, part string, q Vector, k int) ([]Hit, error) {
	idx, ok := s.get(part)
	if !ok {
		return nil, nil
	}
	return idx.Search(ctx, q, k)
}

// Len returns the partition size.
func (s *Set) Len(part string) int {
	idx, ok := s.get(part)
	if !ok {
		return 0
	}
	return idx.Len()
}

// Delegated reports whether part is served by the chromem-go delegate.
func (s *Set) Delegated(part string) bool {
	idx, ok := s.get(part)
	if !ok {
		return false
	}
	_, isChromem := idx.(*Chromem)
	return isChromem
}

func (s *Set) maybeDelegateLocked(ctx context.Context, part string) error {
	if s.threshold <= 0 {
		return nil
	}
	lin, ok := s.parts[part].(*Linear)
	if !ok || lin.Len() <= s.threshold {
		return nil
	}
	s.gen++
	del, err := NewChromem(s.db, fmt.Sprintf("sector_%s_%d", part, s.gen))
	if err != nil {
		return err
	}
	var firstErr error
	lin.each(func(id string, v Vector) {
		if firstErr != nil {
			return
		}
		firstErr = del.Upsert(ctx, id, v)
	})
	if firstErr != nil {
		return fmt.Errorf("migrate %s to delegate index: %w", part, firstErr)
	}
	s.parts[part] = del
	return nil
}
