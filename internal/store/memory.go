package store

import (
	"context"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Memory is an in-process store used by tests and by callers that want a
// run without durable state. Values round-trip through the same canonical
// encoding as the local store so behavior matches.
type Memory struct {
	mu          sync.RWMutex
	values      map[string]cty.Value
	records     map[string]Record
	invalidated map[string]bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:      make(map[string]cty.Value),
		records:     make(map[string]Record),
		invalidated: make(map[string]bool),
	}
}

// Put implements Store.
func (s *Memory) Put(ctx context.Context, id string, value cty.Value, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = value
	s.records[id] = rec
	delete(s.invalidated, id)
	return nil
}

// Get implements Store.
func (s *Memory) Get(ctx context.Context, id string) (cty.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	if !ok {
		return cty.NilVal, ErrNotFound
	}
	return v, nil
}

// GetMetadata implements Store.
func (s *Memory) GetMetadata(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete implements Store.
func (s *Memory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, id)
	delete(s.records, id)
	delete(s.invalidated, id)
	return nil
}

// List implements Store.
func (s *Memory) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Invalidate implements Store.
func (s *Memory) Invalidate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated[id] = true
	return nil
}

// IsInvalidated implements Store.
func (s *Memory) IsInvalidated(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalidated[id], nil
}

// Close implements Store.
func (s *Memory) Close() error { return nil }
