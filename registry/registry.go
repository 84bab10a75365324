// Package registry holds all job, batch and session state in memory. It is
// the lifecycle root for every record: workers and orchestrators mutate
// records only through Update, which serializes writes per id.
package registry

import (
	"sync"

	"downpour/types"
)

// Store is a concurrency-safe map of id to record. Operations on different
// ids do not block each other; operations on the same id are linearized by
// a per-record lock.
type Store[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	mu  sync.Mutex
	rec T
}

// NewStore creates an empty store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{entries: make(map[string]*entry[T])}
}

// Put registers a record under id. An existing record is replaced.
func (s *Store[T]) Put(id string, rec T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry[T]{rec: rec}
}

// Get returns a copy of the record, or ErrNotFound.
func (s *Store[T]) Get(id string) (T, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	var zero T
	if !ok {
		return zero, types.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Update applies fn to the record under its lock, or returns ErrNotFound.
func (s *Store[T]) Update(id string, fn func(rec *T)) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return types.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.rec)
	return nil
}

// Delete removes the record. Deleting an unknown id returns ErrNotFound,
// never a silent no-op.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return types.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// All returns a copy of every record, in no particular order.
func (s *Store[T]) All() []T {
	s.mu.RLock()
	entries := make([]*entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	recs := make([]T, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		recs = append(recs, e.rec)
		e.mu.Unlock()
	}
	return recs
}

// Len returns the number of records.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Registry bundles the three record stores. Records are held by value so
// Get hands out snapshots; mutation goes through Update only. The registry
// is injected into every component that needs shared state; there is no
// process-wide instance.
type Registry struct {
	Jobs     *Store[types.DownloadJob]
	Batches  *Store[types.BatchJob]
	Sessions *Store[types.Session]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		Jobs:     NewStore[types.DownloadJob](),
		Batches:  NewStore[types.BatchJob](),
		Sessions: NewStore[types.Session](),
	}
}
