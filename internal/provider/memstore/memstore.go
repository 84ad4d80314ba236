// Package memstore provides an in-memory provider.PageStore, the backend
// for a page manager in tests and in cmd/blobprovider. It is the page-keyed
// counterpart of torua's storage.MemoryStore:
// same map-plus-RWMutex shape, content-addressed keys instead of strings.
package memstore

import (
	"sync"

	"github.com/lizhe1240/blobseer/internal/metadata"
)

// DefaultCapacity bounds GetFree's reported free space when no explicit
// capacity is configured; it does not actually cap how much data the store
// will hold.
const DefaultCapacity = 1 << 30 // 1 GiB

// Store is a thread-safe in-memory PageStore. The zero value is not usable;
// construct with New.
type Store struct {
	mu       sync.RWMutex
	pages    map[metadata.PageKey][]byte
	capacity uint64
	used     uint64
}

// New builds an empty Store reporting capacity bytes of total free space.
func New(capacity uint64) *Store {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		pages:    make(map[metadata.PageKey][]byte),
		capacity: capacity,
	}
}

// Read returns a copy of the stored page, if present.
func (s *Store) Read(key metadata.PageKey) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.pages[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Write stores a copy of value under key, replacing any prior content
// (page-key immutability is a caller-side invariant per spec §3, not
// enforced here).
func (s *Store) Write(key metadata.PageKey, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)

	if old, existed := s.pages[key]; existed {
		s.used -= uint64(len(old))
	}
	s.pages[key] = cp
	s.used += uint64(len(cp))
	return true
}

// Remove deletes key, if present.
func (s *Store) Remove(key metadata.PageKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pages[key]; ok {
		s.used -= uint64(len(old))
		delete(s.pages, key)
	}
}

// GetFree reports remaining capacity, saturating at zero.
func (s *Store) GetFree() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.used >= s.capacity {
		return 0
	}
	return s.capacity - s.used
}

// Len reports the number of pages currently stored, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
