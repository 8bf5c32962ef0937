// Package memory provides an in-process canonical sighting store.
package memory

import (
	"context"
	"sync"

	"github.com/brandsight/adharvest/internal/harvest"
)

// Store implements harvest.CatalogStore with a mutex-guarded map. The lock
// makes each Promote's check-then-write atomic per content hash.
type Store struct {
	mu   sync.Mutex
	rows map[string]harvest.CanonicalSighting
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		rows: make(map[string]harvest.CanonicalSighting),
	}
}

// Promote inserts a new canonical sighting or, on rediscovery of the same
// content hash, bumps seen_count and last_seen_at in place.
func (s *Store) Promote(_ context.Context, sighting harvest.CanonicalSighting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[sighting.ContentHash]
	if !ok {
		if sighting.SeenCount <= 0 {
			sighting.SeenCount = 1
		}
		s.rows[sighting.ContentHash] = sighting
		return true, nil
	}
	existing.SeenCount++
	if sighting.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = sighting.LastSeen
	}
	s.rows[sighting.ContentHash] = existing
	return false, nil
}

// Lookup returns the canonical row for a content hash.
func (s *Store) Lookup(_ context.Context, contentHash string) (harvest.CanonicalSighting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[contentHash]
	return row, ok, nil
}

// Count returns the number of canonical rows.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}
