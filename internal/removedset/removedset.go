// Package removedset implements the permanent add-once revocation set:
// once a hash is recorded here, any later AddProtectedStorageEntry for
// the same add-once payload is rejected, for the lifetime of the node.
// It follows this codebase's existing Seen/Mark store shape, simplified
// to drop TTL and LRU eviction — this set must never forget an entry
// on its own.
package removedset

import (
	"sync"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/persistence"
)

// Record is the on-disk shape of a revoked hash.
type Record struct {
	Hash string `json:"hash"`
}

// Set is the permanent set of revoked add-once payload hashes.
type Set struct {
	mu    sync.Mutex
	store *persistence.Store[Record]
	data  map[hashkey.Hash]struct{}
}

// New constructs a Set backed by store, loading any persisted entries.
func New(store *persistence.Store[Record]) (*Set, error) {
	s := &Set{store: store, data: make(map[hashkey.Hash]struct{})}
	if store == nil {
		return s, nil
	}
	records, err := store.ReadPersisted()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		h, ok := hashkey.ParseHex(rec.Hash)
		if !ok {
			continue
		}
		s.data[h] = struct{}{}
	}
	return s, nil
}

// Contains reports whether h has already been revoked.
func (s *Set) Contains(h hashkey.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[h]
	return ok
}

// Mark records h as revoked. It is idempotent: marking an
// already-revoked hash again is a no-op and does not trigger a
// persistence write.
func (s *Set) Mark(h hashkey.Hash) error {
	s.mu.Lock()
	if _, ok := s.data[h]; ok {
		s.mu.Unlock()
		return nil
	}
	s.data[h] = struct{}{}
	s.mu.Unlock()
	return s.persist()
}

// Size reports the number of revoked hashes.
func (s *Set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Snapshot returns every revoked hash for persistence.
func (s *Set) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.data))
	for h := range s.data {
		out = append(out, Record{Hash: h.String()})
	}
	return out
}

func (s *Set) persist() error {
	if s.store == nil {
		return nil
	}
	return s.store.RequestPersistence(s.Snapshot)
}
