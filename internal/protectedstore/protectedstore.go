// Package protectedstore implements the persistent protected-entry
// store: the subset of the main store's live entries whose payload
// declares itself persistable, written through to disk so a restart
// doesn't lose them. It follows the atomic tmp-rename rewrite shape
// of this codebase's store packages, via the shared internal/persistence
// helper built for that purpose.
package protectedstore

import (
	"sync"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/persistence"
)

// Record is the on-disk shape of a persisted protected entry. Data holds
// the caller's own serialization of the full entry (payload, owner
// pubkey, sequence number, signature, creation timestamp) — this
// package only keys and durably stores it; the persisted byte format
// is the caller's concern, not this store's.
type Record struct {
	Hash string `json:"hash"`
	Data []byte `json:"data"`
}

// Store is the persisted hash-keyed subset of the main store.
type Store struct {
	mu    sync.Mutex
	store *persistence.Store[Record]
	data  map[hashkey.Hash][]byte
}

// New constructs a Store backed by backing, loading any persisted
// entries.
func New(backing *persistence.Store[Record]) (*Store, error) {
	s := &Store{store: backing, data: make(map[hashkey.Hash][]byte)}
	if backing == nil {
		return s, nil
	}
	records, err := backing.ReadPersisted()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		h, ok := hashkey.ParseHex(rec.Hash)
		if !ok {
			continue
		}
		s.data[h] = rec.Data
	}
	return s, nil
}

// Put writes through entry h, replacing any prior value, and requests
// persistence.
func (s *Store) Put(h hashkey.Hash, data []byte) error {
	s.mu.Lock()
	s.data[h] = data
	s.mu.Unlock()
	return s.persist()
}

// Remove drops h, if present, and requests persistence. It is a no-op if
// h was never stored.
func (s *Store) Remove(h hashkey.Hash) error {
	s.mu.Lock()
	if _, ok := s.data[h]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.data, h)
	s.mu.Unlock()
	return s.persist()
}

// Get returns the raw bytes stored for h.
func (s *Store) Get(h hashkey.Hash) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[h]
	return v, ok
}

// GetMap returns a snapshot of every stored hash→data pair.
func (s *Store) GetMap() map[hashkey.Hash][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[hashkey.Hash][]byte, len(s.data))
	for h, d := range s.data {
		out[h] = d
	}
	return out
}

// Size reports the number of stored entries.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Snapshot returns every record for persistence.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.data))
	for h, d := range s.data {
		out = append(out, Record{Hash: h.String(), Data: d})
	}
	return out
}

func (s *Store) persist() error {
	if s.store == nil {
		return nil
	}
	return s.store.RequestPersistence(s.Snapshot)
}
