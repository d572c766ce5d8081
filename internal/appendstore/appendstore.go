// Package appendstore implements the append-only, content-addressed
// store: immutable payloads keyed by their own self-computed hash, never
// removed. Store follows this codebase's existing plain-map store shape;
// HistoricalStore adds the version-tagged "what's new since V" query the
// get-data protocol needs.
package appendstore

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/duskledger/p2pstore/internal/broadcast"
	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/listeners"
	"github.com/duskledger/p2pstore/internal/network"
	"github.com/duskledger/p2pstore/internal/payload"
)

// Listener is notified when a new append-only payload is accepted.
type Listener interface {
	OnAdded(h hashkey.Hash, p payload.AppendOnlyPayload)
}

// Store is a plain append-only content-addressed map.
type Store struct {
	mu          sync.Mutex
	data        map[hashkey.Hash]payload.AppendOnlyPayload
	listeners   listeners.Registry[Listener]
	clock       clock.Clock
	broadcaster broadcast.Broadcaster

	// initialRequestApplied tracks, per process-once payload class, whether
	// the fast-path ingest has already run once this startup; it applies
	// at most once per startup (or once more on a truncated response).
	initialRequestApplied bool
}

// Deps holds Store's external collaborators. Broadcaster is optional: a
// nil Broadcaster disables the broadcast-on-add step entirely.
type Deps struct {
	Clock       clock.Clock
	Broadcaster broadcast.Broadcaster
}

// New constructs an empty Store.
func New(deps Deps) *Store {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		data:        make(map[hashkey.Hash]payload.AppendOnlyPayload),
		clock:       clk,
		broadcaster: deps.Broadcaster,
	}
}

// AddListener registers l for future accepted adds.
func (s *Store) AddListener(l Listener) {
	s.listeners.Add(l)
}

// RemoveListener unregisters l.
func (s *Store) RemoveListener(l Listener) {
	s.listeners.Remove(func(x Listener) bool { return x == l })
}

// GetMap returns a snapshot of the current hash→payload map.
func (s *Store) GetMap() map[hashkey.Hash]payload.AppendOnlyPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[hashkey.Hash]payload.AppendOnlyPayload, len(s.data))
	for h, p := range s.data {
		out[h] = p
	}
	return out
}

// Contains reports whether h is already present.
func (s *Store) Contains(h hashkey.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[h]
	return ok
}

// InitialRequestApplied reports whether the process-once fast path has
// already run this startup.
func (s *Store) InitialRequestApplied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialRequestApplied
}

// Put runs the ingest algorithm for a single append-only store.
// verifyHashSize is the caller-supplied check that the payload's hash
// matches its declared fixed length (the concrete check is
// payload-class-specific and out of scope for this store). sender and
// allowBroadcast follow datastorage.addEntry's convention: when the
// payload is newly added and allowBroadcast is set, it is re-gossiped to
// every peer but sender. It returns (added, accepted): accepted is false
// only on hash-size mismatch or a date-tolerance rejection; added is true
// only when the payload was newly inserted (as opposed to an allowed
// rebroadcast of an existing one).
func (s *Store) Put(p payload.AppendOnlyPayload, verifyHashSize bool, allowRebroadcast bool, checkDate bool, sender network.PeerID, allowBroadcast bool) (added, accepted bool) {
	if !verifyHashSize {
		return false, false
	}
	h := p.Hash()

	s.mu.Lock()
	_, exists := s.data[h]
	if exists && !allowRebroadcast {
		s.mu.Unlock()
		return false, true
	}
	if checkDate {
		if tol, ok := p.DateTolerance(); ok {
			if published, has := p.PublishedAt(); has {
				now := s.clock.Now()
				if published.Before(now.Add(-tol)) || published.After(now.Add(tol)) {
					s.mu.Unlock()
					return false, false
				}
			}
		}
	}
	if !exists {
		s.data[h] = p
	}
	s.mu.Unlock()

	if !exists {
		for _, l := range s.listeners.Snapshot() {
			l.OnAdded(h, p)
		}
		if allowBroadcast && s.broadcaster != nil {
			_ = s.broadcaster.Broadcast(p, sender, nil)
		}
	}
	return !exists, true
}

// ApplyInitialPayload is the process-once fast path: it skips the
// duplicate check and listener notification entirely, applying the
// payload directly. wasTruncated signals the caller's response was
// truncated, so a retry may still be needed — the caller decides whether
// to re-invoke; this method only records that an attempt has been made.
func (s *Store) ApplyInitialPayload(p payload.AppendOnlyPayload, wasTruncated bool) {
	h := p.Hash()
	s.mu.Lock()
	s.data[h] = p
	if !wasTruncated {
		s.initialRequestApplied = true
	}
	s.mu.Unlock()
}

// HistoricalStore additionally tags each payload with the protocol
// version it was introduced at, letting a get-data responder answer
// "what's new since version V" without resending everything.
type HistoricalStore struct {
	*Store
	mu       sync.Mutex
	versions map[hashkey.Hash]uint32
}

// NewHistorical constructs an empty HistoricalStore.
func NewHistorical(deps Deps) *HistoricalStore {
	return &HistoricalStore{Store: New(deps), versions: make(map[hashkey.Hash]uint32)}
}

// PutHistorical inserts p at protocol version v, following the same
// semantics as Store.Put.
func (hs *HistoricalStore) PutHistorical(p payload.Historical, verifyHashSize bool, allowRebroadcast bool, checkDate bool, sender network.PeerID, allowBroadcast bool) (added, accepted bool) {
	added, accepted = hs.Store.Put(p, verifyHashSize, allowRebroadcast, checkDate, sender, allowBroadcast)
	if added {
		hs.mu.Lock()
		hs.versions[p.Hash()] = p.ProtocolVersion()
		hs.mu.Unlock()
	}
	return added, accepted
}

// GetMapOfLiveData returns every payload currently held, regardless of
// the version it was introduced at.
func (hs *HistoricalStore) GetMapOfLiveData() map[hashkey.Hash]payload.AppendOnlyPayload {
	return hs.Store.GetMap()
}

// GetMapSinceVersion returns only the payloads introduced at a protocol
// version strictly greater than v.
func (hs *HistoricalStore) GetMapSinceVersion(v uint32) map[hashkey.Hash]payload.AppendOnlyPayload {
	all := hs.Store.GetMap()
	hs.mu.Lock()
	defer hs.mu.Unlock()
	out := make(map[hashkey.Hash]payload.AppendOnlyPayload)
	for h, p := range all {
		if hs.versions[h] > v {
			out[h] = p
		}
	}
	return out
}
