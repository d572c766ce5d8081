// Package seqmap implements the sequence-number map: the persistent
// hash→(sequenceNr, timestamp) anti-replay ledger. It follows this
// codebase's existing store persistence shape, but drops LRU/TTL
// eviction — this map never expires an entry on its own; it is only
// ever shrunk by an explicit age-threshold purge.
package seqmap

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/persistence"
)

// Entry is a sequence-number-map record.
type Entry struct {
	SequenceNr int64
	TimeStamp  time.Time
}

// Record is Entry's on-disk shape, keyed by hash.
type Record struct {
	Hash       string `json:"hash"`
	SequenceNr int64  `json:"sequence_nr"`
	TimeStamp  int64  `json:"time_stamp_unix"`
}

// Map is the sequence-number anti-replay ledger. All operations
// synchronize on their own mutex, independent of the main store's map
// lock.
type Map struct {
	mu    sync.Mutex
	store *persistence.Store[Record]
	clock clock.Clock
	data  map[hashkey.Hash]Entry
}

// New constructs a Map backed by store, loading and purging persisted
// state older than purgeAge relative to clk.Now().
func New(store *persistence.Store[Record], clk clock.Clock, purgeAge time.Duration) (*Map, error) {
	if clk == nil {
		clk = clock.New()
	}
	m := &Map{store: store, clock: clk, data: make(map[hashkey.Hash]Entry)}
	if store == nil {
		return m, nil
	}
	records, err := store.ReadPersisted()
	if err != nil {
		return nil, err
	}
	cutoff := clk.Now().Add(-purgeAge)
	for _, rec := range records {
		h, ok := hashkey.ParseHex(rec.Hash)
		if !ok {
			continue
		}
		ts := time.Unix(rec.TimeStamp, 0)
		if ts.Before(cutoff) {
			continue
		}
		m.data[h] = Entry{SequenceNr: rec.SequenceNr, TimeStamp: ts}
	}
	return m, nil
}

// Now returns the map's injected clock's current time, so callers can
// drive purge scheduling off the same clock used at load time.
func (m *Map) Now() time.Time {
	return m.clock.Now()
}

// Get returns the entry for h, if any.
func (m *Map) Get(h hashkey.Hash) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[h]
	return e, ok
}

// Put installs or overwrites the entry for h and requests persistence.
func (m *Map) Put(h hashkey.Hash, e Entry) error {
	m.mu.Lock()
	m.data[h] = e
	m.mu.Unlock()
	return m.persist()
}

// Size reports the current entry count.
func (m *Map) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Purge drops every entry whose TimeStamp is strictly before olderThan,
// returning the number removed. Purging only shrinks the map — a
// still-present entry's SequenceNr is never altered, so a purge can
// never let a previously-rejected sequence number through.
func (m *Map) Purge(olderThan time.Time) int {
	m.mu.Lock()
	removed := 0
	for h, e := range m.data {
		if e.TimeStamp.Before(olderThan) {
			delete(m.data, h)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		_ = m.persist()
	}
	return removed
}

// MaybePurge runs Purge(now.Add(-purgeAge)) only once Size() exceeds
// maxSizeBeforePurge, the scheduled-purge trigger the main store's
// periodic task calls into.
func (m *Map) MaybePurge(now time.Time, maxSizeBeforePurge int, purgeAge time.Duration) int {
	if m.Size() <= maxSizeBeforePurge {
		return 0
	}
	return m.Purge(now.Add(-purgeAge))
}

// Snapshot returns every record for persistence.
func (m *Map) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.data))
	for h, e := range m.data {
		out = append(out, Record{
			Hash:       h.String(),
			SequenceNr: e.SequenceNr,
			TimeStamp:  e.TimeStamp.Unix(),
		})
	}
	return out
}

func (m *Map) persist() error {
	if m.store == nil {
		return nil
	}
	return m.store.RequestPersistence(m.Snapshot)
}
