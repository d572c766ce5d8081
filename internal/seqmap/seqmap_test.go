package seqmap

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/persistence"
)

func newTestMap(t *testing.T) (*Map, *clock.Mock) {
	t.Helper()
	store, err := persistence.New[Record](filepath.Join(t.TempDir(), "seqmap.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mockClock := clock.NewMock()
	m, err := New(store, mockClock, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("new map: %v", err)
	}
	return m, mockClock
}

func TestPutGet(t *testing.T) {
	m, mc := newTestMap(t)
	h := hashkey.Hash32([]byte("payload-a"))
	if _, ok := m.Get(h); ok {
		t.Fatalf("expected empty map")
	}
	if err := m.Put(h, Entry{SequenceNr: 1, TimeStamp: mc.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	e, ok := m.Get(h)
	if !ok || e.SequenceNr != 1 {
		t.Fatalf("expected seq 1, got %+v ok=%v", e, ok)
	}
}

func TestPurgePreservesMonotonicity(t *testing.T) {
	m, mc := newTestMap(t)
	old := hashkey.Hash32([]byte("old"))
	fresh := hashkey.Hash32([]byte("fresh"))

	_ = m.Put(old, Entry{SequenceNr: 5, TimeStamp: mc.Now()})
	mc.Add(20 * 24 * time.Hour)
	_ = m.Put(fresh, Entry{SequenceNr: 9, TimeStamp: mc.Now()})

	removed := m.Purge(mc.Now().Add(-10 * 24 * time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 entry purged, got %d", removed)
	}
	if _, ok := m.Get(old); ok {
		t.Fatalf("expected old entry purged")
	}
	e, ok := m.Get(fresh)
	if !ok || e.SequenceNr != 9 {
		t.Fatalf("purge must not alter retained entries, got %+v ok=%v", e, ok)
	}
}

func TestMaybePurgeOnlyAboveThreshold(t *testing.T) {
	m, mc := newTestMap(t)
	h := hashkey.Hash32([]byte("x"))
	_ = m.Put(h, Entry{SequenceNr: 1, TimeStamp: mc.Now()})
	mc.Add(20 * 24 * time.Hour)

	if n := m.MaybePurge(mc.Now(), 10, 10*24*time.Hour); n != 0 {
		t.Fatalf("expected no purge below threshold, removed %d", n)
	}
	if n := m.MaybePurge(mc.Now(), 0, 10*24*time.Hour); n != 1 {
		t.Fatalf("expected purge above threshold, removed %d", n)
	}
}

func TestReloadAfterPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seqmap.jsonl")
	store, err := persistence.New[Record](path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mc := clock.NewMock()
	m, err := New(store, mc, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("new map: %v", err)
	}
	h := hashkey.Hash32([]byte("reload"))
	if err := m.Put(h, Entry{SequenceNr: 3, TimeStamp: mc.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}

	store2, err := persistence.New[Record](path)
	if err != nil {
		t.Fatalf("new store 2: %v", err)
	}
	m2, err := New(store2, mc, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("new map 2: %v", err)
	}
	e, ok := m2.Get(h)
	if !ok || e.SequenceNr != 3 {
		t.Fatalf("expected reloaded entry, got %+v ok=%v", e, ok)
	}
}
