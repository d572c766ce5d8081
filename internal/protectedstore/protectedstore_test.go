package protectedstore

import (
	"path/filepath"
	"testing"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/persistence"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protected.jsonl")
	backing, err := persistence.New[Record](path)
	if err != nil {
		t.Fatalf("new backing: %v", err)
	}
	s, err := New(backing)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, path
}

func TestPutGetRemove(t *testing.T) {
	s, _ := newTestStore(t)
	h := hashkey.Hash32([]byte("entry-a"))
	if err := s.Put(h, []byte("payload-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok := s.Get(h)
	if !ok || string(v) != "payload-bytes" {
		t.Fatalf("expected stored value, got %q ok=%v", v, ok)
	}
	if err := s.Remove(h); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Get(h); ok {
		t.Fatalf("expected entry removed")
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Remove(hashkey.Hash32([]byte("missing"))); err != nil {
		t.Fatalf("expected no error removing missing entry, got %v", err)
	}
}

func TestReloadAfterPersist(t *testing.T) {
	s, path := newTestStore(t)
	h := hashkey.Hash32([]byte("reload"))
	if err := s.Put(h, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}

	backing2, err := persistence.New[Record](path)
	if err != nil {
		t.Fatalf("new backing 2: %v", err)
	}
	s2, err := New(backing2)
	if err != nil {
		t.Fatalf("new store 2: %v", err)
	}
	v, ok := s2.Get(h)
	if !ok || string(v) != "v1" {
		t.Fatalf("expected reloaded entry, got %q ok=%v", v, ok)
	}
	if s2.Size() != 1 {
		t.Fatalf("expected size 1, got %d", s2.Size())
	}
}
