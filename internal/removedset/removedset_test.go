package removedset

import (
	"path/filepath"
	"testing"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/persistence"
)

func newTestSet(t *testing.T) (*Set, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "removed.jsonl")
	store, err := persistence.New[Record](path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s, err := New(store)
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	return s, path
}

func TestMarkAndContains(t *testing.T) {
	s, _ := newTestSet(t)
	h := hashkey.Hash32([]byte("revoked-once"))
	if s.Contains(h) {
		t.Fatalf("expected not yet revoked")
	}
	if err := s.Mark(h); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !s.Contains(h) {
		t.Fatalf("expected revoked after mark")
	}
}

func TestMarkIdempotent(t *testing.T) {
	s, _ := newTestSet(t)
	h := hashkey.Hash32([]byte("dup"))
	if err := s.Mark(h); err != nil {
		t.Fatalf("mark 1: %v", err)
	}
	if err := s.Mark(h); err != nil {
		t.Fatalf("mark 2: %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("expected size 1, got %d", s.Size())
	}
}

func TestReloadPreservesRevocations(t *testing.T) {
	_, path := func() (*Set, string) {
		s, p := newTestSet(t)
		h := hashkey.Hash32([]byte("persisted"))
		if err := s.Mark(h); err != nil {
			t.Fatalf("mark: %v", err)
		}
		return s, p
	}()

	store2, err := persistence.New[Record](path)
	if err != nil {
		t.Fatalf("new store 2: %v", err)
	}
	s2, err := New(store2)
	if err != nil {
		t.Fatalf("new set 2: %v", err)
	}
	if !s2.Contains(hashkey.Hash32([]byte("persisted"))) {
		t.Fatalf("expected revocation to survive reload")
	}
}
