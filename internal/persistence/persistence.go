// Package persistence implements the durable-storage contract the rest
// of this module builds on: initialize, readPersisted, requestPersistence
// (debounced), getPersisted (synchronous peek, tests only). Records are
// append/rewrite JSONL files, following this codebase's existing
// open-append-sync and scan-rewrite-rename shape for on-disk stores.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

// Store persists a snapshot of records of type T to a single JSONL file.
// Mutations don't append incrementally — the whole snapshot is rewritten
// on every flush — because the components built on top of Store
// (seqmap, removedset, protectedstore) hold their authoritative state in
// memory and only need durability, not an append log.
type Store[T any] struct {
	path string
	sf   singleflight.Group
}

// New constructs a Store backed by path, creating its parent directory.
func New[T any](path string) (*Store[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("persistence: create dir: %w", err)
	}
	return &Store[T]{path: path}, nil
}

// ReadPersisted loads every record from disk. A missing file is not an
// error — it means this is the first run.
func (s *Store[T]) ReadPersisted() ([]T, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: open %s: %w", s.path, err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("persistence: scan %s: %w", s.path, err)
	}
	return out, nil
}

// RequestPersistence rewrites the backing file with snapshot(). Concurrent
// callers racing to persist the same logical state are coalesced into a
// single write via singleflight, batching bursts of mutations into one
// disk write without a hand-rolled debounce timer goroutine.
func (s *Store[T]) RequestPersistence(snapshot func() []T) error {
	_, err, _ := s.sf.Do(s.path, func() (any, error) {
		return nil, s.writeAll(snapshot())
	})
	return err
}

func (s *Store[T]) writeAll(records []T) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("persistence: open tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return fmt.Errorf("persistence: encode record: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("persistence: sync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persistence: close tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persistence: rename: %w", err)
	}
	s.syncDir()
	return nil
}

func (s *Store[T]) syncDir() {
	dir, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return
	}
	defer dir.Close()
	_ = dir.Sync()
}

// GetPersisted is a synchronous peek at the current on-disk contents,
// intended for tests only.
func (s *Store[T]) GetPersisted() ([]T, error) {
	return s.ReadPersisted()
}
