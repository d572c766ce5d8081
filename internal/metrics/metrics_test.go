package metrics

import "testing"

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.IncAdded()
	m.IncAdded()
	m.IncRemoved()
	m.IncRejectedReplay()
	m.IncRejectedSignature()
	m.IncRejectedOwner()
	m.AddSeqMapPurged(5)
	m.IncResponsesBuilt()
	m.IncResponsesTruncated()

	snap := m.Snapshot()
	if snap.Added != 2 {
		t.Fatalf("expected added=2, got %d", snap.Added)
	}
	if snap.Removed != 1 {
		t.Fatalf("expected removed=1, got %d", snap.Removed)
	}
	if snap.RejectedReplay != 1 || snap.RejectedSignature != 1 || snap.RejectedOwner != 1 {
		t.Fatalf("unexpected rejection counts: %+v", snap)
	}
	if snap.SeqMapPurged != 5 {
		t.Fatalf("expected seqmap_purged=5, got %d", snap.SeqMapPurged)
	}
	if snap.ResponsesBuilt != 1 || snap.ResponsesTruncated != 1 {
		t.Fatalf("unexpected response counts: %+v", snap)
	}
}

func TestWriteSnapshotNoPath(t *testing.T) {
	m := New()
	if err := m.WriteSnapshot(""); err != nil {
		t.Fatalf("expected no-op for empty path, got %v", err)
	}
}
