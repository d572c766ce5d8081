package appendstore

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/duskledger/p2pstore/internal/broadcast"
	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/network"
	"github.com/duskledger/p2pstore/internal/payload"
)

type fakePayload struct {
	data        string
	version     uint32
	published   time.Time
	hasDate     bool
	dateTol     time.Duration
	hasDateTol  bool
}

func (f fakePayload) CanonicalEncode() []byte               { return []byte(f.data) }
func (f fakePayload) Priority() payload.Priority            { return payload.PriorityMid }
func (f fakePayload) RequiredCapabilities() []payload.Capability { return nil }
func (f fakePayload) DateTolerance() (time.Duration, bool)  { return f.dateTol, f.hasDateTol }
func (f fakePayload) MaxItems() (int, bool)                 { return 0, false }
func (f fakePayload) IsAddOnce() bool                       { return false }
func (f fakePayload) IsProcessOnce() bool                   { return false }
func (f fakePayload) IsPersistable() bool                   { return false }
func (f fakePayload) IsRequiresOwnerOnline() bool            { return false }
func (f fakePayload) IsDateSortedTruncatable() bool          { return false }
func (f fakePayload) PublishedAt() (time.Time, bool)        { return f.published, f.hasDate }
func (f fakePayload) TTL() (time.Duration, bool)             { return 0, false }
func (f fakePayload) Hash() hashkey.Hash                     { return hashkey.Hash32([]byte(f.data)) }
func (f fakePayload) FixedHashSize() int                     { return hashkey.Size }
func (f fakePayload) ProtocolVersion() uint32                { return f.version }

type recordingListener struct {
	added []hashkey.Hash
}

func (r *recordingListener) OnAdded(h hashkey.Hash, _ payload.AppendOnlyPayload) {
	r.added = append(r.added, h)
}

func TestPutAddsOnceAndNotifies(t *testing.T) {
	s := New(Deps{Clock: clock.NewMock()})
	l := &recordingListener{}
	s.AddListener(l)

	p := fakePayload{data: "one"}
	added, accepted := s.Put(p, true, false, false, "", false)
	if !added || !accepted {
		t.Fatalf("expected added+accepted, got added=%v accepted=%v", added, accepted)
	}
	if len(l.added) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(l.added))
	}

	added, accepted = s.Put(p, true, false, false, "", false)
	if added || !accepted {
		t.Fatalf("duplicate without rebroadcast must not re-add, got added=%v accepted=%v", added, accepted)
	}
	if len(l.added) != 1 {
		t.Fatalf("expected still 1 notification after duplicate, got %d", len(l.added))
	}
}

func TestPutRejectsBadHashSize(t *testing.T) {
	s := New(Deps{Clock: clock.NewMock()})
	added, accepted := s.Put(fakePayload{data: "x"}, false, false, false, "", false)
	if added || accepted {
		t.Fatalf("expected rejection on failed hash-size check")
	}
}

func TestPutRejectsOutsideDateTolerance(t *testing.T) {
	mc := clock.NewMock()
	s := New(Deps{Clock: mc})
	p := fakePayload{
		data:       "stale",
		published:  mc.Now().Add(-48 * time.Hour),
		hasDate:    true,
		dateTol:    time.Hour,
		hasDateTol: true,
	}
	added, accepted := s.Put(p, true, false, true, "", false)
	if added || accepted {
		t.Fatalf("expected date-tolerance rejection")
	}
}

type recordingBroadcaster struct {
	msgs     []broadcast.Message
	excluded []network.PeerID
}

func (b *recordingBroadcaster) Broadcast(msg broadcast.Message, excludedPeer network.PeerID, listener broadcast.Listener) error {
	b.msgs = append(b.msgs, msg)
	b.excluded = append(b.excluded, excludedPeer)
	return nil
}

func TestPutBroadcastsOnlyNewlyAddedPayloads(t *testing.T) {
	rb := &recordingBroadcaster{}
	s := New(Deps{Clock: clock.NewMock(), Broadcaster: rb})

	p := fakePayload{data: "gossip"}
	added, accepted := s.Put(p, true, false, false, "peer-a", true)
	if !added || !accepted {
		t.Fatalf("expected added+accepted, got added=%v accepted=%v", added, accepted)
	}
	if len(rb.msgs) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rb.msgs))
	}
	if rb.excluded[0] != "peer-a" {
		t.Fatalf("expected sender excluded from broadcast, got %q", rb.excluded[0])
	}

	added, _ = s.Put(p, true, false, false, "peer-a", true)
	if added {
		t.Fatalf("expected duplicate to not be newly added")
	}
	if len(rb.msgs) != 1 {
		t.Fatalf("expected no additional broadcast for a duplicate, got %d", len(rb.msgs))
	}
}

func TestPutDoesNotBroadcastWhenDisallowed(t *testing.T) {
	rb := &recordingBroadcaster{}
	s := New(Deps{Clock: clock.NewMock(), Broadcaster: rb})

	s.Put(fakePayload{data: "local-only"}, true, false, false, "", false)
	if len(rb.msgs) != 0 {
		t.Fatalf("expected no broadcast when allowBroadcast is false, got %d", len(rb.msgs))
	}
}

func TestHistoricalGetMapSinceVersion(t *testing.T) {
	hs := NewHistorical(Deps{Clock: clock.NewMock()})
	old := fakePayload{data: "old", version: 1}
	fresh := fakePayload{data: "fresh", version: 5}

	if _, accepted := hs.PutHistorical(old, true, false, false, "", false); !accepted {
		t.Fatalf("expected old accepted")
	}
	if _, accepted := hs.PutHistorical(fresh, true, false, false, "", false); !accepted {
		t.Fatalf("expected fresh accepted")
	}

	since := hs.GetMapSinceVersion(2)
	if len(since) != 1 {
		t.Fatalf("expected 1 entry since version 2, got %d", len(since))
	}
	if _, ok := since[fresh.Hash()]; !ok {
		t.Fatalf("expected fresh payload in since-version map")
	}

	live := hs.GetMapOfLiveData()
	if len(live) != 2 {
		t.Fatalf("expected 2 live entries, got %d", len(live))
	}
}

func TestApplyInitialPayloadSkipsNotification(t *testing.T) {
	s := New(Deps{Clock: clock.NewMock()})
	l := &recordingListener{}
	s.AddListener(l)

	p := fakePayload{data: "initial"}
	s.ApplyInitialPayload(p, false)
	if !s.Contains(p.Hash()) {
		t.Fatalf("expected payload present after initial apply")
	}
	if len(l.added) != 0 {
		t.Fatalf("expected no listener notification for initial fast path")
	}
	if !s.InitialRequestApplied() {
		t.Fatalf("expected initialRequestApplied true when not truncated")
	}
}

func TestApplyInitialPayloadTruncatedDoesNotMarkApplied(t *testing.T) {
	s := New(Deps{Clock: clock.NewMock()})
	s.ApplyInitialPayload(fakePayload{data: "partial"}, true)
	if s.InitialRequestApplied() {
		t.Fatalf("expected initialRequestApplied false when response was truncated")
	}
}
