package canon

import (
	"testing"
	"time"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/payload"
)

type fakePayload struct {
	body string
}

func (p fakePayload) CanonicalEncode() []byte { return []byte(p.body) }
func (p fakePayload) Priority() payload.Priority { return payload.PriorityMid }
func (p fakePayload) RequiredCapabilities() []payload.Capability { return nil }
func (p fakePayload) DateTolerance() (time.Duration, bool) { return 0, false }
func (p fakePayload) MaxItems() (int, bool) { return 0, false }
func (p fakePayload) IsAddOnce() bool { return false }
func (p fakePayload) IsProcessOnce() bool { return false }
func (p fakePayload) IsPersistable() bool { return false }
func (p fakePayload) IsRequiresOwnerOnline() bool { return false }
func (p fakePayload) IsDateSortedTruncatable() bool { return false }
func (p fakePayload) PublishedAt() (time.Time, bool) { return time.Time{}, false }
func (p fakePayload) TTL() (time.Duration, bool) { return 0, false }

func TestHashPayloadDependsOnEncoding(t *testing.T) {
	a := HashPayload(fakePayload{body: "one"})
	b := HashPayload(fakePayload{body: "one"})
	if a != b {
		t.Fatalf("expected identical payloads to hash identically")
	}
	c := HashPayload(fakePayload{body: "two"})
	if a == c {
		t.Fatalf("expected different payloads to hash differently")
	}
}

func TestHashPayloadAndSeqDependsOnSeq(t *testing.T) {
	p := fakePayload{body: "entry"}
	a := HashPayloadAndSeq(p, 1)
	b := HashPayloadAndSeq(p, 2)
	if a == b {
		t.Fatalf("expected the same payload at different sequence numbers to hash differently")
	}
	c := HashPayloadAndSeq(p, 1)
	if a != c {
		t.Fatalf("expected the same (payload, seq) pair to hash identically")
	}
}

func TestHashPayloadOnlyDependsOnSeq(t *testing.T) {
	h := hashkey.Hash32([]byte("target"))
	a := HashPayloadOnly(h, 1)
	b := HashPayloadOnly(h, 2)
	if a == b {
		t.Fatalf("expected the same target hash at different sequence numbers to hash differently")
	}
}

func TestHashPayloadOnlyDiffersFromHashPayloadAndSeq(t *testing.T) {
	p := fakePayload{body: "entry"}
	h := HashPayload(p)
	a := HashPayloadAndSeq(p, 5)
	b := HashPayloadOnly(h, 5)
	if a == b {
		t.Fatalf("expected HashPayloadAndSeq and HashPayloadOnly to diverge despite sharing a payload hash and sequence number")
	}
}
