// Package payload defines the generic, capability-tagged contract every
// network-shared object implements. Concrete payload classes (offers,
// mailbox messages, account-age witnesses, and so on) live outside this
// module; only the generic envelope the storage core depends on lives here.
package payload

import (
	"time"

	"github.com/duskledger/p2pstore/internal/hashkey"
)

// Priority is the get-data response priority tier a payload declares.
type Priority int

const (
	// PriorityLow payloads are candidates for both size- and
	// count-based truncation in a get-data response.
	PriorityLow Priority = iota
	// PriorityMid payloads are always included, subject only to the
	// per-type count cap.
	PriorityMid
	// PriorityHigh payloads bypass both size and count budgets.
	PriorityHigh
)

// Capability names a feature a receiving peer must support to be sent a
// payload that declares it as required.
type Capability string

// Payload is the generic contract every network-shared object — append-only
// or protected — implements. Implementations must be deterministic: the
// same logical payload must always produce the same CanonicalEncode output
// on every node, since that output feeds both hashing and signing.
type Payload interface {
	// CanonicalEncode returns a stable byte encoding used for hashing
	// and, for protected payloads, as the basis of the signed digest.
	CanonicalEncode() []byte

	// Priority returns this payload's get-data response tier.
	Priority() Priority

	// RequiredCapabilities lists capabilities a receiving peer must
	// have to be sent this payload. Empty means no gating.
	RequiredCapabilities() []Capability

	// DateTolerance returns the payload's self-reported validity
	// window and whether it declares one at all.
	DateTolerance() (time.Duration, bool)

	// MaxItems returns the declared cap used to prune the oldest
	// entries of this payload's class during truncation, and whether
	// this payload is date-sorted-truncatable at all.
	MaxItems() (int, bool)

	// IsAddOnce reports whether, once removed, this payload's hash is
	// permanently banned from re-addition.
	IsAddOnce() bool

	// IsProcessOnce reports whether this payload should be applied at
	// most once per node startup.
	IsProcessOnce() bool

	// IsPersistable reports whether this payload should be written
	// through to local disk.
	IsPersistable() bool

	// IsRequiresOwnerOnline reports whether this payload's TTL is tied
	// to the liveness of its owning peer's connection.
	IsRequiresOwnerOnline() bool

	// IsDateSortedTruncatable reports whether this payload carries a
	// timestamp used to prune the oldest items of its class first.
	IsDateSortedTruncatable() bool

	// PublishedAt returns the payload's self-reported timestamp, used
	// by date-tolerance checks and date-sorted truncation.
	PublishedAt() (time.Time, bool)

	// TTL returns the time-to-live a protected entry wrapping this
	// payload expires after, if it declares one.
	TTL() (time.Duration, bool)
}

// AppendOnlyPayload is a Payload that is content-addressed by its own
// hash and is never removed once added.
type AppendOnlyPayload interface {
	Payload

	// Hash returns this payload's self-computed content hash.
	Hash() hashkey.Hash

	// FixedHashSize is the expected byte length of Hash's input domain
	// (used by verifyHashSize to reject malformed payloads early).
	FixedHashSize() int
}

// Historical is implemented by append-only payloads belonging to a
// versioned protocol, so a get-data responder can answer "what's new
// since version V" without resending everything.
type Historical interface {
	AppendOnlyPayload
	ProtocolVersion() uint32
}

// HasCapability reports whether caps contains c.
func HasCapability(caps []Capability, c Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}
