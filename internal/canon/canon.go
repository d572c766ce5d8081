// Package canon implements the canonical byte encodings that feed hashing
// and signing throughout the storage core: a payload hashes to hash32 of
// its own CanonicalEncode, and a protected entry's signature covers the
// hash of (payload, sequenceNumber) so the same payload at two different
// sequence numbers signs two different digests.
package canon

import (
	"encoding/binary"

	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/payload"
)

// HashPayload computes hash32(canonicalEncoding(payload)), the content
// address every append-only and protected entry is keyed by.
func HashPayload(p payload.Payload) hashkey.Hash {
	return hashkey.Hash32(p.CanonicalEncode())
}

// EncodePayloadAndSeq length-prefixes the payload's canonical encoding and
// appends the sequence number as a fixed-width big-endian int64, following
// this codebase's existing length-prefixed-field signing convention.
func EncodePayloadAndSeq(p payload.Payload, seqNr int64) []byte {
	enc := p.CanonicalEncode()
	buf := make([]byte, 0, 8+len(enc)+8)
	var lenField [8]byte
	binary.BigEndian.PutUint64(lenField[:], uint64(len(enc)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, enc...)
	var seqField [8]byte
	binary.BigEndian.PutUint64(seqField[:], uint64(seqNr))
	buf = append(buf, seqField[:]...)
	return buf
}

// HashPayloadAndSeq computes hash32(payload, seqNr), the digest a protected
// entry's signature covers.
func HashPayloadAndSeq(p payload.Payload, seqNr int64) hashkey.Hash {
	return hashkey.Hash32(EncodePayloadAndSeq(p, seqNr))
}

// HashPayloadOnly computes hash32(payloadHash) — the digest a remove or
// mailbox-remove message's signature covers along with the new sequence
// number. It is the same shape as HashPayloadAndSeq but takes an
// already-computed payload hash rather than re-encoding the payload,
// since a remove message identifies its target by hash alone and may
// arrive before the paired add.
func HashPayloadOnly(h hashkey.Hash, seqNr int64) hashkey.Hash {
	buf := make([]byte, 0, hashkey.Size+8)
	buf = append(buf, h[:]...)
	var seqField [8]byte
	binary.BigEndian.PutUint64(seqField[:], uint64(seqNr))
	buf = append(buf, seqField[:]...)
	return hashkey.Hash32(buf)
}
