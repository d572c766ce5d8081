// Package datastorage implements the Main Store, P2PDataStorage: the
// in-memory map of live protected entries, and the validation,
// mutation, broadcast, and expiration logic around it. It is the
// largest component of the storage core, following this codebase's
// existing single-mutex locking discipline and ticker-driven periodic
// task shape, generalized to the add/remove/refresh lifecycle of a
// signed, sequence-numbered record.
package datastorage

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/duskledger/p2pstore/internal/applog"
	"github.com/duskledger/p2pstore/internal/broadcast"
	"github.com/duskledger/p2pstore/internal/canon"
	"github.com/duskledger/p2pstore/internal/config"
	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/listeners"
	"github.com/duskledger/p2pstore/internal/metrics"
	"github.com/duskledger/p2pstore/internal/network"
	"github.com/duskledger/p2pstore/internal/payload"
	"github.com/duskledger/p2pstore/internal/protectedstore"
	"github.com/duskledger/p2pstore/internal/removedset"
	"github.com/duskledger/p2pstore/internal/seqmap"
	"github.com/duskledger/p2pstore/internal/signer"
)

// ProtectedStorageEntry is a live, owner-signed entry in the main store.
type ProtectedStorageEntry struct {
	Payload           payload.Payload
	OwnerPubKey       signer.PublicKey
	SequenceNumber    int64
	Signature         []byte
	CreationTimeStamp time.Time

	// OwnerAddress is the peer the entry arrived from, treated as the
	// owner's current connection for requires-owner-online back-dating.
	// It is set from the ingress sender, not carried on the wire.
	OwnerAddress network.PeerID
}

// Hash returns hash32(entry.Payload), the main map's key.
func (e ProtectedStorageEntry) Hash() hashkey.Hash {
	return canon.HashPayload(e.Payload)
}

// IsExpired reports whether the entry's TTL, measured from
// CreationTimeStamp, has elapsed as of now. A payload with no TTL never
// expires.
func (e ProtectedStorageEntry) IsExpired(now time.Time) bool {
	ttl, ok := e.Payload.TTL()
	if !ok {
		return false
	}
	return e.CreationTimeStamp.Add(ttl).Before(now)
}

// ProtectedMailboxEntry is a ProtectedStorageEntry additionally carrying
// a receiver public key; only the receiver may issue its remove.
type ProtectedMailboxEntry struct {
	ProtectedStorageEntry
	ReceiverPubKey signer.PublicKey
}

// MailboxPayload is implemented by payloads that declare a receiver,
// letting AddProtectedStorageEntry confirm a mailbox entry's receiver
// field matches what the payload itself declares.
type MailboxPayload interface {
	payload.Payload
	DeclaredReceiver() signer.PublicKey
}

// RemoveMessage is the wire shape of a remove request: unlike add, it
// identifies its target by hash alone, since a remove may arrive before
// the paired add and must still take effect once the add does. Its
// signature covers canon.HashPayloadOnly(PayloadHash, SequenceNumber).
type RemoveMessage struct {
	PayloadHash    hashkey.Hash
	SequenceNumber int64
	Signature      []byte
	OwnerPubKey    signer.PublicKey

	// IsAddOnce is declared by the remover, since the payload being
	// removed may not be known locally yet (remove-before-add).
	IsAddOnce bool
}

// RemoveMailboxMessage is RemoveMessage's mailbox counterpart: the
// signature must verify under ReceiverPubKey, not OwnerPubKey.
type RemoveMailboxMessage struct {
	RemoveMessage
	ReceiverPubKey signer.PublicKey
}

// RefreshOfferMessage carries a new sequence number and signature for an
// already-stored entry's payload, resetting its creation timestamp and
// therefore its TTL deadline.
type RefreshOfferMessage struct {
	PayloadHash    hashkey.Hash
	SequenceNumber int64
	Signature      []byte
}

// Listener is notified of main-map mutations. Notification happens
// after the map, sequence-number map, and persistence request have all
// completed, so listeners never observe a mutation ahead of its own
// durability.
type Listener interface {
	OnAdded(h hashkey.Hash, entry ProtectedStorageEntry)
	OnRemoved(h hashkey.Hash, entry ProtectedStorageEntry)
}

// Codec serializes and deserializes a stored entry for the persisted
// protected-entry store. Byte format is a payload-class concern out of
// scope for this module; callers supply their own.
type Codec interface {
	EncodeEntry(e ProtectedStorageEntry, isMailbox bool, receiver signer.PublicKey) ([]byte, error)
	DecodeEntry(data []byte) (e ProtectedStorageEntry, isMailbox bool, receiver signer.PublicKey, err error)
}

type storedRecord struct {
	ProtectedStorageEntry
	isMailbox bool
	receiver  signer.PublicKey
}

// Deps collects P2PDataStorage's constructor dependencies.
type Deps struct {
	SeqMap         *seqmap.Map
	RemovedSet     *removedset.Set
	ProtectedStore *protectedstore.Store
	Broadcaster    broadcast.Broadcaster
	Clock          clock.Clock
	Config         config.Params
	Metrics        *metrics.Metrics
	Log            *applog.Logger

	// Codec serializes/deserializes entries written through to the
	// protected-entry store. A nil Codec disables write-through
	// persistence entirely (entries still live in the in-memory map).
	Codec Codec

	// FilterPredicate rejects payloads a policy layer above this module
	// doesn't want stored, independent of the generic validation checks.
	// A nil predicate accepts everything.
	FilterPredicate func(payload.Payload) bool
}

// P2PDataStorage is the Main Store.
type P2PDataStorage struct {
	mu      sync.Mutex
	mainMap map[hashkey.Hash]storedRecord

	seqMap         *seqmap.Map
	removedSet     *removedset.Set
	protectedStore *protectedstore.Store
	broadcaster    broadcast.Broadcaster
	clock          clock.Clock
	cfg            config.Params
	metrics        *metrics.Metrics
	log            *applog.Logger
	codec          Codec
	filter         func(payload.Payload) bool

	listeners listeners.Registry[Listener]

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a P2PDataStorage. It does not start the periodic
// expiration sweep — call Start for that.
func New(deps Deps) *P2PDataStorage {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	filter := deps.FilterPredicate
	if filter == nil {
		filter = func(payload.Payload) bool { return true }
	}
	log := deps.Log
	if log == nil {
		log = applog.New(nil)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &P2PDataStorage{
		mainMap:        make(map[hashkey.Hash]storedRecord),
		seqMap:         deps.SeqMap,
		removedSet:     deps.RemovedSet,
		protectedStore: deps.ProtectedStore,
		broadcaster:    deps.Broadcaster,
		clock:          clk,
		cfg:            deps.Config.Normalize(),
		metrics:        m,
		log:            log,
		codec:          deps.Codec,
		filter:         filter,
	}
}

// AddListener registers l for add/remove notifications.
func (s *P2PDataStorage) AddListener(l Listener) { s.listeners.Add(l) }

// RemoveListener unregisters l.
func (s *P2PDataStorage) RemoveListener(l Listener) {
	s.listeners.Remove(func(x Listener) bool { return x == l })
}

// LoadPersisted reinstalls every entry from the protected-entry store
// into the main map at startup, decoding each with the configured Codec.
// It does not re-validate, re-broadcast, or re-request persistence —
// these entries already passed every check the first time they were
// added.
func (s *P2PDataStorage) LoadPersisted() error {
	if s.protectedStore == nil || s.codec == nil {
		return nil
	}
	for h, data := range s.protectedStore.GetMap() {
		entry, isMailbox, receiver, err := s.codec.DecodeEntry(data)
		if err != nil {
			s.log.Error("datastorage: decode persisted entry failed")
			continue
		}
		s.mu.Lock()
		s.mainMap[h] = storedRecord{ProtectedStorageEntry: entry, isMailbox: isMailbox, receiver: receiver}
		s.mu.Unlock()
	}
	return nil
}

// Start launches the periodic expiration sweep, ticking every
// cfg.CheckTTLInterval until ctx is cancelled or Stop is called.
func (s *P2PDataStorage) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the background sweep and waits for it to exit.
func (s *P2PDataStorage) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *P2PDataStorage) run(ctx context.Context) {
	defer close(s.done)
	ticker := s.clock.Ticker(s.cfg.CheckTTLInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.removeExpired()
			s.maybePurgeSeqMap()
		}
	}
}

func (s *P2PDataStorage) maybePurgeSeqMap() {
	if s.seqMap == nil {
		return
	}
	now := s.seqMap.Now()
	n := s.seqMap.MaybePurge(now, s.cfg.MaxSeqMapSizeBeforePurge, s.cfg.PurgeAge)
	s.metrics.AddSeqMapPurged(n)
}

// AddProtectedStorageEntry validates and installs a single owner-signed
// entry, broadcasting it onward when accepted.
func (s *P2PDataStorage) AddProtectedStorageEntry(entry ProtectedStorageEntry, sender network.PeerID, listener broadcast.Listener, allowBroadcast bool) bool {
	entry.OwnerAddress = sender
	return s.addEntry(entry, false, nil, listener, allowBroadcast)
}

// AddMailboxEntry is AddProtectedStorageEntry's mailbox counterpart: the
// same validation and acceptance rules apply, plus a receiver-match
// check against the payload's declared receiver.
func (s *P2PDataStorage) AddMailboxEntry(entry ProtectedMailboxEntry, sender network.PeerID, listener broadcast.Listener, allowBroadcast bool) bool {
	entry.ProtectedStorageEntry.OwnerAddress = sender
	return s.addEntry(entry.ProtectedStorageEntry, true, entry.ReceiverPubKey, listener, allowBroadcast)
}

func (s *P2PDataStorage) addEntry(entry ProtectedStorageEntry, isMailbox bool, receiver signer.PublicKey, listener broadcast.Listener, allowBroadcast bool) bool {
	now := s.clock.Now()
	h := entry.Hash()

	s.mu.Lock()

	stored, hasStored := s.mainMap[h]

	// Step 2: replay — a strictly-lower-or-equal sequence number against
	// an existing entry is rejected, except the equal-seq bootstrap
	// exception below.
	if hasStored && entry.SequenceNumber <= stored.SequenceNumber {
		s.mu.Unlock()
		s.metrics.IncRejectedReplay()
		s.log.Debug("datastorage: rejected replay")
		return false
	}

	// Equal-sequence-number bootstrap acceptance: an add at seq == N is
	// only ever allowed in when there is no stored entry at all and the
	// sequence-number map holds no greater value already, so a node
	// rebuilding non-persistent payloads from peers at boot isn't stuck
	// behind its own last-known sequence number.
	if !hasStored && s.seqMap != nil {
		if prior, ok := s.seqMap.Get(h); ok && prior.SequenceNr > entry.SequenceNumber {
			s.mu.Unlock()
			s.metrics.IncRejectedReplay()
			s.log.Debug("datastorage: rejected regression against seqmap")
			return false
		}
	}

	// Step 3: add-once revocation.
	if entry.Payload.IsAddOnce() && s.removedSet != nil && s.removedSet.Contains(h) {
		s.mu.Unlock()
		s.metrics.IncRejectedAddOnce()
		s.log.Debug("datastorage: rejected revoked add-once payload")
		return false
	}

	// Step 4: expired on arrival.
	if entry.IsExpired(now) {
		s.mu.Unlock()
		s.metrics.IncRejectedExpired()
		s.log.Debug("datastorage: rejected expired-on-arrival entry")
		return false
	}

	// Step 5: sequence-number-map regression (this one covers the case
	// where storedEntry exists too, catching any drift between the map
	// and the ledger).
	if s.seqMap != nil {
		if prior, ok := s.seqMap.Get(h); ok && prior.SequenceNr > entry.SequenceNumber {
			s.mu.Unlock()
			s.metrics.IncRejectedReplay()
			s.log.Debug("datastorage: rejected regression against seqmap")
			return false
		}
	}

	// Step 6: validateForAdd.
	if !validateForAdd(entry, isMailbox, receiver) {
		s.mu.Unlock()
		s.metrics.IncRejectedSignature()
		s.log.Debug("datastorage: rejected signature/owner validation")
		return false
	}

	// Step 7: owner-key mismatch against an existing entry.
	if hasStored && !entry.OwnerPubKey.Equal(stored.OwnerPubKey) {
		s.mu.Unlock()
		s.metrics.IncRejectedOwner()
		s.log.Debug("datastorage: rejected owner-key mismatch")
		return false
	}

	// Step 8: filter predicate.
	if !s.filter(entry.Payload) {
		s.mu.Unlock()
		s.metrics.IncRejectedFilter()
		s.log.Debug("datastorage: rejected by filter predicate")
		return false
	}

	// Step 9: accept.
	s.mainMap[h] = storedRecord{ProtectedStorageEntry: entry, isMailbox: isMailbox, receiver: receiver}
	s.mu.Unlock()

	if s.seqMap != nil {
		_ = s.seqMap.Put(h, seqmap.Entry{SequenceNr: entry.SequenceNumber, TimeStamp: now})
	}
	if entry.Payload.IsPersistable() && s.protectedStore != nil && s.codec != nil {
		if data, err := s.codec.EncodeEntry(entry, isMailbox, receiver); err == nil {
			_ = s.protectedStore.Put(h, data)
		} else {
			s.log.Error("datastorage: encode entry for write-through failed")
		}
	}
	s.metrics.IncAdded()

	for _, l := range s.listeners.Snapshot() {
		l.OnAdded(h, entry)
	}
	if allowBroadcast && s.broadcaster != nil {
		_ = s.broadcaster.Broadcast(entry, entry.OwnerAddress, listener)
	}
	return true
}

// validateForAdd verifies signature and, for a mailbox entry, the
// declared-receiver match.
func validateForAdd(entry ProtectedStorageEntry, isMailbox bool, receiver signer.PublicKey) bool {
	if !entry.OwnerPubKey.Valid() {
		return false
	}
	digest := canon.HashPayloadAndSeq(entry.Payload, entry.SequenceNumber)
	if !signer.Verify(entry.OwnerPubKey, digest, entry.Signature) {
		return false
	}
	if isMailbox {
		mp, ok := entry.Payload.(MailboxPayload)
		if !ok {
			return false
		}
		if !receiver.Equal(mp.DeclaredReceiver()) {
			return false
		}
	}
	return true
}

// Remove validates and applies a regular (owner-signed) remove.
func (s *P2PDataStorage) Remove(msg RemoveMessage, sender network.PeerID, allowBroadcast bool) bool {
	digest := canon.HashPayloadOnly(msg.PayloadHash, msg.SequenceNumber)
	return s.remove(msg, digest, msg.OwnerPubKey, allowBroadcast)
}

// RemoveMailboxEntry validates and applies a receiver-signed mailbox
// remove.
func (s *P2PDataStorage) RemoveMailboxEntry(msg RemoveMailboxMessage, sender network.PeerID, allowBroadcast bool) bool {
	digest := canon.HashPayloadOnly(msg.PayloadHash, msg.SequenceNumber)
	return s.remove(msg.RemoveMessage, digest, msg.ReceiverPubKey, allowBroadcast)
}

func (s *P2PDataStorage) remove(msg RemoveMessage, digest hashkey.Hash, verifyKey signer.PublicKey, allowBroadcast bool) bool {
	h := msg.PayloadHash

	s.mu.Lock()
	stored, hasStored := s.mainMap[h]

	// Step 1: sequence number must strictly increase.
	if s.seqMap != nil {
		if prior, ok := s.seqMap.Get(h); ok && msg.SequenceNumber <= prior.SequenceNr {
			s.mu.Unlock()
			s.metrics.IncRejectedReplay()
			s.log.Debug("datastorage: rejected remove with non-increasing sequence")
			return false
		}
	}

	// Step 2: signature.
	if !signer.Verify(verifyKey, digest, msg.Signature) {
		s.mu.Unlock()
		s.metrics.IncRejectedSignature()
		s.log.Debug("datastorage: rejected remove with bad signature")
		return false
	}

	// Step 3: owner match, if we have a stored entry to compare against.
	// A mailbox entry may only be removed by its receiver, never by the
	// owner who added it — Remove() and RemoveMailboxEntry() both land
	// here, so the stored record's own isMailbox flag is what actually
	// gates which key is acceptable, not which entry point was called.
	if hasStored {
		authorized := stored.OwnerPubKey.Equal(verifyKey)
		if stored.isMailbox {
			authorized = stored.receiver.Equal(verifyKey)
		}
		if !authorized {
			s.mu.Unlock()
			s.metrics.IncRejectedOwner()
			s.log.Debug("datastorage: rejected remove with owner mismatch")
			return false
		}
	}

	// Step 4: advance the sequence-number map unconditionally — this is
	// what lets a remove seen before its paired add still suppress a
	// later delayed add for the same hash.
	now := s.clock.Now()
	if s.seqMap != nil {
		_ = s.seqMap.Put(h, seqmap.Entry{SequenceNr: msg.SequenceNumber, TimeStamp: now})
	}

	// Step 5: permanent revocation for add-once payloads.
	if msg.IsAddOnce && s.removedSet != nil {
		_ = s.removedSet.Mark(h)
	}

	var removedEntry ProtectedStorageEntry
	removed := false
	if hasStored {
		delete(s.mainMap, h)
		removedEntry = stored.ProtectedStorageEntry
		removed = true
	}
	s.mu.Unlock()

	if removed {
		if s.protectedStore != nil {
			_ = s.protectedStore.Remove(h)
		}
		s.metrics.IncRemoved()
		for _, l := range s.listeners.Snapshot() {
			l.OnRemoved(h, removedEntry)
		}
	}

	// Step 7: broadcast unconditionally, regardless of whether a stored
	// entry existed to remove.
	if allowBroadcast && s.broadcaster != nil {
		_ = s.broadcaster.Broadcast(msg, "", nil)
	}
	return true
}

// RefreshTTL re-signs an already-stored entry with a new sequence number
// and signature, resetting its creation timestamp (and so its TTL
// deadline) by routing through the same add path as a fresh entry.
func (s *P2PDataStorage) RefreshTTL(msg RefreshOfferMessage, sender network.PeerID, allowBroadcast bool) bool {
	s.mu.Lock()
	stored, ok := s.mainMap[msg.PayloadHash]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("datastorage: ignored refresh for unknown hash")
		return false
	}
	s.mu.Unlock()

	rebuilt := stored.ProtectedStorageEntry
	rebuilt.SequenceNumber = msg.SequenceNumber
	rebuilt.Signature = msg.Signature
	rebuilt.CreationTimeStamp = s.clock.Now()

	accepted := s.addEntry(rebuilt, stored.isMailbox, stored.receiver, nil, false)
	if !accepted {
		return false
	}
	s.metrics.IncRefreshed()
	if allowBroadcast && s.broadcaster != nil {
		_ = s.broadcaster.Broadcast(msg, sender, nil)
	}
	return true
}

// removeExpired runs the periodic expiration sweep. The sequence-number
// map is deliberately left untouched: a stale late add
// for an expired hash must still be rejected by its own regression
// check, not by a seqnum bump here.
func (s *P2PDataStorage) removeExpired() {
	now := s.clock.Now()
	var expired []hashkey.Hash
	var expiredEntries []ProtectedStorageEntry

	s.mu.Lock()
	for h, rec := range s.mainMap {
		if rec.IsExpired(now) {
			expired = append(expired, h)
			expiredEntries = append(expiredEntries, rec.ProtectedStorageEntry)
		}
	}
	for _, h := range expired {
		delete(s.mainMap, h)
	}
	s.mu.Unlock()

	for i, h := range expired {
		if s.protectedStore != nil {
			_ = s.protectedStore.Remove(h)
		}
		s.metrics.IncExpired()
		for _, l := range s.listeners.Snapshot() {
			l.OnRemoved(h, expiredEntries[i])
		}
	}
}

// OnDisconnect applies the back-dating rule: on an
// unintended disconnect, every entry requiring its owner online and
// owned by the disconnected peer has its creation timestamp moved back
// by half its TTL, so the next expiration sweep removes it unless the
// owner reappears with a refresh first.
func (s *P2PDataStorage) OnDisconnect(peer network.PeerID, intended bool) {
	if intended {
		return
	}
	now := s.clock.Now()

	s.mu.Lock()
	backDated := 0
	for h, rec := range s.mainMap {
		if !rec.Payload.IsRequiresOwnerOnline() || rec.OwnerAddress != peer {
			continue
		}
		ttl, ok := rec.Payload.TTL()
		if !ok {
			continue
		}
		rec.CreationTimeStamp = now.Add(-ttl / 2)
		s.mainMap[h] = rec
		backDated++
	}
	s.mu.Unlock()

	for i := 0; i < backDated; i++ {
		s.metrics.IncBackDated()
	}
}

// GetMap returns a snapshot of every live entry.
func (s *P2PDataStorage) GetMap() map[hashkey.Hash]ProtectedStorageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[hashkey.Hash]ProtectedStorageEntry, len(s.mainMap))
	for h, rec := range s.mainMap {
		out[h] = rec.ProtectedStorageEntry
	}
	return out
}

// Get returns the live entry for h, if any.
func (s *P2PDataStorage) Get(h hashkey.Hash) (ProtectedStorageEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.mainMap[h]
	return rec.ProtectedStorageEntry, ok
}
