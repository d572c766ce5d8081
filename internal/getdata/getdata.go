package getdata

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/duskledger/p2pstore/internal/config"
	"github.com/duskledger/p2pstore/internal/datastorage"
	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/network"
	"github.com/duskledger/p2pstore/internal/payload"
)

// AppendOnlyService is the consumed append-only store contract: each
// per-category store exposes its current hash→payload map. A
// HistoricalStore's GetMap already returns only its live data, so a
// preliminary request built over it contributes only live data too.
type AppendOnlyService interface {
	GetMap() map[hashkey.Hash]payload.AppendOnlyPayload
}

// BuildPreliminaryRequest builds the first-connection request: a fresh
// nonce plus every hash already known locally across every append-only
// service and the main map.
func BuildPreliminaryRequest(services []AppendOnlyService, mainMap map[hashkey.Hash]datastorage.ProtectedStorageEntry) PreliminaryGetDataRequest {
	return PreliminaryGetDataRequest{
		Type:         MsgTypePreliminaryGetDataRequest,
		ProtoVersion: ProtoVersion,
		Nonce:        uuid.NewString(),
		ExcludedKeys: collectKnownHashes(services, mainMap),
	}
}

// BuildUpdateRequest builds the reconnection variant, additionally
// identifying the requester.
func BuildUpdateRequest(sender network.PeerID, services []AppendOnlyService, mainMap map[hashkey.Hash]datastorage.ProtectedStorageEntry) GetUpdatedDataRequest {
	return GetUpdatedDataRequest{
		Type:         MsgTypeGetUpdatedDataRequest,
		ProtoVersion: ProtoVersion,
		Sender:       sender,
		Nonce:        uuid.NewString(),
		ExcludedKeys: collectKnownHashes(services, mainMap),
	}
}

func collectKnownHashes(services []AppendOnlyService, mainMap map[hashkey.Hash]datastorage.ProtectedStorageEntry) []hashkey.Hash {
	seen := make(map[hashkey.Hash]struct{})
	for _, svc := range services {
		for h := range svc.GetMap() {
			seen[h] = struct{}{}
		}
	}
	for h := range mainMap {
		seen[h] = struct{}{}
	}
	out := make([]hashkey.Hash, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}

// shouldTransmit gates a candidate payload on capability: the peer
// must have every capability p requires.
func shouldTransmit(peerCapabilities []payload.Capability, p payload.Payload) bool {
	for _, req := range p.RequiredCapabilities() {
		if !payload.HasCapability(peerCapabilities, req) {
			return false
		}
	}
	return true
}

// candidate is the truncation pipeline's generic unit of work, carrying
// just enough of a payload's declared fields to sort and budget it
// without needing to know its concrete Go type.
type candidate struct {
	hash        hashkey.Hash
	priority    payload.Priority
	dateSorted  bool
	publishedAt time.Time
	hasDate     bool
	maxItems    int
	hasMaxItems bool
	typeKey     string
	size        int
}

// selectWithBudget runs the five-step truncation pipeline over a
// payload-class-agnostic candidate pool and returns the hashes to
// include, in an order chosen so that the count-truncation step (a
// simple slice cut) drops the oldest low-priority items first.
func selectWithBudget(items []candidate, sizeLimit int, maxEntriesPerType int) ([]hashkey.Hash, bool) {
	var mid, lowPlain, lowDateSorted, high []candidate
	for _, c := range items {
		switch c.priority {
		case payload.PriorityHigh:
			high = append(high, c)
		case payload.PriorityMid:
			mid = append(mid, c)
		default:
			if c.dateSorted {
				lowDateSorted = append(lowDateSorted, c)
			} else {
				lowPlain = append(lowPlain, c)
			}
		}
	}

	result := append([]candidate{}, mid...)

	totalSize := 0
	exceeded := false
	for _, c := range lowPlain {
		if totalSize > sizeLimit {
			exceeded = true
			break
		}
		totalSize += c.size
		result = append(result, c)
	}

	var dateSortedAdmitted []candidate
	if totalSize <= sizeLimit {
		for _, c := range lowDateSorted {
			if totalSize > sizeLimit {
				exceeded = true
				break
			}
			totalSize += c.size
			dateSortedAdmitted = append(dateSortedAdmitted, c)
		}
	} else {
		exceeded = true
	}

	dateSortedAdmitted = capByDeclaredMaxItems(dateSortedAdmitted)
	sort.SliceStable(dateSortedAdmitted, func(i, j int) bool {
		return dateSortedAdmitted[i].publishedAt.After(dateSortedAdmitted[j].publishedAt)
	})
	result = append(result, dateSortedAdmitted...)

	wasTruncated := exceeded
	if len(result) > maxEntriesPerType {
		result = result[:maxEntriesPerType]
		wasTruncated = true
	}
	result = append(result, high...)

	hashes := make([]hashkey.Hash, len(result))
	for i, c := range result {
		hashes[i] = c.hash
	}
	return hashes, wasTruncated
}

// capByDeclaredMaxItems drops the oldest entries of each payload class
// (grouped by its concrete type) once the class exceeds its own
// declared maxItems.
func capByDeclaredMaxItems(items []candidate) []candidate {
	byType := make(map[string][]candidate)
	var order []string
	for _, c := range items {
		if _, ok := byType[c.typeKey]; !ok {
			order = append(order, c.typeKey)
		}
		byType[c.typeKey] = append(byType[c.typeKey], c)
	}
	var out []candidate
	for _, key := range order {
		group := byType[key]
		limit := 0
		hasLimit := false
		for _, c := range group {
			if c.hasMaxItems {
				limit = c.maxItems
				hasLimit = true
				break
			}
		}
		if !hasLimit || len(group) <= limit {
			out = append(out, group...)
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].publishedAt.Before(group[j].publishedAt)
		})
		out = append(out, group[len(group)-limit:]...)
	}
	return out
}

func toCandidate(h hashkey.Hash, p payload.Payload) candidate {
	published, hasDate := p.PublishedAt()
	maxItems, hasMaxItems := p.MaxItems()
	return candidate{
		hash:        h,
		priority:    p.Priority(),
		dateSorted:  p.IsDateSortedTruncatable(),
		publishedAt: published,
		hasDate:     hasDate,
		maxItems:    maxItems,
		hasMaxItems: hasMaxItems,
		typeKey:     typeKeyOf(p),
		size:        len(p.CanonicalEncode()),
	}
}

// typeKeyOf groups candidates by concrete payload type: payloads don't
// carry an explicit "class" capability field, so the Go type itself
// stands in for the payload-class grouping key.
func typeKeyOf(p payload.Payload) string {
	return fmt.Sprintf("%T", p)
}

// BuildGetDataResponse assembles the get-data response for a peer,
// running the truncation pipeline separately over the protected and
// append-only candidate pools with their own size budgets.
func BuildGetDataResponse(
	protectedEntries map[hashkey.Hash]datastorage.ProtectedStorageEntry,
	appendOnlyPayloads map[hashkey.Hash]payload.AppendOnlyPayload,
	excludedHashes map[hashkey.Hash]struct{},
	peerCapabilities []payload.Capability,
	maxPermittedMessageSize int,
	maxEntriesPerType int,
	cfg config.Params,
) GetDataResponse {
	cfg = cfg.Normalize()
	maxBytes := cfg.MaxBytes(maxPermittedMessageSize)
	appendOnlyLimit := int(float64(maxBytes) * cfg.AppendOnlyShare)
	protectedLimit := int(float64(maxBytes) * cfg.ProtectedShare)

	var protectedCandidates []candidate
	for h, e := range protectedEntries {
		if _, excluded := excludedHashes[h]; excluded {
			continue
		}
		if !shouldTransmit(peerCapabilities, e.Payload) {
			continue
		}
		protectedCandidates = append(protectedCandidates, toCandidate(h, e.Payload))
	}

	var appendCandidates []candidate
	for h, p := range appendOnlyPayloads {
		if _, excluded := excludedHashes[h]; excluded {
			continue
		}
		if !shouldTransmit(peerCapabilities, p) {
			continue
		}
		appendCandidates = append(appendCandidates, toCandidate(h, p))
	}

	protectedHashes, protectedTruncated := selectWithBudget(protectedCandidates, protectedLimit, maxEntriesPerType)
	appendHashes, appendTruncated := selectWithBudget(appendCandidates, appendOnlyLimit, maxEntriesPerType)

	resp := GetDataResponse{
		Type:         MsgTypeGetDataResponse,
		ProtoVersion: ProtoVersion,
		WasTruncated: protectedTruncated || appendTruncated,
	}
	for _, h := range protectedHashes {
		resp.ProtectedEntries = append(resp.ProtectedEntries, protectedEntries[h])
	}
	for _, h := range appendHashes {
		resp.AppendOnlyPayloads = append(resp.AppendOnlyPayloads, appendOnlyPayloads[h])
	}
	return resp
}

// AppendOnlySink is the append-only ingest surface ProcessGetDataResponse
// drives; appendstore.Store and appendstore.HistoricalStore both satisfy
// it.
type AppendOnlySink interface {
	Put(p payload.AppendOnlyPayload, verifyHashSize bool, allowRebroadcast bool, checkDate bool, sender network.PeerID, allowBroadcast bool) (added, accepted bool)
	ApplyInitialPayload(p payload.AppendOnlyPayload, wasTruncated bool)
	InitialRequestApplied() bool
}

// RebroadcastScheduler schedules a delayed re-broadcast of a HIGH
// priority entry received via a get-data response, for resilience
// against the seed peer going away before fan-out completes.
type RebroadcastScheduler func(entry datastorage.ProtectedStorageEntry, delay time.Duration)

// ProcessGetDataResponse applies a get-data response's protected entries
// and append-only payloads to the local stores, scheduling a rebroadcast
// for any HIGH-priority entry so it survives the seed peer disappearing.
func ProcessGetDataResponse(
	resp GetDataResponse,
	store *datastorage.P2PDataStorage,
	sink AppendOnlySink,
	sender network.PeerID,
	cfg config.Params,
	reschedule RebroadcastScheduler,
) {
	cfg = cfg.Normalize()

	// A get-data response is the answer to our own reconciliation request,
	// not an unsolicited push, so nothing learned here is re-broadcast —
	// the same reasoning already applies to AddProtectedStorageEntry's
	// allowBroadcast=false just below. Re-gossiping on arrival is the
	// push-path listener's job, not this reconciliation path's.
	for _, entry := range resp.ProtectedEntries {
		accepted := store.AddProtectedStorageEntry(entry, sender, nil, false)
		if accepted && entry.Payload.Priority() == payload.PriorityHigh && reschedule != nil {
			reschedule(entry, cfg.InitialRebroadcastDelay)
		}
	}

	if sink != nil {
		for _, p := range resp.AppendOnlyPayloads {
			verifyHashSize := p.FixedHashSize() == hashkey.Size
			if p.IsProcessOnce() {
				if !sink.InitialRequestApplied() || resp.WasTruncated {
					sink.ApplyInitialPayload(p, resp.WasTruncated)
				}
				continue
			}
			sink.Put(p, verifyHashSize, false, true, sender, false)
		}
	}
}
