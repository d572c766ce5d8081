// Package getdata implements the get-data reconciliation protocol:
// request construction, response building with tiered truncation, and
// response ingest. Wire message shapes follow this codebase's existing
// Type/ProtoVersion discriminator convention; actual on-wire byte
// encoding of the embedded payload/entry types is a payload-class
// concern this module does not own.
package getdata

import (
	"github.com/duskledger/p2pstore/internal/datastorage"
	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/network"
	"github.com/duskledger/p2pstore/internal/payload"
)

// ProtoVersion is this package's wire protocol version tag.
const ProtoVersion = "1"

const (
	MsgTypePreliminaryGetDataRequest    = "preliminary_get_data_request"
	MsgTypeGetUpdatedDataRequest        = "get_updated_data_request"
	MsgTypeGetDataResponse              = "get_data_response"
	MsgTypeAddData                      = "add_data"
	MsgTypeRemoveData                   = "remove_data"
	MsgTypeRemoveMailboxData            = "remove_mailbox_data"
	MsgTypeRefreshOffer                 = "refresh_offer"
	MsgTypeAddPersistableNetworkPayload = "add_persistable_network_payload"
)

// PreliminaryGetDataRequest is sent on first connection to a peer: a
// fresh nonce plus every hash already known locally.
type PreliminaryGetDataRequest struct {
	Type         string         `json:"type"`
	ProtoVersion string         `json:"proto_version"`
	Nonce        string         `json:"nonce"`
	ExcludedKeys []hashkey.Hash `json:"excluded_keys"`
}

// GetUpdatedDataRequest is the reconnection variant: identifies the
// requester so the responder can apply capability gating.
type GetUpdatedDataRequest struct {
	Type         string         `json:"type"`
	ProtoVersion string         `json:"proto_version"`
	Sender       network.PeerID `json:"sender"`
	Nonce        string         `json:"nonce"`
	ExcludedKeys []hashkey.Hash `json:"excluded_keys"`
}

// GetDataResponse answers either request variant with everything the
// responder knows that the requester excluded, subject to truncation.
type GetDataResponse struct {
	Type                     string                               `json:"type"`
	ProtoVersion             string                               `json:"proto_version"`
	ProtectedEntries         []datastorage.ProtectedStorageEntry   `json:"-"`
	AppendOnlyPayloads       []payload.AppendOnlyPayload           `json:"-"`
	Nonce                    string                               `json:"nonce"`
	IsGetUpdatedDataResponse bool                                 `json:"is_get_updated_data_response"`
	WasTruncated             bool                                 `json:"was_truncated"`
}

// AddDataMessage carries one protected entry to add.
type AddDataMessage struct {
	Type         string                             `json:"type"`
	ProtoVersion string                             `json:"proto_version"`
	Entry        datastorage.ProtectedStorageEntry   `json:"-"`
}

// RemoveDataMessage carries one owner-signed remove request.
type RemoveDataMessage struct {
	Type         string                    `json:"type"`
	ProtoVersion string                    `json:"proto_version"`
	Msg          datastorage.RemoveMessage `json:"-"`
}

// RemoveMailboxDataMessage carries one receiver-signed mailbox remove
// request.
type RemoveMailboxDataMessage struct {
	Type         string                           `json:"type"`
	ProtoVersion string                           `json:"proto_version"`
	Msg          datastorage.RemoveMailboxMessage `json:"-"`
}

// AddPersistableNetworkPayloadMessage carries one append-only payload.
type AddPersistableNetworkPayloadMessage struct {
	Type         string                    `json:"type"`
	ProtoVersion string                    `json:"proto_version"`
	Payload      payload.AppendOnlyPayload `json:"-"`
}
