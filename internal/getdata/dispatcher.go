package getdata

import (
	"context"

	"github.com/duskledger/p2pstore/internal/applog"
	"github.com/duskledger/p2pstore/internal/datastorage"
	"github.com/duskledger/p2pstore/internal/hashkey"
	"github.com/duskledger/p2pstore/internal/network"
)

// MessageDecoder turns a message envelope's raw payload into the typed
// message it's declared to carry. Concrete on-wire byte encoding of the
// embedded payload/entry types is a payload-class concern this package
// doesn't own, so the decoder is supplied by the caller — the same
// division of labor as datastorage.Codec.
type MessageDecoder interface {
	DecodeAddData(raw []byte) (AddDataMessage, error)
	DecodeRemoveData(raw []byte) (RemoveDataMessage, error)
	DecodeRemoveMailboxData(raw []byte) (RemoveMailboxDataMessage, error)
	DecodeRefreshOffer(raw []byte) (datastorage.RefreshOfferMessage, error)
	DecodeAddPersistableNetworkPayload(raw []byte) (AddPersistableNetworkPayloadMessage, error)
}

// Dispatcher is the concrete network.MessageListener the core registers
// against a NetworkNode: it decodes each of the five wire message types
// this protocol defines and applies it to the main store or the
// append-only sink, with allowBroadcast set so a newly accepted message
// is re-gossiped to the rest of the peer set.
type Dispatcher struct {
	store   *datastorage.P2PDataStorage
	sink    AppendOnlySink
	decoder MessageDecoder
	log     *applog.Logger
}

// NewDispatcher wires store, sink, and decoder into a Dispatcher. sink
// may be nil if this node has no append-only categories to serve; log
// may be nil, in which case a no-op logger is used.
func NewDispatcher(store *datastorage.P2PDataStorage, sink AppendOnlySink, decoder MessageDecoder, log *applog.Logger) *Dispatcher {
	if log == nil {
		log = applog.New(nil)
	}
	return &Dispatcher{store: store, sink: sink, decoder: decoder, log: log}
}

// OnMessage implements network.MessageListener, dispatching env by its
// Type discriminator.
func (d *Dispatcher) OnMessage(ctx context.Context, env network.Envelope) {
	switch env.Type {
	case MsgTypeAddData:
		msg, err := d.decoder.DecodeAddData(env.Payload)
		if err != nil {
			d.log.Warn("dispatcher: decode add_data failed")
			return
		}
		d.store.AddProtectedStorageEntry(msg.Entry, env.Sender, nil, true)

	case MsgTypeRemoveData:
		msg, err := d.decoder.DecodeRemoveData(env.Payload)
		if err != nil {
			d.log.Warn("dispatcher: decode remove_data failed")
			return
		}
		d.store.Remove(msg.Msg, env.Sender, true)

	case MsgTypeRemoveMailboxData:
		msg, err := d.decoder.DecodeRemoveMailboxData(env.Payload)
		if err != nil {
			d.log.Warn("dispatcher: decode remove_mailbox_data failed")
			return
		}
		d.store.RemoveMailboxEntry(msg.Msg, env.Sender, true)

	case MsgTypeRefreshOffer:
		msg, err := d.decoder.DecodeRefreshOffer(env.Payload)
		if err != nil {
			d.log.Warn("dispatcher: decode refresh_offer failed")
			return
		}
		d.store.RefreshTTL(msg, env.Sender, true)

	case MsgTypeAddPersistableNetworkPayload:
		msg, err := d.decoder.DecodeAddPersistableNetworkPayload(env.Payload)
		if err != nil {
			d.log.Warn("dispatcher: decode add_persistable_network_payload failed")
			return
		}
		if d.sink == nil {
			return
		}
		verifyHashSize := msg.Payload.FixedHashSize() == hashkey.Size
		d.sink.Put(msg.Payload, verifyHashSize, false, true, env.Sender, true)

	default:
		d.log.Debug("dispatcher: unrecognized message type")
	}
}

// OnDisconnect implements network.MessageListener, bridging
// DisconnectReason into the main store's back-dating rule.
func (d *Dispatcher) OnDisconnect(peer network.PeerID, reason network.DisconnectReason) {
	d.store.OnDisconnect(peer, reason.IsIntended)
}
