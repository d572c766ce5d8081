// Package broadcast defines the consumed Broadcaster contract and a
// simple in-process fan-out implementation for tests and the demo
// binary, using a plain channel-based publish/subscribe shape.
package broadcast

import "github.com/duskledger/p2pstore/internal/network"

// Message is anything the storage core asks the Broadcaster to re-gossip:
// an add, remove, mailbox-remove, or refresh wire message.
type Message any

// Listener is notified once a broadcast attempt completes.
type Listener interface {
	OnBroadcasted(msg Message, sentTo int)
}

// Broadcaster is the external fan-out collaborator: best-effort broadcast
// to the peer set minus the excluded sender. Its internal fan-out
// strategy is out of scope here; the storage core only depends on this
// contract.
type Broadcaster interface {
	Broadcast(msg Message, excludedPeer network.PeerID, listener Listener) error
}

// Hub is a minimal in-process Broadcaster: every subscriber channel
// receives every broadcast message except from the peer it represents.
// It exists for tests and the demo binary — production fan-out is a
// NetworkNode-layer concern.
type Hub struct {
	subs map[network.PeerID]chan Message
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[network.PeerID]chan Message)}
}

// Subscribe registers peer and returns its inbound channel. Messages are
// dropped, never blocked, when the subscriber isn't draining fast
// enough — broadcast is explicitly best-effort.
func (h *Hub) Subscribe(peer network.PeerID, buffer int) <-chan Message {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	h.subs[peer] = ch
	return ch
}

// Unsubscribe removes peer and closes its channel.
func (h *Hub) Unsubscribe(peer network.PeerID) {
	if ch, ok := h.subs[peer]; ok {
		close(ch)
		delete(h.subs, peer)
	}
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(msg Message, excludedPeer network.PeerID, listener Listener) error {
	sent := 0
	for peer, ch := range h.subs {
		if peer == excludedPeer {
			continue
		}
		select {
		case ch <- msg:
			sent++
		default:
		}
	}
	if listener != nil {
		listener.OnBroadcasted(msg, sent)
	}
	return nil
}
