// Package network states the external collaborator contracts the storage
// core depends on but does not implement: NetworkNode and Connection.
// Wire transport, TLS/onion socket plumbing, and the broadcaster's
// fan-out strategy live outside this module; this package only gives the
// storage core something to register against and a peer identity type
// to key its in-memory state by.
package network

import "context"

// PeerID identifies a connected peer for the purposes of exclusion lists,
// back-dating on disconnect, and broadcast fan-out. What it's derived
// from (connection identity, address, or something else) is a NetworkNode
// concern; the storage core treats it as an opaque comparable key.
type PeerID string

// Envelope is a received message paired with the connection it arrived
// on, mirroring this codebase's onMessage(envelope, connection)
// callback shape.
type Envelope struct {
	Sender  PeerID
	Type    string
	Payload []byte
}

// DisconnectReason reports why a connection was closed.
type DisconnectReason struct {
	// IsIntended is false for transient drops (timeouts, crashes) and
	// true for deliberate peer-initiated closes. Only unintended
	// disconnects trigger requires-owner-online back-dating.
	IsIntended bool
}

// MessageListener is registered with a NetworkNode to receive inbound
// envelopes and disconnect notifications.
type MessageListener interface {
	OnMessage(ctx context.Context, env Envelope)
	OnDisconnect(peer PeerID, reason DisconnectReason)
}

// Connection is a single peer connection abstraction; how it is
// established and secured is outside this module's scope.
type Connection interface {
	Peer() PeerID
	Send(ctx context.Context, msgType string, payload []byte) error
	Close() error
}

// NetworkNode is the transport-layer collaborator the storage core
// registers against. Its implementation (TLS/onion routing, connection
// pooling, NAT traversal) is out of scope here; the storage core only
// needs to register a listener and look up connections by peer.
type NetworkNode interface {
	AddMessageListener(l MessageListener)
	RemoveMessageListener(l MessageListener)
	Connection(peer PeerID) (Connection, bool)
	MaxPermittedMessageSize() int
}
