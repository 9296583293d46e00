package fle

import "time"

// Received is one inbound raw message and the sid of the peer that sent it.
type Received struct {
	Sid     PeerID
	Payload []byte
}

// ConnectionManager is the abstract contract for peer I/O (§6). FLE never
// dials sockets itself; concrete implementations (TCP-framed, gRPC) live
// outside this package and are handed to a Messenger.
type ConnectionManager interface {
	// Send hands payload to be delivered to sid. May block on a per-peer
	// send buffer.
	Send(sid PeerID, payload []byte) error
	// PollRecv waits up to timeout for the next inbound message.
	PollRecv(timeout time.Duration) (Received, bool)
	// HaveDelivered reports whether any message has been successfully
	// delivered recently; false triggers reconnection in the election
	// loop's starvation handling.
	HaveDelivered() bool
	// ConnectAll (re)establishes connections to every configured peer.
	// Must return without blocking on individual dials.
	ConnectAll()
	// Halt shuts the manager down, releasing any queues or connections.
	Halt()
}
