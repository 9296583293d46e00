package fle

import "quorumkeeper/internal/pubsub"

// Lifecycle events published on the shared pubsub.Client by the election
// loop and the Messenger. Consumers (the demo CLI, tests, an admin
// endpoint) subscribe instead of polling internal state.
const (
	// ElectionStarted fires once per lookForLeader invocation, payload
	// PeerID (the peer that started looking).
	ElectionStarted pubsub.EventType = iota
	// ElectionDecided fires when lookForLeader returns a final vote,
	// payload Vote.
	ElectionDecided
	// ElectionMessageDropped fires when the Messenger's receiver drops an
	// undecodable message, payload PeerID (the sender, if known).
	ElectionMessageDropped
	// PeerShutDown fires once a peer's ConnectionManager has torn down its
	// inbound server and outbound connections, payload PeerID (the peer
	// that shut down).
	PeerShutDown
)
