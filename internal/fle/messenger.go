package fle

import (
	"context"
	"log"
	"time"

	"quorumkeeper/internal/pubsub"
)

// pollTimeout bounds how long the sender and receiver workers block on a
// single manager poll before checking for cancellation (§4.2: "nominally
// 3s").
const pollTimeout = 3 * time.Second

// PeerContext exposes the enclosing peer's current state to the
// Messenger's receiver worker, which needs it to apply the observer-reply
// and stale-clock reply policies (§4.2) without reaching into the election
// loop's lock directly.
type PeerContext interface {
	SelfSid() PeerID
	// State is the enclosing peer's current role, not necessarily LOOKING.
	State() PeerState
	// CurrentVote is the peer's current/finalized vote, used to answer
	// non-voter senders and, once decided, LOOKING senders.
	CurrentVote() Vote
	// BCVote is the backward-compatible saved vote used to answer a
	// LOOKING sender that declared wire version 0.
	BCVote() Vote
	// Proposal snapshots the in-round proposal and the current logical
	// clock, used to answer a LOOKING sender lagging behind our round.
	Proposal() (Vote, Epoch)
}

// Messenger owns the send and receive queues and adapts them to a
// ConnectionManager (§4.2). It spawns a sender worker that drains
// sendQueue into the manager and a receiver worker that decodes inbound
// messages, applies the reply policies, and posts Notifications to
// recvQueue for the election loop to consume.
type Messenger struct {
	manager  ConnectionManager
	registry *PeerRegistry
	peer     PeerContext
	pubSub   *pubsub.Client
	metrics  MetricsCollector

	sendQueue *queue[ToSend]
	recvQueue *queue[Notification]
}

// NewMessenger builds a Messenger over manager, ready to have its workers
// started with Run. metrics may be nil, in which case send/receive counts
// are not recorded.
func NewMessenger(manager ConnectionManager, registry *PeerRegistry, peer PeerContext, pubSub *pubsub.Client, metrics MetricsCollector) *Messenger {
	return &Messenger{
		manager:   manager,
		registry:  registry,
		peer:      peer,
		pubSub:    pubSub,
		metrics:   metrics,
		sendQueue: newQueue[ToSend](),
		recvQueue: newQueue[Notification](),
	}
}

// Enqueue posts msg for the sender worker to deliver.
func (m *Messenger) Enqueue(msg ToSend) {
	m.sendQueue.Push(msg)
}

// Broadcast enqueues v addressed to every voter in the registry's voting
// view, including a direct local loopback so the sender's own vote appears
// in its recvQueue without a round-trip through the (external) connection
// manager — matching the effect of the original protocol's self-addressed
// notification without requiring the transport to support loopback.
func (m *Messenger) Broadcast(v Vote) {
	self := m.registry.Self()
	for _, sid := range m.registry.VotingView() {
		if sid == self {
			m.recvQueue.Push(Notification{Sid: self, Vote: v})
			continue
		}
		m.Enqueue(ToSend{Sid: sid, Vote: v})
	}
}

// RecvQueue exposes the decoded-notification queue the election loop polls.
func (m *Messenger) RecvQueue() *queue[Notification] { return m.recvQueue }

// HaveDelivered reports whether the underlying manager has recently
// delivered a message, used by the election loop's starvation handling.
func (m *Messenger) HaveDelivered() bool { return m.manager.HaveDelivered() }

// ConnectAll asks the underlying manager to (re)connect to every peer.
func (m *Messenger) ConnectAll() { m.manager.ConnectAll() }

// Run starts the sender and receiver workers; both exit when ctx is done.
func (m *Messenger) Run(ctx context.Context) {
	go m.sendLoop(ctx)
	go m.recvLoop(ctx)
}

func (m *Messenger) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok := m.sendQueue.Poll(pollTimeout)
		if !ok {
			// A poll timeout is not an error; simply poll again.
			continue
		}

		raw := EncodeToSend(msg)
		if err := m.manager.Send(msg.Sid, raw); err != nil {
			log.Printf("[fle] send to sid %d failed: %v", msg.Sid, err)
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordNotificationSent()
		}
	}
}

func (m *Messenger) recvLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		received, ok := m.manager.PollRecv(pollTimeout)
		if !ok {
			continue
		}

		vote, err := DecodeNotification(received.Payload)
		if err != nil {
			log.Printf("[fle] dropping malformed message from sid %d: %v", received.Sid, err)
			m.publishDropped(received.Sid)
			continue
		}
		n := Notification{Sid: received.Sid, Vote: vote}
		if m.metrics != nil {
			m.metrics.RecordNotificationReceived()
		}

		if !m.registry.IsVoter(n.Sid) {
			// Policy 1: non-voter sender. Reply with our current vote and
			// discard — this is how observers learn the current leader.
			m.replyWithCurrentVote(n.Sid)
			continue
		}

		switch localState := m.peer.State(); localState {
		case Looking:
			m.handleFromLookingLocal(n)
		default:
			m.handleFromSettledLocal(n)
		}
	}
}

// handleFromLookingLocal implements policy 2 (§4.2): while the local peer
// is LOOKING, every voter's notification is enqueued for the election
// loop, and a LOOKING sender lagging behind our round additionally gets a
// catch-up reply carrying our in-round proposal.
func (m *Messenger) handleFromLookingLocal(n Notification) {
	m.recvQueue.Push(n)

	if n.State != Looking {
		return
	}

	proposal, logicalClock := m.peer.Proposal()
	if n.ElectionEpoch < logicalClock {
		m.Enqueue(ToSend{Sid: n.Sid, Vote: proposal})
	}
}

// handleFromSettledLocal implements policy 3 (§4.2): once the local peer
// has left LOOKING, voter notifications are not enqueued. A LOOKING sender
// gets our finalized vote (modern format if it declared Version > 0, else
// the backward-compatible saved vote); anything else is dropped.
func (m *Messenger) handleFromSettledLocal(n Notification) {
	if n.State != Looking {
		return
	}

	if n.Version > 0 {
		m.replyWithCurrentVote(n.Sid)
		return
	}
	m.Enqueue(ToSend{Sid: n.Sid, Vote: m.peer.BCVote()})
}

func (m *Messenger) replyWithCurrentVote(to PeerID) {
	m.Enqueue(ToSend{Sid: to, Vote: m.peer.CurrentVote()})
}

func (m *Messenger) publishDropped(from PeerID) {
	if m.metrics != nil {
		m.metrics.RecordMessageDropped()
	}
	if m.pubSub == nil {
		return
	}
	pubsub.Publish(m.pubSub, pubsub.NewEvent(ElectionMessageDropped, from))
}
