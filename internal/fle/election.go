package fle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"quorumkeeper/internal/pubsub"
)

// finalizeWait bounds the "peek for a better candidate" drain once a quorum
// has agreed on a proposal (§4.5).
const finalizeWait = 200 * time.Millisecond

// maxNotificationInterval caps the exponential backoff applied to the
// starvation timeout between successive recvQueue polls (§4.5: "200ms up to
// a ceiling of 60s").
const (
	initialNotificationInterval = 200 * time.Millisecond
	maxNotificationInterval     = 60 * time.Second
)

// EpochSource is "the transaction log / data tree" collaborator (§1):
// lookForLeader reads lastLoggedZxid and currentEpoch from it once at the
// start of every round. Failing to read either propagates upward and
// aborts the round — the only abnormal exit from LookForLeader (§7) other
// than cancellation of its ctx.
type EpochSource interface {
	LastLoggedZxid() (Zxid, error)
	CurrentEpoch() (Epoch, error)
}

// Election runs the Fast Leader Election state machine for one local peer.
// It implements PeerContext so its Messenger can read the peer's current
// role and vote without reaching into the election loop's lock from another
// package.
type Election struct {
	selfSid     PeerID
	learnerType LearnerType
	registry    *PeerRegistry
	epochSource EpochSource
	metrics     MetricsCollector
	pubSub      *pubsub.Client
	admin       *AdminRegistry

	// messenger is wired in after construction via SetMessenger: a
	// Messenger needs this Election as its PeerContext, and this Election
	// needs the Messenger to broadcast and poll, so neither can be fully
	// built before the other exists.
	messenger *Messenger

	mu             sync.Mutex
	logicalClock   Epoch
	proposedLeader PeerID
	proposedZxid   Zxid
	proposedEpoch  Epoch
	state          PeerState
	currentVote    Vote
	bcVote         Vote

	// initLeader/initZxid/initEpoch cache this round's starting vote,
	// fixed by initializeRound and never touched again for the
	// remainder of the round. proposedLeader/proposedZxid/proposedEpoch
	// mutate as better proposals are adopted; the init triple does not,
	// and a peer that falls behind another round must restate this
	// triple rather than whatever it had most recently adopted.
	initLeader PeerID
	initZxid   Zxid
	initEpoch  Epoch
}

// NewElection wires an Election for selfSid over the given registry.
// SetMessenger must be called before LookForLeader runs. metrics, pubSub,
// and admin may be nil to disable that ambient concern.
func NewElection(selfSid PeerID, learnerType LearnerType, registry *PeerRegistry, epochSource EpochSource, metrics MetricsCollector, pubSub *pubsub.Client, admin *AdminRegistry) *Election {
	e := &Election{
		selfSid:     selfSid,
		learnerType: learnerType,
		registry:    registry,
		epochSource: epochSource,
		metrics:     metrics,
		pubSub:      pubSub,
		admin:       admin,
		state:       Looking,
	}
	e.currentVote = Vote{Leader: selfSid, State: Looking, Version: CurrentVersion}
	e.bcVote = e.currentVote
	return e
}

// SetMessenger attaches the Messenger this Election broadcasts through and
// polls for notifications. Must be called exactly once, before
// LookForLeader.
func (e *Election) SetMessenger(m *Messenger) { e.messenger = m }

// PeerContext implementation, consulted by the Messenger's receiver worker.

func (e *Election) SelfSid() PeerID { return e.selfSid }

func (e *Election) State() PeerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Election) CurrentVote() Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentVote
}

func (e *Election) BCVote() Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bcVote
}

func (e *Election) Proposal() (Vote, Epoch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentProposalLocked(), e.logicalClock
}

// currentProposalLocked builds the Vote for the in-round proposal. Callers
// must hold e.mu.
func (e *Election) currentProposalLocked() Vote {
	return Vote{
		Leader:        e.proposedLeader,
		Zxid:          e.proposedZxid,
		ElectionEpoch: e.logicalClock,
		PeerEpoch:     e.proposedEpoch,
		State:         Looking,
		Version:       CurrentVersion,
	}
}

func (e *Election) learningState() PeerState {
	if e.learnerType == ObserverLearner {
		return Observing
	}
	return Following
}

// LookForLeader runs one election round to completion: it broadcasts an
// initial proposal, processes inbound notifications until a quorum settles
// on a candidate (or this peer discovers the ensemble has already settled
// on one), and returns the decided vote. It returns only once decided or
// once ctx is canceled or the epoch source fails (§7).
func (e *Election) LookForLeader(ctx context.Context) (*Vote, error) {
	start := time.Now()

	var beanID string
	if e.admin != nil {
		beanID = e.admin.Register(e.selfSid, start)
		defer e.admin.Unregister(beanID)
	}
	if e.metrics != nil {
		e.metrics.RecordElectionStarted()
	}
	if e.pubSub != nil {
		pubsub.Publish(e.pubSub, pubsub.NewEvent(ElectionStarted, e.selfSid))
	}

	lastLoggedZxid, err := e.epochSource.LastLoggedZxid()
	if err != nil {
		return nil, fmt.Errorf("fle: reading lastLoggedZxid: %w", err)
	}
	currentEpoch, err := e.epochSource.CurrentEpoch()
	if err != nil {
		return nil, fmt.Errorf("fle: reading currentEpoch: %w", err)
	}

	proposal := e.initializeRound(lastLoggedZxid, currentEpoch)
	e.messenger.Broadcast(proposal)

	recvset := make(map[PeerID]Vote)
	outofelection := make(map[PeerID]Vote)
	notTimeout := initialNotificationInterval

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, ok := e.messenger.RecvQueue().Poll(notTimeout)
		if !ok {
			if e.messenger.HaveDelivered() {
				e.messenger.Broadcast(e.snapshotProposal())
			} else {
				e.messenger.ConnectAll()
			}
			notTimeout *= 2
			if notTimeout > maxNotificationInterval {
				notTimeout = maxNotificationInterval
			}
			continue
		}

		if !e.registry.IsVoter(n.Sid) {
			log.Printf("[fle] ignoring notification from unknown sid %d", n.Sid)
			continue
		}

		switch n.State {
		case Looking:
			decided, err := e.handleLooking(ctx, n, recvset)
			if err != nil {
				return nil, err
			}
			if decided != nil {
				return e.finish(decided, start), nil
			}

		case Observing:
			log.Printf("[fle] sid %d reports OBSERVING, ignoring", n.Sid)

		case Following, Leading:
			decided := e.handleSettled(n, recvset, outofelection)
			if decided != nil {
				return e.finish(decided, start), nil
			}

		default:
			log.Printf("[fle] notification from sid %d carries unrecognized state %v", n.Sid, n.State)
		}
	}
}

// initializeRound advances the logical clock and computes this round's
// initial proposal under lock, returning it for broadcast.
func (e *Election) initializeRound(lastLoggedZxid Zxid, currentEpoch Epoch) Vote {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logicalClock++
	e.state = Looking

	if e.learnerType == ObserverLearner {
		e.proposedLeader = PeerID(Uninitialized)
		e.proposedEpoch = Epoch(Uninitialized)
	} else {
		e.proposedLeader = e.selfSid
		e.proposedEpoch = currentEpoch
	}
	e.proposedZxid = lastLoggedZxid

	e.initLeader, e.initZxid, e.initEpoch = e.proposedLeader, e.proposedZxid, e.proposedEpoch

	return e.currentProposalLocked()
}

func (e *Election) snapshotProposal() Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentProposalLocked()
}

// handleLooking implements the LOOKING branch of §4.5's dispatch: adopting
// a better proposal per the vote precedence order, rebroadcasting on
// adoption or on falling behind another peer's round, and checking for
// quorum termination once the notification is recorded.
func (e *Election) handleLooking(ctx context.Context, n Notification, recvset map[PeerID]Vote) (*Vote, error) {
	e.mu.Lock()
	switch {
	case n.ElectionEpoch > e.logicalClock:
		e.logicalClock = n.ElectionEpoch
		clear(recvset)
		// Compare against this round's fixed init vote, not whatever we
		// most recently adopted: an earlier peer's vote from the stale
		// round must not leak into the new one.
		if totalOrderPredicate(e.registry.Verifier(), n.Leader, n.Zxid, n.PeerEpoch, e.initLeader, e.initZxid, e.initEpoch) {
			e.proposedLeader, e.proposedZxid, e.proposedEpoch = n.Leader, n.Zxid, n.PeerEpoch
		} else {
			e.proposedLeader, e.proposedZxid, e.proposedEpoch = e.initLeader, e.initZxid, e.initEpoch
		}
		proposal := e.currentProposalLocked()
		e.mu.Unlock()
		e.messenger.Broadcast(proposal)

	case n.ElectionEpoch < e.logicalClock:
		e.mu.Unlock()
		return nil, nil

	default:
		var proposal Vote
		beats := totalOrderPredicate(e.registry.Verifier(), n.Leader, n.Zxid, n.PeerEpoch, e.proposedLeader, e.proposedZxid, e.proposedEpoch)
		if beats {
			e.proposedLeader, e.proposedZxid, e.proposedEpoch = n.Leader, n.Zxid, n.PeerEpoch
			proposal = e.currentProposalLocked()
		}
		e.mu.Unlock()
		if beats {
			e.messenger.Broadcast(proposal)
		}
	}

	recvset[n.Sid] = Vote{Leader: n.Leader, Zxid: n.Zxid, ElectionEpoch: n.ElectionEpoch, PeerEpoch: n.PeerEpoch}

	e.mu.Lock()
	proposal := e.currentProposalLocked()
	qv := e.registry.Verifier()
	e.mu.Unlock()

	if !termPredicate(qv, recvset, proposal) {
		return nil, nil
	}
	return e.finalize(ctx, proposal, recvset)
}

// finalize implements §4.5's finalization drain: once a quorum agrees on
// proposal, spend finalizeWait peeking at further inbound notifications,
// resetting the full window on every message drained rather than counting
// down a single deadline from entry — a peer that keeps receiving
// non-beating notifications keeps extending its look before committing,
// matching the ground truth's recvqueue.poll(finalizeWait, ...) called
// fresh on each loop iteration. If any drained notification beats the
// proposal, push it back onto recvQueue and abort finalization so the
// outer loop processes it normally; otherwise, once a full quiet window
// elapses, decide.
func (e *Election) finalize(ctx context.Context, proposal Vote, recvset map[PeerID]Vote) (*Vote, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, ok := e.messenger.RecvQueue().Poll(finalizeWait)
		if !ok {
			break
		}

		e.mu.Lock()
		beats := totalOrderPredicate(e.registry.Verifier(), n.Leader, n.Zxid, n.PeerEpoch, e.proposedLeader, e.proposedZxid, e.proposedEpoch)
		e.mu.Unlock()

		if beats {
			// The peek found a better candidate: put it back for the outer
			// loop's normal LOOKING handling and abandon this decision.
			e.messenger.RecvQueue().Push(n)
			return nil, nil
		}
		// Not better: consumed and discarded, keep draining.
	}

	e.mu.Lock()
	var finalState PeerState
	if e.proposedLeader == e.selfSid {
		finalState = Leading
	} else {
		finalState = e.learningState()
	}
	e.state = finalState
	decided := Vote{
		Leader:        e.proposedLeader,
		Zxid:          e.proposedZxid,
		ElectionEpoch: e.logicalClock,
		PeerEpoch:     e.proposedEpoch,
		State:         finalState,
		Version:       CurrentVersion,
	}
	e.currentVote = decided
	e.bcVote = decided
	e.mu.Unlock()

	e.messenger.RecvQueue().Clear()
	return &decided, nil
}

// handleSettled implements the FOLLOWING/LEADING branch of §4.5: joining an
// ensemble that has already settled on a leader, either by in-round
// agreement (recvset) or by a quorum of already-settled peers
// (outofelection).
func (e *Election) handleSettled(n Notification, recvset, outofelection map[PeerID]Vote) *Vote {
	e.mu.Lock()
	logicalClock := e.logicalClock
	qv := e.registry.Verifier()
	selfSid := e.selfSid
	e.mu.Unlock()

	if n.ElectionEpoch == logicalClock {
		recvset[n.Sid] = n.Vote
		if ooePredicate(qv, recvset, outofelection, n, selfSid, logicalClock) {
			return e.decideJoining(n, false)
		}
	}

	outofelection[n.Sid] = n.Vote
	if ooePredicate(qv, outofelection, outofelection, n, selfSid, logicalClock) {
		return e.decideJoining(n, true)
	}

	return nil
}

func (e *Election) decideJoining(n Notification, adoptClock bool) *Vote {
	e.mu.Lock()
	defer e.mu.Unlock()

	if adoptClock {
		e.logicalClock = n.ElectionEpoch
	}

	var finalState PeerState
	if n.Leader == e.selfSid {
		finalState = Leading
	} else {
		finalState = e.learningState()
	}
	e.state = finalState

	decided := n.Vote
	decided.State = finalState
	e.currentVote = decided
	e.bcVote = decided
	return &decided
}

func (e *Election) finish(decided *Vote, start time.Time) *Vote {
	if e.metrics != nil {
		e.metrics.RecordElectionDecided(time.Since(start))
	}
	if e.pubSub != nil {
		pubsub.Publish(e.pubSub, pubsub.NewEvent(ElectionDecided, *decided))
	}
	return decided
}
