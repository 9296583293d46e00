// Package fle implements Fast Leader Election: the push-based,
// message-driven, quorum-deciding state machine a set of peer servers uses
// to agree on a single leader before entering atomic broadcast.
package fle

import "fmt"

// PeerID is a stable peer identifier ("sid").
type PeerID uint64

// Zxid is a 64-bit transaction id; its upper 32 bits are the peer epoch
// under which it was issued.
type Zxid uint64

// Epoch is a monotonic counter: either the configuration epoch a Zxid was
// issued under (peerEpoch) or the local round counter of one election
// (electionEpoch / logicalclock), depending on context.
type Epoch uint64

// EpochOfZxid extracts the upper 32 bits of a Zxid, used to synthesize
// peerEpoch when decoding a legacy (28-byte) notification.
func EpochOfZxid(z Zxid) Epoch {
	return Epoch(uint64(z) >> 32)
}

// Uninitialized stands in for Java's Long.MIN_VALUE sentinel that an
// observer uses as its non-candidate proposed leader/peer-epoch: the
// two's-complement bit pattern of Long.MIN_VALUE (1<<63), backed by
// PeerID's own zero quorum weight for observers and by
// totalOrderPredicate comparing Epoch as a signed value so this sentinel
// always reads as the smallest possible epoch and never wins.
const Uninitialized = 1 << 63

// PeerState is one of the four states FLE distinguishes for a peer.
type PeerState uint32

const (
	Looking PeerState = iota
	Following
	Leading
	Observing
)

func (s PeerState) String() string {
	switch s {
	case Looking:
		return "LOOKING"
	case Following:
		return "FOLLOWING"
	case Leading:
		return "LEADING"
	case Observing:
		return "OBSERVING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(s))
	}
}

// stateFromOrdinal converts a wire ordinal to a PeerState, reporting
// whether the ordinal is recognized. §4.1: unknown ordinals drop the
// message.
func stateFromOrdinal(ordinal uint32) (PeerState, bool) {
	switch PeerState(ordinal) {
	case Looking, Following, Leading, Observing:
		return PeerState(ordinal), true
	default:
		return 0, false
	}
}

// LearnerType distinguishes a full voting participant from an observer,
// mirroring the enclosing QuorumPeer's learnerType.
type LearnerType int

const (
	Participant LearnerType = iota
	ObserverLearner
)

// Vote is the immutable tuple a peer proposes or has decided on. Equality
// for termination counting is by (Leader, Zxid, PeerEpoch) only —
// ElectionEpoch and State are carried but excluded from that comparison.
type Vote struct {
	Leader        PeerID
	Zxid          Zxid
	ElectionEpoch Epoch
	PeerEpoch     Epoch
	State         PeerState
	Version       uint32
}

// EqualForTermination reports whether v and other would count as the same
// vote for quorum termination purposes (§3: "Equality is by (leader, zxid,
// peerEpoch)").
func (v Vote) EqualForTermination(other Vote) bool {
	return v.Leader == other.Leader && v.Zxid == other.Zxid && v.PeerEpoch == other.PeerEpoch
}

func (v Vote) String() string {
	return fmt.Sprintf("Vote{leader=%d zxid=%#x electionEpoch=%d peerEpoch=%d state=%s}",
		v.Leader, v.Zxid, v.ElectionEpoch, v.PeerEpoch, v.State)
}

// Notification is a decoded inbound election message: a Vote plus the
// sender's sid.
type Notification struct {
	Sid PeerID
	Vote
}

// ToSend is an outbound election message addressed to a specific peer.
type ToSend struct {
	Sid PeerID
	Vote
}
