package fle

import "fmt"

// PeerInfo describes one member of the ensemble as loaded from
// configuration. Weight == 0 marks a non-voting observer.
type PeerInfo struct {
	Sid     PeerID
	Address string
	Weight  uint64
}

// PeerRegistry is the FLE view of "the peer registry" collaborator (§1):
// the voting view, the observer view, and the QuorumVerifier they share.
// It is built once at startup and is read-only for the process lifetime —
// FLE does not gossip membership changes (Non-goals, §1).
type PeerRegistry struct {
	self     PeerID
	voters   map[PeerID]PeerInfo
	observer map[PeerID]PeerInfo
	verifier QuorumVerifier
}

// NewPeerRegistry partitions peers into voters (Weight > 0) and observers
// (Weight == 0) and builds the matching QuorumVerifier: a plain majority
// verifier when every voter carries weight 1, a weighted verifier
// otherwise.
func NewPeerRegistry(self PeerID, peers []PeerInfo) (*PeerRegistry, error) {
	if _, ok := indexBySid(peers)[self]; !ok {
		return nil, fmt.Errorf("fle: self sid %d not present in peer list", self)
	}

	voters := make(map[PeerID]PeerInfo)
	observers := make(map[PeerID]PeerInfo)
	weights := make(map[PeerID]uint64)
	uniform := true

	for _, p := range peers {
		if p.Weight == 0 {
			observers[p.Sid] = p
			continue
		}
		voters[p.Sid] = p
		weights[p.Sid] = p.Weight
		if p.Weight != 1 {
			uniform = false
		}
	}

	var qv QuorumVerifier
	if uniform {
		qv = NewMajorityQuorumVerifier(voters)
	} else {
		qv = NewWeightedQuorumVerifier(weights)
	}

	return &PeerRegistry{self: self, voters: voters, observer: observers, verifier: qv}, nil
}

// Self returns the local peer's sid.
func (r *PeerRegistry) Self() PeerID { return r.self }

// IsVoter reports whether sid is a full voting participant.
func (r *PeerRegistry) IsVoter(sid PeerID) bool {
	_, ok := r.voters[sid]
	return ok
}

// InVotingView reports whether sid is known at all, voter or observer:
// the configured ensemble membership, not merely the voter subset. The
// election loop's filter step and the Messenger's non-voter reply gate use
// IsVoter, not this.
func (r *PeerRegistry) InVotingView(sid PeerID) bool {
	if _, ok := r.voters[sid]; ok {
		return true
	}
	_, ok := r.observer[sid]
	return ok
}

// VotingView returns every voting peer's sid, including self.
func (r *PeerRegistry) VotingView() []PeerID {
	sids := make([]PeerID, 0, len(r.voters))
	for sid := range r.voters {
		sids = append(sids, sid)
	}
	return sids
}

// Address returns the network address registered for sid, if known.
func (r *PeerRegistry) Address(sid PeerID) (string, bool) {
	if p, ok := r.voters[sid]; ok {
		return p.Address, true
	}
	if p, ok := r.observer[sid]; ok {
		return p.Address, true
	}
	return "", false
}

// Verifier returns the QuorumVerifier built from this registry's weights.
func (r *PeerRegistry) Verifier() QuorumVerifier { return r.verifier }

func indexBySid(peers []PeerInfo) map[PeerID]PeerInfo {
	m := make(map[PeerID]PeerInfo, len(peers))
	for _, p := range peers {
		m[p.Sid] = p
	}
	return m
}

// MajorityQuorumVerifier treats every named voter as weight 1 and requires
// a strict majority of the voter set — the common case spec.md calls out
// as "typically strict majority".
type MajorityQuorumVerifier struct {
	voters map[PeerID]bool
}

// NewMajorityQuorumVerifier builds a verifier over the given voter set.
func NewMajorityQuorumVerifier(voters map[PeerID]PeerInfo) *MajorityQuorumVerifier {
	set := make(map[PeerID]bool, len(voters))
	for sid := range voters {
		set[sid] = true
	}
	return &MajorityQuorumVerifier{voters: set}
}

func (v *MajorityQuorumVerifier) Weight(sid PeerID) uint64 {
	if v.voters[sid] {
		return 1
	}
	return 0
}

func (v *MajorityQuorumVerifier) ContainsQuorum(sids map[PeerID]bool) bool {
	count := 0
	for sid := range sids {
		if v.voters[sid] {
			count++
		}
	}
	return count > len(v.voters)/2
}

// WeightedQuorumVerifier sums configured per-sid weights and requires at
// least half the total weight plus one, covering ensembles where some
// voters carry more than one vote.
type WeightedQuorumVerifier struct {
	weights map[PeerID]uint64
	total   uint64
}

// NewWeightedQuorumVerifier builds a verifier from a sid->weight table.
func NewWeightedQuorumVerifier(weights map[PeerID]uint64) *WeightedQuorumVerifier {
	cp := make(map[PeerID]uint64, len(weights))
	var total uint64
	for sid, w := range weights {
		cp[sid] = w
		total += w
	}
	return &WeightedQuorumVerifier{weights: cp, total: total}
}

func (v *WeightedQuorumVerifier) Weight(sid PeerID) uint64 {
	return v.weights[sid]
}

func (v *WeightedQuorumVerifier) ContainsQuorum(sids map[PeerID]bool) bool {
	var sum uint64
	for sid := range sids {
		sum += v.weights[sid]
	}
	return sum >= v.total/2+1
}
