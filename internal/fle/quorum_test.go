package fle

import "testing"

func majority(sids ...PeerID) *PeerRegistry {
	peers := make([]PeerInfo, 0, len(sids))
	for _, sid := range sids {
		peers = append(peers, PeerInfo{Sid: sid, Address: "x", Weight: 1})
	}
	reg, err := NewPeerRegistry(sids[0], peers)
	if err != nil {
		panic(err)
	}
	return reg
}

func TestTermPredicate_QuorumOfIdenticalVotes(t *testing.T) {
	reg := majority(1, 2, 3)
	v := Vote{Leader: 3, Zxid: 0, PeerEpoch: 0, ElectionEpoch: 1}
	votes := map[PeerID]Vote{
		1: v,
		2: v,
		3: {Leader: 1, Zxid: 0, PeerEpoch: 0, ElectionEpoch: 1}, // disagrees
	}
	if !termPredicate(reg.Verifier(), votes, v) {
		t.Fatal("2 of 3 identical votes should form a quorum")
	}
}

func TestTermPredicate_NoQuorumWithoutMajority(t *testing.T) {
	reg := majority(1, 2, 3, 4, 5)
	v := Vote{Leader: 1, Zxid: 0, PeerEpoch: 0, ElectionEpoch: 1}
	votes := map[PeerID]Vote{1: v, 2: v}
	if termPredicate(reg.Verifier(), votes, v) {
		t.Fatal("2 of 5 must not form a quorum")
	}
}

func TestCheckLeader_SelfClaimRequiresMatchingClock(t *testing.T) {
	votes := map[PeerID]Vote{}
	if !checkLeader(votes, 1, 5, 1, 5) {
		t.Fatal("self as leader with matching logical clock should check out")
	}
	if checkLeader(votes, 1, 5, 1, 6) {
		t.Fatal("self as leader with mismatched logical clock must fail")
	}
}

func TestCheckLeader_RequiresLeadingState(t *testing.T) {
	votes := map[PeerID]Vote{
		7: {Leader: 7, State: Following},
	}
	if checkLeader(votes, 7, 3, 1, 0) {
		t.Fatal("a leader vote in FOLLOWING state must not check out (guards against a crashed ex-leader)")
	}

	votes[7] = Vote{Leader: 7, State: Leading}
	if !checkLeader(votes, 7, 3, 1, 0) {
		t.Fatal("a leader vote in LEADING state must check out")
	}
}

func TestCheckLeader_MissingLeaderEntry(t *testing.T) {
	if checkLeader(map[PeerID]Vote{}, 7, 3, 1, 0) {
		t.Fatal("no entry for the claimed leader must not check out")
	}
}

func TestOoePredicate_JoinsEstablishedEnsemble(t *testing.T) {
	reg := majority(1, 2, 3, 4)
	leaderVote := Vote{Leader: 2, Zxid: 10, PeerEpoch: 1, ElectionEpoch: 5, State: Following}
	n := Notification{Sid: 3, Vote: leaderVote}

	recv := map[PeerID]Vote{
		1: leaderVote,
		3: leaderVote,
		4: leaderVote,
	}
	outofelection := map[PeerID]Vote{
		2: {Leader: 2, State: Leading},
	}

	if !ooePredicate(reg.Verifier(), recv, outofelection, n, 4, 0) {
		t.Fatal("quorum agreement + confirmed LEADING leader should satisfy ooePredicate")
	}
}

func TestOoePredicate_FailsWithoutConfirmedLeader(t *testing.T) {
	reg := majority(1, 2, 3, 4)
	leaderVote := Vote{Leader: 7, Zxid: 10, PeerEpoch: 1, ElectionEpoch: 5, State: Following}
	n := Notification{Sid: 3, Vote: leaderVote}

	recv := map[PeerID]Vote{1: leaderVote, 3: leaderVote, 4: leaderVote}
	outofelection := map[PeerID]Vote{} // no LEADING entry for sid 7

	if ooePredicate(reg.Verifier(), recv, outofelection, n, 4, 0) {
		t.Fatal("without a confirmed LEADING leader, ooePredicate must not fire")
	}
}
