package fle

// termPredicate reports whether the sids in votes whose stored Vote equals
// v (by EqualForTermination — leader, zxid, peerEpoch) form a quorum under
// qv (§4.4).
func termPredicate(qv QuorumVerifier, votes map[PeerID]Vote, v Vote) bool {
	agreeing := make(map[PeerID]bool)
	for sid, stored := range votes {
		if stored.EqualForTermination(v) {
			agreeing[sid] = true
		}
	}
	return qv.ContainsQuorum(agreeing)
}

// checkLeader guards against converging on a crashed ex-leader (§4.4): it
// holds if either the local peer itself claims to be the leader and its
// logical clock matches electionEpoch, or the claimed leader has an entry
// in votes showing state LEADING.
func checkLeader(votes map[PeerID]Vote, leader PeerID, electionEpoch Epoch, self PeerID, selfLogicalClock Epoch) bool {
	if leader == self {
		return selfLogicalClock == electionEpoch
	}
	v, ok := votes[leader]
	return ok && v.State == Leading
}

// ooePredicate is the "out of election" test used when joining an
// established ensemble (§4.4): a quorum of recv agrees with n's vote, and
// the leader that vote names has actually announced LEADING in
// outofelection.
func ooePredicate(qv QuorumVerifier, recv map[PeerID]Vote, outofelection map[PeerID]Vote, n Notification, self PeerID, selfLogicalClock Epoch) bool {
	return termPredicate(qv, recv, n.Vote) && checkLeader(outofelection, n.Leader, n.ElectionEpoch, self, selfLogicalClock)
}
