package fle

// QuorumVerifier decides whether a set of sids forms a quorum and how much
// voting weight a single sid carries. Peers with Weight(sid) == 0 never win
// an election (§4.3) and are excluded from quorum counting.
type QuorumVerifier interface {
	Weight(sid PeerID) uint64
	ContainsQuorum(sids map[PeerID]bool) bool
}

// totalOrderPredicate implements the vote precedence order from §4.3: the
// candidate (newId, newZxid, newEpoch) beats the incumbent
// (curId, curZxid, curEpoch) iff the candidate has nonzero quorum weight
// and either a strictly higher peer epoch, an equal peer epoch with a
// higher zxid, or all three equal with a higher sid as a deterministic
// tiebreak.
//
// Epoch is compared as a signed int64, matching Java's signed long: an
// observer's Uninitialized peer epoch is the bit pattern of
// Long.MIN_VALUE, which is a huge value under unsigned uint64 comparison
// but must read as the smallest possible epoch so any real candidate
// trivially beats it.
func totalOrderPredicate(qv QuorumVerifier, newId PeerID, newZxid Zxid, newEpoch Epoch, curId PeerID, curZxid Zxid, curEpoch Epoch) bool {
	if qv.Weight(newId) == 0 {
		return false
	}

	if newEpoch != curEpoch {
		return int64(newEpoch) > int64(curEpoch)
	}
	if newZxid != curZxid {
		return newZxid > curZxid
	}
	return newId > curId
}
