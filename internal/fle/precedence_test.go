package fle

import "testing"

// fixedWeightVerifier is a tiny QuorumVerifier for precedence unit tests
// that don't need real quorum arithmetic.
type fixedWeightVerifier struct {
	zero map[PeerID]bool
}

func (v fixedWeightVerifier) Weight(sid PeerID) uint64 {
	if v.zero[sid] {
		return 0
	}
	return 1
}

func (v fixedWeightVerifier) ContainsQuorum(sids map[PeerID]bool) bool {
	return len(sids) > 0
}

func TestTotalOrderPredicate_HigherPeerEpochWins(t *testing.T) {
	qv := fixedWeightVerifier{}
	if !totalOrderPredicate(qv, 3, 1, 6, 1, 0x999, 5) {
		t.Fatal("expected higher peerEpoch to win regardless of zxid")
	}
	if totalOrderPredicate(qv, 1, 0x999, 5, 3, 1, 6) {
		t.Fatal("expected lower peerEpoch to lose regardless of zxid")
	}
}

func TestTotalOrderPredicate_EqualEpochHigherZxidWins(t *testing.T) {
	qv := fixedWeightVerifier{}
	if !totalOrderPredicate(qv, 2, 0x200, 1, 1, 0x100, 1) {
		t.Fatal("expected higher zxid to win at equal peerEpoch")
	}
}

func TestTotalOrderPredicate_TieBrokenBySid(t *testing.T) {
	qv := fixedWeightVerifier{}
	if !totalOrderPredicate(qv, 5, 0, 0, 3, 0, 0) {
		t.Fatal("expected higher sid to win an exact tie")
	}
	if totalOrderPredicate(qv, 3, 0, 0, 5, 0, 0) {
		t.Fatal("expected lower sid to lose an exact tie")
	}
}

func TestTotalOrderPredicate_ZeroWeightNeverWins(t *testing.T) {
	qv := fixedWeightVerifier{zero: map[PeerID]bool{9: true}}
	if totalOrderPredicate(qv, 9, 0xffff, 100, 1, 0, 0) {
		t.Fatal("a zero-weight candidate must never win, regardless of its triple")
	}
}

func TestTotalOrderPredicate_Antisymmetric(t *testing.T) {
	qv := fixedWeightVerifier{}
	a := struct {
		id   PeerID
		zxid Zxid
		ep   Epoch
	}{1, 10, 2}
	b := struct {
		id   PeerID
		zxid Zxid
		ep   Epoch
	}{2, 5, 3}

	aBeatsB := totalOrderPredicate(qv, a.id, a.zxid, a.ep, b.id, b.zxid, b.ep)
	bBeatsA := totalOrderPredicate(qv, b.id, b.zxid, b.ep, a.id, a.zxid, a.ep)
	if aBeatsB == bBeatsA {
		t.Fatalf("precedence must be antisymmetric for distinct triples, got aBeatsB=%v bBeatsA=%v", aBeatsB, bBeatsA)
	}
}
