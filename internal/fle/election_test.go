package fle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pumpDeliveries drains from's SendCalls and hands each to the matching
// manager in to,
// looping until ctx is canceled. Used to connect two or more in-memory
// mock managers into a fully connected mesh for election tests.
func pumpDeliveries(ctx context.Context, from *MockConnectionManager, self PeerID, to map[PeerID]*MockConnectionManager) {
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		from.LockedCalls(func(calls []MockSend) {
			for ; sent < len(calls); sent++ {
				call := calls[sent]
				if dest, ok := to[call.Sid]; ok {
					dest.Deliver(self, call.Payload)
				}
			}
		})
		time.Sleep(time.Millisecond)
	}
}

// harness builds n voting peers, each with its own Election, Messenger, and
// mock ConnectionManager, fully meshed together.
type harness struct {
	elections map[PeerID]*Election
	managers  map[PeerID]*MockConnectionManager
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()

	peers := make([]PeerInfo, 0, n)
	for i := 1; i <= n; i++ {
		peers = append(peers, PeerInfo{Sid: PeerID(i), Address: "mock", Weight: 1})
	}

	h := &harness{
		elections: make(map[PeerID]*Election),
		managers:  make(map[PeerID]*MockConnectionManager),
	}

	for i := 1; i <= n; i++ {
		self := PeerID(i)
		registry, err := NewPeerRegistry(self, peers)
		require.NoError(t, err)

		manager := NewMockConnectionManager()
		h.managers[self] = manager

		election := NewElection(self, Participant, registry, &MockEpochSource{}, nil, nil, nil)
		messenger := NewMessenger(manager, registry, election, nil, nil)
		election.SetMessenger(messenger)
		h.elections[self] = election
	}

	return h
}

func (h *harness) run(ctx context.Context) {
	for self, election := range h.elections {
		election.messenger.Run(ctx)
		peers := make(map[PeerID]*MockConnectionManager)
		for sid, m := range h.managers {
			if sid != self {
				peers[sid] = m
			}
		}
		go pumpDeliveries(ctx, h.managers[self], self, peers)
	}
}

func TestElectionConvergesOnHighestZxid(t *testing.T) {
	h := newHarness(t, 3)
	h.elections[3].epochSource = &MockEpochSource{Zxid: 100, Epoch: 1}
	h.elections[1].epochSource = &MockEpochSource{Zxid: 10, Epoch: 1}
	h.elections[2].epochSource = &MockEpochSource{Zxid: 20, Epoch: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.run(ctx)

	results := make(chan *Vote, 3)
	errs := make(chan error, 3)
	for _, e := range h.elections {
		e := e
		go func() {
			v, err := e.LookForLeader(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- v
		}()
	}

	for i := 0; i < 3; i++ {
		select {
		case v := <-results:
			require.Equal(t, PeerID(3), v.Leader)
		case err := <-errs:
			t.Fatalf("election failed: %v", err)
		case <-time.After(4 * time.Second):
			t.Fatal("election did not converge in time")
		}
	}
}

func TestElectionSelfElectsAlone(t *testing.T) {
	h := newHarness(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.run(ctx)

	v, err := h.elections[1].LookForLeader(ctx)
	require.NoError(t, err)
	require.Equal(t, PeerID(1), v.Leader)
	require.Equal(t, Leading, v.State)
}

func TestElectionAbortsOnEpochSourceFailure(t *testing.T) {
	registry, err := NewPeerRegistry(1, []PeerInfo{{Sid: 1, Address: "mock", Weight: 1}})
	require.NoError(t, err)

	manager := NewMockConnectionManager()
	election := NewElection(1, Participant, registry, &MockEpochSource{ZxidErr: context.DeadlineExceeded}, nil, nil, nil)
	messenger := NewMessenger(manager, registry, election, nil, nil)
	election.SetMessenger(messenger)

	_, err = election.LookForLeader(context.Background())
	require.Error(t, err)
}

func TestElectionRejectsZeroWeightObserverAsWinner(t *testing.T) {
	peers := []PeerInfo{
		{Sid: 1, Address: "mock", Weight: 1},
		{Sid: 2, Address: "mock", Weight: 1},
		{Sid: 3, Address: "mock", Weight: 0}, // observer
	}
	registry, err := NewPeerRegistry(1, peers)
	require.NoError(t, err)

	qv := registry.Verifier()
	// The observer's proposal, even with a far larger zxid, can never beat
	// a voter's proposal because it carries zero quorum weight.
	beats := totalOrderPredicate(qv, PeerID(3), Zxid(1_000_000), Epoch(50), PeerID(1), Zxid(1), Epoch(1))
	require.False(t, beats)
}
