// Command quorumdemo boots a small in-process ensemble, each peer talking
// to the others over a real gRPC listener on localhost, and prints the
// leader every peer converges on.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"

	"quorumkeeper/internal/fle"
	"quorumkeeper/internal/pubsub"
	"quorumkeeper/internal/transport"
)

func main() {
	fmt.Println("========================================")
	fmt.Println("Fast Leader Election Demo")
	fmt.Println("========================================")
	fmt.Println()

	const n = 5
	peers := make([]fle.PeerInfo, 0, n)
	for i := 1; i <= n; i++ {
		peers = append(peers, fle.PeerInfo{
			Sid:     fle.PeerID(i),
			Address: fmt.Sprintf("127.0.0.1:%d", 17000+i),
			Weight:  1,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bus := pubsub.New()
	defer bus.Shutdown()

	shutdowns := make(chan *pubsub.Event[fle.PeerID], n)
	pubsub.Subscribe(bus, fle.PeerShutDown, shutdowns, pubsub.SubscriptionOptions{})
	go func() {
		for evt := range shutdowns {
			fmt.Printf("sid %d shut down\n", evt.Payload)
		}
	}()

	type peer struct {
		election *fle.Election
		manager  *transport.GRPCManager
		server   *grpc.Server
	}
	built := make([]*peer, 0, n)

	for i := 1; i <= n; i++ {
		self := fle.PeerID(i)
		registry, err := fle.NewPeerRegistry(self, peers)
		if err != nil {
			log.Fatalf("building registry for sid %d: %v", self, err)
		}

		manager := transport.NewGRPCManager(self, registry, peers[i-1].Address, bus)
		server := grpc.NewServer()
		manager.RegisterOn(server)

		lis, err := net.Listen("tcp", peers[i-1].Address)
		if err != nil {
			log.Fatalf("listening for sid %d: %v", self, err)
		}
		go func() {
			if err := server.Serve(lis); err != nil {
				log.Printf("sid %d grpc server stopped: %v", self, err)
			}
		}()

		metrics := fle.NewMetrics()
		admin := fle.NewAdminRegistry()
		epochSource := inMemoryEpochSource{zxid: fle.Zxid(i * 10)}

		election := fle.NewElection(self, fle.Participant, registry, epochSource, metrics, bus, admin)
		messenger := fle.NewMessenger(manager, registry, election, bus, metrics)
		election.SetMessenger(messenger)
		messenger.Run(ctx)

		built = append(built, &peer{election: election, manager: manager, server: server})
	}

	fmt.Printf("Booted %d peers, running elections...\n\n", n)

	type result struct {
		sid  fle.PeerID
		vote *fle.Vote
		err  error
	}
	results := make(chan result, n)
	for i, p := range built {
		sid := fle.PeerID(i + 1)
		go func(sid fle.PeerID, p *peer) {
			vote, err := p.election.LookForLeader(ctx)
			results <- result{sid: sid, vote: vote, err: err}
		}(sid, p)
	}

	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			fmt.Printf("sid %d: election error: %v\n", r.sid, r.err)
			continue
		}
		fmt.Printf("sid %d decided leader=%d state=%s\n", r.sid, r.vote.Leader, r.vote.State)
	}

	for _, p := range built {
		p.manager.Halt()
		p.server.Stop()
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("Demo Complete!")
	fmt.Println("========================================")
}

// inMemoryEpochSource is a demo stand-in for a persisted EpochStore.
type inMemoryEpochSource struct {
	zxid fle.Zxid
}

func (s inMemoryEpochSource) LastLoggedZxid() (fle.Zxid, error) { return s.zxid, nil }
func (s inMemoryEpochSource) CurrentEpoch() (fle.Epoch, error)  { return 1, nil }
