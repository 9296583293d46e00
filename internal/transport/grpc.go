// Package transport supplies fle.ConnectionManager implementations that
// move encoded notifications between peer processes. GRPCManager is built
// directly on google.golang.org/grpc and
// google.golang.org/protobuf/types/known/wrapperspb rather than generated
// .pb.go stubs: wrapperspb.BytesValue already carries full protobuf
// reflection support, so a hand-authored grpc.ServiceDesc is enough to run
// a real unary RPC without a protoc step.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"quorumkeeper/internal/fle"
	"quorumkeeper/internal/pubsub"
)

const deliverMethod = "/fle.Messenger/Deliver"

// serviceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for a single-method "Messenger" service whose request and
// response are both a raw byte blob.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "fle.Messenger",
	HandlerType: (*messengerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fle/messenger.proto",
}

// messengerServer is the server-side contract the generated stub would
// have declared.
type messengerServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(messengerServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(messengerServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCManager is a fle.ConnectionManager backed by a real gRPC server for
// inbound traffic and a lazily-dialed client conn pool for outbound
// traffic, generalizing the teacher's per-peer gRPC client pool
// (internal/raft/transport.Transport) from a single request/response RPC
// pair per peer to a symmetric mesh where every peer is both client and
// server.
type GRPCManager struct {
	self     fle.PeerID
	registry *fle.PeerRegistry
	listen   string
	pubSub   *pubsub.Client

	server *grpc.Server

	mu      sync.Mutex
	clients map[fle.PeerID]*grpc.ClientConn

	recvMu       sync.Mutex
	recvItems    []fle.Received
	recvNotify   chan struct{}
	lastDelivery time.Time
	deliveryMu   sync.Mutex
}

// NewGRPCManager builds a manager that receives inbound Deliver calls once
// it is registered with RegisterOn on a serving grpc.Server, and dials registry's peer addresses
// on demand for outbound Send calls. pubSub may be nil to disable the
// PeerShutDown lifecycle event.
func NewGRPCManager(self fle.PeerID, registry *fle.PeerRegistry, listen string, pubSub *pubsub.Client) *GRPCManager {
	return &GRPCManager{
		self:       self,
		registry:   registry,
		listen:     listen,
		pubSub:     pubSub,
		clients:    make(map[fle.PeerID]*grpc.ClientConn),
		recvNotify: make(chan struct{}, 1),
	}
}

func (g *GRPCManager) Deliver(_ context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	raw := in.GetValue()
	if len(raw) < 8 {
		return nil, fmt.Errorf("transport: delivered payload too short: %d bytes", len(raw))
	}
	sid := fle.PeerID(binary.BigEndian.Uint64(raw[:8]))
	payload := append([]byte(nil), raw[8:]...)

	g.recvMu.Lock()
	g.recvItems = append(g.recvItems, fle.Received{Sid: sid, Payload: payload})
	g.recvMu.Unlock()
	select {
	case g.recvNotify <- struct{}{}:
	default:
	}

	g.deliveryMu.Lock()
	g.lastDelivery = time.Now()
	g.deliveryMu.Unlock()

	return &wrapperspb.BytesValue{}, nil
}

// Send dials (or reuses) a client connection to sid and delivers payload,
// prefixed with this manager's own sid so the remote Deliver handler knows
// who sent it.
func (g *GRPCManager) Send(sid fle.PeerID, payload []byte) error {
	conn, err := g.clientFor(sid)
	if err != nil {
		return err
	}

	framed := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(framed[:8], uint64(g.self))
	copy(framed[8:], payload)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &wrapperspb.BytesValue{Value: framed}
	reply := new(wrapperspb.BytesValue)
	return conn.Invoke(ctx, deliverMethod, req, reply)
}

func (g *GRPCManager) clientFor(sid fle.PeerID) (*grpc.ClientConn, error) {
	g.mu.Lock()
	conn, ok := g.clients[sid]
	g.mu.Unlock()
	if ok {
		return conn, nil
	}

	addr, ok := g.registry.Address(sid)
	if !ok {
		return nil, fmt.Errorf("transport: no address registered for sid %d", sid)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transport: dialing sid %d at %s: %w", sid, addr, err)
	}

	g.mu.Lock()
	g.clients[sid] = conn
	g.mu.Unlock()
	return conn, nil
}

// PollRecv waits up to timeout for the next delivered message.
func (g *GRPCManager) PollRecv(timeout time.Duration) (fle.Received, bool) {
	if r, ok := g.tryPopRecv(); ok {
		return r, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.recvNotify:
		if r, ok := g.tryPopRecv(); ok {
			return r, true
		}
		return fle.Received{}, false
	case <-timer.C:
		return fle.Received{}, false
	}
}

func (g *GRPCManager) tryPopRecv() (fle.Received, bool) {
	g.recvMu.Lock()
	defer g.recvMu.Unlock()
	if len(g.recvItems) == 0 {
		return fle.Received{}, false
	}
	r := g.recvItems[0]
	g.recvItems = g.recvItems[1:]
	return r, true
}

// HaveDelivered reports whether a message arrived within the last 10
// seconds, used by the election loop's starvation
// handling to decide between rebroadcasting and reconnecting.
func (g *GRPCManager) HaveDelivered() bool {
	g.deliveryMu.Lock()
	defer g.deliveryMu.Unlock()
	return !g.lastDelivery.IsZero() && time.Since(g.lastDelivery) < 10*time.Second
}

// ConnectAll eagerly dials every peer in the registry's voting view,
// logging (not failing) on any peer currently unreachable.
func (g *GRPCManager) ConnectAll() {
	for _, sid := range g.registry.VotingView() {
		if sid == g.self {
			continue
		}
		if _, err := g.clientFor(sid); err != nil {
			log.Printf("[transport] connect to sid %d failed: %v", sid, err)
		}
	}
}

// Halt closes every outbound client connection and gracefully stops the
// inbound server, if one was attached with RegisterOn.
func (g *GRPCManager) Halt() {
	g.mu.Lock()
	for sid, conn := range g.clients {
		if err := conn.Close(); err != nil {
			log.Printf("[transport] closing conn to sid %d: %v", sid, err)
		}
	}
	g.clients = make(map[fle.PeerID]*grpc.ClientConn)
	g.mu.Unlock()

	if g.server != nil {
		g.server.GracefulStop()
	}

	if g.pubSub != nil {
		pubsub.Publish(g.pubSub, pubsub.NewEvent(fle.PeerShutDown, g.self))
	}
}

// RegisterOn registers this manager's Deliver handler on server, and
// remembers server so Halt can stop it.
func (g *GRPCManager) RegisterOn(server *grpc.Server) {
	g.server = server
	server.RegisterService(&serviceDesc, g)
}
