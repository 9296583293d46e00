package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"quorumkeeper/internal/fle"
	"quorumkeeper/internal/pubsub"
)

// tcpHeaderLen is the size of the length-prefix frame header: an 8-byte
// sender sid followed by a 4-byte big-endian payload length.
const tcpHeaderLen = 12

// TCPManager is a fle.ConnectionManager built directly on net.TCPConn,
// generalizing the teacher's UDPTransport (internal/swim/transport.go) --
// a start/stop lifecycle around a background listen loop feeding a message
// handler -- to a connection-oriented, per-peer dial pool in the shape of
// the teacher's raft internal/raft/transport.Transport, since a framed FLE
// notification stream needs TCP's ordering guarantees that UDP does not
// give.
type TCPManager struct {
	self     fle.PeerID
	registry *fle.PeerRegistry
	listen   string
	pubSub   *pubsub.Client

	ln net.Listener

	mu    sync.Mutex
	conns map[fle.PeerID]net.Conn

	inboundMu sync.Mutex
	inbound   []net.Conn

	recvMu       sync.Mutex
	recvItems    []fle.Received
	recvNotify   chan struct{}
	lastDelivery time.Time
	deliveryMu   sync.Mutex

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewTCPManager builds a manager that will listen on listen once Serve
// runs, and dial registry's peer addresses on demand for outbound Send
// calls. pubSub may be nil to disable the PeerShutDown lifecycle event.
func NewTCPManager(self fle.PeerID, registry *fle.PeerRegistry, listen string, pubSub *pubsub.Client) *TCPManager {
	return &TCPManager{
		self:       self,
		registry:   registry,
		listen:     listen,
		pubSub:     pubSub,
		conns:      make(map[fle.PeerID]net.Conn),
		recvNotify: make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

// Serve starts accepting inbound connections on m.listen. It returns once
// the listener is bound; accepting and framing happen on a background
// goroutine until Halt is called.
func (m *TCPManager) Serve() error {
	ln, err := net.Listen("tcp", m.listen)
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", m.listen, err)
	}
	m.ln = ln

	m.wg.Add(1)
	go m.acceptLoop()
	return nil
}

func (m *TCPManager) acceptLoop() {
	defer m.wg.Done()

	for {
		conn, err := m.ln.Accept()
		if err != nil {
			select {
			case <-m.shutdownCh:
				return
			default:
				log.Printf("[transport] accept on %s: %v", m.listen, err)
				return
			}
		}
		m.inboundMu.Lock()
		m.inbound = append(m.inbound, conn)
		m.inboundMu.Unlock()

		m.wg.Add(1)
		go m.readLoop(conn)
	}
}

// readLoop reads length-prefixed frames off one inbound connection until
// it closes or Halt fires.
func (m *TCPManager) readLoop(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()

	header := make([]byte, tcpHeaderLen)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				select {
				case <-m.shutdownCh:
				default:
					log.Printf("[transport] reading frame header: %v", err)
				}
			}
			return
		}

		sid := fle.PeerID(binary.BigEndian.Uint64(header[:8]))
		n := binary.BigEndian.Uint32(header[8:12])

		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			log.Printf("[transport] reading frame body from sid %d: %v", sid, err)
			return
		}

		m.recvMu.Lock()
		m.recvItems = append(m.recvItems, fle.Received{Sid: sid, Payload: payload})
		m.recvMu.Unlock()
		select {
		case m.recvNotify <- struct{}{}:
		default:
		}

		m.deliveryMu.Lock()
		m.lastDelivery = time.Now()
		m.deliveryMu.Unlock()
	}
}

// Send dials (or reuses) a connection to sid and writes one length-prefixed
// frame, prefixed with this manager's own sid so the remote readLoop knows
// who sent it.
func (m *TCPManager) Send(sid fle.PeerID, payload []byte) error {
	conn, err := m.connFor(sid)
	if err != nil {
		return err
	}

	frame := make([]byte, tcpHeaderLen+len(payload))
	binary.BigEndian.PutUint64(frame[:8], uint64(m.self))
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(payload)))
	copy(frame[tcpHeaderLen:], payload)

	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("transport: setting write deadline for sid %d: %w", sid, err)
	}
	if _, err := conn.Write(frame); err != nil {
		m.dropConn(sid)
		return fmt.Errorf("transport: writing frame to sid %d: %w", sid, err)
	}
	return nil
}

func (m *TCPManager) connFor(sid fle.PeerID) (net.Conn, error) {
	m.mu.Lock()
	conn, ok := m.conns[sid]
	m.mu.Unlock()
	if ok {
		return conn, nil
	}

	addr, ok := m.registry.Address(sid)
	if !ok {
		return nil, fmt.Errorf("transport: no address registered for sid %d", sid)
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing sid %d at %s: %w", sid, addr, err)
	}

	m.mu.Lock()
	m.conns[sid] = conn
	m.mu.Unlock()
	return conn, nil
}

func (m *TCPManager) dropConn(sid fle.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[sid]; ok {
		conn.Close()
		delete(m.conns, sid)
	}
}

// PollRecv waits up to timeout for the next delivered message.
func (m *TCPManager) PollRecv(timeout time.Duration) (fle.Received, bool) {
	if r, ok := m.tryPopRecv(); ok {
		return r, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.recvNotify:
		if r, ok := m.tryPopRecv(); ok {
			return r, true
		}
		return fle.Received{}, false
	case <-timer.C:
		return fle.Received{}, false
	}
}

func (m *TCPManager) tryPopRecv() (fle.Received, bool) {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()
	if len(m.recvItems) == 0 {
		return fle.Received{}, false
	}
	r := m.recvItems[0]
	m.recvItems = m.recvItems[1:]
	return r, true
}

// HaveDelivered reports whether a message arrived within the last 10
// seconds, used by the election loop's starvation
// handling to decide between rebroadcasting and reconnecting.
func (m *TCPManager) HaveDelivered() bool {
	m.deliveryMu.Lock()
	defer m.deliveryMu.Unlock()
	return !m.lastDelivery.IsZero() && time.Since(m.lastDelivery) < 10*time.Second
}

// ConnectAll dials every peer in the registry's voting view on a background
// goroutine and returns at once, logging (not failing) on any peer
// currently unreachable.
func (m *TCPManager) ConnectAll() {
	go func() {
		for _, sid := range m.registry.VotingView() {
			if sid == m.self {
				continue
			}
			if _, err := m.connFor(sid); err != nil {
				log.Printf("[transport] connect to sid %d failed: %v", sid, err)
			}
		}
	}()
}

// Halt closes every outbound and inbound connection, stops the listener if
// Serve was called, and publishes PeerShutDown.
func (m *TCPManager) Halt() {
	close(m.shutdownCh)

	if m.ln != nil {
		m.ln.Close()
	}

	m.inboundMu.Lock()
	for _, conn := range m.inbound {
		conn.Close()
	}
	m.inbound = nil
	m.inboundMu.Unlock()

	m.mu.Lock()
	for sid, conn := range m.conns {
		if err := conn.Close(); err != nil {
			log.Printf("[transport] closing conn to sid %d: %v", sid, err)
		}
	}
	m.conns = make(map[fle.PeerID]net.Conn)
	m.mu.Unlock()

	m.wg.Wait()

	if m.pubSub != nil {
		pubsub.Publish(m.pubSub, pubsub.NewEvent(fle.PeerShutDown, m.self))
	}
}
