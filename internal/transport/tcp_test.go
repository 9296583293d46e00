package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumkeeper/internal/fle"
)

func TestTCPManager_SendAndPollRecv(t *testing.T) {
	receiverReg, err := fle.NewPeerRegistry(2, []fle.PeerInfo{
		{Sid: 2, Address: "127.0.0.1:0", Weight: 1},
	})
	require.NoError(t, err)
	receiver := NewTCPManager(2, receiverReg, "127.0.0.1:0", nil)
	require.NoError(t, receiver.Serve())
	defer receiver.Halt()

	senderReg, err := fle.NewPeerRegistry(1, []fle.PeerInfo{
		{Sid: 1, Address: "127.0.0.1:0", Weight: 1},
		{Sid: 2, Address: receiver.ln.Addr().String(), Weight: 1},
	})
	require.NoError(t, err)
	sender := NewTCPManager(1, senderReg, "127.0.0.1:0", nil)
	require.NoError(t, sender.Serve())
	defer sender.Halt()

	require.NoError(t, sender.Send(2, []byte("hello")))

	got, ok := receiver.PollRecv(time.Second)
	require.True(t, ok, "expected the framed message to arrive")
	assert.Equal(t, fle.PeerID(1), got.Sid)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.True(t, receiver.HaveDelivered())
}

func TestTCPManager_PollRecvTimesOutWithNothingPending(t *testing.T) {
	reg, err := fle.NewPeerRegistry(1, []fle.PeerInfo{{Sid: 1, Address: "127.0.0.1:0", Weight: 1}})
	require.NoError(t, err)
	m := NewTCPManager(1, reg, "127.0.0.1:0", nil)
	require.NoError(t, m.Serve())
	defer m.Halt()

	_, ok := m.PollRecv(50 * time.Millisecond)
	assert.False(t, ok)
	assert.False(t, m.HaveDelivered())
}

func TestTCPManager_SendUnknownPeerFails(t *testing.T) {
	reg, err := fle.NewPeerRegistry(1, []fle.PeerInfo{{Sid: 1, Address: "127.0.0.1:0", Weight: 1}})
	require.NoError(t, err)
	m := NewTCPManager(1, reg, "127.0.0.1:0", nil)
	require.NoError(t, m.Serve())
	defer m.Halt()

	err = m.Send(99, []byte("x"))
	assert.Error(t, err)
}

func TestTCPManager_HaltClosesListenerAndConns(t *testing.T) {
	reg, err := fle.NewPeerRegistry(1, []fle.PeerInfo{{Sid: 1, Address: "127.0.0.1:0", Weight: 1}})
	require.NoError(t, err)
	m := NewTCPManager(1, reg, "127.0.0.1:0", nil)
	require.NoError(t, m.Serve())

	m.Halt()

	_, ok := m.PollRecv(10 * time.Millisecond)
	assert.False(t, ok)
}
