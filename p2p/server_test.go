package p2p

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialAndAcceptExchangeNodeIDs(t *testing.T) {
	serverA := NewServer("aaaaaaaa")
	serverB := NewServer("bbbbbbbb")

	port := 54900 + (time.Now().Nanosecond() % 500)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.NoError(t, serverA.Listen(addr))
	time.Sleep(20 * time.Millisecond)

	connected := make(chan *Connection, 1)
	serverA.OnConnected = func(c *Connection) { connected <- c }

	outbound, err := serverB.Dial(addr)
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaa", outbound.ID())
	require.False(t, outbound.Inbound())

	select {
	case inbound := <-connected:
		require.Equal(t, "bbbbbbbb", inbound.ID())
		require.True(t, inbound.Inbound())
		require.NotEmpty(t, inbound.SessionID())
		require.NotEqual(t, inbound.SessionID(), outbound.SessionID())
	case <-time.After(2 * time.Second):
		t.Fatal("server A never observed the inbound connection")
	}

	serverA.Shutdown()
	serverB.Shutdown()
}

func TestSendDeliversFrameToOtherSide(t *testing.T) {
	serverA := NewServer("11111111")
	serverB := NewServer("22222222")

	port := 55400 + (time.Now().Nanosecond() % 500)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.NoError(t, serverA.Listen(addr))
	time.Sleep(20 * time.Millisecond)

	received := make(chan string, 1)
	serverA.OnMessage = func(c *Connection, frame []byte) { received <- string(frame) }

	outbound, err := serverB.Dial(addr)
	require.NoError(t, err)

	require.NoError(t, outbound.Send(`{"time":"1","snid":"22222222","msg":"version_req"}`))

	select {
	case msg := <-received:
		require.Contains(t, msg, "version_req")
	case <-time.After(2 * time.Second):
		t.Fatal("frame never arrived")
	}

	serverA.Shutdown()
	serverB.Shutdown()
}

func TestSecondOutboundDialWhileOneInFlightFails(t *testing.T) {
	s := NewServer("33333333")
	s.dialing.Store(true)
	_, err := s.Dial("127.0.0.1:1")
	require.Error(t, err)
	s.dialing.Store(false)
}
