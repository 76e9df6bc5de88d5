package client

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/voicenet/protocol"
)

// testServer is a minimal in-test control server: it accepts one connection
// at a time, decodes inbound frames, and answers every handshake with an ack.
type testServer struct {
	listener net.Listener

	mu       sync.Mutex
	received []protocol.Message
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{listener: ln}
	go s.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *testServer) addr() string {
	return s.listener.Addr().String()
}

func (s *testServer) messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.received...)
}

func (s *testServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *testServer) serve(conn net.Conn) {
	defer conn.Close()

	framer := protocol.NewFramer()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, ferr := framer.AddData(buf[:n])
			for _, m := range msgs {
				s.mu.Lock()
				s.received = append(s.received, m)
				s.mu.Unlock()

				if m.Kind == protocol.KindHandshake {
					frame, encErr := framer.Encode(protocol.NewHandshakeAck("conn-test", "test"))
					if encErr == nil {
						_, _ = conn.Write(frame)
					}
				}
			}
			if ferr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func TestNewClient(t *testing.T) {
	c := NewClient(DefaultConfig("127.0.0.1:0", "1.0.0"))
	require.NotNil(t, c)
	assert.Equal(t, Disconnected, c.GetState())
	assert.False(t, c.IsConnected())
}

func TestClient_Connect(t *testing.T) {
	srv := newTestServer(t)

	var mu sync.Mutex
	var events []ConnectionState
	var received []protocol.Message

	c := NewClient(DefaultConfig(srv.addr(), "2.0.0"))
	c.OnConnectionState(func(e ConnectionStateEvent) {
		mu.Lock()
		events = append(events, e.State)
		mu.Unlock()
	})
	c.OnMessage(func(e MessageEvent) {
		mu.Lock()
		received = append(received, e.Message)
		mu.Unlock()
	})
	defer c.Close()

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())

	// The handshake goes out on connect and the ack comes back as an event.
	require.Eventually(t, func() bool {
		msgs := srv.messages()
		return len(msgs) == 1 && msgs[0].Kind == protocol.KindHandshake
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "2.0.0", srv.messages()[0].Handshake.ClientVersion)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0].Kind == protocol.KindHandshakeAck
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Contains(t, events, Connecting)
	assert.Contains(t, events, Connected)
	mu.Unlock()
}

func TestClient_Connect_AlreadyConnected(t *testing.T) {
	srv := newTestServer(t)

	c := NewClient(DefaultConfig(srv.addr(), "1.0.0"))
	defer c.Close()

	require.NoError(t, c.Connect())
	assert.Error(t, c.Connect())
}

func TestClient_Connect_DialError(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:1", "1.0.0")
	cfg.ConnectionTimeout = 500 * time.Millisecond

	var mu sync.Mutex
	var errs []error

	c := NewClient(cfg)
	c.OnError(func(e ErrorEvent) {
		mu.Lock()
		errs = append(errs, e.Error)
		mu.Unlock()
	})
	defer c.Close()

	assert.Error(t, c.Connect())
	assert.Equal(t, Disconnected, c.GetState())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_Send(t *testing.T) {
	srv := newTestServer(t)

	c := NewClient(DefaultConfig(srv.addr(), "1.0.0"))
	defer c.Close()

	require.NoError(t, c.Connect())
	require.NoError(t, c.Send(protocol.NewJoinChannel("lobby")))

	require.Eventually(t, func() bool {
		msgs := srv.messages()
		return len(msgs) == 2 && msgs[1].Kind == protocol.KindJoinChannel
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "lobby", srv.messages()[1].JoinChannel.ChannelID)
}

func TestClient_Send_NotConnected(t *testing.T) {
	c := NewClient(DefaultConfig("127.0.0.1:0", "1.0.0"))
	defer c.Close()

	assert.Error(t, c.Send(protocol.NewJoinChannel("lobby")))
}

func TestClient_Disconnect(t *testing.T) {
	srv := newTestServer(t)

	c := NewClient(DefaultConfig(srv.addr(), "1.0.0"))
	defer c.Close()

	require.NoError(t, c.Connect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.GetState())

	// Disconnect is not terminal; the client can connect again.
	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())
}

func TestClient_Disconnect_WhenDisconnected(t *testing.T) {
	c := NewClient(DefaultConfig("127.0.0.1:0", "1.0.0"))
	defer c.Close()

	assert.NoError(t, c.Disconnect())
}

func TestClient_Close(t *testing.T) {
	srv := newTestServer(t)

	c := NewClient(DefaultConfig(srv.addr(), "1.0.0"))
	require.NoError(t, c.Connect())

	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.GetState())

	// Closed is terminal.
	assert.Error(t, c.Connect())
	require.NoError(t, c.Close())
}

func TestClient_AutoReconnect(t *testing.T) {
	srv := newTestServer(t)

	cfg := DefaultConfig(srv.addr(), "1.0.0")
	cfg.AutoReconnect = true
	cfg.ReconnectInterval = 50 * time.Millisecond

	c := NewClient(cfg)
	defer c.Close()

	require.NoError(t, c.Connect())

	// Each successful connect announces itself; a second handshake proves
	// the client re-established the link after the server dropped it.
	require.Eventually(t, func() bool {
		return len(srv.messages()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Drop the live connection server-side.
	srv.mu.Lock()
	srv.received = nil
	srv.mu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	require.NotNil(t, conn)
	_ = conn.Close()

	require.Eventually(t, func() bool {
		msgs := srv.messages()
		return len(msgs) >= 1 && msgs[0].Kind == protocol.KindHandshake
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, c.IsConnected, 5*time.Second, 20*time.Millisecond)
}

func TestClient_ServerStreamDecoded(t *testing.T) {
	// A raw listener that pushes two frames in one write after the handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the handshake frame.
		var header [protocol.HeaderSize]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		framer := protocol.NewFramer()
		frame1, _ := framer.Encode(protocol.NewHandshakeAck("conn-x", "test"))
		frame2, _ := framer.Encode(protocol.NewError("unknown_channel", "gone"))
		_, _ = conn.Write(append(frame1, frame2...))
	}()

	var mu sync.Mutex
	var received []protocol.Message

	c := NewClient(DefaultConfig(ln.Addr().String(), "1.0.0"))
	c.OnMessage(func(e MessageEvent) {
		mu.Lock()
		received = append(received, e.Message)
		mu.Unlock()
	})
	defer c.Close()

	require.NoError(t, c.Connect())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, protocol.KindHandshakeAck, received[0].Kind)
	assert.Equal(t, protocol.KindError, received[1].Kind)
	assert.Equal(t, "unknown_channel", received[1].Error.Code)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Reconnecting", Reconnecting.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(99).String())
}
