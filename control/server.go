// Package control implements the control-plane acceptor: it owns the
// listening sockets, creates one framer-backed connection handler per
// accepted control connection, registers sessions in the directory on
// connect and removes them on disconnect, and feeds observed datagram
// sources into the directory's endpoint index.
package control

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/voicenet/connid"
	"github.com/cyberinferno/voicenet/gateway"
	"github.com/cyberinferno/voicenet/logger"
	"github.com/cyberinferno/voicenet/session"
)

// defaultReadBufferSize is used when Server.ReadBufferSize is zero.
const defaultReadBufferSize = 4096

// Server accepts control connections and delegates each one to a Conn that
// reads, reassembles, and dispatches messages until the connection closes.
// Sessions are created in the Directory on accept and removed when the
// connection's handler exits. The server runs its accept loop in a goroutine
// and supports graceful stop.
type Server struct {
	Logger    logger.Logger
	Name      string
	Addr      string
	Listener  net.Listener
	Directory *session.Directory
	Gateway   *gateway.Gateway
	Running   atomic.Bool
	ConnIDs   *connid.Generator
	// ReadBufferSize is the per-connection read chunk size; defaults to 4096.
	ReadBufferSize int

	mu    sync.Mutex
	conns map[string]*Conn
}

// Start starts the server by binding to Addr and beginning the accept loop
// in a goroutine. It is safe to call only when the server is not already
// running.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *Server) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	if s.ConnIDs == nil {
		s.ConnIDs = connid.NewGenerator()
	}
	s.mu.Lock()
	s.conns = make(map[string]*Conn)
	s.mu.Unlock()

	s.Listener = ln
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// Stop stops the server: it sets Running to false, closes the listener, and
// closes all active connections. Safe to call when the server is not running.
func (s *Server) Stop() {
	if !s.Running.Load() {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	s.Running.Store(false)
	if s.Listener != nil {
		_ = s.Listener.Close()
	}

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// LocalAddr returns the address the server is listening on, or "" when not
// started. Useful when Addr requested an ephemeral port.
//
// Returns:
//   - The bound listener address string
func (s *Server) LocalAddr() string {
	if s.Listener == nil {
		return ""
	}
	return s.Listener.Addr().String()
}

// ConnCount returns the number of active control connections.
//
// Returns:
//   - The number of connections currently handled
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// AcceptLoop runs in a goroutine and accepts incoming connections. For each
// connection it allocates an opaque connection ID, creates the session
// record in the directory, and runs the connection handler in a new
// goroutine. A directory capacity error refuses the connection. It exits
// when the server is stopped (Running is false).
func (s *Server) AcceptLoop() {
	for s.Running.Load() {
		netConn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		id := s.ConnIDs.Next()
		sess, err := s.Directory.CreateSession(id, "")
		if err != nil {
			if errors.Is(err, session.ErrCapacity) {
				s.Logger.Error("session capacity exhausted, refusing connection",
					logger.Field{Key: "remote", Value: netConn.RemoteAddr().String()})
			} else {
				s.Logger.Error("session creation failed", logger.Field{Key: "error", Value: err})
			}
			_ = netConn.Close()
			continue
		}

		c := newConn(s, netConn, sess)
		s.addConn(c)

		s.Logger.Info("connection accepted",
			logger.Field{Key: "conn", Value: id},
			logger.Field{Key: "numeric_id", Value: sess.NumericID},
			logger.Field{Key: "remote", Value: netConn.RemoteAddr().String()})

		go c.Handle()
	}
}

// addConn stores an active connection. Safe for concurrent use.
func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ConnectionID()] = c
}

// removeConn forgets an active connection. Safe for concurrent use.
func (s *Server) removeConn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// readBufferSize returns the configured read chunk size or the default.
func (s *Server) readBufferSize() int {
	if s.ReadBufferSize > 0 {
		return s.ReadBufferSize
	}
	return defaultReadBufferSize
}
