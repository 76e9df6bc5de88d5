package control

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/cyberinferno/voicenet/gateway"
	"github.com/cyberinferno/voicenet/logger"
	"github.com/cyberinferno/voicenet/protocol"
	"github.com/cyberinferno/voicenet/session"
)

// Conn handles one control connection: it owns the connection's framer and
// handshake state, reassembles inbound bytes into messages, dispatches them
// to the gateway, and writes the gateway's replies back. The read loop runs
// in its own goroutine; Send is safe for concurrent use.
type Conn struct {
	server *Server
	conn   net.Conn
	sess   *session.Session
	framer *protocol.Framer
	state  gateway.State
	log    logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// newConn wires a freshly accepted connection to its session record.
func newConn(s *Server, netConn net.Conn, sess *session.Session) *Conn {
	return &Conn{
		server: s,
		conn:   netConn,
		sess:   sess,
		framer: protocol.NewFramer(),
		state:  gateway.StateAwaitingHandshake,
		log: s.Logger.With(
			logger.Field{Key: "conn", Value: sess.ConnectionID},
			logger.Field{Key: "numeric_id", Value: sess.NumericID},
		),
	}
}

// ConnectionID returns the opaque identifier of the control connection.
//
// Returns:
//   - The connection ID string
func (c *Conn) ConnectionID() string {
	return c.sess.ConnectionID
}

// Session returns the directory record backing this connection.
//
// Returns:
//   - The session record
func (c *Conn) Session() *session.Session {
	return c.sess
}

// Handle runs the connection's read loop until the connection closes or the
// stream desynchronizes. On exit the session is removed from the directory,
// purging all of its index entries.
func (c *Conn) Handle() {
	defer func() {
		_ = c.Close()
		c.server.Directory.RemoveSession(c.sess.NumericID)
		c.server.removeConn(c.sess.ConnectionID)
		c.log.Info("connection closed",
			logger.Field{Key: "skipped_frames", Value: c.framer.Skipped()})
	}()

	buf := make([]byte, c.server.readBufferSize())
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			msgs, ferr := c.framer.AddData(buf[:n])
			for _, m := range msgs {
				if !c.dispatch(m) {
					return
				}
			}
			if ferr != nil {
				c.log.Error("stream desynchronized", logger.Field{Key: "error", Value: ferr})
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.server.Running.Load() {
				c.log.Debug("read error", logger.Field{Key: "error", Value: err})
			}
			return
		}
	}
}

// dispatch hands one message to the gateway and writes its replies. It
// reports false when a write failed and the connection should stop.
func (c *Conn) dispatch(m protocol.Message) bool {
	replies := c.server.Gateway.HandleMessage(context.Background(), c.sess, &c.state, m)
	for _, reply := range replies {
		if err := c.Send(reply); err != nil {
			c.log.Debug("write error", logger.Field{Key: "error", Value: err})
			return false
		}
	}
	return true
}

// Send frames and writes one message to the connection. Safe for concurrent
// use.
//
// Parameters:
//   - m: The message to send
//
// Returns:
//   - An error if the message cannot be encoded or the write fails
func (c *Conn) Send(m protocol.Message) error {
	frame, err := c.framer.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

// Close closes the underlying connection, which unblocks the read loop. It
// is safe to call multiple times.
//
// Returns:
//   - An error if closing the connection failed
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
