// Package client provides an event-driven control-plane client that frames
// outgoing messages, reassembles and decodes incoming ones, and notifies
// callers of connection state changes, decoded messages, and errors via
// registered handlers. It performs the control handshake on connect and
// supports optional auto-reconnect.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/voicenet/protocol"
)

// ConnectionState represents the current state of the control connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected, handshake sent
	Reconnecting                        // Disconnected and attempting to reconnect (when AutoReconnect is enabled)
	Closed                              // Client has been closed and will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
// It is passed to the handler registered with OnConnectionState.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// MessageEvent is emitted for each complete control message decoded from the
// stream. It is passed to the handler registered with OnMessage.
type MessageEvent struct {
	Message   protocol.Message // The decoded message
	Timestamp time.Time        // When the message was decoded
}

// ErrorEvent is emitted when a read, write, decode, or connection error
// occurs. It is passed to the handler registered with OnError.
type ErrorEvent struct {
	Error     error     // The error that occurred
	Timestamp time.Time // When the error occurred
}

// ConnectionStateHandler is called when the connection state changes.
// Handlers are invoked from goroutines; implementations must be safe for concurrent use.
type ConnectionStateHandler func(event ConnectionStateEvent)

// MessageHandler is called for each decoded control message.
// Handlers are invoked from goroutines; implementations must be safe for concurrent use.
type MessageHandler func(event MessageEvent)

// ErrorHandler is called when a read, write, or connection error occurs.
// Handlers are invoked from goroutines; implementations must be safe for concurrent use.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the control client.
type Config struct {
	// Address is the "host:port" of the control server.
	Address string
	// ClientVersion is announced in the handshake sent on every connect.
	ClientVersion string
	// AutoReconnect enables automatic reconnection when the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay between reconnection attempts when AutoReconnect is true.
	ReconnectInterval time.Duration
	// ReadBufferSize is the size of the stream read buffer.
	ReadBufferSize int
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectionTimeout is the max duration for establishing a new connection.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config with default values for the given address
// and client version. AutoReconnect is false; override fields as needed
// before passing to NewClient.
//
// Parameters:
//   - address: The "host:port" to connect to
//   - clientVersion: The version string announced at handshake
//
// Returns:
//   - A Config with defaults: ReconnectInterval 5s, ReadBufferSize 4096,
//     WriteTimeout 10s, ConnectionTimeout 10s.
func DefaultConfig(address, clientVersion string) Config {
	return Config{
		Address:           address,
		ClientVersion:     clientVersion,
		AutoReconnect:     false,
		ReconnectInterval: 5 * time.Second,
		ReadBufferSize:    4096,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client is a control-plane client that drives I/O and connection lifecycle
// via events. Register handlers with OnConnectionState, OnMessage, and
// OnError, then call Connect to start. It is safe for concurrent use.
type Client struct {
	config Config
	conn   net.Conn
	framer *protocol.Framer
	state  ConnectionState

	onConnectionState ConnectionStateHandler
	onMessage         MessageHandler
	onError           ErrorHandler

	mu               sync.RWMutex
	stopChan         chan struct{}
	reconnectChan    chan struct{}
	wg               sync.WaitGroup
	closed           bool
	reconnecting     bool
	reconnectStarted bool
}

// NewClient creates a new control client with the given config. The client
// starts in Disconnected state; call Connect to establish a connection.
//
// Parameters:
//   - config: Connection and behavior settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client ready to use; call Close when done to release resources.
func NewClient(config Config) *Client {
	return &Client{
		config:        config,
		framer:        protocol.NewFramer(),
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnConnectionState registers the handler for connection state changes.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
//
// Parameters:
//   - handler: Function called on state changes (Connecting, Connected, Disconnected, etc.)
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnMessage registers the handler for decoded control messages.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
//
// Parameters:
//   - handler: Function called with each decoded message
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnError registers the handler for read, write, and connection errors.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
//
// Parameters:
//   - handler: Function called when an error occurs
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect establishes a TCP connection to the configured address and sends
// the handshake announcement. It returns an error if the client is closed,
// already connected/connecting, or if the dial fails. When AutoReconnect is
// enabled, a reconnect goroutine is started alongside the read goroutine.
//
// Returns:
//   - nil on success; otherwise an error (e.g. "client is closed",
//     "already connected or connecting", or dial error).
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	return c.connect()
}

// Disconnect closes the current connection and moves to Disconnected state.
// It does not set the client to Closed; Connect may be called again.
// Safe to call when already disconnected or closed; returns nil in those cases.
//
// Returns:
//   - nil if already disconnected/closed, or the error from closing the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	err := c.closeConnLocked()
	c.state = Disconnected
	c.mu.Unlock()

	c.emitConnectionState(Disconnected, nil)
	return err
}

// closeConnLocked closes and forgets the current connection; caller holds c.mu.
func (c *Client) closeConnLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Close shuts down the client, closes the connection, and stops all goroutines.
// After Close, the client is in Closed state and must not be used further.
// Idempotent; calling Close multiple times is safe and returns nil.
//
// Returns:
//   - nil
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()

	c.setState(Closed, nil)

	return nil
}

// Send frames and writes a message to the connection. It returns an error if
// not connected, if the message cannot be encoded, or if the write fails.
// When WriteTimeout is set in config, each write is limited to that duration.
// On write error, the error handler is invoked and reconnect may be
// triggered if AutoReconnect is enabled.
//
// Parameters:
//   - m: The message to send
//
// Returns:
//   - nil on success; an error otherwise.
func (c *Client) Send(m protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected {
		return fmt.Errorf("not connected")
	}

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	frame, err := c.framer.Encode(m)
	if err != nil {
		return err
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	_, err = conn.Write(frame)
	if err != nil {
		c.emitError(err)
		c.triggerReconnect()
	}

	return err
}

// GetState returns the current connection state.
//
// Returns:
//   - The current ConnectionState (Disconnected, Connecting, Connected, Reconnecting, or Closed).
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

func (c *Client) connect() error {
	c.setState(Connecting, nil)

	dialer := net.Dialer{
		Timeout: c.config.ConnectionTimeout,
	}

	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)

	if err := c.Send(protocol.NewHandshake(c.config.ClientVersion)); err != nil {
		_ = c.Disconnect()
		return fmt.Errorf("handshake send failed: %w", err)
	}

	c.wg.Add(1)
	go c.readLoop(conn, protocol.NewFramer())

	if c.config.AutoReconnect {
		c.mu.Lock()
		if !c.reconnectStarted {
			c.reconnectStarted = true
			c.wg.Add(1)
			go c.reconnectHandler()
		}
		c.mu.Unlock()
	}

	return nil
}

// readLoop reads stream chunks from conn, feeds them to its own framer, and
// emits each decoded message. It exits on read error, frame-size violation,
// or client close. Each loop gets a fresh framer and a pinned conn so a
// reconnect never hands it another socket or a half-filled buffer mid-loop.
func (c *Client) readLoop(conn net.Conn, framer *protocol.Framer) {
	defer c.wg.Done()

	bufSize := c.config.ReadBufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}

	buffer := make([]byte, bufSize)
	for {
		if c.isClosed() {
			return
		}

		n, err := conn.Read(buffer)

		if n > 0 {
			msgs, ferr := framer.AddData(buffer[:n])
			for _, m := range msgs {
				c.emitMessage(m)
			}
			if ferr != nil {
				if !c.isClosed() {
					c.emitError(ferr)
					c.triggerReconnect()
				}
				return
			}
		}

		if err != nil {
			if !c.isClosed() {
				c.emitError(err)
				c.triggerReconnect()
			}

			return
		}
	}
}

func (c *Client) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.mu.Lock()
			if c.reconnecting {
				c.mu.Unlock()
				continue
			}
			c.reconnecting = true
			c.mu.Unlock()

			c.mu.Lock()
			err := c.closeConnLocked()
			c.mu.Unlock()
			if err != nil {
				c.emitError(err)
			}

			c.setState(Reconnecting, nil)

			select {
			case <-c.stopChan:
				c.mu.Lock()
				c.reconnecting = false
				c.mu.Unlock()
				return
			case <-time.After(c.config.ReconnectInterval):
			}

			if c.isClosed() {
				c.mu.Lock()
				c.reconnecting = false
				c.mu.Unlock()
				return
			}

			err = c.connect()

			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()

			if err != nil {
				select {
				case c.reconnectChan <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (c *Client) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Client) emitConnectionState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onConnectionState
	c.mu.RUnlock()

	if handler != nil {
		event := ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}

func (c *Client) emitMessage(m protocol.Message) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		event := MessageEvent{
			Message:   m,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		event := ErrorEvent{
			Error:     err,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
