package control

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/voicenet/logger"
	"github.com/cyberinferno/voicenet/protocol"
	"github.com/cyberinferno/voicenet/session"
)

// maxDatagramSize covers the 16-byte header plus the largest audio payload
// the original packet format can declare (uint16 length).
const maxDatagramSize = protocol.DatagramHeaderSize + 65535

// UDPListener observes the datagram plane for the directory: it reads each
// datagram's header, recovers the sender's numeric session ID, and records
// the observed source endpoint via the directory's NAT-rebind path. Audio
// payloads are not interpreted; forwarding belongs to the media plane.
type UDPListener struct {
	Logger    logger.Logger
	Addr      string
	Directory *session.Directory
	Running   atomic.Bool

	conn *net.UDPConn
	wg   sync.WaitGroup
}

// Start binds the UDP socket and begins the read loop in a goroutine.
//
// Returns:
//   - An error if the listener is already running or the bind fails
func (l *UDPListener) Start() error {
	if l.Running.Load() {
		l.Logger.Error("udp listener already running")
		return fmt.Errorf("udp listener already running on %s", l.Addr)
	}

	addr, err := net.ResolveUDPAddr("udp", l.Addr)
	if err != nil {
		return fmt.Errorf("udp listener failed to resolve %s: %w", l.Addr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		l.Logger.Error("udp listener failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("udp listener failed to start: %w", err)
	}

	l.conn = conn
	l.Running.Store(true)

	l.Logger.Info("udp listener started", logger.Field{Key: "addr", Value: conn.LocalAddr().String()})

	l.wg.Add(1)
	go l.readLoop()
	return nil
}

// Stop closes the socket and waits for the read loop to exit. Safe to call
// when the listener is not running.
func (l *UDPListener) Stop() {
	if !l.Running.Load() {
		return
	}

	l.Running.Store(false)
	_ = l.conn.Close()
	l.wg.Wait()

	l.Logger.Info("udp listener stopped")
}

// LocalAddr returns the bound socket address, or "" when not started.
//
// Returns:
//   - The local UDP address string
func (l *UDPListener) LocalAddr() string {
	if l.conn == nil {
		return ""
	}
	return l.conn.LocalAddr().String()
}

// readLoop reads datagrams and updates the directory's endpoint index.
// Datagrams that are too short or name no live session are dropped silently;
// the datagram plane is unreliable and the sender will try again.
func (l *UDPListener) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if !l.Running.Load() {
				return
			}
			l.Logger.Error("udp read error", logger.Field{Key: "error", Value: err})
			continue
		}

		hdr, err := protocol.ParseDatagramHeader(buf[:n])
		if err != nil {
			continue
		}

		if !l.Directory.UpdateUDPEndpoint(hdr.SenderID, raddr.IP.String(), raddr.Port) {
			l.Logger.Debug("datagram from unknown session dropped",
				logger.Field{Key: "sender_id", Value: hdr.SenderID},
				logger.Field{Key: "remote", Value: raddr.String()})
		}
	}
}
