// Package session implements the session directory: the multi-key identity
// registry tracking every connected participant and its addressing
// information across the control connection and the datagram path.
package session

import (
	"encoding/base64"
	"net/netip"
	"sync"
	"time"
)

// SecretSize is the length of a session's datagram-authentication secret.
const SecretSize = 32

// Endpoint is the key under which a session's datagram source is indexed.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// Session is the record for one connected participant. NumericID,
// ConnectionID, Secret and ConnectedAt are fixed at creation; ClientVersion
// is written once by the connection's own goroutine at handshake. The UDP
// endpoint fields change on datagram arrival and are guarded by the record's
// own mutex so lookups handed out earlier never observe a torn update.
type Session struct {
	NumericID     uint16
	ConnectionID  string
	Secret        [SecretSize]byte
	ConnectedAt   time.Time
	ClientVersion string

	// Permissions and SubscribedChannels are mutated only by the gateway.
	Permissions        *IDSet
	SubscribedChannels *IDSet

	mu              sync.RWMutex
	udpEndpoint     Endpoint
	udpKnown        bool
	lastUDPActivity time.Time
}

// UDPEndpoint returns the session's registered datagram endpoint, if one has
// been learned.
//
// Returns:
//   - The endpoint and true if a datagram source is registered, or a zero
//     Endpoint and false before the first datagram
func (s *Session) UDPEndpoint() (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.udpEndpoint, s.udpKnown
}

// LastUDPActivity returns when the session's datagram endpoint was last
// confirmed. The zero time means no datagram has been observed.
//
// Returns:
//   - The timestamp of the most recent endpoint confirmation
func (s *Session) LastUDPActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUDPActivity
}

// IdleSince returns how long ago the session's endpoint was last confirmed,
// or a negative duration if no datagram has ever been observed.
//
// Returns:
//   - Time elapsed since the last endpoint confirmation
func (s *Session) IdleSince() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastUDPActivity.IsZero() {
		return -1
	}
	return time.Since(s.lastUDPActivity)
}

// setUDPEndpoint records a confirmed datagram source. Called by the
// directory under its write lock.
func (s *Session) setUDPEndpoint(ep Endpoint, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.udpEndpoint = ep
	s.udpKnown = true
	s.lastUDPActivity = at
}

// clearUDPEndpoint revokes the session's datagram endpoint. Called by the
// directory when another session proves ownership of the same endpoint.
func (s *Session) clearUDPEndpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.udpEndpoint = Endpoint{}
	s.udpKnown = false
}

// WelcomePayload is the shape handed to the gateway once per new session so
// the datagram-authentication layer learns the session's identity and secret.
type WelcomePayload struct {
	NumericID uint16 `json:"numeric_id"`
	Secret    string `json:"secret"`
}

// Welcome returns the session's welcome payload with the secret encoded as
// standard base64.
//
// Returns:
//   - The welcome payload for this session
func (s *Session) Welcome() WelcomePayload {
	return WelcomePayload{
		NumericID: s.NumericID,
		Secret:    base64.StdEncoding.EncodeToString(s.Secret[:]),
	}
}
