package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// MaxNumericID is the highest assignable numeric session ID. ID 0 is
// reserved and never assigned, so at most MaxNumericID sessions are live at
// once.
const MaxNumericID = 65535

// ErrCapacity is returned by CreateSession when every numeric ID is owned by
// a live session. The condition is fatal for the call; the caller must
// refuse the new connection rather than retry.
var ErrCapacity = errors.New("session: all numeric IDs in use")

// ErrConnectionExists is returned by CreateSession when the connection ID is
// already owned by a live session.
var ErrConnectionExists = errors.New("session: connection ID already registered")

// Directory is the process-wide registry of live sessions. It owns the
// canonical record map keyed by numeric ID plus two lookup tables resolving
// connection IDs and datagram endpoints to numeric IDs, so the payload is
// never duplicated and the three views cannot drift apart.
//
// All mutating operations run under one write lock covering all three
// indices together; lookups take the read lock and never observe a
// half-updated triple. No operation blocks on I/O while holding the lock.
type Directory struct {
	mu         sync.RWMutex
	sessions   map[uint16]*Session
	byConn     map[string]uint16
	byEndpoint map[Endpoint]uint16

	// cursor is the most recently assigned numeric ID; allocation scans
	// forward from it, wrapping from MaxNumericID to 1.
	cursor uint16
}

// NewDirectory returns an empty Directory. The first created session is
// assigned numeric ID 1.
func NewDirectory() *Directory {
	return &Directory{
		sessions:   make(map[uint16]*Session),
		byConn:     make(map[string]uint16),
		byEndpoint: make(map[Endpoint]uint16),
	}
}

// CreateSession allocates the next free numeric ID, generates a fresh
// secret, and registers the record under the numeric-ID and connection-ID
// indices. The client version may be empty and filled in later at handshake.
//
// Parameters:
//   - connectionID: Opaque identifier of the control connection; must not be
//     owned by a live session
//   - clientVersion: The client's version string, if already known
//
// Returns:
//   - The new session record
//   - ErrCapacity if a full cycle of the ID space found no free slot,
//     ErrConnectionExists if connectionID is already registered, or an error
//     if the secret could not be generated
func (d *Directory) CreateSession(connectionID, clientVersion string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byConn[connectionID]; ok {
		return nil, ErrConnectionExists
	}

	id, ok := d.nextFreeID()
	if !ok {
		return nil, ErrCapacity
	}

	s := &Session{
		NumericID:          id,
		ConnectionID:       connectionID,
		ConnectedAt:        time.Now(),
		ClientVersion:      clientVersion,
		Permissions:        NewIDSet(),
		SubscribedChannels: NewIDSet(),
	}
	if _, err := rand.Read(s.Secret[:]); err != nil {
		return nil, fmt.Errorf("session: generate secret: %w", err)
	}

	d.sessions[id] = s
	d.byConn[connectionID] = id
	d.cursor = id
	return s, nil
}

// nextFreeID scans forward from the cursor for an unowned numeric ID,
// wrapping from MaxNumericID to 1 and never yielding 0. Caller holds d.mu.
func (d *Directory) nextFreeID() (uint16, bool) {
	candidate := d.cursor
	for i := 0; i < MaxNumericID; i++ {
		candidate++
		if candidate == 0 {
			candidate = 1
		}
		if _, used := d.sessions[candidate]; !used {
			return candidate, true
		}
	}
	return 0, false
}

// UpdateUDPEndpoint records the datagram source observed for a session,
// refreshing its activity timestamp. If the session had a different endpoint
// registered, the old index entry is removed first; if another session owned
// the new endpoint, that session's mapping is evicted (last writer wins,
// the NAT-rebind rule). The whole update is atomic with respect to
// concurrent lookups.
//
// Parameters:
//   - numericID: The session the datagram claims to come from
//   - address: The observed source IP; must be a valid IPv4/IPv6 literal
//   - port: The observed source port; must be within [1,65535]
//
// Returns:
//   - true if the endpoint was recorded; false, with no mutation, if the
//     address or port is invalid or numericID names no live session
func (d *Directory) UpdateUDPEndpoint(numericID uint16, address string, port int) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	if port < 1 || port > 65535 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[numericID]
	if !ok {
		return false
	}

	ep := Endpoint{Addr: addr, Port: uint16(port)}
	now := time.Now()

	if prev, had := s.UDPEndpoint(); had {
		if prev == ep {
			s.setUDPEndpoint(ep, now)
			return true
		}
		delete(d.byEndpoint, prev)
	}

	if ownerID, taken := d.byEndpoint[ep]; taken && ownerID != numericID {
		if owner, live := d.sessions[ownerID]; live {
			owner.clearUDPEndpoint()
		}
	}

	d.byEndpoint[ep] = numericID
	s.setUDPEndpoint(ep, now)
	return true
}

// RemoveSession destroys a session, purging every index entry it holds.
// Idempotent at the caller level: a second call for the same ID finds no
// session and performs no mutation.
//
// Parameters:
//   - numericID: The session to remove
//
// Returns:
//   - true if a live session was removed, false if numericID was unknown
func (d *Directory) RemoveSession(numericID uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[numericID]
	if !ok {
		return false
	}

	delete(d.sessions, numericID)
	delete(d.byConn, s.ConnectionID)
	if ep, had := s.UDPEndpoint(); had {
		delete(d.byEndpoint, ep)
	}
	return true
}

// LookupByNumericID returns the live session owning the given numeric ID.
//
// Parameters:
//   - numericID: The numeric session ID
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (d *Directory) LookupByNumericID(numericID uint16) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[numericID]
	return s, ok
}

// LookupByConnectionID returns the live session owning the given control
// connection identifier.
//
// Parameters:
//   - connectionID: The opaque control-connection identifier
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (d *Directory) LookupByConnectionID(connectionID string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byConn[connectionID]
	if !ok {
		return nil, false
	}
	s, ok := d.sessions[id]
	return s, ok
}

// LookupByUDPEndpoint returns the live session that most recently proved
// ownership of the given datagram endpoint.
//
// Parameters:
//   - address: The endpoint IP literal
//   - port: The endpoint port
//
// Returns:
//   - The session and true if found; nil and false if the endpoint is
//     unknown or the address does not parse
func (d *Directory) LookupByUDPEndpoint(address string, port int) (*Session, bool) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return nil, false
	}
	if port < 1 || port > 65535 {
		return nil, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEndpoint[Endpoint{Addr: addr, Port: uint16(port)}]
	if !ok {
		return nil, false
	}
	s, ok := d.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
//
// Returns:
//   - The number of sessions currently registered
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
