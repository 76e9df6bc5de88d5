package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_CreateSession(t *testing.T) {
	d := NewDirectory()

	s, err := d.CreateSession("conn-00000001", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, uint16(1), s.NumericID)
	assert.Equal(t, "conn-00000001", s.ConnectionID)
	assert.Equal(t, "1.0.0", s.ClientVersion)
	assert.False(t, s.ConnectedAt.IsZero())
	assert.NotEqual(t, [SecretSize]byte{}, s.Secret)
	require.NotNil(t, s.Permissions)
	require.NotNil(t, s.SubscribedChannels)
	assert.Equal(t, 1, d.Count())
}

func TestDirectory_CreateSession_UniqueIDs(t *testing.T) {
	d := NewDirectory()

	seen := make(map[uint16]bool)
	for i := 0; i < 100; i++ {
		s, err := d.CreateSession(fmt.Sprintf("conn-%08x", i), "")
		require.NoError(t, err)
		assert.False(t, seen[s.NumericID], "duplicate numeric ID %d", s.NumericID)
		assert.NotZero(t, s.NumericID)
		seen[s.NumericID] = true
	}
	assert.Equal(t, 100, d.Count())
}

func TestDirectory_CreateSession_UniqueSecrets(t *testing.T) {
	d := NewDirectory()

	a, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)
	b, err := d.CreateSession("conn-b", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.Secret, b.Secret)
}

func TestDirectory_CreateSession_DuplicateConnectionID(t *testing.T) {
	d := NewDirectory()

	_, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	s, err := d.CreateSession("conn-a", "")
	assert.ErrorIs(t, err, ErrConnectionExists)
	assert.Nil(t, s)
	assert.Equal(t, 1, d.Count())
}

func TestDirectory_CreateSession_Wraparound(t *testing.T) {
	d := NewDirectory()

	// Allocation scans forward from the last assigned ID and wraps past the
	// top of the range without ever yielding 0.
	d.cursor = MaxNumericID - 1

	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(MaxNumericID), s.NumericID)

	s, err = d.CreateSession("conn-b", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), s.NumericID)
}

func TestDirectory_CreateSession_SkipsLiveIDsAfterWrap(t *testing.T) {
	d := NewDirectory()

	first, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)
	require.Equal(t, uint16(1), first.NumericID)

	d.cursor = MaxNumericID

	// ID 1 is still live, so the scan wraps past 0 and settles on 2.
	s, err := d.CreateSession("conn-b", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), s.NumericID)
}

func TestDirectory_CreateSession_Capacity(t *testing.T) {
	if testing.Short() {
		t.Skip("fills the entire numeric ID range")
	}

	d := NewDirectory()
	for i := 1; i <= MaxNumericID; i++ {
		_, err := d.CreateSession(fmt.Sprintf("conn-%08x", i), "")
		require.NoError(t, err)
	}
	require.Equal(t, MaxNumericID, d.Count())

	// The range is exhausted.
	_, err := d.CreateSession("conn-overflow", "")
	assert.ErrorIs(t, err, ErrCapacity)

	// Freeing one slot makes exactly that ID assignable again.
	require.True(t, d.RemoveSession(123))
	s, err := d.CreateSession("conn-reuse", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(123), s.NumericID)
}

func TestDirectory_LookupByNumericID(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	got, ok := d.LookupByNumericID(s.NumericID)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = d.LookupByNumericID(9999)
	assert.False(t, ok)
}

func TestDirectory_LookupByConnectionID(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	got, ok := d.LookupByConnectionID("conn-a")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = d.LookupByConnectionID("conn-unknown")
	assert.False(t, ok)
}

func TestDirectory_UpdateUDPEndpoint(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	// No endpoint is known before the first datagram.
	_, known := s.UDPEndpoint()
	assert.False(t, known)
	assert.Negative(t, s.IdleSince())

	require.True(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 40000))

	ep, known := s.UDPEndpoint()
	require.True(t, known)
	assert.Equal(t, "203.0.113.9", ep.Addr.String())
	assert.Equal(t, uint16(40000), ep.Port)
	assert.False(t, s.LastUDPActivity().IsZero())

	got, ok := d.LookupByUDPEndpoint("203.0.113.9", 40000)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestDirectory_UpdateUDPEndpoint_Rebind(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	require.True(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 40000))
	require.True(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 40001))

	// The old endpoint no longer resolves; only the new one does.
	_, ok := d.LookupByUDPEndpoint("203.0.113.9", 40000)
	assert.False(t, ok)

	got, ok := d.LookupByUDPEndpoint("203.0.113.9", 40001)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestDirectory_UpdateUDPEndpoint_SameEndpointRestamps(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	require.True(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 40000))
	first := s.LastUDPActivity()

	require.True(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 40000))
	assert.False(t, s.LastUDPActivity().Before(first))

	got, ok := d.LookupByUDPEndpoint("203.0.113.9", 40000)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestDirectory_UpdateUDPEndpoint_EvictsOtherOwner(t *testing.T) {
	d := NewDirectory()
	a, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)
	b, err := d.CreateSession("conn-b", "")
	require.NoError(t, err)

	require.True(t, d.UpdateUDPEndpoint(a.NumericID, "203.0.113.9", 40000))

	// A datagram from the same source claiming session B takes the endpoint
	// over; last writer wins.
	require.True(t, d.UpdateUDPEndpoint(b.NumericID, "203.0.113.9", 40000))

	got, ok := d.LookupByUDPEndpoint("203.0.113.9", 40000)
	require.True(t, ok)
	assert.Same(t, b, got)

	_, known := a.UDPEndpoint()
	assert.False(t, known)
}

func TestDirectory_UpdateUDPEndpoint_InvalidInput(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	assert.False(t, d.UpdateUDPEndpoint(s.NumericID, "", 40000))
	assert.False(t, d.UpdateUDPEndpoint(s.NumericID, "not-an-ip", 40000))
	assert.False(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 0))
	assert.False(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 70000))
	assert.False(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", -1))

	// Failed updates leave no trace.
	_, known := s.UDPEndpoint()
	assert.False(t, known)
}

func TestDirectory_UpdateUDPEndpoint_UnknownSession(t *testing.T) {
	d := NewDirectory()
	assert.False(t, d.UpdateUDPEndpoint(42, "203.0.113.9", 40000))
	_, ok := d.LookupByUDPEndpoint("203.0.113.9", 40000)
	assert.False(t, ok)
}

func TestDirectory_RemoveSession(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)
	require.True(t, d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 40000))

	assert.True(t, d.RemoveSession(s.NumericID))
	assert.Equal(t, 0, d.Count())

	// All three lookup paths are purged together.
	_, ok := d.LookupByNumericID(s.NumericID)
	assert.False(t, ok)
	_, ok = d.LookupByConnectionID("conn-a")
	assert.False(t, ok)
	_, ok = d.LookupByUDPEndpoint("203.0.113.9", 40000)
	assert.False(t, ok)
}

func TestDirectory_RemoveSession_Idempotent(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)

	assert.True(t, d.RemoveSession(s.NumericID))
	assert.False(t, d.RemoveSession(s.NumericID))
	assert.False(t, d.RemoveSession(9999))
}

func TestDirectory_RemoveSession_FreesConnectionID(t *testing.T) {
	d := NewDirectory()
	s, err := d.CreateSession("conn-a", "")
	require.NoError(t, err)
	require.True(t, d.RemoveSession(s.NumericID))

	// The connection ID is reusable once its owner is gone.
	_, err = d.CreateSession("conn-a", "")
	assert.NoError(t, err)
}

func TestDirectory_Concurrency(t *testing.T) {
	d := NewDirectory()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				connID := fmt.Sprintf("conn-%d-%d", w, i)
				s, err := d.CreateSession(connID, "")
				if err != nil {
					t.Errorf("create %s: %v", connID, err)
					return
				}
				d.UpdateUDPEndpoint(s.NumericID, "203.0.113.9", 1000+int(s.NumericID))
				d.LookupByNumericID(s.NumericID)
				d.LookupByConnectionID(connID)
				d.RemoveSession(s.NumericID)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, d.Count())
}
