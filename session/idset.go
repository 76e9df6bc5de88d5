package session

import "sync"

// IDSet is a thread-safe set of opaque string identifiers, used for a
// session's permissions and channel subscriptions. It is safe for concurrent
// use by multiple goroutines.
type IDSet struct {
	m map[string]struct{}
	sync.RWMutex
}

// NewIDSet creates and returns a new empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{m: make(map[string]struct{})}
}

// Add adds an identifier to the set.
//
// Parameters:
//   - id: The identifier to add
func (s *IDSet) Add(id string) {
	s.Lock()
	defer s.Unlock()
	s.m[id] = struct{}{}
}

// Remove removes an identifier from the set. Removing an absent identifier
// is a no-op.
//
// Parameters:
//   - id: The identifier to remove
func (s *IDSet) Remove(id string) {
	s.Lock()
	defer s.Unlock()
	delete(s.m, id)
}

// Contains reports whether the set holds the given identifier.
//
// Parameters:
//   - id: The identifier to look up
//
// Returns:
//   - true if the set contains id, false otherwise
func (s *IDSet) Contains(id string) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[id]
	return ok
}

// Size returns the number of identifiers in the set.
//
// Returns:
//   - The number of identifiers in the set
func (s *IDSet) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Values returns a snapshot of the set's contents in unspecified order.
//
// Returns:
//   - A new slice holding every identifier currently in the set
func (s *IDSet) Values() []string {
	s.RLock()
	defer s.RUnlock()
	out := make([]string, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	return out
}

// Reset removes all identifiers from the set, leaving it empty.
func (s *IDSet) Reset() {
	s.Lock()
	defer s.Unlock()
	s.m = make(map[string]struct{})
}
