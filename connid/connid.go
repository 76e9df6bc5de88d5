// Package connid allocates opaque identifiers for control connections in a
// concurrency-safe manner.
package connid

import (
	"fmt"
	"sync/atomic"
)

// Generator produces unique opaque connection identifiers. Each call to Next
// returns a new identifier. The generator is safe for concurrent use.
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator creates a Generator whose first Next() returns "conn-00000001".
//
// Returns:
//   - A new Generator instance
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next connection identifier by atomically incrementing the
// internal counter. Identifiers are opaque to callers; only uniqueness
// within the process matters.
//
// Returns:
//   - The next identifier string
func (g *Generator) Next() string {
	return fmt.Sprintf("conn-%08x", g.counter.Add(1))
}
