// Package channel holds the channel records the control gateway operates on:
// voice channels, radio channels, and the categories that group them.
package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Type distinguishes the kinds of channel the server exposes.
type Type string

const (
	TypeVoice    Type = "voice"
	TypeRadio    Type = "radio"
	TypeCategory Type = "category"
)

// Channel is one entry in the server's channel tree. Voice and radio
// channels may be nested under a category via ParentID.
type Channel struct {
	// ID is the opaque identifier sessions subscribe under.
	ID string
	// Name is the display name, 1 to 100 characters.
	Name string
	// Description is optional, at most 500 characters.
	Description string
	// Type is the channel kind; defaults to voice when empty.
	Type Type
	// Position orders channels in listings; lower appears first.
	Position int
	// ParentID names the category this channel nests under, if any.
	ParentID string
}

// Validate checks the record's structural constraints.
//
// Returns:
//   - nil if the channel is well-formed, otherwise an error naming the
//     violated constraint
func (c *Channel) Validate() error {
	if c.ID == "" {
		return errors.New("channel ID cannot be empty")
	}
	if c.Name == "" {
		return errors.New("channel name cannot be empty")
	}
	if len(c.Name) > 100 {
		return errors.New("channel name cannot exceed 100 characters")
	}
	if len(c.Description) > 500 {
		return errors.New("channel description cannot exceed 500 characters")
	}
	if c.ParentID == c.ID {
		return errors.New("channel cannot be its own parent")
	}
	return nil
}

// Registry is the thread-safe collection of the server's channels. It is
// mutated at startup from configuration and at runtime by management
// operations; the gateway reads it on every join request.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates and returns a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Create validates and adds a channel.
//
// Parameters:
//   - c: The channel to add; its ID must not be registered yet
//
// Returns:
//   - An error if validation fails, the ID is already taken, or a named
//     parent does not exist
func (r *Registry) Create(c *Channel) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[c.ID]; exists {
		return fmt.Errorf("channel %q already exists", c.ID)
	}
	if c.ParentID != "" {
		parent, ok := r.channels[c.ParentID]
		if !ok {
			return fmt.Errorf("parent channel %q does not exist", c.ParentID)
		}
		if parent.Type != TypeCategory {
			return fmt.Errorf("parent channel %q is not a category", c.ParentID)
		}
	}

	r.channels[c.ID] = c
	return nil
}

// Get returns the channel with the given ID, if present.
//
// Parameters:
//   - id: The channel ID to look up
//
// Returns:
//   - The channel and true if found, or nil and false otherwise
func (r *Registry) Get(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return c, ok
}

// Remove deletes the channel with the given ID.
//
// Parameters:
//   - id: The channel ID to remove
//
// Returns:
//   - true if a channel was removed, false if the ID was unknown
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return false
	}
	delete(r.channels, id)
	return true
}

// List returns a snapshot of all channels ordered by Position, then ID.
//
// Returns:
//   - A new slice of the registered channels
func (r *Registry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
