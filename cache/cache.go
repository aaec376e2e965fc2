// Package cache keeps decrypted conversation state in memory so reopening a
// conversation can render immediately.
//
// Entries are never evicted; the cache lives as long as the process.
package cache

import (
	"sort"
	"sync"

	"e2echat/crypto"
	"e2echat/models"
)

// State is the cached working set of one conversation.
type State struct {
	// Messages is ordered by CreatedAt ascending.
	Messages   []models.Message
	Key        crypto.Key
	PageOffset int
	HasMore    bool
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.Messages != nil {
		out.Messages = make([]models.Message, len(s.Messages))
		for i, message := range s.Messages {
			out.Messages[i] = message.Clone()
		}
	}
	return out
}

// Cache maps conversation IDs to their last known State.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]State
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]State)}
}

// Get returns a copy of the cached state for id.
func (c *Cache) Get(id string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.entries[id]
	if !ok {
		return State{}, false
	}
	return state.Clone(), true
}

// Put replaces the cached state for id with a copy of state.
func (c *Cache) Put(id string, state State) {
	clone := state.Clone()
	c.mu.Lock()
	c.entries[id] = clone
	c.mu.Unlock()
}

// RestoreOrInit returns the cached state for id, or an empty state.
func (c *Cache) RestoreOrInit(id string) State {
	if state, ok := c.Get(id); ok {
		return state
	}
	return State{Messages: []models.Message{}}
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IDs returns the cached conversation IDs in sorted order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
