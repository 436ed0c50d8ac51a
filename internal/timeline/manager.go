package timeline

import (
	"sync"

	"github.com/swarmguard/ewig/internal/wireformat"
)

// Manager tracks one Index per world_uri.
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{indexes: make(map[string]*Index)}
}

// Index returns the Index for worldURI, creating it on first use.
func (m *Manager) Index(worldURI string) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[worldURI]
	if !ok {
		idx = NewIndex()
		m.indexes[worldURI] = idx
	}
	return idx
}

// Snapshot walks every tracked world's timeline at t and returns a map
// from world_uri to state hash. Worlds with no entry at-or-before t are
// omitted.
func (m *Manager) Snapshot(t int64) map[string]wireformat.Hash {
	m.mu.RLock()
	worlds := make(map[string]*Index, len(m.indexes))
	for uri, idx := range m.indexes {
		worlds[uri] = idx
	}
	m.mu.RUnlock()

	out := make(map[string]wireformat.Hash, len(worlds))
	for uri, idx := range worlds {
		if h, err := idx.At(t); err == nil {
			out[uri] = h
		}
	}
	return out
}

// Worlds returns every world_uri with a tracked timeline.
func (m *Manager) Worlds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indexes))
	for uri := range m.indexes {
		out = append(out, uri)
	}
	return out
}
