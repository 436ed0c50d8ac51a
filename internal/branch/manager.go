// Package branch implements ewig's branch manager and three-way merge
// engine. Branch bookkeeping follows the hash-chain-walk idiom used
// throughout the event log and CAS layers, paired with a simple
// named-state-map registry.
package branch

import (
	"sync"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Branch is a named, mutable pointer into a world's event history. Head
// moves on append to the active branch; Base is fixed at creation.
type Branch struct {
	Name      string
	WorldURI  string
	Head      wireformat.Hash
	Base      wireformat.Hash
	CreatedAt int64
	Metadata  map[string]string
}

// Manager owns every branch across every world and tracks which one is
// active.
type Manager struct {
	mu       sync.RWMutex
	branches map[string]*Branch
	active   string
}

// NewManager constructs an empty branch manager.
func NewManager() *Manager {
	return &Manager{branches: make(map[string]*Branch)}
}

// Create registers a new branch at fromHash, with Base pinned to
// fromHash and CreatedAt set to createdAt. Returns
// ewigerr.ErrAlreadyExists if name is taken.
func (m *Manager) Create(name, worldURI string, fromHash wireformat.Hash, createdAt int64) (*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[name]; ok {
		return nil, ewigerr.ErrAlreadyExists
	}
	b := &Branch{
		Name:      name,
		WorldURI:  worldURI,
		Head:      fromHash,
		Base:      fromHash,
		CreatedAt: createdAt,
		Metadata:  make(map[string]string),
	}
	m.branches[name] = b
	if m.active == "" {
		m.active = name
	}
	return b, nil
}

// SetMetadata records key=value on name's metadata map.
func (m *Manager) SetMetadata(name, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[name]
	if !ok {
		return ewigerr.ErrBranchNotFound
	}
	b.Metadata[key] = value
	return nil
}

// Get returns the named branch.
func (m *Manager) Get(name string) (*Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[name]
	if !ok {
		return nil, ewigerr.ErrBranchNotFound
	}
	return &Branch{Name: b.Name, WorldURI: b.WorldURI, Head: b.Head, Base: b.Base, CreatedAt: b.CreatedAt, Metadata: b.Metadata}, nil
}

// UpdateHead moves name's head to hash.
func (m *Manager) UpdateHead(name string, hash wireformat.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[name]
	if !ok {
		return ewigerr.ErrBranchNotFound
	}
	b.Head = hash
	return nil
}

// Switch makes name the active branch.
func (m *Manager) Switch(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[name]; !ok {
		return ewigerr.ErrBranchNotFound
	}
	m.active = name
	return nil
}

// List returns every branch, in no particular order.
func (m *Manager) List() []*Branch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Branch, 0, len(m.branches))
	for _, b := range m.branches {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// Delete removes name. Fails with ewigerr.ErrCannotDeleteActive if name
// is the active branch.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[name]; !ok {
		return ewigerr.ErrBranchNotFound
	}
	if m.active == name {
		return ewigerr.ErrCannotDeleteActive
	}
	delete(m.branches, name)
	return nil
}

// Active returns the active branch, or ewigerr.ErrNoActiveBranch if
// none is set.
func (m *Manager) Active() (*Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, ewigerr.ErrNoActiveBranch
	}
	b := m.branches[m.active]
	cp := *b
	return &cp, nil
}
