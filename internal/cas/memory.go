package cas

import (
	"sync"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// MemoryBackend is a non-persistent Backend, mainly for tests and for
// ephemeral worlds that never need to survive a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[wireformat.Hash][]byte
	refs map[wireformat.Hash]uint64
}

// NewMemoryBackend constructs an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[wireformat.Hash][]byte),
		refs: make(map[wireformat.Hash]uint64),
	}
}

func (m *MemoryBackend) Put(data []byte) (wireformat.Hash, error) {
	h := wireformat.Sum(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[h]; !ok {
		m.data[h] = append([]byte(nil), data...)
	}
	m.refs[h]++
	return h, nil
}

func (m *MemoryBackend) Get(hash wireformat.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[hash]
	if !ok {
		return nil, ewigerr.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Has(hash wireformat.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[hash]
	return ok
}

func (m *MemoryBackend) IncRef(hash wireformat.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[hash]; !ok {
		return ewigerr.ErrNotFound
	}
	m.refs[hash]++
	return nil
}

func (m *MemoryBackend) DecRef(hash wireformat.Hash) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[hash]; !ok {
		return 0, ewigerr.ErrNotFound
	}
	if m.refs[hash] > 0 {
		m.refs[hash]--
	}
	return m.refs[hash], nil
}

// Delete removes hash outright; it must already be at refcount zero.
func (m *MemoryBackend) Delete(hash wireformat.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[hash]; !ok {
		return ewigerr.ErrNotFound
	}
	if m.refs[hash] > 0 {
		return ewigerr.ErrHasReferences
	}
	delete(m.data, hash)
	delete(m.refs, hash)
	return nil
}

// Gc removes every object at refcount zero and returns the bytes freed.
func (m *MemoryBackend) Gc() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var freed int64
	for h, v := range m.data {
		if m.refs[h] == 0 {
			freed += int64(len(v))
			delete(m.data, h)
			delete(m.refs, h)
		}
	}
	return freed, nil
}

func (m *MemoryBackend) Refcount(hash wireformat.Hash) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refs[hash]
}

func (m *MemoryBackend) Stats() (int, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, v := range m.data {
		total += int64(len(v))
	}
	return len(m.data), total
}

func (m *MemoryBackend) All() []wireformat.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wireformat.Hash, 0, len(m.data))
	for h := range m.data {
		out = append(out, h)
	}
	return out
}

func (m *MemoryBackend) Close() error { return nil }
