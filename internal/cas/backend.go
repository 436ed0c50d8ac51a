// Package cas implements ewig's content-addressed object store:
// SHA-256 addressing, refcount-based garbage collection, and a
// Merkle tree over stored objects for cheap divergence detection
// during sync. Generalized from a height-keyed block store to
// hash-keyed arbitrary blobs.
package cas

import (
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Backend is the storage capability every CAS implementation provides.
// Multiple concrete backends exist (in-memory, single-file, Badger) so
// the engine can be pointed at whichever storage fits its deployment.
type Backend interface {
	// Put stores data under its SHA-256 hash, incrementing its
	// refcount, and returns the hash. Storing identical bytes twice is
	// idempotent and only bumps the refcount.
	Put(data []byte) (wireformat.Hash, error)
	// Get returns the bytes stored under hash.
	Get(hash wireformat.Hash) ([]byte, error)
	// Has reports whether hash is present.
	Has(hash wireformat.Hash) bool
	// IncRef increments hash's refcount. Returns ewigerr.ErrNotFound if
	// absent.
	IncRef(hash wireformat.Hash) error
	// DecRef decrements hash's refcount, floored at zero, and returns the
	// refcount after the decrement. A refcount of zero does not remove
	// the object; it becomes eligible for Gc.
	DecRef(hash wireformat.Hash) (uint64, error)
	// Refcount returns hash's current refcount, or 0 if absent.
	Refcount(hash wireformat.Hash) uint64
	// Delete removes hash outright. Returns ewigerr.ErrHasReferences if
	// its refcount is still above zero, ewigerr.ErrNotFound if absent.
	Delete(hash wireformat.Hash) error
	// Gc removes every object whose refcount is zero and returns the
	// number of bytes reclaimed.
	Gc() (freedBytes int64, err error)
	// Stats reports the object count and total stored bytes.
	Stats() (count int, bytes int64)
	// All returns every stored hash, for Merkle tree construction.
	All() []wireformat.Hash
	// Close releases any backend resources.
	Close() error
}
