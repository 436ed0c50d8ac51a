package cas

import (
	"context"

	"github.com/swarmguard/ewig/internal/telemetry"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Store wraps a Backend with telemetry, incrementing a counter on every
// new write.
type Store struct {
	Backend
	inst telemetry.Instruments
}

// NewStore wraps backend with the engine's CAS instruments.
func NewStore(backend Backend, inst telemetry.Instruments) *Store {
	return &Store{Backend: backend, inst: inst}
}

// Put stores data and records whether a new object was created (as
// opposed to an existing one having its refcount bumped).
func (s *Store) Put(ctx context.Context, data []byte) (wireformat.Hash, error) {
	before := s.Backend.Has(wireformat.Sum(data))
	h, err := s.Backend.Put(data)
	if err != nil {
		return h, err
	}
	if !before {
		s.inst.CASObjectsTotal.Add(ctx, 1)
		s.inst.CASBytesTotal.Add(ctx, int64(len(data)))
	}
	return h, nil
}

// DecRef decrements hash's refcount. The object itself is untouched
// until a later Delete or Gc call reclaims it.
func (s *Store) DecRef(ctx context.Context, hash wireformat.Hash) (uint64, error) {
	return s.Backend.DecRef(hash)
}

// Delete removes hash outright and reports the reclaim to telemetry.
// Fails with ewigerr.ErrHasReferences if its refcount is still above
// zero.
func (s *Store) Delete(ctx context.Context, hash wireformat.Hash) error {
	size := 0
	if data, err := s.Backend.Get(hash); err == nil {
		size = len(data)
	}
	if err := s.Backend.Delete(hash); err != nil {
		return err
	}
	s.inst.CASObjectsTotal.Add(ctx, -1)
	s.inst.CASBytesTotal.Add(ctx, -int64(size))
	return nil
}

// Gc reclaims every refcount-zero object and reports the reclaim to
// telemetry.
func (s *Store) Gc(ctx context.Context) (int64, error) {
	before, _ := s.Backend.Stats()
	freed, err := s.Backend.Gc()
	if err != nil {
		return freed, err
	}
	after, _ := s.Backend.Stats()
	s.inst.CASObjectsTotal.Add(ctx, int64(after-before))
	s.inst.CASBytesTotal.Add(ctx, -freed)
	return freed, nil
}

// MerkleRoot builds a Tree over every object currently in the store and
// returns its root hash.
func (s *Store) MerkleRoot() wireformat.Hash {
	return NewTree(s.Backend.All()).Root()
}
