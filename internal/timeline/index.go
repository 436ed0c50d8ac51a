// Package timeline implements ewig's per-world timeline index: a
// sorted, append-only mapping from timestamp to state hash with
// binary-search point/range queries, generalized from a linear range
// scan into a proper binary search.
package timeline

import (
	"sort"
	"sync"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Entry is one timeline record.
type Entry struct {
	Timestamp int64
	Seq       uint64
	EventHash wireformat.Hash
	StateHash wireformat.Hash
}

// Index is the sorted timeline for a single world_uri.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
	cache   map[int64]wireformat.Hash
}

// NewIndex constructs an empty timeline index.
func NewIndex() *Index {
	return &Index{cache: make(map[int64]wireformat.Hash)}
}

// Append records entry. Entries must arrive in non-decreasing
// timestamp order; out-of-order insertion is rejected rather than
// silently re-sorted, since the timeline mirrors append order in the
// underlying event log.
func (idx *Index) Append(e Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n := len(idx.entries); n > 0 && e.Timestamp < idx.entries[n-1].Timestamp {
		return ewigerr.ErrOutOfOrder
	}
	idx.entries = append(idx.entries, e)
	idx.cache[e.Timestamp] = e.StateHash
	return nil
}

// At returns the state hash of the entry with the largest timestamp <=
// t, or ewigerr.ErrNotFound if every entry postdates t. If t exceeds
// the latest entry's timestamp, the latest state is returned.
func (idx *Index) At(t int64) (wireformat.Hash, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if h, ok := idx.cache[t]; ok {
		return h, nil
	}
	if len(idx.entries) == 0 {
		return wireformat.Hash{}, ewigerr.ErrNotFound
	}
	// sort.Search finds the first index whose timestamp > t.
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Timestamp > t
	})
	if i == 0 {
		return wireformat.Hash{}, ewigerr.ErrNotFound
	}
	return idx.entries[i-1].StateHash, nil
}

// Range returns every entry with t1 <= Timestamp <= t2, in
// chronological order.
func (idx *Index) Range(t1, t2 int64) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	lo := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Timestamp >= t1
	})
	hi := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Timestamp > t2
	})
	if lo >= hi {
		return nil
	}
	out := make([]Entry, hi-lo)
	copy(out, idx.entries[lo:hi])
	return out
}

// Latest returns the most recent entry's state hash.
func (idx *Index) Latest() (wireformat.Hash, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.entries) == 0 {
		return wireformat.Hash{}, ewigerr.ErrNotFound
	}
	return idx.entries[len(idx.entries)-1].StateHash, nil
}

// Len reports the number of entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Entries returns a copy of the full entry slice, in chronological
// order, for divergence comparisons.
func (idx *Index) Entries() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}
