package reconstruct

import (
	"fmt"
	"sync"

	"github.com/swarmguard/ewig/internal/eventlog"
)

// Incremental holds a base snapshot plus a queue of events not yet
// applied to it, so repeated small appends don't each re-walk the full
// chain.
type Incremental struct {
	mu      sync.Mutex
	apply   ApplyFunc
	current Snapshot
	pending []eventlog.Event
}

// NewIncremental starts an incremental session on top of base.
func NewIncremental(base Snapshot, apply ApplyFunc) *Incremental {
	return &Incremental{current: base, apply: apply}
}

// Enqueue appends an event to the pending queue without materializing
// it yet.
func (s *Incremental) Enqueue(ev eventlog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ev)
}

// Compute applies every pending event in order on top of the current
// snapshot, clears the queue, and returns the new snapshot.
func (s *Incremental) Compute() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.current
	for _, ev := range s.pending {
		data, err := s.apply(snap.Data, ev)
		if err != nil {
			return Snapshot{}, fmt.Errorf("apply event seq %d: %w", ev.Seq, err)
		}
		snap = Snapshot{Data: data, Timestamp: ev.Timestamp, Seq: ev.Seq}
		snap.Hash = computeSnapshotHash(snap.Data, snap.Timestamp, snap.Seq)
	}
	s.current = snap
	s.pending = nil
	return snap, nil
}
