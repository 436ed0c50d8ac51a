package reconstruct

import (
	"context"
	"fmt"

	"github.com/swarmguard/ewig/internal/cas"
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/telemetry"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// ApplyFunc is the integration layer's pure state-transition function.
// It must be deterministic and side-effect-free; the reconstructor
// requires nothing else of it.
type ApplyFunc func(state []byte, ev eventlog.Event) ([]byte, error)

// Reconstructor replays events from the event log to materialize state
// at any event hash, backed by an LRU snapshot cache and the CAS.
type Reconstructor struct {
	log   *eventlog.Log
	store *cas.Store
	cache *Cache
	apply ApplyFunc
	inst  telemetry.Instruments
}

// New constructs a Reconstructor over log, storing materialized
// snapshots in store and caching up to cacheSize of them.
func New(log *eventlog.Log, store *cas.Store, cacheSize int, apply ApplyFunc, inst telemetry.Instruments) *Reconstructor {
	return &Reconstructor{
		log:   log,
		store: store,
		cache: NewCache(cacheSize),
		apply: apply,
		inst:  inst,
	}
}

// Reconstruct walks parent links from eventHash back to the nearest
// cached ancestor (or the zero hash), then replays forward.
func (r *Reconstructor) Reconstruct(ctx context.Context, eventHash wireformat.Hash) (Snapshot, error) {
	if snap, err := r.cache.Get(eventHash); err == nil {
		r.inst.ReconstructHits.Add(ctx, 1)
		return snap, nil
	}
	r.inst.ReconstructMiss.Add(ctx, 1)

	chain, base, err := r.collectChain(eventHash)
	if err != nil {
		return Snapshot{}, err
	}

	snap := base
	for _, ev := range chain {
		data, err := r.apply(snap.Data, ev)
		if err != nil {
			return Snapshot{}, fmt.Errorf("apply event seq %d: %w", ev.Seq, err)
		}
		snap = Snapshot{
			Data:      data,
			Timestamp: ev.Timestamp,
			Seq:       ev.Seq,
		}
		snap.Hash = computeSnapshotHash(snap.Data, snap.Timestamp, snap.Seq)
	}

	r.cache.Put(eventHash, snap)
	if _, err := r.store.Put(ctx, snap.Data); err != nil {
		return snap, fmt.Errorf("store snapshot: %w", err)
	}
	return snap, nil
}

// collectChain walks parent links from eventHash toward the root,
// stopping at the first cached ancestor or the zero hash, and returns
// the events to replay in forward (oldest-first) order plus the base
// snapshot to replay them on top of.
func (r *Reconstructor) collectChain(eventHash wireformat.Hash) ([]eventlog.Event, Snapshot, error) {
	var reverse []eventlog.Event
	cur := eventHash
	for {
		if cur.IsZero() {
			return reverseEvents(reverse), Snapshot{}, nil
		}
		if snap, err := r.cache.Get(cur); err == nil {
			return reverseEvents(reverse), snap, nil
		}
		ev, err := r.log.GetByHash(cur)
		if err != nil {
			return nil, Snapshot{}, fmt.Errorf("collect chain at %s: %w", cur, err)
		}
		reverse = append(reverse, ev)
		cur = ev.Parent
	}
}

func reverseEvents(evs []eventlog.Event) []eventlog.Event {
	out := make([]eventlog.Event, len(evs))
	for i, ev := range evs {
		out[len(evs)-1-i] = ev
	}
	return out
}

// Checkpoint reconstructs eventHash's state, caches it, and stores the
// materialized bytes in the CAS, returning the CAS hash.
func (r *Reconstructor) Checkpoint(ctx context.Context, eventHash wireformat.Hash) (wireformat.Hash, error) {
	snap, err := r.Reconstruct(ctx, eventHash)
	if err != nil {
		return wireformat.Hash{}, err
	}
	return r.store.Put(ctx, snap.Data)
}

// Verify reconstructs eventHash and reports whether the resulting state
// hash matches expected.
func (r *Reconstructor) Verify(ctx context.Context, eventHash, expected wireformat.Hash) (bool, error) {
	snap, err := r.Reconstruct(ctx, eventHash)
	if err != nil {
		return false, err
	}
	return snap.Hash == expected, nil
}

// DistanceToCheckpoint returns the number of parent links between
// target and checkpoint, or math.MaxInt if checkpoint is not an
// ancestor of target.
func (r *Reconstructor) DistanceToCheckpoint(target, checkpoint wireformat.Hash) int {
	const unreachable = int(^uint(0) >> 1)
	cur := target
	dist := 0
	for {
		if cur == checkpoint {
			return dist
		}
		if cur.IsZero() {
			return unreachable
		}
		ev, err := r.log.GetByHash(cur)
		if err != nil {
			return unreachable
		}
		cur = ev.Parent
		dist++
	}
}

// NearestCheckpoint picks the checkpoint in checkpoints with the
// smallest DistanceToCheckpoint to target. Ties are broken in favor of
// the checkpoint whose sequence number is one of FibonacciCheckpoints;
// Checkpoint itself accepts any event, at any spacing.
func (r *Reconstructor) NearestCheckpoint(target wireformat.Hash, checkpoints []wireformat.Hash) (wireformat.Hash, error) {
	if len(checkpoints) == 0 {
		return wireformat.Hash{}, ewigerr.ErrNotFound
	}
	best := checkpoints[0]
	bestDist := r.DistanceToCheckpoint(target, best)
	for _, cp := range checkpoints[1:] {
		d := r.DistanceToCheckpoint(target, cp)
		switch {
		case d < bestDist:
			best, bestDist = cp, d
		case d == bestDist && r.onFibonacciCheckpoint(cp) && !r.onFibonacciCheckpoint(best):
			best = cp
		}
	}
	return best, nil
}

// onFibonacciCheckpoint reports whether cp's sequence number falls on
// the Fibonacci spacing FibonacciCheckpoints prefers.
func (r *Reconstructor) onFibonacciCheckpoint(cp wireformat.Hash) bool {
	ev, err := r.log.GetByHash(cp)
	if err != nil {
		return false
	}
	for _, seq := range FibonacciCheckpoints(ev.Seq) {
		if seq == ev.Seq {
			return true
		}
	}
	return false
}

// ReconstructParallel reconstructs target by first finding the nearest
// of the given checkpoints and replaying from there, rather than
// walking all the way to the root.
func (r *Reconstructor) ReconstructParallel(ctx context.Context, target wireformat.Hash, checkpoints []wireformat.Hash) (Snapshot, error) {
	nearest, err := r.NearestCheckpoint(target, checkpoints)
	if err != nil {
		return r.Reconstruct(ctx, target)
	}
	if _, err := r.Reconstruct(ctx, nearest); err != nil {
		return Snapshot{}, fmt.Errorf("warm checkpoint %s: %w", nearest, err)
	}
	return r.Reconstruct(ctx, target)
}

// FibonacciCheckpoints returns event sequence numbers to prefer as
// checkpoints up to maxSeq, spaced along the Fibonacci sequence: dense
// near the root, sparse further out, trading checkpoint storage for
// recovery speed.
func FibonacciCheckpoints(maxSeq uint64) []uint64 {
	if maxSeq == 0 {
		return nil
	}
	checkpoints := []uint64{1}
	a, b := uint64(1), uint64(1)
	for b <= maxSeq {
		checkpoints = append(checkpoints, b)
		a, b = b, a+b
	}
	return checkpoints
}
