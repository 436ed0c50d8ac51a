package sync

import (
	"bytes"
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/ewig/internal/cas"
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/resilience"
	"github.com/swarmguard/ewig/internal/telemetry"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Result is the outcome of a sync pass.
type Result struct {
	EventsSent     int
	EventsReceived int
	Conflicts      int
}

// Engine drives bidirectional and Merkle-diff sync between a local
// event log and a remote Transport.
type Engine struct {
	log   *eventlog.Log
	inst  telemetry.Instruments
	meter metric.Meter

	retryAttempts int
	retryDelay    time.Duration
}

// New constructs a sync Engine over log, recording sent/received/
// conflict counters through inst.
func New(log *eventlog.Log, inst telemetry.Instruments, meter metric.Meter) *Engine {
	return &Engine{
		log:           log,
		inst:          inst,
		meter:         meter,
		retryAttempts: 3,
		retryDelay:    100 * time.Millisecond,
	}
}

func hashSet(events []eventlog.Event) map[wireformat.Hash]struct{} {
	m := make(map[wireformat.Hash]struct{}, len(events))
	for _, ev := range events {
		m[ev.Hash] = struct{}{}
	}
	return m
}

func byAscendingSeq(events []eventlog.Event) []eventlog.Event {
	out := append([]eventlog.Event(nil), events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Bidirectional runs the full hash-set-diff sync algorithm: collect
// both sides' events, compute the symmetric difference by hash, and
// apply each delta to the side missing it. Peer round trips go through
// resilience.Retry so one transient failure doesn't abort the whole
// pass.
func (e *Engine) Bidirectional(ctx context.Context, t Transport) (Result, error) {
	local := byAscendingSeq(e.collectLocal())

	remote, err := resilience.Retry(ctx, e.meter, e.retryAttempts, e.retryDelay, func() ([]eventlog.Event, error) {
		return t.RemoteEventsSince(wireformat.ZeroHash)
	})
	if err != nil {
		return Result{}, err
	}

	localHashes := hashSet(local)
	remoteHashes := hashSet(remote)

	var toRemote, toLocal []eventlog.Event
	for _, ev := range local {
		if _, ok := remoteHashes[ev.Hash]; !ok {
			toRemote = append(toRemote, ev)
		}
	}
	for _, ev := range remote {
		if _, ok := localHashes[ev.Hash]; !ok {
			toLocal = append(toLocal, ev)
		}
	}

	if len(toRemote) > 0 {
		if _, err := resilience.Retry(ctx, e.meter, e.retryAttempts, e.retryDelay, func() (struct{}, error) {
			return struct{}{}, t.PushEvents(byAscendingSeq(toRemote))
		}); err != nil {
			return Result{}, err
		}
	}

	received, conflicts := e.applyIncoming(toLocal)

	if e.inst.SyncEventsSent != nil {
		e.inst.SyncEventsSent.Add(ctx, int64(len(toRemote)))
	}
	if e.inst.SyncEventsRecv != nil {
		e.inst.SyncEventsRecv.Add(ctx, int64(received))
	}
	if e.inst.SyncConflicts != nil {
		e.inst.SyncConflicts.Add(ctx, int64(conflicts))
	}

	return Result{EventsSent: len(toRemote), EventsReceived: received, Conflicts: conflicts}, nil
}

// collectLocal snapshots every event currently in the log.
func (e *Engine) collectLocal() []eventlog.Event {
	var out []eventlog.Event
	e.log.Iterate(func(ev eventlog.Event) bool {
		out = append(out, ev)
		return true
	})
	return out
}

// applyIncoming imports missing remote events under the CRDT
// Last-Writer-Wins ordering policy: ascending timestamp, ties broken by
// lexicographic hash with the lowest hash winning. Because Import
// requires a parent already present, events whose parent hasn't landed
// yet are retried in subsequent passes; a pass that makes no further
// progress means the remaining events are unreachable this round and
// are counted as conflicts.
func (e *Engine) applyIncoming(events []eventlog.Event) (received, conflicts int) {
	pending := lwwOrder(events)
	for len(pending) > 0 {
		var stillPending []eventlog.Event
		progressed := false
		for _, ev := range pending {
			imported, err := e.log.Import(ev)
			if err != nil {
				stillPending = append(stillPending, ev)
				continue
			}
			if imported {
				received++
			}
			progressed = true
		}
		if !progressed {
			conflicts += len(stillPending)
			break
		}
		pending = stillPending
	}
	return received, conflicts
}

// lwwOrder sorts events ascending by timestamp, with ties broken by
// lexicographically-lowest hash, the Last-Writer-Wins rule under a
// timestamp-based conflict strategy.
func lwwOrder(events []eventlog.Event) []eventlog.Event {
	out := append([]eventlog.Event(nil), events...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out
}

// ColdStart runs Merkle-diff mode: compare roots first, and only walk
// down to a leaf-level diff (and only fetch the events that actually
// differ) when the roots disagree. Suited to a narrow channel where
// shipping every event hash up front would be wasteful.
func (e *Engine) ColdStart(ctx context.Context, t Transport) (Result, error) {
	localHashes := make([]wireformat.Hash, 0)
	e.log.Iterate(func(ev eventlog.Event) bool {
		localHashes = append(localHashes, ev.Hash)
		return true
	})
	localTree := cas.NewTree(localHashes)

	remoteRoot, err := resilience.Retry(ctx, e.meter, e.retryAttempts, e.retryDelay, func() (wireformat.Hash, error) {
		return t.RemoteMerkleRoot()
	})
	if err != nil {
		return Result{}, err
	}
	if localTree.Root() == remoteRoot {
		return Result{}, nil
	}

	remoteLeaves, err := resilience.Retry(ctx, e.meter, e.retryAttempts, e.retryDelay, func() ([]wireformat.Hash, error) {
		return t.RemoteMerkleLeaves()
	})
	if err != nil {
		return Result{}, err
	}
	remoteTree := cas.NewTree(remoteLeaves)

	missingRemote := cas.Diff(localTree, remoteTree) // local has, remote lacks
	missingLocal := cas.Diff(remoteTree, localTree)  // remote has, local lacks

	var toRemote []eventlog.Event
	for _, h := range missingRemote {
		ev, err := e.log.GetByHash(h)
		if err != nil {
			continue
		}
		toRemote = append(toRemote, ev)
	}
	if len(toRemote) > 0 {
		if _, err := resilience.Retry(ctx, e.meter, e.retryAttempts, e.retryDelay, func() (struct{}, error) {
			return struct{}{}, t.PushEvents(byAscendingSeq(toRemote))
		}); err != nil {
			return Result{}, err
		}
	}

	var toLocal []eventlog.Event
	if len(missingLocal) > 0 {
		toLocal, err = resilience.Retry(ctx, e.meter, e.retryAttempts, e.retryDelay, func() ([]eventlog.Event, error) {
			return t.RemoteEventsByHash(missingLocal)
		})
		if err != nil {
			return Result{}, err
		}
	}
	received, conflicts := e.applyIncoming(toLocal)

	if e.inst.SyncEventsSent != nil {
		e.inst.SyncEventsSent.Add(ctx, int64(len(toRemote)))
	}
	if e.inst.SyncEventsRecv != nil {
		e.inst.SyncEventsRecv.Add(ctx, int64(received))
	}
	if e.inst.SyncConflicts != nil {
		e.inst.SyncConflicts.Add(ctx, int64(conflicts))
	}

	return Result{EventsSent: len(toRemote), EventsReceived: received, Conflicts: conflicts}, nil
}
