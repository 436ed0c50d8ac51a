// Package ewig is an embedded, append-only event-log engine for
// world-state history: a totally-ordered chain of typed events,
// content-addressed storage, per-world timeline indexing, state
// reconstruction, Git-like branching and three-way merging, and
// Merkle-plus-delta replica synchronization. External collaborators
// drive it through seven operations: Append, At, Reconstruct, Branch,
// Merge, Query, and Sync.
//
// Engine follows the orchestration style of service main.go bring-up
// (construct subsystems, wire metrics, expose operations) collapsed
// from an HTTP service into a library constructor plus method set:
// cross-component ordering (log append then timeline record then
// branch head move) happens under a single mutex so no external
// observer sees an event before every dependent update lands.
package ewig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/ewig/internal/branch"
	"github.com/swarmguard/ewig/internal/cas"
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/logging"
	"github.com/swarmguard/ewig/internal/query"
	"github.com/swarmguard/ewig/internal/reconstruct"
	"github.com/swarmguard/ewig/internal/resilience"
	syncengine "github.com/swarmguard/ewig/internal/sync"
	"github.com/swarmguard/ewig/internal/telemetry"
	"github.com/swarmguard/ewig/internal/timeline"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Engine owns every subsystem and is the sole entry point an embedding
// host uses. No subsystem holds a reference back into Engine
// (arena-style ownership).
type Engine struct {
	mu stdsync.Mutex

	opts Options
	log  *slog.Logger

	eventlog      *eventlog.Log
	casBackend    cas.Backend
	casStore      *cas.Store
	timelines     *timeline.Manager
	branches      *branch.Manager
	mergeEngine   *branch.Engine
	reconstructor *reconstruct.Reconstructor
	syncEngine    *syncengine.Engine
	queryExec     *query.Executor

	syncLimiter *resilience.RateLimiter
	telemetry   *telemetry.Handle
}

// New constructs an Engine from opts. When opts.DataDir is empty the
// event log runs in memory only; the CASFile and CASBadger backends
// need a data directory, and New fails with ewigerr.ErrInvalidInput
// if one of them is selected without it.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	logger := logging.Init("ewig")
	th := telemetry.Init(context.Background(), "ewig", o.EnableTelemetry)

	logPath := ""
	if o.DataDir != "" {
		logPath = filepath.Join(o.DataDir, "events.log")
	}
	evLog, err := eventlog.Open(eventlog.OpenOptions{Path: logPath})
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	backend, err := openCASBackend(o)
	if err != nil {
		evLog.Close()
		return nil, err
	}

	casStore := cas.NewStore(backend, th.Inst)
	timelines := timeline.NewManager()
	branches := branch.NewManager()
	mergeEngine := branch.NewEngine(evLog)

	var reconstructor *reconstruct.Reconstructor
	if o.ApplyFunc != nil {
		reconstructor = reconstruct.New(evLog, casStore, o.SnapshotCacheSize, o.ApplyFunc, th.Inst)
	}

	syncEngine := syncengine.New(evLog, th.Inst, meterOrNil(th))
	queryExec := query.New(evLog, timelines)

	limiter := resilience.NewRateLimiter(meterOrNil(th), 8, 1, time.Second, 32)

	return &Engine{
		opts:          o,
		log:           logger,
		eventlog:      evLog,
		casBackend:    backend,
		casStore:      casStore,
		timelines:     timelines,
		branches:      branches,
		mergeEngine:   mergeEngine,
		reconstructor: reconstructor,
		syncEngine:    syncEngine,
		queryExec:     queryExec,
		syncLimiter:   limiter,
		telemetry:     th,
	}, nil
}

func meterOrNil(h *telemetry.Handle) metric.Meter {
	if h == nil {
		return nil
	}
	return h.Meter
}

func openCASBackend(o Options) (cas.Backend, error) {
	switch o.CASBackend {
	case CASFile:
		if o.DataDir == "" {
			return nil, fmt.Errorf("CASFile backend requires WithDataDir: %w", ewigerr.ErrInvalidInput)
		}
		return cas.OpenFileBackend(filepath.Join(o.DataDir, "cas"))
	case CASBadger:
		if o.DataDir == "" {
			return nil, fmt.Errorf("CASBadger backend requires WithDataDir: %w", ewigerr.ErrInvalidInput)
		}
		return cas.OpenBadgerBackend(filepath.Join(o.DataDir, "cas-badger"))
	default:
		return cas.NewMemoryBackend(), nil
	}
}

// Append records a new event for worldURI and advances the active
// branch's head and the world's timeline entry in the same critical
// section, so no caller observes the event before all three updates
// land.
func (e *Engine) Append(ctx context.Context, worldURI string, typ wireformat.EventType, payload []byte) (eventlog.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent := e.lastHashLocked(worldURI)
	ev, err := e.eventlog.Append(worldURI, parent, time.Now().UnixNano(), typ, payload)
	if err != nil {
		return eventlog.Event{}, err
	}

	stateHash := ev.Hash
	if e.reconstructor != nil {
		if snap, err := e.reconstructor.Reconstruct(ctx, ev.Hash); err == nil {
			stateHash = snap.Hash
		} else {
			e.log.Warn("ewig: reconstruct during append failed, timeline entry uses event hash", "error", err, "event_hash", ev.Hash)
		}
	}
	idx := e.timelines.Index(worldURI)
	if err := idx.Append(timeline.Entry{Timestamp: ev.Timestamp, Seq: ev.Seq, EventHash: ev.Hash, StateHash: stateHash}); err != nil {
		e.log.Warn("ewig: timeline append rejected", "error", err, "world_uri", worldURI)
	}

	if active, err := e.branches.Active(); err == nil && active.WorldURI == worldURI {
		_ = e.branches.UpdateHead(active.Name, ev.Hash)
	}

	if e.telemetry.Inst.EventsAppended != nil {
		e.telemetry.Inst.EventsAppended.Add(ctx, 1)
	}
	return ev, nil
}

// lastHashLocked resolves the parent for the next append to worldURI:
// the active branch's head when it targets this world, else the most
// recent event recorded for this world, else the zero hash. Caller
// must hold e.mu.
func (e *Engine) lastHashLocked(worldURI string) wireformat.Hash {
	if active, err := e.branches.Active(); err == nil && active.WorldURI == worldURI {
		return active.Head
	}
	events := e.eventlog.Filter(worldURI)
	if len(events) == 0 {
		return wireformat.ZeroHash
	}
	return events[len(events)-1].Hash
}

// At returns the state hash recorded for worldURI at time t.
func (e *Engine) At(worldURI string, t int64) (wireformat.Hash, error) {
	return e.timelines.Index(worldURI).At(t)
}

// Reconstruct replays events to materialize state at eventHash. Requires
// WithApplyFunc at construction.
func (e *Engine) Reconstruct(ctx context.Context, eventHash wireformat.Hash) (reconstruct.Snapshot, error) {
	ctx, span := e.telemetry.Tracer.Start(ctx, "reconstruct")
	defer span.End()
	if e.reconstructor == nil {
		return reconstruct.Snapshot{}, fmt.Errorf("reconstruct: %w", ewigerr.ErrNotImplemented)
	}
	return e.reconstructor.Reconstruct(ctx, eventHash)
}

// CreateBranch registers a new named branch rooted at fromHash.
func (e *Engine) CreateBranch(name, worldURI string, fromHash wireformat.Hash) (*branch.Branch, error) {
	return e.branches.Create(name, worldURI, fromHash, time.Now().UnixNano())
}

// GetBranch looks up a branch by name.
func (e *Engine) GetBranch(name string) (*branch.Branch, error) { return e.branches.Get(name) }

// SwitchBranch makes name the active branch.
func (e *Engine) SwitchBranch(name string) error { return e.branches.Switch(name) }

// ListBranches returns every branch.
func (e *Engine) ListBranches() []*branch.Branch { return e.branches.List() }

// DeleteBranch removes a branch by name.
func (e *Engine) DeleteBranch(name string) error { return e.branches.Delete(name) }

// ActiveBranch returns the currently active branch.
func (e *Engine) ActiveBranch() (*branch.Branch, error) { return e.branches.Active() }

// Merge runs strategy over (base, ours, theirs) and reports conflicts
// or a clean result. The caller is responsible for appending a commit
// representing a successful non-fast-forward merge.
func (e *Engine) Merge(strategy branch.Strategy, base, ours, theirs wireformat.Hash) (branch.Result, error) {
	result, err := e.mergeEngine.Merge(strategy, base, ours, theirs)
	if err == nil && e.telemetry.Inst.MergeConflicts != nil {
		e.telemetry.Inst.MergeConflicts.Add(context.Background(), int64(len(result.Conflicts)))
	}
	return result, err
}

// Query executes q against the event log.
func (e *Engine) Query(q query.Query) (any, error) {
	return e.queryExec.Run(q)
}

// ParseQuery parses a small SQL-like statement into a runnable Select.
func (e *Engine) ParseQuery(sql string) (query.Select, error) {
	return query.NewParser().Parse(sql)
}

// SyncMode selects between the full hash-set-diff algorithm and the
// narrower cold-start Merkle-diff mode.
type SyncMode int

const (
	// SyncBidirectional runs the full symmetric-difference algorithm.
	SyncBidirectional SyncMode = iota
	// SyncColdStart compares Merkle roots first and only fetches
	// differing leaves, suited to a narrow channel on first contact.
	SyncColdStart
)

// Sync reconciles the local log with a remote peer through t, using
// mode. One round consumes a token from the engine's outbound rate
// limiter so a misbehaving peer loop cannot flood it with requests.
func (e *Engine) Sync(ctx context.Context, mode SyncMode, t syncengine.Transport) (syncengine.Result, error) {
	if !e.syncLimiter.Allow() {
		return syncengine.Result{}, fmt.Errorf("sync: outbound rate limit exceeded: %w", ewigerr.ErrInvalidInput)
	}
	switch mode {
	case SyncColdStart:
		ctx, span := e.telemetry.Tracer.Start(ctx, "sync.cold_start")
		defer span.End()
		return e.syncEngine.ColdStart(ctx, t)
	default:
		ctx, span := e.telemetry.Tracer.Start(ctx, "sync.bidirectional")
		defer span.End()
		return e.syncEngine.Bidirectional(ctx, t)
	}
}

// CAS exposes the content-addressed store directly for callers that
// need to stage blobs outside the event/snapshot path (e.g. large
// payloads referenced by hash from an event).
func (e *Engine) CAS() *cas.Store { return e.casStore }

// Verify checks the event log's hash-chain and ordering invariants.
func (e *Engine) Verify() error { return e.eventlog.Verify() }

// Close releases every owned resource (backing files, CAS handles,
// telemetry exporters).
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(e.eventlog.Close())
	record(e.casBackend.Close())
	if e.telemetry != nil && e.telemetry.Shutdown != nil {
		record(e.telemetry.Shutdown(context.Background()))
	}
	return firstErr
}
