package ewig

import (
	"context"
	"testing"

	"github.com/swarmguard/ewig/internal/branch"
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/query"
	syncengine "github.com/swarmguard/ewig/internal/sync"
	"github.com/swarmguard/ewig/internal/wireformat"
)

func concatApply(state []byte, ev eventlog.Event) ([]byte, error) {
	return append(append([]byte{}, state...), ev.Payload...), nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(WithApplyFunc(concatApply))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestEngineAppendRecordsTimelineAndEventLog(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	ev, err := eng.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("a"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", ev.Seq)
	}

	ev2, err := eng.Append(ctx, "world://w1", wireformat.StateChanged, []byte("b"))
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if ev2.Parent != ev.Hash {
		t.Fatalf("expected event 2 parented at event 1, got parent=%s", ev2.Parent)
	}

	h, err := eng.At("world://w1", ev2.Timestamp)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if h.IsZero() {
		t.Fatalf("expected non-zero state hash at ts=%d", ev2.Timestamp)
	}
}

func TestEngineReconstructReplaysAppendedPayloads(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	eng.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("a"))
	ev2, _ := eng.Append(ctx, "world://w1", wireformat.StateChanged, []byte("b"))

	snap, err := eng.Reconstruct(ctx, ev2.Hash)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if string(snap.Data) != "ab" {
		t.Fatalf("expected replayed state %q, got %q", "ab", snap.Data)
	}
}

func TestEngineBranchLifecycle(t *testing.T) {
	eng := newTestEngine(t)

	b, err := eng.CreateBranch("main", "world://w1", wireformat.ZeroHash)
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if b.Base != wireformat.ZeroHash {
		t.Fatalf("expected base pinned to creation hash")
	}

	active, err := eng.ActiveBranch()
	if err != nil || active.Name != "main" {
		t.Fatalf("expected main active, got %+v err=%v", active, err)
	}

	if _, err := eng.CreateBranch("feature", "world://w1", wireformat.ZeroHash); err != nil {
		t.Fatalf("create feature branch: %v", err)
	}
	if err := eng.SwitchBranch("feature"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := eng.DeleteBranch("main"); err != nil {
		t.Fatalf("delete main after switch: %v", err)
	}
	if len(eng.ListBranches()) != 1 {
		t.Fatalf("expected 1 branch remaining")
	}
}

func TestEngineAppendAdvancesActiveBranchHead(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateBranch("main", "world://w1", wireformat.ZeroHash); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	ev, err := eng.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	b, err := eng.GetBranch("main")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if b.Head != ev.Hash {
		t.Fatalf("expected branch head to advance to %s, got %s", ev.Hash, b.Head)
	}
}

func TestEngineMergeFastForward(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	e1, _ := eng.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("a"))
	e2, _ := eng.Append(ctx, "world://w1", wireformat.StateChanged, []byte("b"))

	result, err := eng.Merge(branch.FastForward, wireformat.ZeroHash, e1.Hash, e2.Hash)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !result.Success || result.MergeCommit == nil || *result.MergeCommit != e2.Hash {
		t.Fatalf("expected fast-forward to e2, got %+v", result)
	}
}

func TestEngineQueryRunsSelect(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	eng.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("a"))
	eng.Append(ctx, "world://w1", wireformat.StateChanged, []byte("b"))

	sel, err := eng.ParseQuery(`SELECT * FROM events WHERE type = 'StateChanged'`)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	result, err := eng.Query(sel)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	events, ok := result.([]eventlog.Event)
	if !ok || len(events) != 1 {
		t.Fatalf("expected 1 StateChanged event, got %+v", result)
	}
}

func TestEngineSyncBidirectionalConverges(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	ctx := context.Background()

	a.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("a1"))
	b.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("b1"))

	result, err := a.Sync(ctx, SyncBidirectional, syncengine.LogTransport{Peer: b.eventlog})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.EventsSent != 1 || result.EventsReceived != 1 {
		t.Fatalf("expected 1 sent and 1 received, got %+v", result)
	}
	if a.eventlog.Count() != 2 || b.eventlog.Count() != 2 {
		t.Fatalf("expected both logs to converge on the union of events: a=%d b=%d", a.eventlog.Count(), b.eventlog.Count())
	}
}

func TestEngineVerifyDetectsHealthyLog(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	eng.Append(ctx, "world://w1", wireformat.WorldCreated, []byte("a"))

	if err := eng.Verify(); err != nil {
		t.Fatalf("expected healthy log to verify, got %v", err)
	}
}

var _ = query.Select{}
