package sync

import (
	"context"
	"testing"

	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/telemetry"
	"github.com/swarmguard/ewig/internal/wireformat"
)

func mustLog(t *testing.T) *eventlog.Log {
	t.Helper()
	l, err := eventlog.Open(eventlog.OpenOptions{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func TestBidirectionalSyncConvergesBothWays(t *testing.T) {
	local := mustLog(t)
	remote := mustLog(t)

	e1, _ := local.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a"))
	local.Append("world://w1", e1.Hash, 2, wireformat.StateChanged, []byte("b"))

	r1, _ := remote.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a")) // same event, same hash
	_ = r1
	remote.Append("world://w1", r1.Hash, 10, wireformat.StateChanged, []byte("remote-only"))

	inst := telemetry.Init(context.Background(), "test", false).Inst
	eng := New(local, inst, nil)

	result, err := eng.Bidirectional(context.Background(), LogTransport{Peer: remote})
	if err != nil {
		t.Fatalf("bidirectional: %v", err)
	}
	if result.EventsSent == 0 {
		t.Fatal("expected at least one event sent to remote")
	}
	if result.EventsReceived == 0 {
		t.Fatal("expected at least one event received from remote")
	}

	if local.Count() != remote.Count() {
		t.Fatalf("expected both logs converged, local=%d remote=%d", local.Count(), remote.Count())
	}
}

func TestBidirectionalSyncIsIdempotent(t *testing.T) {
	local := mustLog(t)
	remote := mustLog(t)
	local.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a"))

	inst := telemetry.Init(context.Background(), "test", false).Inst
	eng := New(local, inst, nil)
	t1 := LogTransport{Peer: remote}

	if _, err := eng.Bidirectional(context.Background(), t1); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	result, err := eng.Bidirectional(context.Background(), t1)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.EventsSent != 0 || result.EventsReceived != 0 {
		t.Fatalf("expected no-op second sync, got %+v", result)
	}
}

func TestColdStartMerkleDiffSkipsWhenRootsMatch(t *testing.T) {
	local := mustLog(t)
	remote := mustLog(t)
	e1, _ := local.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a"))
	remote.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a"))
	_ = e1

	inst := telemetry.Init(context.Background(), "test", false).Inst
	eng := New(local, inst, nil)

	result, err := eng.ColdStart(context.Background(), LogTransport{Peer: remote})
	if err != nil {
		t.Fatalf("cold start: %v", err)
	}
	if result.EventsSent != 0 || result.EventsReceived != 0 {
		t.Fatalf("expected no work when roots match, got %+v", result)
	}
}

func TestColdStartMerkleDiffFetchesOnlyMissingLeaves(t *testing.T) {
	local := mustLog(t)
	remote := mustLog(t)
	e1, _ := local.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a"))
	remote.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a"))
	remote.Append("world://w1", e1.Hash, 2, wireformat.StateChanged, []byte("remote-extra"))

	inst := telemetry.Init(context.Background(), "test", false).Inst
	eng := New(local, inst, nil)

	result, err := eng.ColdStart(context.Background(), LogTransport{Peer: remote})
	if err != nil {
		t.Fatalf("cold start: %v", err)
	}
	if result.EventsReceived != 1 {
		t.Fatalf("expected exactly 1 event fetched, got %+v", result)
	}
	if local.Count() != 2 {
		t.Fatalf("expected local to have 2 events after cold start, got %d", local.Count())
	}
}

func TestApplyIncomingOrdersByTimestampThenHash(t *testing.T) {
	local := mustLog(t)
	genesis, _ := local.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, nil)
	a, _ := local.Append("world://w1", genesis.Hash, 5, wireformat.StateChanged, []byte("a"))
	b, _ := local.Append("world://w1", genesis.Hash, 5, wireformat.StateChanged, []byte("b"))

	ordered := lwwOrder([]eventlog.Event{b, a})
	if ordered[0].Timestamp != 5 || ordered[1].Timestamp != 5 {
		t.Fatalf("expected both entries to keep their tied timestamp")
	}
	if bytesCompare(ordered[0].Hash, ordered[1].Hash) > 0 {
		t.Fatalf("expected ascending hash order on timestamp tie, got %s then %s", ordered[0].Hash, ordered[1].Hash)
	}
}

func bytesCompare(a, b wireformat.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestPeerRegistryTrustScoring(t *testing.T) {
	reg := NewRegistry()
	p := NewPeer("peer-1:9000")
	reg.Add(p)

	for i := 0; i < 10; i++ {
		reg.RecordFailure(p.ID)
	}
	selected := reg.SelectPeers(10)
	if len(selected) != 1 {
		t.Fatalf("expected peer to still be selectable (not quarantined from one burst), got %d", len(selected))
	}
	if selected[0].TrustScore >= 0.5 {
		t.Fatalf("expected trust score to have dropped, got %f", selected[0].TrustScore)
	}
	if selected[0].Status == StatusActive {
		t.Fatalf("expected status to have degraded after repeated failures, got %v", selected[0].Status)
	}
}

func TestPeerRegistrySelectOrdersByTrust(t *testing.T) {
	reg := NewRegistry()
	strong := NewPeer("strong:9000")
	weak := NewPeer("weak:9000")
	reg.Add(strong)
	reg.Add(weak)

	reg.RecordSuccess(strong.ID)
	reg.RecordSuccess(strong.ID)
	reg.RecordFailure(weak.ID)
	reg.RecordFailure(weak.ID)

	selected := reg.SelectPeers(2)
	if len(selected) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(selected))
	}
	if selected[0].ID != strong.ID {
		t.Fatalf("expected strongest-trust peer first")
	}
}
