package branch

import (
	"testing"

	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/wireformat"
)

func TestManagerCreateGetList(t *testing.T) {
	m := NewManager()
	b, err := m.Create("main", "world://w1", wireformat.ZeroHash, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Name != "main" {
		t.Fatalf("unexpected branch: %+v", b)
	}
	if _, err := m.Create("main", "world://w1", wireformat.ZeroHash, 1); err == nil {
		t.Fatal("expected AlreadyExists on duplicate create")
	}
	got, err := m.Get("main")
	if err != nil || got.Name != "main" {
		t.Fatalf("get: %+v err %v", got, err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected 1 branch, got %d", len(m.List()))
	}
}

func TestManagerActiveAndDelete(t *testing.T) {
	m := NewManager()
	m.Create("main", "world://w1", wireformat.ZeroHash, 1)
	m.Create("feature", "world://w1", wireformat.ZeroHash, 1)

	active, err := m.Active()
	if err != nil || active.Name != "main" {
		t.Fatalf("expected main active by default, got %+v err %v", active, err)
	}
	if err := m.Delete("main"); err == nil {
		t.Fatal("expected CannotDeleteActive for active branch")
	}
	if err := m.Switch("feature"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := m.Delete("main"); err != nil {
		t.Fatalf("delete after switch: %v", err)
	}
	if _, err := m.Get("main"); err == nil {
		t.Fatal("expected main to be gone")
	}
}

func TestManagerNoActiveBranchInitially(t *testing.T) {
	m := NewManager()
	if _, err := m.Active(); err == nil {
		t.Fatal("expected NoActiveBranch on empty manager")
	}
}

// buildLinearHistory appends n events in a single unbranched chain.
func buildLinearHistory(t *testing.T, n int) (*eventlog.Log, []eventlog.Event) {
	t.Helper()
	log, err := eventlog.Open(eventlog.OpenOptions{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	var evs []eventlog.Event
	parent := wireformat.ZeroHash
	for i := 0; i < n; i++ {
		ev, err := log.Append("world://w1", parent, int64(i+1), wireformat.StateChanged, []byte{byte(i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		evs = append(evs, ev)
		parent = ev.Hash
	}
	return log, evs
}

func TestFastForwardMerge(t *testing.T) {
	log, evs := buildLinearHistory(t, 3)
	e := NewEngine(log)

	result, err := e.Merge(FastForward, evs[0].Hash, evs[0].Hash, evs[2].Hash)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !result.Success || result.MergeCommit == nil || *result.MergeCommit != evs[2].Hash {
		t.Fatalf("expected fast-forward to e3, got %+v", result)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", result.Conflicts)
	}
}

func TestThreeWayMergeNoConflict(t *testing.T) {
	log, evs := buildLinearHistory(t, 1)
	e := NewEngine(log)
	base := evs[0].Hash

	ours, err := log.Append("world://w1", base, 10, wireformat.StateChanged, []byte("ours-only"))
	if err != nil {
		t.Fatalf("append ours: %v", err)
	}

	result, err := e.Merge(ThreeWay, base, ours.Hash, base)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success (theirs is ancestor of ours), got %+v", result)
	}
}

func TestThreeWayMergeDetectsConflict(t *testing.T) {
	// Two branches diverge from a shared ancestor e1, each changing the
	// same synthetic path event:2 (second position in its chain, though
	// the log numbers them Seq 2 and 3) differently (spec scenario 5,
	// "Bracelet of branches").
	log, err := eventlog.Open(eventlog.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e1, err := log.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, nil)
	if err != nil {
		t.Fatalf("append e1: %v", err)
	}

	ours, err := log.Append("world://w1", e1.Hash, 2, wireformat.StateChanged, []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("append ours: %v", err)
	}
	theirs, err := log.Append("world://w1", e1.Hash, 2, wireformat.StateChanged, []byte(`{"x":2}`))
	if err != nil {
		t.Fatalf("append theirs: %v", err)
	}

	eng := NewEngine(log)
	result, err := eng.Merge(ThreeWay, e1.Hash, ours.Hash, theirs.Hash)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.Success {
		t.Fatalf("expected conflicting merge to fail, got %+v", result)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d: %+v", len(result.Conflicts), result.Conflicts)
	}
	c := result.Conflicts[0]
	if string(c.Ours) != `{"x":1}` || string(c.Theirs) != `{"x":2}` {
		t.Fatalf("unexpected conflict payloads: %+v", c)
	}
}

func TestThreeWayMergeSucceedsWhenOursIsAncestorOfTheirs(t *testing.T) {
	log, evs := buildLinearHistory(t, 1)
	e1 := evs[0]
	eng := NewEngine(log)

	ours, err := log.Append("world://w1", e1.Hash, 2, wireformat.StateChanged, []byte("a"))
	if err != nil {
		t.Fatalf("append ours: %v", err)
	}
	theirs, err := log.Append("world://w1", ours.Hash, 3, wireformat.StateChanged, []byte("b"))
	if err != nil {
		t.Fatalf("append theirs: %v", err)
	}

	result, err := eng.Merge(ThreeWay, e1.Hash, ours.Hash, theirs.Hash)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected fast-forward-style success (ours is ancestor of theirs), got %+v", result)
	}
}

func TestResolveAndUnion(t *testing.T) {
	conflicts := []Conflict{{Path: "event:2", Ours: []byte("a"), Theirs: []byte("b")}}
	resolved := Resolve(conflicts, ResolvedOurs)
	if resolved[0].Resolution != ResolvedOurs {
		t.Fatalf("expected ResolvedOurs, got %v", resolved[0].Resolution)
	}

	u := Union([]byte("a"), []byte("b"))
	if string(u) != "a\x00b" {
		t.Fatalf("unexpected union: %q", u)
	}
}

func TestIsAncestorHandlesMissingEvent(t *testing.T) {
	log, evs := buildLinearHistory(t, 1)
	e := NewEngine(log)
	bogus := wireformat.Sum([]byte("nonexistent"))
	if e.isAncestor(evs[0].Hash, bogus) {
		t.Fatal("expected missing descendant chain to resolve as not-ancestor")
	}
}
