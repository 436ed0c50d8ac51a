package branch

import (
	"bytes"
	"fmt"

	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Strategy selects how Merge resolves ours/theirs.
type Strategy int

const (
	FastForward Strategy = iota
	Ours
	Theirs
	ThreeWay
	Recursive
)

// Resolution marks how a conflict was settled.
type Resolution int

const (
	Unresolved Resolution = iota
	ResolvedOurs
	ResolvedTheirs
	ResolvedUnion
)

// Conflict describes two branches changing the same synthetic path
// differently. Paths are the payload-blind event:{n} form built by
// changesSince, not tied to a diff schema of the payload.
type Conflict struct {
	Path       string
	Base       []byte
	Ours       []byte
	Theirs     []byte
	Resolution Resolution
}

// Result is the outcome of a merge attempt.
type Result struct {
	Success     bool
	MergeCommit *wireformat.Hash
	Conflicts   []Conflict
}

// Engine runs merges over a shared event log.
type Engine struct {
	log *eventlog.Log
}

// NewEngine constructs a merge Engine over log.
func NewEngine(log *eventlog.Log) *Engine {
	return &Engine{log: log}
}

// isAncestor reports whether candidate appears in descendant's parent
// chain. A missing event along the way is treated as "not reachable",
// never an error.
func (e *Engine) isAncestor(candidate, descendant wireformat.Hash) bool {
	cur := descendant
	for {
		if cur == candidate {
			return true
		}
		if cur.IsZero() {
			return false
		}
		ev, err := e.log.GetByHash(cur)
		if err != nil {
			return false
		}
		cur = ev.Parent
	}
}

// chain walks parents from head back to the zero hash and returns them
// in chronological (oldest-first) order.
func (e *Engine) chain(head wireformat.Hash) ([]eventlog.Event, error) {
	var reverse []eventlog.Event
	cur := head
	for !cur.IsZero() {
		ev, err := e.log.GetByHash(cur)
		if err != nil {
			return nil, fmt.Errorf("collect chain at %s: %w", cur, err)
		}
		reverse = append(reverse, ev)
		cur = ev.Parent
	}
	out := make([]eventlog.Event, len(reverse))
	for i, ev := range reverse {
		out[len(reverse)-1-i] = ev
	}
	return out, nil
}

// changesSince returns the suffix of chain that follows the longest
// common chronological prefix shared with base, each tagged with the
// synthetic path event:{n}, where n is the event's 1-based position in
// its own chain. Sibling events at the same position on two branches
// share a path even though the log's global Seq numbers them apart.
func changesSince(base, chain []eventlog.Event) map[string]eventlog.Event {
	i := 0
	for i < len(base) && i < len(chain) && base[i].Hash == chain[i].Hash {
		i++
	}
	out := make(map[string]eventlog.Event, len(chain)-i)
	for k, ev := range chain[i:] {
		out[fmt.Sprintf("event:%d", i+k+1)] = ev
	}
	return out
}

// Merge runs strategy over (base, ours, theirs).
func (e *Engine) Merge(strategy Strategy, base, ours, theirs wireformat.Hash) (Result, error) {
	switch strategy {
	case FastForward:
		return e.fastForward(ours, theirs)
	case Ours:
		h := ours
		return Result{Success: true, MergeCommit: &h}, nil
	case Theirs:
		h := theirs
		return Result{Success: true, MergeCommit: &h}, nil
	case ThreeWay, Recursive:
		return e.threeWay(base, ours, theirs)
	default:
		return Result{}, fmt.Errorf("unknown merge strategy %d", strategy)
	}
}

func (e *Engine) fastForward(ours, theirs wireformat.Hash) (Result, error) {
	if e.isAncestor(theirs, ours) {
		h := ours
		return Result{Success: true, MergeCommit: &h}, nil
	}
	if e.isAncestor(ours, theirs) {
		h := theirs
		return Result{Success: true, MergeCommit: &h}, nil
	}
	return Result{Success: false}, nil
}

// threeWay implements the three-way merge algorithm. Recursive falls
// back to this directly: criss-cross merge-base detection is left as
// future work.
func (e *Engine) threeWay(base, ours, theirs wireformat.Hash) (Result, error) {
	if e.isAncestor(theirs, ours) {
		h := ours
		return Result{Success: true, MergeCommit: &h}, nil
	}
	if e.isAncestor(ours, theirs) {
		h := theirs
		return Result{Success: true, MergeCommit: &h}, nil
	}

	baseChain, err := e.chain(base)
	if err != nil {
		return Result{}, err
	}
	oursChain, err := e.chain(ours)
	if err != nil {
		return Result{}, err
	}
	theirsChain, err := e.chain(theirs)
	if err != nil {
		return Result{}, err
	}

	ourChanges := changesSince(baseChain, oursChain)
	theirChanges := changesSince(baseChain, theirsChain)

	var conflicts []Conflict
	for path, ourEv := range ourChanges {
		theirEv, ok := theirChanges[path]
		if !ok {
			continue
		}
		if !bytes.Equal(ourEv.Payload, theirEv.Payload) {
			conflicts = append(conflicts, Conflict{
				Path:   path,
				Ours:   ourEv.Payload,
				Theirs: theirEv.Payload,
			})
		}
	}

	if len(conflicts) > 0 {
		return Result{Success: false, Conflicts: conflicts}, nil
	}
	return Result{Success: true}, nil
}

// Resolve returns a copy of conflicts with every Resolution set to
// strategy. Payloads are left as they are; Union builds the combined
// payload for a ResolvedUnion conflict.
func Resolve(conflicts []Conflict, strategy Resolution) []Conflict {
	out := make([]Conflict, len(conflicts))
	for i, c := range conflicts {
		c.Resolution = strategy
		out[i] = c
	}
	return out
}

// Union concatenates ours and theirs with a separator, the
// deterministic order-sensitive fallback for payloads that can't be
// parsed and merged field-by-field.
func Union(ours, theirs []byte) []byte {
	out := make([]byte, 0, len(ours)+1+len(theirs))
	out = append(out, ours...)
	out = append(out, '\x00')
	out = append(out, theirs...)
	return out
}
