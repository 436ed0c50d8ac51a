package cas

import (
	"sort"

	"github.com/swarmguard/ewig/internal/wireformat"
)

// Tree is a binary Merkle tree over a sorted set of object hashes, used
// to detect divergence between two CAS instances without transferring
// their full contents (sync cold start). Odd nodes are duplicated on
// each level; leaf proofs are supported beyond a simple root
// comparison.
type Tree struct {
	levels [][]wireformat.Hash // levels[0] is the sorted leaf layer
	leaves []wireformat.Hash   // sorted leaf order, for proof lookups
}

// NewTree builds a Merkle tree over hashes. Hashes are sorted first so
// two CAS instances holding the same object set always produce the
// same tree regardless of insertion order.
func NewTree(hashes []wireformat.Hash) *Tree {
	leaves := append([]wireformat.Hash(nil), hashes...)
	sort.Slice(leaves, func(i, j int) bool {
		return compareHash(leaves[i], leaves[j]) < 0
	})

	t := &Tree{leaves: leaves}
	if len(leaves) == 0 {
		t.levels = [][]wireformat.Hash{{}}
		return t
	}

	level := make([]wireformat.Hash, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		var next []wireformat.Hash
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, combine(left, right))
		}
		level = next
		t.levels = append(t.levels, level)
	}
	return t
}

func compareHash(a, b wireformat.Hash) int {
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

func combine(left, right wireformat.Hash) wireformat.Hash {
	buf := make([]byte, 0, wireformat.HashSize*2)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return wireformat.Sum(buf)
}

// Root returns the tree's root hash, or the zero hash for an empty
// tree.
func (t *Tree) Root() wireformat.Hash {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return wireformat.ZeroHash
	}
	return top[0]
}

// ProofStep is one sibling hash encountered on the path from a leaf to
// the root, tagged with which side it sits on.
type ProofStep struct {
	Sibling  wireformat.Hash
	IsLeft   bool // true if Sibling is the left operand of the combine
}

// Proof returns the sibling path for leaf, or ok=false if leaf isn't
// present.
func (t *Tree) Proof(leaf wireformat.Hash) (steps []ProofStep, ok bool) {
	idx := -1
	for i, h := range t.leaves {
		if h == leaf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	for _, level := range t.levels[:len(t.levels)-1] {
		isRightChild := idx%2 == 1
		var siblingIdx int
		if isRightChild {
			siblingIdx = idx - 1
		} else {
			siblingIdx = idx + 1
			if siblingIdx >= len(level) {
				siblingIdx = idx // duplicated odd node
			}
		}
		steps = append(steps, ProofStep{Sibling: level[siblingIdx], IsLeft: isRightChild})
		idx /= 2
	}
	return steps, true
}

// VerifyProof recomputes the root from leaf and steps and compares it
// to root.
func VerifyProof(leaf wireformat.Hash, steps []ProofStep, root wireformat.Hash) bool {
	h := leaf
	for _, s := range steps {
		if s.IsLeft {
			h = combine(s.Sibling, h)
		} else {
			h = combine(h, s.Sibling)
		}
	}
	return h == root
}

// Diff returns the hashes present in a but not in b, by walking both
// sorted leaf sets (O(n+m), no tree traversal needed once both sides
// have exchanged their full leaf lists; the tree's root is what lets
// two peers decide up front whether a diff is worth computing at all).
func Diff(a, b *Tree) []wireformat.Hash {
	var out []wireformat.Hash
	i, j := 0, 0
	for i < len(a.leaves) && j < len(b.leaves) {
		c := compareHash(a.leaves[i], b.leaves[j])
		switch {
		case c == 0:
			i++
			j++
		case c < 0:
			out = append(out, a.leaves[i])
			i++
		default:
			j++
		}
	}
	out = append(out, a.leaves[i:]...)
	return out
}
