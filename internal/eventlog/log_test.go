package eventlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmguard/ewig/internal/wireformat"
)

func TestAppendChainsHashes(t *testing.T) {
	l, err := Open(OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	first, err := l.Append("world://alpha", wireformat.ZeroHash, 100, wireformat.WorldCreated, []byte("genesis"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}
	if !first.Parent.IsZero() {
		t.Fatal("first event must have zero parent")
	}

	second, err := l.Append("world://alpha", first.Hash, 101, wireformat.PlayerJoined, []byte("p1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", second.Seq)
	}
	if second.Parent != first.Hash {
		t.Fatal("second event must chain to first event's hash")
	}

	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestAppendRejectsUnknownParent(t *testing.T) {
	l, _ := Open(OpenOptions{})
	bogus := wireformat.Sum([]byte("nonexistent"))
	if _, err := l.Append("world://alpha", bogus, 1, wireformat.StateChanged, nil); err == nil {
		t.Fatal("expected append with unknown parent to fail")
	}
}

func TestAppendSupportsDivergentBranches(t *testing.T) {
	l, err := Open(OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	genesis, _ := l.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, nil)

	ours, err := l.Append("world://w1", genesis.Hash, 2, wireformat.StateChanged, []byte("ours"))
	if err != nil {
		t.Fatalf("append ours: %v", err)
	}
	theirs, err := l.Append("world://w1", genesis.Hash, 2, wireformat.StateChanged, []byte("theirs"))
	if err != nil {
		t.Fatalf("append theirs: %v", err)
	}
	if ours.Parent != theirs.Parent {
		t.Fatal("expected both branches to share the same parent")
	}
	if ours.Hash == theirs.Hash {
		t.Fatal("divergent payloads must hash differently")
	}
	if ours.Seq == theirs.Seq {
		t.Fatal("seq is a global monotonic counter, must differ even for siblings")
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestImportRenumbersIntoLocalSequence(t *testing.T) {
	a, _ := Open(OpenOptions{})
	b, _ := Open(OpenOptions{})

	// Two independently-seeded logs: each genesis event lands at Seq 1
	// in its own log, but they carry different content so their
	// hashes differ.
	genA, err := a.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("a1"))
	if err != nil {
		t.Fatalf("append a: %v", err)
	}
	genB, err := b.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("b1"))
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	if genA.Seq != 1 || genB.Seq != 1 {
		t.Fatalf("expected both genesis events at local seq 1, got %d and %d", genA.Seq, genB.Seq)
	}

	imported, err := a.Import(genB)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !imported {
		t.Fatal("expected genB to be imported as a new event")
	}

	if a.Count() != 2 {
		t.Fatalf("expected 2 events after import, got %d", a.Count())
	}
	gotA, err := a.GetBySeq(1)
	if err != nil || gotA.Hash != genA.Hash {
		t.Fatalf("expected seq 1 to still resolve to genA, got %+v err %v", gotA, err)
	}
	gotB, err := a.GetByHash(genB.Hash)
	if err != nil {
		t.Fatalf("get imported event by hash: %v", err)
	}
	if gotB.Seq != 2 {
		t.Fatalf("expected imported event renumbered to seq 2, got %d", gotB.Seq)
	}
	if err := a.Verify(); err != nil {
		t.Fatalf("verify after import: %v", err)
	}
}

func TestImportIsIdempotentByHash(t *testing.T) {
	a, _ := Open(OpenOptions{})
	b, _ := Open(OpenOptions{})
	genB, _ := b.Append("world://w1", wireformat.ZeroHash, 1, wireformat.WorldCreated, []byte("b1"))

	first, err := a.Import(genB)
	if err != nil || !first {
		t.Fatalf("expected first import to succeed, got %v err %v", first, err)
	}
	second, err := a.Import(genB)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second {
		t.Fatal("expected re-importing an already-known hash to be a no-op")
	}
	if a.Count() != 1 {
		t.Fatalf("expected exactly 1 event, got %d", a.Count())
	}
}

func TestGetByHashAndSeq(t *testing.T) {
	l, _ := Open(OpenOptions{})
	ev, _ := l.Append("world://beta", wireformat.ZeroHash, 1, wireformat.StateChanged, []byte("x"))

	byHash, err := l.GetByHash(ev.Hash)
	if err != nil || byHash.Seq != ev.Seq {
		t.Fatalf("GetByHash: got %+v, err %v", byHash, err)
	}
	bySeq, err := l.GetBySeq(ev.Seq)
	if err != nil || bySeq.Hash != ev.Hash {
		t.Fatalf("GetBySeq: got %+v, err %v", bySeq, err)
	}
	if _, err := l.GetBySeq(999); err == nil {
		t.Fatal("expected error for missing seq")
	}
}

func TestFilterByWorld(t *testing.T) {
	l, _ := Open(OpenOptions{})
	a1, _ := l.Append("world://alpha", wireformat.ZeroHash, 1, wireformat.WorldCreated, nil)
	l.Append("world://beta", wireformat.ZeroHash, 2, wireformat.WorldCreated, nil)
	l.Append("world://alpha", a1.Hash, 3, wireformat.PlayerJoined, nil)

	alpha := l.Filter("world://alpha")
	if len(alpha) != 2 {
		t.Fatalf("expected 2 alpha events, got %d", len(alpha))
	}
	for _, ev := range alpha {
		if ev.WorldURI != "world://alpha" {
			t.Fatalf("unexpected world in filter result: %s", ev.WorldURI)
		}
	}
}

func TestIterateRange(t *testing.T) {
	l, _ := Open(OpenOptions{})
	parent := wireformat.ZeroHash
	for i := int64(1); i <= 5; i++ {
		ev, _ := l.Append("world://alpha", parent, i, wireformat.StateChanged, nil)
		parent = ev.Hash
	}
	var seqs []uint64
	l.IterateRange(2, 4, func(ev Event) bool {
		seqs = append(seqs, ev.Seq)
		return true
	})
	if len(seqs) != 3 || seqs[0] != 2 || seqs[2] != 4 {
		t.Fatalf("unexpected range result: %v", seqs)
	}
}

func TestPersistenceReopenAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	l, err := Open(OpenOptions{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	parent := wireformat.ZeroHash
	for i := int64(1); i <= 3; i++ {
		ev, err := l.Append("world://alpha", parent, i, wireformat.StateChanged, []byte("payload"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		parent = ev.Hash
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(OpenOptions{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 3 {
		t.Fatalf("expected 3 events after reopen, got %d", reopened.Count())
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("verify after reopen: %v", err)
	}
	latest, err := reopened.Latest()
	if err != nil || latest.Seq != 3 {
		t.Fatalf("latest: got %+v, err %v", latest, err)
	}
}

func TestPersistenceCompressesHighlyRepetitivePayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	l, err := Open(OpenOptions{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	payload := bytes.Repeat([]byte("compressme"), 200)
	ev, err := l.Append("world://alpha", wireformat.ZeroHash, 1, wireformat.StateChanged, payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() >= int64(len(payload)) {
		t.Fatalf("expected on-disk record to be smaller than the raw payload, file is %d bytes for a %d byte payload", info.Size(), len(payload))
	}

	reopened, err := Open(OpenOptions{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetByHash(ev.Hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload did not round-trip through compression")
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("verify after reopen: %v", err)
	}
}

func TestTornTailIsTruncatedOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	l, err := Open(OpenOptions{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := l.Append("world://alpha", wireformat.ZeroHash, 1, wireformat.StateChanged, []byte("payload"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.Write([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	reopened, err := Open(OpenOptions{Path: path})
	if err != nil {
		t.Fatalf("reopen after torn tail: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("expected torn tail dropped, got %d events", reopened.Count())
	}

	if _, err := reopened.Append("world://alpha", first.Hash, 2, wireformat.StateChanged, []byte("ok")); err != nil {
		t.Fatalf("append after truncation: %v", err)
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	l, _ := Open(OpenOptions{})
	ev, _ := l.Append("world://alpha", wireformat.ZeroHash, 1, wireformat.StateChanged, []byte("original"))
	idx := l.bySeq[ev.Seq]
	l.events[idx].Payload = []byte("tampered")

	if err := l.Verify(); err == nil {
		t.Fatal("expected verify to detect tampered payload")
	}
}
