package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Log is the append-only, hash-chained event log. Seq is a strictly
// monotonic global commit counter assigned in append order; Parent
// encodes the event DAG independently of seq adjacency, so multiple
// branches can share a common ancestor and diverge while still
// drawing from one global, linearizable sequence: the observed
// sequence of appends matches the global order of committed events.
// The genesis event of any chain has wireformat.ZeroHash as its
// parent. A Log may be purely in-memory (path == "") or backed by a
// single append-only file, a WAL-segment idiom without segment
// rotation: block-level compaction is a later concern.
type Log struct {
	mu sync.RWMutex

	events []Event
	byHash map[wireformat.Hash]int // hash -> index in events
	bySeq  map[uint64]int          // seq -> index in events

	// shard indexes events by a murmur3 fingerprint of world_uri so a
	// per-world scan doesn't have to walk the full log; collisions are
	// resolved by re-checking WorldURI on each candidate.
	shard map[uint32][]uint64

	seq uint64

	path string
	file *os.File
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Path to the backing file. Empty means in-memory only.
	Path string
}

// Open creates or resumes a Log. When opts.Path is non-empty, existing
// records are replayed to rebuild in-memory state; a torn write at the
// tail (a header that fails to fully decode) is truncated rather than
// treated as corruption, mirroring ordinary crash-recovery semantics
// for an append-only file.
func Open(opts OpenOptions) (*Log, error) {
	l := &Log{
		byHash: make(map[wireformat.Hash]int),
		bySeq:  make(map[uint64]int),
		shard:  make(map[uint32][]uint64),
		path:   opts.Path,
	}
	if opts.Path == "" {
		return l, nil
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := l.restore(f); err != nil {
		f.Close()
		return nil, err
	}
	l.file = f
	return l, nil
}

// restore replays every well-formed record in f into memory, then
// truncates the file at the first torn or corrupt record so future
// appends resume from a clean offset.
func (l *Log) restore(f *os.File) error {
	r := bufio.NewReader(f)
	var offset int64
	headerBuf := make([]byte, wireformat.HeaderSize)
	for {
		start := offset
		n, err := io.ReadFull(r, headerBuf)
		offset += int64(n)
		if err != nil {
			if err == io.EOF {
				break
			}
			// Partial header at EOF: torn tail, truncate and stop.
			return l.truncate(f, start)
		}
		hdr, err := wireformat.DecodeHeader(headerBuf)
		if err != nil {
			return l.truncate(f, start)
		}
		rest := make([]byte, int(hdr.WorldURILen)+int(hdr.PayloadLen))
		n, err = io.ReadFull(r, rest)
		offset += int64(n)
		if err != nil {
			return l.truncate(f, start)
		}
		worldURI := string(rest[:hdr.WorldURILen])
		payload := rest[hdr.WorldURILen:]
		if hdr.Flags&wireformat.FlagCompressed != 0 {
			decompressed, err := wireformat.Decompress(payload)
			if err != nil {
				return l.truncate(f, start)
			}
			payload = decompressed
		} else {
			payload = append([]byte(nil), payload...)
		}
		ev := Event{
			Timestamp: hdr.Timestamp,
			Seq:       hdr.Seq,
			Hash:      hdr.Hash,
			Parent:    hdr.Parent,
			WorldURI:  worldURI,
			Type:      hdr.Type,
			Payload:   payload,
		}
		if !ev.Verify() {
			return l.truncate(f, start)
		}
		l.index(ev)
	}
	l.resortBySeq()
	return nil
}

// resortBySeq restores ascending-Seq order in l.events and rebuilds the
// byHash/bySeq position maps. Both Append and Import assign Seq values
// at the tail in increasing order, so a well-formed file is already
// sorted; this is a defensive pass that also rebuilds the maps restore
// needs regardless.
func (l *Log) resortBySeq() {
	sort.Slice(l.events, func(i, j int) bool { return l.events[i].Seq < l.events[j].Seq })
	for i, ev := range l.events {
		l.byHash[ev.Hash] = i
		l.bySeq[ev.Seq] = i
	}
}

func (l *Log) truncate(f *os.File, at int64) error {
	if err := f.Truncate(at); err != nil {
		return fmt.Errorf("truncate torn tail: %w", err)
	}
	_, err := f.Seek(at, io.SeekStart)
	return err
}

func (l *Log) index(ev Event) {
	idx := len(l.events)
	l.events = append(l.events, ev)
	l.byHash[ev.Hash] = idx
	l.bySeq[ev.Seq] = idx
	fp := murmur3.Sum32([]byte(ev.WorldURI))
	l.shard[fp] = append(l.shard[fp], ev.Seq)
	if ev.Seq > l.seq {
		l.seq = ev.Seq
	}
}

// Append assigns the next global sequence number and durably records
// an event parented at parent (typically the caller's active branch
// head, or wireformat.ZeroHash to start a new chain). worldURI
// identifies the timeline this event belongs to.
func (l *Log) Append(worldURI string, parent wireformat.Hash, timestamp int64, typ wireformat.EventType, payload []byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !parent.IsZero() {
		if _, ok := l.byHash[parent]; !ok {
			return Event{}, fmt.Errorf("append: parent %s: %w", parent, ewigerr.ErrNotFound)
		}
	}

	seq := l.seq + 1
	hash := computeHash(timestamp, parent, worldURI, typ, payload)
	ev := Event{
		Timestamp: timestamp,
		Seq:       seq,
		Hash:      hash,
		Parent:    parent,
		WorldURI:  worldURI,
		Type:      typ,
		Payload:   payload,
	}

	if l.file != nil {
		if err := l.writeRecord(ev); err != nil {
			return Event{}, err
		}
	}

	l.index(ev)
	return ev, nil
}

// writeRecord appends ev's header, world_uri, and payload to the
// backing file. The payload is snappy-compressed on disk when doing so
// actually shrinks it; FlagCompressed records which form was written
// so restore can reverse it before handing the event back in memory.
func (l *Log) writeRecord(ev Event) error {
	payload := ev.Payload
	var flags byte
	if compressed := wireformat.Compress(ev.Payload); len(compressed) < len(ev.Payload) {
		payload = compressed
		flags = wireformat.FlagCompressed
	}
	hdr := wireformat.Header{
		Flags:       flags,
		Type:        ev.Type,
		Timestamp:   ev.Timestamp,
		Seq:         ev.Seq,
		Hash:        ev.Hash,
		Parent:      ev.Parent,
		WorldURILen: uint32(len(ev.WorldURI)),
		PayloadLen:  uint32(len(payload)),
	}
	buf := hdr.Encode()
	if _, err := l.file.Write(buf[:]); err != nil {
		return fmt.Errorf("write event header: %w", err)
	}
	if _, err := l.file.Write([]byte(ev.WorldURI)); err != nil {
		return fmt.Errorf("write world_uri: %w", err)
	}
	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return l.file.Sync()
}

// Import records a fully-formed event received from a peer replica.
// The event's Hash and Parent travel with it as its content identity
// and causal link, verified as received, but its Seq is a foreign
// replica's local commit position and carries no meaning here: Import
// discards it and assigns the next position in this log's own
// monotonic sequence, the same way Append does. This keeps Seq
// strictly increasing within a single log even when two logs that
// were seeded independently (and so each started counting from 1) are
// later synced together. Returns imported=false with no error when the
// event's hash is already known locally — re-importing an event hash
// that already exists is a no-op.
func (l *Log) Import(ev Event) (imported bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !ev.Verify() {
		return false, fmt.Errorf("import %s: %w", ev.Hash, ewigerr.ErrChecksumMismatch)
	}
	if _, ok := l.byHash[ev.Hash]; ok {
		return false, nil
	}
	if !ev.Parent.IsZero() {
		if _, ok := l.byHash[ev.Parent]; !ok {
			return false, fmt.Errorf("import %s: parent %s: %w", ev.Hash, ev.Parent, ewigerr.ErrNotFound)
		}
	}

	ev.Seq = l.seq + 1
	if l.file != nil {
		if err := l.writeRecord(ev); err != nil {
			return false, err
		}
	}

	l.index(ev)
	return true, nil
}

// GetByHash looks up an event by its content hash.
func (l *Log) GetByHash(h wireformat.Hash) (Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byHash[h]
	if !ok {
		return Event{}, ewigerr.ErrNotFound
	}
	return l.events[idx], nil
}

// GetBySeq looks up an event by its sequence number.
func (l *Log) GetBySeq(seq uint64) (Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.bySeq[seq]
	if !ok {
		return Event{}, ewigerr.ErrNotFound
	}
	return l.events[idx], nil
}

// Latest returns the most recently appended event.
func (l *Log) Latest() (Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return Event{}, ewigerr.ErrNotFound
	}
	return l.events[len(l.events)-1], nil
}

// Count returns the number of events in the log.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Iterate calls fn for every event in append order, stopping early if
// fn returns false.
func (l *Log) Iterate(fn func(Event) bool) {
	l.mu.RLock()
	snapshot := l.events
	l.mu.RUnlock()
	for _, ev := range snapshot {
		if !fn(ev) {
			return
		}
	}
}

// IterateRange calls fn for every event with fromSeq <= Seq <= toSeq,
// in ascending order.
func (l *Log) IterateRange(fromSeq, toSeq uint64, fn func(Event) bool) {
	l.mu.RLock()
	snapshot := l.events
	l.mu.RUnlock()
	for _, ev := range snapshot {
		if ev.Seq < fromSeq {
			continue
		}
		if ev.Seq > toSeq {
			break
		}
		if !fn(ev) {
			return
		}
	}
}

// Filter returns every event belonging to worldURI, in append order.
func (l *Log) Filter(worldURI string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fp := murmur3.Sum32([]byte(worldURI))
	seqs := l.shard[fp]
	out := make([]Event, 0, len(seqs))
	for _, seq := range seqs {
		ev := l.events[l.bySeq[seq]]
		if ev.WorldURI == worldURI {
			out = append(out, ev)
		}
	}
	return out
}

// Verify checks that every event's stored hash recomputes exactly and
// that every non-zero parent link resolves to an earlier event already
// in the log, forming an unbroken hash chain back to the first event.
// Branches may diverge from a shared ancestor, so this does not
// require one single linear chain.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var prevSeq uint64
	for i, ev := range l.events {
		if !ev.Verify() {
			return fmt.Errorf("event seq %d: %w", ev.Seq, ewigerr.ErrChecksumMismatch)
		}
		if i > 0 && ev.Seq <= prevSeq {
			return fmt.Errorf("event seq %d: not strictly increasing: %w", ev.Seq, ewigerr.ErrOutOfOrder)
		}
		if !ev.Parent.IsZero() {
			parentIdx, ok := l.byHash[ev.Parent]
			if !ok || l.events[parentIdx].Seq >= ev.Seq {
				return fmt.Errorf("event seq %d: parent not found before it: %w", ev.Seq, ewigerr.ErrOutOfOrder)
			}
		}
		prevSeq = ev.Seq
	}
	return nil
}

// Close flushes and releases the backing file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}
