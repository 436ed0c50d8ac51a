package cas

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// FileBackend stores objects in a single append-only data.bin plus a
// sidecar index.bin recording offset/size/refcount per hash. Deleted
// objects are unlinked from the index but their bytes are left in
// place in data.bin; reclaiming that space is block-level compaction
// (wireformat.BlockHeader), which is out of scope for a first
// implementation.
type FileBackend struct {
	mu sync.RWMutex

	dataPath  string
	indexPath string
	dataFile  *os.File

	index map[wireformat.Hash]*fileEntry
	// fingerprints caches a murmur3 fingerprint per hash computed the
	// first time an object is written or read in this process, so a
	// subsequent Get can detect corruption by comparing a cheap 32-bit
	// mix instead of rehashing the full object with SHA-256.
	fingerprints map[wireformat.Hash]uint32
}

type fileEntry struct {
	Offset     uint64
	Size       uint32 // logical, post-decompression size
	StoredSize uint32 // bytes actually occupied in data.bin
	Refcount   uint64
	Flags      byte
}

// OpenFileBackend opens or creates a file-backed CAS rooted at dir.
func OpenFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cas dir: %w", err)
	}
	b := &FileBackend{
		dataPath:     filepath.Join(dir, "data.bin"),
		indexPath:    filepath.Join(dir, "index.bin"),
		index:        make(map[wireformat.Hash]*fileEntry),
		fingerprints: make(map[wireformat.Hash]uint32),
	}
	f, err := os.OpenFile(b.dataPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open cas data file: %w", err)
	}
	b.dataFile = f
	if err := b.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) loadIndex() error {
	raw, err := os.ReadFile(b.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cas index: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	headerLen := len("EWIG_IDX\x00\x01") + 8
	if len(raw) < headerLen {
		return fmt.Errorf("cas index: %w", ewigerr.ErrInvalidInput)
	}
	count, err := wireformat.DecodeCASIndexHeader(raw[:headerLen])
	if err != nil {
		return fmt.Errorf("cas index header: %w", err)
	}
	pos := headerLen
	for i := uint64(0); i < count; i++ {
		end := pos + wireformat.CASIndexRecordSize
		if end > len(raw) {
			return fmt.Errorf("cas index: %w", ewigerr.ErrInvalidInput)
		}
		rec, err := wireformat.DecodeCASIndexRecord(raw[pos:end])
		if err != nil {
			return fmt.Errorf("cas index record: %w", err)
		}
		b.index[rec.Hash] = &fileEntry{
			Offset:     rec.Offset,
			Size:       rec.Size,
			StoredSize: rec.StoredSize,
			Refcount:   rec.Refcount,
			Flags:      rec.Flags,
		}
		pos = end
	}
	return nil
}

// saveIndex rewrites index.bin from the current in-memory index. This
// implementation favors correctness and simplicity over incremental
// updates; reworking it into an append-and-compact log is future work
// once object counts warrant it.
func (b *FileBackend) saveIndex() error {
	buf := wireformat.EncodeCASIndexHeader(uint64(len(b.index)))
	for h, e := range b.index {
		buf = append(buf, wireformat.EncodeCASIndexRecord(wireformat.CASIndexRecord{
			Hash:       h,
			Offset:     e.Offset,
			Size:       e.Size,
			Refcount:   e.Refcount,
			StoredSize: e.StoredSize,
			Flags:      e.Flags,
		})...)
	}
	tmp := b.indexPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return fmt.Errorf("write cas index: %w", err)
	}
	return os.Rename(tmp, b.indexPath)
}

func (b *FileBackend) Put(data []byte) (wireformat.Hash, error) {
	h := wireformat.Sum(data)
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.index[h]; ok {
		e.Refcount++
		if err := b.saveIndex(); err != nil {
			return h, err
		}
		return h, nil
	}

	stored := data
	var flags byte
	if compressed := wireformat.Compress(data); len(compressed) < len(data) {
		stored = compressed
		flags = wireformat.FlagCompressed
	}

	info, err := b.dataFile.Stat()
	if err != nil {
		return h, fmt.Errorf("stat cas data file: %w", err)
	}
	offset := uint64(info.Size())
	if _, err := b.dataFile.WriteAt(stored, int64(offset)); err != nil {
		return h, fmt.Errorf("write cas object: %w", err)
	}
	if err := b.dataFile.Sync(); err != nil {
		return h, fmt.Errorf("sync cas data file: %w", err)
	}
	b.index[h] = &fileEntry{
		Offset:     offset,
		Size:       uint32(len(data)),
		StoredSize: uint32(len(stored)),
		Refcount:   1,
		Flags:      flags,
	}
	b.fingerprints[h] = murmur3.Sum32(data)
	if err := b.saveIndex(); err != nil {
		return h, err
	}
	return h, nil
}

func (b *FileBackend) Get(hash wireformat.Hash) ([]byte, error) {
	b.mu.RLock()
	e, ok := b.index[hash]
	wantFP, haveFP := b.fingerprints[hash]
	b.mu.RUnlock()
	if !ok {
		return nil, ewigerr.ErrNotFound
	}
	raw := make([]byte, e.StoredSize)
	if _, err := b.dataFile.ReadAt(raw, int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("read cas object: %w", err)
	}
	data := raw
	if e.Flags&wireformat.FlagCompressed != 0 {
		decompressed, err := wireformat.Decompress(raw)
		if err != nil {
			return nil, ewigerr.ErrChecksumMismatch
		}
		data = decompressed
	}
	gotFP := murmur3.Sum32(data)
	if haveFP && gotFP != wantFP {
		if wireformat.Sum(data) != hash {
			return nil, ewigerr.ErrChecksumMismatch
		}
	}
	if !haveFP {
		b.mu.Lock()
		b.fingerprints[hash] = gotFP
		b.mu.Unlock()
	}
	return data, nil
}

func (b *FileBackend) Has(hash wireformat.Hash) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[hash]
	return ok
}

func (b *FileBackend) IncRef(hash wireformat.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.index[hash]
	if !ok {
		return ewigerr.ErrNotFound
	}
	e.Refcount++
	return b.saveIndex()
}

func (b *FileBackend) DecRef(hash wireformat.Hash) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.index[hash]
	if !ok {
		return 0, ewigerr.ErrNotFound
	}
	if e.Refcount > 0 {
		e.Refcount--
	}
	if err := b.saveIndex(); err != nil {
		return e.Refcount, err
	}
	return e.Refcount, nil
}

// Delete removes hash's index entry outright; it must already be at
// refcount zero. The object's bytes remain in data.bin; neither Delete
// nor Gc rewrites that file.
func (b *FileBackend) Delete(hash wireformat.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.index[hash]
	if !ok {
		return ewigerr.ErrNotFound
	}
	if e.Refcount > 0 {
		return ewigerr.ErrHasReferences
	}
	delete(b.index, hash)
	delete(b.fingerprints, hash)
	return b.saveIndex()
}

// Gc removes every index entry at refcount zero and returns the bytes
// reclaimed. data.bin itself is never rewritten; the freed accounting
// reflects the index, matching a backend that may later compact the
// file out of band.
func (b *FileBackend) Gc() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var freed int64
	for h, e := range b.index {
		if e.Refcount == 0 {
			freed += int64(e.Size)
			delete(b.index, h)
			delete(b.fingerprints, h)
		}
	}
	if err := b.saveIndex(); err != nil {
		return freed, err
	}
	return freed, nil
}

func (b *FileBackend) Refcount(hash wireformat.Hash) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e, ok := b.index[hash]; ok {
		return e.Refcount
	}
	return 0
}

func (b *FileBackend) Stats() (int, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, e := range b.index {
		total += int64(e.Size)
	}
	return len(b.index), total
}

func (b *FileBackend) All() []wireformat.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]wireformat.Hash, 0, len(b.index))
	for h := range b.index {
		out = append(out, h)
	}
	return out
}

func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataFile.Close()
}
