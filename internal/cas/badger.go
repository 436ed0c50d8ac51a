package cas

import (
	"encoding/binary"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// BadgerBackend is an alternate Backend for deployments that already
// run BadgerDB for other storage and want the CAS sharing its LSM tree
// and compaction machinery, rather than ewig's own data.bin/index.bin
// pair. Hash-keyed blobs with a refcount prefix, rather than the
// height-keyed records a blockchain-style store would use.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadgerBackend opens (or creates) a Badger database rooted at
// path.
func OpenBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(filepath.Clean(path)).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db}, nil
}

// encodeValue prefixes data with an 8-byte little-endian refcount.
func encodeValue(refcount uint64, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(buf[:8], refcount)
	copy(buf[8:], data)
	return buf
}

func decodeValue(buf []byte) (uint64, []byte) {
	return binary.LittleEndian.Uint64(buf[:8]), buf[8:]
}

func (b *BadgerBackend) Put(data []byte) (wireformat.Hash, error) {
	h := wireformat.Sum(data)
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(h[:])
		if err == nil {
			var refcount uint64
			var existing []byte
			err := item.Value(func(v []byte) error {
				refcount, existing = decodeValue(v)
				return nil
			})
			if err != nil {
				return err
			}
			return txn.Set(h[:], encodeValue(refcount+1, existing))
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(h[:], encodeValue(1, data))
	})
	return h, err
}

func (b *BadgerBackend) Get(hash wireformat.Hash) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hash[:])
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ewigerr.ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			_, data := decodeValue(v)
			out = append([]byte(nil), data...)
			return nil
		})
	})
	return out, err
}

func (b *BadgerBackend) Has(hash wireformat.Hash) bool {
	found := false
	b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(hash[:])
		found = err == nil
		return nil
	})
	return found
}

func (b *BadgerBackend) IncRef(hash wireformat.Hash) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(hash[:])
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ewigerr.ErrNotFound
			}
			return err
		}
		var refcount uint64
		var data []byte
		if err := item.Value(func(v []byte) error {
			refcount, data = decodeValue(v)
			return nil
		}); err != nil {
			return err
		}
		return txn.Set(hash[:], encodeValue(refcount+1, data))
	})
}

func (b *BadgerBackend) DecRef(hash wireformat.Hash) (uint64, error) {
	var remaining uint64
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(hash[:])
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ewigerr.ErrNotFound
			}
			return err
		}
		var refcount uint64
		var data []byte
		if err := item.Value(func(v []byte) error {
			refcount, data = decodeValue(v)
			return nil
		}); err != nil {
			return err
		}
		if refcount > 0 {
			refcount--
		}
		remaining = refcount
		return txn.Set(hash[:], encodeValue(refcount, data))
	})
	return remaining, err
}

// Delete removes hash outright; it must already be at refcount zero.
func (b *BadgerBackend) Delete(hash wireformat.Hash) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(hash[:])
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ewigerr.ErrNotFound
			}
			return err
		}
		var refcount uint64
		if err := item.Value(func(v []byte) error {
			refcount, _ = decodeValue(v)
			return nil
		}); err != nil {
			return err
		}
		if refcount > 0 {
			return ewigerr.ErrHasReferences
		}
		return txn.Delete(hash[:])
	})
}

// Gc removes every object at refcount zero and returns the bytes
// reclaimed. Keys are collected under a read view first, then deleted
// under a separate update transaction, since Badger iterators don't
// support mutation mid-scan.
func (b *BadgerBackend) Gc() (int64, error) {
	var toDelete [][]byte
	var freed int64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var refcount uint64
			var size int
			if err := item.Value(func(v []byte) error {
				var data []byte
				refcount, data = decodeValue(v)
				size = len(data)
				return nil
			}); err != nil {
				return err
			}
			if refcount == 0 {
				toDelete = append(toDelete, item.KeyCopy(nil))
				freed += int64(size)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(toDelete) == 0 {
		return 0, nil
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

func (b *BadgerBackend) Refcount(hash wireformat.Hash) uint64 {
	var refcount uint64
	b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hash[:])
		if err != nil {
			return nil
		}
		return item.Value(func(v []byte) error {
			refcount, _ = decodeValue(v)
			return nil
		})
	})
	return refcount
}

func (b *BadgerBackend) Stats() (int, int64) {
	count := 0
	var total int64
	b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
			total += it.Item().ValueSize() - 8
		}
		return nil
	})
	return count, total
}

func (b *BadgerBackend) All() []wireformat.Hash {
	var out []wireformat.Hash
	b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if len(key) != wireformat.HashSize {
				continue
			}
			var h wireformat.Hash
			copy(h[:], key)
			out = append(out, h)
		}
		return nil
	})
	return out
}

func (b *BadgerBackend) Close() error { return b.db.Close() }
