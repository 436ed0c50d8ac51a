// Package reconstruct implements ewig's state reconstructor: replay
// from the nearest cached ancestor to produce a full state snapshot
// for any event hash.
package reconstruct

import (
	"encoding/binary"

	"github.com/swarmguard/ewig/internal/wireformat"
)

// Snapshot is a materialized state at a specific event.
type Snapshot struct {
	Hash      wireformat.Hash
	Data      []byte
	Timestamp int64
	Seq       uint64
}

// computeSnapshotHash is SHA-256(data ‖ timestamp ‖ seq).
func computeSnapshotHash(data []byte, timestamp int64, seq uint64) wireformat.Hash {
	buf := make([]byte, len(data)+16)
	copy(buf, data)
	binary.LittleEndian.PutUint64(buf[len(data):], uint64(timestamp))
	binary.LittleEndian.PutUint64(buf[len(data)+8:], seq)
	return wireformat.Sum(buf)
}
