// Package eventlog implements ewig's append-only, hash-chained event
// log: generalized from JSON-line records to a fixed binary header,
// and from a flat log to one that tracks world_uri membership for the
// timeline layer above it.
package eventlog

import (
	"encoding/binary"

	"github.com/swarmguard/ewig/internal/wireformat"
)

// Event is an atomic, immutable record in history.
type Event struct {
	Timestamp int64
	Seq       uint64
	Hash      wireformat.Hash
	Parent    wireformat.Hash
	WorldURI  string
	Type      wireformat.EventType
	Payload   []byte
}

// computeHash derives e.Hash = SHA-256(timestamp ‖ parent ‖ world_uri ‖
// type ‖ payload). Seq is deliberately excluded: it records an
// event's position in one particular log's local commit order, not
// part of the event's content, so the same event keeps the same hash
// no matter which replica it was first committed on or what sequence
// number it lands at after Import renumbers it into a different log.
func computeHash(timestamp int64, parent wireformat.Hash, worldURI string, typ wireformat.EventType, payload []byte) wireformat.Hash {
	buf := make([]byte, 0, 8+wireformat.HashSize+len(worldURI)+1+len(payload))
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(timestamp))
	buf = append(buf, tsBuf[:]...)
	buf = append(buf, parent[:]...)
	buf = append(buf, worldURI...)
	buf = append(buf, byte(typ))
	buf = append(buf, payload...)
	return wireformat.Sum(buf)
}

// Verify recomputes e.Hash and reports whether it matches the stored
// value.
func (e Event) Verify() bool {
	return computeHash(e.Timestamp, e.Parent, e.WorldURI, e.Type, e.Payload) == e.Hash
}
