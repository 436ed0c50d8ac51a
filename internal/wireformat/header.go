package wireformat

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/swarmguard/ewig/internal/ewigerr"
)

// HeaderSize is the fixed on-disk event header width.
const HeaderSize = 100

var magic = [4]byte{'E', 'V', 'N', 'T'}

const (
	version byte = 1

	// FlagCompressed marks the payload as snappy-compressed.
	FlagCompressed byte = 1 << 0
	// FlagEncrypted marks the payload as encrypted.
	FlagEncrypted byte = 1 << 1
)

// Header is the fixed 100-byte record header preceding world_uri and
// payload bytes on disk.
type Header struct {
	Flags        byte
	Type         EventType
	Timestamp    int64
	Seq          uint64
	Hash         Hash
	Parent       Hash
	WorldURILen  uint32
	PayloadLen   uint32
}

// Encode serializes h into a 100-byte little-endian record, computing
// the trailing CRC-32 over bytes [0,96) with the checksum field itself
// treated as zero.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], magic[:])
	buf[4] = version
	buf[5] = h.Flags
	buf[6] = byte(h.Type)
	buf[7] = 0 // reserved
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Timestamp))
	binary.LittleEndian.PutUint64(buf[16:24], h.Seq)
	copy(buf[24:56], h.Hash[:])
	copy(buf[56:88], h.Parent[:])
	binary.LittleEndian.PutUint32(buf[88:92], h.WorldURILen)
	binary.LittleEndian.PutUint32(buf[92:96], h.PayloadLen)
	crc := crc32.ChecksumIEEE(buf[0:96])
	binary.LittleEndian.PutUint32(buf[96:100], crc)
	return buf
}

// DecodeHeader parses a 100-byte record header and verifies its CRC-32,
// magic, and version. A checksum mismatch is reported, never silently
// repaired.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) != HeaderSize {
		return h, ewigerr.ErrInvalidInput
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return h, ewigerr.ErrInvalidInput
	}
	if buf[4] != version {
		return h, ewigerr.ErrInvalidInput
	}
	wantCRC := binary.LittleEndian.Uint32(buf[96:100])
	gotCRC := crc32.ChecksumIEEE(buf[0:96])
	if wantCRC != gotCRC {
		return h, ewigerr.ErrChecksumMismatch
	}
	h.Flags = buf[5]
	h.Type = EventType(buf[6])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[8:16]))
	h.Seq = binary.LittleEndian.Uint64(buf[16:24])
	copy(h.Hash[:], buf[24:56])
	copy(h.Parent[:], buf[56:88])
	h.WorldURILen = binary.LittleEndian.Uint32(buf[88:92])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[92:96])
	return h, nil
}
