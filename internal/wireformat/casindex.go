package wireformat

import (
	"encoding/binary"

	"github.com/swarmguard/ewig/internal/ewigerr"
)

const casIndexMagic = "EWIG_IDX\x00\x01"

// CASIndexRecordSize is the fixed width of one CAS index record:
// hash(32) + offset(8) + size(4) + refcount(8) + stored_size(4) +
// flags(1).
const CASIndexRecordSize = HashSize + 8 + 4 + 8 + 4 + 1

// CASIndexRecord describes one stored blob in the file-backed CAS
// sidecar index. Size is the logical (post-decompression) length;
// StoredSize is the number of bytes actually occupied in data.bin,
// which differs from Size when Flags has FlagCompressed set.
type CASIndexRecord struct {
	Hash       Hash
	Offset     uint64
	Size       uint32
	Refcount   uint64
	StoredSize uint32
	Flags      byte
}

// EncodeCASIndexHeader writes the 10-byte magic followed by the record
// count.
func EncodeCASIndexHeader(count uint64) []byte {
	buf := make([]byte, len(casIndexMagic)+8)
	copy(buf, casIndexMagic)
	binary.LittleEndian.PutUint64(buf[len(casIndexMagic):], count)
	return buf
}

// DecodeCASIndexHeader parses the index header and returns the record
// count.
func DecodeCASIndexHeader(buf []byte) (uint64, error) {
	if len(buf) != len(casIndexMagic)+8 {
		return 0, ewigerr.ErrInvalidInput
	}
	if string(buf[:len(casIndexMagic)]) != casIndexMagic {
		return 0, ewigerr.ErrInvalidInput
	}
	return binary.LittleEndian.Uint64(buf[len(casIndexMagic):]), nil
}

// EncodeCASIndexRecord serializes one index record.
func EncodeCASIndexRecord(r CASIndexRecord) []byte {
	buf := make([]byte, CASIndexRecordSize)
	copy(buf[0:HashSize], r.Hash[:])
	binary.LittleEndian.PutUint64(buf[HashSize:HashSize+8], r.Offset)
	binary.LittleEndian.PutUint32(buf[HashSize+8:HashSize+12], r.Size)
	binary.LittleEndian.PutUint64(buf[HashSize+12:HashSize+20], r.Refcount)
	binary.LittleEndian.PutUint32(buf[HashSize+20:HashSize+24], r.StoredSize)
	buf[HashSize+24] = r.Flags
	return buf
}

// DecodeCASIndexRecord parses one index record.
func DecodeCASIndexRecord(buf []byte) (CASIndexRecord, error) {
	var r CASIndexRecord
	if len(buf) != CASIndexRecordSize {
		return r, ewigerr.ErrInvalidInput
	}
	copy(r.Hash[:], buf[0:HashSize])
	r.Offset = binary.LittleEndian.Uint64(buf[HashSize : HashSize+8])
	r.Size = binary.LittleEndian.Uint32(buf[HashSize+8 : HashSize+12])
	r.Refcount = binary.LittleEndian.Uint64(buf[HashSize+12 : HashSize+20])
	r.StoredSize = binary.LittleEndian.Uint32(buf[HashSize+20 : HashSize+24])
	r.Flags = buf[HashSize+24]
	return r, nil
}
