package wireformat

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/swarmguard/ewig/internal/ewigerr"
)

// BlockType identifies the payload kind of a compaction block.
type BlockType byte

const (
	BlockData      BlockType = 1
	BlockIndex     BlockType = 2
	BlockManifest  BlockType = 3
	BlockSnapshot  BlockType = 4
)

const blockMagic = "EWIG\x00\x01"

// BlockHeaderSize is the fixed header size preceding a compaction
// block's data region.
const BlockHeaderSize = 6 + 1 + 1 + 8 + 4 + 4 + 4 + 8

// BlockHeader is the block-compaction header. Block-level compaction
// itself is declared but not exercised by a first implementation; the
// type is defined so a future compactor has a stable on-disk format to
// target.
type BlockHeader struct {
	Type       BlockType
	Flags      byte
	Seq        uint64
	EntryCount uint32
	DataOffset uint32
	DataSize   uint32
}

// Encode serializes the block header, including its checksum field:
// Encode computes the CRC-32 of dataForChecksum and stores it widened
// to 64 bits; the caller chooses which bytes to pass.
func (b BlockHeader) Encode(dataForChecksum []byte) [BlockHeaderSize]byte {
	var buf [BlockHeaderSize]byte
	copy(buf[0:6], blockMagic)
	buf[6] = byte(b.Type)
	buf[7] = b.Flags
	binary.LittleEndian.PutUint64(buf[8:16], b.Seq)
	binary.LittleEndian.PutUint32(buf[16:20], b.EntryCount)
	binary.LittleEndian.PutUint32(buf[20:24], b.DataOffset)
	binary.LittleEndian.PutUint32(buf[24:28], b.DataSize)
	checksum := uint64(crc32.ChecksumIEEE(dataForChecksum))
	binary.LittleEndian.PutUint64(buf[28:36], checksum)
	return buf
}

// DecodeBlockHeader parses a block header and returns the stored
// checksum alongside it so the caller can verify it against the block's
// data region.
func DecodeBlockHeader(buf []byte) (BlockHeader, uint64, error) {
	var b BlockHeader
	if len(buf) != BlockHeaderSize {
		return b, 0, ewigerr.ErrInvalidInput
	}
	if string(buf[0:6]) != blockMagic {
		return b, 0, ewigerr.ErrInvalidInput
	}
	b.Type = BlockType(buf[6])
	b.Flags = buf[7]
	b.Seq = binary.LittleEndian.Uint64(buf[8:16])
	b.EntryCount = binary.LittleEndian.Uint32(buf[16:20])
	b.DataOffset = binary.LittleEndian.Uint32(buf[20:24])
	b.DataSize = binary.LittleEndian.Uint32(buf[24:28])
	checksum := binary.LittleEndian.Uint64(buf[28:36])
	return b, checksum, nil
}
