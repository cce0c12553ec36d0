// Package block implements the fixed-size, CRC-verified block layer the
// rest of the engine is built on: block I/O (C1), the buffer cache (C2),
// and the block allocator (C3).
package block

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ID identifies a block by its position in the file (file offset ==
// ID * Size).
type ID uint64

// NotFound is the sentinel ID/offset meaning "no such block/record".
const NotFound = ID(^uint64(0))

// Kind tags what a block holds, so recovery can tell a superblock from a
// data or index block without consulting anything else.
type Kind byte

const (
	KindFree Kind = iota
	KindData
	KindIndex
	KindSuperblock
)

const (
	// Size is the fixed block size. Chosen to match common filesystem page
	// granularity, same assumption the teacher codebase makes for its pages.
	Size = 4096

	trailerSize = 22 // kind(1) + flags(1) + nextBID(8) + seq(8) + crc(4)

	// Payload is the usable byte count per block once the trailer is
	// reserved.
	Payload = Size - trailerSize
)

var ErrChecksum = errors.New("block: checksum mismatch")

// trailer is the fixed-layout metadata stored at the tail of every block.
type trailer struct {
	kind   Kind
	flags  byte
	nextID ID
	seq    uint64
	crc    uint32
}

func encodeTrailer(buf []byte, t trailer) {
	buf[0] = byte(t.kind)
	buf[1] = t.flags
	binary.BigEndian.PutUint64(buf[2:10], uint64(t.nextID))
	binary.BigEndian.PutUint64(buf[10:18], t.seq)
	binary.BigEndian.PutUint32(buf[18:22], t.crc)
}

func decodeTrailer(buf []byte) trailer {
	return trailer{
		kind:   Kind(buf[0]),
		flags:  buf[1],
		nextID: ID(binary.BigEndian.Uint64(buf[2:10])),
		seq:    binary.BigEndian.Uint64(buf[10:18]),
		crc:    binary.BigEndian.Uint32(buf[18:22]),
	}
}

// checksum computes the CRC32 (IEEE) over the payload plus every trailer
// field except the CRC itself.
func checksum(block []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(block[:Size-4])
	return h.Sum32()
}
