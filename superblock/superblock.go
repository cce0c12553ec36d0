// Package superblock implements the commit/recovery protocol (C10):
// encoding the durable commit marker and scanning the log tail on open to
// find the most recent valid one.
package superblock

import (
	"encoding/binary"
	"fmt"

	"github.com/simonzhangsm/forestdb/block"
)

// Magic identifies an engine file; FormatVersion gates incompatible
// on-disk layouts.
var Magic = [4]byte{'F', 'D', 'B', '1'}

const FormatVersion = 1

// Superblock is the durable commit marker. Superblocks form a
// back-linked chain via PrevID; the most recently written, CRC-valid one
// defines the committed state of the file (I5).
type Superblock struct {
	ID            block.ID // this superblock's own block ID, filled in after writing
	PrevID        block.ID // block.NotFound for the first superblock in a file
	PrimaryRoot   block.ID // HB+-trie root, block.NotFound if empty
	SeqRoot       block.ID // sequence index root, block.NotFound if empty/disabled
	NextSeqnum    uint64
	NDocs         uint64 // total records ever written (incl. tombstones still live in index)
	NLiveDocs     uint64 // non-tombstone records reachable from PrimaryRoot
	CompactedTo   string // set once a compaction from this file has completed
}

func (s *Superblock) encode() []byte {
	pathBytes := []byte(s.CompactedTo)
	size := 4 + 2 + 8*6 + 2 + len(pathBytes)
	buf := make([]byte, size)
	off := 0
	copy(buf[off:], Magic[:])
	off += 4
	binary.BigEndian.PutUint16(buf[off:], FormatVersion)
	off += 2
	binary.BigEndian.PutUint64(buf[off:], uint64(s.PrevID))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(s.PrimaryRoot))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(s.SeqRoot))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], s.NextSeqnum)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], s.NDocs)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], s.NLiveDocs)
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(pathBytes)))
	off += 2
	copy(buf[off:], pathBytes)
	return buf
}

func decode(buf []byte) (*Superblock, bool) {
	if len(buf) < 4+2+8*6+2 {
		return nil, false
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return nil, false
	}
	off := 4
	version := binary.BigEndian.Uint16(buf[off:])
	off += 2
	if version != FormatVersion {
		return nil, false
	}
	s := &Superblock{}
	s.PrevID = block.ID(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	s.PrimaryRoot = block.ID(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	s.SeqRoot = block.ID(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	s.NextSeqnum = binary.BigEndian.Uint64(buf[off:])
	off += 8
	s.NDocs = binary.BigEndian.Uint64(buf[off:])
	off += 8
	s.NLiveDocs = binary.BigEndian.Uint64(buf[off:])
	off += 8
	plen := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if off+plen > len(buf) {
		return nil, false
	}
	s.CompactedTo = string(buf[off : off+plen])
	return s, true
}

// Write appends s as a new superblock block, linking it to the previous
// one via s.PrevID (caller sets this before calling Write). Returns the
// new superblock's own ID.
func Write(cache *block.Cache, s *Superblock) (block.ID, error) {
	payload := s.encode()
	if len(payload) > block.Payload {
		return block.NotFound, fmt.Errorf("superblock: encoded form too large")
	}
	id, err := cache.Append(block.KindSuperblock, s.PrevID, payload)
	if err != nil {
		return block.NotFound, err
	}
	s.ID = id
	return id, nil
}

// Recover scans backward from the end of the file for the newest
// CRC-valid, correctly-tagged superblock. It tolerates (and ignores) a
// torn tail: any blocks written after the last successful commit that
// never got their CRC finalized, or that are mid-write garbage, simply
// fail validation and scanning continues further back. Returns
// (nil, false, nil) for a fresh, empty file.
func Recover(f *block.File) (*Superblock, bool, error) {
	n := f.NumBlocks()
	if n == 0 {
		return nil, false, nil
	}
	for i := int64(n) - 1; i >= 0; i-- {
		id := block.ID(i)
		payload, kind, valid, err := f.ReadBlockLoose(id)
		if err != nil {
			return nil, false, err
		}
		if !valid || kind != block.KindSuperblock {
			continue // torn, corrupt, or not a commit point; keep scanning backward
		}
		s, ok := decode(payload)
		if !ok {
			continue
		}
		s.ID = id
		return s, true, nil
	}
	return nil, false, nil
}
