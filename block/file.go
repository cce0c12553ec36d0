package block

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// File is the block-addressable view of one on-disk engine file (C1). It
// owns the underlying descriptor and the block allocator (C3); the buffer
// cache (Cache) sits in front of it.
type File struct {
	path     string
	f        *os.File
	readOnly bool
	lock     *FileLock

	mu      sync.Mutex // serializes append/size-extension
	nextID  atomic.Uint64
	blkSeq  atomic.Uint64
}

// Open opens or creates path as a block file. A freshly created file has
// zero blocks; readOnly files never take the advisory lock since they do
// not contend for writer exclusivity.
func Open(path string, readOnly bool) (*File, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("block: open %q: %w", path, err)
	}

	var lk *FileLock
	if !readOnly {
		lk, err = LockFile(path)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		if lk != nil {
			lk.Unlock()
		}
		return nil, fmt.Errorf("block: stat %q: %w", path, err)
	}

	bf := &File{path: path, f: f, readOnly: readOnly, lock: lk}
	bf.nextID.Store(uint64(info.Size() / Size))
	return bf, nil
}

func (bf *File) Path() string { return bf.path }

// NumBlocks returns the number of blocks currently allocated in the file.
func (bf *File) NumBlocks() ID { return ID(bf.nextID.Load()) }

// ReadBlock reads and CRC-verifies the block at id, returning its payload.
func (bf *File) ReadBlock(id ID) ([]byte, error) {
	buf := make([]byte, Size)
	n, err := bf.f.ReadAt(buf, int64(id)*Size)
	if err != nil && n != Size {
		return nil, fmt.Errorf("block: read %d: %w", id, err)
	}
	t := decodeTrailer(buf[Payload:])
	if checksum(buf) != t.crc {
		return nil, fmt.Errorf("block: read %d: %w", id, ErrChecksum)
	}
	return buf[:Payload], nil
}

// ReadBlockLoose reads a block and reports its kind and whether its CRC
// verified, without treating a bad CRC as an error. Used only by the
// backward recovery scan, where a bad CRC is an expected signal ("this is
// part of a torn tail"), not a caller-facing error.
func (bf *File) ReadBlockLoose(id ID) (payload []byte, kind Kind, valid bool, err error) {
	buf := make([]byte, Size)
	n, err := bf.f.ReadAt(buf, int64(id)*Size)
	if err != nil && n != Size {
		return nil, 0, false, err
	}
	t := decodeTrailer(buf[Payload:])
	valid = checksum(buf) == t.crc
	return buf[:Payload], t.kind, valid, nil
}

// WriteBlock writes payload (and chain/kind metadata) to an existing block
// id. Used by copy-on-write structures only to write a block that was just
// allocated by this same transaction — never to mutate a block reachable
// from an older superblock (I6).
func (bf *File) WriteBlock(id ID, kind Kind, nextID ID, payload []byte) error {
	if bf.readOnly {
		return fmt.Errorf("block: write %d: %w", id, os.ErrPermission)
	}
	if len(payload) > Payload {
		return fmt.Errorf("block: payload too large (%d > %d)", len(payload), Payload)
	}
	buf := make([]byte, Size)
	copy(buf, payload)
	t := trailer{kind: kind, nextID: nextID, seq: bf.blkSeq.Add(1)}
	encodeTrailer(buf[Payload:], t)
	t.crc = checksum(buf)
	encodeTrailer(buf[Payload:], t)
	_, err := bf.f.WriteAt(buf, int64(id)*Size)
	if err != nil {
		return fmt.Errorf("block: write %d: %w", id, err)
	}
	return nil
}

// Alloc reserves and returns the next block ID. Allocation is a monotonic
// counter; there is no free list, matching the spec's "reclaim only via
// compaction" policy.
func (bf *File) Alloc() ID {
	return ID(bf.nextID.Add(1) - 1)
}

// AppendBlock allocates a new block and writes payload into it in one step.
func (bf *File) AppendBlock(kind Kind, nextID ID, payload []byte) (ID, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	id := bf.Alloc()
	if err := bf.WriteBlock(id, kind, nextID, payload); err != nil {
		return NotFound, err
	}
	return id, nil
}

func (bf *File) Sync() error {
	if bf.readOnly {
		return nil
	}
	return bf.f.Sync()
}

func (bf *File) Close() error {
	err := bf.f.Close()
	if bf.lock != nil {
		bf.lock.Unlock()
	}
	return err
}
