// Package seqindex implements the sequence index (C7): a B+-tree keyed by
// 64-bit sequence numbers so GetBySeq can resolve any write (including
// tombstones) by the order it was made, independent of its key.
package seqindex

import (
	"encoding/binary"

	"github.com/simonzhangsm/forestdb/block"
	"github.com/simonzhangsm/forestdb/btree"
)

// Index wraps a btree.Tree with fixed 8-byte big-endian keys so
// lexicographic byte comparison equals numeric sequence order.
type Index struct {
	tree *btree.Tree
	root block.ID
}

// New wraps cache as a sequence index rooted at root (block.NotFound for a
// fresh, empty index).
func New(cache *block.Cache, root block.ID) *Index {
	return &Index{tree: btree.New(cache, nil), root: root}
}

// Root returns the current root block ID, for committing into a superblock.
func (ix *Index) Root() block.ID { return ix.root }

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

// Put records that sequence number seq resolves to offset (a docio
// offset). Called for every WAL flush entry, live or tombstone, so GetBySeq
// can resolve deleted sequence numbers too (I2).
func (ix *Index) Put(seq uint64, offset uint64) error {
	newRoot, err := ix.tree.Insert(ix.root, seqKey(seq), offset)
	if err != nil {
		return err
	}
	ix.root = newRoot
	return nil
}

// Get resolves seq to a docio offset.
func (ix *Index) Get(seq uint64) (uint64, bool, error) {
	return ix.tree.Find(ix.root, seqKey(seq))
}

// Iterator ranges over [from, to) in sequence order.
type Iterator struct {
	cur *btree.Cursor
	to  uint64
	has bool
}

// Iter returns an iterator over sequence numbers >= from and < to (to == 0
// meaning unbounded).
func (ix *Index) Iter(from, to uint64) (*Iterator, error) {
	c, err := ix.tree.SeekGE(ix.root, seqKey(from))
	if err != nil {
		return nil, err
	}
	return &Iterator{cur: c, to: to, has: to > 0}, nil
}

// Next returns the next (seq, offset) pair in the range, or ok=false when
// exhausted.
func (it *Iterator) Next() (seq uint64, offset uint64, ok bool, err error) {
	k, v, ok, err := it.cur.Next()
	if err != nil || !ok {
		return 0, 0, false, err
	}
	seq = binary.BigEndian.Uint64(k)
	if it.has && seq >= it.to {
		return 0, 0, false, nil
	}
	return seq, v, true, nil
}
