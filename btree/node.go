package btree

import (
	"encoding/binary"

	"github.com/simonzhangsm/forestdb/block"
)

// Comparator orders two keys the way bytes.Compare does: negative, zero,
// or positive as a < b, a == b, a > b.
type Comparator func(a, b []byte) int

// node is the decoded, in-memory form of one B+-tree block. Leaves hold
// (key, value) pairs; internal nodes hold separator keys and child block
// IDs. Every mutation to a node produces a brand new encoded block
// (copy-on-write, I6) — node values are never written back in place.
//
// There is deliberately no leaf-to-leaf sibling pointer: under COW, a leaf
// rewritten by a later insert gets a new block ID, and nothing revisits its
// left sibling to patch a stale pointer at split time. Range scans instead
// walk the tree top-down via Cursor, which always resolves a child by
// reading the current node's children slice rather than chasing a pointer
// recorded at some earlier point in the tree's history.
type node struct {
	leaf     bool
	keys     [][]byte
	values   []uint64   // leaf only, parallel to keys
	children []block.ID // internal only, len(children) == len(keys)+1
}

const (
	leafFlag = 1
	innerFlag = 0
)

// encode serializes n into a block payload. Returns false if it would not
// fit in one block (caller must split before encoding).
func (n *node) encode() ([]byte, bool) {
	size := n.encodedSize()
	if size > block.Payload {
		return nil, false
	}
	buf := make([]byte, size)
	off := 0
	if n.leaf {
		buf[off] = leafFlag
	} else {
		buf[off] = innerFlag
	}
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(n.keys)))
	off += 2
	for i, k := range n.keys {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(k)))
		off += 2
		off += copy(buf[off:], k)
		if n.leaf {
			binary.BigEndian.PutUint64(buf[off:], n.values[i])
			off += 8
		}
	}
	if !n.leaf {
		for _, c := range n.children {
			binary.BigEndian.PutUint64(buf[off:], uint64(c))
			off += 8
		}
	}
	return buf, true
}

func (n *node) encodedSize() int {
	size := 1 + 2 // flag + count
	for _, k := range n.keys {
		size += 2 + len(k)
		if n.leaf {
			size += 8
		}
	}
	if !n.leaf {
		size += 8 * len(n.children)
	}
	return size
}

func decodeNode(buf []byte) *node {
	n := &node{}
	off := 0
	n.leaf = buf[off] == leafFlag
	off++
	count := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	n.keys = make([][]byte, count)
	if n.leaf {
		n.values = make([]uint64, count)
	}
	for i := 0; i < count; i++ {
		klen := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		n.keys[i] = append([]byte(nil), buf[off:off+klen]...)
		off += klen
		if n.leaf {
			n.values[i] = binary.BigEndian.Uint64(buf[off:])
			off += 8
		}
	}
	if !n.leaf {
		n.children = make([]block.ID, count+1)
		for i := range n.children {
			n.children[i] = block.ID(binary.BigEndian.Uint64(buf[off:]))
			off += 8
		}
	}
	return n
}

func kindForNode() block.Kind { return block.KindIndex }
