package hbtrie

import (
	"encoding/binary"

	"github.com/simonzhangsm/forestdb/block"
)

// A chunk-tree leaf entry maps one chunk window (chunkSize bytes, except
// possibly shorter for the final, partial chunk of a short key) to either
// a directly-resolved (suffix, offset) pair or a pointer to a deeper
// chunk-tree (a promoted sub-trie). Keeping the suffix inline until a
// second key collides on the same chunk avoids allocating a whole extra
// B+-tree level for chunks that only ever hold one key.
type entryKind byte

const (
	kindInline  entryKind = 0 // payload: suffix + offset
	kindSubtrie entryKind = 1 // payload: child root block.ID
)

type leafEntry struct {
	chunk  []byte // this depth's window, length-prefixed on disk
	kind   entryKind
	suffix []byte // kindInline only: remaining key bytes past this chunk
	offset uint64 // kindInline only
	child  block.ID
}

// node is one block of a chunk-tree: either a leaf (holding leafEntry
// values) or an internal node (holding separator chunks and children),
// structurally parallel to btree's node but with variable-width leaf
// values, since an inline suffix can be arbitrarily long.
//
// There is deliberately no leaf-to-leaf sibling pointer: under COW, a leaf
// rewritten by a later insert gets a new block ID, and nothing revisits its
// left sibling to patch a stale pointer at split time. Iterator instead
// walks the chunk-tree top-down, keeping the whole root-to-leaf path on a
// stack, the same way btree.Cursor does.
type node struct {
	isLeaf   bool
	leaves   []leafEntry
	seps     [][]byte   // internal only, len == len(children)-1
	children []block.ID // internal only
}

func (n *node) encodedSize() int {
	size := 1 + 2 // leaf flag + count
	if n.isLeaf {
		for _, e := range n.leaves {
			size += 2 + len(e.chunk) + 1 // chunklen + chunk + kind
			if e.kind == kindInline {
				size += 2 + len(e.suffix) + 8
			} else {
				size += 8
			}
		}
	} else {
		for _, s := range n.seps {
			size += 2 + len(s)
		}
		size += 8 * len(n.children)
	}
	return size
}

func (n *node) encode() ([]byte, bool) {
	size := n.encodedSize()
	if size > block.Payload {
		return nil, false
	}
	buf := make([]byte, size)
	off := 0
	if n.isLeaf {
		buf[off] = 1
	}
	off++
	if n.isLeaf {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(n.leaves)))
		off += 2
		for _, e := range n.leaves {
			binary.BigEndian.PutUint16(buf[off:], uint16(len(e.chunk)))
			off += 2
			off += copy(buf[off:], e.chunk)
			buf[off] = byte(e.kind)
			off++
			if e.kind == kindInline {
				binary.BigEndian.PutUint16(buf[off:], uint16(len(e.suffix)))
				off += 2
				off += copy(buf[off:], e.suffix)
				binary.BigEndian.PutUint64(buf[off:], e.offset)
				off += 8
			} else {
				binary.BigEndian.PutUint64(buf[off:], uint64(e.child))
				off += 8
			}
		}
	} else {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(n.seps)))
		off += 2
		for _, s := range n.seps {
			binary.BigEndian.PutUint16(buf[off:], uint16(len(s)))
			off += 2
			off += copy(buf[off:], s)
		}
		for _, c := range n.children {
			binary.BigEndian.PutUint64(buf[off:], uint64(c))
			off += 8
		}
	}
	return buf, true
}

func decodeNode(buf []byte) *node {
	n := &node{}
	off := 0
	n.isLeaf = buf[off] == 1
	off++
	count := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if n.isLeaf {
		n.leaves = make([]leafEntry, count)
		for i := 0; i < count; i++ {
			clen := int(binary.BigEndian.Uint16(buf[off:]))
			off += 2
			e := leafEntry{chunk: append([]byte(nil), buf[off:off+clen]...)}
			off += clen
			e.kind = entryKind(buf[off])
			off++
			if e.kind == kindInline {
				slen := int(binary.BigEndian.Uint16(buf[off:]))
				off += 2
				e.suffix = append([]byte(nil), buf[off:off+slen]...)
				off += slen
				e.offset = binary.BigEndian.Uint64(buf[off:])
				off += 8
			} else {
				e.child = block.ID(binary.BigEndian.Uint64(buf[off:]))
				off += 8
			}
			n.leaves[i] = e
		}
	} else {
		n.seps = make([][]byte, count)
		for i := 0; i < count; i++ {
			slen := int(binary.BigEndian.Uint16(buf[off:]))
			off += 2
			n.seps[i] = append([]byte(nil), buf[off:off+slen]...)
			off += slen
		}
		n.children = make([]block.ID, count+1)
		for i := range n.children {
			n.children[i] = block.ID(binary.BigEndian.Uint64(buf[off:]))
			off += 8
		}
	}
	return n
}
