// Package walbuf implements the write-ahead buffer (C8): an in-memory,
// per-file staging area that absorbs recent writes before they are applied
// to the persistent HB+-trie and sequence index. It is not a physical
// redo log — nothing here is written to disk. Entries still sitting in the
// buffer are not durable: their log records were appended by docio, but
// recovery adopts the last superblock and does not replay records written
// after it, so only a Commit (which flushes the buffer) makes them durable.
package walbuf

import (
	"bytes"
)

// Comparator orders keys; nil means bytes.Compare.
type Comparator func(a, b []byte) int

// Entry is the buffer's view of the newest write for a key not yet
// reflected in the persistent indexes.
type Entry struct {
	Key    []byte
	Offset uint64
	Seqnum uint64
	Flags  uint8
}

type node struct {
	entry      Entry
	prev, next *node
}

// Buffer is an insertion-ordered (not key-ordered) in-memory map used as
// the engine's WAL. Insertion order is tracked via a doubly-linked list —
// the same bookkeeping shape as the teacher's LRU cache, repurposed from
// recency order to write order: pushBack replaces pushFront, and there is
// no move-to-front on lookup since WAL order is write order, not access
// order.
type Buffer struct {
	cmp        Comparator
	index      map[string]*node
	head, tail *node // head = oldest, tail = newest
}

// New returns an empty WAL buffer ordering keys with cmp (bytes.Compare if
// nil — note the comparator here only affects equality for map-key
// purposes, which already use exact byte equality; cmp is retained for
// symmetry with the rest of the engine's pluggable-comparator surface).
func New(cmp Comparator) *Buffer {
	if cmp == nil {
		cmp = bytes.Compare
	}
	return &Buffer{cmp: cmp, index: make(map[string]*node)}
}

// Len returns the number of distinct keys currently buffered.
func (b *Buffer) Len() int { return len(b.index) }

// Insert records the newest (offset, seqnum, flags) for key, replacing any
// prior buffered entry for the same key in place (insertion position is
// NOT moved — a supersede keeps the original write-order slot, since what
// the WAL orders is "time since last flush", not "recency of last touch").
func (b *Buffer) Insert(key []byte, offset, seqnum uint64, flags uint8) {
	k := string(key)
	if n, ok := b.index[k]; ok {
		n.entry.Offset = offset
		n.entry.Seqnum = seqnum
		n.entry.Flags = flags
		return
	}
	n := &node{entry: Entry{Key: append([]byte(nil), key...), Offset: offset, Seqnum: seqnum, Flags: flags}}
	b.index[k] = n
	b.pushBack(n)
}

// Lookup returns the buffered entry for key, if any — this is the WAL
// shadowing step a Get performs before falling through to the persistent
// index (I4).
func (b *Buffer) Lookup(key []byte) (Entry, bool) {
	n, ok := b.index[string(key)]
	if !ok {
		return Entry{}, false
	}
	return n.entry, true
}

func (b *Buffer) pushBack(n *node) {
	n.prev, n.next = b.tail, nil
	if b.tail != nil {
		b.tail.next = n
	} else {
		b.head = n
	}
	b.tail = n
}

// Entries returns every buffered entry in insertion order.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, 0, len(b.index))
	for n := b.head; n != nil; n = n.next {
		out = append(out, n.entry)
	}
	return out
}

// Clear empties the buffer, typically called right after a successful
// Flush.
func (b *Buffer) Clear() {
	b.index = make(map[string]*node)
	b.head, b.tail = nil, nil
}
