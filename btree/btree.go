// Package btree implements the copy-on-write B+-tree (C4) that both the
// HB+-trie's chunk trees and the sequence index are built from. Every
// mutating operation returns a new root block ID; the blocks reachable
// from a prior root are left untouched, so a reader pinned to that root
// keeps seeing a consistent snapshot (I6).
package btree

import (
	"bytes"
	"fmt"

	"github.com/simonzhangsm/forestdb/block"
)

// Tree is a handle onto one B+-tree rooted at a given block ID. Tree
// values are cheap and stateless beyond the cache/comparator reference;
// callers thread the current root ID themselves (typically held by the
// owning index/handle) since every mutation produces a new one.
type Tree struct {
	cache *block.Cache
	cmp   Comparator
}

// New returns a Tree bound to cache, ordering keys with cmp (bytes.Compare
// if cmp is nil).
func New(cache *block.Cache, cmp Comparator) *Tree {
	if cmp == nil {
		cmp = bytes.Compare
	}
	return &Tree{cache: cache, cmp: cmp}
}

func (t *Tree) load(id block.ID) (*node, error) {
	payload, _, _, err := t.cache.Get(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(payload), nil
}

func (t *Tree) write(n *node) (block.ID, error) {
	payload, ok := n.encode()
	if !ok {
		return block.NotFound, fmt.Errorf("btree: node too large to fit in one block")
	}
	return t.cache.Append(kindForNode(), block.NotFound, payload)
}

// Find looks up key starting from root.
func (t *Tree) Find(root block.ID, key []byte) (uint64, bool, error) {
	id := root
	for id != block.NotFound {
		n, err := t.load(id)
		if err != nil {
			return 0, false, err
		}
		if n.leaf {
			i := t.search(n.keys, key)
			if i < len(n.keys) && t.cmp(n.keys[i], key) == 0 {
				return n.values[i], true, nil
			}
			return 0, false, nil
		}
		i := t.childIndex(n.keys, key)
		// i is the index of the first separator > key; children[i] covers it
		id = n.children[i]
	}
	return 0, false, nil
}

// search returns the index of the first key >= target (lower bound).
func (t *Tree) search(keys [][]byte, target []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(keys[mid], target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndex returns the index of the first separator > target. A
// separator is the smallest key of the child to its right, so a key equal
// to a separator belongs to that right child.
func (t *Tree) childIndex(seps [][]byte, target []byte) int {
	i := t.search(seps, target)
	if i < len(seps) && t.cmp(seps[i], target) == 0 {
		i++
	}
	return i
}

// Insert writes (key, value), replacing any existing value for key, and
// returns the new root.
func (t *Tree) Insert(root block.ID, key []byte, value uint64) (block.ID, error) {
	newID, splitKey, splitRight, err := t.insertRec(root, key, value)
	if err != nil {
		return block.NotFound, err
	}
	if splitRight == block.NotFound {
		return newID, nil
	}
	// root split: new root is an internal node with two children
	n := &node{
		leaf:     false,
		keys:     [][]byte{splitKey},
		children: []block.ID{newID, splitRight},
	}
	return t.write(n)
}

// insertRec inserts into the subtree at id, returning the (possibly new)
// node ID for that subtree and, if it had to split, the separator key and
// sibling ID to be linked in by the caller.
func (t *Tree) insertRec(id block.ID, key []byte, value uint64) (block.ID, []byte, block.ID, error) {
	if id == block.NotFound {
		n := &node{leaf: true, keys: [][]byte{key}, values: []uint64{value}}
		newID, err := t.write(n)
		return newID, nil, block.NotFound, err
	}

	n, err := t.load(id)
	if err != nil {
		return block.NotFound, nil, block.NotFound, err
	}

	if n.leaf {
		i := t.search(n.keys, key)
		if i < len(n.keys) && t.cmp(n.keys[i], key) == 0 {
			n.values[i] = value
		} else {
			n.keys = insertAt(n.keys, i, key)
			n.values = insertValAt(n.values, i, value)
		}
		return t.splitLeafIfNeeded(n)
	}

	i := t.childIndex(n.keys, key)
	childID := n.children[i]
	newChildID, splitKey, splitRight, err := t.insertRec(childID, key, value)
	if err != nil {
		return block.NotFound, nil, block.NotFound, err
	}
	n.children[i] = newChildID
	if splitRight != block.NotFound {
		n.keys = insertAt(n.keys, i, splitKey)
		n.children = insertChildAt(n.children, i+1, splitRight)
	}
	return t.splitInternalIfNeeded(n)
}

func (t *Tree) splitLeafIfNeeded(n *node) (block.ID, []byte, block.ID, error) {
	if _, ok := n.encode(); ok {
		id, err := t.write(n)
		return id, nil, block.NotFound, err
	}
	mid := len(n.keys) / 2
	left := &node{leaf: true, keys: n.keys[:mid], values: n.values[:mid]}
	right := &node{leaf: true, keys: n.keys[mid:], values: n.values[mid:]}
	rightID, err := t.write(right)
	if err != nil {
		return block.NotFound, nil, block.NotFound, err
	}
	leftID, err := t.write(left)
	if err != nil {
		return block.NotFound, nil, block.NotFound, err
	}
	return leftID, right.keys[0], rightID, nil
}

func (t *Tree) splitInternalIfNeeded(n *node) (block.ID, []byte, block.ID, error) {
	if _, ok := n.encode(); ok {
		id, err := t.write(n)
		return id, nil, block.NotFound, err
	}
	mid := len(n.keys) / 2
	upKey := n.keys[mid]
	left := &node{leaf: false, keys: n.keys[:mid], children: n.children[:mid+1]}
	right := &node{leaf: false, keys: n.keys[mid+1:], children: n.children[mid+1:]}
	leftID, err := t.write(left)
	if err != nil {
		return block.NotFound, nil, block.NotFound, err
	}
	rightID, err := t.write(right)
	if err != nil {
		return block.NotFound, nil, block.NotFound, err
	}
	return leftID, upKey, rightID, nil
}

// Remove deletes key if present and returns the new root along with
// whether key was actually found and removed. Underfull nodes are left in
// place rather than merged/redistributed — the same choice the teacher's
// btree makes — and are only reclaimed by compaction.
func (t *Tree) Remove(root block.ID, key []byte) (block.ID, bool, error) {
	return t.removeRec(root, key)
}

func (t *Tree) removeRec(id block.ID, key []byte) (block.ID, bool, error) {
	if id == block.NotFound {
		return block.NotFound, false, nil
	}
	n, err := t.load(id)
	if err != nil {
		return block.NotFound, false, err
	}
	if n.leaf {
		i := t.search(n.keys, key)
		if i >= len(n.keys) || t.cmp(n.keys[i], key) != 0 {
			return id, false, nil // not present; node unchanged, no new block needed
		}
		n.keys = append(n.keys[:i:i], n.keys[i+1:]...)
		n.values = append(n.values[:i:i], n.values[i+1:]...)
		newID, err := t.write(n)
		return newID, true, err
	}
	i := t.childIndex(n.keys, key)
	newChildID, found, err := t.removeRec(n.children[i], key)
	if err != nil {
		return block.NotFound, false, err
	}
	if !found {
		return id, false, nil
	}
	n.children[i] = newChildID
	newID, err := t.write(n)
	return newID, true, err
}

// SeekGE positions a cursor at the first key >= key (or at end, if none).
// The cursor holds the full root-to-leaf path, not just the leaf itself,
// so Next can resume an in-order walk by popping back up to the parent and
// descending into the next child rather than following a leaf's on-disk
// sibling pointer, which would go stale across a COW rewrite of that
// sibling (see node.go).
func (t *Tree) SeekGE(root block.ID, key []byte) (*Cursor, error) {
	c := &Cursor{t: t}
	id := root
	for id != block.NotFound {
		n, err := t.load(id)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			i := t.search(n.keys, key)
			c.stack = append(c.stack, cursorFrame{n: n, idx: i})
			return c, nil
		}
		i := t.search(n.keys, key)
		c.stack = append(c.stack, cursorFrame{n: n, idx: i + 1})
		id = n.children[i]
	}
	return c, nil
}

// insertAt/insertValAt/insertChildAt splice a value into a slice at index i.
func insertAt(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertValAt(s []uint64, i int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertChildAt(s []block.ID, i int, v block.ID) []block.ID {
	s = append(s, block.NotFound)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
