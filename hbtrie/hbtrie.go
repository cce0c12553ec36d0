// Package hbtrie implements the HB+-trie (C5): the engine's primary index,
// a tree of B+-trees ("chunk-trees") sharded by fixed-size windows of the
// key. A chunk-tree leaf holds either the key's remaining suffix inline
// (the common case — one key per chunk value) or, once a second key
// collides on the same chunk, a pointer promoting that chunk to its own
// deeper chunk-tree.
package hbtrie

import (
	"bytes"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/simonzhangsm/forestdb/block"
	"github.com/zeebo/xxh3"
)

// Comparator orders two full keys. When set, it overrides lexicographic
// order for the trie's iteration; chunk dispatch itself still proceeds by
// raw byte windows; a custom comparator is most useful for keys with an
// encoded sort order that already agrees with byte order over the chunk
// boundaries it cares about.
type Comparator func(a, b []byte) int

// DefaultChunkSize is the width, in bytes, of each dispatch window.
const DefaultChunkSize = 8

// Trie is one HB+-trie, identified by its root chunk-tree's block ID.
type Trie struct {
	cache     *block.Cache
	cmp       Comparator
	chunkSize int
	root      block.ID
	bloom     *bloom.BloomFilter
	count     uint
}

// New wraps cache as an HB+-trie rooted at root (block.NotFound for a
// fresh, empty trie). estimatedEntries sizes the accompanying bloom
// filter; pass 0 for a reasonable default.
//
// If root is not block.NotFound, New is reopening an existing, already
// populated trie. bloom.Add is only ever called from Insert, so a freshly
// allocated filter would have no bits set for any of the keys already on
// disk and Find's bloom check would then report every one of them absent
// (a false negative, which Find is not allowed to produce — see Find).
// New closes that gap by walking the whole trie once up front and
// replaying every key it finds into the new filter, the same traversal
// Iterator uses for a full scan.
func New(cache *block.Cache, cmp Comparator, chunkSize int, root block.ID, estimatedEntries uint) *Trie {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if cmp == nil {
		cmp = bytes.Compare
	}
	if estimatedEntries == 0 {
		estimatedEntries = 1024
	}
	t := &Trie{
		cache:     cache,
		cmp:       cmp,
		chunkSize: chunkSize,
		root:      root,
		bloom:     bloom.NewWithEstimates(estimatedEntries, 0.01),
	}
	if root != block.NotFound {
		t.rebuildBloom()
	}
	return t
}

// rebuildBloom repopulates the bloom filter by scanning every key
// currently reachable from t.root. Called once, from New, when reopening
// a non-empty trie.
func (t *Trie) rebuildBloom() {
	it, err := t.Iterator(nil, nil)
	if err != nil {
		return
	}
	for {
		key, _, ok, err := it.Next()
		if err != nil || !ok {
			return
		}
		t.bloom.Add(bloomKey(key))
	}
}

// Root returns the current root block ID, for committing into a superblock.
func (t *Trie) Root() block.ID { return t.root }

func bloomKey(key []byte) []byte {
	h := xxh3.Hash(key)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * i))
	}
	return b[:]
}

func (t *Trie) chunkAt(rem []byte) (chunk, after []byte) {
	n := t.chunkSize
	if n > len(rem) {
		n = len(rem)
	}
	return rem[:n], rem[n:]
}

func (t *Trie) load(id block.ID) (*node, error) {
	payload, _, _, err := t.cache.Get(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(payload), nil
}

func (t *Trie) write(n *node) (block.ID, error) {
	payload, ok := n.encode()
	if !ok {
		return block.NotFound, fmt.Errorf("hbtrie: node too large to fit in one block")
	}
	return t.cache.Append(block.KindIndex, block.NotFound, payload)
}

// searchLeaf returns the index of the first leaf entry whose chunk is >=
// target (lower bound), using t.cmp over the raw chunk bytes.
func (t *Trie) searchLeaf(leaves []leafEntry, target []byte) int {
	lo, hi := 0, len(leaves)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(leaves[mid].chunk, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// searchInner returns the index of the first separator > target. A
// separator is the first chunk of the child to its right, so a chunk equal
// to a separator belongs to that right child.
func (t *Trie) searchInner(seps [][]byte, target []byte) int {
	lo, hi := 0, len(seps)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(seps[mid], target) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Insert writes (key, offset), replacing any existing value, and updates
// the trie's bloom filter.
func (t *Trie) Insert(key []byte, offset uint64) error {
	newRoot, err := t.insertAt(t.root, key, offset)
	if err != nil {
		return err
	}
	t.root = newRoot
	t.bloom.Add(bloomKey(key))
	t.count++
	return nil
}

func (t *Trie) insertAt(id block.ID, rem []byte, offset uint64) (block.ID, error) {
	chunk, after := t.chunkAt(rem)
	if id == block.NotFound {
		n := &node{isLeaf: true, leaves: []leafEntry{
			{chunk: chunk, kind: kindInline, suffix: after, offset: offset},
		}}
		return t.write(n)
	}
	n, err := t.load(id)
	if err != nil {
		return block.NotFound, err
	}
	if !n.isLeaf {
		i := t.searchInner(n.seps, chunk)
		newChild, err := t.insertAt(n.children[i], rem, offset)
		if err != nil {
			return block.NotFound, err
		}
		n.children[i] = newChild
		return t.writeOrSplitInner(n)
	}

	i := t.searchLeaf(n.leaves, chunk)
	if i < len(n.leaves) && t.cmp(n.leaves[i].chunk, chunk) == 0 {
		e := &n.leaves[i]
		switch e.kind {
		case kindSubtrie:
			newChild, err := t.insertAt(e.child, after, offset)
			if err != nil {
				return block.NotFound, err
			}
			e.child = newChild
		case kindInline:
			if bytes.Equal(e.suffix, after) {
				e.offset = offset
				break
			}
			// collision: promote this chunk to its own deeper chunk-tree
			// holding both the existing and the new key.
			childRoot, err := t.insertAt(block.NotFound, e.suffix, e.offset)
			if err != nil {
				return block.NotFound, err
			}
			childRoot, err = t.insertAt(childRoot, after, offset)
			if err != nil {
				return block.NotFound, err
			}
			*e = leafEntry{chunk: chunk, kind: kindSubtrie, child: childRoot}
		}
		return t.writeOrSplitLeaf(n)
	}

	n.leaves = insertLeafAt(n.leaves, i, leafEntry{chunk: chunk, kind: kindInline, suffix: after, offset: offset})
	return t.writeOrSplitLeaf(n)
}

func (t *Trie) writeOrSplitLeaf(n *node) (block.ID, error) {
	if _, ok := n.encode(); ok {
		return t.write(n)
	}
	mid := len(n.leaves) / 2
	left := &node{isLeaf: true, leaves: n.leaves[:mid]}
	right := &node{isLeaf: true, leaves: n.leaves[mid:]}
	rightID, err := t.write(right)
	if err != nil {
		return block.NotFound, err
	}
	leftID, err := t.write(left)
	if err != nil {
		return block.NotFound, err
	}
	wrapper := &node{isLeaf: false, seps: [][]byte{right.leaves[0].chunk}, children: []block.ID{leftID, rightID}}
	return t.write(wrapper)
}

func (t *Trie) writeOrSplitInner(n *node) (block.ID, error) {
	if _, ok := n.encode(); ok {
		return t.write(n)
	}
	mid := len(n.seps) / 2
	upSep := n.seps[mid]
	left := &node{isLeaf: false, seps: n.seps[:mid], children: n.children[:mid+1]}
	right := &node{isLeaf: false, seps: n.seps[mid+1:], children: n.children[mid+1:]}
	leftID, err := t.write(left)
	if err != nil {
		return block.NotFound, err
	}
	rightID, err := t.write(right)
	if err != nil {
		return block.NotFound, err
	}
	wrapper := &node{isLeaf: false, seps: [][]byte{upSep}, children: []block.ID{leftID, rightID}}
	return t.write(wrapper)
}

func insertLeafAt(s []leafEntry, i int, v leafEntry) []leafEntry {
	s = append(s, leafEntry{})
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// Find resolves key to a doc offset. The bloom filter is consulted first;
// a miss there skips the chunk-tree descent entirely, since it can only
// produce false positives, never false negatives — every key that has ever
// been Inserted is reflected in it, including keys from before the trie
// was last reopened (see New's bloom-rebuild note).
func (t *Trie) Find(key []byte) (uint64, bool, error) {
	if !t.bloom.Test(bloomKey(key)) {
		return 0, false, nil
	}
	return t.findAt(t.root, key)
}

func (t *Trie) findAt(id block.ID, rem []byte) (uint64, bool, error) {
	if id == block.NotFound {
		return 0, false, nil
	}
	chunk, after := t.chunkAt(rem)
	n, err := t.load(id)
	if err != nil {
		return 0, false, err
	}
	if !n.isLeaf {
		i := t.searchInner(n.seps, chunk)
		return t.findAt(n.children[i], rem)
	}
	i := t.searchLeaf(n.leaves, chunk)
	if i >= len(n.leaves) || t.cmp(n.leaves[i].chunk, chunk) != 0 {
		return 0, false, nil
	}
	e := n.leaves[i]
	switch e.kind {
	case kindInline:
		if bytes.Equal(e.suffix, after) {
			return e.offset, true, nil
		}
		return 0, false, nil
	default:
		return t.findAt(e.child, after)
	}
}

// Remove deletes key if present and reports whether it was actually found
// and removed. When a promoted sub-trie shrinks back to exactly one
// entry, it is demoted to an inline entry in its parent, matching the
// teacher's dynamic promotion/demotion philosophy (shrink a structure back
// down once it no longer earns its keep).
func (t *Trie) Remove(key []byte) (bool, error) {
	newRoot, removed, err := t.removeAt(t.root, key)
	if err != nil {
		return false, err
	}
	t.root = newRoot
	return removed, nil
}

func (t *Trie) removeAt(id block.ID, rem []byte) (block.ID, bool, error) {
	if id == block.NotFound {
		return block.NotFound, false, nil
	}
	chunk, after := t.chunkAt(rem)
	n, err := t.load(id)
	if err != nil {
		return block.NotFound, false, err
	}
	if !n.isLeaf {
		i := t.searchInner(n.seps, chunk)
		newChild, removed, err := t.removeAt(n.children[i], rem)
		if err != nil || !removed {
			return id, removed, err
		}
		n.children[i] = newChild
		newID, err := t.write(n)
		return newID, true, err
	}

	i := t.searchLeaf(n.leaves, chunk)
	if i >= len(n.leaves) || t.cmp(n.leaves[i].chunk, chunk) != 0 {
		return id, false, nil
	}
	e := &n.leaves[i]
	switch e.kind {
	case kindInline:
		if !bytes.Equal(e.suffix, after) {
			return id, false, nil
		}
		n.leaves = append(n.leaves[:i:i], n.leaves[i+1:]...)
	case kindSubtrie:
		newChild, removed, err := t.removeAt(e.child, after)
		if err != nil || !removed {
			return id, removed, err
		}
		if demoted, ok, derr := t.demoteIfSingleton(newChild); derr == nil && ok {
			// demoted.chunk is itself a chunk of the bytes past e's chunk, so
			// the suffix inlined here must be demoted.chunk + demoted.suffix,
			// not demoted.suffix alone, or the reconstructed key would be
			// short by exactly len(demoted.chunk) bytes.
			full := append(append([]byte(nil), demoted.chunk...), demoted.suffix...)
			n.leaves[i] = leafEntry{chunk: e.chunk, kind: kindInline, suffix: full, offset: demoted.offset}
		} else if derr != nil {
			return block.NotFound, false, derr
		} else {
			e.child = newChild
		}
	}
	newID, err := t.write(n)
	return newID, true, err
}

// demoteIfSingleton checks whether the sub-trie at id has collapsed to
// exactly one leaf entry and, if so, returns it for inlining by the caller.
func (t *Trie) demoteIfSingleton(id block.ID) (leafEntry, bool, error) {
	if id == block.NotFound {
		return leafEntry{}, false, nil
	}
	n, err := t.load(id)
	if err != nil {
		return leafEntry{}, false, err
	}
	if n.isLeaf && len(n.leaves) == 1 && n.leaves[0].kind == kindInline {
		return n.leaves[0], true, nil
	}
	return leafEntry{}, false, nil
}

// Iterator ranges over the trie's (key, offset) pairs in key order. It
// keeps the whole root-to-leaf path of the chunk-tree it is currently
// inside on a stack and recurses into any promoted sub-tries it
// encounters, reconstructing full keys by prefix concatenation.
//
// There is no leaf-to-leaf sibling pointer to chase here (see node.go):
// when a leaf is exhausted, Next pops back up to the nearest ancestor with
// an unvisited child and descends into it fresh, the same top-down walk
// btree.Cursor uses, which always resolves a child via the ancestor's
// current encoded children rather than a pointer recorded at split time.
type Iterator struct {
	t     *Trie
	stack []iterFrame
	from  []byte
	to    []byte
	hasTo bool
}

type iterFrame struct {
	n      *node
	idx    int
	prefix []byte
}

// Iterator returns an iterator over [from, to) in key order (to == nil
// meaning unbounded).
func (t *Trie) Iterator(from, to []byte) (*Iterator, error) {
	it := &Iterator{t: t, from: from, to: to, hasTo: to != nil}
	if t.root == block.NotFound {
		return it, nil
	}
	if err := it.descend(t.root, nil); err != nil {
		return nil, err
	}
	return it, nil
}

// descend pushes frames from id down to its leftmost leaf, inclusive,
// each tagged with prefix (the key bytes already consumed by the chunk-
// trees above this one).
func (it *Iterator) descend(id block.ID, prefix []byte) error {
	for {
		n, err := it.t.load(id)
		if err != nil {
			return err
		}
		if n.isLeaf {
			it.stack = append(it.stack, iterFrame{n: n, idx: 0, prefix: prefix})
			return nil
		}
		it.stack = append(it.stack, iterFrame{n: n, idx: 1, prefix: prefix})
		id = n.children[0]
	}
}

// Next returns the next (key, offset) pair, or ok=false at exhaustion.
func (it *Iterator) Next() (key []byte, offset uint64, ok bool, err error) {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if !top.n.isLeaf {
			if top.idx >= len(top.n.children) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			childID := top.n.children[top.idx]
			top.idx++
			if err := it.descend(childID, top.prefix); err != nil {
				return nil, 0, false, err
			}
			continue
		}
		if top.idx >= len(top.n.leaves) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		e := top.n.leaves[top.idx]
		top.idx++
		full := append(append([]byte(nil), top.prefix...), e.chunk...)
		switch e.kind {
		case kindInline:
			full = append(full, e.suffix...)
			if it.hasTo && it.t.cmp(full, it.to) >= 0 {
				it.stack = nil
				return nil, 0, false, nil
			}
			if it.from != nil && it.t.cmp(full, it.from) < 0 {
				continue
			}
			return full, e.offset, true, nil
		case kindSubtrie:
			if err := it.descend(e.child, full); err != nil {
				return nil, 0, false, err
			}
		}
	}
	return nil, 0, false, nil
}
