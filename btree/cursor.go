package btree

// cursorFrame is one level of the root-to-leaf path: n is the node loaded
// at this level, idx is the next child (internal node) or next entry
// (leaf) to visit.
type cursorFrame struct {
	n   *node
	idx int
}

// Cursor walks a snapshot of the tree in key order starting from wherever
// SeekGE positioned it. It holds no lock; it is valid for as long as the
// blocks on its root's path remain reachable, which copy-on-write
// guarantees for any root the caller still references. Unlike a design
// that chases a leaf's on-disk sibling pointer, Cursor keeps the whole
// root-to-leaf path on its stack and resumes by popping back up to the
// nearest ancestor with an unvisited child — that child ID always comes
// from the ancestor's current encoded form, never a pointer recorded at
// some earlier point in the tree's history, so it can't go stale under
// copy-on-write.
type Cursor struct {
	t     *Tree
	stack []cursorFrame
}

// Next returns the next (key, value) pair, or ok=false at end of tree.
func (c *Cursor) Next() (key []byte, value uint64, ok bool, err error) {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.n.leaf {
			if top.idx >= len(top.n.keys) {
				c.stack = c.stack[:len(c.stack)-1]
				continue
			}
			key, value = top.n.keys[top.idx], top.n.values[top.idx]
			top.idx++
			return key, value, true, nil
		}
		if top.idx >= len(top.n.children) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		childID := top.n.children[top.idx]
		top.idx++
		n, err := c.t.load(childID)
		if err != nil {
			return nil, 0, false, err
		}
		c.stack = append(c.stack, cursorFrame{n: n, idx: 0})
	}
	return nil, 0, false, nil
}
