package forestdb

import (
	"fmt"
	"sort"

	"github.com/simonzhangsm/forestdb/docio"
	"github.com/simonzhangsm/forestdb/hbtrie"
)

// IterFlags controls what an Iterator visits.
type IterFlags uint8

const (
	// IterMetaOnly skips reading each record's body, for scans that only
	// need keys/metadata.
	IterMetaOnly IterFlags = 1 << iota
	// IterNoDeletes skips tombstones.
	IterNoDeletes
)

// Iterator walks the combined view of this handle's file in key order: the
// persistent index merged with whatever is still sitting in the WAL buffer,
// WAL entries shadowing persistent ones for the same key (I4). This mirrors
// what Get does for a single key, generalized to a range scan — a scan
// started right after an un-flushed Set must still observe it, the same
// way the teacher's own in-memory index overlay is visible to its table
// scans before a flush.
type Iterator struct {
	h     *DB
	flags IterFlags
	cmp   Comparator
	done  bool

	persist    *hbtrie.Iterator
	persistKey []byte
	persistOff uint64
	persistOK  bool

	wal    []walEntrySnapshot
	walIdx int
}

type walEntrySnapshot struct {
	key    []byte
	offset uint64
}

// IteratorInit returns an iterator over keys in [from, to) (nil bounds are
// unbounded on that side).
func (h *DB) IteratorInit(from, to []byte, flags IterFlags) (*Iterator, error) {
	if err := h.blockRead(); err != nil {
		return nil, err
	}
	h.fs.walMu.Lock()
	walEntries := h.fs.wal.Entries()
	h.fs.walMu.Unlock()

	h.fs.idxMu.RLock()
	cmp := h.fs.cfg.Comparator
	if cmp == nil {
		cmp = bytesCompare
	}
	persist, err := h.fs.primary.Iterator(from, to)
	h.fs.idxMu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("forestdb: iterator_init: %w", err)
	}

	snap := make([]walEntrySnapshot, 0, len(walEntries))
	for _, e := range walEntries {
		if from != nil && cmp(e.Key, from) < 0 {
			continue
		}
		if to != nil && cmp(e.Key, to) >= 0 {
			continue
		}
		snap = append(snap, walEntrySnapshot{key: e.Key, offset: e.Offset})
	}
	sort.Slice(snap, func(i, j int) bool { return cmp(snap[i].key, snap[j].key) < 0 })

	it := &Iterator{h: h, flags: flags, cmp: cmp, persist: persist, wal: snap}
	it.advancePersist()
	return it, nil
}

// advancePersist loads the next not-yet-consumed persistent-index entry
// into the lookahead slot.
func (it *Iterator) advancePersist() error {
	key, offset, ok, err := it.persist.Next()
	if err != nil {
		return err
	}
	it.persistKey, it.persistOff, it.persistOK = key, offset, ok
	return nil
}

// Next returns the next document, or ErrIterationEnd when exhausted.
func (it *Iterator) Next() (*Doc, error) {
	doc, _, err := it.NextOffset()
	return doc, err
}

// NextOffset returns the next document along with its log offset.
func (it *Iterator) NextOffset() (*Doc, uint64, error) {
	if it.done {
		return nil, 0, fmt.Errorf("forestdb: iterator_next: %w", ErrIterationEnd)
	}
	for {
		offset, ok, err := it.pop()
		if err != nil {
			return nil, 0, fmt.Errorf("forestdb: iterator_next: %w", err)
		}
		if !ok {
			it.done = true
			return nil, 0, fmt.Errorf("forestdb: iterator_next: %w", ErrIterationEnd)
		}

		var doc docio.Doc
		if it.flags&IterMetaOnly != 0 {
			doc, err = docio.ReadDocMeta(it.h.fs.cache, offset)
		} else {
			doc, err = docio.ReadDoc(it.h.fs.cache, offset)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("forestdb: iterator_next: %w", err)
		}
		// Test the flag, not Deleted(): an IterMetaOnly read leaves Body nil
		// for live documents too.
		if doc.Flags&docio.FlagDeleted != 0 && it.flags&IterNoDeletes != 0 {
			continue
		}
		return &doc, offset, nil
	}
}

// pop returns the offset of the next entry in merged key order, preferring
// the WAL's entry over the persistent index's when both carry the same key
// (WAL shadowing, I4), and advancing whichever side(s) it consumed from.
func (it *Iterator) pop() (offset uint64, ok bool, err error) {
	walHas := it.walIdx < len(it.wal)
	switch {
	case !walHas && !it.persistOK:
		return 0, false, nil
	case walHas && !it.persistOK:
		e := it.wal[it.walIdx]
		it.walIdx++
		return e.offset, true, nil
	case !walHas && it.persistOK:
		o := it.persistOff
		if err := it.advancePersist(); err != nil {
			return 0, false, err
		}
		return o, true, nil
	default:
		e := it.wal[it.walIdx]
		c := it.cmp(e.key, it.persistKey)
		switch {
		case c < 0:
			it.walIdx++
			return e.offset, true, nil
		case c > 0:
			o := it.persistOff
			if err := it.advancePersist(); err != nil {
				return 0, false, err
			}
			return o, true, nil
		default:
			// Same key in both: WAL is newer, consume and discard the
			// stale persistent-index entry before returning.
			it.walIdx++
			if err := it.advancePersist(); err != nil {
				return 0, false, err
			}
			return e.offset, true, nil
		}
	}
}

// Close releases the iterator's resources. The underlying cache pages are
// write-through and not individually pinned by this iterator's cursor, so
// Close has nothing to unpin today; it exists for API symmetry and so a
// future pinning cache can hook in without changing callers.
func (it *Iterator) Close() error {
	it.done = true
	return nil
}
