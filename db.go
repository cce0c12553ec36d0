// Package forestdb is an embedded, single-writer-friendly key-value
// storage engine: an append-only block log with CRC-verified blocks and
// commit markers, a copy-on-write HB+-trie primary index and B+-tree
// sequence index, an in-memory write-ahead buffer, and online compaction
// with transparent handle hand-off.
package forestdb

import (
	"fmt"
	"sync/atomic"

	"github.com/simonzhangsm/forestdb/block"
	"github.com/simonzhangsm/forestdb/docio"
	"github.com/simonzhangsm/forestdb/superblock"
)

// Doc is the engine's logical record. A nil Body marks a tombstone; a
// non-nil, zero-length Body is a live, empty value (§9 design note: NULL
// body is the deletion marker, a zero-length body is not).
type Doc = docio.Doc

// NewDoc builds a Doc ready for Set. Copies are not taken; callers should
// not mutate key/meta/body after passing them in until Set returns.
func NewDoc(key, meta, body []byte) *Doc {
	return &Doc{Key: key, Meta: meta, Body: body}
}

// UpdateDoc replaces meta/body on an existing Doc in place, for callers
// that keep a Doc around across a read-modify-write cycle instead of
// building a fresh one. The key and seqnum are left untouched; Set
// assigns a new seqnum regardless.
func UpdateDoc(doc *Doc, meta, body []byte) {
	doc.Meta = meta
	doc.Body = body
	doc.Flags = 0
}

// FreeDoc exists for API symmetry with callers porting code that paired
// every NewDoc with an explicit free; Docs are ordinary garbage-collected
// values here, so there is nothing to release.
func FreeDoc(doc *Doc) {}

const (
	stateOpen = iota
	stateClosed
)

// DB is one open handle onto an engine file. Multiple handles may be open
// on the same path concurrently; they share one fileState (registry.go)
// and therefore the same WAL, cache, and committed index roots, so a write
// through one handle is visible to a subsequent read through another once
// committed. Cross-handle exclusion during compaction is done at the
// fileState level (fs.walMu/fs.idxMu/fs.compactMu in registry.go and
// compact.go), not per handle, since every handle on a path must be
// blocked together.
type DB struct {
	fs       *fileState
	cfg      Config
	readOnly bool

	state atomic.Int32
}

// Open opens (or creates) the engine file at path.
func Open(path string, cfg Config) (*DB, error) {
	cfg = cfg.withDefaults()
	fs, err := acquireFileState(path, cfg)
	if err != nil {
		return nil, err
	}
	if redirected, ok := fs.compactRedirectTarget(); ok {
		// Auto-compaction-recovery on open (§4.10): a prior compaction from
		// this file completed and recorded where it went; transparently
		// follow it instead of exposing the stale pre-compaction file, as
		// long as the target still exists and holds a valid superblock.
		// Otherwise this file stays authoritative.
		if tf, err := block.Open(redirected, true); err == nil {
			_, found, rerr := superblock.Recover(tf)
			tf.Close()
			if rerr == nil && found {
				release(fs)
				return Open(redirected, cfg)
			}
		}
	}
	h := &DB{fs: fs, cfg: cfg, readOnly: cfg.ReadOnly}
	h.state.Store(stateOpen)
	return h, nil
}

func (h *DB) checkOpen() error {
	if h.state.Load() == stateClosed {
		return fmt.Errorf("forestdb: %w", ErrClosed)
	}
	return nil
}

func (h *DB) blockWrite() error {
	if h.readOnly {
		return fmt.Errorf("forestdb: %w", ErrReadOnly)
	}
	return h.checkOpen()
}

func (h *DB) blockRead() error {
	return h.checkOpen()
}

// Close releases this handle's reference to its file's shared state.
func (h *DB) Close() error {
	if h.state.Swap(stateClosed) == stateClosed {
		return nil
	}
	return release(h.fs)
}

// SetComparator overrides key order for this handle's file. It may only be
// called before the first write reaches this file — changing comparator
// after index blocks already exist under the old order would silently
// corrupt lookups — and is stored on the shared fileState, not per handle,
// since two handles on the same file must agree on order.
func (h *DB) SetComparator(cmp Comparator) error {
	if err := h.blockWrite(); err != nil {
		return err
	}
	h.fs.idxMu.Lock()
	defer h.fs.idxMu.Unlock()
	if h.fs.primary.Root() != block.NotFound || h.fs.ndocs.Load() != 0 {
		return fmt.Errorf("forestdb: set_custom_cmp: %w", ErrInvalidArgs)
	}
	h.fs.cfg.Comparator = cmp
	h.fs.primary = hbtrieNew(h.fs.cache, hbtrieComparator(cmp), h.fs.cfg.ChunkSize)
	return nil
}

// Set assigns Doc.Seqnum and stages the write in the WAL buffer. The write
// becomes durable at the next Commit.
func (h *DB) Set(doc *Doc) error {
	if doc == nil || len(doc.Key) == 0 {
		return fmt.Errorf("forestdb: set: %w", ErrInvalidArgs)
	}
	if err := h.blockWrite(); err != nil {
		return err
	}

	seq := h.fs.nextSeqnum.Add(1) - 1
	doc.Seqnum = seq
	if doc.Body == nil {
		doc.Flags |= docio.FlagDeleted
	}

	offset, err := docio.WriteDoc(h.fs.cache, *doc)
	if err != nil {
		return fmt.Errorf("forestdb: set: %w", err)
	}

	h.fs.walMu.Lock()
	h.fs.wal.Insert(doc.Key, offset, seq, doc.Flags)
	n := h.fs.wal.Len()
	h.fs.walMu.Unlock()
	h.fs.ndocs.Add(1)

	if n >= h.cfg.WALThreshold {
		return h.Commit()
	}
	return nil
}

// Get resolves doc.Key, filling in Meta/Body/Seqnum/Flags. It consults the
// WAL first (I4: a key lives in at most one place in the live view), then
// the persistent primary index.
func (h *DB) Get(doc *Doc) error {
	if doc == nil || len(doc.Key) == 0 {
		return fmt.Errorf("forestdb: get: %w", ErrInvalidArgs)
	}
	if err := h.blockRead(); err != nil {
		return err
	}

	h.fs.walMu.Lock()
	entry, ok := h.fs.wal.Lookup(doc.Key)
	h.fs.walMu.Unlock()

	var offset uint64
	if ok {
		if entry.Flags&docio.FlagDeleted != 0 {
			return fmt.Errorf("forestdb: get: %w", ErrKeyNotFound)
		}
		offset = entry.Offset
	} else {
		h.fs.idxMu.RLock()
		off, found, err := h.fs.primary.Find(doc.Key)
		h.fs.idxMu.RUnlock()
		if err != nil {
			return fmt.Errorf("forestdb: get: %w", err)
		}
		if !found {
			return fmt.Errorf("forestdb: get: %w", ErrKeyNotFound)
		}
		offset = off
	}

	full, err := docio.ReadDoc(h.fs.cache, offset)
	if err != nil {
		return fmt.Errorf("forestdb: get: %w", err)
	}
	if full.Deleted() {
		return fmt.Errorf("forestdb: get: %w", ErrKeyNotFound)
	}
	*doc = full
	return nil
}

// GetBySeq resolves doc.Seqnum via the sequence index, filling in the rest
// of doc. Tombstone sequence numbers resolve successfully with a nil Body
// (§9 open question (a)): GetBySeq answers "what happened at this
// sequence number", which for a deletion is itself a meaningful answer,
// not a KEY_NOT_FOUND.
func (h *DB) GetBySeq(doc *Doc) error {
	if !h.cfg.SeqTreeEnabled {
		return fmt.Errorf("forestdb: get_by_seq: %w", ErrInvalidArgs)
	}
	if err := h.blockRead(); err != nil {
		return err
	}
	h.fs.idxMu.RLock()
	offset, found, err := h.fs.seq.Get(doc.Seqnum)
	h.fs.idxMu.RUnlock()
	if err != nil {
		return fmt.Errorf("forestdb: get_by_seq: %w", err)
	}
	if !found {
		return fmt.Errorf("forestdb: get_by_seq: %w", ErrKeyNotFound)
	}
	full, err := docio.ReadDoc(h.fs.cache, offset)
	if err != nil {
		return fmt.Errorf("forestdb: get_by_seq: %w", err)
	}
	*doc = full
	return nil
}

// FlushWAL applies every buffered write to the persistent indexes
// unconditionally, without writing a new superblock.
func (h *DB) FlushWAL() error {
	if err := h.blockWrite(); err != nil {
		return err
	}
	return h.flushWALLocked()
}

func (h *DB) flushWALLocked() error {
	h.fs.walMu.Lock()
	h.fs.idxMu.Lock()
	err := flushWALInto(h.fs)
	h.fs.idxMu.Unlock()
	h.fs.walMu.Unlock()
	return err
}

// flushWALInto drains fs's WAL buffer into its persistent indexes. Caller
// must hold both fs.walMu and fs.idxMu.
func flushWALInto(fs *fileState) error {
	entries := fs.wal.Entries()
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.Flags&docio.FlagDeleted != 0 {
			removed, err := fs.primary.Remove(e.Key)
			if err != nil {
				return fmt.Errorf("forestdb: flush_wal: %w", err)
			}
			if removed {
				fs.nlive.Add(^uint64(0)) // decrement, only for a key that actually existed
			}
		} else {
			_, existed, err := fs.primary.Find(e.Key)
			if err != nil {
				return fmt.Errorf("forestdb: flush_wal: %w", err)
			}
			if err := fs.primary.Insert(e.Key, e.Offset); err != nil {
				return fmt.Errorf("forestdb: flush_wal: %w", err)
			}
			if !existed {
				fs.nlive.Add(1) // an overwrite does not add a live document
			}
		}
		if fs.cfg.SeqTreeEnabled {
			if err := fs.seq.Put(e.Seqnum, e.Offset); err != nil {
				return fmt.Errorf("forestdb: flush_wal: %w", err)
			}
		}
	}
	fs.wal.Clear()
	return nil
}

// Commit flushes every buffered WAL entry into the persistent indexes
// (the WAL itself is not durable), then writes a new superblock recording
// the current index roots and counters, and syncs the file. A successful Commit happens-before any later Open or
// recovery observing it.
func (h *DB) Commit() error {
	if err := h.blockWrite(); err != nil {
		return err
	}

	h.fs.walMu.Lock()
	n := h.fs.wal.Len()
	h.fs.walMu.Unlock()
	if n >= h.cfg.WALThreshold || n > 0 {
		if err := h.flushWALLocked(); err != nil {
			return err
		}
	}

	if err := writeSuperblock(h.fs); err != nil {
		return fmt.Errorf("forestdb: commit: %w", err)
	}
	if err := h.fs.cache.File().Sync(); err != nil {
		return fmt.Errorf("forestdb: commit: %w", err)
	}
	return nil
}
