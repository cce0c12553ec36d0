package forestdb

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/simonzhangsm/forestdb/block"
	"github.com/simonzhangsm/forestdb/hbtrie"
	"github.com/simonzhangsm/forestdb/seqindex"
	"github.com/simonzhangsm/forestdb/superblock"
	"github.com/simonzhangsm/forestdb/walbuf"
)

// fileState is the process-wide, per-path shared state that every *DB
// handle opened against the same file holds a reference to: the block
// file/cache, the WAL buffer, and the current index roots. Keeping this in
// one place (rather than duplicated per handle) is what lets multiple
// handles on the same path share a consistent, lock-coordinated view and
// lets compaction hand off every handle at once (§5, §4.11).
type fileState struct {
	path string

	file  *block.File
	cache *block.Cache
	cfg   Config

	walMu sync.Mutex
	wal   *walbuf.Buffer

	idxMu   sync.RWMutex // guards primary/seq/roots against concurrent Commit vs reads
	primary *hbtrie.Trie
	seq     *seqindex.Index

	nextSeqnum atomic.Uint64
	ndocs      atomic.Uint64
	nlive      atomic.Uint64

	lastHeaderID    block.ID
	lastCompactedTo string

	// compactMu serializes compactions against this file and is held for
	// the duration of the copy+swap, which blocks every handle sharing fs
	// from reading/writing mid-compaction (Compact takes idxMu, so this
	// mutex only needs to keep two Compact calls from racing each other).
	compactMu sync.Mutex

	refMu sync.Mutex
	refs  int
}

var registry = struct {
	mu    sync.Mutex
	files map[string]*fileState
}{files: make(map[string]*fileState)}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("forestdb: %w", err)
	}
	return filepath.Clean(abs), nil
}

// acquireFileState returns the shared state for path, opening the
// underlying file and running recovery if this is the first handle to
// reference it, or incrementing the refcount and returning the existing
// one otherwise. cfg is only honored on first open; subsequent handles
// share the file's already-established cache/WAL sizing.
func acquireFileState(path string, cfg Config) (*fileState, error) {
	key, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if fs, ok := registry.files[key]; ok {
		fs.refMu.Lock()
		fs.refs++
		fs.refMu.Unlock()
		return fs, nil
	}

	fs, err := openFileState(key, cfg)
	if err != nil {
		return nil, err
	}
	fs.refs = 1
	registry.files[key] = fs
	return fs, nil
}

func openFileState(path string, cfg Config) (*fileState, error) {
	bf, err := block.Open(path, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}
	cache := block.NewCache(bf, cfg.BufferCacheSize, defaultCacheShards)

	fs := &fileState{path: path, file: bf, cache: cache, cfg: cfg}
	fs.wal = walbuf.New(walbuf.Comparator(comparatorOrDefault(cfg.Comparator)))
	fs.lastHeaderID = block.NotFound

	sb, found, err := superblock.Recover(bf)
	if err != nil {
		bf.Close()
		return nil, fmt.Errorf("forestdb: recover %q: %w", path, err)
	}
	if !found {
		if cfg.ReadOnly {
			bf.Close()
			return nil, fmt.Errorf("forestdb: open %q: %w", path, ErrNoDBFile)
		}
		fs.primary = hbtrie.New(cache, hbtrieComparator(cfg.Comparator), cfg.ChunkSize, block.NotFound, 1024)
		fs.seq = seqindex.New(cache, block.NotFound)
		fs.nextSeqnum.Store(0)
		return fs, nil
	}

	fs.primary = hbtrie.New(cache, hbtrieComparator(cfg.Comparator), cfg.ChunkSize, sb.PrimaryRoot, uint(sb.NDocs+1))
	fs.seq = seqindex.New(cache, sb.SeqRoot)
	fs.nextSeqnum.Store(sb.NextSeqnum)
	fs.ndocs.Store(sb.NDocs)
	fs.nlive.Store(sb.NLiveDocs)
	fs.lastHeaderID = sb.ID
	fs.lastCompactedTo = sb.CompactedTo
	return fs, nil
}

func comparatorOrDefault(c Comparator) walbuf.Comparator {
	if c == nil {
		return walbuf.Comparator(bytesCompare)
	}
	return walbuf.Comparator(c)
}

func hbtrieComparator(c Comparator) hbtrie.Comparator {
	if c == nil {
		return nil
	}
	return hbtrie.Comparator(c)
}

func hbtrieNew(cache *block.Cache, cmp hbtrie.Comparator, chunkSize int) *hbtrie.Trie {
	return hbtrie.New(cache, cmp, chunkSize, block.NotFound, 1024)
}

// compactRedirectTarget reports whether this file's last superblock
// recorded a completed compaction to another path (auto-compaction-
// recovery on open, §4.10).
func (fs *fileState) compactRedirectTarget() (string, bool) {
	// The redirect marker is read once at open time from the recovered
	// superblock; lastCompactedTo is populated by openFileState.
	if fs.lastCompactedTo == "" {
		return "", false
	}
	return fs.lastCompactedTo, true
}

// release drops a handle's reference; the last release tears the shared
// state down, removing it from the registry so a future Open starts clean
// (a Go-native stand-in for the distilled spec's "handles hold weak
// references — entry dropped on last handle close").
func release(fs *fileState) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	fs.refMu.Lock()
	fs.refs--
	remaining := fs.refs
	fs.refMu.Unlock()

	if remaining > 0 {
		return nil
	}
	// fs.path may have been overwritten with a raw, non-canonicalized path
	// by Compact (compact.go re-registers the fileState itself, keyed on
	// canonicalPath(newFS.path) — delete must use the same key or the
	// entry leaks and a later Open of the same file attaches to a second,
	// independent fileState).
	if key, err := canonicalPath(fs.path); err == nil {
		delete(registry.files, key)
	}
	return fs.file.Close()
}

// Shutdown tears down every file currently referenced by the process-wide
// registry. Intended for test isolation and clean process exit; open
// handles referencing a torn-down fileState must not be used afterward.
func Shutdown() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for key, fs := range registry.files {
		fs.file.Close()
		delete(registry.files, key)
	}
}
