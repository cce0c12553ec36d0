package forestdb

import "bytes"

// Comparator orders two keys the way bytes.Compare does. Setting one on a
// Config changes iteration and lookup order for every index built on that
// handle's file.
type Comparator func(a, b []byte) int

// Config configures an Open call. The zero value is valid; Open fills in
// every unset field with its documented default, the same pattern the
// teacher's storage.openPager applies defaults before use.
type Config struct {
	// ChunkSize is the HB+-trie dispatch window width, in bytes.
	ChunkSize int
	// OffsetSize is the index leaf value width, in bytes. Only 8 is
	// currently supported; present for API fidelity with the distilled
	// spec's config surface.
	OffsetSize int
	// BufferCacheSize is the cache budget in blocks; 0 disables caching.
	BufferCacheSize int
	// WALThreshold is the buffered-entry count that triggers an implicit
	// flush at the next Commit.
	WALThreshold int
	// SeqTreeEnabled turns the sequence index on or off.
	SeqTreeEnabled bool
	// ReadOnly opens the file without taking the writer lock and rejects
	// mutating calls with ErrReadOnly.
	ReadOnly bool
	// Comparator overrides lexicographic key order; must be set before the
	// first write reaches a given file (it cannot be changed once any
	// index block has been built under a different order).
	Comparator Comparator
}

const (
	defaultChunkSize    = 8
	defaultOffsetSize   = 8
	defaultWALThreshold = 4096 // entries
	defaultCacheShards  = 16
)

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.OffsetSize <= 0 {
		c.OffsetSize = defaultOffsetSize
	}
	if c.WALThreshold <= 0 {
		c.WALThreshold = defaultWALThreshold
	}
	return c
}

func bytesCompare(a, b []byte) int { return bytes.Compare(a, b) }
