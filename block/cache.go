package block

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/zeebo/xxh3"
)

// Cache is a bounded, shard-partitioned buffer cache sitting in front of a
// File (C2). Shards are selected by hashing the block ID with xxh3 so reads
// against different blocks proceed under independent locks. Eviction within
// a shard is clock-style: a *bitset.BitSet tracks a reference bit per slot;
// the clock hand clears reference bits as it sweeps and evicts the first
// unreferenced, unpinned slot it finds. The cache is write-through (Put
// writes to File before caching), so evicting a slot never loses data.
type Cache struct {
	file   *File
	shards []*shard
	mask   uint64
}

type slot struct {
	id      ID
	kind    Kind
	nextID  ID
	payload []byte
	pins    int
	valid   bool
}

type shard struct {
	mu    sync.Mutex
	cap   int
	slots []slot
	index map[ID]int
	ref   *bitset.BitSet
	hand  int
}

// NewCache builds a cache over file with the given total block budget,
// split evenly across numShards shards. A budget of 0 disables caching:
// every Get/Put goes straight to file.
func NewCache(file *File, budgetBlocks, numShards int) *Cache {
	if numShards <= 0 {
		numShards = 1
	}
	c := &Cache{file: file}
	if budgetBlocks <= 0 {
		c.shards = nil
		return c
	}
	// round numShards up to a power of two so hash masking is cheap
	n := 1
	for n < numShards {
		n <<= 1
	}
	c.mask = uint64(n - 1)
	perShard := budgetBlocks / n
	if perShard < 1 {
		perShard = 1
	}
	c.shards = make([]*shard, n)
	for i := range c.shards {
		c.shards[i] = &shard{
			cap:   perShard,
			slots: make([]slot, perShard),
			index: make(map[ID]int, perShard),
			ref:   bitset.New(uint(perShard)),
		}
	}
	return c
}

// File returns the underlying block file.
func (c *Cache) File() *File { return c.file }

// Append allocates a fresh block and writes payload into it, populating the
// cache so a subsequent Get is a hit. Used by copy-on-write structures to
// materialize a new node/record block.
func (c *Cache) Append(kind Kind, nextID ID, payload []byte) (ID, error) {
	id := c.file.Alloc()
	if err := c.Put(id, kind, nextID, payload); err != nil {
		return NotFound, err
	}
	return id, nil
}

func (c *Cache) shardFor(id ID) *shard {
	var b [8]byte
	b[0] = byte(id)
	b[1] = byte(id >> 8)
	b[2] = byte(id >> 16)
	b[3] = byte(id >> 24)
	b[4] = byte(id >> 32)
	b[5] = byte(id >> 40)
	b[6] = byte(id >> 48)
	b[7] = byte(id >> 56)
	h := xxh3.Hash(b[:])
	return c.shards[h&c.mask]
}

// Get returns the block's payload, its kind and chain pointer, consulting
// the cache first and falling back to the underlying File on miss.
func (c *Cache) Get(id ID) (payload []byte, kind Kind, nextID ID, err error) {
	if c.shards == nil {
		p, err := c.file.ReadBlock(id)
		if err != nil {
			return nil, 0, NotFound, err
		}
		t, _ := rawTrailer(c.file, id)
		return p, t.kind, t.nextID, nil
	}
	sh := c.shardFor(id)
	sh.mu.Lock()
	if i, ok := sh.index[id]; ok {
		sh.ref.Set(uint(i))
		s := sh.slots[i]
		sh.mu.Unlock()
		return s.payload, s.kind, s.nextID, nil
	}
	sh.mu.Unlock()

	raw, err := c.file.ReadBlock(id)
	if err != nil {
		return nil, 0, NotFound, err
	}
	t, _ := rawTrailer(c.file, id)
	sh.mu.Lock()
	if i := sh.insert(id, slot{id: id, kind: t.kind, nextID: t.nextID, payload: raw, valid: true}); i >= 0 {
		sh.ref.Set(uint(i))
	}
	sh.mu.Unlock()
	return raw, t.kind, t.nextID, nil
}

func rawTrailer(f *File, id ID) (trailer, error) {
	buf := make([]byte, Size)
	n, err := f.f.ReadAt(buf, int64(id)*Size)
	if err != nil && n != Size {
		return trailer{}, err
	}
	return decodeTrailer(buf[Payload:]), nil
}

// Put writes a block's contents through to File immediately, then caches
// it. id must already be allocated (via the File's allocator).
func (c *Cache) Put(id ID, kind Kind, nextID ID, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if err := c.file.WriteBlock(id, kind, nextID, buf); err != nil {
		return err
	}
	if c.shards == nil {
		return nil
	}
	sh := c.shardFor(id)
	sh.mu.Lock()
	if i := sh.insert(id, slot{id: id, kind: kind, nextID: nextID, payload: buf, valid: true}); i >= 0 {
		sh.ref.Set(uint(i))
	}
	sh.mu.Unlock()
	return nil
}

// Pin/Unpin keep a block's slot resident even if the clock hand reaches it,
// so a cursor holding a reference to a snapshot's pages never has them
// evicted while still in use (supports I6 for concurrent readers).
func (c *Cache) Pin(id ID) {
	if c.shards == nil {
		return
	}
	sh := c.shardFor(id)
	sh.mu.Lock()
	if i, ok := sh.index[id]; ok {
		sh.slots[i].pins++
	}
	sh.mu.Unlock()
}

func (c *Cache) Unpin(id ID) {
	if c.shards == nil {
		return
	}
	sh := c.shardFor(id)
	sh.mu.Lock()
	if i, ok := sh.index[id]; ok && sh.slots[i].pins > 0 {
		sh.slots[i].pins--
	}
	sh.mu.Unlock()
}

// insert places s into the shard, evicting via clock sweep if at capacity,
// and returns the slot index, or -1 if every slot is pinned. Caller holds
// sh.mu. A -1 result just means this block isn't cached; since the cache is
// write-through, the caller's data is already durable on File regardless.
func (sh *shard) insert(id ID, s slot) int {
	if i, ok := sh.index[id]; ok {
		sh.slots[i] = s
		return i
	}
	if len(sh.index) < sh.cap {
		for i := range sh.slots {
			if !sh.slots[i].valid {
				sh.slots[i] = s
				sh.index[id] = i
				return i
			}
		}
	}
	// evict: at most two full sweeps (first clears reference bits, second
	// finds the now-unreferenced slot) before giving up on every slot
	// being pinned.
	for sweep := 0; sweep < 2*sh.cap; sweep++ {
		i := sh.hand
		sh.hand = (sh.hand + 1) % sh.cap
		if sh.slots[i].pins > 0 {
			continue
		}
		if sh.ref.Test(uint(i)) {
			sh.ref.Clear(uint(i))
			continue
		}
		old := sh.slots[i]
		if old.valid {
			delete(sh.index, old.id)
		}
		sh.slots[i] = s
		sh.index[id] = i
		return i
	}
	return -1
}

// Flush is a no-op placeholder kept for symmetry with the teacher's cache
// API; this cache writes through File on every Put rather than batching,
// so there is nothing outstanding to flush.
func (c *Cache) Flush() error { return nil }
