package hbtrie

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/simonzhangsm/forestdb/block"
)

func newTestCache(t *testing.T) *block.Cache {
	t.Helper()
	f, err := os.CreateTemp("", "forestdb_hbtrie_*.db")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })

	bf, err := block.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bf.Close() })
	return block.NewCache(bf, 256, 4)
}

func TestTrieInsertAndFind(t *testing.T) {
	tr := New(newTestCache(t), nil, DefaultChunkSize, block.NotFound, 0)

	keys := []string{"apple", "apricot", "banana", "band", "bandana", "cherry"}
	for i, k := range keys {
		if err := tr.Insert([]byte(k), uint64(i)); err != nil {
			t.Fatalf("insert %q: %v", k, err)
		}
	}
	for i, k := range keys {
		v, ok, err := tr.Find([]byte(k))
		if err != nil {
			t.Fatalf("find %q: %v", k, err)
		}
		if !ok || v != uint64(i) {
			t.Errorf("find %q: got (%d, %v), want (%d, true)", k, v, ok, i)
		}
	}
	if _, ok, err := tr.Find([]byte("missing")); err != nil || ok {
		t.Errorf("expected missing key to be absent, got ok=%v err=%v", ok, err)
	}
}

// "aaa" and "aab" share their first chunkSize=2 bytes ("aa") but differ in
// the byte right after, so the second insert collides on that chunk and
// promotes it to its own deeper chunk-tree rather than storing the suffix
// inline.
func TestTrieCollisionPromotesSubtrie(t *testing.T) {
	tr := New(newTestCache(t), nil, 2, block.NotFound, 0)

	if err := tr.Insert([]byte("aaa"), 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tr.Insert([]byte("aab"), 2); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v1, ok1, err := tr.Find([]byte("aaa"))
	if err != nil || !ok1 || v1 != 1 {
		t.Errorf("find aaa: got (%d, %v, %v)", v1, ok1, err)
	}
	v2, ok2, err := tr.Find([]byte("aab"))
	if err != nil || !ok2 || v2 != 2 {
		t.Errorf("find aab: got (%d, %v, %v)", v2, ok2, err)
	}
}

func TestTrieRemoveDemotesSingletonSubtrie(t *testing.T) {
	tr := New(newTestCache(t), nil, 2, block.NotFound, 0)

	if err := tr.Insert([]byte("aaa"), 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tr.Insert([]byte("aab"), 2); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if removed, err := tr.Remove([]byte("aab")); err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := tr.Find([]byte("aab")); ok {
		t.Error("expected aab to be gone after Remove")
	}
	v, ok, err := tr.Find([]byte("aaa"))
	if err != nil || !ok || v != 1 {
		t.Errorf("expected aaa to survive demotion, got (%d, %v, %v)", v, ok, err)
	}
}

func TestTrieFindAfterRemoveAll(t *testing.T) {
	tr := New(newTestCache(t), nil, DefaultChunkSize, block.NotFound, 0)
	for i := 0; i < 10; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("key%02d", i)), uint64(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		if removed, err := tr.Remove([]byte(fmt.Sprintf("key%02d", i))); err != nil || !removed {
			t.Fatalf("remove %d: removed=%v err=%v", i, removed, err)
		}
	}
	for i := 0; i < 10; i++ {
		if _, ok, _ := tr.Find([]byte(fmt.Sprintf("key%02d", i))); ok {
			t.Errorf("key%02d should be gone", i)
		}
	}
	if removed, err := tr.Remove([]byte("key00")); err != nil || removed {
		t.Errorf("expected removing an already-absent key to report removed=false, got %v/%v", removed, err)
	}
}

func TestTrieIteratorOrderAndBounds(t *testing.T) {
	tr := New(newTestCache(t), nil, DefaultChunkSize, block.NotFound, 0)
	keys := []string{"a", "c", "e", "g", "i", "k"}
	for i, k := range keys {
		if err := tr.Insert([]byte(k), uint64(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	it, err := tr.Iterator([]byte("c"), []byte("k"))
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	var got []string
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(k))
	}
	want := []string{"c", "e", "g", "i"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTrieIteratorFullScanIsSorted(t *testing.T) {
	tr := New(newTestCache(t), nil, 4, block.NotFound, 0)
	const n = 300
	for i := 0; i < n; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%05d", i)), uint64(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	it, err := tr.Iterator(nil, nil)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	var prev []byte
	count := 0
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if prev != nil && bytes.Compare(prev, k) >= 0 {
			t.Fatalf("keys out of order: %q then %q", prev, k)
		}
		prev = append([]byte(nil), k...)
		count++
	}
	if count != n {
		t.Errorf("expected %d keys, iterated %d", n, count)
	}
}

// With a chunk size wider than every key, no key ever collides with
// another on its first chunk, so all 2000 entries live directly in the
// root chunk-tree's own leaves rather than fanning out into per-chunk
// sub-tries — forcing that chunk-tree through many leaf splits, with
// later inserts landing in a leaf that was the *right* sibling of an
// earlier split.
func TestTrieIteratorSurvivesLeafSplits(t *testing.T) {
	tr := New(newTestCache(t), nil, 64, block.NotFound, 0)
	const n = 2000
	for i := 0; i < n; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("hbkey-%06d", i)), uint64(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	it, err := tr.Iterator(nil, nil)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	var prev []byte
	count := 0
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if prev != nil && bytes.Compare(prev, k) >= 0 {
			t.Fatalf("keys out of order: %q then %q", prev, k)
		}
		prev = append([]byte(nil), k...)
		count++
	}
	if count != n {
		t.Errorf("expected %d keys, iterated %d", n, count)
	}
}

func TestTrieReopenRebuildsBloomFilter(t *testing.T) {
	cache := newTestCache(t)
	tr := New(cache, nil, DefaultChunkSize, block.NotFound, 0)
	keys := []string{"apple", "banana", "cherry", "date"}
	for i, k := range keys {
		if err := tr.Insert([]byte(k), uint64(i)); err != nil {
			t.Fatalf("insert %q: %v", k, err)
		}
	}

	reopened := New(cache, nil, DefaultChunkSize, tr.Root(), uint(len(keys)+1))
	for i, k := range keys {
		v, ok, err := reopened.Find([]byte(k))
		if err != nil || !ok || v != uint64(i) {
			t.Errorf("find %q after reopen: got (%d, %v, %v), want (%d, true, nil)", k, v, ok, err, i)
		}
	}
	if _, ok, err := reopened.Find([]byte("missing")); err != nil || ok {
		t.Errorf("expected missing key to be absent after reopen, got ok=%v err=%v", ok, err)
	}
}

func TestTrieEmptyIterator(t *testing.T) {
	tr := New(newTestCache(t), nil, DefaultChunkSize, block.NotFound, 0)
	it, err := tr.Iterator(nil, nil)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	if _, _, ok, err := it.Next(); err != nil || ok {
		t.Errorf("expected empty trie to yield no results, got ok=%v err=%v", ok, err)
	}
}
