package btree

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/simonzhangsm/forestdb/block"
)

func newTestCache(t *testing.T) *block.Cache {
	t.Helper()
	f, err := os.CreateTemp("", "forestdb_btree_*.db")
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

func TestTreeInsertAndFind(t *testing.T) {
	tr := New(newTestCache(t), nil)
	root := block.NotFound

	var err error
	for i := 0; i < 50; i++ {
		root, err = tr.Insert(root, []byte(fmt.Sprintf("key-%03d", i)), uint64(i*10))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := 0; i < 50; i++ {
		v, ok, err := tr.Find(root, []byte(fmt.Sprintf("key-%03d", i)))
		if err != nil {
			t.Fatalf("find %d: %v", i, err)
		}
		if !ok || v != uint64(i*10) {
			t.Errorf("key-%03d: got (%d, %v), want (%d, true)", i, v, ok, i*10)
		}
	}

	if _, ok, err := tr.Find(root, []byte("missing")); err != nil || ok {
		t.Errorf("expected missing key to be absent, got ok=%v err=%v", ok, err)
	}
}

func TestTreeInsertOverwritesExistingKey(t *testing.T) {
	tr := New(newTestCache(t), nil)
	root, err := tr.Insert(block.NotFound, []byte("k"), 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	root, err = tr.Insert(root, []byte("k"), 2)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, ok, err := tr.Find(root, []byte("k"))
	if err != nil || !ok || v != 2 {
		t.Errorf("expected overwritten value 2, got (%d, %v, %v)", v, ok, err)
	}
}

func TestTreeRemove(t *testing.T) {
	tr := New(newTestCache(t), nil)
	root := block.NotFound
	var err error
	for i := 0; i < 20; i++ {
		root, err = tr.Insert(root, []byte(fmt.Sprintf("k%02d", i)), uint64(i))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var removed bool
	root, removed, err = tr.Remove(root, []byte("k05"))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("expected k05 to be reported as removed")
	}
	if _, ok, _ := tr.Find(root, []byte("k05")); ok {
		t.Error("expected k05 to be gone after Remove")
	}
	if _, ok, _ := tr.Find(root, []byte("k06")); !ok {
		t.Error("expected k06 to survive removal of an unrelated key")
	}

	_, removed, err = tr.Remove(root, []byte("k05"))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed {
		t.Error("expected removing an already-absent key to report removed=false")
	}
}

func TestTreeSeekGEOrderedIteration(t *testing.T) {
	tr := New(newTestCache(t), nil)
	root := block.NotFound
	keys := []string{"b", "d", "f", "h", "j"}
	var err error
	for i, k := range keys {
		root, err = tr.Insert(root, []byte(k), uint64(i))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cur, err := tr.SeekGE(root, []byte("c"))
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	var got []string
	for {
		k, _, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(k))
	}
	want := []string{"d", "f", "h", "j"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTreeSeekGEOnEmptyTree(t *testing.T) {
	tr := New(newTestCache(t), nil)
	cur, err := tr.SeekGE(block.NotFound, []byte("anything"))
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if _, _, ok, err := cur.Next(); err != nil || ok {
		t.Errorf("expected empty tree to yield no results, got ok=%v err=%v", ok, err)
	}
}

func TestTreeSplitsAcrossManyBlocks(t *testing.T) {
	tr := New(newTestCache(t), nil)
	root := block.NotFound
	var err error
	const n = 2000
	for i := 0; i < n; i++ {
		root, err = tr.Insert(root, []byte(fmt.Sprintf("key-%06d", i)), uint64(i))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	count := 0
	cur, err := tr.SeekGE(root, nil)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	var prev []byte
	for {
		k, _, ok, err := cur.Next()
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
