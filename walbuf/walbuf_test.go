package walbuf

import "testing"

func TestBufferInsertLookup(t *testing.T) {
	b := New(nil)
	b.Insert([]byte("a"), 10, 1, 0)
	b.Insert([]byte("b"), 20, 2, 0)

	e, ok := b.Lookup([]byte("a"))
	if !ok || e.Offset != 10 || e.Seqnum != 1 {
		t.Errorf("lookup a: got %+v, ok=%v", e, ok)
	}
	if b.Len() != 2 {
		t.Errorf("expected length 2, got %d", b.Len())
	}
	if _, ok := b.Lookup([]byte("missing")); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestBufferSupersedeKeepsInsertionPosition(t *testing.T) {
	b := New(nil)
	b.Insert([]byte("a"), 1, 1, 0)
	b.Insert([]byte("b"), 2, 2, 0)
	b.Insert([]byte("c"), 3, 3, 0)
	// Re-insert "a" with a new offset; it must keep its original position
	// (first) in Entries(), not jump to the back.
	b.Insert([]byte("a"), 100, 10, 0)

	entries := b.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if string(entries[0].Key) != "a" || entries[0].Offset != 100 {
		t.Errorf("expected superseded 'a' to stay first with new offset, got %+v", entries[0])
	}
	if string(entries[1].Key) != "b" || string(entries[2].Key) != "c" {
		t.Errorf("unexpected order: %+v", entries)
	}
}

func TestBufferClear(t *testing.T) {
	b := New(nil)
	b.Insert([]byte("a"), 1, 1, 0)
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after Clear, got length %d", b.Len())
	}
	if _, ok := b.Lookup([]byte("a")); ok {
		t.Error("expected lookup to miss after Clear")
	}
	if entries := b.Entries(); len(entries) != 0 {
		t.Errorf("expected no entries after Clear, got %v", entries)
	}
}

func TestBufferEntriesPreserveInsertionOrder(t *testing.T) {
	b := New(nil)
	keys := []string{"z", "a", "m", "b"}
	for i, k := range keys {
		b.Insert([]byte(k), uint64(i), uint64(i), 0)
	}
	entries := b.Entries()
	for i, k := range keys {
		if string(entries[i].Key) != k {
			t.Errorf("position %d: got %q, want %q", i, entries[i].Key, k)
		}
	}
}
