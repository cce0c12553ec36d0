package forestdb

import (
	"bytes"
	"errors"
	"testing"
)

func TestIteratorFullScanIsSorted(t *testing.T) {
	h := openTestDB(t, Config{})
	keys := []string{"banana", "apple", "cherry", "date", "fig"}
	for _, k := range keys {
		if err := h.Set(NewDoc([]byte(k), nil, []byte("v-"+k))); err != nil {
			t.Fatalf("set %q: %v", k, err)
		}
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := h.IteratorInit(nil, nil, 0)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	var got []string
	for {
		doc, err := it.Next()
		if errors.Is(err, ErrIterationEnd) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, string(doc.Key))
	}

	want := []string{"apple", "banana", "cherry", "date", "fig"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorRespectsBounds(t *testing.T) {
	h := openTestDB(t, Config{})
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := h.Set(NewDoc([]byte(k), nil, []byte(k))); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := h.IteratorInit([]byte("b"), []byte("d"), 0)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	var got []string
	for {
		doc, err := it.Next()
		if errors.Is(err, ErrIterationEnd) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, string(doc.Key))
	}
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorMetaOnlySkipsBody(t *testing.T) {
	h := openTestDB(t, Config{})
	if err := h.Set(NewDoc([]byte("k"), []byte("m"), []byte("big-body"))); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := h.IteratorInit(nil, nil, IterMetaOnly)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	doc, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(doc.Meta, []byte("m")) {
		t.Errorf("expected meta to still be populated, got %q", doc.Meta)
	}
	if len(doc.Body) != 0 {
		t.Errorf("expected IterMetaOnly to skip the body, got %q", doc.Body)
	}
}

func TestIteratorNoDeletesSkipsTombstones(t *testing.T) {
	h := openTestDB(t, Config{})
	if err := h.Set(NewDoc([]byte("live"), nil, []byte("v"))); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Set(NewDoc([]byte("gone"), nil, []byte("v"))); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := h.Set(NewDoc([]byte("gone"), nil, nil)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := h.IteratorInit(nil, nil, IterNoDeletes)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	var got []string
	for {
		doc, err := it.Next()
		if errors.Is(err, ErrIterationEnd) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, string(doc.Key))
	}
	if len(got) != 1 || got[0] != "live" {
		t.Errorf("expected only the live key to survive, got %v", got)
	}
}

func TestIteratorMergesUnflushedWALWrites(t *testing.T) {
	h := openTestDB(t, Config{})

	// Even keys go through FlushWAL and Commit, landing in the persistent
	// index; odd keys are only Set afterward and never committed, so they
	// stay in the WAL buffer for the scan below to pick up.
	for i := 0; i < 10; i += 2 {
		k := []byte{'k', 'e', 'y', byte('0' + i)}
		if err := h.Set(NewDoc(k, nil, k)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := h.FlushWAL(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	for i := 1; i < 10; i += 2 {
		k := []byte{'k', 'e', 'y', byte('0' + i)}
		if err := h.Set(NewDoc(k, nil, k)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	it, err := h.IteratorInit(nil, nil, 0)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	count := 0
	for {
		_, err := it.Next()
		if errors.Is(err, ErrIterationEnd) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		count++
	}
	if count != 10 {
		t.Errorf("expected the scan to see both flushed and WAL-only writes, got %d", count)
	}
}

func TestIteratorCustomComparatorOrdersUnflushedWAL(t *testing.T) {
	h := openTestDB(t, Config{})
	// Reverse-lexicographic order, set while the file is still empty (the
	// only time SetComparator is allowed).
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	if err := h.SetComparator(reverse); err != nil {
		t.Fatalf("set_comparator: %v", err)
	}

	for _, k := range []string{"a", "b", "c"} {
		if err := h.Set(NewDoc([]byte(k), nil, []byte(k))); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	// Still sitting in the WAL; the scan must still honor the custom order.
	it, err := h.IteratorInit(nil, nil, 0)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	var got []string
	for {
		doc, err := it.Next()
		if errors.Is(err, ErrIterationEnd) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, string(doc.Key))
	}
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorOnEmptyDBEndsImmediately(t *testing.T) {
	h := openTestDB(t, Config{})
	it, err := h.IteratorInit(nil, nil, 0)
	if err != nil {
		t.Fatalf("iterator_init: %v", err)
	}
	defer it.Close()

	_, err = it.Next()
	if !errors.Is(err, ErrIterationEnd) {
		t.Errorf("expected ErrIterationEnd on an empty db, got %v", err)
	}
}
