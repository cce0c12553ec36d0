package docio

import (
	"bytes"
	"math/rand"
	"os"
	"testing"

	"github.com/simonzhangsm/forestdb/block"
)

func newTestCache(t *testing.T) *block.Cache {
	t.Helper()
	f, err := os.CreateTemp("", "forestdb_docio_*.db")
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
	return block.NewCache(bf, 64, 4)
}

func TestWriteReadDocRoundtrip(t *testing.T) {
	cache := newTestCache(t)

	doc := Doc{Key: []byte("k1"), Meta: []byte("m1"), Body: []byte("hello world"), Seqnum: 7}
	offset, err := WriteDoc(cache, doc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadDoc(cache, offset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got.Key, doc.Key) || !bytes.Equal(got.Meta, doc.Meta) || !bytes.Equal(got.Body, doc.Body) {
		t.Errorf("roundtrip mismatch: got %+v", got)
	}
	if got.Seqnum != doc.Seqnum {
		t.Errorf("seqnum mismatch: got %d, want %d", got.Seqnum, doc.Seqnum)
	}
	if got.Deleted() {
		t.Error("document should not be marked deleted")
	}
}

func TestWriteReadDocLargeBodySpansBlocks(t *testing.T) {
	cache := newTestCache(t)

	// Random bytes do not compress, so the stored record stays long enough
	// to span several blocks.
	body := make([]byte, 3*block.Payload)
	rand.New(rand.NewSource(1)).Read(body)
	doc := Doc{Key: []byte("big"), Body: body, Seqnum: 1}
	offset, err := WriteDoc(cache, doc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadDoc(cache, offset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Error("large body did not round-trip across block chain")
	}
}

func TestWriteReadDeletedDoc(t *testing.T) {
	cache := newTestCache(t)

	doc := Doc{Key: []byte("gone"), Seqnum: 3, Flags: FlagDeleted}
	offset, err := WriteDoc(cache, doc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadDoc(cache, offset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.Deleted() {
		t.Error("expected tombstone to read back as deleted")
	}
	if got.Body != nil {
		t.Errorf("expected nil body for tombstone, got %v", got.Body)
	}
}

func TestReadDocMetaSkipsBody(t *testing.T) {
	cache := newTestCache(t)

	doc := Doc{Key: []byte("k"), Meta: []byte("meta"), Body: []byte("body-bytes"), Seqnum: 2}
	offset, err := WriteDoc(cache, doc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadDocMeta(cache, offset)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if !bytes.Equal(got.Key, doc.Key) || !bytes.Equal(got.Meta, doc.Meta) {
		t.Error("metadata mismatch")
	}
	if got.Body != nil {
		t.Error("expected ReadDocMeta to leave Body nil")
	}
}

func TestWriteReadDocCompressibleBody(t *testing.T) {
	cache := newTestCache(t)

	body := bytes.Repeat([]byte("x"), compressThreshold*4)
	doc := Doc{Key: []byte("k"), Body: body, Seqnum: 5}
	offset, err := WriteDoc(cache, doc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadDoc(cache, offset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Error("compressed body did not round-trip")
	}
}
