package docio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/snappy"
	"github.com/simonzhangsm/forestdb/block"
)

// headerSize is the fixed prefix before the variable-length Key/Meta/Body:
// KeyLen(2) + MetaLen(2) + BodyLen(4) + Flags(1) + Seqnum(8).
const headerSize = 2 + 2 + 4 + 1 + 8
const crcSize = 4

// compressThreshold mirrors the teacher's compress-if-smaller policy: only
// bodies at least this large are worth the snappy round trip.
const compressThreshold = 64

// compressBody returns the (possibly) compressed body and whether
// compression was applied, the same "use it only if it actually shrinks
// the record" policy as storage.Pager.compressRecord.
func compressBody(body []byte) ([]byte, bool) {
	if len(body) < compressThreshold {
		return body, false
	}
	compressed := snappy.Encode(nil, body)
	if len(compressed) >= len(body) {
		return body, false
	}
	return compressed, true
}

func decompressBody(body []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return body, nil
	}
	out, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("docio: decompress: %w", err)
	}
	return out, nil
}

// WriteDoc encodes doc and appends it to the file behind cache, chaining as
// many blocks as required. It returns the offset (the first block's ID,
// widened to uint64) that ReadDoc/ReadDocMeta can later resolve it from.
func WriteDoc(cache *block.Cache, doc Doc) (uint64, error) {
	body := doc.Body
	flags := doc.Flags
	compressed := false
	if !doc.Deleted() {
		body, compressed = compressBody(body)
	}
	if compressed {
		flags |= FlagCompressed
	}
	if doc.Deleted() {
		flags |= FlagDeleted
		body = nil
	}

	bodyLen := uint32(len(body))
	if doc.Deleted() {
		bodyLen = 0xFFFFFFFF // distinguishes "deleted" from "zero-length live value"
	}

	total := headerSize + len(doc.Key) + len(doc.Meta) + len(body)
	buf := make([]byte, total+crcSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(doc.Key)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(doc.Meta)))
	binary.BigEndian.PutUint32(buf[4:8], bodyLen)
	buf[8] = flags
	binary.BigEndian.PutUint64(buf[9:17], doc.Seqnum)
	off := headerSize
	off += copy(buf[off:], doc.Key)
	off += copy(buf[off:], doc.Meta)
	if !doc.Deleted() {
		off += copy(buf[off:], body)
	}
	crc := crc32.ChecksumIEEE(buf[:total])
	binary.BigEndian.PutUint32(buf[total:total+crcSize], crc)

	return writeChain(cache, buf)
}

// writeChain splits data across as many block.Payload-sized blocks as
// needed, chaining them via each block's NextID trailer field (mirroring
// the teacher's overflow-page chaining for oversized records). Block
// allocation is a bare monotonic counter (block.File.Alloc), so every
// block's ID in the chain can be reserved up front and each block written
// exactly once with its successor's ID already known.
func writeChain(cache *block.Cache, data []byte) (uint64, error) {
	nblocks := 1
	if len(data) > 0 {
		nblocks = (len(data) + block.Payload - 1) / block.Payload
	}
	f := cache.File()
	ids := make([]block.ID, nblocks)
	for i := range ids {
		ids[i] = f.Alloc()
	}
	for i := range ids {
		n := len(data)
		if n > block.Payload {
			n = block.Payload
		}
		next := block.NotFound
		if i+1 < nblocks {
			next = ids[i+1]
		}
		if err := cache.Put(ids[i], block.KindData, next, data[:n]); err != nil {
			return 0, err
		}
		data = data[n:]
	}
	return uint64(ids[0]), nil
}

// readChain follows a block chain starting at id and returns the
// concatenated payload bytes.
func readChain(cache *block.Cache, id block.ID) ([]byte, error) {
	var out []byte
	for id != block.NotFound {
		payload, _, next, err := cache.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, payload...)
		id = next
	}
	return out, nil
}

// ReadDoc reads and fully decodes the record at offset, including the body.
func ReadDoc(cache *block.Cache, offset uint64) (Doc, error) {
	return readDoc(cache, offset, true)
}

// ReadDocMeta reads everything about the record except the body, for
// metadata-only iteration.
func ReadDocMeta(cache *block.Cache, offset uint64) (Doc, error) {
	return readDoc(cache, offset, false)
}

func readDoc(cache *block.Cache, offset uint64, withBody bool) (Doc, error) {
	raw, err := readChain(cache, block.ID(offset))
	if err != nil {
		return Doc{}, err
	}
	if len(raw) < headerSize+crcSize {
		return Doc{}, fmt.Errorf("docio: record at %d: %w", offset, block.ErrChecksum)
	}

	keyLen := int(binary.BigEndian.Uint16(raw[0:2]))
	metaLen := int(binary.BigEndian.Uint16(raw[2:4]))
	bodyLen := binary.BigEndian.Uint32(raw[4:8])
	flags := raw[8]
	seqnum := binary.BigEndian.Uint64(raw[9:17])

	// The chain's last block may be padded past the record, so the CRC
	// position comes from the header lengths, not from len(raw).
	storedBody := 0
	if bodyLen != 0xFFFFFFFF {
		storedBody = int(bodyLen)
	}
	total := headerSize + keyLen + metaLen + storedBody
	if total+crcSize > len(raw) {
		return Doc{}, fmt.Errorf("docio: record at %d: %w", offset, block.ErrChecksum)
	}
	gotCRC := binary.BigEndian.Uint32(raw[total : total+crcSize])
	if crc32.ChecksumIEEE(raw[:total]) != gotCRC {
		return Doc{}, fmt.Errorf("docio: record at %d: %w", offset, block.ErrChecksum)
	}

	pos := headerSize
	key := raw[pos : pos+keyLen]
	pos += keyLen
	meta := raw[pos : pos+metaLen]
	pos += metaLen

	doc := Doc{
		Key:    append([]byte(nil), key...),
		Meta:   append([]byte(nil), meta...),
		Seqnum: seqnum,
		Flags:  flags,
	}
	if bodyLen == 0xFFFFFFFF {
		doc.Flags |= FlagDeleted
		doc.Body = nil
		return doc, nil
	}
	if !withBody {
		return doc, nil
	}
	body := raw[pos : pos+int(bodyLen)]
	decoded, err := decompressBody(body, flags&FlagCompressed != 0)
	if err != nil {
		return Doc{}, err
	}
	doc.Body = append([]byte{}, decoded...) // non-nil even when empty: a live value, not a tombstone
	return doc, nil
}
