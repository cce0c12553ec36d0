// Package docio encodes and decodes the engine's on-log records (C6):
// (key, meta, body, seqnum, flags) tuples written as a CRC-verified,
// possibly block-spanning byte stream.
package docio

// Flags on a Doc.
const (
	FlagDeleted    uint8 = 1 << 0 // tombstone: Body is absent (nil), not merely empty
	FlagCompressed uint8 = 1 << 1 // Body was snappy-compressed on disk
)

// Doc is the engine's logical record.
type Doc struct {
	Key    []byte
	Meta   []byte
	Body   []byte // nil means tombstone; len==0, non-nil means an empty live value
	Seqnum uint64
	Flags  uint8
}

// Deleted reports whether doc represents a tombstone.
func (d *Doc) Deleted() bool { return d.Flags&FlagDeleted != 0 || d.Body == nil }
