package forestdb

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Stats is a point-in-time snapshot of an open file's bookkeeping
// counters, useful for diagnostics and tests. It is not itself part of
// the durable format.
type Stats struct {
	Path         string `json:"path"`
	DocCount     uint64 `json:"doc_count"`
	LiveDocCount uint64 `json:"live_doc_count"`
	NextSeqnum   uint64 `json:"next_seqnum"`
	WALLength    int    `json:"wal_length"`
	CompactingTo string `json:"compacting_to,omitempty"`
}

// Stats returns a snapshot of this handle's shared file state.
func (h *DB) Stats() (Stats, error) {
	if err := h.blockRead(); err != nil {
		return Stats{}, err
	}
	h.fs.walMu.Lock()
	walLen := h.fs.wal.Len()
	h.fs.walMu.Unlock()

	return Stats{
		Path:         h.fs.path,
		DocCount:     h.fs.ndocs.Load(),
		LiveDocCount: h.fs.nlive.Load(),
		NextSeqnum:   h.fs.nextSeqnum.Load(),
		WALLength:    walLen,
		CompactingTo: h.fs.lastCompactedTo,
	}, nil
}

// StatsJSON renders Stats as JSON, for use in logs or a status endpoint.
func (h *DB) StatsJSON() ([]byte, error) {
	s, err := h.Stats()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("forestdb: stats: %w", err)
	}
	return b, nil
}
