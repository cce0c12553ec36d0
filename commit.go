package forestdb

import (
	"github.com/simonzhangsm/forestdb/block"
	"github.com/simonzhangsm/forestdb/superblock"
)

// writeSuperblock writes a new commit marker reflecting fs's current index
// roots and counters, linked to the previous superblock in the chain (I5).
func writeSuperblock(fs *fileState) error {
	fs.idxMu.RLock()
	defer fs.idxMu.RUnlock()
	return writeSuperblockLocked(fs)
}

// writeSuperblockLocked is the lock-free core of writeSuperblock. Caller
// must already hold fs.idxMu (read or write) — used directly by Compact,
// which holds it exclusively for the duration of the copy+swap.
func writeSuperblockLocked(fs *fileState) error {
	sb := &superblock.Superblock{
		PrevID:      fs.lastHeaderID,
		PrimaryRoot: fs.primary.Root(),
		NextSeqnum:  fs.nextSeqnum.Load(),
		NDocs:       fs.ndocs.Load(),
		NLiveDocs:   fs.nlive.Load(),
		CompactedTo: fs.lastCompactedTo,
	}
	if fs.cfg.SeqTreeEnabled {
		sb.SeqRoot = fs.seq.Root()
	} else {
		sb.SeqRoot = block.NotFound
	}

	id, err := superblock.Write(fs.cache, sb)
	if err != nil {
		return err
	}
	fs.lastHeaderID = id
	return nil
}
