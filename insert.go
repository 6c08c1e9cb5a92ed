package tsdbengine

import (
	"fmt"

	"github.com/flowtsdb/tsdbengine/internal/memtable"
	"github.com/flowtsdb/tsdbengine/internal/wire"
)

// Insert decodes one submit message and applies every row it contains,
// spec.md §4.6. The whole message is decoded and validated before any row
// touches a memtable: a malformed message or an unknown table fails the
// entire call and leaves previously-inserted rows from earlier Insert
// calls untouched, per spec.md §7's propagation policy. Within one message,
// arena exhaustion aborts the remaining blocks but does not roll back rows
// already copied into their memtables.
func (r *Repo) Insert(buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateActive {
		return fmt.Errorf("%w: insert while repo is %s", ErrStateViolation, r.state)
	}

	msg, err := wire.Decode(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormatError, err)
	}

	decoded := make([][]wire.DataRow, len(msg.Blocks))
	for i, blk := range msg.Blocks {
		if !r.meta.Lookup(blk.UID, blk.TID) {
			return fmt.Errorf("%w: uid=%d tid=%d", ErrMetaReject, blk.UID, blk.TID)
		}
		rows, err := wire.DecodeRows(blk.Data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormatError, err)
		}
		decoded[i] = rows
	}

	for i, blk := range msg.Blocks {
		slot := r.tableFor(blk.UID, blk.TID)
		for _, row := range decoded[i] {
			dst, err := r.arena.Alloc(len(row.Payload))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrArenaExhausted, err)
			}
			copy(dst, row.Payload)
			slot.mem.Insert(row.Key, dst)
		}
	}
	return nil
}

// tableFor returns the memtable slot for (uid, tid), lazily creating it on
// first insert. tid is the table's fixed CompIdx slot, assigned by the
// meta catalogue, not by this repository. Must be called with r.mu held.
func (r *Repo) tableFor(uid uint64, tid uint32) *tableSlot {
	slot, ok := r.tables[uid]
	if ok {
		return slot
	}
	slot = &tableSlot{uid: uid, tid: tid, mem: memtable.NewTable()}
	r.tables[uid] = slot
	return slot
}
