package tsdbengine

import (
	"fmt"

	"github.com/flowtsdb/tsdbengine/internal/commitworker"
)

// Commit triggers an asynchronous flush of every table's active generation
// to disk, spec.md §4.8: only legal in ACTIVE state and only when no commit
// is already running. It returns as soon as the mem/imem swap under the
// repository mutex completes; the actual file-group writes run on a
// background goroutine, matching spec.md §5's dedicated background thread.
// Call Wait (or Close) to block until the in-flight commit finishes.
func (r *Repo) Commit() error {
	r.mu.Lock()
	if r.state != stateActive {
		r.mu.Unlock()
		return fmt.Errorf("%w: commit while repo is %s", ErrStateViolation, r.state)
	}
	if r.committing {
		r.mu.Unlock()
		return fmt.Errorf("%w: a commit is already in progress", ErrStateViolation)
	}

	req := commitworker.Request{
		Params: commitworker.Params{
			MaxTables:           int(r.cfg.MaxTables),
			DaysPerFile:         r.cfg.DaysPerFile,
			Precision:           r.cfg.Precision,
			MinRowsPerFileBlock: int(r.cfg.MinRowsPerFileBlock),
			MaxRowsPerFileBlock: int(r.cfg.MaxRowsPerFileBlock),
			Compression:         r.cfg.Compression,
		},
	}
	var frozen []*tableSlot
	for _, slot := range r.tables {
		if retrying := slot.mem.Freeze(); retrying {
			r.log.Debugf("table uid=%d retrying a previously failed commit", slot.uid)
		}
		if !slot.mem.HasPinnedSnapshot() {
			continue
		}
		frozen = append(frozen, slot)
		req.Tables = append(req.Tables, commitworker.Table{UID: slot.uid, TID: slot.tid, Mem: slot.mem})
	}
	if arenaRetrying := r.arena.CommitBegin(); arenaRetrying {
		r.log.Debugf("arena retrying a previously failed commit")
	}

	r.committing = true
	r.wg.Add(1)
	fs, store := r.fs, r.store
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		err := commitworker.Run(fs, store, req)
		if err != nil {
			r.log.Errorf("commit failed: %v", err)
		} else {
			r.log.Infof("commit succeeded: %d tables flushed", len(frozen))
		}

		r.mu.Lock()
		r.arena.CommitEnd(err == nil)
		for _, slot := range frozen {
			slot.mem.CommitDone(err == nil)
		}
		r.committing = false
		r.mu.Unlock()
	}()
	return nil
}

// Wait blocks until no commit is in flight. It does not itself trigger one.
func (r *Repo) Wait() {
	r.wg.Wait()
}
