// Package commitworker implements the asynchronous commit/flush pipeline:
// spec.md §4.7/§4.7.1. It drains every table's pinned imem snapshot into
// the on-disk file groups that internal/fgroup manages, producing new
// head/data/last files and publishing them atomically.
//
// Grounded on internal/flush/job.go's shape (allocate identity, build new
// file content in memory, finish, sync, sync the directory, return
// metadata, clean up on empty output) and db/background.go's
// channel-driven worker loop; the per-partition merge/append/new-last
// decision tree itself follows original_source/tsdbMain.c's
// tsdbCommitData and tsdbFile.c's tsdbInsertDataToFile. The Go code here
// does not reuse flush.Job directly — that type is wired to
// manifest.FileMetaData and table.TableBuilder, both absent from this
// engine's on-disk format — but keeps its build-then-publish discipline.
package commitworker

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/flowtsdb/tsdbengine/internal/block"
	"github.com/flowtsdb/tsdbengine/internal/compression"
	"github.com/flowtsdb/tsdbengine/internal/encoding"
	"github.com/flowtsdb/tsdbengine/internal/fgroup"
	"github.com/flowtsdb/tsdbengine/internal/memtable"
	"github.com/flowtsdb/tsdbengine/internal/partition"
	"github.com/flowtsdb/tsdbengine/internal/vfs"
)

var errNoTrailer = errors.New("commitworker: block trailer truncated")

// Table pairs a memtable with the table identity (uid, tid) the on-disk
// format keys off. TID must already be the table's fixed 0-based slot in
// the file group's CompIdx[max_tables] array — the meta catalogue's job,
// quoted here as an external contract (spec.md Non-goals).
type Table struct {
	UID uint64
	TID uint32
	Mem *memtable.Table
}

// Params carries the repository configuration the commit decision tree
// needs. These mirror the Config record in config.go.
type Params struct {
	MaxTables           int
	DaysPerFile         int32
	Precision           partition.Precision
	MinRowsPerFileBlock int
	MaxRowsPerFileBlock int
	Compression         compression.Type
}

// Request is one commit cycle's input: every table's pinned snapshot (even
// ones with nothing to do this round — the caller filters those out as
// an optimization, not a requirement) plus the repository's configuration.
type Request struct {
	Tables []Table
	Params Params
}

// Run executes one commit cycle against fs/store. It is idempotent when
// every table's imem is empty (spec.md §8 property 8: a commit with
// nothing to flush touches no file). Run does not mutate any Table's
// memtable state — the caller (commit.go's Repo.Commit) runs Freeze and
// CommitBegin before Run and resolves CommitEnd/CommitDone itself once
// Run returns, under the repository mutex.
func Run(fs vfs.FS, store *fgroup.Store, req Request) error {
	cursors := make([]*tableCursor, 0, len(req.Tables))
	sfid, efid := int64(0), int64(0)
	haveSpan := false
	for i := range req.Tables {
		tbl := req.Tables[i]
		first, last, ok := tbl.Mem.ImemKeyRange()
		if !ok {
			continue
		}
		it := tbl.Mem.ImemCursor()
		cursors = append(cursors, &tableCursor{uid: tbl.UID, tid: tbl.TID, it: it})
		f := partition.FileIDOf(first, req.Params.DaysPerFile, req.Params.Precision)
		l := partition.FileIDOf(last, req.Params.DaysPerFile, req.Params.Precision)
		if !haveSpan {
			sfid, efid, haveSpan = f, l, true
		} else {
			if f < sfid {
				sfid = f
			}
			if l > efid {
				efid = l
			}
		}
	}
	if !haveSpan {
		return nil // nothing pinned anywhere: idempotent no-op commit
	}

	for fid := sfid; fid <= efid; fid++ {
		if err := commitPartition(fs, store, fid, cursors, req.Params); err != nil {
			return fmt.Errorf("commitworker: partition %d: %w", fid, err)
		}
	}
	return nil
}

type tableCursor struct {
	uid uint64
	tid uint32
	it  *memtable.Iterator
}

func (c *tableCursor) hasRowsUpTo(maxKey int64) bool {
	return c.it != nil && c.it.Valid() && c.it.Row().Key <= maxKey
}

func commitPartition(fs vfs.FS, store *fgroup.Store, fid int64, cursors []*tableCursor, params Params) error {
	minKey, maxKey := partition.KeyRangeOf(fid, params.DaysPerFile, params.Precision)

	anyActive := false
	for _, c := range cursors {
		if c.hasRowsUpTo(maxKey) {
			anyActive = true
			break
		}
	}
	if !anyActive {
		return nil // no table has rows in this partition: touch nothing
	}

	fg, _, ok := store.Search(fid)
	if !ok {
		var err error
		fg, err = store.Create(fid, params.MaxTables)
		if err != nil {
			return fmt.Errorf("create file group: %w", err)
		}
	}

	handle, err := store.OpenForCommit(fid)
	if err != nil {
		return fmt.Errorf("open for commit: %w", err)
	}
	defer handle.Close()

	oldIdxBuf := make([]byte, params.MaxTables*block.CompIdxSize)
	if _, err := handle.OldHead.ReadAt(oldIdxBuf, block.HeadSize); err != nil {
		return fmt.Errorf("read old CompIdx table: %w", err)
	}
	oldIdx, err := block.DecodeCompIdxTable(oldIdxBuf, params.MaxTables)
	if err != nil {
		return fmt.Errorf("decode old CompIdx table: %w", err)
	}

	newHeadPath := handle.NewHeadPath()
	newLastPath := handle.NewLastPath()

	newHead, err := fs.Create(newHeadPath)
	if err != nil {
		return fmt.Errorf("create new head: %w", err)
	}
	defer newHead.Close()

	newLast, err := fs.Create(newLastPath)
	if err != nil {
		return fmt.Errorf("create new last: %w", err)
	}
	defer newLast.Close()

	byTID := make(map[uint32]*tableCursor, len(cursors))
	for _, c := range cursors {
		byTID[c.tid] = c
	}

	newIdx := make([]block.CompIdx, params.MaxTables)
	var infoBlobs [][]byte

	for tid := 0; tid < params.MaxTables; tid++ {
		old := oldIdx[tid]
		cur := byTID[uint32(tid)]

		var (
			idx  block.CompIdx
			info []byte
		)
		switch {
		case cur != nil && cur.hasRowsUpTo(maxKey):
			idx, info, err = mergeCommitTable(handle, newLast, cur, old, minKey, maxKey, params)
		case old.Len > 0:
			idx, info, err = carryForward(handle, newLast, old)
		default:
			idx = block.CompIdx{}
		}
		if err != nil {
			return fmt.Errorf("table slot %d: %w", tid, err)
		}
		newIdx[tid] = idx
		infoBlobs = append(infoBlobs, info)
	}

	// Assemble the new head file: zero header, then the fixed CompIdx
	// table, then every table's CompInfo region back to back. Offsets are
	// fixed up as we know them, mirroring fgroup.Store.Create's build order.
	base := int64(block.HeadSize + params.MaxTables*block.CompIdxSize)
	pos := base
	for i, info := range infoBlobs {
		if len(info) == 0 {
			continue
		}
		newIdx[i].Offset = uint64(pos)
		pos += int64(len(info))
	}

	var head bytes.Buffer
	head.Write(make([]byte, block.HeadSize))
	head.Write(block.EncodeCompIdxTable(newIdx, params.MaxTables))
	for _, info := range infoBlobs {
		head.Write(info)
	}
	if _, err := newHead.Write(head.Bytes()); err != nil {
		return fmt.Errorf("write new head: %w", err)
	}
	if err := newHead.Sync(); err != nil {
		return fmt.Errorf("sync new head: %w", err)
	}
	if err := newLast.Sync(); err != nil {
		return fmt.Errorf("sync new last: %w", err)
	}
	if err := handle.Data.Sync(); err != nil {
		return fmt.Errorf("sync data file: %w", err)
	}

	if err := store.PublishLast(fg, newLastPath); err != nil {
		return fmt.Errorf("publish last: %w", err)
	}
	if err := store.PublishHead(fg, newHeadPath); err != nil {
		return fmt.Errorf("publish head: %w", err)
	}
	return nil
}

// mergeCommitTable runs spec.md §4.7.1's read/merge/append loop for one
// table within one partition. It always prefers merging a pending old
// last block over leaving it stranded behind a fresh one — DESIGN.md
// records this as the chosen resolution of the "either merge or append
// plus new empty last" ambiguity the scenario S3 deliberately leaves open
// to implementers.
func mergeCommitTable(handle *fgroup.Handle, newLast vfs.WritableFile, cur *tableCursor, old block.CompIdx, minKey, maxKey int64, params Params) (block.CompIdx, []byte, error) {
	// carried holds every pre-existing super-block for this table in this
	// partition that this round's merge loop does not itself rewrite: all
	// of them, unless the tail is a "last" block in range, in which case
	// everything but that tail carries forward untouched (its data-file
	// offsets stay valid — the data file is never rewritten, only
	// appended to) and the tail itself is merged below instead of copied.
	var carried []block.CompBlock
	var oldLastBlock *block.CompBlock
	var oldLastRows []memtable.Row
	if old.Len > 0 {
		info, err := loadCompInfo(handle.OldHead, old)
		if err != nil {
			return block.CompIdx{}, nil, err
		}
		oldBlocks := info.Blocks
		n := len(oldBlocks)
		if old.HasLast && n > 0 && oldBlocks[n-1].Last {
			carried = append(carried, oldBlocks[:n-1]...)
			tail := oldBlocks[n-1]
			if tail.KeyFirst <= maxKey && tail.KeyLast >= minKey {
				rows, err := loadRowsFromBlock(handle.OldLast, tail)
				if err != nil {
					return block.CompIdx{}, nil, err
				}
				oldLastBlock = &tail
				oldLastRows = rows
			} else {
				// Out of this round's key range (shouldn't happen for a
				// block already confined to this partition, but the old
				// last file is about to be replaced regardless, so its
				// bytes must migrate rather than be silently dropped).
				migrated, err := rewriteBlockBytes(handle.OldLast, tail, newLast)
				if err != nil {
					return block.CompIdx{}, nil, err
				}
				carried = append(carried, migrated)
			}
		} else {
			carried = append(carried, oldBlocks...)
		}
	}

	readCap := (params.MaxRowsPerFileBlock * 4) / 5
	if readCap < 1 {
		readCap = params.MaxRowsPerFileBlock
	}

	blocks := append([]block.CompBlock(nil), carried...)
	consumedOldLast := oldLastBlock == nil
	maxKeySeen := old.MaxKey

	for {
		newRows := collectRows(cur.it, maxKey, readCap)
		if len(newRows) == 0 && consumedOldLast {
			break
		}

		var rows []memtable.Row
		writeLast := false
		if !consumedOldLast {
			rows = mergeRowSets(oldLastRows, newRows)
			consumedOldLast = true
			if len(rows) < params.MinRowsPerFileBlock || !cur.hasRowsUpTo(maxKey) {
				writeLast = true
			}
		} else {
			rows = newRows
			writeLast = len(rows) < params.MinRowsPerFileBlock
		}
		if len(rows) == 0 {
			continue
		}

		dst := handle.Data
		if writeLast {
			dst = newLast
		}
		cb, err := appendBlock(dst, cur.uid, rows, params.Compression)
		if err != nil {
			return block.CompIdx{}, nil, err
		}
		cb.Last = writeLast
		blocks = append(blocks, cb)
		if cb.KeyLast > maxKeySeen {
			maxKeySeen = cb.KeyLast
		}
		if !cur.hasRowsUpTo(maxKey) {
			break
		}
	}

	for i := 0; i < len(blocks)-1; i++ {
		blocks[i].Last = false
	}

	info := block.CompInfo{TableUID: cur.uid, TableTID: cur.tid, Blocks: blocks}
	encoded := info.Encode(nil)
	idx := block.CompIdx{
		Len:            uint32(len(encoded)),
		MaxKey:         maxKeySeen,
		NumSuperBlocks: uint32(len(blocks)),
		HasLast:        len(blocks) > 0 && blocks[len(blocks)-1].Last,
		Checksum:       block.Checksum(encoded),
	}
	return idx, encoded, nil
}

// carryForward handles a table untouched by this commit: its existing
// CompInfo is copied into the new head unchanged, and if it has a last
// block, that block's bytes are rewritten into the new last file (which
// is rebuilt fresh every commit, per DESIGN.md's reading of "under
// normal policy" in §4.7 step b as always rotating the last file).
func carryForward(handle *fgroup.Handle, newLast vfs.WritableFile, old block.CompIdx) (block.CompIdx, []byte, error) {
	info, err := loadCompInfo(handle.OldHead, old)
	if err != nil {
		return block.CompIdx{}, nil, err
	}
	if old.HasLast && len(info.Blocks) > 0 {
		last := len(info.Blocks) - 1
		rewritten, err := rewriteBlockBytes(handle.OldLast, info.Blocks[last], newLast)
		if err != nil {
			return block.CompIdx{}, nil, err
		}
		info.Blocks[last] = rewritten
	}
	encoded := info.Encode(nil)
	idx := old
	idx.Len = uint32(len(encoded))
	idx.Checksum = block.Checksum(encoded)
	return idx, encoded, nil
}

// collectRows drains up to limit rows with Key <= maxKey from it, advancing
// it in place.
func collectRows(it *memtable.Iterator, maxKey int64, limit int) []memtable.Row {
	if it == nil {
		return nil
	}
	var rows []memtable.Row
	for it.Valid() && len(rows) < limit {
		row := it.Row()
		if row.Key > maxKey {
			break
		}
		rows = append(rows, row)
		it.Next()
	}
	return rows
}

// mergeRowSets merges old (already key-sorted) with new (already
// key-sorted) by ascending key. On equal keys the new row wins, per
// spec.md §4.7.1's merge tie-break; within either source, relative order
// is preserved.
func mergeRowSets(old, add []memtable.Row) []memtable.Row {
	out := make([]memtable.Row, 0, len(old)+len(add))
	i, j := 0, 0
	for i < len(old) && j < len(add) {
		switch {
		case old[i].Key < add[j].Key:
			out = append(out, old[i])
			i++
		case old[i].Key > add[j].Key:
			out = append(out, add[j])
			j++
		default:
			out = append(out, add[j]) // new wins the tie; old[i] is dropped
			i++
			j++
		}
	}
	out = append(out, old[i:]...)
	out = append(out, add[j:]...)
	return out
}

// rowColID is the synthetic single column every block stores its rows
// under. Splitting rows into their schema's real columns is the meta
// catalogue's job (spec.md Non-goals); this engine persists each row as
// a self-describing length-prefixed record within one opaque column, so
// the on-disk block/trailer format is fully exercised without requiring
// schema resolution.
const rowColID = 0

func encodeRowBlob(rows []memtable.Row) []byte {
	var buf []byte
	var hdr [12]byte
	for _, r := range rows {
		encoding.EncodeFixed32(hdr[0:4], uint32(8+len(r.Data)))
		encoding.EncodeFixed64(hdr[4:12], uint64(r.Key))
		buf = append(buf, hdr[:]...)
		buf = append(buf, r.Data...)
	}
	return buf
}

func decodeRowBlob(blob []byte) ([]memtable.Row, error) {
	var rows []memtable.Row
	rest := blob
	seq := uint64(0)
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, errNoTrailer
		}
		n := encoding.DecodeFixed32(rest[0:4])
		if n < 8 || uint64(4)+uint64(n) > uint64(len(rest)) {
			return nil, errNoTrailer
		}
		key := int64(encoding.DecodeFixed64(rest[4:12]))
		payload := rest[12 : 4+n]
		rows = append(rows, memtable.Row{Key: key, Seq: seq, Data: append([]byte(nil), payload...)})
		seq++
		rest = rest[4+n:]
	}
	return rows, nil
}

// appendBlock writes rows as one new super-block to w: the column payload
// first, then the CompData trailer whose Offset the returned CompBlock
// records. CompCol.Offset is the payload's position relative to the
// trailer, matching the read path's block_base_offset + col.offset walk.
func appendBlock(w vfs.WritableFile, uid uint64, rows []memtable.Row, comp compression.Type) (block.CompBlock, error) {
	raw := encodeRowBlob(rows)
	payload, err := compression.Compress(comp, raw)
	if err != nil {
		return block.CompBlock{}, fmt.Errorf("compress block: %w", err)
	}
	dataStart, err := w.Size()
	if err != nil {
		return block.CompBlock{}, err
	}
	if _, err := w.Write(payload); err != nil {
		return block.CompBlock{}, err
	}
	trailerOffset := dataStart + int64(len(payload))
	cd := block.CompData{
		TableUID: uid,
		Cols:     []block.CompCol{{ColID: rowColID, Type: 0, Offset: dataStart - trailerOffset, Len: uint32(len(payload))}},
	}
	trailer := cd.Encode(nil)
	if _, err := w.Write(trailer); err != nil {
		return block.CompBlock{}, err
	}
	return block.CompBlock{
		Offset:      uint64(trailerOffset),
		NumPoints:   uint32(len(rows)),
		NumCols:     1,
		KeyFirst:    rows[0].Key,
		KeyLast:     rows[len(rows)-1].Key,
		Compression: comp,
	}, nil
}

// loadRowsFromBlock reads cb's trailer and its one column's payload from
// src, decompresses, and decodes it back into rows.
func loadRowsFromBlock(src vfs.RandomAccessFile, cb block.CompBlock) ([]memtable.Row, error) {
	cd, err := readTrailer(src, cb)
	if err != nil {
		return nil, err
	}
	if len(cd.Cols) == 0 {
		return nil, nil
	}
	col := cd.Cols[0]
	raw := make([]byte, col.Len)
	if _, err := src.ReadAt(raw, int64(cb.Offset)+col.Offset); err != nil {
		return nil, fmt.Errorf("read column payload: %w", err)
	}
	decompressed, err := compression.Decompress(cb.Compression, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress column: %w", err)
	}
	return decodeRowBlob(decompressed)
}

// rewriteBlockBytes copies a block's raw (still-compressed) column bytes
// from src to dst verbatim, recomputing its CompBlock/CompData offsets
// relative to dst's new trailer position. Used to carry a last block
// forward into a freshly-rebuilt last file without touching its payload.
func rewriteBlockBytes(src vfs.RandomAccessFile, cb block.CompBlock, dst vfs.WritableFile) (block.CompBlock, error) {
	cd, err := readTrailer(src, cb)
	if err != nil {
		return block.CompBlock{}, err
	}
	colBufs := make([][]byte, len(cd.Cols))
	for i, c := range cd.Cols {
		b := make([]byte, c.Len)
		if _, err := src.ReadAt(b, int64(cb.Offset)+c.Offset); err != nil {
			return block.CompBlock{}, fmt.Errorf("read column %d: %w", c.ColID, err)
		}
		colBufs[i] = b
	}
	dataStart, err := dst.Size()
	if err != nil {
		return block.CompBlock{}, err
	}
	pos := dataStart
	offsets := make([]int64, len(colBufs))
	for i, b := range colBufs {
		if _, err := dst.Write(b); err != nil {
			return block.CompBlock{}, err
		}
		offsets[i] = pos
		pos += int64(len(b))
	}
	trailerOffset := pos
	newCD := block.CompData{TableUID: cd.TableUID}
	for i, c := range cd.Cols {
		newCD.Cols = append(newCD.Cols, block.CompCol{ColID: c.ColID, Type: c.Type, Offset: offsets[i] - trailerOffset, Len: c.Len})
	}
	if _, err := dst.Write(newCD.Encode(nil)); err != nil {
		return block.CompBlock{}, err
	}
	newCB := cb
	newCB.Offset = uint64(trailerOffset)
	return newCB, nil
}

func readTrailer(src vfs.RandomAccessFile, cb block.CompBlock) (block.CompData, error) {
	trailerLen := 4 + 8 + 4 + int(cb.NumCols)*block.CompColSize
	buf := make([]byte, trailerLen)
	if _, err := src.ReadAt(buf, int64(cb.Offset)); err != nil {
		return block.CompData{}, fmt.Errorf("read trailer: %w", err)
	}
	return block.DecodeCompData(buf)
}

func loadCompInfo(src vfs.RandomAccessFile, idx block.CompIdx) (block.CompInfo, error) {
	buf := make([]byte, idx.Len)
	if _, err := src.ReadAt(buf, int64(idx.Offset)); err != nil {
		return block.CompInfo{}, fmt.Errorf("read CompInfo: %w", err)
	}
	if err := block.VerifyCompInfo(idx, buf); err != nil {
		return block.CompInfo{}, err
	}
	return block.DecodeCompInfo(buf)
}
