package memtable

// Table is the per-table in-memory index: spec.md §4.5's Memtable. It owns
// only skip-list topology; row bytes live in the caller's shared arena.
// Created lazily by the insert path on a table's first row.
type Table struct {
	cap Capability

	mem  *skipList
	imem *skipList // non-nil only while a commit snapshot is pinned

	hasRows  bool
	keyFirst int64
	keyLast  int64
	nextSeq  uint64
}

// NewTable creates an empty, active Table using the default
// timestamp-ordered capability.
func NewTable() *Table {
	return &Table{cap: DefaultCapability(), mem: newSkipList(DefaultCapability())}
}

// Insert adds a row with the given key and payload to the active
// generation, updating key_first/key_last. Equal keys are always
// accepted; relative order among equal keys follows insertion order.
func (t *Table) Insert(key int64, data []byte) {
	row := Row{Key: key, Seq: t.nextSeq, Data: data}
	t.nextSeq++
	t.mem.insert(row)
	if !t.hasRows || key < t.keyFirst {
		t.keyFirst = key
	}
	if !t.hasRows || key > t.keyLast {
		t.keyLast = key
	}
	t.hasRows = true
}

// KeyFirst, KeyLast and NumPoints describe the active generation.
func (t *Table) KeyFirst() int64  { return t.keyFirst }
func (t *Table) KeyLast() int64   { return t.keyLast }
func (t *Table) NumPoints() int64 { return t.mem.Count() }
func (t *Table) Empty() bool      { return t.mem.Count() == 0 }

// Freeze renames the active generation into imem and installs a fresh
// empty one, unless a prior commit's imem is still pinned (a previous
// commit failed, per spec.md §7) — in that case no swap happens and
// retrying reports true so the caller retries over the existing snapshot.
// Must be called under the repository mutex, alongside arena.CommitBegin.
func (t *Table) Freeze() (retrying bool) {
	if t.imem != nil {
		return true
	}
	t.imem = t.mem
	t.mem = newSkipList(t.cap)
	t.hasRows = false
	t.keyFirst, t.keyLast = 0, 0
	return false
}

// HasPinnedSnapshot reports whether a prior failed commit left imem pinned.
func (t *Table) HasPinnedSnapshot() bool { return t.imem != nil }

// CommitDone resolves the pinned imem. On success it is discarded (the
// caller is responsible for returning the arena slabs it referenced). On
// failure it is left pinned for the next commit to retry.
func (t *Table) CommitDone(success bool) {
	if success {
		t.imem = nil
	}
}

// ImemCursor returns an iterator over the frozen snapshot, already
// advanced to the first element per spec.md §4.7 step 1. Returns nil if
// imem is empty or absent.
func (t *Table) ImemCursor() *Iterator {
	if t.imem == nil || t.imem.Count() == 0 {
		return nil
	}
	it := t.imem.NewIterator()
	it.SeekToFirst()
	return it
}

// ImemKeyRange returns the min/max key of the frozen snapshot by scanning
// it once; used by the commit worker to compute the file-id span.
func (t *Table) ImemKeyRange() (first, last int64, ok bool) {
	it := t.ImemCursor()
	if it == nil {
		return 0, 0, false
	}
	first = it.Row().Key
	last = first
	for ; it.Valid(); it.Next() {
		k := it.Row().Key
		if k < first {
			first = k
		}
		if k > last {
			last = k
		}
	}
	return first, last, true
}
