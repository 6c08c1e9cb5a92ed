// Package memtable implements the per-table in-memory ordered index of
// rows: a skip list keyed by timestamp, with row bytes living in a shared
// arena rather than in the node itself.
//
// The height/branching machinery below is the teacher's
// internal/memtable/skiplist.go kept close to verbatim — it is generic,
// concurrency-oriented scaffolding that has nothing to do with RocksDB's
// internal-key format. What changes is what gets stored at each node: not
// an opaque comparator-ordered []byte key, but a Row{Key, Seq, Data}, with
// ties between equal timestamps broken by a monotonic insertion sequence
// instead of being rejected as duplicates.
//
// Reference: spec.md §4.5 and §9's {key_of, compare, size_of} capability
// record design note — monomorphic here, since only timestamps are keyed.
package memtable

import (
	"math/rand"
	"sync/atomic"
)

const (
	// DefaultMaxHeight is the maximum height a skip list node can reach.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor is the skip list's fan-out, per spec.md §4.5.
	DefaultBranchingFactor = 5
)

// Row is one entry carried by the skip list. Data is a slice carved from
// the shared arena; the skip list itself owns only ordering topology.
type Row struct {
	Key  int64
	Seq  uint64 // insertion-order tie-break for equal keys
	Data []byte
}

// Capability is the {key_of, compare, size_of} record spec.md §9
// prescribes in place of RocksDB's hardcoded internal-key comparator.
type Capability struct {
	KeyOf   func(Row) int64
	Compare func(a, b Row) int
	SizeOf  func(Row) int
}

// DefaultCapability orders rows by (Key, Seq): equal timestamps are
// ordered by insertion sequence, so later inserts sort after earlier ones
// and are therefore read last, per spec.md §4.5's duplicate-key policy.
func DefaultCapability() Capability {
	return Capability{
		KeyOf: func(r Row) int64 { return r.Key },
		Compare: func(a, b Row) int {
			if a.Key != b.Key {
				if a.Key < b.Key {
					return -1
				}
				return 1
			}
			if a.Seq != b.Seq {
				if a.Seq < b.Seq {
					return -1
				}
				return 1
			}
			return 0
		},
		SizeOf: func(r Row) int { return len(r.Data) },
	}
}

type skipNode struct {
	row  Row
	next []*atomic.Pointer[skipNode]
}

func newSkipNode(row Row, height int) *skipNode {
	n := &skipNode{row: row, next: make([]*atomic.Pointer[skipNode], height)}
	for i := range n.next {
		n.next[i] = &atomic.Pointer[skipNode]{}
	}
	return n
}

func (n *skipNode) getNext(level int) *skipNode       { return n.next[level].Load() }
func (n *skipNode) setNext(level int, node *skipNode) { n.next[level].Store(node) }

// skipList is a lock-free-for-reads skip list over Row, ordered by a
// Capability. Writes require external synchronization (the single writer
// thread, per spec.md §5).
type skipList struct {
	head      *skipNode
	maxHeight int32
	cap       Capability
	rng       *rand.Rand

	kMaxHeight  int
	kBranching  int
	kScaledInvB uint32

	count int64
}

func newSkipList(cap Capability) *skipList {
	return newSkipListWithParams(cap, DefaultMaxHeight, DefaultBranchingFactor)
}

func newSkipListWithParams(cap Capability, maxHeight, branching int) *skipList {
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branching <= 0 {
		branching = DefaultBranchingFactor
	}
	return &skipList{
		head:        newSkipNode(Row{}, maxHeight),
		maxHeight:   1,
		cap:         cap,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  maxHeight,
		kBranching:  branching,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(branching),
	}
}

// insert adds row to the list. The (Key, Seq) pair is always unique by
// construction (Seq is assigned by the owning Table), so this never
// collides with an existing entry.
func (sl *skipList) insert(row Row) {
	prev := make([]*skipNode, sl.kMaxHeight)
	sl.findGreaterOrEqual(row, prev)

	height := sl.randomHeight()
	maxH := int(atomic.LoadInt32(&sl.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	node := newSkipNode(row, height)
	for i := 0; i < height; i++ {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	atomic.AddInt64(&sl.count, 1)
}

func (sl *skipList) Count() int64 { return atomic.LoadInt64(&sl.count) }

func (sl *skipList) findGreaterOrEqual(row Row, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.cap.Compare(row, next.row) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (sl *skipList) findLast() *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1
	for {
		next := x.getNext(level)
		if next != nil {
			x = next
		} else {
			if level == 0 {
				if x == sl.head {
					return nil
				}
				return x
			}
			level--
		}
	}
}

func (sl *skipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight {
		if sl.rng.Uint32() < sl.kScaledInvB {
			height++
		} else {
			break
		}
	}
	return height
}

// Iterator walks a skipList in key order. spec.md §4.7 step 1 requires
// commit cursors to start advanced to the first element.
type Iterator struct {
	list *skipList
	node *skipNode
}

func (sl *skipList) NewIterator() *Iterator { return &Iterator{list: sl} }

func (it *Iterator) Valid() bool { return it.node != nil }

func (it *Iterator) Row() Row {
	if it.node == nil {
		return Row{}
	}
	return it.node.row
}

func (it *Iterator) Next() {
	if it.node != nil {
		it.node = it.node.getNext(0)
	}
}

func (it *Iterator) SeekToFirst() { it.node = it.list.head.getNext(0) }
func (it *Iterator) SeekToLast()  { it.node = it.list.findLast() }
