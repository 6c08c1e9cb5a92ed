package memtable

import "testing"

func TestTableInsertTracksKeyRange(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(50, []byte("a"))
	tbl.Insert(10, []byte("b"))
	tbl.Insert(90, []byte("c"))
	if tbl.KeyFirst() != 10 {
		t.Errorf("KeyFirst() = %d, want 10", tbl.KeyFirst())
	}
	if tbl.KeyLast() != 90 {
		t.Errorf("KeyLast() = %d, want 90", tbl.KeyLast())
	}
	if tbl.NumPoints() != 3 {
		t.Errorf("NumPoints() = %d, want 3", tbl.NumPoints())
	}
}

func TestTableDuplicateKeyInsertionOrder(t *testing.T) {
	// spec.md S4: two rows at key=1000 with payloads A then B must read
	// back A then B.
	tbl := NewTable()
	tbl.Insert(1000, []byte("A"))
	tbl.Insert(1000, []byte("B"))

	it := tbl.mem.NewIterator()
	it.SeekToFirst()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Row().Data))
	}
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("got %v, want [A B]", got)
	}
}

func TestTableFreezeProducesImemCursor(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(1, []byte("x"))
	tbl.Insert(2, []byte("y"))

	retrying := tbl.Freeze()
	if retrying {
		t.Fatal("first Freeze should not be a retry")
	}
	if !tbl.Empty() {
		t.Fatal("mem should be empty immediately after Freeze")
	}

	cur := tbl.ImemCursor()
	if cur == nil {
		t.Fatal("expected non-nil cursor over frozen snapshot")
	}
	var keys []int64
	for ; cur.Valid(); cur.Next() {
		keys = append(keys, cur.Row().Key)
	}
	if len(keys) != 2 || keys[0] != 1 || keys[1] != 2 {
		t.Fatalf("got %v, want [1 2]", keys)
	}
}

func TestTableFreezeRetryPinsSameSnapshot(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(1, []byte("x"))
	tbl.Freeze()
	tbl.CommitDone(false) // failed commit, imem stays pinned

	tbl.Insert(2, []byte("y")) // writer keeps going on the fresh mem

	retrying := tbl.Freeze()
	if !retrying {
		t.Fatal("Freeze over a pinned imem must report retrying=true")
	}
	if tbl.NumPoints() != 1 {
		t.Fatalf("mem should still hold the post-failure insert, NumPoints() = %d", tbl.NumPoints())
	}
	cur := tbl.ImemCursor()
	if cur.Row().Key != 1 {
		t.Fatalf("retry must not disturb the original pinned snapshot")
	}
}

func TestTableCommitDoneSuccessClearsImem(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(1, []byte("x"))
	tbl.Freeze()
	tbl.CommitDone(true)
	if tbl.HasPinnedSnapshot() {
		t.Fatal("imem should be cleared after successful CommitDone")
	}
	if tbl.ImemCursor() != nil {
		t.Fatal("ImemCursor should be nil once imem is cleared")
	}
}

func TestTableImemKeyRange(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(30, nil)
	tbl.Insert(10, nil)
	tbl.Insert(20, nil)
	tbl.Freeze()
	first, last, ok := tbl.ImemKeyRange()
	if !ok || first != 10 || last != 30 {
		t.Fatalf("got (%d, %d, %v), want (10, 30, true)", first, last, ok)
	}
}

func TestEmptyTableImemKeyRange(t *testing.T) {
	tbl := NewTable()
	tbl.Freeze()
	if _, _, ok := tbl.ImemKeyRange(); ok {
		t.Fatal("empty imem should report ok=false")
	}
}
