package partition

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		key         int64
		daysPerFile int32
		precision   Precision
	}{
		{0, 1, Milli},
		{86_399_999, 1, Milli},
		{86_400_000, 1, Milli},
		{-1, 1, Milli},
		{-86_400_001, 1, Milli},
		{123456789, 10, Milli},
		{0, 1, Micro},
		{0, 1, Nano},
	}

	for _, c := range cases {
		fid := FileIDOf(c.key, c.daysPerFile, c.precision)
		minKey, maxKey := KeyRangeOf(fid, c.daysPerFile, c.precision)
		if c.key < minKey || c.key > maxKey {
			t.Errorf("key=%d daysPerFile=%d precision=%d: fid=%d range=[%d,%d] does not contain key",
				c.key, c.daysPerFile, c.precision, fid, minKey, maxKey)
		}
	}
}

func TestS2Straddle(t *testing.T) {
	// spec.md S2: days_per_file=1, precision=MILLI; keys {0, 86_399_999, 86_400_000}
	// land in FGroup 0, 0, 1 respectively.
	want := []int64{0, 0, 1}
	keys := []int64{0, 86_399_999, 86_400_000}
	for i, k := range keys {
		fid := FileIDOf(k, 1, Milli)
		if fid != want[i] {
			t.Errorf("FileIDOf(%d) = %d, want %d", k, fid, want[i])
		}
	}
}

func TestKeyRangeOfWidth(t *testing.T) {
	minKey, maxKey := KeyRangeOf(5, 10, Milli)
	wantMin := int64(5) * 10 * MsPerDay(Milli)
	if minKey != wantMin {
		t.Errorf("minKey = %d, want %d", minKey, wantMin)
	}
	if maxKey != minKey+Window(10, Milli)-1 {
		t.Errorf("maxKey = %d, want %d", maxKey, minKey+Window(10, Milli)-1)
	}
}

func TestNegativeKeys(t *testing.T) {
	fid := FileIDOf(-1, 1, Milli)
	if fid != -1 {
		t.Errorf("FileIDOf(-1) = %d, want -1", fid)
	}
	minKey, maxKey := KeyRangeOf(-1, 1, Milli)
	if -1 < minKey || -1 > maxKey {
		t.Errorf("range [%d,%d] does not contain -1", minKey, maxKey)
	}
}
