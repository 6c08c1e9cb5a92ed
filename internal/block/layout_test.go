package block

import (
	"bytes"
	"testing"

	"github.com/flowtsdb/tsdbengine/internal/compression"
)

func TestCompIdxRoundTrip(t *testing.T) {
	idx := CompIdx{
		Offset:         1024,
		Len:            256,
		MaxKey:         -99,
		NumSuperBlocks: 3,
		HasLast:        true,
		Checksum:       0xdeadbeef,
	}
	buf := make([]byte, CompIdxSize)
	EncodeCompIdx(buf, idx)
	got, err := DecodeCompIdx(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != idx {
		t.Errorf("got %+v, want %+v", got, idx)
	}
}

func TestCompIdxTableZeroFill(t *testing.T) {
	idx := []CompIdx{{Offset: 512, Len: 10}}
	enc := EncodeCompIdxTable(idx, 4)
	if len(enc) != 4*CompIdxSize {
		t.Fatalf("len = %d, want %d", len(enc), 4*CompIdxSize)
	}
	dec, err := DecodeCompIdxTable(enc, 4)
	if err != nil {
		t.Fatal(err)
	}
	if dec[0] != idx[0] {
		t.Errorf("entry 0 = %+v, want %+v", dec[0], idx[0])
	}
	for i := 1; i < 4; i++ {
		if dec[i].Len != 0 {
			t.Errorf("entry %d: Len = %d, want 0", i, dec[i].Len)
		}
	}
}

func TestCompBlockRoundTrip(t *testing.T) {
	b := CompBlock{
		Offset:         4096,
		NumPoints:      128,
		NumCols:        5,
		KeyFirst:       100,
		KeyLast:        999,
		Last:           true,
		Compression:    compression.ZstdCompression,
		NumSubBlocks:   3,
		SubBlockOffset: 7,
	}
	buf := make([]byte, CompBlockSize)
	EncodeCompBlock(buf, b)
	got, err := DecodeCompBlock(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != b {
		t.Errorf("got %+v, want %+v", got, b)
	}
	if got.IsLeaf() {
		t.Errorf("super-block with NumSubBlocks=3 reported as leaf")
	}
}

func TestCompBlockLeaf(t *testing.T) {
	for _, n := range []uint32{0, 1} {
		b := CompBlock{NumSubBlocks: n}
		if !b.IsLeaf() {
			t.Errorf("NumSubBlocks=%d should be a leaf block", n)
		}
	}
}

func TestCompInfoRoundTrip(t *testing.T) {
	ci := CompInfo{
		TableUID: 0xabc123,
		TableTID: 7,
		Blocks: []CompBlock{
			{Offset: 10, NumPoints: 1, KeyFirst: 1, KeyLast: 1},
			{Offset: 20, NumPoints: 2, KeyFirst: 2, KeyLast: 3, NumSubBlocks: 2, SubBlockOffset: 0},
		},
	}
	enc := ci.Encode(nil)
	if len(enc) != ci.EncodedLen() {
		t.Fatalf("EncodedLen = %d, actual = %d", ci.EncodedLen(), len(enc))
	}
	got, err := DecodeCompInfo(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.TableUID != ci.TableUID || got.TableTID != ci.TableTID || len(got.Blocks) != len(ci.Blocks) {
		t.Fatalf("got %+v, want %+v", got, ci)
	}
	for i := range ci.Blocks {
		if got.Blocks[i] != ci.Blocks[i] {
			t.Errorf("block %d: got %+v, want %+v", i, got.Blocks[i], ci.Blocks[i])
		}
	}
}

func TestCompInfoChecksum(t *testing.T) {
	ci := CompInfo{TableUID: 1, TableTID: 1, Blocks: []CompBlock{{Offset: 1, NumPoints: 1}}}
	enc := ci.Encode(nil)
	sum := Checksum(enc)
	idx := CompIdx{Len: uint32(len(enc)), Checksum: sum}
	if err := VerifyCompInfo(idx, enc); err != nil {
		t.Fatalf("VerifyCompInfo failed: %v", err)
	}
	enc[0] ^= 0xff
	if err := VerifyCompInfo(idx, enc); err == nil {
		t.Fatal("expected checksum mismatch after corruption")
	}
}

func TestCompDataRoundTrip(t *testing.T) {
	cd := CompData{
		TableUID: 42,
		Cols: []CompCol{
			{ColID: 0, Type: 1, Offset: -128, Len: 64},
			{ColID: 1, Type: 2, Offset: -64, Len: 64},
		},
	}
	enc := cd.Encode(nil)
	if len(enc) != cd.EncodedLen() {
		t.Fatalf("EncodedLen = %d, actual = %d", cd.EncodedLen(), len(enc))
	}
	got, err := DecodeCompData(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.TableUID != cd.TableUID || len(got.Cols) != len(cd.Cols) {
		t.Fatalf("got %+v, want %+v", got, cd)
	}
	for i := range cd.Cols {
		if got.Cols[i] != cd.Cols[i] {
			t.Errorf("col %d: got %+v, want %+v", i, got.Cols[i], cd.Cols[i])
		}
	}
}

func TestCompDataBadDelimiter(t *testing.T) {
	cd := CompData{TableUID: 1, Cols: []CompCol{{ColID: 0, Type: 0, Len: 1}}}
	enc := cd.Encode(nil)
	enc[0] ^= 0xff
	if _, err := DecodeCompData(enc); err != ErrBadDelimiter {
		t.Fatalf("got %v, want ErrBadDelimiter", err)
	}
}

func TestCompDataShortBuffer(t *testing.T) {
	if _, err := DecodeCompData([]byte{1, 2, 3}); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
	if _, err := DecodeCompIdx([]byte{1, 2, 3}); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
	if _, err := DecodeCompBlock(bytes.Repeat([]byte{0}, 4)); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}
