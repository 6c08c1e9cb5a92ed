package wire

import (
	"encoding/binary"
	"testing"
)

func encodeRow(key int64, payload []byte) []byte {
	row := make([]byte, rowHeaderSize+len(payload))
	binary.BigEndian.PutUint32(row[0:4], uint32(8+len(payload)))
	binary.BigEndian.PutUint64(row[4:12], uint64(key))
	copy(row[12:], payload)
	return row
}

func encodeBlock(uid uint64, tid uint32, rows []byte) []byte {
	blk := make([]byte, blkHeaderSize+len(rows))
	binary.BigEndian.PutUint32(blk[0:4], uint32(len(rows)))
	binary.BigEndian.PutUint16(blk[4:6], 1)
	binary.BigEndian.PutUint64(blk[6:14], uid)
	binary.BigEndian.PutUint32(blk[14:18], tid)
	binary.BigEndian.PutUint32(blk[18:22], 1) // sversion
	binary.BigEndian.PutUint32(blk[22:26], 0) // padding
	copy(blk[blkHeaderSize:], rows)
	return blk
}

func encodeMsg(blocks [][]byte) []byte {
	var body []byte
	for _, b := range blocks {
		body = append(body, b...)
	}
	msg := make([]byte, msgHeaderSize+len(body))
	binary.BigEndian.PutUint32(msg[0:4], uint32(len(msg)))
	binary.BigEndian.PutUint32(msg[4:8], uint32(len(blocks)))
	binary.BigEndian.PutUint32(msg[8:12], 0)
	copy(msg[msgHeaderSize:], body)
	return msg
}

func TestDecodeRoundTrip(t *testing.T) {
	row := encodeRow(1000, []byte("payload"))
	blk := encodeBlock(42, 7, row)
	raw := encodeMsg([][]byte{blk})

	msg, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.NumBlocks != 1 || len(msg.Blocks) != 1 {
		t.Fatalf("NumBlocks = %d, len(Blocks) = %d", msg.NumBlocks, len(msg.Blocks))
	}
	b := msg.Blocks[0]
	if b.UID != 42 || b.TID != 7 || b.NumRows != 1 {
		t.Fatalf("got %+v", b)
	}

	rows, err := DecodeRows(b.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Key != 1000 || string(rows[0].Payload) != "payload" {
		t.Fatalf("got %+v", rows)
	}
}

func TestDecodeMultipleBlocksAndRows(t *testing.T) {
	row1 := encodeRow(1, []byte("a"))
	row2 := encodeRow(2, []byte("bb"))
	blk1 := encodeBlock(1, 1, append(append([]byte{}, row1...), row2...))
	blk2 := encodeBlock(2, 1, encodeRow(99, nil))
	raw := encodeMsg([][]byte{blk1, blk2})

	msg, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Blocks) != 2 {
		t.Fatalf("len(Blocks) = %d, want 2", len(msg.Blocks))
	}
	rows, err := DecodeRows(msg.Blocks[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Key != 1 || rows[1].Key != 2 {
		t.Fatalf("got %+v", rows)
	}
}

func TestDecodeTruncatedMessageHeader(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestDecodeBlockLengthExceedsBuffer(t *testing.T) {
	blk := encodeBlock(1, 1, encodeRow(1, []byte("x")))
	binary.BigEndian.PutUint32(blk[0:4], 0xFFFFFFFF) // lie about len
	raw := encodeMsg([][]byte{blk})
	if _, err := Decode(raw); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestDecodeRowShorterThanKey(t *testing.T) {
	row := make([]byte, 4)
	binary.BigEndian.PutUint32(row[0:4], 3) // declares a 3-byte row, too short for the 8-byte key
	if _, err := DecodeRows(row); err != ErrMalformedRow {
		t.Fatalf("got %v, want ErrMalformedRow", err)
	}
}
