// Package wire decodes the submit message wire format: the only
// wire-decoding this repository performs, per spec.md §4.6/§6.3. Schema
// decoding of row payloads beyond the leading timestamp key is out of
// scope — that's the meta catalogue's job, quoted here as an external
// contract.
//
// All multi-byte fields are network byte order (big-endian), unlike the
// little-endian on-disk records internal/block and internal/encoding deal
// with. Rather than bend internal/encoding's fixed-width helpers (which
// are deliberately little-endian, matching the teacher's on-disk format)
// to a second byte order, this package calls encoding/binary.BigEndian
// directly — the bounds-checked-against-remaining-buffer discipline below
// still follows the same pattern the teacher applies throughout
// internal/table/reader.go.
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortBuffer  = errors.New("wire: buffer shorter than declared length")
	ErrMalformedRow = errors.New("wire: row shorter than its key field")
)

// msgHeaderSize is the encoded size of SubmitMsg's fixed header: length,
// num_blocks, compressed — three u32 fields.
const msgHeaderSize = 12

// blkHeaderSize is the encoded size of SubmitBlk's fixed header.
const blkHeaderSize = 4 + 2 + 8 + 4 + 4 + 4 // len, num_rows, uid, tid, sversion, padding

// rowHeaderSize is the encoded size of a DataRow's length prefix plus its
// mandatory key field.
const rowHeaderSize = 4 + 8

// SubmitMsg is the decoded submit message header plus its blocks.
type SubmitMsg struct {
	Length     uint32
	NumBlocks  uint32
	Compressed uint32
	Blocks     []SubmitBlk
}

// SubmitBlk is one table's worth of rows within a submit message.
type SubmitBlk struct {
	Len      uint32
	NumRows  uint16
	UID      uint64
	TID      uint32
	SVersion uint32
	Padding  uint32
	Data     []byte // Len bytes; a packed sequence of DataRow records
}

// DataRow is one length-prefixed row within a SubmitBlk's Data.
type DataRow struct {
	Len     uint32
	Key     int64
	Payload []byte // everything after the key; schema-dependent, opaque here
}

// Decode parses a SubmitMsg from buf. Every length is validated against
// the remaining buffer before being trusted.
func Decode(buf []byte) (SubmitMsg, error) {
	if len(buf) < msgHeaderSize {
		return SubmitMsg{}, ErrShortBuffer
	}
	msg := SubmitMsg{
		Length:     binary.BigEndian.Uint32(buf[0:4]),
		NumBlocks:  binary.BigEndian.Uint32(buf[4:8]),
		Compressed: binary.BigEndian.Uint32(buf[8:12]),
	}
	rest := buf[msgHeaderSize:]
	msg.Blocks = make([]SubmitBlk, 0, msg.NumBlocks)
	for i := uint32(0); i < msg.NumBlocks; i++ {
		blk, n, err := decodeBlock(rest)
		if err != nil {
			return SubmitMsg{}, err
		}
		msg.Blocks = append(msg.Blocks, blk)
		rest = rest[n:]
	}
	return msg, nil
}

func decodeBlock(buf []byte) (SubmitBlk, int, error) {
	if len(buf) < blkHeaderSize {
		return SubmitBlk{}, 0, ErrShortBuffer
	}
	blk := SubmitBlk{
		Len:      binary.BigEndian.Uint32(buf[0:4]),
		NumRows:  binary.BigEndian.Uint16(buf[4:6]),
		UID:      binary.BigEndian.Uint64(buf[6:14]),
		TID:      binary.BigEndian.Uint32(buf[14:18]),
		SVersion: binary.BigEndian.Uint32(buf[18:22]),
		Padding:  binary.BigEndian.Uint32(buf[22:26]),
	}
	total := blkHeaderSize + int(blk.Len)
	if total < blkHeaderSize || len(buf) < total {
		return SubmitBlk{}, 0, ErrShortBuffer
	}
	blk.Data = buf[blkHeaderSize:total]
	return blk, total, nil
}

// DecodeRows parses the packed DataRow sequence within a SubmitBlk's Data.
func DecodeRows(data []byte) ([]DataRow, error) {
	var rows []DataRow
	rest := data
	for len(rest) > 0 {
		row, n, err := decodeRow(rest)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		rest = rest[n:]
	}
	return rows, nil
}

func decodeRow(buf []byte) (DataRow, int, error) {
	if len(buf) < 4 {
		return DataRow{}, 0, ErrShortBuffer
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < 8 {
		return DataRow{}, 0, ErrMalformedRow
	}
	total := 4 + int(length)
	if total < 4 || len(buf) < total {
		return DataRow{}, 0, ErrShortBuffer
	}
	row := DataRow{
		Len:     length,
		Key:     int64(binary.BigEndian.Uint64(buf[4:12])),
		Payload: buf[rowHeaderSize:total],
	}
	return row, total, nil
}
