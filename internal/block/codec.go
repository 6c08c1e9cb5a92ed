package block

// EncodeCompIdxTable encodes a fixed-size array of maxTables CompIdx
// entries, as stored at offset HeadSize in a head file. Entries beyond
// len(idx) are encoded as zero (Len == 0, "no data").
func EncodeCompIdxTable(idx []CompIdx, maxTables int) []byte {
	out := make([]byte, maxTables*CompIdxSize)
	for i := 0; i < maxTables && i < len(idx); i++ {
		EncodeCompIdx(out[i*CompIdxSize:(i+1)*CompIdxSize], idx[i])
	}
	return out
}

// DecodeCompIdxTable decodes a fixed-size CompIdx array from src.
func DecodeCompIdxTable(src []byte, maxTables int) ([]CompIdx, error) {
	if len(src) < maxTables*CompIdxSize {
		return nil, ErrShortBuffer
	}
	out := make([]CompIdx, maxTables)
	for i := range out {
		e, err := DecodeCompIdx(src[i*CompIdxSize : (i+1)*CompIdxSize])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// VerifyCompInfo re-derives the checksum of an encoded CompInfo region and
// compares it against the value recorded in its CompIdx entry.
func VerifyCompInfo(idx CompIdx, encodedCompInfo []byte) error {
	if idx.Len == 0 {
		return nil
	}
	if Checksum(encodedCompInfo) != idx.Checksum {
		return ErrChecksum
	}
	return nil
}
