// Package partition maps row timestamps to time-partition file identities.
//
// A repository splits its data directory into fixed-width windows of
// wall-clock time, each identified by an integer file-id. Every row belongs
// to exactly one file-id, determined solely by its key (timestamp),
// days_per_file, and precision.
//
// Reference: original_source/tsdbFile.c (tsdbGetKeyRangeOfFileId) and
// original_source/tsdbMain.c (tsdbGetKeyFileId, tsMsPerDay).
package partition

// Precision is the unit of a row's timestamp key.
type Precision int8

const (
	Milli Precision = iota
	Micro
	Nano
)

// msPerDay mirrors the original's tsMsPerDay lookup table, indexed by
// precision, expressed in milliseconds-equivalent units for that precision.
var msPerDay = [...]int64{
	Milli: 24 * 60 * 60 * 1000,
	Micro: 24 * 60 * 60 * 1000 * 1000,
	Nano:  24 * 60 * 60 * 1000 * 1000 * 1000,
}

// MsPerDay returns the number of key units (at the given precision) in one day.
func MsPerDay(p Precision) int64 {
	if p < Milli || p > Nano {
		p = Milli
	}
	return msPerDay[p]
}

// Window returns the width, in key units, of one file-id's partition.
func Window(daysPerFile int32, precision Precision) int64 {
	return int64(daysPerFile) * MsPerDay(precision)
}

// FileIDOf maps a key to the file-id of the partition containing it.
// Uses floor division so negative keys map to negative file-ids consistently.
func FileIDOf(key int64, daysPerFile int32, precision Precision) int64 {
	return floorDiv(key, Window(daysPerFile, precision))
}

// KeyRangeOf returns the inclusive [minKey, maxKey] range covered by fid.
func KeyRangeOf(fid int64, daysPerFile int32, precision Precision) (minKey, maxKey int64) {
	w := Window(daysPerFile, precision)
	minKey = fid * w
	maxKey = minKey + w - 1
	return minKey, maxKey
}

// floorDiv computes floor(a/b) for a window b > 0, unlike Go's truncating /.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
