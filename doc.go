// Package tsdbengine implements the write-side storage engine of a
// time-series database: per-table memtables over a shared arena, an
// asynchronous commit worker, and the on-disk head/data/last file-group
// format it produces. Query/read paths, the WAL, replication, and schema
// management are out of scope — see SPEC_FULL.md.
package tsdbengine
