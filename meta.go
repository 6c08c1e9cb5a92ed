package tsdbengine

import "sync"

// MetaCatalogue resolves (uid, tid) table identities. spec.md's Non-goals
// explicitly exclude meta catalogue CRUD — schema management, table
// creation/alteration, and the mapping from table name to (uid, tid) all
// live in a system this repository does not implement. MetaCatalogue is
// the quoted external contract the insert path depends on: Register is a
// test/embedding convenience, not a spec'd operation.
type MetaCatalogue interface {
	// Lookup reports whether (uid, tid) is a known, schema-compatible
	// table. The insert path rejects with ErrMetaReject when it is not.
	Lookup(uid uint64, tid uint32) bool
}

// StaticMeta is a minimal in-memory MetaCatalogue: a fixed set of known
// (uid, tid) pairs, registered up front. Real deployments would back
// MetaCatalogue with whatever system owns schema and table lifecycle;
// this repository only needs to ask it yes/no questions.
type StaticMeta struct {
	mu    sync.RWMutex
	known map[uint64]uint32 // uid -> tid
}

// NewStaticMeta constructs an empty StaticMeta.
func NewStaticMeta() *StaticMeta {
	return &StaticMeta{known: make(map[uint64]uint32)}
}

// Register adds (uid, tid) as a known table.
func (m *StaticMeta) Register(uid uint64, tid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[uid] = tid
}

// Lookup implements MetaCatalogue.
func (m *StaticMeta) Lookup(uid uint64, tid uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	got, ok := m.known[uid]
	return ok && got == tid
}
