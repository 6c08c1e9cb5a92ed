package tsdbengine

import "errors"

// The seven error kinds of spec.md §7. Every operation wraps one of these
// with context via fmt.Errorf("...: %w", ...), the way the teacher's
// db/db.go composes ErrDBClosed, ErrCorruption, and friends.
var (
	ErrConfigInvalid    = errors.New("tsdbengine: config field out of range or inconsistent")
	ErrPathInaccessible = errors.New("tsdbengine: root directory missing, unreadable, or unwritable")
	ErrArenaExhausted   = errors.New("tsdbengine: cache size exhausted")
	ErrMetaReject       = errors.New("tsdbengine: insert targets an unknown or incompatible table")
	ErrFormatError      = errors.New("tsdbengine: submit message or on-disk record failed a structural check")
	ErrIOError          = errors.New("tsdbengine: underlying read/write/seek/unlink failure")
	ErrStateViolation   = errors.New("tsdbengine: operation invalid in the repository's current state")
)
