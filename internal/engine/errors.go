package engine

import "errors"

// Sentinel error kinds an Engine's operations can return. Callers recover
// the kind with errors.Is; every returned error additionally wraps a
// fmt.Errorf-built chain describing where it happened.
var (
	// ErrKeyNotFound is returned by Remove when the key is absent; the server
	// maps it to the protocol's KeyNotFound response, and client.Remove
	// returns it when the server reports that response. A Get miss is not an
	// error: Get reports it through its boolean result.
	ErrKeyNotFound = errors.New("engine: key not found")

	// ErrNotADirectory is returned by Open when its path argument is not a
	// directory.
	ErrNotADirectory = errors.New("engine: not a directory")

	// ErrConsistency indicates the index pointed at a log slot that did not
	// decode to a Set record for the expected key, or a generation's log
	// and data files were left inconsistent by an interrupted compaction.
	ErrConsistency = errors.New("engine: consistency error")

	// ErrOverflow is returned when a generation's log has reached
	// maxEntriesPerGeneration and cannot accept another entry.
	ErrOverflow = errors.New("engine: generation overflow")
)
