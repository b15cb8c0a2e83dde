package recall

import "errors"

var (
	// ErrSyncAlreadyRunning rejects a sync start while one is in
	// flight for the same (owner, source). Nothing is mutated.
	ErrSyncAlreadyRunning = errors.New("sync already running")

	// ErrDuplicateMessage signals the (owner, external id) dedup key
	// fired on insert. The pipeline treats it as success.
	ErrDuplicateMessage = errors.New("duplicate message external id")

	ErrNotFound = errors.New("not found")
)
