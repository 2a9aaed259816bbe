package txn

import "errors"

// Sentinel errors for the transaction layer, covering the expected,
// non-fatal outcomes.
var (
	// ErrConflict names a commit conflict for callers that report one
	// through a plain error-returning API. Nothing in this module returns
	// it: TryCommit reports ordinary conflicts as (false, nil), and an
	// adapter read that aborts mid-transaction returns ErrAborted.
	ErrConflict = errors.New("txn: commit conflict detected")
	// ErrAborted is returned by an adapter read that aborted the
	// transaction on the spot: an opacity violation detected by a cell
	// read, or a queue pop/front that lost the queue-lock try-lock.
	ErrAborted = errors.New("txn: transaction aborted")
)
