package mvcc

import "errors"

// Sentinel errors for the version-chain layer.
var (
	// ErrChainExhausted means find_visible walked an entire version
	// chain without finding a committed version at or below the
	// requested tid. The initial tid-0 committed version makes this an
	// invariant violation, never an expected outcome.
	ErrChainExhausted = errors.New("mvcc: version chain exhausted without a visible version")
	// ErrNotPending is returned by operations that require a version to
	// still be in the PENDING state.
	ErrNotPending = errors.New("mvcc: version is not pending")
	// ErrPrevNewer is returned by SetPrev when the candidate previous
	// version's wtid exceeds the version being linked.
	ErrPrevNewer = errors.New("mvcc: candidate prev version is newer than this version")
	// ErrCapacity names a fatal configuration error: an adapter tried
	// to install more concurrently in-flight items than it was sized
	// for. No function in this package returns it; the queue adapter
	// reports overflow by panicking with *queue.CapacityError.
	ErrCapacity = errors.New("mvcc: capacity exceeded")
)
