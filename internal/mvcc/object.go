package mvcc

import (
	"log"
	"sync/atomic"

	"github.com/google/uuid"
)

// Object is the head of a version chain for one logical cell: lookup at
// a tid, speculative install, lock/commit/abort primitives, and
// pending-version wait. Chains are lock-free; the head pointer is the
// only CAS-mutated field.
type Object[T any] struct {
	head atomic.Pointer[Version[T]]
	id   uuid.UUID
	log  *log.Logger
}

// NewObject creates an Object whose initial version is already
// committed at tid 0, so every find_visible call with any tid >= 0
// always finds at least one reachable committed version.
func NewObject[T any](initial T) *Object[T] {
	o := &Object[T]{id: uuid.New()}
	o.head.Store(newCommittedVersion(0, initial))
	return o
}

// SetLogger attaches a diagnostic logger. Nil-safe. No Object method
// writes to it.
func (o *Object[T]) SetLogger(l *log.Logger) { o.log = l }

// ID returns the object's correlation identifier, a uuid assigned by
// NewObject. No log line in this package includes it.
func (o *Object[T]) ID() uuid.UUID { return o.id }

// Head returns the current newest version.
func (o *Object[T]) Head() *Version[T] { return o.head.Load() }

// FindVisible walks the chain from head and returns the first version
// with wtid <= tid and status COMMITTED (the DELETED flag does not
// affect presence — callers decide what a tombstone means for reads).
// If wait is true, FindVisible spins on PENDING versions whose wtid is
// relevant to the snapshot, so the result stays monotone with respect to
// commit order; if false, pending versions are treated as invisible.
//
// Returns ErrChainExhausted only if the chain holds no committed version
// at or below tid, which implies a bug: the tid-0 initial version always
// qualifies.
func (o *Object[T]) FindVisible(tid uint64, wait bool) (*Version[T], error) {
	v := o.head.Load()
	for v != nil {
		st := v.Status()
		if st.Is(StatusPending) && v.WTID() <= tid {
			if !wait {
				v = v.Prev()
				continue
			}
			v.WaitIfPending()
			st = v.Status()
		}
		if st.Is(StatusAborted) || st.Is(StatusPending) {
			v = v.Prev()
			continue
		}
		if v.WTID() <= tid {
			return v, nil
		}
		v = v.Prev()
	}
	return nil, ErrChainExhausted
}

// CPLock is the pre-install CAS: requires v.Status() == PENDING and
// v.Prev() == current head, then CASes head from v.Prev() to v. On
// success it verifies the superseded version's rtid does not exceed
// tid — otherwise installing v would invalidate a reader that already
// observed the prior version, so v is aborted and CPLock reports
// failure. Any CAS failure also aborts v.
func (o *Object[T]) CPLock(tid uint64, v *Version[T]) bool {
	if !v.Status().Is(StatusPending) {
		return false
	}
	prev := v.Prev()
	if !o.head.CompareAndSwap(prev, v) {
		v.Abort()
		return false
	}
	if prev != nil && prev.RTID() > tid {
		v.Abort()
		return false
	}
	return true
}

// CPCheck is read-set validation: it raises the observed version's rtid
// high-watermark to at least tid, then confirms that FindVisible(tid,
// wait=false) still resolves to the same version. If a writer raced in
// ahead of us, the answer changes and CPCheck reports failure.
func (o *Object[T]) CPCheck(tid uint64, observed *Version[T]) bool {
	observed.BumpRTID(tid)
	cur, err := o.FindVisible(tid, false)
	if err != nil {
		return false
	}
	return cur == observed
}

// CPInstall flips v from PENDING to COMMITTED. Safe to call once v is
// already reachable from head (CPLock already published it).
func (o *Object[T]) CPInstall(v *Version[T]) {
	v.Commit()
}

// AbortPending aborts the head version if it is still PENDING;
// otherwise it is a no-op.
func (o *Object[T]) AbortPending() {
	h := o.head.Load()
	if h != nil && h.Status().Is(StatusPending) {
		h.Abort()
	}
}

// StagePending constructs a new PENDING version on top of the current
// head, without publishing it. The transaction's commit protocol later
// drives it through CPLock, then StampWTID and CPInstall.
func (o *Object[T]) StagePending(provisionalTID uint64, value T) *Version[T] {
	return newPendingVersion(provisionalTID, o.head.Load(), value)
}

// StageDelta constructs a new PENDING|DELTA version carrying a
// commutator instead of a resolved value.
func (o *Object[T]) StageDelta(provisionalTID uint64, d Commutator[T]) *Version[T] {
	return newDeltaVersion(provisionalTID, o.head.Load(), d)
}

// Flatten resolves the value visible at tid, merging any DELTA versions
// encountered along the way into the first non-delta committed base.
// Deltas are applied oldest-to-newest, matching the order they were
// committed in.
func (o *Object[T]) Flatten(tid uint64) (T, error) {
	var zero T
	v := o.head.Load()
	var deltas []*Version[T]
	for v != nil {
		st := v.Status()
		if st.Is(StatusPending) || st.Is(StatusAborted) {
			v = v.Prev()
			continue
		}
		if v.WTID() > tid {
			v = v.Prev()
			continue
		}
		if st.Is(StatusDelta) {
			deltas = append(deltas, v)
			v = v.Prev()
			continue
		}
		base := v.Value()
		for i := len(deltas) - 1; i >= 0; i-- {
			deltas[i].delta.Operate(&base)
		}
		return base, nil
	}
	return zero, ErrChainExhausted
}

// SweepStats reports the outcome of one chain's GC pass.
type SweepStats struct {
	Reclaimed int
	// ReachedSeed reports whether the chain's reclaim point is the
	// object's original inline-constructed tid-0 version (see Registry's
	// inlined-slot bookkeeping), which never has an older version beneath
	// it. There was nothing to detach,
	// so nothing was freed; this is the Go-GC analogue of the reference
	// runtime's "mark the inlined slot unused rather than freeing it".
	ReachedSeed bool
}

// Sweep walks the chain from head, finds the newest committed,
// non-delta version with wtid <= gcTid, and detaches everything below
// it. The cut version itself (and everything at or above it) is left
// reachable — GC never drops the last committed version a reader could
// still need.
func (o *Object[T]) Sweep(gcTid uint64) SweepStats {
	h := o.head.Load()
	for h != nil {
		st := h.Status()
		if st.Is(StatusCommitted) && !st.Is(StatusDelta) && h.WTID() <= gcTid {
			break
		}
		h = h.Prev()
	}
	if h == nil {
		return SweepStats{}
	}
	garbage := h.Prev()
	if garbage == nil {
		return SweepStats{ReachedSeed: h.WTID() == 0}
	}
	h.prev.Store(nil)
	var count int
	for g := garbage; g != nil; g = g.Prev() {
		count++
	}
	return SweepStats{Reclaimed: count}
}
