package mvcc

import (
	"runtime"
	"sync/atomic"
)

// Commutator merges an unapplied commutative update into a base value.
// A DELTA version carries a Commutator instead of a final value; see
// the design notes on commutative updates.
type Commutator[T any] interface {
	Operate(v *T)
}

// Version is a single node in a per-object version chain: one
// write-tid, one read-tid high-watermark, a status bitset, a value (or
// an unmerged delta), and a back-pointer to the previous version.
//
// All operations here are lock-free on a single record; the owning
// Object coordinates the chain-level invariants.
type Version[T any] struct {
	wtid   atomic.Uint64
	rtid   atomic.Uint64
	status atomic.Uint32
	prev   atomic.Pointer[Version[T]]

	value T
	delta Commutator[T]
}

// newPendingVersion builds a version staged for the commit protocol. Its
// wtid is provisional (the transaction's start-tid) until StampWTID
// assigns the real commit-tid.
func newPendingVersion[T any](provisionalTID uint64, prev *Version[T], value T) *Version[T] {
	v := &Version[T]{value: value}
	v.wtid.Store(provisionalTID)
	v.status.Store(uint32(StatusPending))
	v.prev.Store(prev)
	return v
}

// newCommittedVersion builds an already-committed version, used only to
// seed an Object's initial tid-0 version.
func newCommittedVersion[T any](wtid uint64, value T) *Version[T] {
	v := &Version[T]{value: value}
	v.wtid.Store(wtid)
	v.status.Store(uint32(StatusCommitted))
	return v
}

// newDeltaVersion builds a PENDING|DELTA version carrying a commutator
// instead of a resolved value.
func newDeltaVersion[T any](provisionalTID uint64, prev *Version[T], d Commutator[T]) *Version[T] {
	v := &Version[T]{delta: d}
	v.wtid.Store(provisionalTID)
	v.status.Store(uint32(StatusPending | StatusDelta))
	v.prev.Store(prev)
	return v
}

// WTID returns the write-tid. Stable once the version leaves PENDING.
func (v *Version[T]) WTID() uint64 { return v.wtid.Load() }

// StampWTID assigns the final commit-tid to a still-pending version.
// The cell adapter calls it once, in its install step, immediately
// before CPInstall; through the lock and check phases the pending
// version still carries its provisional start-tid.
func (v *Version[T]) StampWTID(tid uint64) { v.wtid.Store(tid) }

// RTID returns the read-tid high-watermark.
func (v *Version[T]) RTID() uint64 { return v.rtid.Load() }

// BumpRTID raises the read-tid high-watermark to at least tid via a CAS
// retry loop. Monotone: never lowers the watermark.
func (v *Version[T]) BumpRTID(tid uint64) {
	for {
		old := v.rtid.Load()
		if old >= tid {
			return
		}
		if v.rtid.CompareAndSwap(old, tid) {
			return
		}
	}
}

// Status returns the current status bitset.
func (v *Version[T]) Status() Status { return Status(v.status.Load()) }

// Prev returns the previous (older) version, or nil at the chain's base.
func (v *Version[T]) Prev() *Version[T] { return v.prev.Load() }

// SetPrev links an older version beneath this one. Only legal while this
// version is PENDING, and only if the candidate is not newer.
func (v *Version[T]) SetPrev(p *Version[T]) error {
	if !v.Status().Is(StatusPending) {
		return ErrNotPending
	}
	if p != nil && p.WTID() > v.WTID() {
		return ErrPrevNewer
	}
	v.prev.Store(p)
	return nil
}

// Commit transitions PENDING -> COMMITTED, preserving the DELETED flag.
// No effect if the version is already ABORTED.
func (v *Version[T]) Commit() {
	for {
		old := v.status.Load()
		s := Status(old)
		if s.Is(StatusAborted) {
			return
		}
		next := (s &^ StatusPending) | StatusCommitted
		if v.status.CompareAndSwap(old, uint32(next)) {
			return
		}
	}
}

// Abort transitions to ABORTED. No effect if already COMMITTED.
func (v *Version[T]) Abort() {
	for {
		old := v.status.Load()
		s := Status(old)
		if s.Is(StatusCommitted) {
			return
		}
		if v.status.CompareAndSwap(old, uint32(StatusAborted)) {
			return
		}
	}
}

// MarkDeleted adds the DELETED flag, a no-op if already ABORTED.
func (v *Version[T]) MarkDeleted() {
	for {
		old := v.status.Load()
		s := Status(old)
		if s.Is(StatusAborted) {
			return
		}
		next := s | StatusDeleted
		if v.status.CompareAndSwap(old, uint32(next)) {
			return
		}
	}
}

// WaitIfPending spins until the version's status is no longer PENDING.
func (v *Version[T]) WaitIfPending() {
	for v.Status().Is(StatusPending) {
		runtime.Gosched()
	}
}

// Value returns the version's resolved payload. Callers must not call
// Value on a DELTA version without first flattening it (see
// Object.Flatten) — the returned value is the raw, possibly zero, field.
func (v *Version[T]) Value() T { return v.value }

// IsDelta reports whether this version carries an unmerged commutative
// update rather than a resolved value.
func (v *Version[T]) IsDelta() bool { return v.Status().Is(StatusDelta) }
