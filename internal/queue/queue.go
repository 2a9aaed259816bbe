// Package queue implements the Pessimistic Queue Core: an alternative,
// strictly-serializable-on-pops concurrency mode for FIFO structures,
// built on a per-queue version lock plus a ring buffer rather than a
// per-slot MVCC version chain.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/tinystm/tinystm/internal/txn"
)

// DefaultCapacity mirrors the reference runtime's default ring size.
const DefaultCapacity = 1_000_000

// Core is a fixed-capacity ring buffer queue participating in the
// transaction commit protocol via the txn.Adapter contract. Unlike an
// MVCC Object, there is no per-element version chain: the whole queue
// is protected by one queue_version try-lock, taken by the first
// pop/front of a transaction and held until that transaction commits or
// aborts.
type Core[T any] struct {
	mu       sync.Mutex
	slots    []T
	head     uint64
	tail     uint64
	capacity uint64

	version    atomic.Uint64
	lockedFlag atomic.Bool
}

// New creates a Core with the given capacity (DefaultCapacity if <= 0).
func New[T any](capacity int) *Core[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Core[T]{
		slots:    make([]T, capacity),
		capacity: uint64(capacity),
	}
}

func (q *Core[T]) tryLock() bool { return q.lockedFlag.CompareAndSwap(false, true) }
func (q *Core[T]) unlock()       { q.lockedFlag.Store(false) }

func stateFor[T any](item *txn.Item) *queueState[T] {
	if v := item.WriteValue(); v != nil {
		return v.(*queueState[T])
	}
	st := &queueState[T]{}
	item.AddWrite(st)
	return st
}

// Push records a write intent on the sentinel item. A second push
// within the same transaction promotes the staged value to an ordered
// batch; later pushes append to it. Nothing is visible to other
// transactions until commit.
func (q *Core[T]) Push(ctx *txn.Context, v T) {
	item := ctx.Item(q, SentinelKey)
	st := stateFor[T](item)
	st.push.push(v)
}

// Front returns the item at the head of the queue without consuming
// it. See Pop for the locking and read-through-own-writes rules, which
// Front shares in full except that it never advances its own popped
// count.
func (q *Core[T]) Front(ctx *txn.Context) (T, bool, error) {
	return q.read(ctx, false)
}

// Pop removes and returns the item at the head of the queue.
//
// The first pop or front of a transaction eagerly try-locks the queue's
// version for the remainder of the transaction; failure aborts
// immediately (no blocking — this is the only abort path pops take). If
// the physical queue is empty but the transaction has staged its own
// pushes, the staged buffer is consumed in FIFO order
// (read-through-own-writes) rather than reporting empty. When both are
// empty, Pop returns ok=false with a nil error and does not abort.
func (q *Core[T]) Pop(ctx *txn.Context) (T, bool, error) {
	return q.read(ctx, true)
}

func (q *Core[T]) read(ctx *txn.Context, consume bool) (T, bool, error) {
	item := ctx.Item(q, SentinelKey)
	st := stateFor[T](item)
	item.AddFlags(txn.FlagRead)

	if !st.locked {
		if !q.tryLock() {
			ctx.Abort()
			var zero T
			return zero, false, txn.ErrAborted
		}
		st.locked = true
		st.observedVersion = q.version.Load()
	}

	q.mu.Lock()
	avail := q.tail - q.head - uint64(st.popped)
	var (
		value T
		ok    bool
	)
	if avail > 0 {
		idx := (q.head + uint64(st.popped)) % q.capacity
		value = q.slots[idx]
		ok = true
		if consume {
			st.popped++
		}
	} else {
		staged := st.push.values()
		if st.consumedFromStage < len(staged) {
			value = staged[st.consumedFromStage]
			ok = true
			if consume {
				st.consumedFromStage++
			}
		}
	}
	q.mu.Unlock()

	if !ok {
		var zero T
		return zero, false, nil
	}
	return value, true, nil
}

// Lock implements txn.Adapter: acquires the queue_version try-lock if
// this transaction has not already done so via Pop/Front.
func (q *Core[T]) Lock(item *txn.Item, ctx *txn.Context) bool {
	st := stateFor[T](item)
	if st.locked {
		return true
	}
	if !q.tryLock() {
		return false
	}
	st.locked = true
	st.observedVersion = q.version.Load()
	return true
}

// Check implements txn.Adapter: the lock's exclusivity already
// prevents any other transaction from advancing the version out from
// under us, so this only guards against a logic error.
func (q *Core[T]) Check(item *txn.Item, ctx *txn.Context) bool {
	st := stateFor[T](item)
	return q.version.Load() == st.observedVersion
}

// Install implements txn.Adapter: advances head past everything this
// transaction physically popped, appends whatever staged pushes were
// never consumed by its own read-through-own-writes pops, and publishes
// the new queue_version. A push consumed by this same transaction's own
// Pop (consumedFromStage) never reaches another transaction and must
// not land in the physical ring at all.
func (q *Core[T]) Install(item *txn.Item, ctx *txn.Context) {
	st := stateFor[T](item)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.head += uint64(st.popped)
	staged := st.push.values()
	if st.consumedFromStage < len(staged) {
		staged = staged[st.consumedFromStage:]
	} else {
		staged = nil
	}
	for _, v := range staged {
		if q.tail-q.head >= q.capacity {
			panic(&CapacityError{Capacity: int(q.capacity)})
		}
		q.slots[q.tail%q.capacity] = v
		q.tail++
	}
	// Opaque transactions publish their commit-tid as the new queue
	// version so later observers can order against it; non-opaque ones
	// only need the token to change.
	if ctx.Opaque() {
		q.version.Store(ctx.TID())
	} else {
		q.version.Add(1)
	}
}

// Unlock implements txn.Adapter.
func (q *Core[T]) Unlock(item *txn.Item) {
	q.unlock()
}

// Cleanup implements txn.Adapter. It is the only place that releases a
// lock taken eagerly by Pop/Front when the transaction aborts without
// ever reaching the commit protocol's own lock phase (e.g. a different
// item triggered an opacity-abort mid-execution).
func (q *Core[T]) Cleanup(item *txn.Item, committed bool) {
	st, ok := item.WriteValue().(*queueState[T])
	if !ok || !st.locked {
		return
	}
	if !committed {
		q.unlock()
	}
}

// Len reports the number of physically committed elements currently in
// the queue. For diagnostics and tests only.
func (q *Core[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}
