// Package cell provides minimal reference adapters — a single
// transactional cell and a fixed-size array of them — over the MVCC
// core. These are deliberately not part of the core itself: they
// exist only so the commit protocol in package txn has something
// concrete to drive in tests — the adapter contract describes clients
// without mandating any particular data structure.
package cell

import (
	"github.com/tinystm/tinystm/internal/mvcc"
	"github.com/tinystm/tinystm/internal/txn"
)

const valueKey = "value"

// deleteBit marks an item whose staged write is a tombstone rather than
// a value.
const deleteBit = txn.FlagUser0

// Cell is a single transactional memory location backed by one MVCC
// version chain. It implements txn.Adapter directly: a Cell is its own
// owner for canonical lock ordering purposes.
type Cell[T any] struct {
	obj *mvcc.Object[T]
}

// New creates a Cell holding initial, and registers its version chain
// with reg so the garbage collector can sweep it. A nil registry
// disables GC tracking (useful for throwaway test fixtures).
func New[T any](reg *mvcc.Registry, initial T) *Cell[T] {
	c := &Cell[T]{obj: mvcc.NewObject(initial)}
	if reg != nil {
		reg.Register(c.obj)
	}
	return c
}

// Read performs a transactional read. Reading back a value this same
// transaction already staged a write for returns the staged value
// without touching the version chain. Otherwise it resolves the
// visible version at the transaction's read tid (ctx.ReadTID), records
// the read for
// commit-time validation, and — in opaque mode — immediately aborts if
// the read is inconsistent with an earlier read in the same
// transaction (the "opacity trap").
func (c *Cell[T]) Read(ctx *txn.Context) (T, error) {
	v, _, err := c.ReadOK(ctx)
	return v, err
}

// ReadOK is Read plus a presence bit: ok is false when the visible
// version is a tombstone (or this transaction staged a delete), in
// which case the returned value is the zero value.
func (c *Cell[T]) ReadOK(ctx *txn.Context) (T, bool, error) {
	item := ctx.Item(c, valueKey)
	if item.HasWrite() {
		if item.Flags()&deleteBit != 0 {
			var zero T
			return zero, false, nil
		}
		return item.WriteValue().(T), true, nil
	}
	v, err := c.obj.FindVisible(ctx.ReadTID(), true)
	if err != nil {
		var zero T
		return zero, false, err
	}
	item.Observe(v)
	ok := ctx.ObserveRead(item, v.WTID(), func() bool {
		cur, err := c.obj.FindVisible(ctx.Horizon(), false)
		return err == nil && cur == v
	})
	if !ok {
		ctx.Abort()
		var zero T
		return zero, false, txn.ErrAborted
	}
	return v.Value(), !v.Status().Is(mvcc.StatusDeleted), nil
}

// Write stages a write for this transaction; nothing is visible outside
// the transaction until TryCommit installs it. A write supersedes any
// delete this same transaction staged earlier.
func (c *Cell[T]) Write(ctx *txn.Context, value T) {
	item := ctx.Item(c, valueKey)
	item.AddWrite(value)
	item.ClearFlags(deleteBit)
}

// Delete stages a tombstone: the install publishes a new version
// carrying the DELETED flag, so later readers see the cell as absent
// while older snapshots keep the prior value.
func (c *Cell[T]) Delete(ctx *txn.Context) {
	item := ctx.Item(c, valueKey)
	var zero T
	item.AddWrite(zero)
	item.AddFlags(deleteBit)
}

// Lock implements txn.Adapter.
func (c *Cell[T]) Lock(item *txn.Item, ctx *txn.Context) bool {
	value := item.WriteValue().(T)
	pending := c.obj.StagePending(ctx.TID(), value)
	if item.Flags()&deleteBit != 0 {
		pending.MarkDeleted()
	}
	if !c.obj.CPLock(ctx.TID(), pending) {
		return false
	}
	item.SetInstalled(pending)
	return true
}

// Check implements txn.Adapter.
func (c *Cell[T]) Check(item *txn.Item, ctx *txn.Context) bool {
	observed, ok := item.Observed().(*mvcc.Version[T])
	if !ok {
		// Write-only item: nothing was read, nothing to validate.
		return true
	}
	return c.obj.CPCheck(ctx.TID(), observed)
}

// Install implements txn.Adapter.
func (c *Cell[T]) Install(item *txn.Item, ctx *txn.Context) {
	pending, ok := item.Installed().(*mvcc.Version[T])
	if !ok {
		return
	}
	pending.StampWTID(ctx.TID())
	c.obj.CPInstall(pending)
}

// Unlock implements txn.Adapter. The cell's only protection is the
// version chain's head CAS, already released implicitly once the
// version is COMMITTED or ABORTED, so there is nothing further to do.
func (c *Cell[T]) Unlock(item *txn.Item) {}

// Cleanup implements txn.Adapter.
func (c *Cell[T]) Cleanup(item *txn.Item, committed bool) {
	if !committed {
		c.obj.AbortPending()
	}
}
