package txn

import (
	"fmt"

	"github.com/tinystm/tinystm/internal/epoch"
)

// State is the Transaction Context's lifecycle state.
type State int

const (
	StateActive State = iota
	StateCommitting
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitting:
		return "COMMITTING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type itemKey struct {
	owner any
	key   any
}

// Context is per-thread transaction state: the item set, acquired-lock
// set, lifecycle state, and the commit protocol driver. A Context is
// created fresh at Begin and is not reused across retries — callers
// construct a new one per attempt.
type Context struct {
	threadID uint64
	tid      uint64 // start-tid until the assign-commit-tid step, then the commit-tid
	state    State
	opaque   bool
	horizon  uint64

	items  []*Item
	index  map[itemKey]*Item
	locked []*Item

	epochSvc *epoch.Service
	thread   *epoch.ThreadHandle
}

// Begin starts a new transaction attempt. opaque selects the TL2-style
// full-read-set revalidation variant; false selects commit-time-only
// validation. The thread handle's rtid is set to the transaction's
// start-tid so the GC never reclaims a version this transaction might
// still read.
func Begin(es *epoch.Service, thread *epoch.ThreadHandle, opaque bool) *Context {
	startTID := uint64(es.NextTID())
	thread.SetRTID(startTID)
	return &Context{
		tid:      startTID,
		state:    StateActive,
		opaque:   opaque,
		horizon:  startTID,
		index:    make(map[itemKey]*Item),
		epochSvc: es,
		thread:   thread,
	}
}

// TID returns the transaction's current tid: the start-tid while
// ACTIVE, and the assigned commit-tid from COMMITTING onward.
func (c *Context) TID() uint64 { return c.tid }

// ReadTID returns the tid an adapter should resolve visibility against
// for a fresh read. Non-opaque transactions pin every read to their
// start-tid snapshot, matching ordinary snapshot isolation. Opaque
// transactions instead resolve against the latest tid the epoch service
// has issued to anyone (never less than the horizon already reached),
// so a later read can observe a concurrent writer's commit rather than
// being bounded by the fixed start-tid — without that, a new read could
// never return a version newer than the transaction's own consistency
// horizon, and ObserveRead's revalidation branch would never trigger.
func (c *Context) ReadTID() uint64 {
	if !c.opaque {
		return c.tid
	}
	if cur := c.epochSvc.CurrentTID(); cur > c.horizon {
		return cur
	}
	return c.horizon
}

// Opaque reports whether this transaction runs the TL2-style
// full-read-set-revalidation protocol variant.
func (c *Context) Opaque() bool { return c.opaque }

// LastCommitTID returns the commit-tid of the most recent transaction
// this context's owning thread successfully committed, or 0 if none.
func (c *Context) LastCommitTID() uint64 { return c.thread.LastCommitTID() }

// State returns the current lifecycle state.
func (c *Context) State() State { return c.state }

// Item finds or allocates the canonical item for (owner, key).
func (c *Context) Item(owner Adapter, key any) *Item {
	k := itemKey{owner: owner, key: key}
	if it, ok := c.index[k]; ok {
		return it
	}
	it := &Item{Owner: owner, Key: key}
	c.index[k] = it
	c.items = append(c.items, it)
	return it
}

// ObserveRead records a read on it with the observed version's wtid and
// a recheck closure the adapter supplies (re-resolve visibility at the
// transaction's current horizon and compare to what was observed).
//
// In opaque mode, ObserveRead raises the transaction's consistency
// horizon to wtid and then re-runs every previously recorded recheck;
// if any of them now disagrees with what was originally observed, the
// transaction must abort immediately — this is the opacity trap: a
// conflict is detected at the moment of the second read, not deferred
// to commit.
func (c *Context) ObserveRead(it *Item, wtid uint64, recheck func() bool) bool {
	it.flags |= FlagRead
	it.recheck = recheck
	if wtid > c.horizon {
		c.horizon = wtid
	}
	if !c.opaque {
		return true
	}
	for _, other := range c.items {
		if other == it || other.recheck == nil {
			continue
		}
		if !other.recheck() {
			return false
		}
	}
	return true
}

// Horizon returns the transaction's current consistency horizon: its
// start-tid, raised to the highest wtid of any version it has observed
// when that is greater. Opaque reads use this as
// the tid to re-resolve visibility at.
func (c *Context) Horizon() uint64 { return c.horizon }

// Abort unconditionally aborts the transaction: every acquired lock is
// released, every item's Cleanup is invoked with committed=false, and
// the thread's rtid is cleared.
func (c *Context) Abort() {
	if c.state == StateAborted || c.state == StateCommitted {
		return
	}
	for _, it := range c.locked {
		it.Owner.Unlock(it)
	}
	for _, it := range c.items {
		it.Owner.Cleanup(it, false)
	}
	c.state = StateAborted
	c.thread.Clear()
}

// TryCommit executes the five-phase commit protocol: lock, assign
// commit-tid, check, install, unlock. It returns (false, nil) for an
// ordinary validation conflict — the expected, common outcome of a
// losing race — and a non-nil error only for a programmer/invariant
// violation such as calling TryCommit twice.
func (c *Context) TryCommit() (bool, error) {
	if c.state != StateActive {
		return false, fmt.Errorf("txn: try_commit called in state %s", c.state)
	}
	c.state = StateCommitting

	writeItems := make([]*Item, 0, len(c.items))
	for _, it := range c.items {
		if it.HasWrite() {
			writeItems = append(writeItems, it)
		}
	}
	sortItemsCanonical(writeItems)

	for _, it := range writeItems {
		if !it.Owner.Lock(it, c) {
			c.rollback()
			return false, nil
		}
		c.locked = append(c.locked, it)
	}

	c.tid = uint64(c.epochSvc.NextTID())

	for _, it := range c.items {
		if it.HasRead() {
			if !it.Owner.Check(it, c) {
				c.rollback()
				return false, nil
			}
		}
	}

	for _, it := range writeItems {
		it.Owner.Install(it, c)
	}
	for _, it := range writeItems {
		it.Owner.Unlock(it)
	}
	for _, it := range c.items {
		it.Owner.Cleanup(it, true)
	}

	c.state = StateCommitted
	c.thread.SetLastCommitTID(c.tid)
	c.thread.Clear()
	return true, nil
}

func (c *Context) rollback() {
	for _, it := range c.locked {
		it.Owner.Unlock(it)
	}
	for _, it := range c.items {
		it.Owner.Cleanup(it, false)
	}
	c.state = StateAborted
	c.thread.Clear()
}
