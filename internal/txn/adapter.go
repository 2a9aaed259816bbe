package txn

// Adapter is the contract a concrete data structure (cell, array, map,
// queue) implements to participate in the commit protocol. At commit the
// Transaction Context invokes Lock, Install and Unlock on every write
// item, Check on every read item, and Cleanup on every item, in the
// order below.
type Adapter interface {
	// Lock acquires whatever protects the item (an MVCC object's head,
	// or a queue's version lock). Returning false forces the whole
	// transaction to abort.
	Lock(item *Item, ctx *Context) bool
	// Check validates the item's observed version/state against
	// current state. Called for every item with a read, including
	// read-then-write items.
	Check(item *Item, ctx *Context) bool
	// Install applies the staged write, publishing with ctx.TID().
	Install(item *Item, ctx *Context)
	// Unlock releases whatever Lock acquired.
	Unlock(item *Item)
	// Cleanup is always invoked last, win or lose, to release any
	// residual per-item resources.
	Cleanup(item *Item, committed bool)
}
