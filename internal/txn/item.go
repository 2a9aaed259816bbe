// Package txn implements the Transaction Item and Transaction Context:
// per-thread read/write tracking, the opaque and non-opaque commit
// protocols, and the adapter contract concrete data structures satisfy
// to participate in a transaction.
package txn

// Flags is the per-item bit set: the two protocol-reserved bits (Read,
// Write) plus eight adapter-defined user bits, matching the reference
// runtime's user0_bit..user7_bit extension points (used by, e.g., the
// cell adapter's delete marker, FlagUser0).
type Flags uint16

const (
	FlagRead Flags = 1 << iota
	FlagWrite
	FlagUser0
	FlagUser1
	FlagUser2
	FlagUser3
	FlagUser4
	FlagUser5
	FlagUser6
	FlagUser7
)

// Item is a per-access record keyed by (owner, key): an adapter
// instance and a key within it. A transaction holds exactly one Item
// per distinct (owner, key) pair it touches, created on first access
// and reused for the rest of the attempt.
type Item struct {
	Owner Adapter
	Key   any

	flags     Flags
	observed  any
	write     any
	installed any

	// recheck re-evaluates, at the transaction's current consistency
	// horizon, whether this item's previously observed version is
	// still the one visible. Set by Context.ObserveRead from the
	// closure the adapter passes in; used only in opaque mode.
	recheck func() bool
}

// Observe records that the item was read and returning version snapshot
// (type-erased — concrete adapters know how to interpret it).
func (it *Item) Observe(version any) {
	it.observed = version
	it.flags |= FlagRead
}

// Observed returns the previously recorded read snapshot.
func (it *Item) Observed() any { return it.observed }

// HasRead reports whether this item was read during the transaction.
func (it *Item) HasRead() bool { return it.flags&FlagRead != 0 }

// HasWrite reports whether this item has a staged write.
func (it *Item) HasWrite() bool { return it.flags&FlagWrite != 0 }

// AddWrite stages a write value, type-erased.
func (it *Item) AddWrite(value any) {
	it.write = value
	it.flags |= FlagWrite
}

// ClearWrite drops the staged write.
func (it *Item) ClearWrite() {
	it.write = nil
	it.flags &^= FlagWrite
}

// WriteValue returns the staged write value.
func (it *Item) WriteValue() any { return it.write }

// SetInstalled records the pending-version pointer an MVCC adapter
// published during the lock phase, for its install step to commit.
func (it *Item) SetInstalled(v any) { it.installed = v }

// Installed returns the installed-version pointer, if any.
func (it *Item) Installed() any { return it.installed }

// AddFlags sets the given bits.
func (it *Item) AddFlags(f Flags) { it.flags |= f }

// ClearFlags clears the given bits.
func (it *Item) ClearFlags(f Flags) { it.flags &^= f }

// Flags returns the full flag set.
func (it *Item) Flags() Flags { return it.flags }
