package txn

import (
	"testing"

	"github.com/tinystm/tinystm/internal/epoch"
)

// scriptedAdapter is a minimal Adapter whose every callback is
// overridable, for exercising Context's commit protocol in isolation
// from any concrete MVCC data structure.
type scriptedAdapter struct {
	lockResult   bool
	checkResult  bool
	lockCalls    int
	checkCalls   int
	installCalls int
	unlockCalls  int
	cleanup      []bool
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{lockResult: true, checkResult: true}
}

func (a *scriptedAdapter) Lock(*Item, *Context) bool {
	a.lockCalls++
	return a.lockResult
}
func (a *scriptedAdapter) Check(*Item, *Context) bool {
	a.checkCalls++
	return a.checkResult
}
func (a *scriptedAdapter) Install(*Item, *Context) { a.installCalls++ }
func (a *scriptedAdapter) Unlock(*Item)            { a.unlockCalls++ }
func (a *scriptedAdapter) Cleanup(_ *Item, committed bool) {
	a.cleanup = append(a.cleanup, committed)
}

func newContext(opaque bool) (*Context, *epoch.Service, *epoch.ThreadHandle) {
	es := epoch.New()
	th := es.RegisterThread()
	return Begin(es, th, opaque), es, th
}

func TestTryCommitSuccessPath(t *testing.T) {
	ctx, _, th := newContext(false)
	a := newScriptedAdapter()
	it := ctx.Item(a, "k")
	it.AddWrite(7)

	ok, err := ctx.TryCommit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected commit to succeed")
	}
	if a.lockCalls != 1 || a.installCalls != 1 || a.unlockCalls != 1 {
		t.Fatalf("expected one lock/install/unlock call each, got %d/%d/%d", a.lockCalls, a.installCalls, a.unlockCalls)
	}
	if len(a.cleanup) != 1 || !a.cleanup[0] {
		t.Fatalf("expected one committed=true cleanup call, got %v", a.cleanup)
	}
	if ctx.State() != StateCommitted {
		t.Fatalf("state = %v, want COMMITTED", ctx.State())
	}
	if th.RTID() != 0 {
		t.Fatalf("thread rtid not cleared after commit")
	}
}

func TestTryCommitRecordsLastCommitTID(t *testing.T) {
	ctx, es, th := newContext(false)
	a := newScriptedAdapter()
	it := ctx.Item(a, "k")
	it.AddWrite(7)

	if ctx.LastCommitTID() != 0 {
		t.Fatalf("LastCommitTID before any commit = %d, want 0", ctx.LastCommitTID())
	}
	ok, err := ctx.TryCommit()
	if err != nil || !ok {
		t.Fatalf("commit failed: ok=%v err=%v", ok, err)
	}
	if ctx.LastCommitTID() != ctx.TID() {
		t.Fatalf("LastCommitTID = %d, want %d (this commit's tid)", ctx.LastCommitTID(), ctx.TID())
	}

	// A later transaction on the same thread starts with a fresh
	// Context but the thread handle still remembers the prior commit.
	next := Begin(es, th, false)
	if next.LastCommitTID() != ctx.TID() {
		t.Fatalf("next context's LastCommitTID = %d, want %d (carried on the thread)", next.LastCommitTID(), ctx.TID())
	}
}

func TestTryCommitLockFailureRollsBack(t *testing.T) {
	ctx, _, th := newContext(false)
	a := newScriptedAdapter()
	a.lockResult = false
	it := ctx.Item(a, "k")
	it.AddWrite(7)

	ok, err := ctx.TryCommit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected commit to fail")
	}
	if a.installCalls != 0 {
		t.Fatalf("install must not be called when locking fails")
	}
	if len(a.cleanup) != 1 || a.cleanup[0] {
		t.Fatalf("expected one committed=false cleanup call, got %v", a.cleanup)
	}
	if ctx.State() != StateAborted {
		t.Fatalf("state = %v, want ABORTED", ctx.State())
	}
	if th.RTID() != 0 {
		t.Fatalf("thread rtid not cleared after rollback")
	}
}

func TestTryCommitCheckFailureRollsBackAfterLocking(t *testing.T) {
	ctx, _, _ := newContext(false)
	a := newScriptedAdapter()
	a.checkResult = false
	it := ctx.Item(a, "k")
	it.Observe("snapshot")
	it.AddFlags(FlagRead)

	ok, err := ctx.TryCommit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected commit to fail on check")
	}
	// No write items, so lock phase has nothing to lock; unlock/install
	// must likewise be skipped, but cleanup always runs.
	if a.lockCalls != 0 || a.installCalls != 0 {
		t.Fatalf("lock/install should not run for a read-only item: %d/%d", a.lockCalls, a.installCalls)
	}
	if len(a.cleanup) != 1 || a.cleanup[0] {
		t.Fatalf("expected committed=false cleanup, got %v", a.cleanup)
	}
}

func TestTryCommitTwiceIsAnError(t *testing.T) {
	ctx, _, _ := newContext(false)
	a := newScriptedAdapter()
	it := ctx.Item(a, "k")
	it.AddWrite(1)

	if _, err := ctx.TryCommit(); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if _, err := ctx.TryCommit(); err == nil {
		t.Fatalf("expected an error calling TryCommit twice")
	}
}

func TestAbortReleasesLocksAndCleansUp(t *testing.T) {
	ctx, _, th := newContext(false)
	a := newScriptedAdapter()
	it := ctx.Item(a, "k")
	it.AddWrite(1)
	ctx.locked = append(ctx.locked, it)

	ctx.Abort()
	if a.unlockCalls != 1 {
		t.Fatalf("expected unlock to be called on abort")
	}
	if len(a.cleanup) != 1 || a.cleanup[0] {
		t.Fatalf("expected committed=false cleanup on abort")
	}
	if ctx.State() != StateAborted {
		t.Fatalf("state = %v, want ABORTED", ctx.State())
	}
	if th.RTID() != 0 {
		t.Fatalf("rtid not cleared on abort")
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	ctx, _, _ := newContext(false)
	a := newScriptedAdapter()
	ctx.Item(a, "k")
	ctx.Abort()
	ctx.Abort() // must not double-cleanup
	if len(a.cleanup) != 1 {
		t.Fatalf("cleanup called %d times, want 1", len(a.cleanup))
	}
}

// recheckAlways builds a recheck closure for opacity tests without needing
// a concrete MVCC adapter.
func recheckAlways(ok bool) func() bool {
	return func() bool { return ok }
}

func TestObserveReadNonOpaqueNeverReruns(t *testing.T) {
	ctx, _, _ := newContext(false)
	a := newScriptedAdapter()
	first := ctx.Item(a, "a")
	second := ctx.Item(a, "b")

	if !ctx.ObserveRead(first, ctx.TID(), recheckAlways(false)) {
		t.Fatalf("non-opaque ObserveRead should always return true")
	}
	if !ctx.ObserveRead(second, ctx.TID(), recheckAlways(true)) {
		t.Fatalf("non-opaque ObserveRead should always return true")
	}
}

func TestObserveReadOpaqueDetectsInconsistency(t *testing.T) {
	ctx, _, _ := newContext(true)
	a := newScriptedAdapter()
	first := ctx.Item(a, "a")
	second := ctx.Item(a, "b")

	if !ctx.ObserveRead(first, ctx.TID(), recheckAlways(true)) {
		t.Fatalf("first opaque read should succeed")
	}

	// Second read's recheck for the first item now disagrees — simulates
	// a concurrent writer having moved the first cell's visible version.
	first.recheck = recheckAlways(false)
	if ctx.ObserveRead(second, ctx.TID()+1, recheckAlways(true)) {
		t.Fatalf("opaque ObserveRead should detect the stale first read and abort")
	}
}

func TestObserveReadRaisesHorizon(t *testing.T) {
	ctx, _, _ := newContext(true)
	a := newScriptedAdapter()
	it := ctx.Item(a, "a")
	start := ctx.Horizon()
	ctx.ObserveRead(it, start+5, recheckAlways(true))
	if ctx.Horizon() != start+5 {
		t.Fatalf("horizon = %d, want %d", ctx.Horizon(), start+5)
	}
	// A lower wtid must not lower the horizon.
	ctx.ObserveRead(it, start+1, recheckAlways(true))
	if ctx.Horizon() != start+5 {
		t.Fatalf("horizon regressed to %d", ctx.Horizon())
	}
}

func TestReadTIDNonOpaquePinnedToStartTID(t *testing.T) {
	ctx, es, _ := newContext(false)
	start := ctx.TID()
	es.NextTID() // some other thread advances the global clock
	if got := ctx.ReadTID(); got != start {
		t.Fatalf("ReadTID = %d, want pinned start-tid %d", got, start)
	}
}

// TestReadTIDOpaqueTracksLatestIssuedTID pins down the fix that makes
// the opacity revalidation branch reachable: an opaque transaction's
// ReadTID must advance past its own start-tid once some other
// transaction has been assigned a newer commit-tid, rather than staying
// pinned to the fixed snapshot a non-opaque transaction uses.
func TestReadTIDOpaqueTracksLatestIssuedTID(t *testing.T) {
	ctx, es, _ := newContext(true)
	start := ctx.TID()
	if got := ctx.ReadTID(); got != start {
		t.Fatalf("ReadTID before any concurrent progress = %d, want %d", got, start)
	}

	newer := es.NextTID()
	if got := ctx.ReadTID(); got != uint64(newer) {
		t.Fatalf("ReadTID after concurrent progress = %d, want latest issued tid %d", got, newer)
	}
}

func TestReadTIDOpaqueNeverRegressesBelowHorizon(t *testing.T) {
	ctx, es, _ := newContext(true)
	a := newScriptedAdapter()
	it := ctx.Item(a, "a")

	// Raise the horizon above the current global clock by hand (as a
	// real adapter read would via ObserveRead).
	ctx.ObserveRead(it, es.CurrentTID()+1000, recheckAlways(true))
	if got := ctx.ReadTID(); got != ctx.Horizon() {
		t.Fatalf("ReadTID = %d, want horizon %d when it exceeds the global clock", got, ctx.Horizon())
	}
}
