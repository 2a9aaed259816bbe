package mvcc

import "testing"

func TestRegistrySweepAggregatesAcrossChains(t *testing.T) {
	r := NewRegistry(nil)
	a := NewObject(0)
	b := NewObject(0)
	r.Register(a)
	r.Register(b)

	for _, o := range []*Object[int]{a, b} {
		for i := uint64(1); i <= 4; i++ {
			p := o.StagePending(i, int(i))
			if !o.CPLock(i, p) {
				t.Fatalf("CPLock(%d) failed", i)
			}
			p.StampWTID(i)
			o.CPInstall(p)
		}
	}

	stats := r.Sweep(2)
	if stats.EntriesScanned != 2 {
		t.Fatalf("scanned = %d, want 2", stats.EntriesScanned)
	}
	if stats.Reclaimed != 4 {
		t.Fatalf("reclaimed = %d, want 4 (2 per chain)", stats.Reclaimed)
	}
}

func TestRegistryUnregisterSkipsFutureSweeps(t *testing.T) {
	r := NewRegistry(nil)
	a := NewObject(0)
	entry := r.Register(a)

	p := a.StagePending(1, 1)
	if !a.CPLock(1, p) {
		t.Fatalf("CPLock failed")
	}
	p.StampWTID(1)
	a.CPInstall(p)

	entry.Unregister()

	stats := r.Sweep(100)
	if stats.EntriesScanned != 0 {
		t.Fatalf("scanned = %d, want 0 (entry unregistered)", stats.EntriesScanned)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (unregister does not remove the slot)", r.Len())
	}
}

func TestRegistrySweepCountsInlinedSlotsPreserved(t *testing.T) {
	r := NewRegistry(nil)
	untouched := NewObject(0)
	r.Register(untouched)

	written := NewObject(0)
	r.Register(written)
	p := written.StagePending(1, 1)
	if !written.CPLock(1, p) {
		t.Fatalf("CPLock failed")
	}
	p.StampWTID(1)
	written.CPInstall(p)

	stats := r.Sweep(100)
	if stats.InlinedSlotsPreserved != 1 {
		t.Fatalf("inlined slots preserved = %d, want 1 (only the untouched chain has nothing below its seed)", stats.InlinedSlotsPreserved)
	}
}

func TestRegistrySweepWithNoEntries(t *testing.T) {
	r := NewRegistry(nil)
	stats := r.Sweep(0)
	if stats.EntriesScanned != 0 || stats.Reclaimed != 0 {
		t.Fatalf("stats on empty registry = %+v, want zero", stats)
	}
}
