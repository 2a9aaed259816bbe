package mvcc

import "testing"

func TestSumCommutatorMergesIntoFlattenedValue(t *testing.T) {
	o := NewObject(100)

	d1 := o.StageDelta(1, SumCommutator[int]{Delta: 5})
	if !o.CPLock(1, d1) {
		t.Fatalf("CPLock d1 failed")
	}
	d1.StampWTID(1)
	o.CPInstall(d1)

	d2 := o.StageDelta(2, SumCommutator[int]{Delta: -20})
	if !o.CPLock(2, d2) {
		t.Fatalf("CPLock d2 failed")
	}
	d2.StampWTID(2)
	o.CPInstall(d2)

	got, err := o.Flatten(2)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if got != 85 {
		t.Fatalf("flattened value = %d, want 85 (100+5-20)", got)
	}
}

func TestSumCommutatorExcludedFromGCHorizon(t *testing.T) {
	o := NewObject(0)
	base := o.StagePending(1, 1)
	if !o.CPLock(1, base) {
		t.Fatalf("CPLock base failed")
	}
	base.StampWTID(1)
	o.CPInstall(base)

	delta := o.StageDelta(2, SumCommutator[int]{Delta: 7})
	if !o.CPLock(2, delta) {
		t.Fatalf("CPLock delta failed")
	}
	delta.StampWTID(2)
	o.CPInstall(delta)

	// A DELTA version at or below gcTid must not be treated as the
	// "newest committed, non-delta" cut point.
	stats := o.Sweep(2)
	if stats.Reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1 (only the tid-0 seed, skipping past the delta)", stats.Reclaimed)
	}

	v, err := o.FindVisible(1, false)
	if err != nil || v.Value() != 1 {
		t.Fatalf("base version not reachable after sweep")
	}
}
