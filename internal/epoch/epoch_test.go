package epoch

import (
	"sync"
	"testing"
)

func TestNextTIDMonotonic(t *testing.T) {
	s := New()
	var prev TID
	for i := 0; i < 1000; i++ {
		tid := s.NextTID()
		if tid <= prev {
			t.Fatalf("tid %d not strictly greater than previous %d", tid, prev)
		}
		prev = tid
	}
}

func TestNextTIDConcurrentMonotonicPerGoroutine(t *testing.T) {
	s := New()
	const n = 50
	var wg sync.WaitGroup
	seen := make([][]TID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				seen[idx] = append(seen[idx], s.NextTID())
			}
		}(i)
	}
	wg.Wait()

	all := map[TID]bool{}
	for _, run := range seen {
		for j, tid := range run {
			if j > 0 && tid <= run[j-1] {
				t.Fatalf("tid %v not strictly greater than this goroutine's previous %v", tid, run[j-1])
			}
			if all[tid] {
				t.Fatalf("duplicate tid issued: %v", tid)
			}
			all[tid] = true
		}
	}
}

func TestAdvanceEpochResetsSequenceAndFiresCallback(t *testing.T) {
	s := New()
	startEpoch := s.CurrentEpoch()

	var gotEpoch uint64
	s.OnAdvance(func(e uint64) { gotEpoch = e })

	e := s.AdvanceEpochOnce()
	if e != startEpoch+1 {
		t.Fatalf("epoch = %d, want %d", e, startEpoch+1)
	}
	if gotEpoch != e {
		t.Fatalf("callback saw epoch %d, want %d", gotEpoch, e)
	}

	tid := s.NextTID()
	if EpochOf(tid) != e {
		t.Fatalf("EpochOf(next tid) = %d, want %d", EpochOf(tid), e)
	}
}

func TestMinActiveRTIDIgnoresIdleThreads(t *testing.T) {
	s := New()
	a := s.RegisterThread()
	b := s.RegisterThread()

	if got := s.MinActiveRTID(); got != 0 {
		t.Fatalf("MinActiveRTID with no active threads = %d, want 0", got)
	}

	a.SetRTID(100)
	b.SetRTID(50)
	if got := s.MinActiveRTID(); got != 50 {
		t.Fatalf("MinActiveRTID = %d, want 50", got)
	}

	b.Clear()
	if got := s.MinActiveRTID(); got != 100 {
		t.Fatalf("MinActiveRTID after clearing lower thread = %d, want 100", got)
	}
}

func TestEpochOfPureFunction(t *testing.T) {
	s := New()
	s.AdvanceEpochOnce()
	s.AdvanceEpochOnce()
	tid := s.NextTID()
	if got := EpochOf(tid); got != s.CurrentEpoch() {
		t.Fatalf("EpochOf(tid) = %d, want current epoch %d", got, s.CurrentEpoch())
	}
}
