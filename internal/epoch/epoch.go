// Package epoch implements the Timestamp & Epoch Service: commit-tid
// allocation, periodic epoch advancement, and the per-thread read-tid
// watermarks the garbage collector relies on.
package epoch

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// seqBits is the width of the local-sequence portion of a CommitTID; the
// remaining high bits carry the epoch.
const seqBits = 32

const seqMask = uint64(1)<<seqBits - 1

// TID is a 64-bit monotonic commit timestamp. The high bits encode the
// epoch in which it was allocated; the low bits are a per-epoch sequence.
type TID uint64

// String renders a TID as epoch:sequence for logging.
func (t TID) String() string {
	return fmt.Sprintf("%d:%d", EpochOf(t), uint64(t)&seqMask)
}

// EpochOf decodes the epoch a commit-tid was allocated in. It is a pure
// function of the tid's bit pattern.
func EpochOf(t TID) uint64 {
	return uint64(t) >> seqBits
}

// ThreadHandle tracks one worker thread's read-tid lower bound. A
// transaction's owning thread writes it; the GC reads it from any
// goroutine. Zero means the thread is idle (no active transaction).
type ThreadHandle struct {
	rtid          atomic.Uint64
	lastCommitTID atomic.Uint64
}

// SetRTID records the start-tid of the thread's currently active
// transaction.
func (h *ThreadHandle) SetRTID(tid uint64) { h.rtid.Store(tid) }

// Clear marks the thread idle.
func (h *ThreadHandle) Clear() { h.rtid.Store(0) }

// RTID returns the thread's current watermark, or 0 if idle.
func (h *ThreadHandle) RTID() uint64 { return h.rtid.Load() }

// SetLastCommitTID records the commit-tid of the most recent transaction
// this thread successfully committed. Mirrors the reference runtime's
// per-thread tinfo[threadid].last_commit_tid bookkeeping; exposed to
// transactions as txn.Context.LastCommitTID.
func (h *ThreadHandle) SetLastCommitTID(tid uint64) { h.lastCommitTID.Store(tid) }

// LastCommitTID returns the tid recorded by SetLastCommitTID, or 0 if
// this thread has never committed.
func (h *ThreadHandle) LastCommitTID() uint64 { return h.lastCommitTID.Load() }

// Service is the process-wide epoch and commit-tid allocator. The zero
// value is not usable; construct with New.
type Service struct {
	state atomic.Uint64 // (epoch << seqBits) | seq

	mu        sync.Mutex
	threads   []*ThreadHandle
	onAdvance []func(epoch uint64)

	cron  *cron.Cron
	entry cron.EntryID
	log   *log.Logger
}

// Option configures a Service at construction.
type Option func(*Service)

// WithLogger attaches a logger for epoch-advance diagnostics. A nil
// logger (the default) discards everything.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New constructs an epoch Service starting at epoch 1 (epoch 0 is
// reserved for the initial committed version of every object).
func New(opts ...Option) *Service {
	s := &Service{}
	s.state.Store(uint64(1) << seqBits)
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.New(nopWriter{}, "", 0)
	}
	return s
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// CurrentEpoch returns the current process-wide epoch.
func (s *Service) CurrentEpoch() uint64 {
	return s.state.Load() >> seqBits
}

// CurrentTID returns the most recently issued commit-tid, or the
// current epoch's sequence-zero value if none has been issued since New
// or the last epoch advance. GC falls back to this as its watermark when
// no thread currently has an active transaction.
func (s *Service) CurrentTID() uint64 {
	return s.state.Load()
}

// NextTID allocates a commit-tid strictly greater than any previously
// issued tid, with its high bits equal to the current epoch.
func (s *Service) NextTID() TID {
	for {
		old := s.state.Load()
		epoch := old >> seqBits
		seq := old & seqMask
		if seq == seqMask {
			// Sequence space for this epoch is exhausted; fold into a
			// fresh epoch rather than corrupt the epoch bits.
			epoch++
			seq = 0
		} else {
			seq++
		}
		next := (epoch << seqBits) | seq
		if s.state.CompareAndSwap(old, next) {
			return TID(next)
		}
	}
}

// AdvanceEpochOnce bumps the process-wide epoch by one, resets the local
// sequence, and fires any registered OnAdvance callbacks.
func (s *Service) AdvanceEpochOnce() uint64 {
	var newEpoch uint64
	for {
		old := s.state.Load()
		epoch := old >> seqBits
		newEpoch = epoch + 1
		next := newEpoch << seqBits
		if s.state.CompareAndSwap(old, next) {
			break
		}
	}
	s.mu.Lock()
	callbacks := append([]func(uint64){}, s.onAdvance...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(newEpoch)
	}
	s.log.Printf("epoch advanced to %d", newEpoch)
	return newEpoch
}

// OnAdvance registers a callback invoked after every epoch bump. Mirrors
// the epoch_advance_callback hook the durability and GC layers attach to
// in the reference runtime this service is modeled on.
func (s *Service) OnAdvance(fn func(epoch uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdvance = append(s.onAdvance, fn)
}

// RegisterThread creates and tracks a new per-thread rtid handle.
func (s *Service) RegisterThread() *ThreadHandle {
	h := &ThreadHandle{}
	s.mu.Lock()
	s.threads = append(s.threads, h)
	s.mu.Unlock()
	return h
}

// MinActiveRTID returns the minimum rtid among all registered threads
// that are currently inside a transaction (rtid != 0), or 0 if none are
// active. The GC uses this as its reclamation watermark.
func (s *Service) MinActiveRTID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var min uint64
	for _, h := range s.threads {
		r := h.RTID()
		if r == 0 {
			continue
		}
		if min == 0 || r < min {
			min = r
		}
	}
	return min
}

// StartAdvancer launches a background cron job that calls
// AdvanceEpochOnce on the given schedule (e.g. "@every 40ms"). It is the
// Go-concurrency analogue of the reference runtime's dedicated epoch
// advancer thread.
func (s *Service) StartAdvancer(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("epoch: advancer already started")
	}
	c := cron.New()
	id, err := c.AddFunc(schedule, func() {
		s.AdvanceEpochOnce()
	})
	if err != nil {
		return fmt.Errorf("epoch: invalid advancer schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.entry = id
	return nil
}

// StopAdvancer halts the background advancer started by StartAdvancer.
// Safe to call even if no advancer was started.
func (s *Service) StopAdvancer() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	ctx := c.Stop()
	<-ctx.Done()
}
