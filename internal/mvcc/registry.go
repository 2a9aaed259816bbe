package mvcc

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Chain is anything the Registry can sweep: one live version chain. An
// *Object[T] implements this for any T.
type Chain interface {
	ID() uuid.UUID
	Sweep(gcTid uint64) SweepStats
}

type registryEntry struct {
	valid atomic.Bool
	chain Chain
	// inlined mirrors the reference runtime's curr->inlined check: this
	// entry's chain seeded its version chain with an initial version
	// constructed directly at NewObject time, never separately detached
	// and freed by a sweep that reaches it. Always true for every chain
	// this package constructs (Go has no separate arena-vs-heap
	// allocation mode), but the field is kept so Sweep's ReachedSeed
	// bookkeeping has something to attribute to.
	inlined bool
}

// Unregister marks the entry invalid, so future sweeps skip it. The
// entry itself is not removed from the registry's backing slice — it is
// simply never swept again, matching the reference runtime's
// lock-free-append-only registry list.
func (e *registryEntry) Unregister() { e.valid.Store(false) }

// Registry is the process-wide concurrent list of live version chains.
// NewObject does not register anything itself: an adapter registers each
// chain it creates (see cell.New), and an entry stays swept until its
// handle's Unregister is called. Periodic sweeps reclaim versions older
// than the minimum active read-tid.
type Registry struct {
	mu      sync.Mutex
	entries []*registryEntry
	log     *log.Logger
}

// NewRegistry constructs an empty Registry. A nil logger discards
// sweep diagnostics.
func NewRegistry(l *log.Logger) *Registry {
	if l == nil {
		l = log.New(discard{}, "", 0)
	}
	return &Registry{log: l}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Register adds a chain to the registry and returns a handle the caller
// uses to unregister it later.
func (r *Registry) Register(c Chain) *registryEntry {
	e := &registryEntry{chain: c, inlined: true}
	e.valid.Store(true)
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return e
}

// GCStats summarizes one sweep across the whole registry.
type GCStats struct {
	EntriesScanned int
	Reclaimed      int
	// InlinedSlotsPreserved counts entries whose sweep bottomed out
	// exactly at their inlined seed version — nothing older to free.
	InlinedSlotsPreserved int
}

// Sweep computes gc_tid as the caller-supplied watermark (typically
// epoch.Service.MinActiveRTID, with the process rtid folded in by the
// caller) and walks every still-valid entry, detaching and counting
// garbage below the newest committed version each chain can still
// safely discard.
//
// Physical reclamation here is synchronous: by the time Sweep is
// called, the caller is expected to have already quiesced any thread
// that might still be mid-read against the swept snapshot (the
// reference runtime defers this via epoch bumps; Go's garbage collector
// makes the quiescence-then-free distinction moot once a node is
// unreachable from any live goroutine's chain walk).
func (r *Registry) Sweep(gcTid uint64) GCStats {
	r.mu.Lock()
	entries := make([]*registryEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	var stats GCStats
	for _, e := range entries {
		if !e.valid.Load() {
			continue
		}
		stats.EntriesScanned++
		s := e.chain.Sweep(gcTid)
		stats.Reclaimed += s.Reclaimed
		if s.ReachedSeed && e.inlined {
			stats.InlinedSlotsPreserved++
		}
	}
	r.log.Printf("gc sweep complete: scanned=%s reclaimed=%s versions at gc_tid=%d (inlined slots preserved=%s)",
		humanize.Comma(int64(stats.EntriesScanned)), humanize.Comma(int64(stats.Reclaimed)), gcTid,
		humanize.Comma(int64(stats.InlinedSlotsPreserved)))
	return stats
}

// Len reports how many entries (valid or not) the registry currently
// holds. Exposed for tests asserting registration/unregistration.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
