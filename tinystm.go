// Package tinystm is a software transactional memory runtime with
// multi-version concurrency control: strongly serializable transactions
// over shared in-memory cells, arrays, and queues, accessed concurrently
// by many worker goroutines.
//
// Runtime ties together the three pieces of process-wide state the rest
// of the package tree needs — the commit-tid/epoch allocator, the
// version-chain registry GC sweeps, and (optionally) a background epoch
// advancer and GC loop — so callers thread one handle through their
// program instead of reaching for package-level globals.
package tinystm

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/tinystm/tinystm/internal/epoch"
	"github.com/tinystm/tinystm/internal/mvcc"
	"github.com/tinystm/tinystm/internal/txn"
)

// Runtime is the one piece of "global mutable state" the design notes
// call out: the Timestamp & Epoch Service and the MVCC Registry. In a
// systems-language reimplementation these would be process-wide
// singletons; here they are an explicit handle threaded through the
// Transaction Context and its adapters.
type Runtime struct {
	Epoch    *epoch.Service
	Registry *mvcc.Registry

	gcCron *cron.Cron
}

// Option configures a Runtime at construction.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	logger *log.Logger
}

// WithLogger attaches a logger used by the epoch service and registry
// for diagnostics. Nil (the default) discards everything.
func WithLogger(l *log.Logger) Option {
	return func(c *runtimeConfig) { c.logger = l }
}

// New constructs a Runtime. Pair it with per-goroutine handles from
// NewThread and transactions from Begin.
func New(opts ...Option) *Runtime {
	cfg := &runtimeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Runtime{
		Epoch:    epoch.New(epoch.WithLogger(cfg.logger)),
		Registry: mvcc.NewRegistry(cfg.logger),
	}
}

// NewThread registers a new worker thread's rtid handle with the
// epoch service.
func (r *Runtime) NewThread() *epoch.ThreadHandle {
	return r.Epoch.RegisterThread()
}

// Begin starts a new transaction attempt on behalf of thread. opaque
// selects the TL2-style full-read-set-revalidation commit protocol
// variant; false selects commit-time-only validation.
func (r *Runtime) Begin(thread *epoch.ThreadHandle, opaque bool) *txn.Context {
	return txn.Begin(r.Epoch, thread, opaque)
}

// GC sweeps the registry once, using the minimum active per-thread rtid
// as the reclamation watermark, falling back to the most recently
// issued tid when no transaction is currently active (so an idle
// runtime can still collect everything superseded so far).
func (r *Runtime) GC() mvcc.GCStats {
	gcTid := r.Epoch.MinActiveRTID()
	if gcTid == 0 {
		gcTid = r.Epoch.CurrentTID()
	}
	return r.Registry.Sweep(gcTid)
}

// StartEpochAdvancer launches the background cron-driven epoch
// advancer (see epoch.Service.StartAdvancer).
func (r *Runtime) StartEpochAdvancer(schedule string) error {
	return r.Epoch.StartAdvancer(schedule)
}

// StopEpochAdvancer halts the background epoch advancer.
func (r *Runtime) StopEpochAdvancer() {
	r.Epoch.StopAdvancer()
}

// StartGCLoop launches a background cron job that calls GC on the given
// schedule (e.g. "@every 200ms").
func (r *Runtime) StartGCLoop(schedule string) error {
	if r.gcCron != nil {
		return fmt.Errorf("tinystm: gc loop already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.GC() }); err != nil {
		return fmt.Errorf("tinystm: invalid gc schedule %q: %w", schedule, err)
	}
	c.Start()
	r.gcCron = c
	return nil
}

// StopGCLoop halts the background GC loop started by StartGCLoop.
func (r *Runtime) StopGCLoop() {
	if r.gcCron == nil {
		return
	}
	ctx := r.gcCron.Stop()
	<-ctx.Done()
	r.gcCron = nil
}
