// Command stmdemo is a small runnable demonstration of the tinystm
// runtime: it wires the epoch advancer, GC loop, and a sqlite-backed
// checkpoint store around a handful of cells, an array, and a queue,
// and runs a short burst of concurrent transactions against them.
//
// Configuration loading, flag parsing, and the transaction workload
// itself are explicitly outside the transactional core's scope — this
// binary is a reference client, not part of the kernel.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tinystm/tinystm"
	"github.com/tinystm/tinystm/internal/cell"
	"github.com/tinystm/tinystm/internal/config"
	"github.com/tinystm/tinystm/internal/durability"
	"github.com/tinystm/tinystm/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	workers := flag.Int("workers", 8, "number of concurrent worker goroutines")
	duration := flag.Duration("duration", 2*time.Second, "how long to run the demo workload")
	flag.Parse()

	logger := log.New(os.Stdout, "stmdemo: ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	rt := tinystm.New(tinystm.WithLogger(logger))
	if err := rt.StartEpochAdvancer(cfg.EpochAdvanceSchedule); err != nil {
		logger.Fatalf("starting epoch advancer: %v", err)
	}
	defer rt.StopEpochAdvancer()
	if err := rt.StartGCLoop(cfg.GCSweepSchedule); err != nil {
		logger.Fatalf("starting gc loop: %v", err)
	}
	defer rt.StopGCLoop()

	store, err := durability.OpenCheckpointStore(cfg.CheckpointPath)
	if err != nil {
		logger.Fatalf("opening checkpoint store: %v", err)
	}
	defer store.Close()
	logger.Printf("checkpoint run id: %s", store.RunID())

	// Persist the pepoch file on every epoch bump via the epoch-advance
	// callback hook, the way the reference runtime's durability layer
	// observes epoch advancement without the epoch service depending on
	// it. cepoch trails pepoch by the recovery guard delta.
	rt.Epoch.OnAdvance(func(e uint64) {
		if err := durability.WriteEpochFile(cfg.PEpochPath, e); err != nil {
			logger.Printf("writing pepoch file: %v", err)
		}
		if err := durability.WriteEpochFile(cfg.CEpochPath, durability.RecoverableEpoch(e)); err != nil {
			logger.Printf("writing cepoch file: %v", err)
		}
	})

	counter := cell.New(rt.Registry, int64(0))
	ledger := cell.NewArray(rt.Registry, make([]int64, 10))
	orders := queue.New[string](cfg.QueueCapacity)

	var (
		commits atomic.Int64
		aborts  atomic.Int64
	)

	stop := time.After(*duration)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			thread := rt.NewThread()
			n := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				ctx := rt.Begin(thread, id%2 == 0)

				// A read can abort the whole transaction mid-flight (an
				// opacity trap or a lost queue-lock race); once that
				// happens the context is dead and the attempt is over.
				run := func() error {
					cur, err := counter.Read(ctx)
					if err != nil {
						return err
					}
					counter.Write(ctx, cur+1)
					idx := n % ledger.Len()
					v, err := ledger.Read(ctx, idx)
					if err != nil {
						return err
					}
					ledger.Write(ctx, idx, v+1)
					orders.Push(ctx, fmt.Sprintf("worker-%d-order-%d", id, n))
					_, _, err = orders.Pop(ctx)
					return err
				}
				if err := run(); err != nil {
					aborts.Add(1)
					n++
					continue
				}

				ok, txErr := ctx.TryCommit()
				if txErr != nil {
					logger.Printf("worker %d: invariant error: %v", id, txErr)
					continue
				}
				if ok {
					commits.Add(1)
					if err := store.Record(ctx.TID(), rt.Epoch.CurrentEpoch(), time.Now().Unix()); err != nil {
						logger.Printf("worker %d: checkpoint record failed: %v", id, err)
					}
				} else {
					aborts.Add(1)
				}
				n++
			}
		}(i)
	}
	wg.Wait()

	stats := rt.GC()
	logger.Printf("workload complete: commits=%s aborts=%s gc_reclaimed=%s",
		humanize.Comma(commits.Load()), humanize.Comma(aborts.Load()), humanize.Comma(int64(stats.Reclaimed)))
}
