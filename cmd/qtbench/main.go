// Command qtbench is the throughput-measurement harness spec.md places
// outside the core library's scope: N worker goroutines hammer a
// shared Quadtree with a configurable mix of search/insert/remove
// operations for a fixed duration, reporting throughput and the number
// of operations that failed with contention after exhausting their
// retry budget.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"SkipQuadtree/quadtree"
	"SkipQuadtree/quadtree/rlu"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qtbench_ops_total",
		Help: "Operations completed, by kind and outcome reason.",
	}, []string{"kind", "reason"})

	retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qtbench_contention_retries_total",
		Help: "Operations that failed with contention after exhausting their retry budget.",
	})
)

func init() {
	prometheus.MustRegister(opsTotal, retriesTotal)
}

func main() {
	app := &cli.App{
		Name:  "qtbench",
		Usage: "drive a concurrent compressed skip quadtree and report throughput",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "threads", Value: 8, Usage: "number of concurrent worker goroutines"},
			&cli.DurationFlag{Name: "duration", Value: 5 * time.Second, Usage: "how long to run the benchmark"},
			&cli.Float64Flag{Name: "write-ratio", Value: 0.2, Usage: "fraction of ops that are inserts"},
			&cli.Float64Flag{Name: "delete-ratio", Value: 0.1, Usage: "fraction of ops that are removes (in addition to the write-ratio inserts)"},
			&cli.Float64Flag{Name: "region", Value: 100000, Usage: "side length of the square region points are drawn from"},
			&cli.IntFlag{Name: "max-in-flight", Value: 0, Usage: "cap on concurrently in-flight operations across all workers; 0 disables the cap"},
			&cli.IntFlag{Name: "seed-points", Value: 1000, Usage: "points pre-loaded into the tree before the timed run starts"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	threads := c.Int("threads")
	duration := c.Duration("duration")
	writeRatio := c.Float64("write-ratio")
	deleteRatio := c.Float64("delete-ratio")
	region := c.Float64("region")
	seedPoints := c.Int("seed-points")
	maxInFlight := c.Int("max-in-flight")

	tree := quadtree.InitRoot(quadtree.Point{}, region)

	seedCtx := rlu.ThreadInit()
	seedRNG := rand.New(rand.NewSource(1))
	for i := 0; i < seedPoints; i++ {
		tree.Insert(seedCtx, randomPoint(seedRNG, region))
	}
	seedCtx.ThreadFinish()
	log.Printf("seeded %d points", seedPoints)

	var sem *semaphore.Weighted
	if maxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(maxInFlight))
	}

	runCtx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var totalOps atomic.Uint64
	var totalRetries atomic.Uint64

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < threads; i++ {
		workerSeed := int64(i) + 1
		g.Go(func() error {
			return worker(gctx, tree, sem, region, writeRatio, deleteRatio, workerSeed, &totalOps, &totalRetries)
		})
	}

	start := time.Now()
	if err := g.Wait(); err != nil && err != context.DeadlineExceeded {
		return fmt.Errorf("benchmark worker failed: %w", err)
	}
	elapsed := time.Since(start)

	ops := totalOps.Load()
	fmt.Printf("threads=%d duration=%s ops=%d ops/sec=%.1f retries=%d\n",
		threads, elapsed.Round(time.Millisecond), ops, float64(ops)/elapsed.Seconds(), totalRetries.Load())

	return nil
}

// worker runs one simulated client: it draws an operation kind from
// the configured mix and a uniformly random point from the region,
// repeating until ctx is done. Each worker owns exactly one
// rlu.Context for its entire lifetime, matching the thread-local
// contract the synchronization layer requires.
func worker(ctx context.Context, tree *quadtree.Quadtree, sem *semaphore.Weighted, region, writeRatio, deleteRatio float64, seed int64, totalOps, totalRetries *atomic.Uint64) error {
	rctx := rlu.ThreadInit()
	defer rctx.ThreadFinish()

	rng := rand.New(rand.NewSource(seed))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		p := randomPoint(rng, region)
		roll := rng.Float64()

		var kind string
		var reason quadtree.Reason
		switch {
		case roll < deleteRatio:
			kind = "remove"
			_, reason = tree.RemoveReason(rctx, p)
		case roll < deleteRatio+writeRatio:
			kind = "insert"
			_, reason = tree.InsertReason(rctx, p)
		default:
			kind = "search"
			if tree.Search(rctx, p) {
				reason = quadtree.ReasonOK
			} else {
				reason = quadtree.ReasonNotFound
			}
		}

		if sem != nil {
			sem.Release(1)
		}

		opsTotal.WithLabelValues(kind, reason.String()).Inc()
		totalOps.Add(1)
		if reason == quadtree.ReasonContention {
			retriesTotal.Inc()
			totalRetries.Add(1)
		}
	}
}

func randomPoint(rng *rand.Rand, region float64) quadtree.Point {
	var p quadtree.Point
	half := region / 2
	for i := range p {
		p[i] = rng.Float64()*region - half
	}
	return p
}
