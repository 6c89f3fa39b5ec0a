// Package loadgen drives borrow/hold/return cycles against a license server
// at configurable concurrency. It exists to answer one question: does the
// server keep its pool accounting straight when many clients contend for
// licenses at once?
package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mholetzko/permetix/internal/obs"
	"github.com/mholetzko/permetix/pkg/licenseclient"
)

// Harness modes. Any unrecognized mode behaves like checkout-only.
const (
	ModeFullCycle    = "full-cycle"
	ModeCheckoutOnly = "checkout-only"
)

// RandomTool selects a fresh tool from the catalog for every operation.
const RandomTool = "random"

// toolCatalog is the fixed set of tools a "random" run draws from.
var toolCatalog = [...]string{
	"ECU Development Suite",
	"GreenHills Multi IDE",
	"AUTOSAR Configuration Tool",
	"CAN Bus Analyzer Pro",
	"Model-Based Design Studio",
}

// Config describes one harness run.
type Config struct {
	Workers    int           // logical clients; default 10
	Operations int           // cycles per worker; default 100
	Tool       string        // literal tool name, or RandomTool
	HoldTime   time.Duration // borrow-to-return hold in full-cycle mode
	Mode       string        // ModeFullCycle or borrow-only otherwise
	RampUp     time.Duration // worker k starts after k*RampUp/Workers

	// Concurrency caps in-flight cycles across all workers. Zero means one
	// unit per worker, i.e. no extra throttling beyond worker count.
	Concurrency int64

	// ThinkTime is the pause between cycles within a worker. The CLI sets
	// 10ms; tests leave it zero.
	ThinkTime time.Duration

	// StatusInterval enables the in-run status monitor when positive.
	StatusInterval time.Duration

	Logger  *zerolog.Logger // nil => disabled
	Metrics *obs.Metrics    // optional
}

// Result is the outcome of a completed run.
type Result struct {
	Stats     Stats         // merged worker counters
	PerWorker []Stats       // index = worker id
	Wall      time.Duration // wall time of the whole run
}

type Harness struct {
	cfg    Config
	client *licenseclient.Client
	sem    *semaphore.Weighted
	log    zerolog.Logger
}

func New(cfg Config, client *licenseclient.Client) (*Harness, error) {
	if client == nil {
		return nil, fmt.Errorf("loadgen: client required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Operations <= 0 {
		cfg.Operations = 100
	}
	if cfg.Tool == "" {
		cfg.Tool = RandomTool
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFullCycle
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = int64(cfg.Workers)
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Harness{
		cfg:    cfg,
		client: client,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		log:    log,
	}, nil
}

// Run executes every worker to completion and merges their counters.
// Cancelling ctx stops workers from starting new cycles; a cycle that has
// already borrowed still attempts its return so no lease is leaked.
func (h *Harness) Run(ctx context.Context) Result {
	start := time.Now()

	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if h.cfg.StatusInterval > 0 {
		go h.runMonitor(monCtx)
	}

	perWorker := make([]Stats, h.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < h.cfg.Workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			perWorker[i] = h.runWorker(ctx, i)
		}()
	}
	wg.Wait()
	stopMonitor()

	var agg Stats
	for _, s := range perWorker {
		agg = agg.Merge(s)
	}
	return Result{Stats: agg, PerWorker: perWorker, Wall: time.Since(start)}
}

func (h *Harness) runWorker(ctx context.Context, id int) Stats {
	var stats Stats
	user := workerUser(id)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	// Linear ramp-up: worker k issues nothing before k*RampUp/Workers.
	if h.cfg.RampUp > 0 {
		delay := time.Duration(int64(h.cfg.RampUp) / int64(h.cfg.Workers) * int64(id))
		if !sleepCtx(ctx, delay) {
			return stats
		}
	}
	h.log.Debug().Int("worker", id).Msg("worker started")

	start := time.Now()
	for op := 0; op < h.cfg.Operations; op++ {
		if err := h.sem.Acquire(ctx, 1); err != nil {
			break
		}
		h.runCycle(ctx, rng, user, &stats)
		h.sem.Release(1)

		if h.cfg.ThinkTime > 0 && !sleepCtx(ctx, h.cfg.ThinkTime) {
			break
		}
	}
	stats.Elapsed = time.Since(start)

	h.log.Debug().Int("worker", id).
		Int("borrows", stats.SuccessfulBorrows).
		Int("failed_borrows", stats.FailedBorrows).
		Msg("worker done")
	return stats
}

// runCycle performs one borrow and, in full-cycle mode, the hold and return.
// The capacity unit is held by the caller for the whole cycle.
func (h *Harness) runCycle(ctx context.Context, rng *rand.Rand, user string, stats *Stats) {
	tool := h.cfg.Tool
	if tool == RandomTool {
		tool = toolCatalog[rng.Intn(len(toolCatalog))]
	}

	m := h.cfg.Metrics
	if m != nil {
		m.InFlight.Inc()
		defer m.InFlight.Dec()
	}

	borrowStart := time.Now()
	lic, err := h.client.Borrow(ctx, tool, user)
	if m != nil {
		m.OpLatency.WithLabelValues("borrow").Observe(time.Since(borrowStart).Seconds())
	}
	if err != nil {
		stats.FailedBorrows++
		if _, busy := err.(*licenseclient.NoLicensesAvailableError); busy {
			// Expected under contention; counted, not an anomaly.
			stats.NoLicense++
			if m != nil {
				m.BorrowTotal.WithLabelValues("no_license").Inc()
			}
			return
		}
		if m != nil {
			m.BorrowTotal.WithLabelValues("error").Inc()
		}
		h.log.Warn().Err(err).Str("tool", tool).Msg("borrow failed")
		return
	}
	stats.SuccessfulBorrows++
	if m != nil {
		m.BorrowTotal.WithLabelValues("success").Inc()
	}

	if h.cfg.Mode != ModeFullCycle {
		return
	}

	if h.cfg.HoldTime > 0 {
		// A cancelled ctx cuts the hold short but never skips the return.
		sleepCtx(ctx, h.cfg.HoldTime)
	}

	// The return must be attempted even when the run is being cancelled;
	// abandoning a borrowed license would leak the lease server-side.
	retStart := time.Now()
	err = lic.Return(context.WithoutCancel(ctx))
	if m != nil {
		m.OpLatency.WithLabelValues("return").Observe(time.Since(retStart).Seconds())
	}
	if err != nil {
		stats.FailedReturns++
		if m != nil {
			m.ReturnTotal.WithLabelValues("error").Inc()
		}
		h.log.Warn().Err(err).Str("tool", tool).Msg("return failed")
		return
	}
	stats.SuccessfulReturns++
	if m != nil {
		m.ReturnTotal.WithLabelValues("success").Inc()
	}
}

// workerUser is the identity a worker borrows as; it also lets mock servers
// attribute requests to workers in tests.
func workerUser(id int) string {
	return fmt.Sprintf("stress-worker-%d", id)
}

// sleepCtx sleeps for d or until ctx is done; reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
