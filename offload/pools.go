// Package offload implements ThreadOffload (spec §4.11): two sized worker
// pools — an I/O-wide pool for blocking sockets/disk, a CPU-narrow pool for
// compute — directly modeled on orchestration.TaskWorkerPool
// (orchestration/task_worker.go): the same sync/atomic running-state
// tracking and context.CancelFunc + sync.WaitGroup graceful-drain shutdown,
// narrowed from a queue-consuming handler dispatch down to a plain
// submit-a-closure pool since ThreadOffload has no task registry of its
// own — callers submit arbitrary work directly.
package offload

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/userport/enrichment-worker/telemetry"
)

// job is a unit of offloaded work plus the trace context captured at
// submission time, restored inside the worker before Fn runs — the
// capture-before/restore-in contract of spec §4.1.
type job struct {
	trace telemetry.TraceContext
	fn    func(ctx context.Context)
}

// pool is a fixed-size goroutine pool consuming jobs from a buffered
// channel, modeled on TaskWorkerPool's worker-loop/shutdown-drain shape.
type pool struct {
	jobs    chan job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

func newPool(workerCount, queueDepth int) *pool {
	return &pool{jobs: make(chan job, queueDepth)}
}

func (p *pool) start(ctx context.Context, workerCount int) {
	if p.running.Swap(true) {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(workerCtx)
	}
}

func (p *pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			runCtx := telemetry.RestoreTrace(context.Background(), j.trace)
			j.fn(runCtx)
		}
	}
}

// submit captures the caller's trace context and enqueues fn, blocking
// until a slot is free or ctx is cancelled.
func (p *pool) submit(ctx context.Context, fn func(ctx context.Context)) error {
	j := job{trace: telemetry.CaptureTrace(ctx), fn: fn}
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) stop(timeout time.Duration) error {
	if !p.running.Swap(false) {
		return nil
	}
	// Cancel the worker context only after the wait below, so queued jobs
	// are drained rather than abandoned.
	if p.cancel != nil {
		defer p.cancel()
	}
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("offload pool shutdown timeout: workers may still be running")
	}
}

// Config allows overriding pool sizes and queue depths; zero values fall
// back to spec-derived defaults.
type Config struct {
	IOWorkers   int
	CPUWorkers  int
	QueueDepth  int
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	cpus := runtime.NumCPU()
	ioWorkers := cpus * 10
	if ioWorkers > 32 {
		ioWorkers = 32
	}
	return Config{
		IOWorkers:       ioWorkers,
		CPUWorkers:      cpus,
		QueueDepth:      1024,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool bundles the I/O and CPU offload pools per spec §4.11 sizing: io =
// min(32, cpu_count*10) workers for blocking sockets/disk, cpu = cpu_count
// workers for compute.
type Pool struct {
	cfg Config
	io  *pool
	cpu *pool
}

// New builds the two pools per cfg (or spec defaults when cfg is the zero
// value) but does not start them — call Start.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.IOWorkers <= 0 {
		cfg.IOWorkers = def.IOWorkers
	}
	if cfg.CPUWorkers <= 0 {
		cfg.CPUWorkers = def.CPUWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Pool{
		cfg: cfg,
		io:  newPool(cfg.IOWorkers, cfg.QueueDepth),
		cpu: newPool(cfg.CPUWorkers, cfg.QueueDepth),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.io.start(ctx, p.cfg.IOWorkers)
	p.cpu.start(ctx, p.cfg.CPUWorkers)
}

// SubmitIO offloads blocking socket/disk work to the I/O pool.
func (p *Pool) SubmitIO(ctx context.Context, fn func(ctx context.Context)) error {
	return p.io.submit(ctx, fn)
}

// SubmitCPU offloads compute work to the CPU pool.
func (p *Pool) SubmitCPU(ctx context.Context, fn func(ctx context.Context)) error {
	return p.cpu.submit(ctx, fn)
}

// Shutdown drains both pools, CPU first, per spec §4.11.
func (p *Pool) Shutdown() error {
	if err := p.cpu.stop(p.cfg.ShutdownTimeout); err != nil {
		return err
	}
	return p.io.stop(p.cfg.ShutdownTimeout)
}
