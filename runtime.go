// Package ityr is the top-level facade mirroring the resolved
// original_source's ityr.hpp: one process-wide Runtime instance,
// constructed by Init and torn down by Fini, bundling every subsystem
// (transport, heap, cache, consistency, scheduler, fence policy, logger)
// behind a single handle, exactly as iro_if<P>'s static
// get_optional_instance()/init()/fini() pair guards one global singleton
// per process.
package ityr

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/s417-lama/ityr-go/config"
	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/internal/consistency"
	"github.com/s417-lama/ityr-go/internal/fence"
	"github.com/s417-lama/ityr-go/internal/heap"
	"github.com/s417-lama/ityr-go/internal/mapper"
	"github.com/s417-lama/ityr-go/internal/sched"
	"github.com/s417-lama/ityr-go/internal/transport"
	"github.com/s417-lama/ityr-go/logger"
	"github.com/s417-lama/ityr-go/pattern"
)

var (
	instanceMu sync.Mutex
	instance   *Runtime
)

// Process bundles the subsystems one simulated process (rank) owns: its
// own Transport handle, heap allocator, cache and consistency protocol.
// Each Process is a distinct Go object bound to its own Transport, so
// ranks communicate only through Get/Put/CompareAndSwapUint64 and the transport's
// collective primitives — never by sharing a Go pointer to another rank's
// cache or heap — matching the PGAS discipline being genuinely simulated
// rather than merely described (spec §1).
type Process struct {
	Rank      int
	Transport transport.Transport
	Heap      *heap.Heap
	Cache     *cache.Engine
	Protocol  *consistency.Protocol
}

// Runtime bundles every process-wide singleton subsystem: one Process per
// simulated rank, plus the scheduler Pool, fence Policy, Logger and Mapper
// shared across all of them. Fields are exported so advanced callers
// (container.Vector, pattern.Runner) can be constructed directly from them
// without Runtime growing a combinatorial set of forwarding methods for
// every subsystem operation.
type Runtime struct {
	Config    config.Config
	Processes []*Process
	Pool      *sched.Pool
	Policy    fence.Policy
	Logger    logger.Logger
	Mapper    mapper.Mapper
}

// Init constructs the process-wide Runtime with the given per-process
// cache capacity (in blocks), resolving every other knob from the
// environment via config.FromEnv, and panics if a Runtime is already
// active — matching iro_if::init's assert(!has_value()) precondition.
func Init(cacheCapacity int) (*Runtime, error) {
	return InitN(cacheCapacity, 1)
}

// InitN is Init generalized to an n-process in-process cluster, for tests
// and the cmd/ityr-bench harness that want more than one simulated rank
// without a real distributed deployment. Every rank gets its own Heap,
// cache.Engine and consistency.Protocol bound to its own cluster[i]
// Transport — nothing here is shared Go memory across ranks.
func InitN(cacheCapacity, nprocs int) (*Runtime, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		panic("ityr: Init called while a Runtime is already active; call Fini first")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("ityr: %w", err)
	}

	var log logger.Logger
	switch cfg.LoggerImpl {
	case config.LoggerTrace:
		log, err = logger.NewTrace(0, ".")
		if err != nil {
			return nil, fmt.Errorf("ityr: %w", err)
		}
	case config.LoggerStats:
		log = logger.NewStats(0, nil)
	default:
		log = logger.NewDummy(0)
	}
	if cfg.PrintEnv {
		for _, line := range cfg.Lines() {
			fmt.Println(line)
		}
	}

	cluster := transport.NewCluster(nprocs)

	var m mapper.Mapper = mapper.Cyclic{}
	if cfg.DistPolicy == config.DistBlock {
		m = mapper.NewBlockCyclic(1)
	}

	processes := make([]*Process, nprocs)
	for i, t := range cluster {
		engine := cache.New(t, cfg.BlockSize, cacheCapacity,
			cache.WithWriteThrough(cfg.EnableWriteThrough), cache.WithLogger(log))
		processes[i] = &Process{
			Rank:      i,
			Transport: t,
			Heap:      heap.New(t),
			Cache:     engine,
			Protocol:  consistency.New(engine, log),
		}
	}

	pool := sched.NewPool(nprocs)

	rt := &Runtime{
		Config:    cfg,
		Processes: processes,
		Pool:      pool,
		Policy:    fence.ByName(string(cfg.Policy)),
		Logger:    log,
		Mapper:    m,
	}
	instance = rt
	return rt, nil
}

// Fini tears down the active Runtime, closing every rank's cache and
// flushing its logger, and panicking if no Runtime is active — matching
// iro_if::fini's assert(has_value()).
func Fini() error {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		panic("ityr: Fini called with no active Runtime")
	}
	rt := instance
	instance = nil
	for _, p := range rt.Processes {
		p.Cache.Close()
	}
	return rt.Logger.Flush()
}

// Active returns the process-wide Runtime, or nil if none is active.
func Active() *Runtime {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// Process returns the Process bundle for the given rank.
func (rt *Runtime) Process(rank int) *Process { return rt.Processes[rank] }

// NumProcesses returns the number of simulated ranks.
func (rt *Runtime) NumProcesses() int { return len(rt.Processes) }

// Runner returns a pattern.Runner bound to the given rank's own Worker and
// consistency Protocol — the handle every pattern.Invoke/For/Reduce/
// Transform call needs. Use rank 0 for the root task; a callback running
// on a different Worker after a steal should call Runner(w.Rank()) rather
// than reusing a Runner built for another rank.
func (rt *Runtime) Runner(rank int) *pattern.Runner {
	return &pattern.Runner{Worker: rt.Pool.Worker(rank), Policy: rt.Policy, Protocol: rt.Processes[rank].Protocol}
}

// Run executes fn as the root task of a fork-join computation on rank 0
// (via pattern.RootSpawn), recovering a panic escaping fn, logging its
// stack trace through rt.Logger, and re-panicking — mirroring "no
// exceptions cross task boundaries; an unhandled one aborts the whole
// Runtime" (spec §4.9/§7), realized here as a controlled log-then-repanic
// instead of calling os.Exit directly, so a caller embedding Run in a
// larger Go program retains the chance to recover further up its own
// stack.
func (rt *Runtime) Run(fn func(w *sched.Worker)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rt.Logger.Log(logger.Event{
				Kind: "panic",
				Misc: map[string]any{
					"recovered": fmt.Sprint(r),
					"stack":     string(debug.Stack()),
				},
			})
			err = fmt.Errorf("ityr: task panicked: %v", r)
			panic(r)
		}
	}()
	pattern.RootSpawn(rt.Runner(0), func(w *sched.Worker) struct{} {
		fn(w)
		return struct{}{}
	})
	return nil
}
