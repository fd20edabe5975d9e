package sched

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/s417-lama/ityr-go/internal/longwait"
)

// Task is a spawned unit of work: the spawned child function, which either
// gets reclaimed by its own spawner (never truly forked) or is stolen and
// run elsewhere. The spawner's own continuation is never queued.
type Task struct {
	fn   func(w *Worker)
	done chan struct{} // buffered 1: a single completion signal, not a close

	spawnRank int // Worker.rank at the moment of Spawn, for I4's migration check

	mu            sync.Mutex
	executed      bool
	ranByOwnerPop bool
	onDie         func(parentPopped bool)
}

// SpawnRank returns the rank of the Worker that spawned this Task (spec
// I4: a task's continuation may resume on a different rank than it was
// spawned on, and callers must detect that by comparing ranks, not by
// assuming affinity).
func (t *Task) SpawnRank() int { return t.spawnRank }

func (t *Task) run(w *Worker, ranByOwnerPop bool) {
	t.fn(w)
	t.mu.Lock()
	t.executed = true
	t.ranByOwnerPop = ranByOwnerPop
	onDie := t.onDie
	t.mu.Unlock()
	if onDie != nil {
		onDie(ranByOwnerPop)
	}
	t.done <- struct{}{}
}

// Worker owns one Deque and executes Tasks either from its own bottom
// (children it spawned itself) or stolen from another Worker's top.
type Worker struct {
	rank  int
	deque *Deque
	pool  *Pool
}

// Rank returns this Worker's simulated process rank.
func (w *Worker) Rank() int { return w.rank }

// Pool returns the Pool this Worker belongs to.
func (w *Worker) Pool() *Pool { return w.pool }

// Spawn pushes fn as a new Task onto w's own deque and returns immediately,
// without running fn; the caller keeps running, and fn runs either when
// the caller reclaims it in Join or when another Worker steals it. Thieves
// therefore take the spawned child, not the caller's continuation.
func (w *Worker) Spawn(fn func(w *Worker)) *Task {
	return w.SpawnAux(fn, nil)
}

// SpawnAux is Spawn with an onDie callback, fired exactly once when the
// Task finishes executing (wherever that ends up happening), receiving
// whether the spawning Worker reclaimed it itself (true) or it was stolen
// or otherwise ran elsewhere (false). This is the work-first fence-elision
// hook (spec §4.7/§4.5): releasing only when a steal actually occurred.
func (w *Worker) SpawnAux(fn func(w *Worker), onDie func(parentPopped bool)) *Task {
	t := &Task{fn: fn, done: make(chan struct{}, 1), spawnRank: w.rank, onDie: onDie}
	w.deque.PushBottom(t)
	return t
}

// Join waits for t to complete, reclaiming and running it inline if no
// thief has taken it yet.
func (w *Worker) Join(t *Task) {
	w.JoinAux(t, nil)
}

// JoinAux is Join with an onBlock callback, invoked exactly once if t has
// already been stolen and the caller must actually block (spec §4.5/§4.7's
// on-block hook, used to release visibility before parking).
func (w *Worker) JoinAux(t *Task, onBlock func()) {
	if reclaimed, ok := w.deque.PopBottom(); ok {
		if reclaimed == t {
			t.run(w, true)
			return
		}
		// Not our task (a nested spawn pushed after t); put it back and
		// fall through to the blocking wait for t specifically.
		w.deque.PushBottom(reclaimed)
	}
	if onBlock != nil {
		onBlock()
	}
	// Block with progress rather than parking outright: every poll tick,
	// try to steal and run one task from a random sibling, so a blocked
	// join still contributes throughput instead of idling (spec's
	// join_aux polling the scheduler while waiting on a child).
	_ = longwait.Until(context.Background(), nil, t.done, 1, nil, func() {
		if w.pool == nil {
			return
		}
		if victim := w.pool.randomVictim(w.rank); victim != w {
			if stolen, ok := victim.deque.Steal(); ok {
				stolen.run(w, false)
			}
		}
	})
}

// Pool owns every Worker in a simulated cluster and runs the background
// steal loops that provide actual parallelism: every Worker but the one
// driving the root task continuously tries to steal and execute work.
type Pool struct {
	workers []*Worker
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewPool constructs a Pool of n Workers, ranked 0..n-1, and starts n-1
// background helper loops (rank 0 is reserved for RunRoot's caller).
func NewPool(n int) *Pool {
	if n <= 0 {
		panic("sched: pool size must be positive")
	}
	p := &Pool{stop: make(chan struct{})}
	p.workers = make([]*Worker, n)
	for i := range p.workers {
		p.workers[i] = &Worker{rank: i, deque: NewDeque(), pool: p}
	}
	for i := 1; i < n; i++ {
		p.wg.Add(1)
		go p.helperLoop(p.workers[i])
	}
	return p
}

// Worker returns the Worker for the given rank.
func (p *Pool) Worker(rank int) *Worker { return p.workers[rank] }

// Size returns the number of Workers in the Pool.
func (p *Pool) Size() int { return len(p.workers) }

func (p *Pool) helperLoop(w *Worker) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		victim := p.randomVictim(w.rank)
		if t, ok := victim.deque.Steal(); ok {
			t.run(w, false)
			continue
		}
		runtime.Gosched()
	}
}

func (p *Pool) randomVictim(self int) *Worker {
	n := len(p.workers)
	if n <= 1 {
		return p.workers[self]
	}
	for {
		i := rand.IntN(n)
		if i != self {
			return p.workers[i]
		}
	}
}

// RunRoot runs fn as the root task on rank 0, using the calling goroutine
// directly (no extra goroutine hop for the root), blocking until fn
// returns, then stops every helper loop.
func (p *Pool) RunRoot(fn func(w *Worker)) {
	fn(p.workers[0])
	close(p.stop)
	p.wg.Wait()
}
