package transport

import "sync"

// barrierState implements a reusable, generation-counted rendezvous across
// n goroutines: a condition-variable-free, cond-like gate built on a mutex
// and per-generation channel close/broadcast rather than sync.WaitGroup,
// since WaitGroup cannot be waited on repeatedly across generations without
// a race between Add and Wait.
type barrierState struct {
	n int

	mu         sync.Mutex
	count      int
	generation chan struct{}

	bmu          sync.Mutex
	broadcastGen int
	broadcastCh  chan []byte
	broadcastVal []byte
}

func newBarrierState(n int) *barrierState {
	return &barrierState{n: n, generation: make(chan struct{})}
}

// Barrier blocks the calling goroutine until n goroutines total have called
// Barrier for the current generation, then releases them all together.
func (b *barrierState) Barrier() {
	b.mu.Lock()
	gen := b.generation
	b.count++
	if b.count == b.n {
		b.count = 0
		b.generation = make(chan struct{})
		b.mu.Unlock()
		close(gen)
		return
	}
	b.mu.Unlock()
	<-gen
}

// Broadcast distributes data from root to all n participants. Every
// participant (root included) must call Broadcast once per round; non-root
// callers' data argument is ignored.
func (b *barrierState) Broadcast(root int, rank int, data []byte) []byte {
	b.bmu.Lock()
	if b.broadcastCh == nil {
		b.broadcastCh = make(chan []byte, 1)
	}
	ch := b.broadcastCh
	if rank == root {
		b.broadcastVal = data
	}
	b.bmu.Unlock()

	// rendezvous: every participant waits at the barrier so root has had a
	// chance to publish broadcastVal before anyone reads it.
	b.Barrier()

	b.bmu.Lock()
	val := b.broadcastVal
	out := make([]byte, len(val))
	copy(out, val)
	b.bmu.Unlock()

	// second barrier ensures no participant resets broadcastCh/Val while
	// a slower peer is still reading it above.
	b.Barrier()
	_ = ch
	return out
}

func (l *Loopback) Barrier() {
	l.barrier.Barrier()
}

func (l *Loopback) Broadcast(root int, data []byte) []byte {
	return l.barrier.Broadcast(root, l.rank, data)
}
