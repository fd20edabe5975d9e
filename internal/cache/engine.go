package cache

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/s417-lama/ityr-go/internal/batch"
	"github.com/s417-lama/ityr-go/internal/ring"
	"github.com/s417-lama/ityr-go/internal/transport"
	"github.com/s417-lama/ityr-go/logger"
)

// ErrCachePinned is returned by Fetch when eviction cannot make room because
// every resident block is pinned (spec §4.9: out-of-cache during fetch is a
// logic error the caller must retry after releasing checkouts).
var ErrCachePinned = errors.New("cache: all resident blocks are pinned, cannot evict")

// Engine is the per-process cache of remote blocks (C3). One Engine exists
// per simulated process, bound to that process's transport.Transport handle.
type Engine struct {
	t            transport.Transport
	blockSize    uint64
	capacity     int
	writeThrough bool
	log          logger.Logger
	writebacks   *batch.Batcher[writebackJob]

	mu        sync.Mutex
	blocks    map[ID]*Block
	residency *ring.Ring[ID] // CLOCK scan order of currently-resident block ids
	clock     uint64
}

type writebackJob struct {
	rank   int
	offset uint64
	data   []byte
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithWriteThrough enables the write-through mode of spec §4.2: every
// checkin of a writable view issues an immediate writeback.
func WithWriteThrough(enabled bool) Option {
	return func(e *Engine) { e.writeThrough = enabled }
}

// WithLogger attaches a trace/stats logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// capacityPow2 rounds up to the next power of two, since ring.Ring requires
// a power-of-two capacity.
func capacityPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// New constructs an Engine able to hold up to capacity resident blocks of
// blockSize bytes each, backed by t.
func New(t transport.Transport, blockSize uint64, capacity int, opts ...Option) *Engine {
	if capacity <= 0 {
		capacity = 1
	}
	e := &Engine{
		t:         t,
		blockSize: blockSize,
		capacity:  capacity,
		blocks:    make(map[ID]*Block, capacity),
		residency: ring.New[ID](capacityPow2(capacity)),
		log:       logger.NewDummy(t.Rank()),
	}
	// writebacks go through a batcher: a batch runs when it reaches MaxSize
	// (the current capacity), when Poll flushes it, or when the batcher's
	// default 50ms flush interval elapses (FlushInterval 0 selects that
	// default). writebackLocked waits for each submitted chunk's batch before
	// submitting the next, so one caller's chunks are not coalesced with
	// each other; only writebacks submitted concurrently share a batch.
	e.writebacks = batch.New(&batch.Config{MaxSize: capacity, FlushInterval: 0, MaxConcurrency: 1},
		func(jobs []writebackJob) error {
			for _, j := range jobs {
				if err := e.t.Put(j.rank, j.offset, j.data); err != nil {
					return err
				}
			}
			return nil
		})
	return e
}

// Close releases background resources (the writeback batcher's goroutine).
func (e *Engine) Close() { e.writebacks.Close() }

func (e *Engine) lookupOrCreate(id ID, home int, homeOffset uint64) *Block {
	if b, ok := e.blocks[id]; ok {
		return b
	}
	b := &Block{
		id:         id,
		homeOwner:  home,
		homeOffset: homeOffset,
		size:       e.blockSize,
		state:      Invalid,
		dirty:      NewDirtyBitmap(e.blockSize),
	}
	e.blocks[id] = b
	return b
}

// Fetch returns a pointer to a resident copy of the block (spec §4.2).
// If the block is invalid, it issues a remote read from home. needWrite
// marks the block dirty without fetching (checkout(write) never reads
// stale bytes it is about to overwrite in full).
func (e *Engine) Fetch(id ID, home int, homeOffset uint64, needWrite bool) (*Block, error) {
	e.mu.Lock()
	b, isNew := e.ensureResident(id, home, homeOffset)
	if b == nil {
		e.mu.Unlock()
		return nil, ErrCachePinned
	}
	b.Lock()
	e.mu.Unlock()
	defer b.Unlock()

	e.clock++
	b.lastUse = e.clock

	switch {
	case needWrite:
		if b.data == nil {
			b.data = make([]byte, e.blockSize)
		}
		b.dirty.MarkAll()
		b.state = Dirty
	case b.state == Invalid:
		b.state = Fetching
		data, err := e.t.Get(home, homeOffset, int(e.blockSize))
		if err != nil {
			b.state = Invalid
			return nil, fmt.Errorf("cache: fetch block %+v: %w", id, err)
		}
		b.data = data
		b.state = Clean
	// Clean and Dirty: already resident, return immediately.
	default:
	}

	if isNew {
		e.log.Log(logger.Event{Kind: logger.EventFetch, Misc: map[string]any{"block": id, "new": true}})
	}
	return b, nil
}

// ensureResident returns the Block for id, evicting another resident block
// first if the cache is full and id is not already present. Must be called
// with e.mu held; returns nil if eviction failed (everything pinned).
func (e *Engine) ensureResident(id ID, home int, homeOffset uint64) (*Block, bool) {
	if b, ok := e.blocks[id]; ok {
		return b, false
	}
	if len(e.blocks) >= e.capacity {
		if !e.evictLocked() {
			return nil, false
		}
	}
	b := e.lookupOrCreate(id, home, homeOffset)
	e.residency.PushBack(id)
	return b, true
}

// evictLocked removes one unpinned, non-in-flight block using an
// approximate-LRU clock scan, preferring clean victims over dirty ones
// (spec §4.2's tie-break, avoiding a writeback stall on the common path).
// Must be called with e.mu held.
func (e *Engine) evictLocked() bool {
	var cleanVictim, dirtyVictim *ID
	var cleanUse, dirtyUse uint64
	n := e.residency.Len()
	for i := 0; i < n; i++ {
		id := e.residency.Get(i)
		b, ok := e.blocks[id]
		if !ok {
			continue
		}
		b.Lock()
		pinned := b.Pinned()
		state := b.state
		lastUse := b.lastUse
		b.Unlock()
		if pinned || state == Fetching || state == Evicting {
			continue
		}
		switch state {
		case Clean, Invalid:
			if cleanVictim == nil || lastUse < cleanUse {
				idc := id
				cleanVictim, cleanUse = &idc, lastUse
			}
		case Dirty:
			if dirtyVictim == nil || lastUse < dirtyUse {
				idc := id
				dirtyVictim, dirtyUse = &idc, lastUse
			}
		}
	}

	victim := cleanVictim
	if victim == nil {
		victim = dirtyVictim
	}
	if victim == nil {
		return false
	}

	b := e.blocks[*victim]
	b.Lock()
	if b.state == Dirty {
		e.writebackLocked(b)
	}
	b.state = Invalid
	b.data = nil
	b.Unlock()

	delete(e.blocks, *victim)
	// residency ring keeps stale entries; they're skipped on future scans
	// by the blocks-map membership check above (a classic CLOCK: the ring
	// is a scan hint, not a source of truth).
	return true
}

// Writeback flushes dirty bytes of b to home, clearing its dirty bitmap.
func (e *Engine) Writeback(b *Block) error {
	b.Lock()
	defer b.Unlock()
	return e.writebackLocked(b)
}

// writebackLocked must be called with b locked.
func (e *Engine) writebackLocked(b *Block) error {
	if b.state != Dirty {
		return nil
	}
	for _, r := range b.dirty.Ranges() {
		start, end := r[0], r[1]
		if end > uint64(len(b.data)) {
			end = uint64(len(b.data))
		}
		if start >= end {
			continue
		}
		chunk := make([]byte, end-start)
		copy(chunk, b.data[start:end])
		if err := e.writebacks.Submit(writebackJob{rank: b.homeOwner, offset: b.homeOffset + start, data: chunk}).Wait(); err != nil {
			return fmt.Errorf("cache: writeback block %+v: %w", b.id, err)
		}
	}
	b.dirty.Clear()
	b.state = Clean
	e.log.Log(logger.Event{Kind: logger.EventWriteback, Misc: map[string]any{"block": b.id}})
	return nil
}

// Invalidate drops a clean block (spec §4.2: dirty blocks must be written
// back first; invalidating a pinned block is forbidden).
func (e *Engine) Invalidate(b *Block) error {
	b.Lock()
	defer b.Unlock()
	if b.Pinned() {
		return fmt.Errorf("cache: invalidate block %+v: pinned", b.id)
	}
	if b.state == Dirty {
		if err := e.writebackLocked(b); err != nil {
			return err
		}
	}
	b.state = Invalid
	b.data = nil
	e.log.Log(logger.Event{Kind: logger.EventInvalidate, Misc: map[string]any{"block": b.id}})
	return nil
}

// Poll services in-flight completions, opportunistically flushing the
// pending writeback batch (spec §4.2).
func (e *Engine) Poll() {
	e.writebacks.Flush()
}

// Pin/Unpin implement the checkout-entry pin_count invariant (I-block §3):
// pin_count of every block in a checkout's block_set is > 0 for the
// checkout's lifetime.
func (e *Engine) Pin(b *Block) {
	b.Lock()
	b.pinCount++
	b.Unlock()
}

func (e *Engine) Unpin(b *Block) {
	b.Lock()
	b.pinCount--
	if b.pinCount < 0 {
		panic("cache: Unpin called more times than Pin")
	}
	writeThrough := e.writeThrough && b.state == Dirty
	b.Unlock()
	if writeThrough {
		_ = e.Writeback(b)
	}
}

// MarkWritten records that [off, off+length) of b's local bytes were
// written by a checkout(write-capable) view, transitioning b to Dirty and
// marking the corresponding dirty-bitmap range. Called on checkin.
func (e *Engine) MarkWritten(b *Block, off, length uint64) {
	b.Lock()
	defer b.Unlock()
	b.dirty.MarkRange(off, length)
	b.state = Dirty
	writeThrough := e.writeThrough
	if writeThrough {
		e.writebackLocked(b)
	}
}

// blockIDLess orders blocks by (AllocID, Index), giving Release/Acquire a
// deterministic writeback/invalidation order instead of Go's randomized
// map iteration order — useful for reproducible traces and tests.
func blockIDLess(a, b *Block) bool {
	ai, bi := a.ID(), b.ID()
	if ai.AllocID != bi.AllocID {
		return ai.AllocID < bi.AllocID
	}
	return ai.Index < bi.Index
}

// AllDirty returns every currently-resident Dirty block, sorted by block
// id, used by the consistency protocol's whole-cache Release.
func (e *Engine) AllDirty() []*Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Block
	for _, b := range e.blocks {
		b.Lock()
		if b.state == Dirty {
			out = append(out, b)
		}
		b.Unlock()
	}
	slices.SortFunc(out, func(a, b *Block) int {
		switch {
		case blockIDLess(a, b):
			return -1
		case blockIDLess(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// AllClean returns every currently-resident Clean block, sorted by block
// id, used by the consistency protocol's whole-cache Acquire.
func (e *Engine) AllClean() []*Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Block
	for _, b := range e.blocks {
		b.Lock()
		if b.state == Clean {
			out = append(out, b)
		}
		b.Unlock()
	}
	slices.SortFunc(out, func(a, b *Block) int {
		switch {
		case blockIDLess(a, b):
			return -1
		case blockIDLess(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// Residency returns the number of currently-resident blocks (spec P7).
func (e *Engine) Residency() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.blocks)
}

// Capacity returns the configured maximum residency.
func (e *Engine) Capacity() int { return e.capacity }
