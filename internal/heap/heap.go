// Package heap implements the global heap allocator (C2, spec §4.1): a
// logical array of N elements distributed across P processes by a
// mapper.Mapper, whose blocks physically live in each owner's registered
// transport.Transport region.
package heap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/s417-lama/ityr-go/internal/mapper"
	"github.com/s417-lama/ityr-go/internal/transport"
)

// ErrAllocFailed is returned when a collective or local allocation cannot be
// satisfied, e.g. the backing transport.Transport.Register call failed on a
// participating process (spec §4.9: resource exhaustion is surfaced, not
// panicked).
var ErrAllocFailed = errors.New("heap: allocation failed")

// Allocation is a contiguous logical array of N elements of size ElemSize,
// distributed across Nprocs processes by Mapper. It remains valid until
// Heap.Free is called on it (spec §3's Global pointer lifetime).
type Allocation struct {
	ID        uint64
	NElems    uint64
	ElemSize  uint64
	BlockSize uint64
	Mapper    mapper.Mapper
	Nprocs    int

	// baseOffset[r] is where this allocation's blocks owned by rank r begin
	// within rank r's transport region.
	baseOffset []uint64

	freed atomic.Bool
}

// OwnerOf returns the process owning the block containing the given element
// index (spec §4.1's owner_of, a pure function of the mapper).
func (a *Allocation) OwnerOf(elemIndex uint64) int {
	byteOffset := elemIndex * a.ElemSize
	return a.Mapper.Owner(byteOffset, a.BlockSize, a.Nprocs)
}

// BlockOffset returns the owner and transportOffset at which the block
// containing elemIndex physically resides, plus elemIndex's byte offset
// within that block.
func (a *Allocation) BlockOffset(elemIndex uint64) (owner int, transportOffset uint64, withinBlock uint64) {
	byteOffset := elemIndex * a.ElemSize
	owner = a.Mapper.Owner(byteOffset, a.BlockSize, a.Nprocs)
	blockID := a.Mapper.BlockID(byteOffset, a.BlockSize)
	localIdx := a.Mapper.LocalIndex(blockID, a.Nprocs)
	transportOffset = a.baseOffset[owner] + localIdx*a.BlockSize
	withinBlock = byteOffset % a.BlockSize
	return
}

// BlockIndexAt returns the process-independent block id containing
// elemIndex, for use as a cache.ID.Index.
func (a *Allocation) BlockIndexAt(elemIndex uint64) uint64 {
	return a.Mapper.BlockID(elemIndex*a.ElemSize, a.BlockSize)
}

// NumBlocks returns the total number of blocks spanned by the allocation.
func (a *Allocation) NumBlocks() uint64 {
	totalBytes := a.NElems * a.ElemSize
	return (totalBytes + a.BlockSize - 1) / a.BlockSize
}

// Freed reports whether Free has already been called.
func (a *Allocation) Freed() bool { return a.freed.Load() }

// Heap is a process-wide allocator over one transport.Transport handle.
type Heap struct {
	t  transport.Transport
	mu sync.Mutex
	// nextID is only ever incremented by rank 0 and broadcast, so every
	// process agrees on allocation ids without extra coordination.
	nextID uint64
}

// New constructs a Heap bound to t.
func New(t transport.Transport) *Heap {
	return &Heap{t: t}
}

// AllocCollective performs a collective allocation: every process must call
// it with equal (nelems, elemSize, blockSize, m) arguments, and all receive
// an identical Allocation. Each process registers exactly the bytes it will
// own (in an errgroup goroutine), then transport Broadcasts agree on the
// allocation id and share every process's base offset.
func (h *Heap) AllocCollective(nelems, elemSize, blockSize uint64, m mapper.Mapper) (*Allocation, error) {
	if nelems == 0 || elemSize == 0 || blockSize == 0 {
		return nil, fmt.Errorf("%w: zero-sized allocation", ErrAllocFailed)
	}
	nprocs := h.t.Size()

	a := &Allocation{
		NElems:    nelems,
		ElemSize:  elemSize,
		BlockSize: blockSize,
		Mapper:    m,
		Nprocs:    nprocs,
	}
	nblocks := a.NumBlocks()

	owned := make([]uint64, 0, nblocks/uint64(nprocs)+1)
	for b := uint64(0); b < nblocks; b++ {
		if m.Owner(b*blockSize, blockSize, nprocs) == h.t.Rank() {
			owned = append(owned, b)
		}
	}
	ownedBytes := int(uint64(len(owned)) * blockSize)

	var localBase uint64
	var g errgroup.Group
	g.Go(func() error {
		var err error
		localBase, err = h.t.Register(ownedBytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAllocFailed, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// rank 0 mints the id; everyone else learns it via broadcast.
	var idBytes []byte
	if h.t.Rank() == 0 {
		h.mu.Lock()
		h.nextID++
		id := h.nextID
		h.mu.Unlock()
		idBytes = encodeUint64(id)
	}
	idBytes = h.t.Broadcast(0, idBytes)
	a.ID = decodeUint64(idBytes)

	// every process must know every other process's base offset to route
	// Get/Put — gather via an all-to-all using nprocs sequential broadcasts,
	// a small, correctness-first collective (not a production hot path:
	// it runs once per allocation, not once per access).
	a.baseOffset = make([]uint64, nprocs)
	for root := 0; root < nprocs; root++ {
		var payload []byte
		if root == h.t.Rank() {
			payload = encodeUint64(localBase)
		}
		got := h.t.Broadcast(root, payload)
		a.baseOffset[root] = decodeUint64(got)
	}

	return a, nil
}

// AllocLocal performs a non-collective allocation: only the calling process
// allocates immediately; other processes obtain the same Allocation lazily,
// by having the caller share it out-of-band (e.g. embedded in a task's
// captured arguments, per spec §4.1).
func (h *Heap) AllocLocal(nelems, elemSize, blockSize uint64, m mapper.Mapper) (*Allocation, error) {
	if nelems == 0 || elemSize == 0 || blockSize == 0 {
		return nil, fmt.Errorf("%w: zero-sized allocation", ErrAllocFailed)
	}
	nprocs := h.t.Size()
	a := &Allocation{
		NElems:    nelems,
		ElemSize:  elemSize,
		BlockSize: blockSize,
		Mapper:    m,
		Nprocs:    nprocs,
		baseOffset: make([]uint64, nprocs),
	}
	nblocks := a.NumBlocks()
	var owned uint64
	for b := uint64(0); b < nblocks; b++ {
		if m.Owner(b*blockSize, blockSize, nprocs) == h.t.Rank() {
			owned++
		}
	}
	base, err := h.t.Register(int(owned * blockSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocFailed, err)
	}
	a.baseOffset[h.t.Rank()] = base

	h.mu.Lock()
	h.nextID++
	a.ID = h.nextID
	h.mu.Unlock()
	return a, nil
}

// Free invalidates the allocation. The caller is responsible for ensuring
// all outstanding checkouts into it have already been completed (spec
// §4.1's precondition; violating it is a consistency error, not detected
// here per spec §7).
func (h *Heap) Free(a *Allocation) {
	a.freed.Store(true)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v
}
