// Package cache implements the cache engine (C3, spec §4.2): a per-process
// bounded cache of remote blocks, with dirty tracking and eviction.
package cache

import (
	"fmt"
	"math/bits"
	"sync"
)

// State is a block's local coherence state (spec §4.3).
type State int

const (
	Invalid State = iota
	Clean
	Dirty
	Fetching
	Evicting
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "invalid"
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Fetching:
		return "fetching"
	case Evicting:
		return "evicting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ID identifies a cache block: the allocation it belongs to, plus its block
// index within that allocation (spec §3).
type ID struct {
	AllocID uint64
	Index   uint64
}

// DirtyGranularity is the number of bytes tracked per dirty bit. The
// original source's ambiguity over byte-level-merge vs block-level
// last-writer-wins (spec §9) is resolved here as byte-range dirty tracking
// *within* a writer's own writeback (so a single writer's partial writes are
// writteb back precisely), while concurrent writers to the same block
// between two releases remain last-writer-wins at the block granularity —
// see DESIGN.md for the full rationale.
const DirtyGranularity = 64

// DirtyBitmap tracks which DirtyGranularity-sized ranges of a block have
// been written since the last writeback.
type DirtyBitmap struct {
	words []uint64
	nbits int
}

// NewDirtyBitmap allocates a bitmap covering a block of the given size.
func NewDirtyBitmap(blockSize uint64) *DirtyBitmap {
	nbits := int((blockSize + DirtyGranularity - 1) / DirtyGranularity)
	return &DirtyBitmap{words: make([]uint64, (nbits+63)/64), nbits: nbits}
}

// MarkRange marks [off, off+length) as dirty.
func (d *DirtyBitmap) MarkRange(off, length uint64) {
	first := off / DirtyGranularity
	last := (off + length - 1) / DirtyGranularity
	for i := first; i <= last && int(i) < d.nbits; i++ {
		d.words[i/64] |= 1 << (i % 64)
	}
}

// MarkAll marks the entire block dirty (used by checkout(write), which
// spec §4.3 defines as the whole touched range being "considered
// overwritten" without a fetch).
func (d *DirtyBitmap) MarkAll() {
	for i := range d.words {
		d.words[i] = ^uint64(0)
	}
}

// Clear resets every bit (post-writeback).
func (d *DirtyBitmap) Clear() {
	for i := range d.words {
		d.words[i] = 0
	}
}

// IsClean reports whether no bits are set.
func (d *DirtyBitmap) IsClean() bool {
	for _, w := range d.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Ranges returns the maximal contiguous dirty byte ranges, each as
// [start,end), for use by Writeback.
func (d *DirtyBitmap) Ranges() [][2]uint64 {
	var out [][2]uint64
	inRange := false
	var start uint64
	for i := 0; i < d.nbits; i++ {
		set := d.words[i/64]&(1<<(uint(i)%64)) != 0
		switch {
		case set && !inRange:
			start = uint64(i) * DirtyGranularity
			inRange = true
		case !set && inRange:
			out = append(out, [2]uint64{start, uint64(i) * DirtyGranularity})
			inRange = false
		}
	}
	if inRange {
		out = append(out, [2]uint64{start, uint64(d.nbits) * DirtyGranularity})
	}
	return out
}

// PopCount returns the number of dirty granules (for metrics/tests).
func (d *DirtyBitmap) PopCount() int {
	n := 0
	for _, w := range d.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Block is one resident cache block: exactly blockSize bytes of the global
// address space, plus its coherence metadata (spec §3).
type Block struct {
	mu sync.Mutex

	id         ID
	homeOwner  int
	homeOffset uint64 // byte offset of this block within homeOwner's transport region
	size       uint64

	state    State
	pinCount int
	dirty    *DirtyBitmap
	lastUse  uint64 // logical clock, bumped on every checkout

	data []byte // locally resident bytes; nil while Invalid
}

// Lock/Unlock expose the block's mutex to Engine, which always holds it
// while mutating state/pinCount/dirty/data.
func (b *Block) Lock()   { b.mu.Lock() }
func (b *Block) Unlock() { b.mu.Unlock() }

func (b *Block) ID() ID            { return b.id }
func (b *Block) State() State      { return b.state }
func (b *Block) PinCount() int     { return b.pinCount }
func (b *Block) Data() []byte      { return b.data }
func (b *Block) Dirty() *DirtyBitmap { return b.dirty }

// Pinned reports whether the block has any outstanding checkouts (I5: a
// pinned block may never be evicted).
func (b *Block) Pinned() bool { return b.pinCount > 0 }
