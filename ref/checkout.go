package ref

import (
	"fmt"
	"unsafe"

	"github.com/s417-lama/ityr-go/internal/cache"
)

// Mode selects a checkout's read/write contract (spec §4.4).
type Mode int

const (
	// Read pulls the current bytes; checkin performs no writeback.
	Read Mode = iota
	// ReadWrite pulls the current bytes and writes the (possibly modified)
	// view back on checkin.
	ReadWrite
	// Write skips the fetch entirely (the caller is about to overwrite the
	// whole range) and always writes back on checkin.
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case ReadWrite:
		return "read_write"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// blockSpan records the slice of one resident block a Checkout touches.
type blockSpan struct {
	block        *cache.Block
	withinStart  uint64
	withinEnd    uint64
	scratchStart uint64
}

// Checkout is a scoped local view of count elements starting at Ptr.
// Must be released via Checkin exactly once (spec §4.4's checkout/checkin
// pairing; I3's "no steal while live" contract is enforced by the
// scheduler, not here).
type Checkout[T any] struct {
	engine  *cache.Engine
	ptr     Ptr[T]
	count   uint64
	mode    Mode
	scratch []byte
	spans   []blockSpan
	view    []T
	done    bool
}

// CheckoutT pulls count elements starting at p into a local view, pinning
// every cache block the range touches. alloc.BlockSize must be a multiple
// of T's size.
func CheckoutT[T any](engine *cache.Engine, p Ptr[T], count uint64, mode Mode) (*Checkout[T], error) {
	alloc := p.Alloc
	elemSize := uint64(unsafe.Sizeof(*new(T)))
	if elemSize != alloc.ElemSize {
		return nil, fmt.Errorf("ref: checkout element size %d does not match allocation element size %d", elemSize, alloc.ElemSize)
	}
	if alloc.BlockSize%elemSize != 0 {
		return nil, fmt.Errorf("ref: checkout requires block size (%d) to be a multiple of element size (%d)", alloc.BlockSize, elemSize)
	}
	elemsPerBlock := alloc.BlockSize / elemSize

	co := &Checkout[T]{engine: engine, ptr: p, count: count, mode: mode, scratch: make([]byte, count*elemSize)}

	idx := p.Offset
	end := p.Offset + count
	for idx < end {
		blockStartElem := (idx / elemsPerBlock) * elemsPerBlock
		blockEndElem := blockStartElem + elemsPerBlock
		spanEnd := end
		if blockEndElem < spanEnd {
			spanEnd = blockEndElem
		}

		owner, transportOffset, _ := alloc.BlockOffset(blockStartElem)
		blockID := cache.ID{AllocID: alloc.ID, Index: alloc.BlockIndexAt(blockStartElem)}

		b, err := engine.Fetch(blockID, owner, transportOffset, mode == Write)
		if err != nil {
			co.unwindOnError()
			return nil, fmt.Errorf("ref: checkout: %w", err)
		}
		engine.Pin(b)

		withinStart := (idx - blockStartElem) * elemSize
		withinEnd := (spanEnd - blockStartElem) * elemSize
		scratchStart := (idx - p.Offset) * elemSize
		scratchEnd := (spanEnd - p.Offset) * elemSize

		if mode != Write {
			copy(co.scratch[scratchStart:scratchEnd], b.Data()[withinStart:withinEnd])
		}

		co.spans = append(co.spans, blockSpan{block: b, withinStart: withinStart, withinEnd: withinEnd, scratchStart: scratchStart})
		idx = spanEnd
	}

	if count > 0 {
		co.view = unsafe.Slice((*T)(unsafe.Pointer(&co.scratch[0])), count)
	}
	return co, nil
}

// unwindOnError unpins every block already acquired, used when a later
// Fetch in the same Checkout fails partway through.
func (co *Checkout[T]) unwindOnError() {
	for _, s := range co.spans {
		co.engine.Unpin(s.block)
	}
	co.spans = nil
}

// View returns the local, directly addressable slice of T. Valid only
// until Checkin is called.
func (co *Checkout[T]) View() []T { return co.view }

// Checkin releases the checkout, writing back modified bytes for
// ReadWrite/Write modes and unpinning every touched block. Must be called
// exactly once.
func (co *Checkout[T]) Checkin() {
	if co.done {
		panic("ref: Checkin called more than once on the same Checkout")
	}
	co.done = true
	for _, s := range co.spans {
		if co.mode != Read {
			copy(s.block.Data()[s.withinStart:s.withinEnd], co.scratch[s.scratchStart:s.scratchStart+(s.withinEnd-s.withinStart)])
			co.engine.MarkWritten(s.block, s.withinStart, s.withinEnd-s.withinStart)
		}
		co.engine.Unpin(s.block)
	}
}

// WithCheckout runs fn against a scoped Checkout, guaranteeing Checkin
// happens on every exit path including a panic inside fn — mirroring the
// teacher's defer+recover-and-repanic scoped-resource idiom.
func WithCheckout[T any](engine *cache.Engine, p Ptr[T], count uint64, mode Mode, fn func(view []T)) (err error) {
	co, err := CheckoutT(engine, p, count, mode)
	if err != nil {
		return err
	}
	defer func() {
		co.Checkin()
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	fn(co.View())
	return nil
}
