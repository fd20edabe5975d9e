// Package ref implements the global pointer and checkout/checkin API (C5):
// a typed handle into a heap.Allocation, and scoped local views obtained by
// pulling the addressed bytes through a cache.Engine. Pointer arithmetic and
// the byte<->T reinterpretation follow the same unsafe.Pointer/unsafe.Slice
// idiom used throughout the retrieved reference material's low-level
// memory-layout code.
package ref

import (
	"fmt"

	"github.com/s417-lama/ityr-go/internal/heap"
)

// Ptr is a global pointer into alloc, addressing the element at Offset
// (spec §3's global pointer, parameterized by element type T).
type Ptr[T any] struct {
	Alloc  *heap.Allocation
	Offset uint64 // element index, not byte offset
}

// NewPtr constructs a Ptr at the start of alloc.
func NewPtr[T any](alloc *heap.Allocation) Ptr[T] {
	return Ptr[T]{Alloc: alloc, Offset: 0}
}

// Add returns a Ptr n elements ahead of p.
func (p Ptr[T]) Add(n uint64) Ptr[T] {
	return Ptr[T]{Alloc: p.Alloc, Offset: p.Offset + n}
}

// Sub returns a Ptr n elements behind p.
func (p Ptr[T]) Sub(n uint64) Ptr[T] {
	if n > p.Offset {
		panic("ref: Sub underflows pointer offset")
	}
	return Ptr[T]{Alloc: p.Alloc, Offset: p.Offset - n}
}

// IsNil reports whether p addresses no allocation.
func (p Ptr[T]) IsNil() bool { return p.Alloc == nil }

func (p Ptr[T]) String() string {
	if p.IsNil() {
		return "ref.Ptr(nil)"
	}
	return fmt.Sprintf("ref.Ptr{alloc=%d, offset=%d}", p.Alloc.ID, p.Offset)
}

// CastPtr reinterprets p's underlying allocation as holding U instead of T.
// The caller is responsible for the resulting element count/alignment
// remaining sound (spec §3's untyped-global-pointer cast, unchecked here
// exactly as the original leaves it to the caller).
func CastPtr[U, T any](p Ptr[T]) Ptr[U] {
	return Ptr[U]{Alloc: p.Alloc, Offset: p.Offset}
}
