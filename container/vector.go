package container

import (
	"fmt"
	"unsafe"

	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/internal/heap"
	"github.com/s417-lama/ityr-go/internal/mapper"
	"github.com/s417-lama/ityr-go/ref"
)

// VectorOptions mirrors global_vector_options: Collective selects a
// collective (every-process) allocation instead of a local one, and
// Cutoff bounds the granularity of any parallel construct/destruct step a
// caller layers on top via Span.Map/ForEach.
type VectorOptions struct {
	Collective bool
	Cutoff     uint64
	BlockSize  uint64
	Mapper     mapper.Mapper
}

func (o VectorOptions) orDefault() VectorOptions {
	if o.Cutoff == 0 {
		o.Cutoff = 1024
	}
	if o.BlockSize == 0 {
		o.BlockSize = 4096
	}
	if o.Mapper == nil {
		o.Mapper = mapper.Cyclic{}
	}
	return o
}

// Vector is a dynamically-growing global array, mirroring global_vector<T>:
// geometric (>=2x) growth on overflow, and move-only transfer of ownership
// via Take (the original's value semantics don't map onto Go, where a
// struct copy would alias the same backing Allocation).
type Vector[T any] struct {
	heap   *heap.Heap
	engine *cache.Engine
	opts   VectorOptions

	alloc *heap.Allocation
	len   uint64
	cap   uint64
	taken bool
}

// NewVector allocates a Vector with an initial capacity of count elements
// (length also count; use Resize to shrink).
func NewVector[T any](h *heap.Heap, engine *cache.Engine, count uint64, opts VectorOptions) (*Vector[T], error) {
	opts = opts.orDefault()
	elemSize := uint64(unsafe.Sizeof(*new(T)))
	if opts.BlockSize%elemSize != 0 {
		return nil, fmt.Errorf("container: block size %d not a multiple of element size %d", opts.BlockSize, elemSize)
	}

	v := &Vector[T]{heap: h, engine: engine, opts: opts}
	if count > 0 {
		if err := v.allocate(count); err != nil {
			return nil, err
		}
		v.len = count
	}
	return v, nil
}

func (v *Vector[T]) allocate(count uint64) error {
	elemSize := uint64(unsafe.Sizeof(*new(T)))
	var a *heap.Allocation
	var err error
	if v.opts.Collective {
		a, err = v.heap.AllocCollective(count, elemSize, v.opts.BlockSize, v.opts.Mapper)
	} else {
		a, err = v.heap.AllocLocal(count, elemSize, v.opts.BlockSize, v.opts.Mapper)
	}
	if err != nil {
		return err
	}
	v.alloc = a
	v.cap = count
	return nil
}

// Len returns the current element count.
func (v *Vector[T]) Len() uint64 { return v.len }

// Cap returns the current backing capacity.
func (v *Vector[T]) Cap() uint64 { return v.cap }

// Span returns a Span view over the Vector's current [0, Len) range.
func (v *Vector[T]) Span() Span[T] {
	if v.alloc == nil {
		return Span[T]{}
	}
	return Span[T]{Ptr: ref.NewPtr[T](v.alloc), N: v.len}
}

// nextCap matches next_size: at least double the current capacity, or
// exactly `least` if that's already bigger.
func (v *Vector[T]) nextCap(least uint64) uint64 {
	doubled := v.cap * 2
	if least > doubled {
		return least
	}
	if doubled == 0 {
		return least
	}
	return doubled
}

// Resize grows or shrinks the logical length, reallocating (by value,
// since this package never implements true realloc-in-place across a
// cyclic mapper remap) when growth exceeds the current capacity. New
// elements beyond the prior length are zero-valued, unlike the original's
// copy-constructed fill value, since Go generics have no default-argument
// constructor to call with.
func (v *Vector[T]) Resize(count uint64) error {
	if count <= v.len {
		v.len = count
		return nil
	}
	if count > v.cap {
		newCap := v.nextCap(count)
		if err := v.grow(newCap); err != nil {
			return err
		}
	}
	// Storage past the old length may still hold values from before a
	// shrink, so zero [len, count) explicitly.
	chunk := max(v.opts.BlockSize/uint64(unsafe.Sizeof(*new(T))), 1)
	for i := v.len; i < count; i += chunk {
		n := min(chunk, count-i)
		if err := ref.WithCheckout(v.engine, ref.NewPtr[T](v.alloc).Add(i), n, ref.ReadWrite, func(view []T) { clear(view) }); err != nil {
			return err
		}
	}
	v.len = count
	return nil
}

func (v *Vector[T]) grow(newCap uint64) error {
	oldAlloc := v.alloc
	oldLen := v.len

	if err := v.allocate(newCap); err != nil {
		v.alloc = oldAlloc
		return err
	}

	if oldAlloc != nil && oldLen > 0 {
		elemSize := oldAlloc.ElemSize
		for i := uint64(0); i < oldLen; {
			batch := oldLen - i
			if batch > 4096/elemSize {
				batch = 4096 / elemSize
			}
			if batch == 0 {
				batch = 1
			}
			src := ref.NewPtr[T](oldAlloc).Add(i)
			dst := ref.NewPtr[T](v.alloc).Add(i)
			srcCo, err := ref.CheckoutT(v.engine, src, batch, ref.Read)
			if err != nil {
				return err
			}
			err = ref.WithCheckout(v.engine, dst, batch, ref.Write, func(view []T) {
				copy(view, srcCo.View())
			})
			srcCo.Checkin()
			if err != nil {
				return err
			}
			i += batch
		}
	}
	return nil
}

// PushBack appends one element, growing (>=2x) if at capacity. Only valid
// on a non-collective Vector (a collective push would require every
// process to agree on the new length, which this package leaves to the
// caller via an explicit collective Resize instead, matching the
// original's `assert(!opts_.collective)`).
func (v *Vector[T]) PushBack(value T) error {
	if v.opts.Collective {
		return fmt.Errorf("container: PushBack is not valid on a collective vector")
	}
	if v.len == v.cap {
		newCap := v.nextCap(v.len + 1)
		if err := v.grow(newCap); err != nil {
			return err
		}
	}
	p := ref.NewPtr[T](v.alloc).Add(v.len)
	if err := ref.WithCheckout(v.engine, p, 1, ref.Write, func(view []T) {
		view[0] = value
	}); err != nil {
		return err
	}
	v.len++
	return nil
}

// Take transfers ownership of the Vector's backing Allocation out as a
// Span, leaving the Vector empty — the Go expression of the original's
// move constructor, since a struct-copy Vector would otherwise alias the
// same Allocation as its source.
func (v *Vector[T]) Take() Span[T] {
	if v.taken || v.alloc == nil {
		return Span[T]{}
	}
	s := v.Span()
	v.taken = true
	v.alloc = nil
	v.len = 0
	v.cap = 0
	return s
}

// Free releases the backing Allocation. A no-op if Take has already been
// called (ownership has moved out).
func (v *Vector[T]) Free() {
	if v.taken || v.alloc == nil {
		return
	}
	v.heap.Free(v.alloc)
	v.alloc = nil
	v.len = 0
	v.cap = 0
}
