package container

import (
	"fmt"

	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/ref"
)

// Ref is a proxy for a single global element, mirroring the original's
// global_ref<T> dereference proxy: Get/Set/Add perform a 1-element
// read / write / read-write checkout+checkin rather than exposing the element by
// value, so every access goes through the cache engine.
type Ref[T any] struct {
	Engine *cache.Engine
	Ptr    ref.Ptr[T]
}

// NewRef builds a Ref at p.
func NewRef[T any](engine *cache.Engine, p ref.Ptr[T]) Ref[T] {
	return Ref[T]{Engine: engine, Ptr: p}
}

// Get checks out the element read-only and returns a copy of its value.
func (r Ref[T]) Get() (T, error) {
	var out T
	err := ref.WithCheckout(r.Engine, r.Ptr, 1, ref.Read, func(view []T) {
		out = view[0]
	})
	return out, err
}

// Set checks out the element write-only and overwrites it with v.
func (r Ref[T]) Set(v T) error {
	return ref.WithCheckout(r.Engine, r.Ptr, 1, ref.Write, func(view []T) {
		view[0] = v
	})
}

// Add performs a read-modify-write compound assignment: checks out the
// element read-write, applies combine to its current value and delta, and
// writes the result back. Matches global_ref<T>::operator+= and friends,
// generalized to any combining function instead of one operator per
// arithmetic type.
func (r Ref[T]) Add(delta T, combine func(current, delta T) T) (T, error) {
	var out T
	err := ref.WithCheckout(r.Engine, r.Ptr, 1, ref.ReadWrite, func(view []T) {
		view[0] = combine(view[0], delta)
		out = view[0]
	})
	return out, err
}

func (r Ref[T]) String() string {
	return fmt.Sprintf("Ref(%s)", r.Ptr.String())
}
