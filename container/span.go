// Package container implements the global containers and iterators (C9):
// Span, Vector, Counting and Ref, all built on ref.Ptr/ref.Checkout and
// internal/heap.Allocation. Grounded on the resolved original_source's
// raw_span/global_span/global_vector templates (container.hpp, span.hpp),
// re-expressed with Go generics over ref.Ptr[T] instead of a template
// parameterized on a PCAS global_ptr. The parallel Reduce does its own
// bisection over sched.Worker.SpawnAux/JoinAux under a fence.Policy rather
// than calling pattern.For/Reduce.
package container

import (
	"fmt"

	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/internal/fence"
	"github.com/s417-lama/ityr-go/internal/sched"
	"github.com/s417-lama/ityr-go/pattern"
	"github.com/s417-lama/ityr-go/ref"
)

// Span is a non-owning view over a contiguous run of a global
// allocation's elements, mirroring global_span<T>'s data()/size()/
// subspan()/divide() surface.
type Span[T any] struct {
	Ptr ref.Ptr[T]
	N   uint64
}

// NewSpan constructs a Span over count elements starting at p.
func NewSpan[T any](p ref.Ptr[T], count uint64) Span[T] {
	return Span[T]{Ptr: p, N: count}
}

// Len returns the number of elements the Span covers.
func (s Span[T]) Len() uint64 { return s.N }

// Empty reports whether the Span covers zero elements.
func (s Span[T]) Empty() bool { return s.N == 0 }

// At returns a Ptr to the i'th element, panicking if out of range.
func (s Span[T]) At(i uint64) ref.Ptr[T] {
	if i >= s.N {
		panic(fmt.Sprintf("container: span index %d out of range [0, %d)", i, s.N))
	}
	return s.Ptr.Add(i)
}

// Subspan returns the [offset, offset+count) sub-range, panicking if it
// would exceed the Span's bounds.
func (s Span[T]) Subspan(offset, count uint64) Span[T] {
	if offset+count > s.N {
		panic(fmt.Sprintf("container: subspan [%d, %d) exceeds span of length %d", offset, offset+count, s.N))
	}
	return Span[T]{Ptr: s.Ptr.Add(offset), N: count}
}

// Divide splits the Span at index at into two adjoining sub-spans.
func (s Span[T]) Divide(at uint64) (Span[T], Span[T]) {
	return s.Subspan(0, at), s.Subspan(at, s.N-at)
}

// DivideTwo splits the Span as evenly as possible, matching
// divide_two()'s n_/2 midpoint.
func (s Span[T]) DivideTwo() (Span[T], Span[T]) {
	return s.Divide(s.N / 2)
}

// ForEach checks out the whole Span read-only and calls fn once per
// element in order, matching for_each's read-only traversal.
func (s Span[T]) ForEach(engine *cache.Engine, fn func(v T)) error {
	return ref.WithCheckout(engine, s.Ptr, s.N, ref.Read, func(view []T) {
		for _, v := range view {
			fn(v)
		}
	})
}

// Map checks out the whole Span read-write and calls fn once per element,
// allowing in-place mutation, matching map()'s read_write traversal.
func (s Span[T]) Map(engine *cache.Engine, fn func(v *T)) error {
	return ref.WithCheckout(engine, s.Ptr, s.N, ref.ReadWrite, func(view []T) {
		for i := range view {
			fn(&view[i])
		}
	})
}

// Reduce runs a work-stealing parallel_reduce over the Span's elements,
// using r's fence Policy and cutoff. Unlike pattern.Reduce (which is
// index-granular), a leaf here checks out its whole sub-span exactly once
// and folds reduceOp over the checked-out slice locally, matching
// global_span::reduce's "checkout once per leaf, never across a split"
// contract (spec §4.4) instead of one checkout per element.
func (s Span[T]) Reduce(r *pattern.Runner, engine *cache.Engine, init T, reduceOp func(a, b T) T, cutoff pattern.Cutoff) (T, error) {
	if cutoff <= 0 {
		cutoff = pattern.DefaultCutoff
	}
	sess, startRank := r.Policy.Begin(r.Protocol), r.Worker.Rank()

	if !r.Policy.Spawns() {
		var acc T = init
		err := s.ForEach(engine, func(v T) { acc = reduceOp(acc, v) })
		sess.End(false, true)
		return acc, err
	}

	acc, synched, err := spanReduceImpl(r, sess, engine, s, init, reduceOp, cutoff)
	migrated := r.Worker.Rank() != startRank
	sess.End(migrated, synched)
	return acc, err
}

func spanReduceImpl[T any](r *pattern.Runner, sess fence.Session, engine *cache.Engine, s Span[T], init T, reduceOp func(a, b T) T, cutoff pattern.Cutoff) (T, bool, error) {
	if uint64(cutoff) >= s.N {
		var acc T = init
		err := s.ForEach(engine, func(v T) { acc = reduceOp(acc, v) })
		return acc, true, err
	}

	left, right := s.DivideTwo()

	var leftAcc T
	var leftErr error
	task := r.Worker.SpawnAux(func(w *sched.Worker) {
		rr := &pattern.Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		leftAcc, _, leftErr = spanReduceImpl(rr, sess, engine, left, init, reduceOp, cutoff)
	}, func(parentPopped bool) {
		sess.Spawned(parentPopped)
	})

	rightAcc, rightSynched, rightErr := spanReduceImpl(r, sess, engine, right, init, reduceOp, cutoff)

	blocked := false
	r.Worker.JoinAux(task, func() {
		sess.Blocked()
		blocked = true
	})

	if leftErr != nil {
		return init, false, leftErr
	}
	if rightErr != nil {
		return init, false, rightErr
	}
	return reduceOp(leftAcc, rightAcc), rightSynched && !blocked, nil
}
