package pattern

import (
	"github.com/s417-lama/ityr-go/internal/fence"
	"github.com/s417-lama/ityr-go/internal/sched"
)

// Reduce applies transform to every index in [first, last) and combines
// the results with reduce (assumed associative), splitting the range
// exactly like For and combining each half's partial result once both
// sides have joined. init seeds every leaf's accumulator, matching
// parallel_reduce_impl's per-leaf `T acc = init` (init must therefore be
// reduce's identity element for the result to be independent of how the
// range happened to split).
func Reduce[T any](r *Runner, first, last int64, init T, reduce func(a, b T) T, transform func(w *sched.Worker, i int64) T, cutoff Cutoff) T {
	sess, startRank := r.begin()

	if !r.Policy.Spawns() {
		acc := init
		for i := first; i < last; i++ {
			acc = reduce(acc, transform(r.Worker, i))
		}
		r.end(sess, startRank, true)
		return acc
	}

	acc, synched := reduceImpl(r, sess, first, last, init, reduce, transform, cutoff.orDefault())
	r.end(sess, startRank, synched)
	return acc
}

func reduceImpl[T any](r *Runner, sess fence.Session, first, last int64, init T, reduce func(a, b T) T, transform func(w *sched.Worker, i int64) T, cutoff Cutoff) (T, bool) {
	d := last - first
	if d <= int64(cutoff) {
		acc := init
		for i := first; i < last; i++ {
			acc = reduce(acc, transform(r.Worker, i))
		}
		return acc, true
	}

	mid := first + d/2
	var leftAcc T
	task := r.Worker.SpawnAux(func(w *sched.Worker) {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		leftAcc, _ = reduceImpl(rr, sess, first, mid, init, reduce, transform, cutoff)
	}, func(parentPopped bool) {
		sess.Spawned(parentPopped)
	})

	rightAcc, rightSynched := reduceImpl(r, sess, mid, last, init, reduce, transform, cutoff)

	blocked := false
	r.Worker.JoinAux(task, func() {
		sess.Blocked()
		blocked = true
	})

	return reduce(leftAcc, rightAcc), rightSynched && !blocked
}

// Transform calls fn and then store for every index in [first, last),
// splitting and parallelizing exactly like For. fn returns nothing and
// store receives only the index, so passing a value from fn to store is up
// to the caller's closures. This is parallel_reduce's sibling for the
// common "write, don't combine" case.
func Transform(r *Runner, first, last int64, cutoff Cutoff, fn func(w *sched.Worker, i int64), store func(i int64)) {
	For(r, first, last, cutoff, func(w *sched.Worker, i int64) {
		fn(w, i)
		store(i)
	})
}

// TransformBinary maps fn over paired indices from two equal-length
// ranges (srcFirst/srcLast, dstFirst of the same length), used when a
// transform reads from one global range and writes to another in lock
// step — the binary-range sibling of the original's single-range
// parallel_transform.
func TransformBinary(r *Runner, srcFirst, srcLast, dstFirst int64, cutoff Cutoff, fn func(w *sched.Worker, srcIdx, dstIdx int64)) {
	offset := dstFirst - srcFirst
	For(r, srcFirst, srcLast, cutoff, func(w *sched.Worker, i int64) {
		fn(w, i, i+offset)
	})
}
