package pattern

import (
	"github.com/s417-lama/ityr-go/internal/fence"
	"github.com/s417-lama/ityr-go/internal/sched"
)

// For applies fn to every index in [first, last), splitting the range in
// half while its length exceeds cutoff and running the two halves in
// parallel (left half spawned, right half inline), matching
// parallel_for_impl's `d <= cutoff` leaf test and recursive bisection.
//
// fn is responsible for any checkout/checkin needed to touch global
// memory at index i; For never spans a checkout across a split, so a
// leaf's checkout always covers indices strictly within that leaf (spec
// §4.4's no-steal-across-checkout contract).
func For(r *Runner, first, last int64, cutoff Cutoff, fn func(w *sched.Worker, i int64)) {
	sess, startRank := r.begin()

	if !r.Policy.Spawns() {
		for i := first; i < last; i++ {
			fn(r.Worker, i)
		}
		r.end(sess, startRank, true)
		return
	}

	synched := forImpl(r, sess, first, last, cutoff.orDefault(), fn)
	r.end(sess, startRank, synched)
}

func forImpl(r *Runner, sess fence.Session, first, last int64, cutoff Cutoff, fn func(w *sched.Worker, i int64)) bool {
	d := last - first
	if d <= int64(cutoff) {
		for i := first; i < last; i++ {
			fn(r.Worker, i)
		}
		return true
	}

	mid := first + d/2
	task := r.Worker.SpawnAux(func(w *sched.Worker) {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		forImpl(rr, sess, first, mid, cutoff, fn)
	}, func(parentPopped bool) {
		sess.Spawned(parentPopped)
	})

	rightSynched := forImpl(r, sess, mid, last, cutoff, fn)

	blocked := false
	r.Worker.JoinAux(task, func() {
		sess.Blocked()
		blocked = true
	})

	return rightSynched && !blocked
}
