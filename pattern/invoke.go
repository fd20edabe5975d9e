package pattern

import "github.com/s417-lama/ityr-go/internal/sched"

// Thunk is one branch of a parallel_invoke-style fork. All but the last
// thunk passed to InvokeN are spawned as a Task; the last always runs
// inline on the calling Worker, matching the original's recursive
// "spawn first n-1, run the nth inline, join in order" structure.
type Thunk func(w *sched.Worker)

// InvokeN runs every thunk to completion, running as many as possible in
// parallel via Spawn/Join, and fences according to r.Policy's Session:
// Begin when the call starts, Spawned as each spawned thunk finishes,
// Blocked when a join has to wait for a stolen thunk, and End after the
// last join (under WorkFirst: a release when a stolen thunk finishes or a
// join blocks, and an acquire at the end only if a steal occurred or
// execution migrated ranks).
//
// All but the last thunk are spawned; the last runs inline on the calling
// Worker (so a single-thunk InvokeN call degenerates to a plain call,
// exactly like parallel_invoke with one argument in the original).
func InvokeN(r *Runner, thunks ...Thunk) {
	if len(thunks) == 0 {
		return
	}
	sess, startRank := r.begin()

	if !r.Policy.Spawns() {
		// Serial: no task ever spawned, so nothing can escape and no fence
		// is needed beyond the no-op Session Serial.Begin already returned.
		for _, fn := range thunks {
			fn(r.Worker)
		}
		r.end(sess, startRank, true)
		return
	}

	allSynched := true

	tasks := make([]*sched.Task, 0, len(thunks)-1)
	for _, fn := range thunks[:len(thunks)-1] {
		fn := fn
		t := r.Worker.SpawnAux(func(w *sched.Worker) { fn(w) }, func(parentPopped bool) {
			sess.Spawned(parentPopped)
		})
		tasks = append(tasks, t)
	}

	thunks[len(thunks)-1](r.Worker)

	for _, t := range tasks {
		blockedOnThis := false
		r.Worker.JoinAux(t, func() {
			sess.Blocked()
			blockedOnThis = true
		})
		if blockedOnThis {
			allSynched = false
		}
	}

	r.end(sess, startRank, allSynched)
}

// Invoke2 runs f1 and f2 in parallel (f1 spawned, f2 inline) and returns
// both results once joined.
func Invoke2[A, B any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B) (A, B) {
	var a A
	var b B
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
	)
	return a, b
}

// Invoke3 is Invoke2 generalized to three branches.
func Invoke3[A, B, C any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B, f3 func(w *sched.Worker) C) (A, B, C) {
	var a A
	var b B
	var c C
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
		func(w *sched.Worker) { c = f3(w) },
	)
	return a, b, c
}

// Invoke4 is Invoke2 generalized to four branches.
func Invoke4[A, B, C, D any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B, f3 func(w *sched.Worker) C, f4 func(w *sched.Worker) D) (A, B, C, D) {
	var a A
	var b B
	var c C
	var d D
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
		func(w *sched.Worker) { c = f3(w) },
		func(w *sched.Worker) { d = f4(w) },
	)
	return a, b, c, d
}

// Invoke5 is Invoke2 generalized to five branches.
func Invoke5[A, B, C, D, E any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B, f3 func(w *sched.Worker) C, f4 func(w *sched.Worker) D, f5 func(w *sched.Worker) E) (A, B, C, D, E) {
	var a A
	var b B
	var c C
	var d D
	var e E
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
		func(w *sched.Worker) { c = f3(w) },
		func(w *sched.Worker) { d = f4(w) },
		func(w *sched.Worker) { e = f5(w) },
	)
	return a, b, c, d, e
}

// Invoke6 is Invoke2 generalized to six branches.
func Invoke6[A, B, C, D, E, F any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B, f3 func(w *sched.Worker) C, f4 func(w *sched.Worker) D, f5 func(w *sched.Worker) E, f6 func(w *sched.Worker) F) (A, B, C, D, E, F) {
	var a A
	var b B
	var c C
	var d D
	var e E
	var f F
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
		func(w *sched.Worker) { c = f3(w) },
		func(w *sched.Worker) { d = f4(w) },
		func(w *sched.Worker) { e = f5(w) },
		func(w *sched.Worker) { f = f6(w) },
	)
	return a, b, c, d, e, f
}

// Invoke7 is Invoke2 generalized to seven branches.
func Invoke7[A, B, C, D, E, F, G any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B, f3 func(w *sched.Worker) C, f4 func(w *sched.Worker) D, f5 func(w *sched.Worker) E, f6 func(w *sched.Worker) F, f7 func(w *sched.Worker) G) (A, B, C, D, E, F, G) {
	var a A
	var b B
	var c C
	var d D
	var e E
	var f F
	var g G
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
		func(w *sched.Worker) { c = f3(w) },
		func(w *sched.Worker) { d = f4(w) },
		func(w *sched.Worker) { e = f5(w) },
		func(w *sched.Worker) { f = f6(w) },
		func(w *sched.Worker) { g = f7(w) },
	)
	return a, b, c, d, e, f, g
}

// Invoke8 is Invoke2 generalized to eight branches, matching the
// original's ITYR_FORLOOP_8 upper bound on the typed parallel_invoke
// family.
func Invoke8[A, B, C, D, E, F, G, H any](r *Runner, f1 func(w *sched.Worker) A, f2 func(w *sched.Worker) B, f3 func(w *sched.Worker) C, f4 func(w *sched.Worker) D, f5 func(w *sched.Worker) E, f6 func(w *sched.Worker) F, f7 func(w *sched.Worker) G, f8 func(w *sched.Worker) H) (A, B, C, D, E, F, G, H) {
	var a A
	var b B
	var c C
	var d D
	var e E
	var f F
	var g G
	var h H
	InvokeN(r,
		func(w *sched.Worker) { a = f1(w) },
		func(w *sched.Worker) { b = f2(w) },
		func(w *sched.Worker) { c = f3(w) },
		func(w *sched.Worker) { d = f4(w) },
		func(w *sched.Worker) { e = f5(w) },
		func(w *sched.Worker) { f = f6(w) },
		func(w *sched.Worker) { g = f7(w) },
		func(w *sched.Worker) { h = f8(w) },
	)
	return a, b, c, d, e, f, g, h
}
