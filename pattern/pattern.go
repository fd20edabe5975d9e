// Package pattern implements the fork-join patterns (C7): Invoke, For,
// Reduce, Transform and RootSpawn, all built on internal/sched's
// work-stealing Worker/Task and internal/fence's Policy/Session,
// mirroring the resolved original_source's ito_pattern_workfirst /
// ito_pattern_naive template machinery re-expressed without C++ templates:
// Go's lack of fixed-arity generic packs means the typed parallel_invoke
// family becomes Invoke2..Invoke8 plus an untyped InvokeN for arbitrary
// arity, instead of one variadic template.
package pattern

import (
	"github.com/s417-lama/ityr-go/internal/consistency"
	"github.com/s417-lama/ityr-go/internal/fence"
	"github.com/s417-lama/ityr-go/internal/sched"
)

// Cutoff bounds the leaf granularity of a divide-and-conquer pattern: a
// range splits only while its length exceeds Cutoff, matching the
// original's `d <= cutoff` leaf test.
type Cutoff int

// DefaultCutoff matches the original's default of 1: split down to single
// elements unless the caller opts into coarser leaves.
const DefaultCutoff Cutoff = 1

func (c Cutoff) orDefault() Cutoff {
	if c <= 0 {
		return DefaultCutoff
	}
	return c
}

// Runner is the minimal capability pattern needs from a runtime instance:
// a Worker to spawn/join on, a fence Policy to select elision behaviour,
// and the consistency Protocol the policy drives.
type Runner struct {
	Worker   *sched.Worker
	Policy   fence.Policy
	Protocol *consistency.Protocol
}

// begin starts one top-level fenced invocation and returns the Session
// along with the rank it started on, so End can detect migration (spec
// I4). In this package's synchronous, single-goroutine-per-call-stack
// model a continuation never actually resumes on a different Worker than
// it started on (Join blocks and returns on the same calling goroutine),
// so migrated is always false here; the comparison is kept for API
// fidelity with the original's `initial_rank != current_rank` check (see
// DESIGN.md).
func (r *Runner) begin() (fence.Session, int) {
	return r.Policy.Begin(r.Protocol), r.Worker.Rank()
}

func (r *Runner) end(sess fence.Session, startRank int, allSynched bool) {
	migrated := r.Worker.Rank() != startRank
	sess.End(migrated, allSynched)
}

// RootSpawn runs fn as the top-level task of a fork-join computation,
// releasing any dirty local state before fn starts (so a remote rank
// stealing the root sees consistent memory) and acquiring once it
// finishes, matching every policy's root_spawn semantics (they agree:
// root_spawn always fences eagerly, only parallel_invoke/for/reduce elide).
func RootSpawn[T any](r *Runner, fn func(w *sched.Worker) T) T {
	_ = r.Protocol.Release()
	var result T
	r.Worker.Pool().RunRoot(func(w *sched.Worker) {
		result = fn(w)
	})
	_ = r.Protocol.Acquire()
	return result
}
