// Package fence implements the fence-elision policies (C8): how
// aggressively a fork-join pattern inserts release/acquire around a spawn,
// trading "always correct, never fast" (Naive) for "only fence when a
// steal actually crossed rank boundaries" (WorkFirst/WorkFirstLazy).
// Grounded directly on the resolved original_source's ito_pattern_naive /
// ito_pattern_workfirst / ito_pattern_workfirst_lazy policy classes,
// re-expressed as one Go interface selected at Runtime construction
// instead of a template parameter.
package fence

import "github.com/s417-lama/ityr-go/internal/consistency"

// Policy selects how a fork-join pattern (internal/sched, pattern) fences
// its spawns and joins. One Session is created per top-level invocation
// (e.g. one pattern.InvokeN call); its Spawned/Blocked hooks are wired to
// sched.Worker.SpawnAux/JoinAux's onDie/onBlock callbacks.
type Policy interface {
	Name() string
	Begin(p *consistency.Protocol) Session
	// Spawns reports whether a fork-join pattern running under this policy
	// may actually spawn tasks at all. Naive/WorkFirst/WorkFirstLazy elide
	// or defer fencing around spawns that do happen; Serial never spawns in
	// the first place, so a pattern must check this before calling
	// sched.Worker.SpawnAux rather than relying on fencing alone.
	Spawns() bool
}

// Session tracks one invocation's fencing decisions.
type Session interface {
	// Spawned is called once a spawned child Task finishes, whether or not
	// it was ever actually stolen.
	Spawned(parentPopped bool)
	// Blocked is called if the joiner had to actually wait (the child was
	// stolen before the joiner's reclaim attempt).
	Blocked()
	// End is called once, after every child has been joined. migrated
	// reports whether the current rank differs from the rank the
	// invocation started on; allSynched reports whether every child was
	// reclaimed inline (never stolen).
	End(migrated, allSynched bool)
}

// Naive always fences, regardless of whether a steal occurred: it releases
// once when an invocation begins and acquires once when it ends. Its
// Spawned and Blocked hooks do nothing, so individual spawns and joins
// inside one invocation are not fenced separately. This is the
// conservative baseline WorkFirst/WorkFirstLazy elide fences against
// (spec P6).
type Naive struct{}

func (Naive) Name() string { return "naive" }
func (Naive) Spawns() bool { return true }

func (Naive) Begin(p *consistency.Protocol) Session {
	p.Release()
	return naiveSession{p: p}
}

type naiveSession struct{ p *consistency.Protocol }

func (naiveSession) Spawned(bool) {}
func (naiveSession) Blocked()     {}
func (s naiveSession) End(bool, bool) {
	_ = s.p.Acquire()
}

// WorkFirst releases only when a spawned child actually escapes to a
// thief (onDie's parentPopped=false) or when the joiner must actually
// block, and acquires at the end only if execution migrated ranks or some
// child wasn't reclaimed inline.
type WorkFirst struct{}

func (WorkFirst) Name() string { return "work_first" }
func (WorkFirst) Spawns() bool { return true }

func (WorkFirst) Begin(p *consistency.Protocol) Session {
	return &workFirstSession{p: p}
}

type workFirstSession struct {
	p       *consistency.Protocol
	blocked bool
}

func (s *workFirstSession) Spawned(parentPopped bool) {
	if !parentPopped {
		_ = s.p.Release()
	}
}

func (s *workFirstSession) Blocked() {
	if !s.blocked {
		_ = s.p.Release()
		s.blocked = true
	}
}

func (s *workFirstSession) End(migrated, allSynched bool) {
	if migrated || !allSynched {
		_ = s.p.Acquire()
	}
}

// WorkFirstLazy is WorkFirst plus one epoch minted per invocation: Begin
// calls ReleaseLazy, which also writes back every dirty block at that
// point, and End acquires through AcquireEpoch with that epoch. Escapes
// and blocked joins still release eagerly, exactly as in WorkFirst; no
// release is deferred. Since ReleaseLazy/AcquireEpoch behave like
// Release/Acquire, the type is kept distinct for API fidelity with the
// original three-policy design (see DESIGN.md).
type WorkFirstLazy struct{}

func (WorkFirstLazy) Name() string { return "work_first_lazy" }
func (WorkFirstLazy) Spawns() bool { return true }

func (WorkFirstLazy) Begin(p *consistency.Protocol) Session {
	epoch, _ := p.ReleaseLazy()
	return &workFirstLazySession{p: p, epoch: epoch}
}

type workFirstLazySession struct {
	p       *consistency.Protocol
	epoch   consistency.Epoch
	blocked bool
}

func (s *workFirstLazySession) Spawned(parentPopped bool) {
	if !parentPopped {
		_ = s.p.Release()
	}
}

func (s *workFirstLazySession) Blocked() {
	if !s.blocked {
		_ = s.p.Release()
		s.blocked = true
	}
}

func (s *workFirstLazySession) End(migrated, allSynched bool) {
	if migrated || !allSynched {
		_ = s.p.AcquireEpoch(s.epoch)
	}
}

// Serial never spawns: every fork-join pattern running under it executes
// its branches/leaves in strict sequential order on the calling Worker,
// matching ito_pattern_serial's parallel_invoke_impl/parallel_for_impl/
// parallel_reduce_impl, which call their branches back-to-back with no
// thread creation at all. Since nothing ever escapes to another rank
// under Serial, no release/acquire is ever needed; its Session is a
// complete no-op.
type Serial struct{}

func (Serial) Name() string  { return "serial" }
func (Serial) Spawns() bool  { return false }

func (Serial) Begin(*consistency.Protocol) Session { return serialSession{} }

type serialSession struct{}

func (serialSession) Spawned(bool)   {}
func (serialSession) Blocked()       {}
func (serialSession) End(bool, bool) {}

// ByName resolves a Policy from config.Policy's string form, defaulting to
// WorkFirst for unknown names (callers are expected to have already
// validated the name via config.FromEnv).
func ByName(name string) Policy {
	switch name {
	case "serial":
		return Serial{}
	case "naive":
		return Naive{}
	case "workfirst_lazy":
		return WorkFirstLazy{}
	default:
		return WorkFirst{}
	}
}
