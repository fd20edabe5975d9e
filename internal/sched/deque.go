// Package sched implements the work-stealing scheduler (C6): one Worker per
// simulated process, each owning a double-ended queue of Tasks. The owner
// pushes/pops its own bottom; idle workers steal from another worker's top.
// Grounded on the classic Chase-Lev work-stealing deque and the retrieved
// reference material's GC work-stealing queue pattern, but realized with a
// plain mutex instead of Chase-Lev's lock-free CAS array: steal/push/pop
// here are rare enough relative to the work each Task does that a single
// mutex never shows up as a bottleneck, and it rules out the ABA and
// bounded-buffer-growth hazards a faithful lock-free port would otherwise
// have to solve (see DESIGN.md).
package sched

import "sync"

// Deque is a double-ended queue of *Task, safe for one owner goroutine to
// PushBottom/PopBottom concurrently with any number of other goroutines
// calling Steal.
type Deque struct {
	mu   sync.Mutex
	buf  []*Task // buf[0] is the top (steal end), buf[len-1] is the bottom (owner end)
}

// NewDeque returns an empty Deque.
func NewDeque() *Deque { return &Deque{} }

// PushBottom adds t to the owner end. Only the owning Worker may call this.
func (d *Deque) PushBottom(t *Task) {
	d.mu.Lock()
	d.buf = append(d.buf, t)
	d.mu.Unlock()
}

// PopBottom removes and returns the most recently pushed Task, if any.
// Only the owning Worker may call this — it is the "reclaim my own
// spawned child before a thief gets to it" operation Join relies on.
func (d *Deque) PopBottom() (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buf)
	if n == 0 {
		return nil, false
	}
	t := d.buf[n-1]
	d.buf = d.buf[:n-1]
	return t, true
}

// Steal removes and returns the oldest Task (the top), if any. Safe to
// call from any goroutine other than the owner.
func (d *Deque) Steal() (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return nil, false
	}
	t := d.buf[0]
	d.buf = d.buf[1:]
	return t, true
}

// Len reports the current number of queued tasks (for tests/metrics).
func (d *Deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}
