// Package completion provides a reference-counted, nestable tracker for
// in-flight asynchronous work. A tracker invokes its callback exactly
// once, when its outstanding count transitions from positive to zero.
// Completion is driven solely by explicit End calls, never by
// finalizers, to keep timing deterministic.
package completion

import "sync"

// Tracker counts outstanding units of work and fires a one-shot
// callback when the last unit ends.
type Tracker struct {
	mu     sync.Mutex
	count  int
	fired  bool
	onZero func()

	// parentHandle is released after our own callback, so a parent
	// scope never completes while a child is still held.
	parentHandle *Handle
}

// New creates a tracker that invokes onZero when the outstanding count
// returns to zero. onZero may be nil.
func New(onZero func()) *Tracker {
	return &Tracker{onZero: onZero}
}

// NewChild creates a tracker nested under parent: the parent's count is
// incremented now and decremented only after the child's own callback
// has run. This produces transitive fan-in across nesting levels.
func NewChild(parent *Tracker, onZero func()) *Tracker {
	t := New(onZero)
	if parent != nil {
		t.parentHandle = parent.Begin()
	}
	return t
}

// Begin creates a tracker pre-armed with onZero and immediately takes
// one reference, so the callback cannot fire before the caller's own
// work is registered.
func Begin(onZero func()) (*Tracker, *Handle) {
	t := New(onZero)
	return t, t.Begin()
}

// Begin acquires one reference. Every Begin must be matched by exactly
// one End on the returned handle; the handle's End is safe to call on
// every exit path because repeated calls are ignored.
func (t *Tracker) Begin() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fired {
		panic("completion: Begin on a completed tracker")
	}
	t.count++
	return &Handle{tracker: t}
}

// Outstanding returns the current reference count.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Completed reports whether the zero-callback has fired.
func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// end releases one reference. Decrementing below zero is a programming
// error and panics.
func (t *Tracker) end() {
	t.mu.Lock()
	t.count--
	if t.count < 0 {
		t.mu.Unlock()
		panic("completion: End without matching Begin")
	}
	if t.count > 0 || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	onZero := t.onZero
	parent := t.parentHandle
	t.mu.Unlock()

	// The callback runs outside the lock: it may begin work on other
	// trackers, including our parent.
	if onZero != nil {
		onZero()
	}
	if parent != nil {
		parent.End()
	}
}

// Handle is one acquired reference on a tracker. End releases it;
// calling End more than once has no effect.
type Handle struct {
	tracker *Tracker
	once    sync.Once
}

// End releases the reference. The first call decrements the tracker;
// subsequent calls are ignored, so End can sit in a defer alongside an
// explicit early release.
func (h *Handle) End() {
	h.once.Do(h.tracker.end)
}
