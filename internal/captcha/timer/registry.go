// Package timer keeps one cancellable delayed action per challenge key.
//
// An action runs at most once. Cancel before the action starts guarantees it
// never runs; Cancel afterwards is a no-op that reports false. Scheduling a key
// that already has a pending action replaces it, so each key has at most one
// live timer.
package timer

import (
	"sync"
	"time"
)

// Handle identifies one scheduled action. It stays valid after the action
// fires or is cancelled; operations on a stale handle are no-ops.
type Handle struct {
	reg *Registry
	key string
	seq uint64
}

// Key returns the key the handle was scheduled under.
func (h Handle) Key() string {
	return h.key
}

// Cancel cancels this specific action if it is still pending.
func (h Handle) Cancel() bool {
	if h.reg == nil {
		return false
	}
	return h.reg.cancel(h.key, h.seq)
}

type entry struct {
	seq   uint64
	timer *time.Timer
}

// Registry maps keys to pending delayed actions.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	stopped bool

	// afterFunc is swapped in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
	onChange  func(pending int)
}

type Option func(*Registry)

// WithPendingObserver is called with the number of pending actions after every
// change, outside the registry lock.
func WithPendingObserver(fn func(pending int)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule runs action after delay unless cancelled first. A non-positive
// delay fires immediately on a separate goroutine. Any pending action for key
// is cancelled and replaced.
func (r *Registry) Schedule(key string, delay time.Duration, action func()) Handle {
	delay = max(delay, 0)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return Handle{}
	}
	if prev, ok := r.entries[key]; ok {
		prev.timer.Stop()
		delete(r.entries, key)
	}
	r.seq++
	seq := r.seq
	e := &entry{seq: seq}
	r.entries[key] = e
	// Creating the timer under the lock keeps fire() from observing the entry
	// before its timer field is set.
	e.timer = r.afterFunc(delay, func() { r.fire(key, seq, action) })
	pending := len(r.entries)
	r.mu.Unlock()

	r.notify(pending)
	return Handle{reg: r, key: key, seq: seq}
}

// Cancel cancels whatever action is pending for key.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	pending := len(r.entries)
	r.mu.Unlock()

	r.notify(pending)
	return true
}

// Pending reports how many actions are scheduled and not yet fired or cancelled.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Has reports whether key has a pending action.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Stop cancels every pending action and rejects further scheduling. Used on
// shutdown; pending challenges are dropped with the process.
func (r *Registry) Stop() int {
	r.mu.Lock()
	n := len(r.entries)
	for key, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, key)
	}
	r.stopped = true
	r.mu.Unlock()

	r.notify(0)
	return n
}

func (r *Registry) cancel(key string, seq uint64) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.seq != seq {
		r.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	pending := len(r.entries)
	r.mu.Unlock()

	r.notify(pending)
	return true
}

// fire claims the entry and runs the action. The claim happens under the lock,
// so a Cancel that wins the lock first suppresses the action even when the
// underlying timer had already expired.
func (r *Registry) fire(key string, seq uint64, action func()) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.seq != seq {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	pending := len(r.entries)
	r.mu.Unlock()

	r.notify(pending)
	action()
}

func (r *Registry) notify(pending int) {
	if r.onChange != nil {
		r.onChange(pending)
	}
}
