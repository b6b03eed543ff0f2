// Package timer implements a small one-shot/periodic callback registry keyed
// by opaque handles instead of callback identity, so a single logical timer
// can be registered, restarted and stopped without the caller needing to
// keep its exact callback closure around.
package timer

import (
	"context"
	"sync"
	"time"
)

// Handle identifies a registered timer. The zero Handle is never issued by
// the registry; callers use it as a sentinel for "not yet registered".
type Handle int

type entry struct {
	callback func()
	initial  int // seconds at (re)start
	period   int // 0 for one-shot, else seconds between fires
	remaining int
	active   bool
}

// Registry is a slab of timers driven by a 1-second Tick. It is safe for
// concurrent use: Tick is expected to run on a background goroutine while
// Start/Restart/Stop are called from the foreground loop.
type Registry struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	nextID  Handle
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[Handle]*entry)}
}

// StartOneshot (re)arms a one-shot timer. If h is the zero Handle a new
// timer is registered and its Handle returned; otherwise the existing
// timer identified by h is reset to fire once after seconds.
func (r *Registry) StartOneshot(h Handle, seconds int, cb func()) Handle {
	return r.start(h, seconds, 0, cb)
}

// StartPeriodic (re)arms a periodic timer that fires every seconds until
// stopped.
func (r *Registry) StartPeriodic(h Handle, seconds int, cb func()) Handle {
	return r.start(h, seconds, seconds, cb)
}

func (r *Registry) start(h Handle, remaining, period int, cb func()) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 {
		r.nextID++
		h = r.nextID
	}
	r.entries[h] = &entry{
		callback:  cb,
		initial:   remaining,
		period:    period,
		remaining: remaining,
		active:    true,
	}
	return h
}

// Restart resets the timer identified by h to its original duration. It
// reports false if h is not a registered timer.
func (r *Registry) Restart(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return false
	}
	e.remaining = e.initial
	e.active = true
	return true
}

// Stop disarms the timer identified by h. It reports whether a timer was
// found (armed or not) for h.
func (r *Registry) Stop(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return false
	}
	e.active = false
	return true
}

// Active reports whether h names a currently-armed timer.
func (r *Registry) Active(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	return ok && e.active
}

// Tick advances every armed timer by one second, firing (and, for periodic
// timers, rearming) any that reach zero. Callbacks run after the internal
// lock is released so a callback may itself call back into the registry.
func (r *Registry) Tick() {
	r.mu.Lock()
	var fires []func()
	for _, e := range r.entries {
		if !e.active {
			continue
		}
		e.remaining--
		if e.remaining <= 0 {
			fires = append(fires, e.callback)
			if e.period > 0 {
				e.remaining = e.period
			} else {
				e.active = false
			}
		}
	}
	r.mu.Unlock()

	for _, cb := range fires {
		cb()
	}
}

// Run ticks the registry once per second until ctx is cancelled. It is the
// production entry point; tests drive Tick directly for determinism.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-ctx.Done():
			return
		}
	}
}
