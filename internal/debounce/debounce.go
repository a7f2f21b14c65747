// ABOUTME: Thread-safe per-key trailing debouncer for collapsing bursts of events.
// ABOUTME: Used by the module watcher so an editor save-storm triggers one reload.

package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the quiet period used when New is given zero.
const DefaultWindow = 500 * time.Millisecond

// pendingEntry is the timer armed for one key.
type pendingEntry struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer calls fn once per key after the key has been quiet for the window.
// Every Trigger within the window pushes the call back.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	window  time.Duration
	fn      func(key string)
	gen     uint64
	closed  bool
	running sync.WaitGroup
}

// New creates a Debouncer.
func New(window time.Duration, fn func(key string)) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		pending: make(map[string]*pendingEntry),
		window:  window,
		fn:      fn,
	}
}

// Trigger schedules fn(key), or pushes back an already scheduled call.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	// Stop succeeds only while the callback has not started; otherwise arm a new timer.
	if e, ok := d.pending[key]; ok && e.timer.Stop() {
		e.timer.Reset(d.window)
		return
	}

	d.gen++
	gen := d.gen
	d.pending[key] = &pendingEntry{
		gen:   gen,
		timer: time.AfterFunc(d.window, func() { d.fire(key, gen) }),
	}
}

// fire runs the callback for key unless the debouncer was closed.
func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	if e, ok := d.pending[key]; ok && e.gen == gen {
		delete(d.pending, key)
	}
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	d.fn(key)
}

// Pending returns the number of keys with a scheduled call.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels scheduled calls and waits for running ones. It is safe to call multiple times.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for key, e := range d.pending {
			e.timer.Stop()
			delete(d.pending, key)
		}
	}
	d.mu.Unlock()

	d.running.Wait()
}
