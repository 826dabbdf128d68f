package watcher

import (
	"sync"
	"time"
)

// Debouncer collapses rapid changes to the same path into a single emission
// after a quiet window. It is safe for concurrent use.
type Debouncer struct {
	window time.Duration
	emit   func(path string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer that waits for window of silence on a
// path before emitting it.
func NewDebouncer(window time.Duration, emit func(path string)) *Debouncer {
	return &Debouncer{
		window: window,
		emit:   emit,
		timers: make(map[string]*time.Timer),
	}
}

// Feed records a change to path, restarting its quiet window.
func (d *Debouncer) Feed(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[path]; ok {
		t.Reset(d.window)
		return
	}
	d.timers[path] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		_, ok := d.timers[path]
		delete(d.timers, path)
		d.mu.Unlock()
		if ok {
			d.emit(path)
		}
	})
}

// Stop cancels pending timers and emits their paths immediately. Later Feed
// calls are no-ops.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	var toEmit []string
	for path, t := range d.timers {
		if t.Stop() {
			toEmit = append(toEmit, path)
		}
	}
	d.timers = nil
	d.mu.Unlock()

	// Emit outside the lock; emit may call back into the caller.
	for _, path := range toEmit {
		d.emit(path)
	}
}
