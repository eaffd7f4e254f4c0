package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debouncer batches rapid file events and ensures callbacks don't overlap.
// Lifted from wave/tooling/watcher.go almost as-is: it batches events,
// serializes callback re-entrancy, and drains events queued while a
// callback was in flight once that callback returns.
type Debouncer struct {
	duration time.Duration
	callback func([]fsnotify.Event)
	mu       sync.Mutex
	timer    *time.Timer
	events   []fsnotify.Event
	stopped  bool
	inFlight bool
	pending  []fsnotify.Event
}

// NewDebouncer returns a Debouncer that coalesces events arriving within d
// of each other and invokes cb with the batch once things go quiet. §4.K
// specifies a debounce of approximately 10ms.
func NewDebouncer(d time.Duration, cb func([]fsnotify.Event)) *Debouncer {
	return &Debouncer{duration: d, callback: cb}
}

func (d *Debouncer) Add(evt fsnotify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.events = append(d.events, evt)

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.duration, d.flush)
}

// flush is called by the timer. It checks if a callback is in-flight and
// either runs the callback or queues events for later.
func (d *Debouncer) flush() {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	events := d.events
	d.events = nil

	if len(events) == 0 {
		d.mu.Unlock()
		return
	}

	if d.inFlight {
		d.pending = append(d.pending, events...)
		d.mu.Unlock()
		return
	}

	d.inFlight = true
	d.mu.Unlock()

	d.callback(events)

	d.mu.Lock()
	d.inFlight = false

	if len(d.pending) > 0 && !d.stopped {
		d.events = d.pending
		d.pending = nil
		d.timer = time.AfterFunc(d.duration, d.flush)
	}
	d.mu.Unlock()
}

// Stop cancels any pending debounced callback and prevents future events
// from scheduling one. Idempotent, matching §5's "FS-watcher teardown is
// idempotent".
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.events = nil
	d.pending = nil
}
