package fs

import (
	"sync"
	"time"

	"github.com/aretw0/tally/pkg/core"
)

// debouncer coalesces bursts of events on the same key into a single event
// delivered after delay. A CREATE followed by writes stays a CREATE.
type debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]core.Event
	timers  map[string]*time.Timer
	gen     map[string]uint64
	stopped bool
	wg      sync.WaitGroup
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		pending: make(map[string]core.Event),
		timers:  make(map[string]*time.Timer),
		gen:     make(map[string]uint64),
	}
}

func (d *debouncer) add(e core.Event, fire func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if prev, ok := d.pending[e.Key]; ok && prev.Type == core.EventCreate && e.Type == core.EventModify {
		e.Type = core.EventCreate
	}
	d.pending[e.Key] = e

	if t, ok := d.timers[e.Key]; ok && t.Stop() {
		d.wg.Done()
	}

	d.gen[e.Key]++
	gen := d.gen[e.Key]
	key := e.Key

	d.wg.Add(1)
	d.timers[key] = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()

		d.mu.Lock()
		if d.gen[key] != gen || d.stopped {
			d.mu.Unlock()
			return
		}
		ev := d.pending[key]
		delete(d.pending, key)
		delete(d.timers, key)
		d.mu.Unlock()

		fire(ev)
	})
}

// stopAndWait drops pending events and waits for in-flight deliveries.
func (d *debouncer) stopAndWait(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	d.pending = make(map[string]core.Event)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
