// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package listener

import (
	"sync"
	"time"
)

// debouncer coalesces rapid touches of the same path. A path settles once it
// has not been touched for the delay; fire is then called with it from the
// timer's goroutine.
type debouncer struct {
	delay time.Duration
	fire  func(path string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

func newDebouncer(delay time.Duration, fire func(path string)) *debouncer {
	return &debouncer{
		delay:   delay,
		fire:    fire,
		pending: make(map[string]*time.Timer),
	}
}

// touch (re)starts the settle timer for path.
func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.pending[path]; ok {
		t.Reset(d.delay)
		return
	}
	d.pending[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.pending, path)
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fire(path)
		}
	})
}

// pendingCount returns the number of paths still settling.
func (d *debouncer) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// stop cancels every pending timer. Touches after stop are ignored.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for path, t := range d.pending {
		t.Stop()
		delete(d.pending, path)
	}
}
