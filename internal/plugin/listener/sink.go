// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package listener

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/plugscan/plugscan/pkg/plugin"
)

type batch struct {
	added   []plugin.Origin
	removed []plugin.Origin
	ack     *ack
}

// ack counts outstanding deliveries of one batch across handlers.
type ack struct {
	wg sync.WaitGroup
	// missed is set when a delivery was postponed by Disable.
	missed atomic.Bool
}

// wait blocks until every handler has been given the batch and reports
// whether all of them processed it.
func (a *ack) wait() bool {
	a.wg.Wait()
	return !a.missed.Load()
}

func (b batch) done() {
	if b.ack != nil {
		b.ack.wg.Done()
	}
}

// sink delivers batches to one handler in order on its own goroutine.
// The queue is unbounded so dispatch never blocks the coordinator. Batches
// still queued when the sink stops are kept and delivered after the next
// Enable, since the listener already counts their origins as reported.
type sink struct {
	h     Handler
	mu    sync.Mutex
	queue []batch
	wake  chan struct{}
}

func newSink(h Handler) *sink {
	return &sink{h: h, wake: make(chan struct{}, 1)}
}

func (s *sink) push(b batch) {
	s.mu.Lock()
	s.queue = append(s.queue, b)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sink) pop() (batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return batch{}, false
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	return b, true
}

// postpone releases the acks of every queued batch without delivering it.
// The batches stay queued.
func (s *sink) postpone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.queue {
		if b.ack != nil {
			b.ack.missed.Store(true)
			b.ack.wg.Done()
			s.queue[i].ack = nil
		}
	}
}

// run delivers queued batches until ctx is done. A delivery in progress
// completes. Handlers get a context that is not canceled by Disable.
func (s *sink) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	hctx := context.WithoutCancel(ctx)
	for {
		for ctx.Err() == nil {
			b, ok := s.pop()
			if !ok {
				break
			}
			if len(b.removed) > 0 {
				s.h.Removed(hctx, b.removed)
			}
			if len(b.added) > 0 {
				s.h.Added(hctx, b.added)
			}
			b.done()
		}
		select {
		case <-ctx.Done():
			s.postpone()
			return
		case <-s.wake:
		}
	}
}
