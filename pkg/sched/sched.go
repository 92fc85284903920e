// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sched runs deferred callbacks keyed by a cancellation id
package sched

import (
	"sync"
	"time"
)

// Scheduler runs callbacks after a delay. Scheduling a callback under an id
// that is already pending replaces the pending one.
type Scheduler struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]*entry
	stopped bool
}

type entry struct {
	seq   uint64
	timer *time.Timer
}

// New creates a scheduler
func New() *Scheduler {
	return &Scheduler{pending: make(map[string]*entry)}
}

// Schedule runs fn after delay unless id is cancelled or rescheduled first.
// It returns false when the scheduler is stopped.
func (s *Scheduler) Schedule(id string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
	}

	s.seq++
	seq := s.seq
	e := &entry{seq: seq}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.pending[id]
		if !ok || cur.seq != seq {
			// replaced or cancelled after the timer fired
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.mu.Unlock()
		fn()
	})
	s.pending[id] = e
	return true
}

// Cancel drops the pending callback for id. It reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, id)
	return true
}

// Pending returns the number of callbacks not yet run
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels everything and rejects further scheduling
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}
