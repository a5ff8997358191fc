// Package signal implements the join counter used to sequence asynchronous work.
//
// Every unit of outstanding work is announced with Pending, which returns the callback
// that marks it done. WaitForAll defers a continuation until the counter drops to zero
// and runs it immediately when nothing is outstanding. Signals nest: the done callback
// of one signal can itself be a pending unit of an outer signal.
package signal

import (
	"context"
	"sync"
)

// Signal is a join counter. The zero value is not usable, use New.
type Signal struct {
	name string

	mu      sync.Mutex
	pending int
	waiters []func()
	idle    chan struct{}
}

// New returns an idle signal.
func New(name string) *Signal {
	s := &Signal{name: name, idle: make(chan struct{})}
	close(s.idle)
	return s
}

// Name returns the debugging name of the signal.
func (s *Signal) Name() string { return s.name }

// Pending registers one unit of outstanding work and returns its completion callback.
// The optional cb runs before the counter is decremented. Calling the returned
// function more than once has no effect.
func (s *Signal) Pending(cb func()) func() {
	s.mu.Lock()
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			if cb != nil {
				cb()
			}
			s.oneDone()
		})
	}
}

// OrPending wraps cb so that it counts as pending work of the signal when present.
// A nil cb returns nil.
func (s *Signal) OrPending(cb func()) func() {
	if cb == nil {
		return nil
	}
	return s.Pending(cb)
}

func (s *Signal) oneDone() {
	s.mu.Lock()
	s.pending--
	if s.pending > 0 {
		s.mu.Unlock()
		return
	}
	waiters := s.waiters
	s.waiters = nil
	close(s.idle)
	s.mu.Unlock()

	for _, w := range waiters {
		w()
	}
}

// IsActive reports whether work is outstanding.
func (s *Signal) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// WaitForAll runs cb once every pending unit is done, immediately when none are.
func (s *Signal) WaitForAll(cb func()) {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		cb()
		return
	}
	s.waiters = append(s.waiters, cb)
	s.mu.Unlock()
}

// Wait blocks until the signal is idle or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
