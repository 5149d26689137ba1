// Package sched provides the serial execution model the tracking engine runs
// on: every timer callback, hook notification and control request executes on
// one goroutine, one at a time.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Call once the loop has stopped running.
var ErrStopped = errors.New("scheduler stopped")

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already ran or was stopped.
	Stop() bool
}

// Scheduler runs callbacks serially.
type Scheduler interface {
	// AfterFunc runs fn on the scheduler after d.
	AfterFunc(d time.Duration, fn func()) Timer
	// Post runs fn on the scheduler as soon as possible. Safe to call from
	// any goroutine.
	Post(fn func())
}

// Executor is a Scheduler that can also run fn synchronously on its
// goroutine on behalf of another goroutine.
type Executor interface {
	Scheduler
	// Call runs fn on the scheduler and waits for it to return.
	Call(ctx context.Context, fn func()) error
}

// Loop is the real Scheduler. Callbacks run on the goroutine that calls Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	halt    chan struct{}
	stopped bool
}

// NewLoop creates an idle loop; call Run to start executing callbacks.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1), halt: make(chan struct{})}
}

// Post implements Scheduler.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call implements Executor. It returns ErrStopped if the loop stops before
// fn runs.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, func() {
		defer close(done)
		fn()
	})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-done:
		return nil
	case <-l.halt:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

// Run executes posted callbacks until ctx is done. Callbacks still queued
// when ctx ends are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		wasStopped := l.stopped
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		if !wasStopped {
			close(l.halt)
		}
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			fn()
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// loopTimer wraps time.Timer so that a Stop issued on the loop also cancels
// a callback that already left the timer but has not run yet.
type loopTimer struct {
	mu   sync.Mutex
	t    *time.Timer
	done bool
}

func (t *loopTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t.Stop()
	if t.done {
		return false
	}
	t.done = true
	return true
}
