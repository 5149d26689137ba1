package sched

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Virtual is a Scheduler driven by a manual clock, for tests. Nothing runs
// until Advance or Flush is called, and callbacks run on the caller's
// goroutine.
type Virtual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*virtualTimer
	posted []func()
}

// NewVirtual returns a virtual scheduler at time zero.
func NewVirtual() *Virtual {
	return &Virtual{}
}

type virtualTimer struct {
	v       *Virtual
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *virtualTimer) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc implements Scheduler.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{v: v, at: v.now + d, seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

// Post implements Scheduler.
func (v *Virtual) Post(fn func()) {
	v.mu.Lock()
	v.posted = append(v.posted, fn)
	v.mu.Unlock()
}

// Call implements Executor by posting fn and flushing.
func (v *Virtual) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.Post(fn)
	v.Flush()
	return nil
}

// Now returns the virtual time elapsed since creation.
func (v *Virtual) Now() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Pending returns the delays, relative to now, of timers that have not
// fired or been stopped, soonest first.
func (v *Virtual) Pending() []time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []time.Duration
	for _, t := range v.live() {
		out = append(out, t.at-v.now)
	}
	return out
}

// Flush runs posted callbacks, including ones posted while flushing.
func (v *Virtual) Flush() {
	for {
		v.mu.Lock()
		batch := v.posted
		v.posted = nil
		v.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and flushing posted callbacks before and after each one.
func (v *Virtual) Advance(d time.Duration) {
	v.Flush()

	v.mu.Lock()
	end := v.now + d
	v.mu.Unlock()

	for {
		v.mu.Lock()
		live := v.live()
		if len(live) == 0 || live[0].at > end {
			v.now = end
			v.timers = live
			v.mu.Unlock()
			v.Flush()
			return
		}
		t := live[0]
		t.fired = true
		v.now = t.at
		v.timers = live[1:]
		v.mu.Unlock()

		t.fn()
		v.Flush()
	}
}

// live returns unfired, unstopped timers sorted by deadline. Callers hold mu.
func (v *Virtual) live() []*virtualTimer {
	out := make([]*virtualTimer, 0, len(v.timers))
	for _, t := range v.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].at != out[j].at {
			return out[i].at < out[j].at
		}
		return out[i].seq < out[j].seq
	})
	return out
}
