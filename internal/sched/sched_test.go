package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsPostedInOrder(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	got := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		l.Post(func() { got <- i })
	}

	for want := 1; want <= 3; want++ {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(time.Second):
			t.Fatal("posted callback did not run")
		}
	}
}

func TestLoop_AfterFuncStop(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var fired atomic.Int32
	tm := l.AfterFunc(20*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	done := make(chan struct{})
	l.AfterFunc(40*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, int32(0), fired.Load())
}

func TestLoop_StopAfterExpiryBeforeRun(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	tm := l.AfterFunc(time.Millisecond, func() { fired.Add(1) })
	// The loop is not running yet, so the expired callback waits in the queue.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, tm.Stop())

	go l.Run(ctx)
	flushed := make(chan struct{})
	l.Post(func() { close(flushed) })
	<-flushed
	assert.Equal(t, int32(0), fired.Load())
}

func TestVirtual_AdvanceFiresInDeadlineOrder(t *testing.T) {
	v := NewVirtual()
	var order []string

	v.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	v.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		v.AfterFunc(5*time.Millisecond, func() { order = append(order, "b") })
	})

	v.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 20*time.Millisecond, v.Now())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, v.Pending())

	v.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Empty(t, v.Pending())
}

func TestVirtual_StopAndPost(t *testing.T) {
	v := NewVirtual()
	ran := false
	tm := v.AfterFunc(time.Millisecond, func() { ran = true })
	require.True(t, tm.Stop())

	posted := 0
	v.Post(func() {
		posted++
		v.Post(func() { posted++ })
	})
	v.Advance(time.Second)

	assert.False(t, ran)
	assert.Equal(t, 2, posted)
}

func TestLoop_CallRunsOnLoop(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	n := 0
	l.Post(func() { n++ })
	require.NoError(t, l.Call(ctx, func() { n++ }))
	assert.Equal(t, 2, n)
}

func TestLoop_CallAfterStop(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	require.NoError(t, l.Call(context.Background(), func() {}))

	cancel()
	<-stopped
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}

func TestLoop_CallHonoursContext(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Call(ctx, func() {}), context.DeadlineExceeded)
}

func TestVirtual_Call(t *testing.T) {
	v := NewVirtual()
	var order []string
	v.Post(func() { order = append(order, "posted") })
	require.NoError(t, v.Call(context.Background(), func() { order = append(order, "call") }))
	assert.Equal(t, []string{"posted", "call"}, order)
}
