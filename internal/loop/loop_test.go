package loop

import (
	"sync"
	"testing"
	"time"
)

func TestPostRunsInOrder(t *testing.T) {
	l := New()
	defer l.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Call(func() {})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d closures, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestPostFromInsideLoop(t *testing.T) {
	l := New()
	defer l.Close()

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post did not run")
	}
}

func TestPostAfterClose(t *testing.T) {
	l := New()
	l.Close()

	if l.Post(func() {}) {
		t.Error("Post after Close should return false")
	}
	if l.Call(func() {}) {
		t.Error("Call after Close should return false")
	}
	l.Close() // idempotent
}

func TestAfterFuncFires(t *testing.T) {
	l := New()
	defer l.Close()

	fired := make(chan struct{})
	l.Call(func() {
		l.AfterFunc(10*time.Millisecond, func() { close(fired) })
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	var pending int
	l.Call(func() { pending = l.PendingTimers() })
	if pending != 0 {
		t.Errorf("pending timers = %d, want 0", pending)
	}
}

func TestTimerStop(t *testing.T) {
	l := New()
	defer l.Close()

	fired := make(chan struct{}, 1)
	var tm *Timer
	var pending int
	l.Call(func() {
		tm = l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
		pending = l.PendingTimers()
	})
	if pending != 1 {
		t.Fatalf("pending timers = %d, want 1", pending)
	}

	var stopped bool
	l.Call(func() {
		stopped = tm.Stop()
		pending = l.PendingTimers()
	})
	if !stopped {
		t.Error("Stop should report it cancelled the timer")
	}
	if pending != 0 {
		t.Errorf("pending timers after stop = %d, want 0", pending)
	}

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}

	var nilTimer *Timer
	if nilTimer.Stop() {
		t.Error("nil timer Stop should be false")
	}
}
