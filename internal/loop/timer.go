package loop

import "time"

// Timer is a one-shot timer whose callback runs on the loop. A Timer must be
// created and stopped from the loop goroutine.
type Timer struct {
	loop    *Loop
	t       *time.Timer
	fn      func()
	stopped bool
}

// AfterFunc schedules fn to run on the loop after d. Must be called on the
// loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{loop: l, fn: fn}
	l.timers[tm] = struct{}{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(tm.fire)
	})
	return tm
}

func (tm *Timer) fire() {
	if tm.stopped {
		return
	}
	tm.stopped = true
	delete(tm.loop.timers, tm)
	tm.fn()
}

// Stop cancels the timer. It reports whether the call prevented the callback
// from running. Safe on a nil Timer.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	delete(tm.loop.timers, tm)
	return true
}

// PendingTimers reports how many timers are armed. Must be called on the loop.
func (l *Loop) PendingTimers() int {
	return len(l.timers)
}
