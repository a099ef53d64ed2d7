// Package loop provides a single-goroutine event loop. Every component that
// owns session or transcript state is confined to one Loop: socket callbacks,
// timer expiries and caller requests are all posted as closures and executed
// one at a time in FIFO order, so no component state needs locking.
package loop

import "sync"

// Loop executes posted closures sequentially on its own goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}

	// Loop-confined.
	timers map[*Timer]struct{}
}

// New starts a loop goroutine.
func New() *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: make(map[*Timer]struct{}),
	}
	go l.run()
	return l
}

// Post queues fn for execution. The queue is unbounded so posting never
// blocks, including from inside the loop. Returns false once the loop is
// closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Queued closures that have not started are dropped
// and outstanding timers are cancelled.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	close(l.done)
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	for {
		select {
		case <-l.done:
			l.stopAllTimers()
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

func (l *Loop) stopAllTimers() {
	for t := range l.timers {
		t.t.Stop()
		t.stopped = true
		delete(l.timers, t)
	}
}
