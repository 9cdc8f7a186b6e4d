package conn

import "sync"

// loop is the single-writer execution context of a Machine. Closures posted
// from any goroutine run one at a time, in post order, on one goroutine.
//
// The mailbox is unbounded: collaborators may report events synchronously
// from inside calls the loop itself makes (an engine emitting its closed
// states from Close, for instance), so posting must never wait on the loop.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post enqueues fn. It returns false once the loop has been stopped.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
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

// stop rejects further posts. Closures already queued are dropped; the
// goroutine exits after the closure currently running returns.
func (l *loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Done is closed when the loop stops.
func (l *loop) Done() <-chan struct{} {
	return l.done
}

func (l *loop) run() {
	for {
		select {
		case <-l.wake:
		case <-l.done:
			return
		}

		for {
			l.mu.Lock()
			if l.stopped || len(l.queue) == 0 {
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
