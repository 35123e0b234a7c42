// Package lane runs submitted work strictly in FIFO order on a single goroutine.
//
// A Lane is the only ordering mechanism for a cache namespace's disk
// mutations: writes, removals, and eviction scans are submitted to the lane
// and never run concurrently with each other. Submit never blocks; the
// backlog is unbounded.
package lane

import (
	"log/slog"
	"sync"
)

// Lane is a serial executor. The zero value is not usable; call New.
type Lane struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool // a task has been dequeued and not yet finished
	closed  bool
	done    chan struct{}
}

// New starts a lane. The name is used only in log output.
func New(name string, logger *slog.Logger) *Lane {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Lane{
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Submit enqueues fn. It reports false if the lane has been closed, in which
// case fn is dropped.
func (l *Lane) Submit(fn func()) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Broadcast()
	return true
}

// Drain blocks until every task submitted before the call has finished.
func (l *Lane) Drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 || l.running {
		l.cond.Wait()
	}
}

// Pending returns the number of queued tasks, including one in progress.
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	if l.running {
		n++
	}
	return n
}

// Close stops accepting work, runs everything already queued, and waits for
// the worker to exit. Close is idempotent.
func (l *Lane) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Broadcast()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Lane) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.running = true
		l.mu.Unlock()

		l.exec(fn)

		l.mu.Lock()
		l.running = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// exec runs fn, recovering a panic so one bad task cannot stall the lane.
func (l *Lane) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("lane task panicked",
				slog.String("lane", l.name),
				slog.Any("panic", r))
		}
	}()
	fn()
}
