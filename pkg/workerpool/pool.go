// Package workerpool provides a bounded goroutine pool. At most the
// configured number of tasks run at once; further submissions wait in a queue.
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool manages a fixed number of worker goroutines. Workers start lazily
// as tasks arrive and never exceed the configured count.
type Pool struct {
	workers int32
	tasks   chan func()

	running atomic.Int32 // started workers
	active  atomic.Int32 // tasks executing right now
	peak    atomic.Int32 // highest observed active

	onPanic func(any)

	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithPanicHandler is called with the recovered value when a task panics.
// The worker keeps serving the queue either way.
func WithPanicHandler(fn func(any)) Option {
	return func(p *Pool) { p.onPanic = fn }
}

// New creates a pool with the given number of workers.
// workers <= 0 means GOMAXPROCS.
func New(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: int32(workers),
		tasks:   make(chan func(), workers*4),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues task, blocking while the queue is full.
// Returns false if the pool is closed.
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	for {
		n := p.running.Load()
		if n >= p.workers {
			break
		}
		if p.running.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.worker()
			break
		}
	}

	p.tasks <- task
	return true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	if task == nil {
		return
	}
	n := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	defer func() {
		p.active.Add(-1)
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	task()
}

// Peak returns the highest number of tasks that ever ran at once.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Close stops accepting tasks, runs the queued ones and waits for the
// workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
