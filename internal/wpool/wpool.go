// Package wpool implements the bounded worker pool of spec §4.5: N fixed
// goroutines consuming a FIFO queue of closures, each optionally followed by
// an epilog that runs on the same goroutine immediately after the closure
// so a subsequent status read is guaranteed to observe its effects.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package wpool

import (
	"sync"

	"github.com/NGIOproject/norns-go/internal/nlog"
)

// Closure is a unit of work submitted to the pool.
type Closure func()

// Epilog runs immediately after a Closure on the same worker goroutine.
type Epilog func()

type job struct {
	closure Closure
	epilog  Epilog
}

// Pool is a bounded pool of N worker goroutines draining a single FIFO
// channel.
type Pool struct {
	jobs    chan job
	wg      sync.WaitGroup
	n       int
	mu      sync.Mutex
	stopped bool
}

// New starts n workers pulling from a queue of the given backlog size. n and
// backlog are both clamped to at least 1.
func New(n, backlog int) *Pool {
	if n < 1 {
		n = 1
	}
	if backlog < 1 {
		backlog = 1
	}
	p := &Pool{jobs: make(chan job, backlog), n: n}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.run(i)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		j.closure()
		if j.epilog != nil {
			j.epilog()
		}
	}
	nlog.Infof("wpool worker %d exiting", id)
}

// SubmitAndForget enqueues closure for execution; it does not block on
// completion. Queue order is FIFO; N workers bound parallelism.
func (p *Pool) SubmitAndForget(closure Closure) {
	p.SubmitWithEpilogAndForget(closure, nil)
}

// SubmitWithEpilogAndForget enqueues closure followed by epilog on the same
// worker goroutine. The epilog's completion happens-before any subsequent
// observation of task status, because both run sequentially on the single
// worker goroutine that dequeued the job — no additional synchronization is
// needed by callers that read status through a properly-locked registry.
func (p *Pool) SubmitWithEpilogAndForget(closure Closure, epilog Epilog) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		nlog.Warningln("wpool: submit after stop, dropping job")
		return
	}
	p.jobs <- job{closure: closure, epilog: epilog}
}

// Stop closes the queue, lets all already-queued jobs drain, and joins every
// worker goroutine before returning.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.jobs)
	p.wg.Wait()
}

// N reports the configured worker count.
func (p *Pool) N() int { return p.n }
