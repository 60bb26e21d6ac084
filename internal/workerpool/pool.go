// Package workerpool provides a bounded, double-buffered task pool,
// translated from the original implementation's DoubleBufferThreadPool:
// producers enqueue onto the current write buffer, and the pool swaps
// buffers once the write buffer's depth crosses a threshold, so drainers
// can work the other buffer without contending with producers still
// filling the active one.
package workerpool

import (
	"sync"
	"sync/atomic"
)

// Pool runs submitted tasks across n worker goroutines. It does not
// preserve submission order across tasks — callers whose work has an
// ordering requirement (e.g. per-connection command sequencing) must not
// use it for that work; it fits fan-out over independent units, such as
// persisting each store shard.
type Pool struct {
	buffers    [2]taskBuffer
	writeIndex atomic.Int32
	switchAt   atomic.Int64
	stopped    atomic.Bool
	wg         sync.WaitGroup
}

type taskBuffer struct {
	mu    sync.Mutex
	cond  sync.Cond
	tasks []func()
}

const initialSwitchThreshold = 1000

// New starts n worker goroutines draining both buffers.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	p.switchAt.Store(initialSwitchThreshold)
	p.buffers[0].cond.L = &p.buffers[0].mu
	p.buffers[1].cond.L = &p.buffers[1].mu

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Enqueue queues task on the current write buffer, swapping buffers if
// its depth has crossed the switch threshold.
func (p *Pool) Enqueue(task func()) {
	idx := p.writeIndex.Load()
	buf := &p.buffers[idx]

	buf.mu.Lock()
	buf.tasks = append(buf.tasks, task)
	depth := len(buf.tasks)
	buf.mu.Unlock()

	if int64(depth) >= p.switchAt.Load() {
		p.writeIndex.CompareAndSwap(idx, 1-idx)
	}

	p.buffers[0].cond.Signal()
	p.buffers[1].cond.Signal()
}

// PendingTasks reports the combined depth of both buffers.
func (p *Pool) PendingTasks() int {
	p.buffers[0].mu.Lock()
	n := len(p.buffers[0].tasks)
	p.buffers[0].mu.Unlock()

	p.buffers[1].mu.Lock()
	n += len(p.buffers[1].tasks)
	p.buffers[1].mu.Unlock()
	return n
}

// Shutdown stops accepting new work and waits for in-flight tasks to
// drain before returning.
func (p *Pool) Shutdown() {
	p.stopped.Store(true)
	p.buffers[0].cond.Broadcast()
	p.buffers[1].cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		task, ok := p.dequeue()
		if !ok {
			return
		}
		task()
	}
}

// dequeue pulls one task, preferring whichever buffer is not currently
// the write target so writers and the draining worker rarely contend.
func (p *Pool) dequeue() (func(), bool) {
	for {
		idx := 1 - p.writeIndex.Load()
		if t, ok := p.tryTake(&p.buffers[idx]); ok {
			return t, true
		}
		other := p.writeIndex.Load()
		if t, ok := p.tryTake(&p.buffers[other]); ok {
			return t, true
		}

		if p.stopped.Load() {
			return nil, false
		}

		p.buffers[idx].mu.Lock()
		for len(p.buffers[idx].tasks) == 0 && !p.stopped.Load() {
			p.buffers[idx].cond.Wait()
		}
		empty := len(p.buffers[idx].tasks) == 0
		p.buffers[idx].mu.Unlock()
		if empty && p.stopped.Load() {
			return nil, false
		}
	}
}

func (p *Pool) tryTake(buf *taskBuffer) (func(), bool) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if len(buf.tasks) == 0 {
		return nil, false
	}
	t := buf.tasks[0]
	buf.tasks = buf.tasks[1:]
	return t, true
}
