// Package pool runs CPU-bound tasks on a fixed set of long-lived workers.
//
// Each worker is reached through a Handle carrying typed request and reply
// channels with at most one outstanding task. Callers Acquire a handle, Submit
// to it and Release it; callers that find no idle worker wait in FIFO order.
// A worker that faults is retired and replaced before anyone else can observe
// the pool, so idle plus busy always equals the configured size.
package pool

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shirou/gopsutil/v4/cpu"
)

var (
	// ErrWorkerFault is the Result error of a task whose worker crashed or
	// misbehaved before replying.
	ErrWorkerFault = errors.New("worker fault")
	ErrClosed      = errors.New("pool closed")
)

// Task is one request to a worker.
type Task[Req any] struct {
	CorrelationID string
	Payload       Req
}

// Result is a worker's reply to a Task. Err set means the task failed; the
// worker itself is still healthy unless Err is ErrWorkerFault.
type Result[Resp any] struct {
	CorrelationID string
	Value         Resp
	Err           error
}

// Conn is the worker's end of a Handle. A worker reads Tasks, answers each
// with exactly one Result carrying the same CorrelationID, and reports
// unrecoverable problems on Faults. It must stop once Done is closed.
type Conn[Req, Resp any] struct {
	Tasks   <-chan Task[Req]
	Results chan<- Result[Resp]
	Faults  chan<- error
	Done    <-chan struct{}
}

// SpawnFunc starts a worker serving conn. It must not block.
type SpawnFunc[Req, Resp any] func(conn Conn[Req, Resp])

// Handle is one worker slot.
type Handle[Req, Resp any] struct {
	id      int
	tasks   chan Task[Req]
	results chan Result[Resp]
	faults  chan error

	// done is closed when the handle is retired or the pool closes; doneErr
	// is written before the close and says which.
	done    chan struct{}
	doneErr error
	stopped bool
}

// ID identifies the worker slot in logs.
func (h *Handle[Req, Resp]) ID() int {
	return h.id
}

type Pool[Req, Resp any] struct {
	size  int
	spawn SpawnFunc[Req, Resp]
	log   logger.Logger

	mu      sync.Mutex
	idle    []*Handle[Req, Resp]
	busy    map[*Handle[Req, Resp]]struct{}
	waiters []chan *Handle[Req, Resp]
	closed  bool
	nextID  int
	faults  int

	wg sync.WaitGroup
}

// DefaultSize is the number of logical cores on the host.
func DefaultSize(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// New spawns exactly size workers.
func New[Req, Resp any](size int, spawn SpawnFunc[Req, Resp]) (*Pool[Req, Resp], error) {
	if size < 1 {
		return nil, errors.Errorf("pool size must be at least 1, got %d", size)
	}
	if spawn == nil {
		return nil, errors.New("pool spawn func is required")
	}

	p := &Pool[Req, Resp]{
		size:  size,
		spawn: spawn,
		log:   logger.New().Data(logger.Data{"component": "pool"}),
		idle:  make([]*Handle[Req, Resp], 0, size),
		busy:  make(map[*Handle[Req, Resp]]struct{}, size),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < size; i++ {
		p.idle = append(p.idle, p.spawnHandle())
	}

	return p, nil
}

// spawnHandle starts a new worker and its supervisor. p.mu must be held.
func (p *Pool[Req, Resp]) spawnHandle() *Handle[Req, Resp] {
	p.nextID++
	h := &Handle[Req, Resp]{
		id:      p.nextID,
		tasks:   make(chan Task[Req], 1),
		results: make(chan Result[Resp], 1),
		faults:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	p.spawn(Conn[Req, Resp]{
		Tasks:   h.tasks,
		Results: h.results,
		Faults:  h.faults,
		Done:    h.done,
	})

	p.wg.Add(1)
	go p.supervise(h)

	return h
}

func (p *Pool[Req, Resp]) supervise(h *Handle[Req, Resp]) {
	defer p.wg.Done()
	select {
	case err := <-h.faults:
		p.retire(h, err)
	case <-h.done:
	}
}

// retire removes h from the bookkeeping and puts a fresh worker in its place
// in the same critical section. Retiring an already stopped handle is a no-op.
func (p *Pool[Req, Resp]) retire(h *Handle[Req, Resp], cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.stopped {
		return
	}
	p.stop(h, errors.Wrapf(ErrWorkerFault, "worker %d: %v", h.id, cause))
	p.faults++

	p.removeIdle(h)
	delete(p.busy, h)

	if p.closed {
		return
	}

	replacement := p.spawnHandle()
	p.handOff(replacement)

	p.log.Warn("worker faulted and was replaced", logger.Data{
		"worker_id":      h.id,
		"replacement_id": replacement.id,
		"error":          cause.Error(),
	})
}

// stop closes h.done with err as the reason. p.mu must be held.
func (p *Pool[Req, Resp]) stop(h *Handle[Req, Resp], err error) {
	if h.stopped {
		return
	}
	h.stopped = true
	h.doneErr = err
	close(h.done)
}

func (p *Pool[Req, Resp]) removeIdle(h *Handle[Req, Resp]) {
	for i, idle := range p.idle {
		if idle == h {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

// handOff gives h to the oldest waiter, or parks it as idle. p.mu must be held.
func (p *Pool[Req, Resp]) handOff(h *Handle[Req, Resp]) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.busy[h] = struct{}{}
		// Waiter channels are buffered, so this never blocks.
		w <- h
		return
	}
	delete(p.busy, h)
	p.idle = append(p.idle, h)
}

// Acquire returns an idle worker, or waits behind earlier callers for one to
// be released. Cancelling ctx withdraws the caller from the queue.
func (p *Pool[Req, Resp]) Acquire(ctx context.Context) (*Handle[Req, Resp], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.idle) > 0 {
		h := p.idle[0]
		p.idle = p.idle[1:]
		p.busy[h] = struct{}{}
		p.mu.Unlock()
		return h, nil
	}
	w := make(chan *Handle[Req, Resp], 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case h, ok := <-w:
		if !ok {
			return nil, ErrClosed
		}
		return h, nil
	case <-ctx.Done():
		p.mu.Lock()
		withdrawn := false
		for i, other := range p.waiters {
			if other == w {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				withdrawn = true
				break
			}
		}
		p.mu.Unlock()
		if !withdrawn {
			// A worker was handed over before we could withdraw; pass it on.
			if h, ok := <-w; ok {
				p.Release(h)
			}
		}
		return nil, errors.WithStack(ctx.Err())
	}
}

// Release returns h to the pool, handing it straight to the oldest waiter if
// there is one. Releasing a retired or already released handle does nothing.
func (p *Pool[Req, Resp]) Release(h *Handle[Req, Resp]) {
	if h == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.busy[h]; !ok {
		return
	}
	if p.closed {
		delete(p.busy, h)
		return
	}
	p.handOff(h)
}

// Submit sends payload to the worker behind h and waits for the correlated
// result. The caller must hold h from Acquire. There is no timeout: a worker
// that never replies and never faults blocks the caller.
func (p *Pool[Req, Resp]) Submit(h *Handle[Req, Resp], payload Req) Result[Resp] {
	task := Task[Req]{CorrelationID: uuid.NewString(), Payload: payload}

	select {
	case <-h.done:
		return Result[Resp]{CorrelationID: task.CorrelationID, Err: h.doneErr}
	default:
	}

	select {
	case h.tasks <- task:
	case <-h.done:
		return Result[Resp]{CorrelationID: task.CorrelationID, Err: h.doneErr}
	}

	select {
	case res := <-h.results:
		return p.correlate(h, task, res)
	case <-h.done:
		// Prefer a reply that raced with the fault.
		select {
		case res := <-h.results:
			return p.correlate(h, task, res)
		default:
		}
		return Result[Resp]{CorrelationID: task.CorrelationID, Err: h.doneErr}
	}
}

func (p *Pool[Req, Resp]) correlate(h *Handle[Req, Resp], task Task[Req], res Result[Resp]) Result[Resp] {
	if res.CorrelationID != task.CorrelationID {
		err := errors.Errorf("reply %q does not match task %q", res.CorrelationID, task.CorrelationID)
		p.retire(h, err)
		return Result[Resp]{CorrelationID: task.CorrelationID, Err: errors.Wrap(ErrWorkerFault, err.Error())}
	}
	return res
}

// Run acquires a worker, submits payload to it and releases it.
func (p *Pool[Req, Resp]) Run(ctx context.Context, payload Req) Result[Resp] {
	h, err := p.Acquire(ctx)
	if err != nil {
		return Result[Resp]{Err: err}
	}
	defer p.Release(h)
	return p.Submit(h, payload)
}

// Stats reports the current number of idle workers, busy workers and
// waiting callers.
func (p *Pool[Req, Resp]) Stats() (idle, busy, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.busy), len(p.waiters)
}

// Size is the fixed number of workers.
func (p *Pool[Req, Resp]) Size() int {
	return p.size
}

// Faults is the number of workers retired since the pool started.
func (p *Pool[Req, Resp]) Faults() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faults
}

// Close stops every worker and fails pending Acquire calls with ErrClosed.
// Tasks in flight return ErrClosed unless their reply already arrived.
func (p *Pool[Req, Resp]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, h := range p.idle {
		p.stop(h, ErrClosed)
	}
	for h := range p.busy {
		p.stop(h, ErrClosed)
	}
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	p.mu.Unlock()

	p.wg.Wait()
}
