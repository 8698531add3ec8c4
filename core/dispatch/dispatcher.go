package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work. The context carries the authoritative marker when
// the task runs on the authoritative loop, and is cancelled on shutdown.
type Task func(ctx context.Context)

type ctxKey struct{}

// isAuthoritative reports whether ctx belongs to a task currently executing
// on the authoritative loop.
func isAuthoritative(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKey{}).(bool)
	return v
}

// Handle identifies a scheduled task and allows best-effort cancellation.
type Handle struct {
	d         *Dispatcher
	cancelled atomic.Bool
	stop      chan struct{}
	once      sync.Once
}

// Cancel suppresses the task if it has not started yet, and stops future
// repeats of a repeating task. An invocation already executing runs to
// completion; cancellation is never preemptive.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		close(h.stop)
		if h.d != nil {
			h.d.forget(h)
		}
	})
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// queued is a task waiting on the authoritative loop.
type queued struct {
	task   Task
	handle *Handle
}

// Dispatcher schedules work on two execution contexts: a worker context where
// any number of tasks run in parallel, and an authoritative context where
// tasks run one at a time in strict submission order.
type Dispatcher struct {
	log *zap.Logger

	authCh chan *queued
	quit   chan struct{}

	mu      sync.Mutex
	handles map[*Handle]struct{}

	// stopMu orders submissions against Shutdown: a worker registration
	// holds the read side, so once Shutdown holds the write side no new
	// worker can slip into the wait group behind workers.Wait.
	stopMu   sync.RWMutex
	shutdown sync.Once
	loopDone chan struct{}
	workers  sync.WaitGroup
}

// New creates a Dispatcher and starts its authoritative loop.
func New(log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		authCh:   make(chan *queued, 256),
		quit:     make(chan struct{}),
		handles:  make(map[*Handle]struct{}),
		loopDone: make(chan struct{}),
	}
	go d.loop()
	return d
}

// loop is the authoritative context: a single goroutine consuming tasks in
// FIFO order.
func (d *Dispatcher) loop() {
	defer close(d.loopDone)

	ctx := context.WithValue(context.Background(), ctxKey{}, true)

	for {
		select {
		case q := <-d.authCh:
			d.execute(ctx, q)
		case <-d.quit:
			// Queued one-shots are still delivered before the loop exits.
			for {
				select {
				case q := <-d.authCh:
					d.execute(ctx, q)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, q *queued) {
	if q.handle.Cancelled() {
		return
	}
	defer d.recover("authoritative")
	q.task(ctx)
}

// recover logs a task panic instead of letting it kill the process.
func (d *Dispatcher) recover(context string) {
	if r := recover(); r != nil {
		d.log.Error("task panicked",
			zap.String("context", context),
			zap.Any("panic", r),
		)
	}
}

func (d *Dispatcher) track(h *Handle) {
	d.mu.Lock()
	d.handles[h] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) forget(h *Handle) {
	d.mu.Lock()
	delete(d.handles, h)
	d.mu.Unlock()
}

func (d *Dispatcher) newHandle() *Handle {
	h := &Handle{d: d, stop: make(chan struct{})}
	d.track(h)
	return h
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

// addWorker registers a worker goroutine in the wait group unless the
// dispatcher has shut down.
func (d *Dispatcher) addWorker() bool {
	d.stopMu.RLock()
	defer d.stopMu.RUnlock()
	if d.stopped() {
		return false
	}
	d.workers.Add(1)
	return true
}

// RunWorker executes task on the worker context immediately.
func (d *Dispatcher) RunWorker(task Task) *Handle {
	h := d.newHandle()
	if !d.addWorker() {
		h.Cancel()
		return h
	}

	go func() {
		defer d.workers.Done()
		defer d.forget(h)
		if h.Cancelled() {
			return
		}
		defer d.recover("worker")
		task(context.Background())
	}()
	return h
}

// RunWorkerDelayed executes task on the worker context after delay.
func (d *Dispatcher) RunWorkerDelayed(task Task, delay time.Duration) *Handle {
	h := d.newHandle()
	if !d.addWorker() {
		h.Cancel()
		return h
	}

	go func() {
		defer d.workers.Done()
		defer d.forget(h)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if h.Cancelled() {
				return
			}
			defer d.recover("worker")
			task(context.Background())
		case <-h.stop:
		case <-d.quit:
		}
	}()
	return h
}

// RunWorkerRepeating executes task on the worker context after delay and then
// every period, until cancelled or the dispatcher shuts down.
func (d *Dispatcher) RunWorkerRepeating(task Task, delay, period time.Duration) *Handle {
	h := d.newHandle()
	if !d.addWorker() {
		h.Cancel()
		return h
	}

	go func() {
		defer d.workers.Done()
		defer d.forget(h)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-h.stop:
			return
		case <-d.quit:
			return
		}

		run := func() {
			defer d.recover("worker")
			task(context.Background())
		}
		run()

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if h.Cancelled() {
					return
				}
				run()
			case <-h.stop:
				return
			case <-d.quit:
				return
			}
		}
	}()
	return h
}

// RunAuthoritative enqueues task onto the authoritative loop. Tasks run in
// strict arrival order.
func (d *Dispatcher) RunAuthoritative(task Task) *Handle {
	h := d.newHandle()
	d.enqueueAuthoritative(task, h)
	return h
}

func (d *Dispatcher) enqueueAuthoritative(task Task, h *Handle) {
	if d.stopped() {
		h.Cancel()
		return
	}
	select {
	case d.authCh <- &queued{task: task, handle: h}:
	case <-d.quit:
		h.Cancel()
	}
}

// RunAuthoritativeDelayed enqueues task onto the authoritative loop after
// delay. Ordering is by enqueue time, not by submission time.
func (d *Dispatcher) RunAuthoritativeDelayed(task Task, delay time.Duration) *Handle {
	h := d.newHandle()
	if !d.addWorker() {
		h.Cancel()
		return h
	}

	go func() {
		defer d.workers.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if !h.Cancelled() {
				d.enqueueAuthoritative(task, h)
			}
		case <-h.stop:
		case <-d.quit:
		}
	}()
	return h
}

// RunAuthoritativeRepeating enqueues task onto the authoritative loop after
// delay and then every period.
func (d *Dispatcher) RunAuthoritativeRepeating(task Task, delay, period time.Duration) *Handle {
	h := d.newHandle()
	if !d.addWorker() {
		h.Cancel()
		return h
	}

	go func() {
		defer d.workers.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-h.stop:
			return
		case <-d.quit:
			return
		}
		d.enqueueAuthoritative(task, h)

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if h.Cancelled() {
					return
				}
				d.enqueueAuthoritative(task, h)
			case <-h.stop:
				return
			case <-d.quit:
				return
			}
		}
	}()
	return h
}

// CancelAll cancels every tracked task. In-flight invocations finish.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	handles := make([]*Handle, 0, len(d.handles))
	for h := range d.handles {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Shutdown stops the dispatcher: no new work is accepted, repeating tasks
// stop, queued authoritative one-shots are still delivered, and in-flight
// workers run to completion. Idempotent.
func (d *Dispatcher) Shutdown() {
	d.shutdown.Do(func() {
		d.stopMu.Lock()
		close(d.quit)
		d.stopMu.Unlock()
		<-d.loopDone
		d.workers.Wait()
	})
}

// SupplyWorker runs fn on the worker context and resolves the returned future
// with its result. A panic inside fn resolves the future exceptionally.
func SupplyWorker[T any](d *Dispatcher, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	h := d.RunWorker(func(ctx context.Context) {
		supply(f, ctx, fn)
	})
	if h.Cancelled() {
		f.Fail(fmt.Errorf("dispatch: dispatcher is shut down"))
	}
	return f
}

// SupplyAuthoritative runs fn on the authoritative context. When the caller
// is already on that context it executes fn synchronously and returns a
// resolved future, avoiding a re-entrant enqueue that would deadlock the
// single-threaded loop.
func SupplyAuthoritative[T any](d *Dispatcher, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	if isAuthoritative(ctx) {
		supply(f, ctx, fn)
		return f
	}

	h := d.RunAuthoritative(func(taskCtx context.Context) {
		supply(f, taskCtx, fn)
	})
	if h.Cancelled() {
		f.Fail(fmt.Errorf("dispatch: dispatcher is shut down"))
	}
	return f
}

func supply[T any](f *Future[T], ctx context.Context, fn func(ctx context.Context) (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			f.Fail(fmt.Errorf("dispatch: task panicked: %v", r))
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		f.Fail(err)
		return
	}
	f.Complete(v)
}
