package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/luau/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("server: VM worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	ctx  context.Context
	fn   func(*vm.VM) (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all VM access through a single goroutine.
// A VM is not safe for concurrent use; all RPC handlers
// must go through the worker to avoid data races.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending []func()
}

// NewVMWorker creates the VM described by cfg and starts the processing
// goroutine. cfg.Interrupt, if set, is polled alongside the cancellation
// check of each cancellable request.
func NewVMWorker(cfg vm.Config) (*VMWorker, error) {
	w := &VMWorker{
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	v, err := vm.New(cfg)
	if err != nil {
		return nil, err
	}
	w.vm = v

	go w.loop()
	return w, nil
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			w.drain()
			req.done <- w.execute(req)
		case <-w.quit:
			w.drain()
			if err := w.vm.Close(); err != nil {
				log.Errorf("closing VM: %s", err)
			}
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics. A request
// whose context can be cancelled runs with an interrupt hook that watches
// it; other requests leave the VM's own hook, if any, in place.
func (w *VMWorker) execute(req vmRequest) (result vmResult) {
	if err := req.ctx.Err(); err != nil {
		return vmResult{err: err}
	}

	if req.ctx.Done() != nil {
		restore := w.watch(req.ctx)
		defer restore()
	}
	defer func() {
		if r := recover(); r != nil {
			result = vmResult{err: fmt.Errorf("server: VM request panicked: %v", r)}
		}
	}()

	value, err := req.fn(w.vm)
	if err != nil && req.ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", req.ctx.Err(), err)
	}
	return vmResult{value: value, err: err}
}

// watch installs an interrupt hook that fires once ctx is done and
// returns a function that puts the previous hook back.
func (w *VMWorker) watch(ctx context.Context) func() {
	cancelled := new(atomic.Bool)
	stop := context.AfterFunc(ctx, func() { cancelled.Store(true) })
	var prev func(*vm.Thread) bool
	prev = w.vm.SetInterrupt(func(t *vm.Thread) bool {
		return cancelled.Load() || (prev != nil && prev(t))
	})
	return func() {
		stop()
		w.vm.SetInterrupt(prev)
	}
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. Cancelling ctx interrupts a running script at its
// next safepoint. Must not be called from inside fn.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.VM) (any, error)) (any, error) {
	req := vmRequest{
		ctx:  ctx,
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.stopped:
		return nil, ErrWorkerStopped
	}
}

// Later queues fn to run on the VM goroutine before the next request. It
// never blocks, so it is safe to call from inside Do.
func (w *VMWorker) Later(fn func()) {
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
}

func (w *VMWorker) drain() {
	w.mu.Lock()
	fns := w.pending
	w.pending = nil
	w.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Stop shuts down the worker goroutine and closes the VM. It waits for the
// request in flight, if any.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.stopped
}
