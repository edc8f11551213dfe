package vm

/*
#include "glue.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime/cgo"
)

// ---------------------------------------------------------------------------
// VM: one Luau global state
// ---------------------------------------------------------------------------

// Config describes a VM at creation time.
type Config struct {
	// GlobalData is attached to the VM as a whole.
	GlobalData any

	// MainThreadData is the main thread's data.
	MainThreadData any

	// DeriveThreadData computes a new coroutine's data from its parent. It
	// runs inside the VM and must not call back into it. When nil, a
	// coroutine shares its parent's data.
	DeriveThreadData func(parent *Thread) (any, error)

	// ReleaseThreadData is called once for every thread's data when the
	// thread is freed, including the main thread's when the VM closes.
	ReleaseThreadData func(data any)

	// OpenLibs loads the builtin libraries into the main thread's globals.
	OpenLibs bool

	// Setup runs after the libraries are opened and before the globals are
	// sandboxed.
	Setup func(v *VM) error

	// Sandbox makes the builtin globals read-only and gives every new
	// coroutine its own global table.
	Sandbox bool

	// Interrupt is polled at VM safepoints. Returning true aborts the running
	// script with the runtime error "interrupted". It must not call back
	// into the VM. It can be replaced later with SetInterrupt.
	Interrupt func(t *Thread) bool
}

// VM owns a Luau global state: one heap, one registry, one main thread and
// any number of coroutines. A VM is not safe for concurrent use.
type VM struct {
	main   *C.lua_State
	self   cgo.Handle
	cfg    Config
	closed bool

	interrupt func(t *Thread) bool

	// callbackErr records the first release failure, reported by Close.
	// raised records the first callback failure that was raised as a Lua
	// error; the call that observes the error takes it as the cause.
	callbackErr error
	raised      error
}

// New creates a VM. It fails with ErrAllocation when the native state
// cannot be allocated; this is the only allocation failure that is not
// fatal to an existing VM.
func New(cfg Config) (*VM, error) {
	l := C.glue_newstate()
	if l == nil {
		return nil, ErrAllocation
	}

	v := &VM{main: l, cfg: cfg}
	v.self = cgo.NewHandle(v)
	C.glue_install(l, C.uintptr_t(v.self))
	v.SetInterrupt(cfg.Interrupt)
	C.glue_setthreaddata(l, C.uintptr_t(cgo.NewHandle(cfg.MainThreadData)))

	main := v.MainThread()
	if cfg.OpenLibs {
		if st := Status(C.glue_openlibs(l)); st != StatusOK {
			err := main.capture(st, 0)
			v.Close()
			return nil, fmt.Errorf("vm: open libraries: %w", err)
		}
	}
	if cfg.Setup != nil {
		if err := cfg.Setup(v); err != nil {
			v.Close()
			return nil, fmt.Errorf("vm: setup: %w", err)
		}
	}
	if cfg.Sandbox {
		if st := Status(C.glue_sandbox(l)); st != StatusOK {
			err := main.capture(st, 0)
			v.Close()
			return nil, fmt.Errorf("vm: sandbox: %w", err)
		}
	}
	return v, nil
}

// vmOf finds the VM that owns a native thread.
func vmOf(l *C.lua_State) *VM {
	return cgo.Handle(C.glue_globaldata(l)).Value().(*VM)
}

// MainThread returns the main thread, valid for the VM's lifetime.
func (v *VM) MainThread() *Thread {
	return &Thread{l: v.main}
}

// GlobalData returns the data given in Config.GlobalData.
func (v *VM) GlobalData() any {
	return v.cfg.GlobalData
}

// Sandboxed reports whether the VM was created with Sandbox.
func (v *VM) Sandboxed() bool {
	return v.cfg.Sandbox
}

// SetInterrupt replaces the interrupt hook and returns the previous one. A
// nil hook removes the native callback entirely, so safepoints cost nothing.
func (v *VM) SetInterrupt(fn func(t *Thread) bool) (prev func(t *Thread) bool) {
	v.mustOpen()
	prev, v.interrupt = v.interrupt, fn
	on := C.int(0)
	if fn != nil {
		on = 1
	}
	C.glue_setinterrupt(v.main, on)
	return prev
}

// Closed reports whether Close has been called.
func (v *VM) Closed() bool {
	return v.closed
}

// Close frees the VM: every coroutine, every GC object and every thread's
// data. Refs into the VM become unusable. Close returns the first error
// recorded by a data callback during teardown.
func (v *VM) Close() error {
	if v.closed {
		return nil
	}
	mainData := C.glue_threaddata(v.main)

	// Coroutine data is released by the thread callback as lua_close frees
	// each thread; the main thread gets no callback.
	C.glue_close(v.main)
	v.closed = true

	if mainData != 0 {
		h := cgo.Handle(mainData)
		data := h.Value()
		h.Delete()
		v.releaseThreadData(data)
	}
	v.self.Delete()
	return v.takeCallbackErr()
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// Collect runs a full garbage collection cycle.
func (v *VM) Collect() {
	v.mustOpen()
	C.glue_gc_collect(v.main)
}

// Step performs an incremental collection step of roughly kb kilobytes and
// reports whether it finished a cycle.
func (v *VM) Step(kb int) bool {
	v.mustOpen()
	n, err := cInt(kb)
	if err != nil {
		n = 0
	}
	return C.glue_gc_step(v.main, n) != 0
}

// MemoryKB returns the heap size in kilobytes.
func (v *VM) MemoryKB() int {
	v.mustOpen()
	return int(C.glue_gc_count(v.main))
}

func (v *VM) mustOpen() {
	if v.closed {
		panic(ErrClosed)
	}
}

// ---------------------------------------------------------------------------
// Callback state
// ---------------------------------------------------------------------------

func (v *VM) fail(err error) {
	if v.callbackErr == nil {
		v.callbackErr = err
	}
}

func (v *VM) takeCallbackErr() error {
	err := v.callbackErr
	v.callbackErr = nil
	return err
}

func (v *VM) raise(err error) {
	if v.raised == nil {
		v.raised = err
	}
}

// settle finishes a native call: a callback failure raised during it
// becomes the cause of err. When the call succeeded anyway, the script
// handled the raised error and the failure is dropped.
func (v *VM) settle(err error) error {
	cause := v.raised
	v.raised = nil
	if err == nil || cause == nil {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.cause = cause
		return &c
	}
	return errors.Join(err, cause)
}

func (v *VM) deriveThreadData(parent *Thread) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("vm: derive thread data: panic: %v", r)
		}
	}()
	if v.cfg.DeriveThreadData == nil {
		return parent.Data(), nil
	}
	data, err = v.cfg.DeriveThreadData(parent)
	if err != nil {
		return nil, fmt.Errorf("vm: derive thread data: %w", err)
	}
	return data, nil
}

func (v *VM) releaseThreadData(data any) {
	if v.cfg.ReleaseThreadData == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			v.fail(fmt.Errorf("vm: release thread data: panic: %v", r))
		}
	}()
	v.cfg.ReleaseThreadData(data)
}

func (v *VM) interrupted(t *Thread) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			v.raise(fmt.Errorf("vm: interrupt: panic: %v", r))
			stop = true
		}
	}()
	return v.interrupt(t)
}
