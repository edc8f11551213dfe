package vm

/*
#include <stdlib.h>
#include "glue.h"
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"unsafe"
)

// maxUserdataTag bounds the tags accepted by NewUserdata (LUA_UTAG_LIMIT).
const maxUserdataTag = 128

// Thread is an execution context of a VM: the main thread or a coroutine.
// It holds only the native pointer; the owning VM is looked up through it
// on demand.
//
// The main thread is valid until the VM closes. A coroutine's Thread is
// valid only while its Coroutine value is anchored.
type Thread struct {
	l *C.lua_State
}

// VM returns the VM that owns t.
func (t *Thread) VM() *VM {
	return vmOf(t.l)
}

// Stack returns a view of t's evaluation stack.
func (t *Thread) Stack() Stack {
	return Stack{l: t.l}
}

// Status returns the thread's native status.
func (t *Thread) Status() Status {
	return Status(C.glue_status(t.l))
}

// IsMain reports whether t is the VM's main thread.
func (t *Thread) IsMain() bool {
	return C.glue_mainthread(t.l) == t.l
}

// Same reports whether t and o are the same native thread.
func (t *Thread) Same(o *Thread) bool {
	return o != nil && t.l == o.l
}

// Data returns the thread's data, as installed at VM creation for the main
// thread or derived from the parent for coroutines.
func (t *Thread) Data() any {
	h := C.glue_threaddata(t.l)
	if h == 0 {
		return nil
	}
	return cgo.Handle(h).Value()
}

// reserve makes room for n more slots, growing the stack when the frame is
// too small. Failure leaves the stack as it was.
func (t *Thread) reserve(n int) error {
	s := t.Stack()
	if s.Left() >= n {
		return nil
	}
	cn, err := cInt(n)
	if err != nil {
		return ErrStackOverflow
	}
	mark := s.Save()
	rc := int(C.glue_checkstack(t.l, cn))
	switch {
	case rc == int(StatusOK):
		return nil
	case Status(rc) == StatusErrMem:
		s.Restore(mark)
		return ErrOutOfMemory
	default:
		s.Restore(mark)
		return ErrStackOverflow
	}
}

// ---------------------------------------------------------------------------
// Loading and calling
// ---------------------------------------------------------------------------

// Load turns compiled bytecode into a function. chunkName follows the usual
// conventions: "=name" for a literal name, "@path" for a file.
func (t *Thread) Load(bytecode []byte, chunkName string) (*Ref[Function], error) {
	if len(bytecode) == 0 {
		return nil, &Error{Kind: Syntax, Message: "empty bytecode"}
	}
	size, err := cSize(len(bytecode))
	if err != nil {
		return nil, err
	}

	s := t.Stack()
	mark := s.Save()
	if err := t.reserve(1); err != nil {
		return nil, err
	}

	name := C.CString(chunkName)
	defer C.free(unsafe.Pointer(name))

	data := (*C.char)(unsafe.Pointer(&bytecode[0]))
	if st := Status(C.glue_load(t.l, name, data, size)); st != StatusOK {
		return nil, t.VM().settle(t.capture(st, mark))
	}
	t.VM().settle(nil)
	defer s.Restore(mark)
	return refSlot[Function](t, s.Used()-1)
}

// CallSync calls fn with args and waits for it to finish. Results come back
// anchored, in order. A yield or break inside the call is reported as
// ErrYielded or ErrBreak; the call is abandoned and cannot be resumed, and
// the thread stays usable.
//
// The stack is left as it was on every path.
func (t *Thread) CallSync(fn *Ref[Function], args ...Arg) ([]*Ref[Value], error) {
	vm := t.VM()
	if st := t.Status(); st != StatusOK {
		return nil, fmt.Errorf("vm: cannot call on a thread in %s state", st)
	}
	nargs, err := cInt(len(args))
	if err != nil {
		return nil, ErrStackOverflow
	}

	s := t.Stack()
	mark := s.Save()
	if err := t.reserve(len(args) + 1); err != nil {
		return nil, err
	}

	fnRaw, err := fn.argRaw(vm)
	if err != nil {
		return nil, err
	}
	if err := s.Push(fnRaw); err != nil {
		s.Restore(mark)
		return nil, err
	}
	for i, a := range args {
		v, err := a.argRaw(vm)
		if err != nil {
			s.Restore(mark)
			return nil, fmt.Errorf("vm: argument %d: %w", i+1, err)
		}
		if err := s.Push(v); err != nil {
			s.Restore(mark)
			return nil, err
		}
	}

	switch rc := C.glue_call(t.l, nargs); {
	case rc == C.GLUE_THREAD_BUSY:
		s.Restore(mark)
		return nil, ErrThreadBusy
	case Status(rc) != StatusOK:
		return nil, vm.settle(t.capture(Status(rc), mark))
	}
	vm.settle(nil)
	defer s.Restore(mark)

	n := s.Used() - int(mark)
	results := make([]*Ref[Value], 0, n)
	for slot := int(mark); slot < int(mark)+n; slot++ {
		r, err := refSlot[Value](t, slot)
		if err != nil {
			ReleaseAll(results)
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// newObject runs a native constructor that pushes one value and anchors it.
func newObject[T Value](t *Thread, create func() C.int) (*Ref[T], error) {
	s := t.Stack()
	mark := s.Save()
	if err := t.reserve(1); err != nil {
		return nil, err
	}
	if st := Status(create()); st != StatusOK {
		return nil, t.capture(st, mark)
	}
	defer s.Restore(mark)
	return refSlot[T](t, int(mark))
}

// NewString creates a string.
func (t *Thread) NewString(s string) (*Ref[String], error) {
	return t.NewBytes(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// NewBytes creates a string holding a copy of b.
func (t *Thread) NewBytes(b []byte) (*Ref[String], error) {
	size, err := cSize(len(b))
	if err != nil {
		return nil, err
	}
	return newObject[String](t, func() C.int {
		var p *C.char
		if len(b) > 0 {
			p = (*C.char)(unsafe.Pointer(&b[0]))
		}
		return C.glue_newstring(t.l, p, size)
	})
}

// NewTable creates a table with preallocated array and hash parts.
func (t *Thread) NewTable(narr, nrec int) (*Ref[Table], error) {
	if narr < 0 || nrec < 0 {
		return nil, fmt.Errorf("vm: negative table size %d/%d", narr, nrec)
	}
	a, err := cInt(narr)
	if err != nil {
		return nil, err
	}
	h, err := cInt(nrec)
	if err != nil {
		return nil, err
	}
	return newObject[Table](t, func() C.int {
		return C.glue_newtable(t.l, a, h)
	})
}

// NewBuffer creates a zero-filled buffer of size bytes.
func (t *Thread) NewBuffer(size int) (*Ref[Buffer], error) {
	n, err := cSize(size)
	if err != nil {
		return nil, err
	}
	return newObject[Buffer](t, func() C.int {
		return C.glue_newbuffer(t.l, n)
	})
}

// NewUserdata creates a full userdata block of size bytes with the given
// tag.
func (t *Thread) NewUserdata(size, tag int) (*Ref[Userdata], error) {
	if tag < 0 || tag >= maxUserdataTag {
		return nil, fmt.Errorf("vm: userdata tag %d out of range [0, %d)", tag, maxUserdataTag)
	}
	n, err := cSize(size)
	if err != nil {
		return nil, err
	}
	return newObject[Userdata](t, func() C.int {
		return C.glue_newuserdata(t.l, n, C.int(tag))
	})
}

// NewThread creates a coroutine. Its data is derived from t's through the
// VM's DeriveThreadData, and it is sandboxed when the VM is.
func (t *Thread) NewThread() (*Ref[Coroutine], error) {
	vm := t.VM()
	s := t.Stack()
	mark := s.Save()
	if err := t.reserve(1); err != nil {
		return nil, err
	}

	child, st := protect(func(out **C.lua_State) C.int {
		return C.glue_newthread(t.l, out)
	})
	if st != StatusOK {
		return nil, vm.settle(t.capture(st, mark))
	}
	vm.settle(nil)
	defer s.Restore(mark)

	// The coroutine is unreachable once the stack is restored, so on this
	// failure the collector reclaims it and its data.
	if vm.cfg.Sandbox {
		if st := Status(C.glue_sandboxthread(child)); st != StatusOK {
			return nil, (&Thread{l: child}).capture(st, 0)
		}
	}
	return refSlot[Coroutine](t, int(mark))
}
