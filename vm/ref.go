package vm

/*
#include "glue.h"
*/
import "C"

import "fmt"

const noRef = -1 // LUA_NOREF

// Ref anchors a value in the VM registry. While the Ref is live the
// collector cannot free the referenced object, whatever else still points
// to it. Inline kinds need no anchor and are stored in the Ref directly.
//
// Refs are not finalized: call Release when done. A Ref must not be used
// after Release or after its VM is closed.
type Ref[T Value] struct {
	vm       *VM
	handle   int
	inline   RawValue
	released bool
}

// newRef anchors v through t's stack. It needs one free slot in the
// current frame and fails with ErrStackOverflow, changing nothing, when
// there is none.
func newRef[T Value](t *Thread, v RawValue) (*Ref[T], error) {
	if err := checkKind[T](v); err != nil {
		return nil, err
	}
	if v.IsValueType() {
		return &Ref[T]{vm: t.VM(), handle: noRef, inline: v}, nil
	}

	s := t.Stack()
	mark := s.Save()
	if err := s.Push(v); err != nil {
		return nil, err
	}
	r, err := refSlot[T](t, int(mark))
	s.Restore(mark)
	return r, err
}

// refSlot anchors the value held in a stack slot. The stack is unchanged on
// success.
func refSlot[T Value](t *Thread, slot int) (*Ref[T], error) {
	s := t.Stack()
	v, ok := s.Peek(slot)
	if !ok {
		return nil, ErrStackUnderflow
	}
	if err := checkKind[T](v); err != nil {
		return nil, err
	}
	if v.IsValueType() {
		return &Ref[T]{vm: t.VM(), handle: noRef, inline: v}, nil
	}

	mark := s.Save()
	handle, st := protect(func(out *C.int) C.int {
		return C.glue_ref(t.l, C.int(slot), out)
	})
	if st != StatusOK {
		return nil, t.capture(st, mark)
	}
	return &Ref[T]{vm: t.VM(), handle: int(handle)}, nil
}

func checkKind[T Value](v RawValue) error {
	if !v.Tag().Valid() {
		return fmt.Errorf("vm: cannot anchor %s", v.Tag())
	}
	if _, ok := FromRaw(v).(T); !ok {
		var want T
		return fmt.Errorf("vm: cannot anchor %s value as %T", v.Tag(), want)
	}
	return nil
}

func (r *Ref[T]) check() {
	if r.released {
		panic("vm: use of released ref")
	}
	if r.vm.closed {
		panic("vm: use of ref after VM close")
	}
}

// Raw reads the current value from the registry.
func (r *Ref[T]) Raw() RawValue {
	r.check()
	if r.handle == noRef {
		return r.inline
	}
	var v RawValue
	C.glue_getref(r.vm.main, C.int(r.handle), v.c())
	return v
}

// Get returns the typed value.
func (r *Ref[T]) Get() T {
	v, ok := FromRaw(r.Raw()).(T)
	if !ok {
		panic(fmt.Sprintf("vm: registry slot %d changed kind", r.handle))
	}
	return v
}

// Kind returns the tag of the referenced value.
func (r *Ref[T]) Kind() Tag { return r.Raw().Tag() }

// VM returns the VM that owns the anchor.
func (r *Ref[T]) VM() *VM { return r.vm }

// Clone anchors the referenced value again. The clone is released
// independently. Clone panics when the registry cannot take another entry.
func (r *Ref[T]) Clone() *Ref[T] {
	r.check()
	if r.handle == noRef {
		return &Ref[T]{vm: r.vm, handle: noRef, inline: r.inline}
	}
	c, err := newRef[T](r.vm.MainThread(), r.Raw())
	if err != nil {
		panic(fmt.Sprintf("vm: clone ref: %v", err))
	}
	return c
}

// Release drops the anchor. Releasing twice, or after the VM closed, is a
// no-op.
func (r *Ref[T]) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	if r.handle != noRef && !r.vm.closed {
		C.glue_unref(r.vm.main, C.int(r.handle))
	}
}

// Released reports whether Release was called.
func (r *Ref[T]) Released() bool { return r.released }

func (r *Ref[T]) String() string {
	if r.released {
		return "<released>"
	}
	if r.vm.closed {
		return "<closed>"
	}
	return Format(r.Get())
}

func (r *Ref[T]) argRaw(vm *VM) (RawValue, error) {
	r.check()
	if r.vm != vm {
		return RawValue{}, ErrForeignValue
	}
	return r.Raw(), nil
}

// Downcast moves the anchor of r into a Ref of the narrower type T. On
// success r is released without dropping the anchor; on failure r is left
// untouched.
func Downcast[T Value](r *Ref[Value]) (*Ref[T], bool) {
	if _, ok := FromRaw(r.Raw()).(T); !ok {
		return nil, false
	}
	out := &Ref[T]{vm: r.vm, handle: r.handle, inline: r.inline}
	r.released = true
	return out, true
}

// Upcast moves the anchor of r into a Ref[Value]. r is released without
// dropping the anchor.
func Upcast[T Value](r *Ref[T]) *Ref[Value] {
	r.check()
	out := &Ref[Value]{vm: r.vm, handle: r.handle, inline: r.inline}
	r.released = true
	return out
}

// ReleaseAll releases every ref in refs.
func ReleaseAll[T Value](refs []*Ref[T]) {
	for _, r := range refs {
		r.Release()
	}
}
