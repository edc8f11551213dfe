package vm

/*
#include "glue.h"
*/
import "C"

import "fmt"

// Stack is a view over one thread's evaluation stack: the slots between the
// current frame's base and its allocation limit, plus the movable top.
// Slot numbers count from the base.
//
// Any native call may reallocate the stack, so a Stack holds no addresses;
// every method reads the bounds afresh.
type Stack struct {
	l *C.lua_State
}

// Mark is a saved top position, see Save.
type Mark int

func (s Stack) bounds() (used, n int) {
	var u, l C.int
	C.glue_stack_bounds(s.l, &u, &l)
	return int(u), int(l)
}

// Len returns the number of slots in the frame.
func (s Stack) Len() int {
	_, n := s.bounds()
	return n
}

// Used returns the number of occupied slots.
func (s Stack) Used() int {
	used, _ := s.bounds()
	return used
}

// Left returns the number of free slots above the top.
func (s Stack) Left() int {
	used, n := s.bounds()
	return n - used
}

// Alloc reserves n nil slots at the top. It reports false, changing
// nothing, when fewer than n slots are left.
func (s Stack) Alloc(n int) bool {
	used, size := s.bounds()
	if n < 0 || size-used < n {
		return false
	}
	C.glue_settop(s.l, C.int(used+n))
	return true
}

// Free retracts the top by n slots and returns their prior contents, bottom
// first. It reports false, changing nothing, when fewer than n are in use.
func (s Stack) Free(n int) ([]RawValue, bool) {
	used := s.Used()
	if n < 0 || used < n {
		return nil, false
	}
	out := make([]RawValue, n)
	for i := range out {
		C.glue_peek(s.l, C.int(used-n+i), out[i].c())
	}
	C.glue_settop(s.l, C.int(used-n))
	return out, true
}

// Push places v at the top. Collectible values pass through the thread's
// write barrier first. Push never grows the stack.
func (s Stack) Push(v RawValue) error {
	if C.glue_push(s.l, v.c()) == 0 {
		return ErrStackOverflow
	}
	return nil
}

// Pop removes and returns the top value.
func (s Stack) Pop() (RawValue, error) {
	vals, ok := s.Free(1)
	if !ok {
		return RawValue{}, ErrStackUnderflow
	}
	return vals[0], nil
}

// Peek returns the value in slot without moving the top.
func (s Stack) Peek(slot int) (RawValue, bool) {
	if slot < 0 || slot >= s.Used() {
		return RawValue{}, false
	}
	var v RawValue
	C.glue_peek(s.l, C.int(slot), v.c())
	return v, true
}

// Top returns the topmost value.
func (s Stack) Top() (RawValue, bool) {
	return s.Peek(s.Used() - 1)
}

// Save returns the current top.
func (s Stack) Save() Mark {
	return Mark(s.Used())
}

// Restore moves the top back to m. Slots between the old top and m, if m
// lies above it, are filled with nil.
func (s Stack) Restore(m Mark) {
	if m < 0 || int(m) > s.Len() {
		panic(fmt.Sprintf("vm: restore to slot %d outside frame of %d", m, s.Len()))
	}
	C.glue_settop(s.l, C.int(m))
}

// SaveRestore runs f and then restores the top to where it was, whether f
// returns normally, fails or panics.
func (s Stack) SaveRestore(f func() error) error {
	m := s.Save()
	defer s.Restore(m)
	return f()
}
