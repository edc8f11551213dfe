package vm

/*
#include "glue.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Raw handles are non-owning views of GC-managed objects. They are only
// safe to read while the object is anchored by a stack slot or a Ref; the
// collector owns the memory and may free it at any allocation otherwise.
//
// Building a handle from a RawValue of another kind panics. Use FromRaw and
// the As helpers for checked access.

// RawString is a view of a string object.
type RawString struct{ v RawValue }

// RawTable is a view of a table object.
type RawTable struct{ v RawValue }

// RawClosure is a view of a function object.
type RawClosure struct{ v RawValue }

// RawUserdata is a view of a full userdata object.
type RawUserdata struct{ v RawValue }

// RawThread is a view of a thread (coroutine) object.
type RawThread struct{ v RawValue }

// RawBuffer is a view of a buffer object.
type RawBuffer struct{ v RawValue }

// RawString projects v as a string object.
func (v RawValue) RawString() RawString { v.expect(TagString); return RawString{v} }

// RawTable projects v as a table object.
func (v RawValue) RawTable() RawTable { v.expect(TagTable); return RawTable{v} }

// RawClosure projects v as a function object.
func (v RawValue) RawClosure() RawClosure { v.expect(TagFunction); return RawClosure{v} }

// RawUserdata projects v as a userdata object.
func (v RawValue) RawUserdata() RawUserdata { v.expect(TagUserdata); return RawUserdata{v} }

// RawThread projects v as a thread object.
func (v RawValue) RawThread() RawThread { v.expect(TagThread); return RawThread{v} }

// RawBuffer projects v as a buffer object.
func (v RawValue) RawBuffer() RawBuffer { v.expect(TagBuffer); return RawBuffer{v} }

func (v *RawValue) c() *C.glue_Value {
	return (*C.glue_Value)(unsafe.Pointer(v))
}

func (s RawString) Raw() RawValue { return s.v }

// Bytes copies the string contents.
func (s RawString) Bytes() []byte {
	var n C.size_t
	p := C.glue_string(s.v.c(), &n)
	return goBytes(unsafe.Pointer(p), n)
}

// Len returns the string length in bytes.
func (s RawString) Len() int {
	var n C.size_t
	C.glue_string(s.v.c(), &n)
	return goLen(n)
}

func (t RawTable) Raw() RawValue { return t.v }

// Len returns the border of the table's array part, as the # operator
// would without metamethods.
func (t RawTable) Len() int {
	return int(C.glue_objlen(t.v.c()))
}

func (f RawClosure) Raw() RawValue { return f.v }

func (u RawUserdata) Raw() RawValue { return u.v }

// Tag returns the userdata tag given at creation.
func (u RawUserdata) Tag() int {
	var n C.size_t
	var tag C.int
	C.glue_userdata(u.v.c(), &n, &tag)
	return int(tag)
}

// Len returns the size of the userdata block.
func (u RawUserdata) Len() int {
	var n C.size_t
	var tag C.int
	C.glue_userdata(u.v.c(), &n, &tag)
	return goLen(n)
}

// Bytes copies the userdata block.
func (u RawUserdata) Bytes() []byte {
	var n C.size_t
	var tag C.int
	p := C.glue_userdata(u.v.c(), &n, &tag)
	return goBytes(p, n)
}

func (t RawThread) Raw() RawValue { return t.v }

// Thread returns an operable handle for the coroutine. It stays valid only
// while the coroutine is anchored.
func (t RawThread) Thread() *Thread {
	return &Thread{l: C.glue_thread(t.v.c())}
}

func (b RawBuffer) Raw() RawValue { return b.v }

// Len returns the buffer size in bytes.
func (b RawBuffer) Len() int {
	var n C.size_t
	C.glue_buffer(b.v.c(), &n)
	return goLen(n)
}

// Bytes copies the buffer contents.
func (b RawBuffer) Bytes() []byte {
	var n C.size_t
	p := C.glue_buffer(b.v.c(), &n)
	return goBytes(p, n)
}

// Store copies p into the buffer at offset off.
func (b RawBuffer) Store(off int, p []byte) error {
	var n C.size_t
	dst := C.glue_buffer(b.v.c(), &n)
	size := goLen(n)
	if off < 0 || off > size || len(p) > size-off {
		return fmt.Errorf("vm: buffer store [%d:%d] out of range for size %d", off, off+len(p), size)
	}
	copy(unsafe.Slice((*byte)(dst), size)[off:], p)
	return nil
}
