package vm

/*
#include "glue.h"
*/
import "C"

import "runtime/cgo"

// Native callbacks. They run on VM frames with no Go caller to return an
// error to, so failures are recorded on the VM and panics never escape.

// goUserThread returns nil, or a C string the glue frees after raising it
// as a Lua error on the parent thread.
//
//export goUserThread
func goUserThread(parent, child *C.lua_State) *C.char {
	v := vmOf(child)

	if parent == nil {
		h := C.glue_threaddata(child)
		if h == 0 {
			return nil
		}
		C.glue_setthreaddata(child, 0)
		handle := cgo.Handle(h)
		data := handle.Value()
		handle.Delete()
		v.releaseThreadData(data)
		return nil
	}

	data, err := v.deriveThreadData(&Thread{l: parent})
	if err != nil {
		// The half-built coroutine is dropped with the error and freed
		// without data.
		v.raise(err)
		return C.CString(err.Error())
	}
	C.glue_setthreaddata(child, C.uintptr_t(cgo.NewHandle(data)))
	return nil
}

//export goInterrupt
func goInterrupt(l *C.lua_State) C.int {
	v := vmOf(l)
	if v.interrupt == nil {
		return 0
	}
	if v.interrupted(&Thread{l: l}) {
		return 1
	}
	return 0
}
