package vm

/*
#cgo CXXFLAGS: -std=c++17 -fexceptions
#cgo CXXFLAGS: -I${SRCDIR}/../third_party/luau/Common/include
#cgo CXXFLAGS: -I${SRCDIR}/../third_party/luau/VM/include
#cgo CXXFLAGS: -I${SRCDIR}/../third_party/luau/VM/src
#cgo LDFLAGS: -L${SRCDIR}/../third_party/luau/build -lLuau.VM -lstdc++ -lm
#include <stdlib.h>
#include "glue.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"fortio.org/safecast"
)

// cInt narrows a Go length or count to a C int.
func cInt(n int) (C.int, error) {
	v, err := safecast.Conv[int32](n)
	if err != nil {
		return 0, fmt.Errorf("vm: %d does not fit a C int: %w", n, err)
	}
	return C.int(v), nil
}

// cSize widens a non-negative Go length to size_t.
func cSize(n int) (C.size_t, error) {
	v, err := safecast.Conv[uint64](n)
	if err != nil {
		return 0, fmt.Errorf("vm: invalid size %d: %w", n, err)
	}
	return C.size_t(v), nil
}

// goLen converts a native size_t length back to an int.
func goLen(n C.size_t) int {
	v, err := safecast.Conv[int](uint64(n))
	if err != nil {
		panic(fmt.Sprintf("vm: native length %d overflows int", uint64(n)))
	}
	return v
}

// goBytes copies n bytes of native memory.
func goBytes(p unsafe.Pointer, n C.size_t) []byte {
	if p == nil || n == 0 {
		return []byte{}
	}
	out := make([]byte, goLen(n))
	copy(out, unsafe.Slice((*byte)(p), len(out)))
	return out
}
