// Package compiler binds the Luau compiler: source text in, bytecode out.
package compiler

/*
#cgo CXXFLAGS: -std=c++17 -fexceptions
#cgo CXXFLAGS: -I${SRCDIR}/../third_party/luau/Common/include
#cgo CXXFLAGS: -I${SRCDIR}/../third_party/luau/Ast/include
#cgo CXXFLAGS: -I${SRCDIR}/../third_party/luau/Compiler/include
#cgo LDFLAGS: -L${SRCDIR}/../third_party/luau/build -lLuau.Compiler -lLuau.Ast -lstdc++ -lm
#include <stdlib.h>
#include "glue.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"fortio.org/safecast"
)

// ErrInternal wraps failures of the compiler itself, as opposed to problems
// with the source.
var ErrInternal = errors.New("compiler: internal error")

// cOptions holds the C copies of an Options value. free must be called.
type cOptions struct {
	c     C.glue_CompileOptions
	owned []*C.char
}

func newCOptions(o Options) *cOptions {
	co := &cOptions{}
	co.c.optimizationLevel = C.int(o.OptimizationLevel)
	co.c.debugLevel = C.int(o.DebugLevel)
	co.c.typeInfoLevel = C.int(o.TypeInfoLevel)
	co.c.coverageLevel = C.int(o.CoverageLevel)
	co.c.vectorLib = co.str(o.VectorLib)
	co.c.vectorCtor = co.str(o.VectorCtor)
	co.c.vectorType = co.str(o.VectorType)
	return co
}

func (co *cOptions) str(s string) *C.char {
	if s == "" {
		return nil
	}
	p := C.CString(s)
	co.owned = append(co.owned, p)
	return p
}

func (co *cOptions) free() {
	for _, p := range co.owned {
		C.free(unsafe.Pointer(p))
	}
	co.owned = nil
}

func cParseOptions(p ParseOptions) C.glue_ParseOptions {
	var c C.glue_ParseOptions
	if p.AllowDeclarationSyntax {
		c.allowDeclarationSyntax = 1
	}
	if p.CaptureComments {
		c.captureComments = 1
	}
	return c
}

// cSource returns a C view of source. The view aliases Go memory and must
// not outlive the call it is passed to.
func cSource(source string) (*C.char, C.size_t, error) {
	n, err := safecast.Conv[uint64](len(source))
	if err != nil {
		return nil, 0, fmt.Errorf("compiler: source length: %w", err)
	}
	if n == 0 {
		return nil, 0, nil
	}
	return (*C.char)(unsafe.Pointer(unsafe.StringData(source))), C.size_t(n), nil
}

func goString(p *C.char, n C.size_t) string {
	if p == nil || n == 0 {
		return ""
	}
	l, err := safecast.Conv[int](uint64(n))
	if err != nil {
		panic(fmt.Sprintf("compiler: native length %d overflows int", uint64(n)))
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), l))
}

func goSpan(s C.glue_Span) Span {
	return Span{
		Start: Position{Line: uint32(s.beginLine), Column: uint32(s.beginColumn)},
		End:   Position{Line: uint32(s.endLine), Column: uint32(s.endColumn)},
	}
}

// Compile turns source into bytecode. Source problems come back as
// *ParseErrors or *CompileError; identical inputs always produce identical
// bytecode.
func Compile(source string, opts Options, parse ParseOptions) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	src, n, err := cSource(source)
	if err != nil {
		return nil, err
	}
	co := newCOptions(opts)
	defer co.free()
	po := cParseOptions(parse)

	res := C.glue_compile(src, n, &co.c, &po)
	defer C.glue_compile_free(&res)

	diags := make([]Diagnostic, 0, int(res.ndiags))
	if res.ndiags > 0 {
		for _, d := range unsafe.Slice(res.diags, int(res.ndiags)) {
			diags = append(diags, Diagnostic{Message: goString(d.message, d.len), Span: goSpan(d.span)})
		}
	}

	switch res.kind {
	case C.GLUE_COMPILE_OK:
		return []byte(goString(res.bytecode, res.len)), nil
	case C.GLUE_COMPILE_PARSE:
		return nil, &ParseErrors{Errors: diags}
	case C.GLUE_COMPILE_ERROR:
		if len(diags) == 0 {
			return nil, &CompileError{}
		}
		return nil, &CompileError{Diagnostic: diags[0]}
	}
	if len(diags) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInternal, diags[0].Message)
	}
	return nil, ErrInternal
}

// CompileSneakily never fails on bad source: the errors are encoded into
// bytecode that raises them when loaded. It returns nil only if the
// compiler itself fails.
func CompileSneakily(source string, opts Options, parse ParseOptions) []byte {
	src, n, err := cSource(source)
	if err != nil {
		return nil
	}
	co := newCOptions(opts)
	defer co.free()
	po := cParseOptions(parse)

	var outLen C.size_t
	out := C.glue_compile_sneakily(src, n, &co.c, &po, &outLen)
	if out == nil {
		return nil
	}
	defer C.glue_free(unsafe.Pointer(out))
	return []byte(goString(out, outLen))
}

// IsErrorBytecode reports whether b encodes a compile error rather than a
// program. Such bytecode starts with a zero version byte followed by the
// message.
func IsErrorBytecode(b []byte) bool {
	return len(b) > 0 && b[0] == 0
}

// ErrorMessage extracts the message from error bytecode.
func ErrorMessage(b []byte) (string, bool) {
	if !IsErrorBytecode(b) {
		return "", false
	}
	return string(b[1:]), true
}
