package vm

/*
#include "glue.h"
*/
import "C"

import (
	"errors"
	"fmt"
)

// Status mirrors lua_Status.
type Status int

const (
	StatusOK Status = iota
	StatusYield
	StatusErrRun
	StatusErrSyntax
	StatusErrMem
	StatusErrErr
	StatusBreak
)

var statusNames = [...]string{
	StatusOK:        "ok",
	StatusYield:     "yield",
	StatusErrRun:    "runtime error",
	StatusErrSyntax: "syntax error",
	StatusErrMem:    "out of memory",
	StatusErrErr:    "error in error handling",
	StatusBreak:     "break",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrorKind classifies an Error.
type ErrorKind int

const (
	Runtime ErrorKind = iota + 1
	Syntax
	OutOfMemory
	DoubleFault
	StackOverflow
	StackUnderflow
)

var errorKindNames = [...]string{
	Runtime:        "runtime error",
	Syntax:         "syntax error",
	OutOfMemory:    "out of memory",
	DoubleFault:    "double fault",
	StackOverflow:  "stack overflow",
	StackUnderflow: "stack underflow",
}

func (k ErrorKind) String() string {
	if k > 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is a failure reported by the VM. Runtime and Syntax errors carry
// the message the script raised; the other kinds usually carry none.
type Error struct {
	Kind    ErrorKind
	Message string

	// cause is the Go failure that raised the error from inside a
	// callback, if any.
	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Is matches another *Error of the same kind. A target with a message must
// match the message too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Unwrap returns the callback failure behind the error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

var (
	ErrOutOfMemory    = &Error{Kind: OutOfMemory}
	ErrDoubleFault    = &Error{Kind: DoubleFault}
	ErrStackOverflow  = &Error{Kind: StackOverflow}
	ErrStackUnderflow = &Error{Kind: StackUnderflow}
)

// Signal is a control-flow outcome that is not a failure: the script asked
// to suspend, or a debugger break was hit. CallSync cannot resume either.
type Signal struct {
	Status Status
}

func (s *Signal) Error() string {
	switch s.Status {
	case StatusYield:
		return "thread yielded in a synchronous call"
	case StatusBreak:
		return "thread stopped at a breakpoint"
	}
	return "thread signalled " + s.Status.String()
}

var (
	ErrYielded = &Signal{Status: StatusYield}
	ErrBreak   = &Signal{Status: StatusBreak}
)

var (
	ErrAllocation   = errors.New("vm: cannot allocate a new state")
	ErrForeignValue = errors.New("vm: value belongs to another VM")
	ErrClosed       = errors.New("vm: closed")
	ErrThreadBusy   = errors.New("vm: thread is already running a call")
)

// ---------------------------------------------------------------------------
// Status plumbing
// ---------------------------------------------------------------------------

// protect runs a native call that writes its result through out and returns
// a status alongside it.
func protect[T any](write func(out *T) C.int) (T, Status) {
	var out T
	st := Status(write(&out))
	return out, st
}

// capture converts a failed status into an error. Runtime and syntax errors
// take their message from the top of the stack when the failed call left a
// value above mark; a value that is not a string degrades to DoubleFault.
// The stack is restored to mark in every case.
func (t *Thread) capture(st Status, mark Mark) error {
	s := t.Stack()
	defer s.Restore(mark)

	switch st {
	case StatusOK:
		return nil
	case StatusErrRun, StatusErrSyntax:
		kind := Runtime
		if st == StatusErrSyntax {
			kind = Syntax
		}
		if s.Used() <= int(mark) {
			return &Error{Kind: kind}
		}
		top, _ := s.Peek(s.Used() - 1)
		if top.Tag() != TagString {
			return &Error{Kind: DoubleFault, Message: "error object is a " + top.Tag().String() + " value"}
		}
		return &Error{Kind: kind, Message: string(top.RawString().Bytes())}
	case StatusErrMem:
		return ErrOutOfMemory
	case StatusErrErr:
		return ErrDoubleFault
	case StatusYield:
		return ErrYielded
	case StatusBreak:
		return ErrBreak
	}
	return fmt.Errorf("vm: unexpected native status %d", int(st))
}
