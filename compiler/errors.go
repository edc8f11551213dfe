package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Diagnostic is one message anchored to a span of the source.
type Diagnostic struct {
	Message string
	Span    Span
}

func (d Diagnostic) String() string {
	return d.Span.String() + ": " + d.Message
}

// ParseErrors is returned when the source does not parse. The parser
// recovers, so there may be several.
type ParseErrors struct {
	Errors []Diagnostic
}

func (e *ParseErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "parse failed"
	case 1:
		return "parse error at " + e.Errors[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d parse errors:", len(e.Errors))
	for _, d := range e.Errors {
		b.WriteString("\n  ")
		b.WriteString(d.String())
	}
	return b.String()
}

// CompileError is returned when the source parses but cannot be compiled,
// for example when a function has too many registers.
type CompileError struct {
	Diagnostic
}

func (e *CompileError) Error() string {
	return "compile error at " + e.Diagnostic.String()
}

// Diagnostics flattens a compile failure, possibly wrapped, into its
// diagnostics. Other errors yield nil.
func Diagnostics(err error) []Diagnostic {
	var pe *ParseErrors
	if errors.As(err, &pe) {
		return pe.Errors
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		return []Diagnostic{ce.Diagnostic}
	}
	return nil
}
