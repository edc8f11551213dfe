package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Options control code generation.
type Options struct {
	// OptimizationLevel: 0 none, 1 baseline (default), 2 aggressive
	// (inlining, loop unrolling; may hurt debuggability).
	OptimizationLevel int

	// DebugLevel: 0 none, 1 line info and function names (default), 2 full
	// debug info with local and upvalue names.
	DebugLevel int

	// TypeInfoLevel: 0 native modules only (default), 1 all modules.
	TypeInfoLevel int

	// CoverageLevel: 0 none (default), 1 statements, 2 statements and
	// expressions.
	CoverageLevel int

	// Vector constructor recognized as a builtin, as VectorLib.VectorCtor or
	// as a global VectorCtor when VectorLib is empty.
	VectorLib  string
	VectorCtor string

	// VectorType names the vector type in type annotations.
	VectorType string
}

// DefaultOptions returns the compiler's default levels.
func DefaultOptions() Options {
	return Options{
		OptimizationLevel: 1,
		DebugLevel:        1,
	}
}

// Validate reports levels outside their documented ranges.
func (o Options) Validate() error {
	check := func(name string, v, max int) error {
		if v < 0 || v > max {
			return fmt.Errorf("compiler: %s %d out of range [0, %d]", name, v, max)
		}
		return nil
	}
	if err := check("optimization level", o.OptimizationLevel, 2); err != nil {
		return err
	}
	if err := check("debug level", o.DebugLevel, 2); err != nil {
		return err
	}
	if err := check("type info level", o.TypeInfoLevel, 1); err != nil {
		return err
	}
	return check("coverage level", o.CoverageLevel, 2)
}

// Fingerprint is a stable string that changes whenever the options would
// change the generated bytecode.
func (o Options) Fingerprint() string {
	var b strings.Builder
	b.WriteString("O")
	b.WriteString(strconv.Itoa(o.OptimizationLevel))
	b.WriteString("g")
	b.WriteString(strconv.Itoa(o.DebugLevel))
	b.WriteString("t")
	b.WriteString(strconv.Itoa(o.TypeInfoLevel))
	b.WriteString("c")
	b.WriteString(strconv.Itoa(o.CoverageLevel))
	for _, s := range []string{o.VectorLib, o.VectorCtor, o.VectorType} {
		b.WriteByte(';')
		b.WriteString(strconv.Quote(s))
	}
	return b.String()
}

// ParseOptions control the parser.
type ParseOptions struct {
	// AllowDeclarationSyntax accepts `declare` statements, as used in
	// definition files.
	AllowDeclarationSyntax bool

	// CaptureComments keeps comment locations; only useful to tooling.
	CaptureComments bool
}
