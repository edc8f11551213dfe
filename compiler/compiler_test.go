package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCompileIdempotent(t *testing.T) {
	src := `local function fib(n) if n < 2 then return n end return fib(n-1) + fib(n-2) end return fib(10)`

	a, err := Compile(src, DefaultOptions(), ParseOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := Compile(src, DefaultOptions(), ParseOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(a) == 0 {
		t.Fatal("empty bytecode")
	}
	if !bytes.Equal(a, b) {
		t.Error("compiling the same source twice gave different bytecode")
	}
	if IsErrorBytecode(a) {
		t.Error("valid program compiled to error bytecode")
	}
}

func TestCompileOptionsChangeOutput(t *testing.T) {
	src := "local x = 1\nreturn x + 2"

	plain, err := Compile(src, Options{DebugLevel: 0}, ParseOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	debug, err := Compile(src, Options{DebugLevel: 2}, ParseOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if bytes.Equal(plain, debug) {
		t.Error("debug level had no effect on bytecode")
	}
}

func TestCompileEmptySource(t *testing.T) {
	bc, err := Compile("", DefaultOptions(), ParseOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(bc) == 0 {
		t.Error("empty source produced no bytecode")
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Compile("local\nprint(x)", DefaultOptions(), ParseOptions{})

	var pe *ParseErrors
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseErrors", err)
	}
	if len(pe.Errors) == 0 {
		t.Fatal("no diagnostics")
	}
	d := pe.Errors[0]
	if d.Message == "" {
		t.Error("diagnostic has no message")
	}
	if d.Span.Start.Line != 1 {
		t.Errorf("first error on line %d, want 1", d.Span.Start.Line)
	}
	if !strings.Contains(err.Error(), "parse error") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDiagnostics(t *testing.T) {
	_, err := Compile("return +", DefaultOptions(), ParseOptions{})
	wrapped := fmt.Errorf("build main.luau: %w", err)
	if len(Diagnostics(wrapped)) == 0 {
		t.Error("Diagnostics lost the wrapped parse errors")
	}
	if Diagnostics(errors.New("other")) != nil {
		t.Error("Diagnostics of an unrelated error should be nil")
	}

	ce := &CompileError{Diagnostic: Diagnostic{Message: "too many registers"}}
	if d := Diagnostics(ce); len(d) != 1 || d[0].Message != "too many registers" {
		t.Errorf("Diagnostics(CompileError) = %v", d)
	}
}

func TestCompileSneakily(t *testing.T) {
	good := CompileSneakily("return 1", DefaultOptions(), ParseOptions{})
	want, err := Compile("return 1", DefaultOptions(), ParseOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !bytes.Equal(good, want) {
		t.Error("sneaky and normal compilation disagree on valid source")
	}

	bad := CompileSneakily("local = 1", DefaultOptions(), ParseOptions{})
	if !IsErrorBytecode(bad) {
		t.Fatalf("bad source did not produce error bytecode: %x", bad)
	}
	msg, ok := ErrorMessage(bad)
	if !ok || msg == "" {
		t.Errorf("ErrorMessage = %q, %v", msg, ok)
	}
	if _, ok := ErrorMessage(good); ok {
		t.Error("ErrorMessage accepted program bytecode")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", DefaultOptions(), true},
		{"max", Options{OptimizationLevel: 2, DebugLevel: 2, TypeInfoLevel: 1, CoverageLevel: 2}, true},
		{"optimization", Options{OptimizationLevel: 3}, false},
		{"debug negative", Options{DebugLevel: -1}, false},
		{"type info", Options{TypeInfoLevel: 2}, false},
		{"coverage", Options{CoverageLevel: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	if _, err := Compile("return 1", Options{OptimizationLevel: 9}, ParseOptions{}); err == nil {
		t.Error("Compile accepted invalid options")
	}
}

func TestFingerprint(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal options have different fingerprints")
	}
	b.VectorCtor = "vec"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("vector constructor not reflected in fingerprint")
	}
	c := DefaultOptions()
	c.OptimizationLevel = 2
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("optimization level not reflected in fingerprint")
	}
}

func TestSpan(t *testing.T) {
	s := Span{Start: Position{1, 2}, End: Position{1, 6}}
	if got := s.String(); got != "(1,2)..(1,6)" {
		t.Errorf("String() = %q", got)
	}
	if !s.Contains(Position{1, 2}) || !s.Contains(Position{1, 5}) {
		t.Error("span should contain its interior")
	}
	if s.Contains(Position{1, 6}) || s.Contains(Position{0, 9}) {
		t.Error("span should exclude its end and earlier lines")
	}
	point := Span{Start: Position{3, 0}, End: Position{3, 0}}
	if !point.Contains(Position{3, 0}) {
		t.Error("zero-width span should contain its start")
	}
}
