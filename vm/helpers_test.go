package vm

import (
	"testing"

	"github.com/chazu/luau/compiler"
)

// newTestVM creates a VM that is closed when the test ends.
func newTestVM(t *testing.T, cfg Config) *VM {
	t.Helper()
	v, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

// loadSource compiles src with default options and loads it as chunk "=test".
func loadSource(t *testing.T, th *Thread, src string) *Ref[Function] {
	t.Helper()
	bc, err := compiler.Compile(src, compiler.DefaultOptions(), compiler.ParseOptions{})
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	fn, err := th.Load(bc, "=test")
	if err != nil {
		t.Fatalf("load %q: %v", src, err)
	}
	t.Cleanup(fn.Release)
	return fn
}

// run loads and calls src on th.
func run(t *testing.T, th *Thread, src string, args ...Arg) ([]*Ref[Value], error) {
	t.Helper()
	return th.CallSync(loadSource(t, th, src), args...)
}

// newString anchors s on th.
func newString(t *testing.T, th *Thread, s string) *Ref[String] {
	t.Helper()
	r, err := th.NewString(s)
	if err != nil {
		t.Fatalf("NewString(%q): %v", s, err)
	}
	t.Cleanup(r.Release)
	return r
}
