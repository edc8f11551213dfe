package vm

import (
	"errors"
	"testing"
)

func TestRefSurvivesCollection(t *testing.T) {
	v := newTestVM(t, Config{})
	th := v.MainThread()

	res, err := run(t, th, `return {1, 2, 3}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	tbl := res[0]
	defer tbl.Release()

	// Churn the heap so an unanchored table would be reclaimed.
	for i := 0; i < 3; i++ {
		if _, err := run(t, th, `local t = {} for i = 1, 1000 do t[i] = {} end`); err != nil {
			t.Fatalf("churn: %v", err)
		}
		v.Collect()
	}

	out, err := run(t, th, `local t = ... return #t`, tbl)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer ReleaseAll(out)
	if n, _ := AsNumber(out[0].Get()); n != 3 {
		t.Errorf("#t = %v, want 3", out[0])
	}
}

func TestRefOnFullStack(t *testing.T) {
	v := newTestVM(t, Config{})
	th := v.MainThread()
	tbl, err := th.NewTable(0, 0)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	defer tbl.Release()

	s := th.Stack()
	mark := s.Save()
	if !s.Alloc(s.Left()) {
		t.Fatal("Alloc(Left()) failed")
	}
	defer s.Restore(mark)
	full := s.Used()

	if _, err := newRef[Table](th, tbl.Raw()); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("newRef on a full stack = %v, want ErrStackOverflow", err)
	}
	if s.Used() != full || s.Left() != 0 {
		t.Errorf("stack changed: used %d left %d, want %d and 0", s.Used(), s.Left(), full)
	}
}

func TestRefHandlesUnique(t *testing.T) {
	v := newTestVM(t, Config{})
	th := v.MainThread()

	seen := make(map[int]bool)
	var refs []*Ref[String]
	for i := 0; i < 64; i++ {
		r, err := th.NewString("same")
		if err != nil {
			t.Fatalf("NewString: %v", err)
		}
		refs = append(refs, r)
		if seen[r.handle] {
			t.Fatalf("handle %d handed out twice", r.handle)
		}
		seen[r.handle] = true
	}
	ReleaseAll(refs)
}

func TestRefInlineValues(t *testing.T) {
	v := newTestVM(t, Config{})

	res, err := run(t, v.MainThread(), `return 1, true, nil`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer ReleaseAll(res)

	want := []Tag{TagNumber, TagBoolean, TagNil}
	if len(res) != len(want) {
		t.Fatalf("got %d results, want %d", len(res), len(want))
	}
	for i, w := range want {
		if res[i].Kind() != w {
			t.Errorf("result %d kind = %s, want %s", i, res[i].Kind(), w)
		}
		if res[i].handle != noRef {
			t.Errorf("inline result %d holds registry slot %d", i, res[i].handle)
		}
	}
}

func TestRefClone(t *testing.T) {
	v := newTestVM(t, Config{})

	s := newString(t, v.MainThread(), "cloned")
	c := s.Clone()
	defer c.Release()
	if c.handle == s.handle {
		t.Error("clone shares the original's registry slot")
	}

	s.Release()
	v.Collect()
	if got := c.Get().String(); got != "cloned" {
		t.Errorf("clone = %q, want cloned", got)
	}
}

func TestRefReleasedPanics(t *testing.T) {
	v := newTestVM(t, Config{})

	r, err := v.MainThread().NewString("gone")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	r.Release()
	r.Release()
	if !r.Released() {
		t.Error("Released() = false")
	}
	if r.String() != "<released>" {
		t.Errorf("String() = %q", r.String())
	}

	defer func() {
		if recover() == nil {
			t.Error("Get on a released ref did not panic")
		}
	}()
	r.Get()
}

func TestRefAfterClose(t *testing.T) {
	v, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := v.MainThread().NewString("orphan")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	v.Close()

	// Release after close is a no-op.
	r.Release()
	if r.String() != "<released>" {
		t.Errorf("String() = %q", r.String())
	}
}

func TestDowncast(t *testing.T) {
	v := newTestVM(t, Config{})

	res, err := run(t, v.MainThread(), `return {}, "s"`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer ReleaseAll(res)

	if _, ok := Downcast[String](res[0]); ok {
		t.Error("table downcast to String")
	}
	if res[0].Released() {
		t.Error("failed downcast released the source")
	}

	tbl, ok := Downcast[Table](res[0])
	if !ok {
		t.Fatal("Downcast[Table] failed")
	}
	defer tbl.Release()
	if !res[0].Released() {
		t.Error("successful downcast left the source live")
	}
	if tbl.Kind() != TagTable {
		t.Errorf("Kind() = %s", tbl.Kind())
	}
}

func TestTagRoundTrip(t *testing.T) {
	v := newTestVM(t, Config{OpenLibs: true})
	th := v.MainThread()

	str := newString(t, th, "s")
	tbl, err := th.NewTable(0, 0)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	defer tbl.Release()
	ud, err := th.NewUserdata(1, 0)
	if err != nil {
		t.Fatalf("NewUserdata: %v", err)
	}
	defer ud.Release()
	co, err := th.NewThread()
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	defer co.Release()
	buf, err := th.NewBuffer(1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer buf.Release()
	fn := loadSource(t, th, `return ...`)

	args := []Arg{
		Nil{},
		Boolean(true),
		LightUserdata{Ptr: 0x1000, Tag: 3},
		Number(1.5),
		Vector{X: 1, Y: 2, Z: 3},
		str, tbl, fn, ud, co, buf,
	}
	res, err := th.CallSync(fn, args...)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	defer ReleaseAll(res)

	if len(res) != int(TagBuffer)+1 {
		t.Fatalf("got %d results, want %d", len(res), TagBuffer+1)
	}
	for i, r := range res {
		if r.Kind() != Tag(i) {
			t.Errorf("result %d kind = %s, want %s", i, r.Kind(), Tag(i))
		}
	}

	if lu, ok := AsLightUserdata(res[2].Get()); !ok || lu.Ptr != 0x1000 || lu.Tag != 3 {
		t.Errorf("light userdata = %+v", res[2].Get())
	}
	if vec, ok := AsVector(res[4].Get()); !ok || vec != (Vector{1, 2, 3}) {
		t.Errorf("vector = %+v", res[4].Get())
	}
	if !res[5].Raw().Equal(str.Raw()) {
		t.Error("string came back as a different object")
	}
}

func TestUpcast(t *testing.T) {
	v := newTestVM(t, Config{})

	tbl, err := v.MainThread().NewTable(0, 0)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	val := Upcast(tbl)
	defer val.Release()

	if !tbl.Released() {
		t.Error("Upcast left the source live")
	}
	if val.Kind() != TagTable {
		t.Errorf("Kind() = %s", val.Kind())
	}
}
