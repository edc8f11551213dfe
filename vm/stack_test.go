package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Stack accessor
// ---------------------------------------------------------------------------

func TestStackBounds(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()

	if s.Len() <= 0 {
		t.Fatalf("Len() = %d, want > 0", s.Len())
	}
	if s.Used()+s.Left() != s.Len() {
		t.Errorf("Used()+Left() = %d, want Len() = %d", s.Used()+s.Left(), s.Len())
	}
}

func TestStackPushPop(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	before := s.Used()

	if err := s.Push(RawNumber(1)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push(RawBoolean(true)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if s.Used() != before+2 {
		t.Fatalf("Used() = %d, want %d", s.Used(), before+2)
	}

	top, ok := s.Top()
	if !ok || !top.Boolean() {
		t.Errorf("Top() = %v, %v", top, ok)
	}
	bottom, ok := s.Peek(before)
	if !ok || bottom.Number() != 1 {
		t.Errorf("Peek(%d) = %v, %v", before, bottom, ok)
	}

	got, err := s.Pop()
	if err != nil || !got.Boolean() {
		t.Errorf("Pop() = %v, %v", got, err)
	}
	got, err = s.Pop()
	if err != nil || got.Number() != 1 {
		t.Errorf("Pop() = %v, %v", got, err)
	}
	if s.Used() != before {
		t.Errorf("Used() = %d, want %d", s.Used(), before)
	}
}

func TestStackPopEmpty(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	s.Restore(0)

	_, err := s.Pop()
	if !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop() on empty stack = %v, want ErrStackUnderflow", err)
	}
	if _, ok := s.Peek(0); ok {
		t.Error("Peek(0) on empty stack should fail")
	}
}

func TestStackAllocFree(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	before := s.Used()

	if !s.Alloc(3) {
		t.Fatal("Alloc(3) failed")
	}
	if s.Used() != before+3 {
		t.Fatalf("Used() = %d, want %d", s.Used(), before+3)
	}

	vals, ok := s.Free(3)
	if !ok || len(vals) != 3 {
		t.Fatalf("Free(3) = %v, %v", vals, ok)
	}
	for i, val := range vals {
		if val.Tag() != TagNil {
			t.Errorf("allocated slot %d = %s, want nil", i, val.Tag())
		}
	}
	if s.Used() != before {
		t.Errorf("Used() = %d, want %d", s.Used(), before)
	}

	if s.Alloc(s.Left() + 1) {
		t.Error("Alloc beyond Left() should fail")
	}
	if _, ok := s.Free(s.Used() + 1); ok {
		t.Error("Free beyond Used() should fail")
	}
	if s.Used() != before {
		t.Errorf("failed Alloc/Free moved the top: %d, want %d", s.Used(), before)
	}
}

func TestStackFreeOrder(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	mark := s.Save()
	defer s.Restore(mark)

	for i := 1; i <= 3; i++ {
		if err := s.Push(RawNumber(float64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	vals, ok := s.Free(2)
	if !ok {
		t.Fatal("Free(2) failed")
	}
	if vals[0].Number() != 2 || vals[1].Number() != 3 {
		t.Errorf("Free(2) = %v, want [2 3]", vals)
	}
}

func TestStackOverflowGuard(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	mark := s.Save()

	n := s.Left()
	for i := 0; i < n; i++ {
		if err := s.Push(RawNumber(float64(i))); err != nil {
			t.Fatalf("Push %d of %d: %v", i, n, err)
		}
	}
	if err := s.Push(RawNil()); !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("Push past the frame = %v, want ErrStackOverflow", err)
	}
	if s.Left() != 0 {
		t.Errorf("failed Push changed Left() to %d", s.Left())
	}

	// Contents are intact.
	last, ok := s.Top()
	if !ok || last.Number() != float64(n-1) {
		t.Errorf("Top() = %v, %v, want %d", last, ok, n-1)
	}

	s.Restore(mark)
	if s.Used() != int(mark) {
		t.Errorf("Used() after restore = %d, want %d", s.Used(), mark)
	}
}

func TestStackSaveRestore(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	before := s.Used()

	wantErr := errors.New("inner")
	err := s.SaveRestore(func() error {
		s.Push(RawNumber(1))
		s.Push(RawNumber(2))
		return wantErr
	})
	if err != wantErr {
		t.Errorf("SaveRestore returned %v, want %v", err, wantErr)
	}
	if s.Used() != before {
		t.Errorf("Used() = %d, want %d", s.Used(), before)
	}
}

func TestStackSaveRestorePanic(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	before := s.Used()

	func() {
		defer func() { recover() }()
		s.SaveRestore(func() error {
			s.Push(RawNumber(1))
			panic("boom")
		})
	}()

	if s.Used() != before {
		t.Errorf("Used() after panic = %d, want %d", s.Used(), before)
	}
}

func TestStackRestoreAboveTopFillsNil(t *testing.T) {
	v := newTestVM(t, Config{})
	s := v.MainThread().Stack()
	mark := s.Save()
	defer s.Restore(mark)

	s.Restore(mark + 2)
	for slot := int(mark); slot < int(mark)+2; slot++ {
		val, ok := s.Peek(slot)
		if !ok || val.Tag() != TagNil {
			t.Errorf("slot %d = %v, %v, want nil", slot, val, ok)
		}
	}
}
