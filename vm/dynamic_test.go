package vm

import (
	"math"
	"strings"
	"testing"
)

func TestFromRawInline(t *testing.T) {
	tests := []struct {
		raw  RawValue
		want Value
	}{
		{RawNil(), Nil{}},
		{RawBoolean(true), Boolean(true)},
		{RawNumber(2.5), Number(2.5)},
		{RawVector(1, 2, 3), Vector{1, 2, 3}},
		{RawLightUserdata(7, 1), LightUserdata{Ptr: 7, Tag: 1}},
	}
	for _, tt := range tests {
		got := FromRaw(tt.raw)
		if got != tt.want {
			t.Errorf("FromRaw(%v) = %#v, want %#v", tt.raw, got, tt.want)
		}
		if got.Kind() != tt.raw.Tag() {
			t.Errorf("Kind() = %s, want %s", got.Kind(), tt.raw.Tag())
		}
		if !got.Raw().Equal(tt.raw) {
			t.Errorf("Raw() of %#v does not round-trip", got)
		}
	}
}

func TestFromRawInvalidTagPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FromRaw accepted an internal tag")
		}
	}()
	FromRaw(RawValue{tag: 42})
}

func TestAsHelpers(t *testing.T) {
	var v Value = Number(3)
	if _, ok := AsString(v); ok {
		t.Error("AsString accepted a number")
	}
	if n, ok := AsNumber(v); !ok || n != 3 {
		t.Errorf("AsNumber = %v, %v", n, ok)
	}
	if _, ok := As[Boolean](v); ok {
		t.Error("As[Boolean] accepted a number")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Nil{}, "nil"},
		{Boolean(false), "false"},
		{Number(42), "42"},
		{Number(0.1), "0.1"},
		{Number(1.0 / 3), "0.3333333333333333"},
		{Number(0.1 + 0.2), "0.30000000000000004"},
		{Number(1 << 53), "9007199254740992"},
		{Number(-1.5), "-1.5"},
		{Number(1e20), "100000000000000000000"},
		{Number(1e21), "1e+21"},
		{Number(1.5e300), "1.5e+300"},
		{Number(0.000001), "0.000001"},
		{Number(1e-7), "1e-7"},
		{Number(math.Inf(1)), "inf"},
		{Number(math.Inf(-1)), "-inf"},
		{Vector{1, 2.5, 3}, "1, 2.5, 3"},
	}
	for _, tt := range tests {
		if got := Format(tt.v); got != tt.want {
			t.Errorf("Format(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatObjects(t *testing.T) {
	v := newTestVM(t, Config{})

	res, err := run(t, v.MainThread(), `return "text", {}, function() end`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer ReleaseAll(res)

	if got := Format(res[0].Get()); got != "text" {
		t.Errorf("string = %q", got)
	}
	if got := Format(res[1].Get()); !strings.HasPrefix(got, "table: 0x") {
		t.Errorf("table = %q", got)
	}
	if got := Format(res[2].Get()); !strings.HasPrefix(got, "function: 0x") {
		t.Errorf("function = %q", got)
	}
}
