package vm

import (
	"math"
	"testing"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Tag classification
// ---------------------------------------------------------------------------

func TestTagClassification(t *testing.T) {
	tests := []struct {
		tag         Tag
		valueType   bool
		collectible bool
		name        string
	}{
		{TagNil, true, false, "nil"},
		{TagBoolean, true, false, "boolean"},
		{TagLightUserdata, true, false, "lightuserdata"},
		{TagNumber, true, false, "number"},
		{TagVector, true, false, "vector"},
		{TagString, false, true, "string"},
		{TagTable, false, true, "table"},
		{TagFunction, false, true, "function"},
		{TagUserdata, false, true, "userdata"},
		{TagThread, false, true, "thread"},
		{TagBuffer, false, true, "buffer"},
	}

	for _, tc := range tests {
		if got := tc.tag.IsValueType(); got != tc.valueType {
			t.Errorf("%s.IsValueType() = %v, want %v", tc.name, got, tc.valueType)
		}
		if got := tc.tag.IsCollectible(); got != tc.collectible {
			t.Errorf("%s.IsCollectible() = %v, want %v", tc.name, got, tc.collectible)
		}
		if got := tc.tag.String(); got != tc.name {
			t.Errorf("Tag(%d).String() = %q, want %q", tc.tag, got, tc.name)
		}
	}

	if Tag(11).Valid() {
		t.Error("internal tag 11 should not be valid")
	}
	if Tag(11).IsValueType() || Tag(11).IsCollectible() {
		t.Error("internal tag should be neither value type nor collectible")
	}
}

func TestRawValueSize(t *testing.T) {
	var v RawValue
	if got := int(unsafe.Sizeof(v)); got != rawValueSize {
		t.Fatalf("sizeof(RawValue) = %d, want %d", got, rawValueSize)
	}
}

// ---------------------------------------------------------------------------
// Scalar round trips
// ---------------------------------------------------------------------------

func TestRawNumberRoundTrip(t *testing.T) {
	for _, f := range []float64{0, -0.0, 1, -1, 3.5, math.MaxFloat64, math.Inf(1), math.Inf(-1)} {
		v := RawNumber(f)
		if v.Tag() != TagNumber {
			t.Fatalf("RawNumber(%v).Tag() = %s", f, v.Tag())
		}
		if got := v.Number(); got != f {
			t.Errorf("RawNumber(%v).Number() = %v", f, got)
		}
	}
	if !math.IsNaN(RawNumber(math.NaN()).Number()) {
		t.Error("NaN round trip failed")
	}
}

func TestRawBoolean(t *testing.T) {
	if !RawBoolean(true).Boolean() {
		t.Error("RawBoolean(true).Boolean() = false")
	}
	if RawBoolean(false).Boolean() {
		t.Error("RawBoolean(false).Boolean() = true")
	}

	// Only the low word carries the C int.
	v := RawBoolean(false)
	v.data |= 0xdeadbeef00000000
	if v.Boolean() {
		t.Error("upper half of the payload should be ignored")
	}
	if !v.Equal(RawBoolean(false)) {
		t.Error("booleans with different padding should be equal")
	}
}

func TestRawVector(t *testing.T) {
	v := RawVector(1.5, -2, 3.25)
	x, y, z := v.Vector()
	if x != 1.5 || y != -2 || z != 3.25 {
		t.Errorf("Vector() = %v, %v, %v", x, y, z)
	}
	if v.String() != "1.5, -2, 3.25" {
		t.Errorf("String() = %q", v.String())
	}
}

func TestRawLightUserdata(t *testing.T) {
	v := RawLightUserdata(0x1234, 7)
	p, tag := v.LightUserdata()
	if p != 0x1234 || tag != 7 {
		t.Errorf("LightUserdata() = %#x, %d", p, tag)
	}
	if v.Equal(RawLightUserdata(0x1234, 8)) {
		t.Error("light userdata with different tags should differ")
	}
}

func TestRawProjectionMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Number() on a boolean should panic")
		}
	}()
	RawBoolean(true).Number()
}

func TestRawCollectibleProjectionMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("RawTable() on a number should panic")
		}
	}()
	RawNumber(1).RawTable()
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		1:           "1",
		-0.5:        "-0.5",
		1e20:        "100000000000000000000",
		1e22:        "1e+22",
		2.5e-9:      "2.5e-9",
		math.Inf(1): "inf",
	}
	for n, want := range tests {
		if got := Format(Number(n)); got != want {
			t.Errorf("Format(%v) = %q, want %q", n, got, want)
		}
	}
}
