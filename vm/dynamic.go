package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is the closed set of typed values. The only way to turn a RawValue
// into a Value is FromRaw, which picks the variant from the tag, so a
// variant never disagrees with its tag.
type Value interface {
	Kind() Tag
	Raw() RawValue
	isValue()
}

// Arg is a value that can be passed into the VM. Inline kinds are Args
// directly; collectible values must be passed through their Ref.
type Arg interface {
	argRaw(vm *VM) (RawValue, error)
}

type (
	// Nil is the nil value.
	Nil struct{}
	// Boolean is a boolean value.
	Boolean bool
	// LightUserdata is an opaque pointer with a tag.
	LightUserdata struct {
		Ptr uintptr
		Tag int32
	}
	// Number is a double-precision number.
	Number float64
	// Vector is a three-component float32 vector.
	Vector struct{ X, Y, Z float32 }

	// String is a string object.
	String struct{ RawString }
	// Table is a table object.
	Table struct{ RawTable }
	// Function is a function object (a closure).
	Function struct{ RawClosure }
	// Userdata is a full userdata object.
	Userdata struct{ RawUserdata }
	// Coroutine is a thread object.
	Coroutine struct{ RawThread }
	// Buffer is a buffer object.
	Buffer struct{ RawBuffer }
)

func (Nil) Kind() Tag           { return TagNil }
func (Boolean) Kind() Tag       { return TagBoolean }
func (LightUserdata) Kind() Tag { return TagLightUserdata }
func (Number) Kind() Tag        { return TagNumber }
func (Vector) Kind() Tag        { return TagVector }
func (String) Kind() Tag        { return TagString }
func (Table) Kind() Tag         { return TagTable }
func (Function) Kind() Tag      { return TagFunction }
func (Userdata) Kind() Tag      { return TagUserdata }
func (Coroutine) Kind() Tag     { return TagThread }
func (Buffer) Kind() Tag        { return TagBuffer }

func (Nil) isValue()           {}
func (Boolean) isValue()       {}
func (LightUserdata) isValue() {}
func (Number) isValue()        {}
func (Vector) isValue()        {}
func (String) isValue()        {}
func (Table) isValue()         {}
func (Function) isValue()      {}
func (Userdata) isValue()      {}
func (Coroutine) isValue()     {}
func (Buffer) isValue()        {}

func (Nil) Raw() RawValue             { return RawNil() }
func (b Boolean) Raw() RawValue       { return RawBoolean(bool(b)) }
func (p LightUserdata) Raw() RawValue { return RawLightUserdata(p.Ptr, p.Tag) }
func (n Number) Raw() RawValue        { return RawNumber(float64(n)) }
func (v Vector) Raw() RawValue        { return RawVector(v.X, v.Y, v.Z) }

func (n Nil) argRaw(*VM) (RawValue, error)           { return n.Raw(), nil }
func (b Boolean) argRaw(*VM) (RawValue, error)       { return b.Raw(), nil }
func (p LightUserdata) argRaw(*VM) (RawValue, error) { return p.Raw(), nil }
func (n Number) argRaw(*VM) (RawValue, error)        { return n.Raw(), nil }
func (v Vector) argRaw(*VM) (RawValue, error)        { return v.Raw(), nil }

// String returns the contents. Only valid while the string is anchored.
func (s String) String() string { return string(s.Bytes()) }

// FromRaw classifies v by tag and wraps it in the matching variant.
// It panics on tags that cannot appear outside the VM's internals.
func FromRaw(v RawValue) Value {
	switch v.Tag() {
	case TagNil:
		return Nil{}
	case TagBoolean:
		return Boolean(v.Boolean())
	case TagLightUserdata:
		p, tag := v.LightUserdata()
		return LightUserdata{Ptr: p, Tag: tag}
	case TagNumber:
		return Number(v.Number())
	case TagVector:
		x, y, z := v.Vector()
		return Vector{X: x, Y: y, Z: z}
	case TagString:
		return String{v.RawString()}
	case TagTable:
		return Table{v.RawTable()}
	case TagFunction:
		return Function{v.RawClosure()}
	case TagUserdata:
		return Userdata{v.RawUserdata()}
	case TagThread:
		return Coroutine{v.RawThread()}
	case TagBuffer:
		return Buffer{v.RawBuffer()}
	}
	panic(fmt.Sprintf("vm: %s is not a value", v.Tag()))
}

// As downcasts v to the variant T.
func As[T Value](v Value) (T, bool) {
	t, ok := v.(T)
	return t, ok
}

func AsNil(v Value) (Nil, bool)                     { return As[Nil](v) }
func AsBoolean(v Value) (Boolean, bool)             { return As[Boolean](v) }
func AsLightUserdata(v Value) (LightUserdata, bool) { return As[LightUserdata](v) }
func AsNumber(v Value) (Number, bool)               { return As[Number](v) }
func AsVector(v Value) (Vector, bool)               { return As[Vector](v) }
func AsString(v Value) (String, bool)               { return As[String](v) }
func AsTable(v Value) (Table, bool)                 { return As[Table](v) }
func AsFunction(v Value) (Function, bool)           { return As[Function](v) }
func AsUserdata(v Value) (Userdata, bool)           { return As[Userdata](v) }
func AsCoroutine(v Value) (Coroutine, bool)         { return As[Coroutine](v) }
func AsBuffer(v Value) (Buffer, bool)               { return As[Buffer](v) }

// Format renders v for display, close to tostring without metamethods.
// Strings are returned as is. Numbers use the shortest digits that read
// back as the same double.
func Format(v Value) string {
	switch v := v.(type) {
	case Nil:
		return "nil"
	case Boolean:
		return strconv.FormatBool(bool(v))
	case Number:
		return formatNumber(float64(v))
	case Vector:
		return fmt.Sprintf("%s, %s, %s", formatFloat32(v.X), formatFloat32(v.Y), formatFloat32(v.Z))
	case String:
		return v.String()
	}
	raw := v.Raw()
	if raw.IsCollectible() {
		return fmt.Sprintf("%s: 0x%016x", raw.Tag(), raw.pointer())
	}
	return raw.String()
}

func formatNumber(n float64) string {
	switch {
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	case math.IsNaN(n):
		return "nan"
	}
	// Fixed notation for decimal exponents in [-6, 20], scientific with an
	// unpadded exponent outside.
	sci := strconv.FormatFloat(n, 'e', -1, 64)
	mant, exp, _ := strings.Cut(sci, "e")
	e, _ := strconv.Atoi(exp)
	if e >= -6 && e <= 20 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	sign := "+"
	if e < 0 {
		sign, e = "-", -e
	}
	return mant + "e" + sign + strconv.Itoa(e)
}

func formatFloat32(f float32) string {
	return formatNumber(float64(f))
}
