package vm

import (
	"fmt"
	"math"
)

// Tag identifies the kind of a value. The numbering matches lua_Type.
type Tag int32

const (
	TagNil Tag = iota
	TagBoolean
	TagLightUserdata
	TagNumber
	TagVector
	TagString
	TagTable
	TagFunction
	TagUserdata
	TagThread
	TagBuffer
)

var tagNames = [...]string{
	TagNil:           "nil",
	TagBoolean:       "boolean",
	TagLightUserdata: "lightuserdata",
	TagNumber:        "number",
	TagVector:        "vector",
	TagString:        "string",
	TagTable:         "table",
	TagFunction:      "function",
	TagUserdata:      "userdata",
	TagThread:        "thread",
	TagBuffer:        "buffer",
}

func (t Tag) String() string {
	if t.Valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", int32(t))
}

// Valid reports whether t is a tag that can appear on a stack or in the
// registry. Internal tags (prototypes, upvalues, dead keys) are not valid.
func (t Tag) Valid() bool {
	return t >= TagNil && t <= TagBuffer
}

// IsValueType reports whether values of this kind are stored inline.
func (t Tag) IsValueType() bool {
	return t >= TagNil && t <= TagVector
}

// IsCollectible reports whether values of this kind live on the GC heap.
func (t Tag) IsCollectible() bool {
	return t >= TagString && t <= TagBuffer
}

// ---------------------------------------------------------------------------
// RawValue
// ---------------------------------------------------------------------------

// RawValue mirrors the VM's TValue bit for bit: an 8-byte payload union,
// one extra word and the type tag. The layout is checked against the native
// struct by the glue at compile time.
//
// Payload by tag (little-endian):
//   - Boolean: low 32 bits hold the C int, the upper half is undefined
//   - LightUserdata: the pointer; extra holds the light userdata tag
//   - Number: the float64 bits
//   - Vector: x and y as two float32s; extra holds z
//   - collectible kinds: the GC object pointer
//
// A RawValue says nothing about lifetime. A collectible RawValue is a
// possibly-dangling view unless something anchors the object (a stack slot
// or a Ref).
type RawValue struct {
	data  uint64
	extra int32
	tag   int32
}

const rawValueSize = 16

// RawNil returns the nil value.
func RawNil() RawValue {
	return RawValue{tag: int32(TagNil)}
}

// RawBoolean returns a boolean value.
func RawBoolean(b bool) RawValue {
	v := RawValue{tag: int32(TagBoolean)}
	if b {
		v.data = 1
	}
	return v
}

// RawLightUserdata returns a light userdata value carrying p and tag.
func RawLightUserdata(p uintptr, tag int32) RawValue {
	return RawValue{data: uint64(p), extra: tag, tag: int32(TagLightUserdata)}
}

// RawNumber returns a number value.
func RawNumber(n float64) RawValue {
	return RawValue{data: math.Float64bits(n), tag: int32(TagNumber)}
}

// RawVector returns a vector value.
func RawVector(x, y, z float32) RawValue {
	return RawValue{
		data:  uint64(math.Float32bits(x)) | uint64(math.Float32bits(y))<<32,
		extra: int32(math.Float32bits(z)),
		tag:   int32(TagVector),
	}
}

// Tag returns the kind of the value.
func (v RawValue) Tag() Tag { return Tag(v.tag) }

// IsValueType reports whether v is stored inline.
func (v RawValue) IsValueType() bool { return v.Tag().IsValueType() }

// IsCollectible reports whether v points into the GC heap.
func (v RawValue) IsCollectible() bool { return v.Tag().IsCollectible() }

func (v RawValue) expect(t Tag) {
	if v.Tag() != t {
		panic(fmt.Sprintf("vm: %s value used as %s", v.Tag(), t))
	}
}

// Boolean returns the payload of a boolean value.
func (v RawValue) Boolean() bool {
	v.expect(TagBoolean)
	return uint32(v.data) != 0
}

// LightUserdata returns the pointer and tag of a light userdata value.
func (v RawValue) LightUserdata() (uintptr, int32) {
	v.expect(TagLightUserdata)
	return uintptr(v.data), v.extra
}

// Number returns the payload of a number value.
func (v RawValue) Number() float64 {
	v.expect(TagNumber)
	return math.Float64frombits(v.data)
}

// Vector returns the components of a vector value.
func (v RawValue) Vector() (x, y, z float32) {
	v.expect(TagVector)
	x = math.Float32frombits(uint32(v.data))
	y = math.Float32frombits(uint32(v.data >> 32))
	z = math.Float32frombits(uint32(v.extra))
	return x, y, z
}

// pointer returns the GC object address of a collectible value.
func (v RawValue) pointer() uintptr {
	if !v.IsCollectible() {
		panic(fmt.Sprintf("vm: %s value has no object", v.Tag()))
	}
	return uintptr(v.data)
}

// Equal reports whether two raw values are the same value: identical bits
// for inline kinds, the same object for collectible kinds.
func (v RawValue) Equal(o RawValue) bool {
	if v.tag != o.tag {
		return false
	}
	switch v.Tag() {
	case TagNil:
		return true
	case TagBoolean:
		return uint32(v.data) == uint32(o.data)
	case TagLightUserdata, TagVector:
		return v.data == o.data && v.extra == o.extra
	default:
		return v.data == o.data
	}
}

func (v RawValue) String() string {
	switch v.Tag() {
	case TagNil:
		return "nil"
	case TagBoolean:
		return fmt.Sprint(v.Boolean())
	case TagLightUserdata:
		p, tag := v.LightUserdata()
		return fmt.Sprintf("lightuserdata(%#x, %d)", p, tag)
	case TagNumber:
		return formatNumber(v.Number())
	case TagVector:
		x, y, z := v.Vector()
		return fmt.Sprintf("%s, %s, %s", formatFloat32(x), formatFloat32(y), formatFloat32(z))
	}
	if v.IsCollectible() {
		return fmt.Sprintf("%s: %#x", v.Tag(), v.pointer())
	}
	return v.Tag().String()
}
