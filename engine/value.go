package engine

import (
	"fmt"
	"math"

	"github.com/reefvm/reef/wasm"
)

// Value is a typed WebAssembly value. The raw payload is always carried as
// a uint64 bit pattern; the type tag selects the interpretation.
//
// Reference values (funcref, externref) encode null as raw 0 and a function
// reference to index i as raw i+1.
type Value struct {
	raw uint64
	typ wasm.ValType
}

// I32 constructs an i32 value.
func I32(v int32) Value {
	return Value{raw: uint64(uint32(v)), typ: wasm.ValI32}
}

// I64 constructs an i64 value.
func I64(v int64) Value {
	return Value{raw: uint64(v), typ: wasm.ValI64}
}

// F32 constructs an f32 value.
func F32(v float32) Value {
	return Value{raw: uint64(math.Float32bits(v)), typ: wasm.ValF32}
}

// F64 constructs an f64 value.
func F64(v float64) Value {
	return Value{raw: math.Float64bits(v), typ: wasm.ValF64}
}

// NullRef constructs a null reference of the given reference type.
func NullRef(t wasm.ValType) Value {
	return Value{raw: refNull, typ: t}
}

// FuncRef constructs a non-null funcref to the given function index.
func FuncRef(funcIdx uint32) Value {
	return Value{raw: uint64(funcIdx) + 1, typ: wasm.ValFuncRef}
}

// Type returns the value's type tag.
func (v Value) Type() wasm.ValType {
	return v.typ
}

// Raw returns the value's raw 64-bit payload.
func (v Value) Raw() uint64 {
	return v.raw
}

// I32 returns the value as int32. The type tag is not checked.
func (v Value) I32() int32 {
	return int32(uint32(v.raw))
}

// I64 returns the value as int64. The type tag is not checked.
func (v Value) I64() int64 {
	return int64(v.raw)
}

// F32 returns the value as float32. The type tag is not checked.
func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.raw))
}

// F64 returns the value as float64. The type tag is not checked.
func (v Value) F64() float64 {
	return math.Float64frombits(v.raw)
}

// IsNull reports whether a reference value is null.
func (v Value) IsNull() bool {
	return v.raw == refNull
}

func (v Value) String() string {
	switch v.typ {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.F64())
	case wasm.ValFuncRef:
		if v.IsNull() {
			return "funcref:null"
		}
		return fmt.Sprintf("funcref:%d", v.raw-1)
	case wasm.ValExtern:
		if v.IsNull() {
			return "externref:null"
		}
		return fmt.Sprintf("externref:%d", v.raw)
	default:
		return fmt.Sprintf("unknown:%#x", v.raw)
	}
}

// valueFromRaw rebuilds a typed Value from a raw stack slot.
func valueFromRaw(raw uint64, t wasm.ValType) Value {
	return Value{raw: raw, typ: t}
}

// ValueFromRaw constructs a Value from raw bit representation and a type.
// Integers are zero-extended, floats use IEEE 754 bit patterns, and
// references use the engine's internal encoding.
func ValueFromRaw(raw uint64, t wasm.ValType) Value {
	return valueFromRaw(raw, t)
}

// refNull is the raw encoding of a null reference.
const refNull uint64 = 0

// zeroValue returns the default value for a type: numeric zero or null.
func zeroValue(t wasm.ValType) Value {
	return Value{raw: 0, typ: t}
}
