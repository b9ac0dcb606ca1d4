package engine

import (
	"github.com/reefvm/reef/wasm"
)

// GlobalInstance is a runtime global variable. Imported globals are shared
// by pointer, so host writes through a mutable imported global are visible
// to the guest.
type GlobalInstance struct {
	typ wasm.GlobalType
	raw uint64
}

// NewGlobal creates a global holding the given value.
func NewGlobal(typ wasm.GlobalType, v Value) *GlobalInstance {
	return &GlobalInstance{typ: typ, raw: v.Raw()}
}

// Type returns the global's type and mutability.
func (g *GlobalInstance) Type() wasm.GlobalType {
	return g.typ
}

// Get returns the global's current value.
func (g *GlobalInstance) Get() Value {
	return valueFromRaw(g.raw, g.typ.ValType)
}

// Set stores a value. The caller is responsible for type and mutability
// checks; the interpreter only emits global.set for validated code.
func (g *GlobalInstance) Set(v Value) {
	g.raw = v.Raw()
}
