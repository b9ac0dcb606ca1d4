package engine

import (
	"context"
	"fmt"

	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/wasm"
)

// HostFuncFn is the Go implementation of a host function. Args match the
// declared parameter types; the returned values must match the declared
// result types. A returned error aborts execution as a trap.
type HostFuncFn func(cc *CallContext, args []Value) ([]Value, error)

// HostFunc pairs a function signature with its Go implementation.
type HostFunc struct {
	Fn   HostFuncFn
	Type wasm.FuncType
	Name string
}

// CallContext carries per-call state into host functions.
type CallContext struct {
	ctx  context.Context
	inst *Instance
}

// Context returns the invocation's context.
func (cc *CallContext) Context() context.Context {
	return cc.ctx
}

// Memory returns the instance's linear memory, or nil if it has none.
func (cc *CallContext) Memory() *Memory {
	return cc.inst.Memory()
}

// Instance returns the calling instance.
func (cc *CallContext) Instance() *Instance {
	return cc.inst
}

type importKey struct {
	module string
	name   string
}

func (k importKey) String() string {
	return k.module + "." + k.name
}

// ImportObject collects host-provided functions, globals, memories, and
// tables, keyed by (module, name). It is the single source consulted when
// an instance resolves its imports.
type ImportObject struct {
	funcs    map[importKey]*HostFunc
	globals  map[importKey]*GlobalInstance
	memories map[importKey]*Memory
	tables   map[importKey]*Table
}

// NewImportObject creates an empty import object.
func NewImportObject() *ImportObject {
	return &ImportObject{
		funcs:    make(map[importKey]*HostFunc),
		globals:  make(map[importKey]*GlobalInstance),
		memories: make(map[importKey]*Memory),
		tables:   make(map[importKey]*Table),
	}
}

// RegisterFunc registers a host function under (module, name).
// Registering the same name twice is an error.
func (io *ImportObject) RegisterFunc(module, name string, typ wasm.FuncType, fn HostFuncFn) error {
	if fn == nil {
		return errors.Registration(module, name, fmt.Errorf("nil function"))
	}
	key := importKey{module: module, name: name}
	if _, ok := io.funcs[key]; ok {
		return errors.Registration(module, name, fmt.Errorf("already registered"))
	}
	io.funcs[key] = &HostFunc{Fn: fn, Type: typ, Name: key.String()}
	return nil
}

// RegisterGlobal registers a host global under (module, name).
func (io *ImportObject) RegisterGlobal(module, name string, g *GlobalInstance) error {
	key := importKey{module: module, name: name}
	if _, ok := io.globals[key]; ok {
		return errors.Registration(module, name, fmt.Errorf("already registered"))
	}
	io.globals[key] = g
	return nil
}

// RegisterMemory registers a host memory under (module, name).
func (io *ImportObject) RegisterMemory(module, name string, m *Memory) error {
	key := importKey{module: module, name: name}
	if _, ok := io.memories[key]; ok {
		return errors.Registration(module, name, fmt.Errorf("already registered"))
	}
	io.memories[key] = m
	return nil
}

// RegisterTable registers a host table under (module, name).
func (io *ImportObject) RegisterTable(module, name string, t *Table) error {
	key := importKey{module: module, name: name}
	if _, ok := io.tables[key]; ok {
		return errors.Registration(module, name, fmt.Errorf("already registered"))
	}
	io.tables[key] = t
	return nil
}

func (io *ImportObject) lookupFunc(module, name string) *HostFunc {
	if io == nil {
		return nil
	}
	return io.funcs[importKey{module: module, name: name}]
}

func (io *ImportObject) lookupGlobal(module, name string) *GlobalInstance {
	if io == nil {
		return nil
	}
	return io.globals[importKey{module: module, name: name}]
}

func (io *ImportObject) lookupMemory(module, name string) *Memory {
	if io == nil {
		return nil
	}
	return io.memories[importKey{module: module, name: name}]
}

func (io *ImportObject) lookupTable(module, name string) *Table {
	if io == nil {
		return nil
	}
	return io.tables[importKey{module: module, name: name}]
}
