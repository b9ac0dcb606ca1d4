// Package engine executes WebAssembly modules with a stack-machine
// interpreter.
//
// # Architecture
//
// The package provides three main types:
//
//	ImportObject - Collects host functions, globals, memories, and tables
//	Instance     - An instantiated module with its own memory and globals
//	Value        - A typed WebAssembly value crossing the host boundary
//
// # Instantiation Flow
//
//  1. NewInstance resolves every import against the ImportObject, in the
//     module's declaration order, checking types and limits.
//  2. Declared memories, tables, and globals are allocated; global
//     initializers are evaluated as constant expressions.
//  3. Function bodies are compiled: instructions are decoded once and
//     branch targets resolved, so execution never rescans bytecode.
//  4. Active element and data segments are applied, then the start
//     function runs.
//
// # Execution
//
// Instance.Invoke calls an exported function. Execution is deterministic:
// the same module, arguments, and host behavior always produce the same
// results and the same traps. Faults surface as *errors.TrapError with the
// faulting function index and instruction offset attached.
//
// Each invocation carries its own limits: an optional fuel budget
// (instructions executed) and a call depth cap. Host functions receive a
// CallContext giving access to the instance's memory and the invocation's
// context.Context.
package engine
