// Package wasm provides WebAssembly binary format parsing, validation,
// and encoding.
//
// This package implements a parser and encoder for core WebAssembly
// binary modules, covering the MVP instruction set plus the sign
// extension, non-trapping float-to-int conversion, reference types,
// and bulk memory proposals. Proposals beyond that set (GC, SIMD,
// threads, exception handling, tail calls, multi-memory, memory64)
// are rejected at decode time.
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with validation enabled:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// A decode/encode round trip of a module built from these types is
// byte-identical for canonical encodings.
//
// # Validation
//
// Validate module structure and type-check every function body:
//
//	if err := module.Validate(); err != nil {
//	    log.Printf("invalid module: %v", err)
//	}
//
// Validation checks:
//   - Index spaces (types, functions, tables, memories, globals) are in bounds
//   - Export names are unique
//   - Constant expressions are well-formed and correctly typed
//   - Function bodies type-check against their declared signatures
//
// # Instructions
//
// Decode instructions from bytecode:
//
//	instructions, err := wasm.DecodeInstructions(code)
//
// Encode instructions back to bytecode:
//
//	encoded := wasm.EncodeInstructions(instructions)
package wasm
