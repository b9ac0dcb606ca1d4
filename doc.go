// Package reef provides a minimal WebAssembly execution engine in pure Go.
//
// It loads core WebAssembly modules (the MVP instruction set plus
// sign-extension, saturating truncation, bulk memory, and reference
// types), validates them, and runs them on a stack-machine interpreter
// with explicit fuel and call-depth limits.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	reef/
//	├── runtime/         High-level API for loading and running modules
//	├── engine/          Interpreter core: values, memory, tables, instances
//	├── wasm/            Binary format: decode, encode, validate
//	├── errors/          Structured error types and the trap taxonomy
//	└── cmd/reef-run/    Execution driver CLI with an interactive mode
//
// # Quick Start
//
// Load and run a module:
//
//	r := runtime.New(runtime.WithMaxFuel(1_000_000))
//	if err := runtime.RegisterHostModule(r.Imports(), runtime.HostConfig{
//	    LogWriter: os.Stdout,
//	}); err != nil {
//	    log.Fatal(err)
//	}
//
//	mod, err := r.LoadModule(wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := r.Instantiate(ctx, mod)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := inst.Invoke(ctx, "reef_main")
//
// Host functions are registered on the runtime's ImportObject before
// instantiation and receive a CallContext with access to the guest's
// linear memory.
package reef
