// Package runtime is the high-level embedding API.
//
// A Runtime pairs a host function registry with execution limits. Loading
// a binary decodes and validates it; instantiation resolves imports and
// produces a callable Instance:
//
//	r := runtime.New(runtime.WithMaxFuel(1_000_000))
//	runtime.RegisterHostModule(r.Imports(), runtime.HostConfig{LogWriter: os.Stdout})
//
//	mod, err := r.LoadModule(binary)
//	inst, err := r.Instantiate(ctx, mod)
//	out, err := inst.Invoke(ctx, "reef_main")
//
// Load, validation, link, and runtime failures carry distinct phases in
// *errors.Error; guest faults are *errors.TrapError.
package runtime
