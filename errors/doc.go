// Package errors provides structured error types for the reef engine.
//
// Every failure surfaced by the engine falls into one of four
// categories, matching the processing pipeline:
//
//	decode    malformed binary; execution never starts
//	validate  ill-typed or out-of-range module; execution never starts
//	link      missing or mismatched host import; instantiation aborts
//	runtime   a trap during execution; the invocation aborts
//
// The first three are *Error values carrying a Phase, a Kind, an
// optional location Path and a wrapped cause. Traps are *TrapError
// values carrying a TrapKind and the function index and instruction
// offset at which the fault occurred. Both types support errors.Is
// matching on category:
//
//	if errors.Is(err, &reeferrors.TrapError{}) { ... any trap ... }
//	if errors.Is(err, reeferrors.Trap(reeferrors.TrapUnreachable)) { ... }
package errors
