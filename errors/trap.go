package errors

import "fmt"

// TrapKind identifies the runtime fault that aborted an invocation.
type TrapKind string

const (
	TrapUnreachable          TrapKind = "unreachable"
	TrapIntegerDivideByZero  TrapKind = "integer_divide_by_zero"
	TrapIntegerOverflow      TrapKind = "integer_overflow"
	TrapInvalidConversion    TrapKind = "invalid_conversion_to_integer"
	TrapOutOfBoundsMemory    TrapKind = "out_of_bounds_memory_access"
	TrapOutOfBoundsTable     TrapKind = "out_of_bounds_table_access"
	TrapUninitializedElement TrapKind = "uninitialized_element"
	TrapIndirectCallMismatch TrapKind = "indirect_call_type_mismatch"
	TrapCallDepthExceeded    TrapKind = "call_depth_exceeded"
	TrapFuelExhausted        TrapKind = "fuel_exhausted"
	TrapStackOverflow        TrapKind = "value_stack_overflow"
	TrapHostError            TrapKind = "host_function_error"
)

// TrapError is a runtime fault. It aborts the current invocation
// deterministically and leaves instance state as of the last fully
// executed instruction. FuncIdx and Offset locate the faulting
// instruction when known (Offset is an index into the decoded
// instruction sequence, not a byte offset).
type TrapError struct {
	Cause    error
	TrapKind TrapKind
	FuncIdx  uint32
	Offset   int
}

func (e *TrapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[runtime] trap: %s in function %d at instruction %d (caused by: %v)",
			e.TrapKind, e.FuncIdx, e.Offset, e.Cause)
	}
	return fmt.Sprintf("[runtime] trap: %s in function %d at instruction %d",
		e.TrapKind, e.FuncIdx, e.Offset)
}

func (e *TrapError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a TrapError of the same kind.
// A target with an empty TrapKind matches any trap.
func (e *TrapError) Is(target error) bool {
	if t, ok := target.(*TrapError); ok {
		return t.TrapKind == "" || e.TrapKind == t.TrapKind
	}
	return false
}

// Trap creates a trap error without location information.
// The interpreter attaches FuncIdx/Offset as the trap unwinds.
func Trap(kind TrapKind) *TrapError {
	return &TrapError{TrapKind: kind}
}

// TrapWithCause creates a trap carrying an underlying error,
// used for host function failures.
func TrapWithCause(kind TrapKind, cause error) *TrapError {
	return &TrapError{TrapKind: kind, Cause: cause}
}
