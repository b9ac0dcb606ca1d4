package main

import (
	"fmt"
	"testing"

	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/wasm"
)

func TestParseArgsDefaultsToZero(t *testing.T) {
	params := []wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF64, wasm.ValFuncRef}
	args, err := parseArgs("", params)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if len(args) != len(params) {
		t.Fatalf("got %d args, want %d", len(args), len(params))
	}
	for i, v := range args {
		if v.Type() != params[i] {
			t.Errorf("arg %d has type %s, want %s", i, v.Type(), params[i])
		}
		if v.Raw() != 0 {
			t.Errorf("arg %d = %s, want zero", i, v)
		}
	}
}

func TestParseArgsLiterals(t *testing.T) {
	args, err := parseArgs("-3, 0x10,2.5", []wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF64})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if got := args[0].I32(); got != -3 {
		t.Errorf("arg 0 = %d, want -3", got)
	}
	if got := args[1].I64(); got != 16 {
		t.Errorf("arg 1 = %d, want 16", got)
	}
	if got := args[2].F64(); got != 2.5 {
		t.Errorf("arg 2 = %g, want 2.5", got)
	}

	if _, err := parseArgs("1,2", []wasm.ValType{wasm.ValI32}); err == nil {
		t.Error("expected error for argument count mismatch")
	}
	if _, err := parseArgs("x", []wasm.ValType{wasm.ValI32}); err == nil {
		t.Error("expected error for unparseable literal")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.InvalidInput(errors.PhaseDecode, "bad magic"), exitDecode},
		{errors.InvalidInput(errors.PhaseValidate, "bad index"), exitValidate},
		{errors.MissingImport("reef", "log", "not registered"), exitLink},
		{errors.Trap(errors.TrapUnreachable), exitTrap},
		{fmt.Errorf("read file: no such file"), exitUsage},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
