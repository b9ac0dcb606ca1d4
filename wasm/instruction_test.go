package wasm_test

import (
	"bytes"
	"testing"

	"github.com/reefvm/reef/wasm"
)

func TestInstructionRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		instrs []wasm.Instruction
	}{
		{
			"simple",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 42}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"locals",
			[]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
				{Opcode: wasm.OpI32Add},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"block",
			[]wasm.Instruction{
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -1}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"if_else",
			[]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: -64}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpElse},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 2}},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"loop",
			[]wasm.Instruction{
				{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: -64}},
				{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"br_table",
			[]wasm.Instruction{
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -64}},
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 0}, Default: 0}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"calls",
			[]wasm.Instruction{
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 3}},
				{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1, TableIdx: 0}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"memory",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 8}},
				{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2, Offset: 16}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
				{Opcode: wasm.OpI32Store8, Imm: wasm.MemoryImm{Align: 0, Offset: 0}},
				{Opcode: wasm.OpMemorySize},
				{Opcode: wasm.OpMemoryGrow},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"constants",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: -1}},
				{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1 << 40}},
				{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Value: 3.14}},
				{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Value: -2.718}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"refs",
			[]wasm.Instruction{
				{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: wasm.ValFuncRef}},
				{Opcode: wasm.OpRefIsNull},
				{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: 2}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"select_typed",
			[]wasm.Instruction{
				{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{wasm.ValExtern}}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"sign_extension",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Extend8S},
				{Opcode: wasm.OpI64Extend32S},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"saturating_trunc",
			[]wasm.Instruction{
				{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF64S}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"bulk_memory",
			[]wasm.Instruction{
				{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryInit, Operands: []uint32{1, 0}}},
				{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscDataDrop, Operands: []uint32{1}}},
				{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryCopy, Operands: []uint32{0, 0}}},
				{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryFill, Operands: []uint32{0}}},
				{Opcode: wasm.OpEnd},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := wasm.EncodeInstructions(tt.instrs)
			decoded, err := wasm.DecodeInstructions(encoded)
			if err != nil {
				t.Fatalf("DecodeInstructions: %v", err)
			}
			if len(decoded) != len(tt.instrs) {
				t.Fatalf("got %d instructions, want %d", len(decoded), len(tt.instrs))
			}
			for i := range decoded {
				if decoded[i].Opcode != tt.instrs[i].Opcode {
					t.Errorf("instr %d: opcode 0x%02x, want 0x%02x", i, decoded[i].Opcode, tt.instrs[i].Opcode)
				}
			}
			// Re-encoding must be byte-identical
			reencoded := wasm.EncodeInstructions(decoded)
			if !bytes.Equal(reencoded, encoded) {
				t.Errorf("re-encoded bytes differ:\n got %v\nwant %v", reencoded, encoded)
			}
		})
	}
}

func TestDecodeInstructionsRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"simd prefix", []byte{0xFD, 0x00, 0x0B}},
		{"atomics prefix", []byte{0xFE, 0x10, 0x0B}},
		{"gc prefix", []byte{0xFB, 0x00, 0x0B}},
		{"tail call", []byte{0x12, 0x00, 0x0B}},
		{"unknown misc sub-opcode", []byte{0xFC, 0x0C, 0x00, 0x00, 0x0B}},
		{"unknown opcode", []byte{0x27, 0x0B}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := wasm.DecodeInstructions(tt.code); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestDecodeInstructionsRejectsNonZeroMemoryIndex(t *testing.T) {
	// memory.size with a non-zero reserved byte
	if _, err := wasm.DecodeInstructions([]byte{0x3F, 0x01, 0x0B}); err == nil {
		t.Error("expected decode error for non-zero memory index")
	}
}
