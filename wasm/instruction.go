package wasm

import (
	"bytes"
	"fmt"
)

// Opcode constants are defined in constants.go

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
type BlockImm struct {
	Type int32 // Block type: -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint32
	Align  uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the reference type for ref.null
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsIndirectCall returns true if this is a call_indirect instruction
func (i Instruction) IsIndirectCall() bool {
	return i.Opcode == OpCallIndirect
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	// Pre-allocate based on estimation: roughly 2 bytes per instruction on average
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			break
		}

		instr := Instruction{Opcode: op}

		switch op {
		case OpBlock, OpLoop, OpIf:
			bt, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BlockImm{Type: bt}

		case OpBr, OpBrIf:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BranchImm{LabelIdx: idx}

		case OpBrTable:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			labels := make([]uint32, count)
			for i := uint32(0); i < count; i++ {
				labels[i], err = ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
			}
			def, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BrTableImm{Labels: labels, Default: def}

		case OpCall:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallImm{FuncIdx: idx}

		case OpCallIndirect:
			typeIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			tableIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

		case OpLocalGet, OpLocalSet, OpLocalTee:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = LocalImm{LocalIdx: idx}

		case OpGlobalGet, OpGlobalSet:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = GlobalImm{GlobalIdx: idx}

		case OpTableGet, OpTableSet:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = TableImm{TableIdx: idx}

		case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
			OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
			OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
			OpI32Store, OpI64Store, OpF32Store, OpF64Store,
			OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
			memImm, err := readMemArg(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = memImm

		case OpMemorySize, OpMemoryGrow:
			// Reserved zero byte (memory index, single memory only)
			zero, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if zero != 0x00 {
				return nil, fmt.Errorf("non-zero memory index 0x%02x", zero)
			}

		case OpI32Const:
			val, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I32Imm{Value: val}

		case OpI64Const:
			val, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I64Imm{Value: val}

		case OpF32Const:
			val, err := ReadFloat32(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = F32Imm{Value: val}

		case OpF64Const:
			val, err := ReadFloat64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = F64Imm{Value: val}

		case OpRefNull:
			heapType, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			refType, err := abstractHeapType(heapType)
			if err != nil {
				return nil, err
			}
			instr.Imm = RefNullImm{Type: refType}

		case OpRefFunc:
			funcIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = RefFuncImm{FuncIdx: funcIdx}

		case OpSelectType:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			types := make([]ValType, count)
			for i := uint32(0); i < count; i++ {
				t, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				v := ValType(t)
				if !v.IsNum() && !v.IsRef() {
					return nil, fmt.Errorf("invalid value type 0x%02x in select", t)
				}
				types[i] = v
			}
			instr.Imm = SelectTypeImm{Types: types}

		// Instructions with no immediates - do nothing
		case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull,
			OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
			OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
			OpI64Eqz, OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
			OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
			OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge,
			OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge,
			OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Add, OpI32Sub, OpI32Mul,
			OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor,
			OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
			OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Add, OpI64Sub, OpI64Mul,
			OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor,
			OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
			OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt,
			OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign,
			OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt,
			OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign,
			OpI32WrapI64, OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
			OpI64ExtendI32S, OpI64ExtendI32U, OpI64TruncF32S, OpI64TruncF32U,
			OpI64TruncF64S, OpI64TruncF64U,
			OpF32ConvertI32S, OpF32ConvertI32U, OpF32ConvertI64S, OpF32ConvertI64U, OpF32DemoteF64,
			OpF64ConvertI32S, OpF64ConvertI32U, OpF64ConvertI64S, OpF64ConvertI64U, OpF64PromoteF32,
			OpI32ReinterpretF32, OpI64ReinterpretF64, OpF32ReinterpretI32, OpF64ReinterpretI64,
			OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
			// No immediate

		case OpPrefixMisc:
			subOp, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			imm := MiscImm{SubOpcode: subOp}
			switch subOp {
			case MiscI32TruncSatF32S, MiscI32TruncSatF32U,
				MiscI32TruncSatF64S, MiscI32TruncSatF64U,
				MiscI64TruncSatF32S, MiscI64TruncSatF32U,
				MiscI64TruncSatF64S, MiscI64TruncSatF64U:
				// Saturating truncations: no additional operands
			case MiscMemoryInit:
				dataidx, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				memidx, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				if memidx != 0 {
					return nil, fmt.Errorf("non-zero memory index %d in memory.init", memidx)
				}
				imm.Operands = []uint32{dataidx, memidx}
			case MiscDataDrop:
				dataidx, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				imm.Operands = []uint32{dataidx}
			case MiscMemoryCopy:
				dstMem, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				srcMem, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				if dstMem != 0 || srcMem != 0 {
					return nil, fmt.Errorf("non-zero memory index in memory.copy")
				}
				imm.Operands = []uint32{dstMem, srcMem}
			case MiscMemoryFill:
				memIdx, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				if memIdx != 0 {
					return nil, fmt.Errorf("non-zero memory index %d in memory.fill", memIdx)
				}
				imm.Operands = []uint32{memIdx}
			default:
				return nil, fmt.Errorf("unknown 0xFC sub-opcode: 0x%02x", subOp)
			}
			instr.Imm = imm

		case 0xFB, 0xFD, 0xFE:
			// GC, SIMD, and atomics prefixes
			return nil, fmt.Errorf("unsupported opcode prefix: 0x%02x", op)

		default:
			return nil, fmt.Errorf("unknown opcode: 0x%02x", op)
		}

		instrs = append(instrs, instr)
	}

	return instrs, nil
}

// abstractHeapType maps an s33-encoded heap type to a reference value type.
func abstractHeapType(ht int64) (ValType, error) {
	switch ht {
	case -16: // 0x70
		return ValFuncRef, nil
	case -17: // 0x6F
		return ValExtern, nil
	default:
		return 0, fmt.Errorf("unsupported heap type %d", ht)
	}
}

// EncodeInstructionTo writes a single instruction to the provided buffer.
// This avoids allocations compared to EncodeInstructions for single instructions.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch instr.Opcode {
	case OpBlock, OpLoop, OpIf:
		imm := instr.Imm.(BlockImm)
		WriteLEB128s(buf, imm.Type)

	case OpBr, OpBrIf:
		imm := instr.Imm.(BranchImm)
		WriteLEB128u(buf, imm.LabelIdx)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)

	case OpCall:
		imm := instr.Imm.(CallImm)
		WriteLEB128u(buf, imm.FuncIdx)

	case OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)

	case OpLocalGet, OpLocalSet, OpLocalTee:
		imm := instr.Imm.(LocalImm)
		WriteLEB128u(buf, imm.LocalIdx)

	case OpGlobalGet, OpGlobalSet:
		imm := instr.Imm.(GlobalImm)
		WriteLEB128u(buf, imm.GlobalIdx)

	case OpTableGet, OpTableSet:
		imm := instr.Imm.(TableImm)
		WriteLEB128u(buf, imm.TableIdx)

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		imm := instr.Imm.(MemoryImm)
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u(buf, imm.Offset)

	case OpMemorySize, OpMemoryGrow:
		buf.WriteByte(0x00)

	case OpI32Const:
		imm := instr.Imm.(I32Imm)
		WriteLEB128s(buf, imm.Value)

	case OpI64Const:
		imm := instr.Imm.(I64Imm)
		WriteLEB128s64(buf, imm.Value)

	case OpF32Const:
		imm := instr.Imm.(F32Imm)
		WriteFloat32(buf, imm.Value)

	case OpF64Const:
		imm := instr.Imm.(F64Imm)
		WriteFloat64(buf, imm.Value)

	case OpRefNull:
		imm := instr.Imm.(RefNullImm)
		buf.WriteByte(byte(imm.Type))

	case OpRefFunc:
		imm := instr.Imm.(RefFuncImm)
		WriteLEB128u(buf, imm.FuncIdx)

	case OpSelectType:
		imm := instr.Imm.(SelectTypeImm)
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}

	case OpPrefixMisc:
		imm := instr.Imm.(MiscImm)
		WriteLEB128u(buf, imm.SubOpcode)
		for _, operand := range imm.Operands {
			WriteLEB128u(buf, operand)
		}
	}
}

// EncodeInstructionsTo writes multiple instructions to the provided buffer.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	buf.Grow(len(instrs) * 3) // estimate 3 bytes per instruction
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}

// readMemArg reads a memarg (alignment exponent then offset).
func readMemArg(r *bytes.Reader) (MemoryImm, error) {
	align, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	offset, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}
