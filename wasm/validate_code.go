package wasm

import "fmt"

// Function body type checking. The algorithm keeps an abstract operand
// stack of value types and a stack of control frames, with the usual
// polymorphic handling of unreachable code.

// valUnknown stands for any type on the abstract stack after a stack-
// polymorphic instruction such as unreachable or br.
const valUnknown ValType = 0

type ctrlFrame struct {
	startTypes  []ValType
	endTypes    []ValType
	height      int
	opcode      byte
	unreachable bool
}

// labelTypes returns the types a branch to this frame must supply:
// loop labels target the block start, all others target the end.
func (f *ctrlFrame) labelTypes() []ValType {
	if f.opcode == OpLoop {
		return f.startTypes
	}
	return f.endTypes
}

type bodyValidator struct {
	m      *Module
	locals []ValType
	stack  []ValType
	ctrl   []ctrlFrame
}

func (m *Module) validateFuncBody(localIdx uint32) error {
	ft := m.getFuncTypeByIdx(m.Funcs[localIdx])
	body := &m.Code[localIdx]

	locals := make([]ValType, 0, len(ft.Params))
	locals = append(locals, ft.Params...)
	for _, entry := range body.Locals {
		for i := uint32(0); i < entry.Count; i++ {
			locals = append(locals, entry.ValType)
		}
	}

	instrs, err := DecodeInstructions(body.Code)
	if err != nil {
		return err
	}

	v := &bodyValidator{m: m, locals: locals}
	v.pushCtrl(OpBlock, nil, ft.Results)

	for i := range instrs {
		if len(v.ctrl) == 0 {
			return fmt.Errorf("instructions after function end")
		}
		if err := v.check(&instrs[i]); err != nil {
			return fmt.Errorf("offset %d (opcode 0x%02x): %w", i, instrs[i].Opcode, err)
		}
	}
	if len(v.ctrl) != 0 {
		return fmt.Errorf("unclosed block, %d frames remain", len(v.ctrl))
	}
	return nil
}

func (v *bodyValidator) pushVal(t ValType) {
	v.stack = append(v.stack, t)
}

func (v *bodyValidator) popAny() (ValType, error) {
	f := &v.ctrl[len(v.ctrl)-1]
	if len(v.stack) == f.height {
		if f.unreachable {
			return valUnknown, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return t, nil
}

func (v *bodyValidator) popVal(expect ValType) error {
	t, err := v.popAny()
	if err != nil {
		return err
	}
	if t != valUnknown && expect != valUnknown && t != expect {
		return fmt.Errorf("expected %s on stack, got %s", expect, t)
	}
	return nil
}

func (v *bodyValidator) popVals(types []ValType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := v.popVal(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *bodyValidator) pushVals(types []ValType) {
	v.stack = append(v.stack, types...)
}

func (v *bodyValidator) pushCtrl(opcode byte, in, out []ValType) {
	v.ctrl = append(v.ctrl, ctrlFrame{
		opcode:     opcode,
		startTypes: in,
		endTypes:   out,
		height:     len(v.stack),
	})
	v.pushVals(in)
}

func (v *bodyValidator) popCtrl() (ctrlFrame, error) {
	if len(v.ctrl) == 0 {
		return ctrlFrame{}, fmt.Errorf("control stack underflow")
	}
	f := v.ctrl[len(v.ctrl)-1]
	if err := v.popVals(f.endTypes); err != nil {
		return ctrlFrame{}, err
	}
	if len(v.stack) != f.height {
		return ctrlFrame{}, fmt.Errorf("%d leftover values at end of block", len(v.stack)-f.height)
	}
	v.ctrl = v.ctrl[:len(v.ctrl)-1]
	return f, nil
}

func (v *bodyValidator) markUnreachable() {
	f := &v.ctrl[len(v.ctrl)-1]
	v.stack = v.stack[:f.height]
	f.unreachable = true
}

func (v *bodyValidator) frameAt(depth uint32) (*ctrlFrame, error) {
	if uint64(depth) >= uint64(len(v.ctrl)) {
		return nil, fmt.Errorf("branch depth %d exceeds block nesting %d", depth, len(v.ctrl))
	}
	return &v.ctrl[len(v.ctrl)-1-int(depth)], nil
}

// blockFuncType resolves a block type immediate into a function type.
func (v *bodyValidator) blockFuncType(bt int32) (FuncType, error) {
	switch bt {
	case BlockTypeVoid:
		return FuncType{}, nil
	case BlockTypeI32:
		return FuncType{Results: []ValType{ValI32}}, nil
	case BlockTypeI64:
		return FuncType{Results: []ValType{ValI64}}, nil
	case BlockTypeF32:
		return FuncType{Results: []ValType{ValF32}}, nil
	case BlockTypeF64:
		return FuncType{Results: []ValType{ValF64}}, nil
	}
	if bt < 0 {
		return FuncType{}, fmt.Errorf("invalid block type %d", bt)
	}
	if int(bt) >= len(v.m.Types) {
		return FuncType{}, fmt.Errorf("block type index %d out of range", bt)
	}
	return v.m.Types[bt], nil
}

// op pops ins in reverse order and pushes outs.
func (v *bodyValidator) op(ins []ValType, outs ...ValType) error {
	if err := v.popVals(ins); err != nil {
		return err
	}
	v.pushVals(outs)
	return nil
}

var (
	sigI32    = []ValType{ValI32}
	sigI64    = []ValType{ValI64}
	sigF32    = []ValType{ValF32}
	sigF64    = []ValType{ValF64}
	sigI32I32 = []ValType{ValI32, ValI32}
	sigI64I64 = []ValType{ValI64, ValI64}
	sigF32F32 = []ValType{ValF32, ValF32}
	sigF64F64 = []ValType{ValF64, ValF64}
	sig3I32   = []ValType{ValI32, ValI32, ValI32}
)

func (v *bodyValidator) check(instr *Instruction) error {
	switch op := instr.Opcode; op {
	case OpUnreachable:
		v.markUnreachable()
	case OpNop:

	case OpBlock, OpLoop:
		ft, err := v.blockFuncType(instr.Imm.(BlockImm).Type)
		if err != nil {
			return err
		}
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushCtrl(op, ft.Params, ft.Results)

	case OpIf:
		ft, err := v.blockFuncType(instr.Imm.(BlockImm).Type)
		if err != nil {
			return err
		}
		if err := v.popVal(ValI32); err != nil {
			return err
		}
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushCtrl(op, ft.Params, ft.Results)

	case OpElse:
		f, err := v.popCtrl()
		if err != nil {
			return err
		}
		if f.opcode != OpIf {
			return fmt.Errorf("else without matching if")
		}
		v.pushCtrl(OpElse, f.startTypes, f.endTypes)

	case OpEnd:
		f, err := v.popCtrl()
		if err != nil {
			return err
		}
		// An if without an else must not change the stack shape: the
		// implicit empty else arm has to satisfy the block type too.
		if f.opcode == OpIf && !typeListsEqual(f.startTypes, f.endTypes) {
			return fmt.Errorf("if without else must have matching input and output types")
		}
		v.pushVals(f.endTypes)

	case OpBr:
		f, err := v.frameAt(instr.Imm.(BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if err := v.popVals(f.labelTypes()); err != nil {
			return err
		}
		v.markUnreachable()

	case OpBrIf:
		f, err := v.frameAt(instr.Imm.(BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if err := v.popVal(ValI32); err != nil {
			return err
		}
		lt := f.labelTypes()
		if err := v.popVals(lt); err != nil {
			return err
		}
		v.pushVals(lt)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		if err := v.popVal(ValI32); err != nil {
			return err
		}
		def, err := v.frameAt(imm.Default)
		if err != nil {
			return err
		}
		arity := len(def.labelTypes())
		for _, label := range imm.Labels {
			f, err := v.frameAt(label)
			if err != nil {
				return err
			}
			lt := f.labelTypes()
			if len(lt) != arity {
				return fmt.Errorf("br_table labels have mismatched arity")
			}
			if err := v.popVals(lt); err != nil {
				return err
			}
			v.pushVals(lt)
		}
		if err := v.popVals(def.labelTypes()); err != nil {
			return err
		}
		v.markUnreachable()

	case OpReturn:
		if err := v.popVals(v.ctrl[0].endTypes); err != nil {
			return err
		}
		v.markUnreachable()

	case OpCall:
		imm := instr.Imm.(CallImm)
		ft := v.m.GetFuncType(imm.FuncIdx)
		if ft == nil {
			return fmt.Errorf("call references invalid function index %d", imm.FuncIdx)
		}
		return v.op(ft.Params, ft.Results...)

	case OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		tt := v.m.GetTableType(imm.TableIdx)
		if tt == nil {
			return fmt.Errorf("call_indirect references invalid table index %d", imm.TableIdx)
		}
		if tt.ElemType != ValFuncRef {
			return fmt.Errorf("call_indirect requires a funcref table")
		}
		if int(imm.TypeIdx) >= len(v.m.Types) {
			return fmt.Errorf("call_indirect references invalid type index %d", imm.TypeIdx)
		}
		ft := v.m.Types[imm.TypeIdx]
		if err := v.popVal(ValI32); err != nil {
			return err
		}
		return v.op(ft.Params, ft.Results...)

	case OpDrop:
		_, err := v.popAny()
		return err

	case OpSelect:
		if err := v.popVal(ValI32); err != nil {
			return err
		}
		t1, err := v.popAny()
		if err != nil {
			return err
		}
		t2, err := v.popAny()
		if err != nil {
			return err
		}
		if t1 != valUnknown && t1.IsRef() || t2 != valUnknown && t2.IsRef() {
			return fmt.Errorf("select without type annotation requires numeric operands")
		}
		if t1 != valUnknown && t2 != valUnknown && t1 != t2 {
			return fmt.Errorf("select operands have mismatched types %s and %s", t1, t2)
		}
		if t1 != valUnknown {
			v.pushVal(t1)
		} else {
			v.pushVal(t2)
		}

	case OpSelectType:
		imm := instr.Imm.(SelectTypeImm)
		if len(imm.Types) != 1 {
			return fmt.Errorf("select type annotation must have exactly one type")
		}
		t := imm.Types[0]
		if err := v.popVal(ValI32); err != nil {
			return err
		}
		if err := v.popVal(t); err != nil {
			return err
		}
		if err := v.popVal(t); err != nil {
			return err
		}
		v.pushVal(t)

	case OpLocalGet:
		t, err := v.localType(instr.Imm.(LocalImm).LocalIdx)
		if err != nil {
			return err
		}
		v.pushVal(t)

	case OpLocalSet:
		t, err := v.localType(instr.Imm.(LocalImm).LocalIdx)
		if err != nil {
			return err
		}
		return v.popVal(t)

	case OpLocalTee:
		t, err := v.localType(instr.Imm.(LocalImm).LocalIdx)
		if err != nil {
			return err
		}
		if err := v.popVal(t); err != nil {
			return err
		}
		v.pushVal(t)

	case OpGlobalGet:
		imm := instr.Imm.(GlobalImm)
		gt := v.m.GetGlobalType(imm.GlobalIdx)
		if gt == nil {
			return fmt.Errorf("global.get references invalid global index %d", imm.GlobalIdx)
		}
		v.pushVal(gt.ValType)

	case OpGlobalSet:
		imm := instr.Imm.(GlobalImm)
		gt := v.m.GetGlobalType(imm.GlobalIdx)
		if gt == nil {
			return fmt.Errorf("global.set references invalid global index %d", imm.GlobalIdx)
		}
		if !gt.Mutable {
			return fmt.Errorf("global.set targets immutable global %d", imm.GlobalIdx)
		}
		return v.popVal(gt.ValType)

	case OpTableGet:
		tt, err := v.tableType(instr.Imm.(TableImm).TableIdx)
		if err != nil {
			return err
		}
		return v.op(sigI32, tt.ElemType)

	case OpTableSet:
		tt, err := v.tableType(instr.Imm.(TableImm).TableIdx)
		if err != nil {
			return err
		}
		return v.op([]ValType{ValI32, tt.ElemType})

	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U:
		return v.checkLoad(instr, ValI32)
	case OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U:
		return v.checkLoad(instr, ValI64)
	case OpF32Load:
		return v.checkLoad(instr, ValF32)
	case OpF64Load:
		return v.checkLoad(instr, ValF64)

	case OpI32Store, OpI32Store8, OpI32Store16:
		return v.checkStore(instr, ValI32)
	case OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32:
		return v.checkStore(instr, ValI64)
	case OpF32Store:
		return v.checkStore(instr, ValF32)
	case OpF64Store:
		return v.checkStore(instr, ValF64)

	case OpMemorySize:
		if err := v.requireMemory(); err != nil {
			return err
		}
		v.pushVal(ValI32)
	case OpMemoryGrow:
		if err := v.requireMemory(); err != nil {
			return err
		}
		return v.op(sigI32, ValI32)

	case OpI32Const:
		v.pushVal(ValI32)
	case OpI64Const:
		v.pushVal(ValI64)
	case OpF32Const:
		v.pushVal(ValF32)
	case OpF64Const:
		v.pushVal(ValF64)

	case OpI32Eqz:
		return v.op(sigI32, ValI32)
	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU, OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU:
		return v.op(sigI32I32, ValI32)
	case OpI64Eqz:
		return v.op(sigI64, ValI32)
	case OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU, OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU:
		return v.op(sigI64I64, ValI32)
	case OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge:
		return v.op(sigF32F32, ValI32)
	case OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge:
		return v.op(sigF64F64, ValI32)

	case OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Extend8S, OpI32Extend16S:
		return v.op(sigI32, ValI32)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr:
		return v.op(sigI32I32, ValI32)
	case OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		return v.op(sigI64, ValI64)
	case OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr:
		return v.op(sigI64I64, ValI64)
	case OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt:
		return v.op(sigF32, ValF32)
	case OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign:
		return v.op(sigF32F32, ValF32)
	case OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt:
		return v.op(sigF64, ValF64)
	case OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign:
		return v.op(sigF64F64, ValF64)

	case OpI32WrapI64:
		return v.op(sigI64, ValI32)
	case OpI32TruncF32S, OpI32TruncF32U, OpI32ReinterpretF32:
		return v.op(sigF32, ValI32)
	case OpI32TruncF64S, OpI32TruncF64U:
		return v.op(sigF64, ValI32)
	case OpI64ExtendI32S, OpI64ExtendI32U:
		return v.op(sigI32, ValI64)
	case OpI64TruncF32S, OpI64TruncF32U:
		return v.op(sigF32, ValI64)
	case OpI64TruncF64S, OpI64TruncF64U, OpI64ReinterpretF64:
		return v.op(sigF64, ValI64)
	case OpF32ConvertI32S, OpF32ConvertI32U, OpF32ReinterpretI32:
		return v.op(sigI32, ValF32)
	case OpF32ConvertI64S, OpF32ConvertI64U:
		return v.op(sigI64, ValF32)
	case OpF32DemoteF64:
		return v.op(sigF64, ValF32)
	case OpF64ConvertI32S, OpF64ConvertI32U:
		return v.op(sigI32, ValF64)
	case OpF64ConvertI64S, OpF64ConvertI64U, OpF64ReinterpretI64:
		return v.op(sigI64, ValF64)
	case OpF64PromoteF32:
		return v.op(sigF32, ValF64)

	case OpRefNull:
		v.pushVal(instr.Imm.(RefNullImm).Type)
	case OpRefIsNull:
		t, err := v.popAny()
		if err != nil {
			return err
		}
		if t != valUnknown && !t.IsRef() {
			return fmt.Errorf("ref.is_null requires a reference operand, got %s", t)
		}
		v.pushVal(ValI32)
	case OpRefFunc:
		imm := instr.Imm.(RefFuncImm)
		if imm.FuncIdx >= uint32(v.m.NumFuncs()) {
			return fmt.Errorf("ref.func references invalid function index %d", imm.FuncIdx)
		}
		v.pushVal(ValFuncRef)

	case OpPrefixMisc:
		return v.checkMisc(instr.Imm.(MiscImm))

	default:
		return fmt.Errorf("unknown opcode")
	}
	return nil
}

func (v *bodyValidator) checkMisc(imm MiscImm) error {
	switch imm.SubOpcode {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U:
		return v.op(sigF32, ValI32)
	case MiscI32TruncSatF64S, MiscI32TruncSatF64U:
		return v.op(sigF64, ValI32)
	case MiscI64TruncSatF32S, MiscI64TruncSatF32U:
		return v.op(sigF32, ValI64)
	case MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		return v.op(sigF64, ValI64)
	case MiscMemoryInit:
		if err := v.requireMemory(); err != nil {
			return err
		}
		if err := v.requireDataIdx(imm.Operands[0]); err != nil {
			return err
		}
		return v.op(sig3I32)
	case MiscDataDrop:
		return v.requireDataIdx(imm.Operands[0])
	case MiscMemoryCopy, MiscMemoryFill:
		if err := v.requireMemory(); err != nil {
			return err
		}
		return v.op(sig3I32)
	default:
		return fmt.Errorf("unknown 0xFC sub-opcode: 0x%02x", imm.SubOpcode)
	}
}

func (v *bodyValidator) checkLoad(instr *Instruction, result ValType) error {
	if err := v.requireMemory(); err != nil {
		return err
	}
	if err := checkAlignment(instr); err != nil {
		return err
	}
	return v.op(sigI32, result)
}

func (v *bodyValidator) checkStore(instr *Instruction, operand ValType) error {
	if err := v.requireMemory(); err != nil {
		return err
	}
	if err := checkAlignment(instr); err != nil {
		return err
	}
	return v.op([]ValType{ValI32, operand})
}

func (v *bodyValidator) requireMemory() error {
	if v.m.NumMemories() == 0 {
		return fmt.Errorf("memory instruction with no memory defined")
	}
	return nil
}

func (v *bodyValidator) requireDataIdx(idx uint32) error {
	if v.m.DataCount == nil {
		return fmt.Errorf("bulk memory instruction requires a data count section")
	}
	if idx >= *v.m.DataCount {
		return fmt.Errorf("data index %d out of range", idx)
	}
	return nil
}

func (v *bodyValidator) localType(idx uint32) (ValType, error) {
	if uint64(idx) >= uint64(len(v.locals)) {
		return 0, fmt.Errorf("local index %d out of range (%d locals)", idx, len(v.locals))
	}
	return v.locals[idx], nil
}

func (v *bodyValidator) tableType(idx uint32) (*TableType, error) {
	tt := v.m.GetTableType(idx)
	if tt == nil {
		return nil, fmt.Errorf("table index %d out of range", idx)
	}
	return tt, nil
}

// checkAlignment verifies the alignment exponent does not exceed the
// natural alignment of the access width.
func checkAlignment(instr *Instruction) error {
	imm := instr.Imm.(MemoryImm)
	var natural uint32
	switch instr.Opcode {
	case OpI32Load8S, OpI32Load8U, OpI64Load8S, OpI64Load8U, OpI32Store8, OpI64Store8:
		natural = 0
	case OpI32Load16S, OpI32Load16U, OpI64Load16S, OpI64Load16U, OpI32Store16, OpI64Store16:
		natural = 1
	case OpI32Load, OpF32Load, OpI32Store, OpF32Store, OpI64Load32S, OpI64Load32U, OpI64Store32:
		natural = 2
	case OpI64Load, OpF64Load, OpI64Store, OpF64Store:
		natural = 3
	}
	if imm.Align > natural {
		return fmt.Errorf("alignment 2^%d exceeds natural alignment 2^%d", imm.Align, natural)
	}
	return nil
}

func typeListsEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
