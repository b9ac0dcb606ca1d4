package engine

import (
	"context"
	goerrors "errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/wasm"
)

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

// execState carries per-invocation limits across call frames. A fresh
// state is created for each top-level Invoke, so fuel and depth are shared
// by the whole call tree but never leak between invocations.
type execState struct {
	ctx      context.Context
	fuel     uint64
	counter  uint32
	depth    int
	maxDepth int
	hasFuel  bool
}

func newExecState(ctx context.Context, cfg *Config) *execState {
	fuel := cfg.maxFuel()
	return &execState{
		ctx:      ctx,
		fuel:     fuel,
		hasFuel:  fuel > 0,
		maxDepth: cfg.maxCallDepth(),
	}
}

// callRaw invokes a function by index with raw arguments, dispatching to
// either the interpreter or a host implementation.
func (inst *Instance) callRaw(es *execState, funcIdx uint32, args []uint64) ([]uint64, error) {
	if int(funcIdx) >= len(inst.funcs) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("function index %d out of range", funcIdx))
	}
	es.depth++
	if es.depth > es.maxDepth {
		es.depth--
		return nil, errors.Trap(errors.TrapCallDepthExceeded)
	}
	defer func() { es.depth-- }()

	fn := &inst.funcs[funcIdx]
	if fn.host != nil {
		return inst.callHost(es, fn, args)
	}
	return inst.run(es, fn.code, args)
}

func (inst *Instance) callHost(es *execState, fn *function, args []uint64) ([]uint64, error) {
	typ := fn.typ
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = valueFromRaw(a, typ.Params[i])
	}

	out, err := fn.host.Fn(&CallContext{ctx: es.ctx, inst: inst}, vals)
	if err != nil {
		var te *errors.TrapError
		if goerrors.As(err, &te) {
			return nil, err
		}
		return nil, errors.TrapWithCause(errors.TrapHostError, err)
	}
	if len(out) != len(typ.Results) {
		return nil, errors.TrapWithCause(errors.TrapHostError,
			fmt.Errorf("%s returned %d values, want %d", fn.host.Name, len(out), len(typ.Results)))
	}
	raw := make([]uint64, len(out))
	for i, v := range out {
		if v.Type() != typ.Results[i] {
			return nil, errors.TrapWithCause(errors.TrapHostError,
				fmt.Errorf("%s result %d is %s, want %s", fn.host.Name, i, v.Type(), typ.Results[i]))
		}
		raw[i] = v.Raw()
	}
	return raw, nil
}

func trapAt(kind errors.TrapKind, fn *compiledFunc, pc int) *errors.TrapError {
	te := errors.Trap(kind)
	te.FuncIdx = fn.funcIdx
	te.Offset = pc
	return te
}

// label is an open control frame during execution. cont is the pc to
// resume at when a branch targets this label; height is the operand stack
// depth below the label's parameters; arity is how many values a branch
// carries (results for blocks, parameters for loops).
type label struct {
	cont   int
	height int
	arity  int
	isLoop bool
}

// run interprets one compiled function frame.
func (inst *Instance) run(es *execState, fn *compiledFunc, args []uint64) ([]uint64, error) {
	locals := make([]uint64, fn.numParams+len(fn.locals))
	copy(locals, args)

	stack := make([]uint64, 0, 32)
	labels := make([]label, 0, 8)
	// The function body is itself a branch target: a branch to the
	// outermost depth carries the results and leaves the frame.
	labels = append(labels, label{cont: len(fn.instrs), arity: len(fn.typ.Results)})
	mem := inst.memory

	push := func(v uint64) { stack = append(stack, v) }
	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	pc := 0

	// branch unwinds to the label at the given relative depth, carrying
	// the label's arity worth of values, and resumes at its continuation.
	branch := func(depth uint32) {
		idx := len(labels) - 1 - int(depth)
		l := labels[idx]
		if l.arity > 0 {
			copy(stack[l.height:], stack[len(stack)-l.arity:])
		}
		stack = stack[:l.height+l.arity]
		if l.isLoop {
			labels = labels[:idx+1]
		} else {
			labels = labels[:idx]
		}
		pc = l.cont
	}

	// doCall transfers the callee's parameters off the stack and pushes
	// its results back.
	doCall := func(fidx uint32, typ *wasm.FuncType) error {
		n := len(typ.Params)
		callArgs := make([]uint64, n)
		copy(callArgs, stack[len(stack)-n:])
		stack = stack[:len(stack)-n]
		out, err := inst.callRaw(es, fidx, callArgs)
		if err != nil {
			return err
		}
		stack = append(stack, out...)
		return nil
	}

loop:
	for pc < len(fn.instrs) {
		if es.hasFuel {
			if es.fuel == 0 {
				return nil, trapAt(errors.TrapFuelExhausted, fn, pc)
			}
			es.fuel--
		}
		es.counter++
		if es.counter%ctxCheckInterval == 0 {
			if err := es.ctx.Err(); err != nil {
				return nil, err
			}
		}

		ins := &fn.instrs[pc]
		switch ins.Opcode {

		// Control
		case wasm.OpUnreachable:
			return nil, trapAt(errors.TrapUnreachable, fn, pc)
		case wasm.OpNop:
			// nothing
		case wasm.OpBlock:
			m := &fn.meta[pc]
			labels = append(labels, label{cont: m.endPC + 1, height: len(stack) - m.params, arity: m.results})
		case wasm.OpLoop:
			m := &fn.meta[pc]
			labels = append(labels, label{cont: pc + 1, height: len(stack) - m.params, arity: m.params, isLoop: true})
		case wasm.OpIf:
			m := &fn.meta[pc]
			cond := pop()
			labels = append(labels, label{cont: m.endPC + 1, height: len(stack) - m.params, arity: m.results})
			if cond == 0 {
				if m.elsePC >= 0 {
					pc = m.elsePC + 1
				} else {
					pc = m.endPC
				}
				continue
			}
		case wasm.OpElse:
			// Fell through the then branch; the frame ends here.
			labels = labels[:len(labels)-1]
			pc = fn.meta[pc].endPC + 1
			continue
		case wasm.OpEnd:
			if len(labels) > 0 {
				labels = labels[:len(labels)-1]
			}
		case wasm.OpBr:
			branch(ins.Imm.(wasm.BranchImm).LabelIdx)
			continue
		case wasm.OpBrIf:
			if pop() != 0 {
				branch(ins.Imm.(wasm.BranchImm).LabelIdx)
				continue
			}
		case wasm.OpBrTable:
			imm := ins.Imm.(wasm.BrTableImm)
			i := uint32(pop())
			target := imm.Default
			if i < uint32(len(imm.Labels)) {
				target = imm.Labels[i]
			}
			branch(target)
			continue
		case wasm.OpReturn:
			break loop
		case wasm.OpCall:
			fidx := ins.Imm.(wasm.CallImm).FuncIdx
			if err := doCall(fidx, inst.funcs[fidx].typ); err != nil {
				return nil, err
			}
		case wasm.OpCallIndirect:
			imm := ins.Imm.(wasm.CallIndirectImm)
			i := uint32(pop())
			ref, ok := inst.table.Get(i)
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsTable, fn, pc)
			}
			if ref == refNull {
				return nil, trapAt(errors.TrapUninitializedElement, fn, pc)
			}
			fidx := uint32(ref - 1)
			if int(fidx) >= len(inst.funcs) {
				return nil, trapAt(errors.TrapIndirectCallMismatch, fn, pc)
			}
			typ := inst.funcs[fidx].typ
			if !typ.Equals(inst.module.Types[imm.TypeIdx]) {
				return nil, trapAt(errors.TrapIndirectCallMismatch, fn, pc)
			}
			if err := doCall(fidx, typ); err != nil {
				return nil, err
			}

		// Parametric
		case wasm.OpDrop:
			pop()
		case wasm.OpSelect, wasm.OpSelectType:
			c := pop()
			v2, v1 := pop(), pop()
			if c != 0 {
				push(v1)
			} else {
				push(v2)
			}

		// Variables
		case wasm.OpLocalGet:
			push(locals[ins.Imm.(wasm.LocalImm).LocalIdx])
		case wasm.OpLocalSet:
			locals[ins.Imm.(wasm.LocalImm).LocalIdx] = pop()
		case wasm.OpLocalTee:
			locals[ins.Imm.(wasm.LocalImm).LocalIdx] = stack[len(stack)-1]
		case wasm.OpGlobalGet:
			push(inst.globals[ins.Imm.(wasm.GlobalImm).GlobalIdx].raw)
		case wasm.OpGlobalSet:
			inst.globals[ins.Imm.(wasm.GlobalImm).GlobalIdx].raw = pop()

		// Tables
		case wasm.OpTableGet:
			i := uint32(pop())
			ref, ok := inst.table.Get(i)
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsTable, fn, pc)
			}
			push(ref)
		case wasm.OpTableSet:
			ref := pop()
			i := uint32(pop())
			if !inst.table.Set(i, ref) {
				return nil, trapAt(errors.TrapOutOfBoundsTable, fn, pc)
			}

		// Memory loads
		case wasm.OpI32Load:
			v, ok := mem.ReadUint32(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI64Load:
			v, ok := mem.ReadUint64(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(v)
		case wasm.OpF32Load:
			v, ok := mem.ReadUint32(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))
		case wasm.OpF64Load:
			v, ok := mem.ReadUint64(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(v)
		case wasm.OpI32Load8S:
			v, ok := mem.ReadByte(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(uint32(int32(int8(v)))))
		case wasm.OpI32Load8U:
			v, ok := mem.ReadByte(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI32Load16S:
			v, ok := mem.ReadUint16(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(uint32(int32(int16(v)))))
		case wasm.OpI32Load16U:
			v, ok := mem.ReadUint16(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI64Load8S:
			v, ok := mem.ReadByte(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(int64(int8(v))))
		case wasm.OpI64Load8U:
			v, ok := mem.ReadByte(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI64Load16S:
			v, ok := mem.ReadUint16(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(int64(int16(v))))
		case wasm.OpI64Load16U:
			v, ok := mem.ReadUint16(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI64Load32S:
			v, ok := mem.ReadUint32(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(int64(int32(v))))
		case wasm.OpI64Load32U:
			v, ok := mem.ReadUint32(memAddr(&stack, ins))
			if !ok {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
			push(uint64(v))

		// Memory stores
		case wasm.OpI32Store:
			v := uint32(pop())
			if !mem.WriteUint32(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
		case wasm.OpI64Store:
			v := pop()
			if !mem.WriteUint64(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
		case wasm.OpF32Store:
			v := uint32(pop())
			if !mem.WriteUint32(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
		case wasm.OpF64Store:
			v := pop()
			if !mem.WriteUint64(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
		case wasm.OpI32Store8, wasm.OpI64Store8:
			v := byte(pop())
			if !mem.WriteByte(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
		case wasm.OpI32Store16, wasm.OpI64Store16:
			v := uint16(pop())
			if !mem.WriteUint16(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}
		case wasm.OpI64Store32:
			v := uint32(pop())
			if !mem.WriteUint32(memAddr(&stack, ins), v) {
				return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
			}

		case wasm.OpMemorySize:
			push(uint64(mem.Size()))
		case wasm.OpMemoryGrow:
			n := uint32(pop())
			push(uint64(uint32(mem.Grow(n))))

		// Constants
		case wasm.OpI32Const:
			push(uint64(uint32(ins.Imm.(wasm.I32Imm).Value)))
		case wasm.OpI64Const:
			push(uint64(ins.Imm.(wasm.I64Imm).Value))
		case wasm.OpF32Const:
			push(f32raw(ins.Imm.(wasm.F32Imm).Value))
		case wasm.OpF64Const:
			push(f64raw(ins.Imm.(wasm.F64Imm).Value))

		// i32 comparisons
		case wasm.OpI32Eqz:
			push(boolToRaw(uint32(pop()) == 0))
		case wasm.OpI32Eq:
			b, a := uint32(pop()), uint32(pop())
			push(boolToRaw(a == b))
		case wasm.OpI32Ne:
			b, a := uint32(pop()), uint32(pop())
			push(boolToRaw(a != b))
		case wasm.OpI32LtS:
			b, a := int32(uint32(pop())), int32(uint32(pop()))
			push(boolToRaw(a < b))
		case wasm.OpI32LtU:
			b, a := uint32(pop()), uint32(pop())
			push(boolToRaw(a < b))
		case wasm.OpI32GtS:
			b, a := int32(uint32(pop())), int32(uint32(pop()))
			push(boolToRaw(a > b))
		case wasm.OpI32GtU:
			b, a := uint32(pop()), uint32(pop())
			push(boolToRaw(a > b))
		case wasm.OpI32LeS:
			b, a := int32(uint32(pop())), int32(uint32(pop()))
			push(boolToRaw(a <= b))
		case wasm.OpI32LeU:
			b, a := uint32(pop()), uint32(pop())
			push(boolToRaw(a <= b))
		case wasm.OpI32GeS:
			b, a := int32(uint32(pop())), int32(uint32(pop()))
			push(boolToRaw(a >= b))
		case wasm.OpI32GeU:
			b, a := uint32(pop()), uint32(pop())
			push(boolToRaw(a >= b))

		// i64 comparisons
		case wasm.OpI64Eqz:
			push(boolToRaw(pop() == 0))
		case wasm.OpI64Eq:
			b, a := pop(), pop()
			push(boolToRaw(a == b))
		case wasm.OpI64Ne:
			b, a := pop(), pop()
			push(boolToRaw(a != b))
		case wasm.OpI64LtS:
			b, a := int64(pop()), int64(pop())
			push(boolToRaw(a < b))
		case wasm.OpI64LtU:
			b, a := pop(), pop()
			push(boolToRaw(a < b))
		case wasm.OpI64GtS:
			b, a := int64(pop()), int64(pop())
			push(boolToRaw(a > b))
		case wasm.OpI64GtU:
			b, a := pop(), pop()
			push(boolToRaw(a > b))
		case wasm.OpI64LeS:
			b, a := int64(pop()), int64(pop())
			push(boolToRaw(a <= b))
		case wasm.OpI64LeU:
			b, a := pop(), pop()
			push(boolToRaw(a <= b))
		case wasm.OpI64GeS:
			b, a := int64(pop()), int64(pop())
			push(boolToRaw(a >= b))
		case wasm.OpI64GeU:
			b, a := pop(), pop()
			push(boolToRaw(a >= b))

		// float comparisons
		case wasm.OpF32Eq:
			b, a := rawf32(pop()), rawf32(pop())
			push(boolToRaw(a == b))
		case wasm.OpF32Ne:
			b, a := rawf32(pop()), rawf32(pop())
			push(boolToRaw(a != b))
		case wasm.OpF32Lt:
			b, a := rawf32(pop()), rawf32(pop())
			push(boolToRaw(a < b))
		case wasm.OpF32Gt:
			b, a := rawf32(pop()), rawf32(pop())
			push(boolToRaw(a > b))
		case wasm.OpF32Le:
			b, a := rawf32(pop()), rawf32(pop())
			push(boolToRaw(a <= b))
		case wasm.OpF32Ge:
			b, a := rawf32(pop()), rawf32(pop())
			push(boolToRaw(a >= b))
		case wasm.OpF64Eq:
			b, a := rawf64(pop()), rawf64(pop())
			push(boolToRaw(a == b))
		case wasm.OpF64Ne:
			b, a := rawf64(pop()), rawf64(pop())
			push(boolToRaw(a != b))
		case wasm.OpF64Lt:
			b, a := rawf64(pop()), rawf64(pop())
			push(boolToRaw(a < b))
		case wasm.OpF64Gt:
			b, a := rawf64(pop()), rawf64(pop())
			push(boolToRaw(a > b))
		case wasm.OpF64Le:
			b, a := rawf64(pop()), rawf64(pop())
			push(boolToRaw(a <= b))
		case wasm.OpF64Ge:
			b, a := rawf64(pop()), rawf64(pop())
			push(boolToRaw(a >= b))

		// i32 arithmetic
		case wasm.OpI32Clz:
			push(uint64(bits.LeadingZeros32(uint32(pop()))))
		case wasm.OpI32Ctz:
			push(uint64(bits.TrailingZeros32(uint32(pop()))))
		case wasm.OpI32Popcnt:
			push(uint64(bits.OnesCount32(uint32(pop()))))
		case wasm.OpI32Add:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a + b))
		case wasm.OpI32Sub:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a - b))
		case wasm.OpI32Mul:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a * b))
		case wasm.OpI32DivS:
			b, a := int32(uint32(pop())), int32(uint32(pop()))
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			if a == math.MinInt32 && b == -1 {
				return nil, trapAt(errors.TrapIntegerOverflow, fn, pc)
			}
			push(uint64(uint32(a / b)))
		case wasm.OpI32DivU:
			b, a := uint32(pop()), uint32(pop())
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			push(uint64(a / b))
		case wasm.OpI32RemS:
			b, a := int32(uint32(pop())), int32(uint32(pop()))
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			if a == math.MinInt32 && b == -1 {
				push(0)
			} else {
				push(uint64(uint32(a % b)))
			}
		case wasm.OpI32RemU:
			b, a := uint32(pop()), uint32(pop())
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			push(uint64(a % b))
		case wasm.OpI32And:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a & b))
		case wasm.OpI32Or:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a | b))
		case wasm.OpI32Xor:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a ^ b))
		case wasm.OpI32Shl:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a << (b & 31)))
		case wasm.OpI32ShrS:
			b, a := uint32(pop()), int32(uint32(pop()))
			push(uint64(uint32(a >> (b & 31))))
		case wasm.OpI32ShrU:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(a >> (b & 31)))
		case wasm.OpI32Rotl:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(bits.RotateLeft32(a, int(b))))
		case wasm.OpI32Rotr:
			b, a := uint32(pop()), uint32(pop())
			push(uint64(bits.RotateLeft32(a, -int(b))))

		// i64 arithmetic
		case wasm.OpI64Clz:
			push(uint64(bits.LeadingZeros64(pop())))
		case wasm.OpI64Ctz:
			push(uint64(bits.TrailingZeros64(pop())))
		case wasm.OpI64Popcnt:
			push(uint64(bits.OnesCount64(pop())))
		case wasm.OpI64Add:
			b, a := pop(), pop()
			push(a + b)
		case wasm.OpI64Sub:
			b, a := pop(), pop()
			push(a - b)
		case wasm.OpI64Mul:
			b, a := pop(), pop()
			push(a * b)
		case wasm.OpI64DivS:
			b, a := int64(pop()), int64(pop())
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			if a == math.MinInt64 && b == -1 {
				return nil, trapAt(errors.TrapIntegerOverflow, fn, pc)
			}
			push(uint64(a / b))
		case wasm.OpI64DivU:
			b, a := pop(), pop()
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			push(a / b)
		case wasm.OpI64RemS:
			b, a := int64(pop()), int64(pop())
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			if a == math.MinInt64 && b == -1 {
				push(0)
			} else {
				push(uint64(a % b))
			}
		case wasm.OpI64RemU:
			b, a := pop(), pop()
			if b == 0 {
				return nil, trapAt(errors.TrapIntegerDivideByZero, fn, pc)
			}
			push(a % b)
		case wasm.OpI64And:
			b, a := pop(), pop()
			push(a & b)
		case wasm.OpI64Or:
			b, a := pop(), pop()
			push(a | b)
		case wasm.OpI64Xor:
			b, a := pop(), pop()
			push(a ^ b)
		case wasm.OpI64Shl:
			b, a := pop(), pop()
			push(a << (b & 63))
		case wasm.OpI64ShrS:
			b, a := pop(), int64(pop())
			push(uint64(a >> (b & 63)))
		case wasm.OpI64ShrU:
			b, a := pop(), pop()
			push(a >> (b & 63))
		case wasm.OpI64Rotl:
			b, a := pop(), pop()
			push(bits.RotateLeft64(a, int(b&63)))
		case wasm.OpI64Rotr:
			b, a := pop(), pop()
			push(bits.RotateLeft64(a, -int(b&63)))

		// f32 arithmetic
		case wasm.OpF32Abs:
			push(pop() &^ (1 << 31))
		case wasm.OpF32Neg:
			push(pop() ^ (1 << 31))
		case wasm.OpF32Ceil:
			push(f32raw(float32(math.Ceil(float64(rawf32(pop()))))))
		case wasm.OpF32Floor:
			push(f32raw(float32(math.Floor(float64(rawf32(pop()))))))
		case wasm.OpF32Trunc:
			push(f32raw(float32(math.Trunc(float64(rawf32(pop()))))))
		case wasm.OpF32Nearest:
			push(f32raw(float32(math.RoundToEven(float64(rawf32(pop()))))))
		case wasm.OpF32Sqrt:
			push(f32raw(float32(math.Sqrt(float64(rawf32(pop()))))))
		case wasm.OpF32Add:
			b, a := rawf32(pop()), rawf32(pop())
			push(f32raw(a + b))
		case wasm.OpF32Sub:
			b, a := rawf32(pop()), rawf32(pop())
			push(f32raw(a - b))
		case wasm.OpF32Mul:
			b, a := rawf32(pop()), rawf32(pop())
			push(f32raw(a * b))
		case wasm.OpF32Div:
			b, a := rawf32(pop()), rawf32(pop())
			push(f32raw(a / b))
		case wasm.OpF32Min:
			b, a := rawf32(pop()), rawf32(pop())
			push(f32raw(fmin32(a, b)))
		case wasm.OpF32Max:
			b, a := rawf32(pop()), rawf32(pop())
			push(f32raw(fmax32(a, b)))
		case wasm.OpF32Copysign:
			b, a := pop(), pop()
			push(a&^(1<<31) | b&(1<<31))

		// f64 arithmetic
		case wasm.OpF64Abs:
			push(pop() &^ (1 << 63))
		case wasm.OpF64Neg:
			push(pop() ^ (1 << 63))
		case wasm.OpF64Ceil:
			push(f64raw(math.Ceil(rawf64(pop()))))
		case wasm.OpF64Floor:
			push(f64raw(math.Floor(rawf64(pop()))))
		case wasm.OpF64Trunc:
			push(f64raw(math.Trunc(rawf64(pop()))))
		case wasm.OpF64Nearest:
			push(f64raw(math.RoundToEven(rawf64(pop()))))
		case wasm.OpF64Sqrt:
			push(f64raw(math.Sqrt(rawf64(pop()))))
		case wasm.OpF64Add:
			b, a := rawf64(pop()), rawf64(pop())
			push(f64raw(a + b))
		case wasm.OpF64Sub:
			b, a := rawf64(pop()), rawf64(pop())
			push(f64raw(a - b))
		case wasm.OpF64Mul:
			b, a := rawf64(pop()), rawf64(pop())
			push(f64raw(a * b))
		case wasm.OpF64Div:
			b, a := rawf64(pop()), rawf64(pop())
			push(f64raw(a / b))
		case wasm.OpF64Min:
			b, a := rawf64(pop()), rawf64(pop())
			push(f64raw(fmin(a, b)))
		case wasm.OpF64Max:
			b, a := rawf64(pop()), rawf64(pop())
			push(f64raw(fmax(a, b)))
		case wasm.OpF64Copysign:
			b, a := pop(), pop()
			push(a&^(1<<63) | b&(1<<63))

		// Conversions
		case wasm.OpI32WrapI64:
			push(uint64(uint32(pop())))
		case wasm.OpI32TruncF32S:
			v, kind := truncS(float64(rawf32(pop())), 32)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(uint64(uint32(int32(v))))
		case wasm.OpI32TruncF32U:
			v, kind := truncU(float64(rawf32(pop())), 32)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(v)
		case wasm.OpI32TruncF64S:
			v, kind := truncS(rawf64(pop()), 32)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(uint64(uint32(int32(v))))
		case wasm.OpI32TruncF64U:
			v, kind := truncU(rawf64(pop()), 32)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(v)
		case wasm.OpI64ExtendI32S:
			push(uint64(int64(int32(uint32(pop())))))
		case wasm.OpI64ExtendI32U:
			push(uint64(uint32(pop())))
		case wasm.OpI64TruncF32S:
			v, kind := truncS(float64(rawf32(pop())), 64)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI64TruncF32U:
			v, kind := truncU(float64(rawf32(pop())), 64)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(v)
		case wasm.OpI64TruncF64S:
			v, kind := truncS(rawf64(pop()), 64)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(uint64(v))
		case wasm.OpI64TruncF64U:
			v, kind := truncU(rawf64(pop()), 64)
			if kind != "" {
				return nil, trapAt(kind, fn, pc)
			}
			push(v)
		case wasm.OpF32ConvertI32S:
			push(f32raw(float32(int32(uint32(pop())))))
		case wasm.OpF32ConvertI32U:
			push(f32raw(float32(uint32(pop()))))
		case wasm.OpF32ConvertI64S:
			push(f32raw(float32(int64(pop()))))
		case wasm.OpF32ConvertI64U:
			push(f32raw(float32(pop())))
		case wasm.OpF32DemoteF64:
			push(f32raw(float32(rawf64(pop()))))
		case wasm.OpF64ConvertI32S:
			push(f64raw(float64(int32(uint32(pop())))))
		case wasm.OpF64ConvertI32U:
			push(f64raw(float64(uint32(pop()))))
		case wasm.OpF64ConvertI64S:
			push(f64raw(float64(int64(pop()))))
		case wasm.OpF64ConvertI64U:
			push(f64raw(float64(pop())))
		case wasm.OpF64PromoteF32:
			push(f64raw(float64(rawf32(pop()))))
		case wasm.OpI32ReinterpretF32, wasm.OpI64ReinterpretF64,
			wasm.OpF32ReinterpretI32, wasm.OpF64ReinterpretI64:
			// Raw stack slots already carry the bit pattern.

		// Sign extension
		case wasm.OpI32Extend8S:
			push(uint64(uint32(int32(int8(uint8(pop()))))))
		case wasm.OpI32Extend16S:
			push(uint64(uint32(int32(int16(uint16(pop()))))))
		case wasm.OpI64Extend8S:
			push(uint64(int64(int8(uint8(pop())))))
		case wasm.OpI64Extend16S:
			push(uint64(int64(int16(uint16(pop())))))
		case wasm.OpI64Extend32S:
			push(uint64(int64(int32(uint32(pop())))))

		// References
		case wasm.OpRefNull:
			push(refNull)
		case wasm.OpRefIsNull:
			push(boolToRaw(pop() == refNull))
		case wasm.OpRefFunc:
			push(uint64(ins.Imm.(wasm.RefFuncImm).FuncIdx) + 1)

		case wasm.OpPrefixMisc:
			imm := ins.Imm.(wasm.MiscImm)
			switch imm.SubOpcode {
			case wasm.MiscI32TruncSatF32S:
				push(uint64(uint32(int32(truncSatS(float64(rawf32(pop())), 32)))))
			case wasm.MiscI32TruncSatF32U:
				push(truncSatU(float64(rawf32(pop())), 32))
			case wasm.MiscI32TruncSatF64S:
				push(uint64(uint32(int32(truncSatS(rawf64(pop()), 32)))))
			case wasm.MiscI32TruncSatF64U:
				push(truncSatU(rawf64(pop()), 32))
			case wasm.MiscI64TruncSatF32S:
				push(uint64(truncSatS(float64(rawf32(pop())), 64)))
			case wasm.MiscI64TruncSatF32U:
				push(truncSatU(float64(rawf32(pop())), 64))
			case wasm.MiscI64TruncSatF64S:
				push(uint64(truncSatS(rawf64(pop()), 64)))
			case wasm.MiscI64TruncSatF64U:
				push(truncSatU(rawf64(pop()), 64))
			case wasm.MiscMemoryInit:
				n, s, d := uint32(pop()), uint32(pop()), uint32(pop())
				seg := inst.data[imm.Operands[0]]
				if uint64(s)+uint64(n) > uint64(len(seg)) {
					return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
				}
				if !mem.Write(d, seg[s:][:n]) {
					return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
				}
			case wasm.MiscDataDrop:
				inst.data[imm.Operands[0]] = nil
			case wasm.MiscMemoryCopy:
				n, s, d := uint32(pop()), uint32(pop()), uint32(pop())
				if !mem.Copy(d, s, n) {
					return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
				}
			case wasm.MiscMemoryFill:
				n, v, d := uint32(pop()), byte(pop()), uint32(pop())
				if !mem.Fill(d, n, v) {
					return nil, trapAt(errors.TrapOutOfBoundsMemory, fn, pc)
				}
			}

		default:
			return nil, errors.InvalidInput(errors.PhaseRuntime,
				fmt.Sprintf("unhandled opcode 0x%02x", ins.Opcode))
		}
		pc++
	}

	n := len(fn.typ.Results)
	results := make([]uint64, n)
	copy(results, stack[len(stack)-n:])
	return results, nil
}

// memAddr pops the base address and applies the static offset. The stack
// is passed by pointer so the helper can shrink it in place.
func memAddr(stack *[]uint64, ins *wasm.Instruction) uint64 {
	s := *stack
	base := uint32(s[len(s)-1])
	*stack = s[:len(s)-1]
	return uint64(base) + uint64(ins.Imm.(wasm.MemoryImm).Offset)
}

func f32raw(f float32) uint64 {
	return uint64(math.Float32bits(f))
}

func f64raw(f float64) uint64 {
	return math.Float64bits(f)
}

func rawf32(r uint64) float32 {
	return math.Float32frombits(uint32(r))
}

func rawf64(r uint64) float64 {
	return math.Float64frombits(r)
}
