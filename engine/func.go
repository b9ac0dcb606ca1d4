package engine

import (
	"fmt"

	"github.com/reefvm/reef/wasm"
)

// function is one entry in an instance's function index space. Exactly one
// of host or code is set.
type function struct {
	typ  *wasm.FuncType
	host *HostFunc
	code *compiledFunc
	idx  uint32
}

// compiledFunc is a guest function prepared for interpretation: decoded
// instructions plus control metadata resolved ahead of execution so branch
// targets are O(1) at run time.
type compiledFunc struct {
	typ       *wasm.FuncType
	instrs    []wasm.Instruction
	meta      []ctrlMeta
	locals    []wasm.ValType // declared locals, params excluded
	numParams int
	funcIdx   uint32
}

// ctrlMeta describes a structured control instruction. It is populated for
// block, loop, and if entries; other slots are zero.
type ctrlMeta struct {
	elsePC  int // pc of the matching else, or -1
	endPC   int // pc of the matching end
	params  int
	results int
}

// compileFunc decodes a function body and resolves its control structure.
// funcIdx is the absolute function index, localIdx the position in the
// code section.
func compileFunc(m *wasm.Module, funcIdx uint32, localIdx int) (*compiledFunc, error) {
	body := &m.Code[localIdx]
	typ := m.GetFuncType(funcIdx)
	if typ == nil {
		return nil, fmt.Errorf("function %d has no type", funcIdx)
	}

	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, fmt.Errorf("function %d: %w", funcIdx, err)
	}

	var locals []wasm.ValType
	for _, entry := range body.Locals {
		for i := uint32(0); i < entry.Count; i++ {
			locals = append(locals, entry.ValType)
		}
	}

	fn := &compiledFunc{
		typ:       typ,
		instrs:    instrs,
		meta:      make([]ctrlMeta, len(instrs)),
		locals:    locals,
		numParams: len(typ.Params),
		funcIdx:   funcIdx,
	}
	if err := fn.resolveControl(m); err != nil {
		return nil, fmt.Errorf("function %d: %w", funcIdx, err)
	}
	return fn, nil
}

// resolveControl matches block/loop/if instructions with their else and end,
// and records block arities. The final end closes the function body itself.
func (fn *compiledFunc) resolveControl(m *wasm.Module) error {
	var open []int // pcs of unclosed block/loop/if; -1 marks the body frame
	open = append(open, -1)

	for pc, ins := range fn.instrs {
		switch ins.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			bt := ins.Imm.(wasm.BlockImm).Type
			params, results, err := blockArity(m, bt)
			if err != nil {
				return err
			}
			fn.meta[pc] = ctrlMeta{elsePC: -1, endPC: -1, params: params, results: results}
			open = append(open, pc)

		case wasm.OpElse:
			if len(open) < 2 {
				return fmt.Errorf("else outside of if at pc %d", pc)
			}
			at := open[len(open)-1]
			if at < 0 || fn.instrs[at].Opcode != wasm.OpIf {
				return fmt.Errorf("else without matching if at pc %d", pc)
			}
			fn.meta[at].elsePC = pc

		case wasm.OpEnd:
			if len(open) == 0 {
				return fmt.Errorf("unbalanced end at pc %d", pc)
			}
			at := open[len(open)-1]
			open = open[:len(open)-1]
			if at >= 0 {
				fn.meta[at].endPC = pc
				if ePC := fn.meta[at].elsePC; ePC >= 0 {
					// The else shares the if's end.
					fn.meta[ePC] = ctrlMeta{elsePC: -1, endPC: pc}
				}
			} else if len(open) != 0 || pc != len(fn.instrs)-1 {
				return fmt.Errorf("unbalanced end at pc %d", pc)
			}
		}
	}
	if len(open) != 0 {
		return fmt.Errorf("unclosed control frame")
	}
	return nil
}

// blockArity resolves a block type to its parameter and result counts.
func blockArity(m *wasm.Module, bt int32) (params, results int, err error) {
	if bt == wasm.BlockTypeVoid {
		return 0, 0, nil
	}
	if bt < 0 {
		// Shorthand for a single result type.
		return 0, 1, nil
	}
	if int(bt) >= len(m.Types) {
		return 0, 0, fmt.Errorf("block type index %d out of range", bt)
	}
	ft := &m.Types[bt]
	return len(ft.Params), len(ft.Results), nil
}
