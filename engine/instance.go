package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/wasm"
)

// Instance is an instantiated module: resolved imports, allocated memory,
// table, and globals, and compiled function bodies ready for execution.
//
// An Instance is not safe for concurrent invocation.
type Instance struct {
	module  *wasm.Module
	cfg     *Config
	funcs   []function
	globals []*GlobalInstance
	memory  *Memory
	table   *Table

	// data holds passive data segment payloads, indexed like the module's
	// data section. Active and dropped segments are nil.
	data [][]byte
}

// NewInstance instantiates a module: imports are resolved against the
// import object in declaration order, globals are initialized, element and
// data segments applied, and the start function (if any) executed.
//
// The module must already be validated; instantiation assumes structurally
// sound indices.
func NewInstance(ctx context.Context, m *wasm.Module, imports *ImportObject, cfg *Config) (*Instance, error) {
	inst := &Instance{module: m, cfg: cfg}

	if err := inst.resolveImports(imports); err != nil {
		return nil, err
	}
	if err := inst.allocate(); err != nil {
		return nil, err
	}
	if err := inst.compileFuncs(); err != nil {
		return nil, errors.Instantiation(err)
	}
	if err := inst.initGlobals(); err != nil {
		return nil, errors.Instantiation(err)
	}
	if err := inst.applyElements(); err != nil {
		return nil, err
	}
	if err := inst.applyData(); err != nil {
		return nil, err
	}

	if m.Start != nil {
		debugf("running start function %d", *m.Start)
		es := newExecState(ctx, cfg)
		if _, err := inst.callRaw(es, *m.Start, nil); err != nil {
			return nil, errors.Instantiation(err)
		}
	}

	Logger().Debug("module instantiated",
		zap.Int("functions", len(inst.funcs)),
		zap.Int("globals", len(inst.globals)),
		zap.Bool("memory", inst.memory != nil))
	return inst, nil
}

// resolveImports binds every import declaration to a host-provided entity,
// checking types and limits.
func (inst *Instance) resolveImports(imports *ImportObject) error {
	for _, imp := range inst.module.Imports {
		path := []string{imp.Module, imp.Name}
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			host := imports.lookupFunc(imp.Module, imp.Name)
			if host == nil {
				return errors.MissingImport(imp.Module, imp.Name, "function not registered")
			}
			want := inst.module.Types[imp.Desc.TypeIdx]
			if !host.Type.Equals(want) {
				return errors.TypeMismatch(errors.PhaseLink, path, want.String(), host.Type.String())
			}
			inst.funcs = append(inst.funcs, function{
				typ:  &host.Type,
				host: host,
				idx:  uint32(len(inst.funcs)),
			})

		case wasm.KindGlobal:
			g := imports.lookupGlobal(imp.Module, imp.Name)
			if g == nil {
				return errors.MissingImport(imp.Module, imp.Name, "global not registered")
			}
			want := *imp.Desc.Global
			if g.typ != want {
				return errors.TypeMismatch(errors.PhaseLink, path,
					globalTypeString(want), globalTypeString(g.typ))
			}
			inst.globals = append(inst.globals, g)

		case wasm.KindMemory:
			mem := imports.lookupMemory(imp.Module, imp.Name)
			if mem == nil {
				return errors.MissingImport(imp.Module, imp.Name, "memory not registered")
			}
			lim := imp.Desc.Memory.Limits
			if mem.Size() < lim.Min {
				return errors.MissingImport(imp.Module, imp.Name,
					fmt.Sprintf("memory too small: have %d pages, need %d", mem.Size(), lim.Min))
			}
			if lim.Max != nil && mem.Max() > *lim.Max {
				return errors.MissingImport(imp.Module, imp.Name,
					fmt.Sprintf("memory limit too large: have max %d pages, need at most %d", mem.Max(), *lim.Max))
			}
			inst.memory = mem

		case wasm.KindTable:
			tbl := imports.lookupTable(imp.Module, imp.Name)
			if tbl == nil {
				return errors.MissingImport(imp.Module, imp.Name, "table not registered")
			}
			tt := imp.Desc.Table
			if tbl.ElemType() != tt.ElemType {
				return errors.TypeMismatch(errors.PhaseLink, path,
					tt.ElemType.String(), tbl.ElemType().String())
			}
			if tbl.Size() < tt.Limits.Min {
				return errors.MissingImport(imp.Module, imp.Name,
					fmt.Sprintf("table too small: have %d entries, need %d", tbl.Size(), tt.Limits.Min))
			}
			if tt.Limits.Max != nil && tbl.max > *tt.Limits.Max {
				return errors.MissingImport(imp.Module, imp.Name,
					fmt.Sprintf("table limit too large: have max %d, need at most %d", tbl.max, *tt.Limits.Max))
			}
			inst.table = tbl
		}
	}
	return nil
}

// allocate creates the instance's own memory, table, and global slots.
func (inst *Instance) allocate() error {
	for i := range inst.module.Memories {
		mt := &inst.module.Memories[i]
		max := mt.Limits.Max
		if limit := inst.cfg.memoryLimit(); limit > 0 {
			if max == nil || *max > limit {
				max = &limit
			}
		}
		inst.memory = NewMemory(mt.Limits.Min, max)
	}
	for i := range inst.module.Tables {
		inst.table = NewTable(inst.module.Tables[i])
	}
	return nil
}

func (inst *Instance) compileFuncs() error {
	for i, typeIdx := range inst.module.Funcs {
		funcIdx := uint32(len(inst.funcs))
		fn, err := compileFunc(inst.module, funcIdx, i)
		if err != nil {
			return err
		}
		inst.funcs = append(inst.funcs, function{
			typ:  &inst.module.Types[typeIdx],
			code: fn,
			idx:  funcIdx,
		})
	}
	return nil
}

func (inst *Instance) initGlobals() error {
	for i := range inst.module.Globals {
		g := &inst.module.Globals[i]
		raw, err := inst.evalInitExpr(g.Init)
		if err != nil {
			return fmt.Errorf("global %d init: %w", len(inst.globals), err)
		}
		inst.globals = append(inst.globals, &GlobalInstance{typ: g.Type, raw: raw})
	}
	return nil
}

// applyElements writes active element segments into the table. Out of
// bounds ranges fail instantiation; nothing is partially applied before
// the failing segment per segment order.
func (inst *Instance) applyElements() error {
	for i := range inst.module.Elements {
		seg := &inst.module.Elements[i]
		if !seg.IsActive() {
			continue
		}
		offRaw, err := inst.evalInitExpr(seg.Offset)
		if err != nil {
			return errors.Instantiation(fmt.Errorf("element %d offset: %w", i, err))
		}
		offset := uint32(offRaw)

		refs := make([]uint64, 0, len(seg.FuncIdxs)+len(seg.Exprs))
		for _, fidx := range seg.FuncIdxs {
			refs = append(refs, uint64(fidx)+1)
		}
		for _, expr := range seg.Exprs {
			raw, err := inst.evalInitExpr(expr)
			if err != nil {
				return errors.Instantiation(fmt.Errorf("element %d expr: %w", i, err))
			}
			refs = append(refs, raw)
		}

		if inst.table == nil || !inst.table.setRange(offset, refs) {
			return errors.Instantiation(fmt.Errorf("element segment %d out of bounds", i))
		}
	}
	return nil
}

// applyData writes active data segments into memory and retains passive
// segment payloads for memory.init.
func (inst *Instance) applyData() error {
	inst.data = make([][]byte, len(inst.module.Data))
	for i := range inst.module.Data {
		seg := &inst.module.Data[i]
		if seg.IsPassive() {
			inst.data[i] = seg.Init
			continue
		}
		offRaw, err := inst.evalInitExpr(seg.Offset)
		if err != nil {
			return errors.Instantiation(fmt.Errorf("data %d offset: %w", i, err))
		}
		if inst.memory == nil || !inst.memory.Write(uint32(offRaw), seg.Init) {
			return errors.Instantiation(fmt.Errorf("data segment %d out of bounds", i))
		}
	}
	return nil
}

// evalInitExpr evaluates a constant expression to its raw value. Globals
// referenced here are imported ones, which are already bound.
func (inst *Instance) evalInitExpr(expr []byte) (uint64, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return 0, err
	}
	if len(instrs) != 2 || instrs[1].Opcode != wasm.OpEnd {
		return 0, fmt.Errorf("malformed constant expression")
	}
	ins := instrs[0]
	switch ins.Opcode {
	case wasm.OpI32Const:
		return uint64(uint32(ins.Imm.(wasm.I32Imm).Value)), nil
	case wasm.OpI64Const:
		return uint64(ins.Imm.(wasm.I64Imm).Value), nil
	case wasm.OpF32Const:
		return F32(ins.Imm.(wasm.F32Imm).Value).Raw(), nil
	case wasm.OpF64Const:
		return F64(ins.Imm.(wasm.F64Imm).Value).Raw(), nil
	case wasm.OpGlobalGet:
		idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(inst.globals) {
			return 0, fmt.Errorf("global index %d out of range", idx)
		}
		return inst.globals[idx].raw, nil
	case wasm.OpRefNull:
		return refNull, nil
	case wasm.OpRefFunc:
		return uint64(ins.Imm.(wasm.RefFuncImm).FuncIdx) + 1, nil
	default:
		return 0, fmt.Errorf("non-constant opcode 0x%02x in constant expression", ins.Opcode)
	}
}

// Module returns the underlying parsed module.
func (inst *Instance) Module() *wasm.Module {
	return inst.module
}

// Memory returns the instance's linear memory, or nil if it has none.
func (inst *Instance) Memory() *Memory {
	return inst.memory
}

// Table returns the instance's table, or nil if it has none.
func (inst *Instance) Table() *Table {
	return inst.table
}

// Global returns the global at the given index, spanning imports then
// declared globals.
func (inst *Instance) Global(idx uint32) *GlobalInstance {
	if int(idx) >= len(inst.globals) {
		return nil
	}
	return inst.globals[idx]
}

// ExportedGlobal returns the global exported under name, or nil.
func (inst *Instance) ExportedGlobal(name string) *GlobalInstance {
	exp := inst.module.GetExport(name)
	if exp == nil || exp.Kind != wasm.KindGlobal {
		return nil
	}
	return inst.Global(exp.Idx)
}

// FuncType returns the signature of the exported function with the given
// name, or nil if no such function export exists.
func (inst *Instance) FuncType(name string) *wasm.FuncType {
	exp := inst.module.GetExport(name)
	if exp == nil || exp.Kind != wasm.KindFunc {
		return nil
	}
	return inst.funcs[exp.Idx].typ
}

// Call invokes a function by its index in the function index space,
// including non-exported and imported functions.
func (inst *Instance) Call(ctx context.Context, funcIdx uint32, args ...Value) ([]Value, error) {
	if int(funcIdx) >= len(inst.funcs) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("function index %d out of range", funcIdx))
	}
	typ := inst.funcs[funcIdx].typ
	if len(args) != len(typ.Params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("function %d expects %d arguments, got %d", funcIdx, len(typ.Params), len(args)))
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		if a.Type() != typ.Params[i] {
			return nil, errors.TypeMismatch(errors.PhaseRuntime,
				[]string{fmt.Sprintf("func%d", funcIdx), fmt.Sprintf("arg%d", i)},
				typ.Params[i].String(), a.Type().String())
		}
		raw[i] = a.Raw()
	}

	es := newExecState(ctx, inst.cfg)
	out, err := inst.callRaw(es, funcIdx, raw)
	if err != nil {
		return nil, err
	}
	results := make([]Value, len(out))
	for i, r := range out {
		results[i] = valueFromRaw(r, typ.Results[i])
	}
	return results, nil
}

// Invoke calls the exported function with the given name. Argument count
// and types must match the export's signature exactly.
func (inst *Instance) Invoke(ctx context.Context, name string, args ...Value) ([]Value, error) {
	exp := inst.module.GetExport(name)
	if exp == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if exp.Kind != wasm.KindFunc {
		return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{name}, "function export", exportKindString(exp.Kind))
	}

	typ := inst.funcs[exp.Idx].typ
	if len(args) != len(typ.Params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s expects %d arguments, got %d", name, len(typ.Params), len(args)))
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		if a.Type() != typ.Params[i] {
			return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{name, fmt.Sprintf("arg%d", i)},
				typ.Params[i].String(), a.Type().String())
		}
		raw[i] = a.Raw()
	}

	es := newExecState(ctx, inst.cfg)
	out, err := inst.callRaw(es, exp.Idx, raw)
	if err != nil {
		return nil, err
	}

	results := make([]Value, len(out))
	for i, r := range out {
		results[i] = valueFromRaw(r, typ.Results[i])
	}
	return results, nil
}

func globalTypeString(t wasm.GlobalType) string {
	if t.Mutable {
		return "mut " + t.ValType.String()
	}
	return t.ValType.String()
}

func exportKindString(kind byte) string {
	switch kind {
	case wasm.KindFunc:
		return "function export"
	case wasm.KindTable:
		return "table export"
	case wasm.KindMemory:
		return "memory export"
	case wasm.KindGlobal:
		return "global export"
	default:
		return "unknown export"
	}
}
