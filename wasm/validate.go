package wasm

import "fmt"

// Validate checks the module for structural validity and type-checks
// every function body.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateFunctionIndices(); err != nil {
		return err
	}
	if err := m.validateTableIndices(); err != nil {
		return err
	}
	if err := m.validateMemoryIndices(); err != nil {
		return err
	}
	if err := m.validateGlobalIndices(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateDataCount(); err != nil {
		return err
	}
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateGlobalInits(); err != nil {
		return err
	}
	if err := m.validateElementInits(); err != nil {
		return err
	}
	if err := m.validateDataInits(); err != nil {
		return err
	}
	if err := m.validateCode(); err != nil {
		return err
	}
	return nil
}

// ValidateCode runs only the code pass: every function body is
// type-checked against its declared signature. Validate includes this;
// it is exposed for callers that already know the module is structurally
// sound.
func (m *Module) ValidateCode() error {
	return m.validateCode()
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))

	// Check function type indices
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}

	// Check import type indices
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}

	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	// Check start function
	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}

	// Check element function indices
	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}

	// Check export function indices
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumTables())
	if numTables > 1 {
		return fmt.Errorf("at most one table is allowed, module defines %d", numTables)
	}

	// Check element table indices (only for active segments)
	for i, elem := range m.Elements {
		if elem.IsActive() && elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}

	// Check export table indices
	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumMemories())
	if numMemories > 1 {
		return fmt.Errorf("at most one memory is allowed, module defines %d", numMemories)
	}

	// Check data segment memory indices (only for active segments)
	for i, data := range m.Data {
		if !data.IsPassive() && data.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}

	// Check export memory indices
	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(m.NumGlobals())

	// Check export global indices
	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool)
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}

	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}

	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(funcType.Params), len(funcType.Results))
	}

	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) validateGlobalInits() error {
	for i, g := range m.Globals {
		if err := m.validateInitExpr(g.Init, g.Type.ValType); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	return nil
}

func (m *Module) validateElementInits() error {
	for i, elem := range m.Elements {
		if elem.IsActive() {
			if err := m.validateInitExpr(elem.Offset, ValI32); err != nil {
				return fmt.Errorf("element %d offset: %w", i, err)
			}
		}
		for j, expr := range elem.Exprs {
			if err := m.validateInitExpr(expr, elem.Type); err != nil {
				return fmt.Errorf("element %d, expr %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func (m *Module) validateDataInits() error {
	for i, d := range m.Data {
		if !d.IsPassive() {
			if err := m.validateInitExpr(d.Offset, ValI32); err != nil {
				return fmt.Errorf("data segment %d offset: %w", i, err)
			}
		}
	}
	return nil
}

// validateInitExpr checks that a constant expression consists of a single
// allowed instruction producing the expected type, followed by end.
func (m *Module) validateInitExpr(expr []byte, expected ValType) error {
	instrs, err := DecodeInstructions(expr)
	if err != nil {
		return err
	}
	if len(instrs) != 2 || instrs[1].Opcode != OpEnd {
		return fmt.Errorf("constant expression must be a single instruction followed by end")
	}

	var got ValType
	switch in := instrs[0]; in.Opcode {
	case OpI32Const:
		got = ValI32
	case OpI64Const:
		got = ValI64
	case OpF32Const:
		got = ValF32
	case OpF64Const:
		got = ValF64
	case OpGlobalGet:
		imm := in.Imm.(GlobalImm)
		numImported := uint32(m.NumImportedGlobals())
		if imm.GlobalIdx >= numImported {
			return fmt.Errorf("constant expression may only read imported globals, got index %d", imm.GlobalIdx)
		}
		gt := m.GetGlobalType(imm.GlobalIdx)
		if gt.Mutable {
			return fmt.Errorf("constant expression reads mutable global %d", imm.GlobalIdx)
		}
		got = gt.ValType
	case OpRefNull:
		got = in.Imm.(RefNullImm).Type
	case OpRefFunc:
		imm := in.Imm.(RefFuncImm)
		if imm.FuncIdx >= uint32(m.NumFuncs()) {
			return fmt.Errorf("ref.func references invalid function index %d", imm.FuncIdx)
		}
		got = ValFuncRef
	default:
		return fmt.Errorf("opcode 0x%02x not allowed in constant expression", in.Opcode)
	}

	if got != expected {
		return fmt.Errorf("constant expression has type %s, expected %s", got, expected)
	}
	return nil
}

func (m *Module) validateCode() error {
	numImported := m.NumImportedFuncs()
	for i := range m.Code {
		if err := m.validateFuncBody(uint32(i)); err != nil {
			return fmt.Errorf("function %d: %w", numImported+i, err)
		}
	}
	return nil
}
