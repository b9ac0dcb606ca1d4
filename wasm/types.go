package wasm

import "strings"

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	// Required when data indices appear in code (bulk memory operations).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (t FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range t.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Equals reports whether two function types have identical signatures.
func (t FuncType) Equals(other FuncType) bool {
	return typesEqual(t, other)
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsNum reports whether v is a numeric value type.
func (v ValType) IsNum() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64:
		return true
	}
	return false
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// IsActive reports whether the segment is applied to a table at instantiation.
func (e *Element) IsActive() bool {
	return e.Flags&0x01 == 0
}

// IsDeclarative reports whether the segment only forward-declares functions.
func (e *Element) IsDeclarative() bool {
	return e.Flags == 3 || e.Flags == 7
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// IsPassive reports whether the segment is only applied via memory.init.
func (d *DataSegment) IsPassive() bool {
	return d.Flags == 1
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			count++
		}
	}
	return count
}

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			count++
		}
	}
	return count
}

// NumFuncs returns the total function index space size (imports + declared).
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumTables returns the total table index space size.
func (m *Module) NumTables() int {
	return m.NumImportedTables() + len(m.Tables)
}

// NumMemories returns the total memory index space size.
func (m *Module) NumMemories() int {
	return m.NumImportedMemories() + len(m.Memories)
}

// NumGlobals returns the total global index space size.
func (m *Module) NumGlobals() int {
	return m.NumImportedGlobals() + len(m.Globals)
}

// GetFuncType returns the type of a function by its index
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for i, imp := range m.Imports {
			if imp.Desc.Kind == KindFunc {
				if funcIdx == 0 {
					return m.getFuncTypeByIdx(m.Imports[i].Desc.TypeIdx)
				}
				funcIdx--
			}
		}
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.getFuncTypeByIdx(m.Funcs[localIdx])
}

// GetGlobalType returns the type of a global by its index, spanning imports
// then declared globals. Returns nil when the index is out of range.
func (m *Module) GetGlobalType(globalIdx uint32) *GlobalType {
	numImported := uint32(m.NumImportedGlobals())
	if globalIdx < numImported {
		for i, imp := range m.Imports {
			if imp.Desc.Kind == KindGlobal {
				if globalIdx == 0 {
					return m.Imports[i].Desc.Global
				}
				globalIdx--
			}
		}
	}
	localIdx := globalIdx - numImported
	if int(localIdx) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[localIdx].Type
}

// GetTableType returns the type of a table by its index, spanning imports
// then declared tables. Returns nil when the index is out of range.
func (m *Module) GetTableType(tableIdx uint32) *TableType {
	numImported := uint32(m.NumImportedTables())
	if tableIdx < numImported {
		for i, imp := range m.Imports {
			if imp.Desc.Kind == KindTable {
				if tableIdx == 0 {
					return m.Imports[i].Desc.Table
				}
				tableIdx--
			}
		}
	}
	localIdx := tableIdx - numImported
	if int(localIdx) >= len(m.Tables) {
		return nil
	}
	return &m.Tables[localIdx]
}

// GetExport returns the export with the given name, or nil if absent.
func (m *Module) GetExport(name string) *Export {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			return &m.Exports[i]
		}
	}
	return nil
}

func (m *Module) getFuncTypeByIdx(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if typesEqual(t, ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

func typesEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
