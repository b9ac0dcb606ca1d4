package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/reefvm/reef/wasm"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func TestParseModuleHeader(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		data    []byte
	}{
		{wasm.ErrInvalidMagic, "bad magic", []byte{0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00}},
		{wasm.ErrInvalidVersion, "bad version", []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}},
		{nil, "truncated", []byte{0x00, 0x61}},
		{nil, "empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseModuleEmpty(t *testing.T) {
	m, err := wasm.ParseModule(header)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Types) != 0 || len(m.Funcs) != 0 {
		t.Error("empty module should have no sections")
	}
}

func TestParseModuleSectionOrder(t *testing.T) {
	// Function section before type section
	data := append([]byte{}, header...)
	data = append(data, 0x03, 0x02, 0x01, 0x00) // function section: 1 entry, type 0
	data = append(data, 0x01, 0x04, 0x01, 0x60, 0x00, 0x00) // type section

	_, err := wasm.ParseModule(data)
	if err == nil {
		t.Fatal("expected error for out-of-order sections")
	}
}

func TestParseModuleDuplicateExportName(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0, 0},
		Code:  []wasm.FuncBody{{Code: []byte{0x0B}}, {Code: []byte{0x0B}}},
		Exports: []wasm.Export{
			{Name: "f", Kind: wasm.KindFunc, Idx: 0},
			{Name: "f", Kind: wasm.KindFunc, Idx: 1},
		},
	}

	if _, err := wasm.ParseModule(m.Encode()); err == nil {
		t.Fatal("expected error for duplicate export name")
	}
}

func TestParseModuleUnknownSection(t *testing.T) {
	data := append([]byte{}, header...)
	data = append(data, 0x0D, 0x01, 0x00) // section ID 13

	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected error for unknown section ID")
	}
}

func TestParseModuleTrailingSectionBytes(t *testing.T) {
	data := append([]byte{}, header...)
	data = append(data, 0x01, 0x03, 0x00, 0x00, 0x00) // type section: count 0, 2 junk bytes

	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected error for trailing section bytes")
	}
}

func TestParseModuleCustomSections(t *testing.T) {
	data := append([]byte{}, header...)
	// Custom section "name" with 2 bytes of data
	data = append(data, 0x00, 0x07, 0x04, 'n', 'a', 'm', 'e', 0xAA, 0xBB)
	// Type section afterwards still parses
	data = append(data, 0x01, 0x04, 0x01, 0x60, 0x00, 0x00)

	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.CustomSections) != 1 || m.CustomSections[0].Name != "name" {
		t.Fatalf("custom section not captured: %+v", m.CustomSections)
	}
	if !bytes.Equal(m.CustomSections[0].Data, []byte{0xAA, 0xBB}) {
		t.Error("custom section data mismatch")
	}
	if len(m.Types) != 1 {
		t.Error("type section after custom section not parsed")
	}
}

func TestParseModuleRejectsSharedMemory(t *testing.T) {
	data := append([]byte{}, header...)
	data = append(data, 0x05, 0x04, 0x01, 0x03, 0x01, 0x01) // memory section, limits flags 0x03

	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected error for shared memory limits")
	}
}

func TestParseModuleRejectsOverlongSize(t *testing.T) {
	// Section size 0 encoded in five bytes with junk high bits
	data := append([]byte{}, header...)
	data = append(data, 0x01, 0x80, 0x80, 0x80, 0x80, 0x70)

	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected error for overlong section size")
	}
}

func TestModuleRoundTrip(t *testing.T) {
	start := uint32(1)
	maxMem := uint32(4)
	dataCount := uint32(2)

	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "reef", Name: "log", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
			{Module: "env", Name: "tbl", Desc: wasm.ImportDesc{
				Kind:  wasm.KindTable,
				Table: &wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}},
			}},
		},
		Funcs: []uint32{0, 1},
		Memories: []wasm.MemoryType{
			{Limits: wasm.Limits{Min: 1, Max: &maxMem}},
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: []byte{0x41, 0x2A, 0x0B}},
		},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		},
		Start: &start,
		Elements: []wasm.Element{
			{Flags: 0, Type: wasm.ValFuncRef, Offset: []byte{0x41, 0x00, 0x0B}, FuncIdxs: []uint32{1, 2}},
		},
		DataCount: &dataCount,
		Code: []wasm.FuncBody{
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}},
			{Locals: []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI64}}, Code: []byte{0x0B}},
		},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x41, 0x00, 0x0B}, Init: []byte("Hello World!")},
			{Flags: 1, Init: []byte{1, 2, 3}},
		},
		CustomSections: []wasm.CustomSection{
			{Name: "producers", Data: []byte{0x00}},
		},
	}

	encoded := m.Encode()
	parsed, err := wasm.ParseModule(encoded)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	reencoded := parsed.Encode()
	if !bytes.Equal(reencoded, encoded) {
		t.Fatalf("round trip not byte-identical:\n got %x\nwant %x", reencoded, encoded)
	}

	if len(parsed.Imports) != 2 || parsed.Imports[0].Module != "reef" {
		t.Error("imports not preserved")
	}
	if parsed.Start == nil || *parsed.Start != 1 {
		t.Error("start section not preserved")
	}
	if parsed.DataCount == nil || *parsed.DataCount != 2 {
		t.Error("data count section not preserved")
	}
	if len(parsed.Code) != 2 || len(parsed.Code[1].Locals) != 1 {
		t.Error("code section not preserved")
	}
	if string(parsed.Data[0].Init) != "Hello World!" {
		t.Error("data segment not preserved")
	}
}

func TestParseModuleValidate(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}},
		},
		Exports: []wasm.Export{{Name: "add", Kind: wasm.KindFunc, Idx: 0}},
	}

	parsed, err := wasm.ParseModuleValidate(m.Encode())
	if err != nil {
		t.Fatalf("ParseModuleValidate: %v", err)
	}
	if parsed.GetExport("add") == nil {
		t.Error("missing add export")
	}

	// Corrupt the type index and expect validation failure
	m.Funcs[0] = 7
	if _, err := wasm.ParseModuleValidate(m.Encode()); err == nil {
		t.Error("expected validation error for bad type index")
	}
}
