package engine_test

import (
	"context"
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/wasm"
)

func requireLinkError(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLink, Kind: kind})
}

func TestMissingImport(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
	}
	require.NoError(t, m.Validate())

	_, err := engine.NewInstance(context.Background(), m, engine.NewImportObject(), nil)
	requireLinkError(t, err, errors.KindMissingImport)

	_, err = engine.NewInstance(context.Background(), m, nil, nil)
	requireLinkError(t, err, errors.KindMissingImport)
}

func TestImportTypeMismatch(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}}},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
	}
	require.NoError(t, m.Validate())

	imports := engine.NewImportObject()
	require.NoError(t, imports.RegisterFunc("env", "f",
		wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}},
		func(cc *engine.CallContext, args []engine.Value) ([]engine.Value, error) {
			return nil, nil
		}))

	_, err := engine.NewInstance(context.Background(), m, imports, nil)
	requireLinkError(t, err, errors.KindTypeMismatch)
}

func TestDuplicateRegistration(t *testing.T) {
	imports := engine.NewImportObject()
	fn := func(cc *engine.CallContext, args []engine.Value) ([]engine.Value, error) {
		return nil, nil
	}
	require.NoError(t, imports.RegisterFunc("env", "f", wasm.FuncType{}, fn))

	err := imports.RegisterFunc("env", "f", wasm.FuncType{}, fn)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindRegistration})

	// Same name under a different module is fine.
	require.NoError(t, imports.RegisterFunc("env2", "f", wasm.FuncType{}, fn))
}

func TestImportedMemory(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
		Imports: []wasm.Import{
			{Module: "env", Name: "mem", Desc: wasm.ImportDesc{
				Kind:   wasm.KindMemory,
				Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 2}},
			}},
		},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: []byte{0x20, 0x00, 0x2D, 0x00, 0x00, 0x0B}}}, // i32.load8_u
		Exports: []wasm.Export{{Name: "load8", Kind: wasm.KindFunc, Idx: 0}},
	}
	require.NoError(t, m.Validate())

	// Too small: one page against a two page minimum.
	small := engine.NewImportObject()
	require.NoError(t, small.RegisterMemory("env", "mem", engine.NewMemory(1, nil)))
	_, err := engine.NewInstance(context.Background(), m, small, nil)
	requireLinkError(t, err, errors.KindMissingImport)

	// Large enough, and shared with the host.
	shared := engine.NewMemory(2, nil)
	require.True(t, shared.WriteByte(7, 0x5A))
	imports := engine.NewImportObject()
	require.NoError(t, imports.RegisterMemory("env", "mem", shared))

	inst, err := engine.NewInstance(context.Background(), m, imports, nil)
	require.NoError(t, err)
	out, err := inst.Invoke(context.Background(), "load8", engine.I32(7))
	require.NoError(t, err)
	require.Equal(t, int32(0x5A), out[0].I32())
	require.Same(t, shared, inst.Memory())
}

func TestStartFunction(t *testing.T) {
	start := uint32(0)
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: []byte{0x41, 0x00, 0x0B}},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{0x41, 0x2A, 0x24, 0x00, 0x0B}}, // g = 42
		},
		Exports: []wasm.Export{{Name: "g", Kind: wasm.KindGlobal, Idx: 0}},
		Start:   &start,
	}
	inst := instantiate(t, m, nil, nil)

	g := inst.ExportedGlobal("g")
	require.NotNil(t, g)
	require.Equal(t, int32(42), g.Get().I32())
}

func TestStartFunctionTrap(t *testing.T) {
	start := uint32(0)
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{0x00, 0x0B}}}, // unreachable
		Start: &start,
	}
	require.NoError(t, m.Validate())

	_, err := engine.NewInstance(context.Background(), m, nil, nil)
	requireLinkError(t, err, errors.KindInstantiation)

	var te *errors.TrapError
	require.True(t, goerrors.As(err, &te))
	require.Equal(t, errors.TrapUnreachable, te.TrapKind)
}

func TestElementSegmentOutOfBounds(t *testing.T) {
	m := &wasm.Module{
		Types:  []wasm.FuncType{{}},
		Funcs:  []uint32{0},
		Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}},
		Code:   []wasm.FuncBody{{Code: []byte{0x0B}}},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{0x41, 0x02, 0x0B}, FuncIdxs: []uint32{0}},
		},
	}
	require.NoError(t, m.Validate())

	_, err := engine.NewInstance(context.Background(), m, nil, nil)
	requireLinkError(t, err, errors.KindInstantiation)
}

func TestDataSegmentOutOfBounds(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x41, 0xFF, 0xFF, 0x03, 0x0B}, Init: []byte{1, 2, 3}}, // 65535
		},
	}
	require.NoError(t, m.Validate())

	_, err := engine.NewInstance(context.Background(), m, nil, nil)
	requireLinkError(t, err, errors.KindInstantiation)
}

func TestDeclarativeElementSkipped(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{0x0B}}},
		Elements: []wasm.Element{
			{Flags: 3, ElemKind: 0, FuncIdxs: []uint32{0}},
		},
	}
	inst := instantiate(t, m, nil, nil)
	require.Nil(t, inst.Table())
}

func TestFuncTypeLookup(t *testing.T) {
	ft := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	m := singleFuncModule(ft, nil, []byte{0x20, 0x00, 0x0B})
	inst := instantiate(t, m, nil, nil)

	got := inst.FuncType("run")
	require.NotNil(t, got)
	require.True(t, got.Equals(ft))
	require.Nil(t, inst.FuncType("nope"))
}
