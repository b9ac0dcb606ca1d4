package runtime_test

import (
	"bytes"
	"context"
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/runtime"
	"github.com/reefvm/reef/wasm"
)

// strlenModule counts bytes until NUL starting at the argument address.
// "Hello World!\0" sits at offset 1024.
func strlenModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{{
			Locals: []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
			Code: []byte{
				0x02, 0x40, // block
				0x03, 0x40, // loop
				0x20, 0x00, // local.get 0
				0x2D, 0x00, 0x00, // i32.load8_u
				0x45,       // i32.eqz
				0x0D, 0x01, // br_if 1
				0x20, 0x00, 0x41, 0x01, 0x6A, 0x21, 0x00, // ptr++
				0x20, 0x01, 0x41, 0x01, 0x6A, 0x21, 0x01, // len++
				0x0C, 0x00, // br 0
				0x0B, // end loop
				0x0B, // end block
				0x20, 0x01, // local.get 1
				0x0B,
			},
		}},
		Exports: []wasm.Export{{Name: "strlen", Kind: wasm.KindFunc, Idx: 0}},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x41, 0x80, 0x08, 0x0B}, Init: []byte("Hello World!\x00")},
		},
	}
}

func TestScenarioStrlen(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(strlenModule().Encode())
	require.NoError(t, err)

	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	out, err := inst.Invoke(ctx, "strlen", engine.I32(1024))
	require.NoError(t, err)
	require.Equal(t, int32(12), out[0].I32())

	// A fresh instance of the same module gives the same answer.
	inst2, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)
	out2, err := inst2.Invoke(ctx, "strlen", engine.I32(1024))
	require.NoError(t, err)
	require.Equal(t, out[0].Raw(), out2[0].Raw())
}

// greetModule's entry point logs "Hello World!" from offset 1024 and
// returns 0.
func greetModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Results: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
		},
		Imports: []wasm.Import{
			{Module: "reef", Name: "log", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{{
			Code: []byte{
				0x41, 0x80, 0x08, // i32.const 1024
				0x41, 0x0C, // i32.const 12
				0x10, 0x00, // call 0
				0x41, 0x00, // i32.const 0
				0x0B,
			},
		}},
		Exports: []wasm.Export{{Name: "reef_main", Kind: wasm.KindFunc, Idx: 1}},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x41, 0x80, 0x08, 0x0B}, Init: []byte("Hello World!")},
		},
	}
}

func TestScenarioLogCall(t *testing.T) {
	var sink bytes.Buffer
	calls := 0

	r := runtime.New()
	require.NoError(t, runtime.RegisterHostModule(r.Imports(), runtime.HostConfig{
		LogWriter: writerFunc(func(p []byte) (int, error) {
			calls++
			return sink.Write(p)
		}),
	}))

	mod, err := r.LoadModule(greetModule().Encode())
	require.NoError(t, err)

	name, ok := mod.EntryExport("")
	require.True(t, ok)
	require.Equal(t, "reef_main", name)

	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	out, err := inst.Invoke(ctx, name)
	require.NoError(t, err)
	require.Equal(t, int32(0), out[0].I32())
	require.Equal(t, 1, calls)
	require.Equal(t, "Hello World!", sink.String())
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestScenarioMissingExport(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(strlenModule().Encode())
	require.NoError(t, err)

	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	_, err = inst.Invoke(ctx, "nope")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound})
	require.Contains(t, err.Error(), `"nope"`)
}

func pokePeekModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:    []uint32{0, 1},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x36, 0x02, 0x00, 0x0B}}, // i32.store
			{Code: []byte{0x20, 0x00, 0x2D, 0x00, 0x00, 0x0B}},             // i32.load8_u
		},
		Exports: []wasm.Export{
			{Name: "poke", Kind: wasm.KindFunc, Idx: 0},
			{Name: "peek", Kind: wasm.KindFunc, Idx: 1},
		},
	}
}

func TestScenarioOutOfBoundsStore(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(pokePeekModule().Encode())
	require.NoError(t, err)

	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	_, err = inst.Invoke(ctx, "poke", engine.I32(0), engine.I32(-1))
	require.NoError(t, err)

	// Straddles the end of memory: no bytes may be written.
	_, err = inst.Invoke(ctx, "poke", engine.I32(65534), engine.I32(-1))
	var te *errors.TrapError
	require.True(t, goerrors.As(err, &te))
	require.Equal(t, errors.TrapOutOfBoundsMemory, te.TrapKind)

	out, err := inst.Invoke(ctx, "peek", engine.I32(65534))
	require.NoError(t, err)
	require.Equal(t, int32(0), out[0].I32())
	out, err = inst.Invoke(ctx, "peek", engine.I32(65535))
	require.NoError(t, err)
	require.Equal(t, int32(0), out[0].I32())
}

// indirectModule dispatches through a funcref table: slot 0 holds a
// matching function, slot 1 one of a different type.
func indirectModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Funcs: []uint32{0, 1, 2},
		Tables: []wasm.TableType{
			{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{0x20, 0x00, 0x20, 0x00, 0x6C, 0x0B}},             // square
			{Code: []byte{0x20, 0x01, 0x20, 0x00, 0x11, 0x00, 0x00, 0x0B}}, // dispatch
			{Code: []byte{0x0B}},
		},
		Exports: []wasm.Export{{Name: "dispatch", Kind: wasm.KindFunc, Idx: 1}},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{0x41, 0x00, 0x0B}, FuncIdxs: []uint32{0, 2}},
		},
	}
}

func TestScenarioIndirectCallMismatch(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(indirectModule().Encode())
	require.NoError(t, err)

	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	out, err := inst.Invoke(ctx, "dispatch", engine.I32(0), engine.I32(7))
	require.NoError(t, err)
	require.Equal(t, int32(49), out[0].I32())

	_, err = inst.Invoke(ctx, "dispatch", engine.I32(1), engine.I32(7))
	var te *errors.TrapError
	require.True(t, goerrors.As(err, &te))
	require.Equal(t, errors.TrapIndirectCallMismatch, te.TrapKind)
}

func TestLoadModuleErrors(t *testing.T) {
	r := runtime.New()

	_, err := r.LoadModule([]byte("not wasm at all"))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})

	// Well-formed binary, structurally invalid: export of a function
	// that does not exist.
	bad := &wasm.Module{
		Exports: []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Idx: 9}},
	}
	_, err = r.LoadModule(bad.Encode())
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindInvalidData})
}

func TestEntryExportFallback(t *testing.T) {
	m := strlenModule()
	m.Exports[0].Name = "main"
	r := runtime.New()
	mod, err := r.LoadModule(m.Encode())
	require.NoError(t, err)

	name, ok := mod.EntryExport("")
	require.True(t, ok)
	require.Equal(t, "main", name)

	name, ok = mod.EntryExport("strlen")
	require.False(t, ok)
	require.Equal(t, "strlen", name)

	name, ok = mod.EntryExport("main")
	require.True(t, ok)
	require.Equal(t, "main", name)

	_, ok = mod.EntryExport("")
	require.True(t, ok)
}

func TestHostProgress(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValF32}},
		},
		Imports: []wasm.Import{
			{Module: "reef", Name: "progress", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: []byte{0x20, 0x00, 0x10, 0x00, 0x0B}}},
		Exports: []wasm.Export{{Name: "report", Kind: wasm.KindFunc, Idx: 1}},
	}

	var got []float32
	r := runtime.New()
	require.NoError(t, runtime.RegisterHostModule(r.Imports(), runtime.HostConfig{
		OnProgress: func(f float32) { got = append(got, f) },
	}))

	mod, err := r.LoadModule(m.Encode())
	require.NoError(t, err)
	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	_, err = inst.Invoke(ctx, "report", engine.F32(0.5))
	require.NoError(t, err)
	_, err = inst.Invoke(ctx, "report", engine.F32(1))
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 1}, got)

	_, err = inst.Invoke(ctx, "report", engine.F32(1.5))
	var te *errors.TrapError
	require.True(t, goerrors.As(err, &te))
	require.Equal(t, errors.TrapHostError, te.TrapKind)
}

func TestHostLogBounds(t *testing.T) {
	m := greetModule()
	// len reaches past the end of the single memory page.
	m.Code[0].Code = []byte{
		0x41, 0x80, 0x08, // i32.const 1024
		0x41, 0x80, 0x80, 0x04, // i32.const 65536
		0x10, 0x00,
		0x41, 0x00,
		0x0B,
	}

	r := runtime.New()
	require.NoError(t, runtime.RegisterHostModule(r.Imports(), runtime.HostConfig{}))

	mod, err := r.LoadModule(m.Encode())
	require.NoError(t, err)
	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	_, err = inst.Invoke(ctx, "reef_main")
	var te *errors.TrapError
	require.True(t, goerrors.As(err, &te))
	require.Equal(t, errors.TrapHostError, te.TrapKind)
}

func TestRuntimeFuelOption(t *testing.T) {
	m := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: []byte{0x03, 0x40, 0x0C, 0x00, 0x0B, 0x0B}}}, // loop { br 0 }
		Exports: []wasm.Export{{Name: "spin", Kind: wasm.KindFunc, Idx: 0}},
	}
	r := runtime.New(runtime.WithMaxFuel(500))
	mod, err := r.LoadModule(m.Encode())
	require.NoError(t, err)

	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	_, err = inst.Invoke(ctx, "spin")
	var te *errors.TrapError
	require.True(t, goerrors.As(err, &te))
	require.Equal(t, errors.TrapFuelExhausted, te.TrapKind)
}
