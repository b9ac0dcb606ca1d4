package runtime_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/runtime"
	"github.com/reefvm/reef/wasm"
)

// Differential tests run the same binaries on this interpreter and on
// wazero's, and require identical results. Both represent values as raw
// uint64 bits, so results compare directly.

func invokeOurs(t *testing.T, binary []byte, fn string, args ...uint64) ([]uint64, error) {
	t.Helper()
	r := runtime.New()
	mod, err := r.LoadModule(binary)
	require.NoError(t, err)
	ctx := context.Background()
	inst, err := r.Instantiate(ctx, mod)
	require.NoError(t, err)

	ft := inst.FuncType(fn)
	require.NotNil(t, ft)
	vals := make([]engine.Value, len(args))
	for i, a := range args {
		vals[i] = engine.ValueFromRaw(a, ft.Params[i])
	}
	out, err := inst.Invoke(ctx, fn, vals...)
	if err != nil {
		return nil, err
	}
	raw := make([]uint64, len(out))
	for i, v := range out {
		raw[i] = v.Raw()
	}
	return raw, nil
}

func invokeWazero(t *testing.T, binary []byte, fn string, args ...uint64) ([]uint64, error) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)
	mod, err := r.Instantiate(ctx, binary)
	require.NoError(t, err)
	return mod.ExportedFunction(fn).Call(ctx, args...)
}

func requireSameOutcome(t *testing.T, binary []byte, fn string, args ...uint64) {
	t.Helper()
	ours, ourErr := invokeOurs(t, binary, fn, args...)
	theirs, theirErr := invokeWazero(t, binary, fn, args...)
	if theirErr != nil {
		require.Error(t, ourErr, "wazero trapped, we did not: %s%v", fn, args)
		return
	}
	require.NoError(t, ourErr, "we trapped, wazero did not: %s%v", fn, args)
	require.Equal(t, theirs, ours, "%s%v", fn, args)
}

// arithModule exports one function per operation under test.
func arithModule() *wasm.Module {
	i32 := wasm.ValI32
	i64 := wasm.ValI64
	f64 := wasm.ValF64
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}},
			{Params: []wasm.ValType{f64, f64}, Results: []wasm.ValType{f64}},
			{Params: []wasm.ValType{f64}, Results: []wasm.ValType{f64}},
			{Params: []wasm.ValType{f64}, Results: []wasm.ValType{i32}},
			{Params: []wasm.ValType{i64, i64}, Results: []wasm.ValType{i64}},
			{Params: []wasm.ValType{i32}, Results: []wasm.ValType{i32}},
		},
		Funcs: []uint32{0, 0, 0, 1, 2, 3, 3, 4, 5, 5, 5, 5},
		Code: []wasm.FuncBody{
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x6D, 0x0B}},       // i32.div_s
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x6F, 0x0B}},       // i32.rem_s
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x77, 0x0B}},       // i32.rotl
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0xA4, 0x0B}},       // f64.min
			{Code: []byte{0x20, 0x00, 0x9E, 0x0B}},                   // f64.nearest
			{Code: []byte{0x20, 0x00, 0xAA, 0x0B}},                   // i32.trunc_f64_s
			{Code: []byte{0x20, 0x00, 0xFC, 0x02, 0x0B}},             // i32.trunc_sat_f64_s
			{Code: []byte{0x20, 0x00, 0x20, 0x01, 0x89, 0x0B}},       // i64.rotl
			{Code: []byte{0x20, 0x00, 0xC0, 0x0B}},                   // i32.extend8_s
			{Code: []byte{0x20, 0x00, 0x67, 0x0B}},                   // i32.clz
			// i32.const 1, local.get 0, br_if 0, drop, i32.const 2
			{Code: []byte{0x41, 0x01, 0x20, 0x00, 0x0D, 0x00, 0x1A, 0x41, 0x02, 0x0B}},
			// i32.const 33, local.get 0, br_table default 0
			{Code: []byte{0x41, 0x21, 0x20, 0x00, 0x0E, 0x00, 0x00, 0x0B}},
		},
		Exports: []wasm.Export{
			{Name: "div_s", Kind: wasm.KindFunc, Idx: 0},
			{Name: "rem_s", Kind: wasm.KindFunc, Idx: 1},
			{Name: "rotl", Kind: wasm.KindFunc, Idx: 2},
			{Name: "fmin", Kind: wasm.KindFunc, Idx: 3},
			{Name: "nearest", Kind: wasm.KindFunc, Idx: 4},
			{Name: "trunc", Kind: wasm.KindFunc, Idx: 5},
			{Name: "trunc_sat", Kind: wasm.KindFunc, Idx: 6},
			{Name: "rotl64", Kind: wasm.KindFunc, Idx: 7},
			{Name: "ext8", Kind: wasm.KindFunc, Idx: 8},
			{Name: "clz", Kind: wasm.KindFunc, Idx: 9},
			{Name: "escape", Kind: wasm.KindFunc, Idx: 10},
			{Name: "escape_table", Kind: wasm.KindFunc, Idx: 11},
		},
	}
}

func u32(v int32) uint64 { return uint64(uint32(v)) }

func f64bits(f float64) uint64 { return math.Float64bits(f) }

func TestDifferentialIntegerOps(t *testing.T) {
	binary := arithModule().Encode()

	pairs := [][2]int32{
		{7, 3}, {-7, 3}, {7, -3}, {-7, -3},
		{math.MinInt32, -1}, {math.MinInt32, 1}, {1, 0}, {0, 5},
		{math.MaxInt32, 2}, {-1, math.MaxInt32},
	}
	for _, p := range pairs {
		requireSameOutcome(t, binary, "div_s", u32(p[0]), u32(p[1]))
		requireSameOutcome(t, binary, "rem_s", u32(p[0]), u32(p[1]))
		requireSameOutcome(t, binary, "rotl", u32(p[0]), u32(p[1]))
	}
	for _, v := range []int32{0, 1, -1, 127, 128, 255, 256, math.MinInt32} {
		requireSameOutcome(t, binary, "ext8", u32(v))
		requireSameOutcome(t, binary, "clz", u32(v))
	}
	requireSameOutcome(t, binary, "rotl64", math.MaxUint64, 17)
	requireSameOutcome(t, binary, "rotl64", 0x8000000000000001, 65)
}

func TestDifferentialFloatOps(t *testing.T) {
	binary := arithModule().Encode()

	floats := []float64{
		0, math.Copysign(0, -1), 1, -1, 0.5, -0.5, 1.5, 2.5, -2.5,
		math.Inf(1), math.Inf(-1), math.NaN(),
		2147483647.9, 2147483648, -2147483648.9, -2147483649,
		math.MaxFloat64, math.SmallestNonzeroFloat64,
	}
	for _, a := range floats {
		requireSameOutcome(t, binary, "nearest", f64bits(a))
		requireSameOutcome(t, binary, "trunc", f64bits(a))
		requireSameOutcome(t, binary, "trunc_sat", f64bits(a))
		for _, b := range floats {
			requireSameOutcome(t, binary, "fmin", f64bits(a), f64bits(b))
		}
	}
}

func TestDifferentialBranchToBody(t *testing.T) {
	binary := arithModule().Encode()
	for _, v := range []int32{0, 1, -1, 255} {
		requireSameOutcome(t, binary, "escape", u32(v))
		requireSameOutcome(t, binary, "escape_table", u32(v))
	}
}

func TestDifferentialStrlen(t *testing.T) {
	binary := strlenModule().Encode()
	requireSameOutcome(t, binary, "strlen", 1024)
	requireSameOutcome(t, binary, "strlen", 1030)
}

func TestDifferentialIndirect(t *testing.T) {
	binary := indirectModule().Encode()
	for _, slot := range []uint64{0, 1, 5} {
		requireSameOutcome(t, binary, "dispatch", slot, u32(9))
	}
}
