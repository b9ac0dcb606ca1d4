package engine

import (
	"github.com/reefvm/reef/wasm"
)

// Table is a table instance holding raw reference values. Entries use the
// same encoding as Value references: 0 is null, i+1 refers to function i.
type Table struct {
	elems    []uint64
	max      uint32
	elemType wasm.ValType
}

// NewTable allocates a table with min null entries, capped at max entries.
func NewTable(t wasm.TableType) *Table {
	limit := uint32(0xFFFFFFFF)
	if t.Limits.Max != nil {
		limit = *t.Limits.Max
	}
	return &Table{
		elems:    make([]uint64, t.Limits.Min),
		max:      limit,
		elemType: t.ElemType,
	}
}

// Size returns the current number of entries.
func (t *Table) Size() uint32 {
	return uint32(len(t.elems))
}

// ElemType returns the table's element type.
func (t *Table) ElemType() wasm.ValType {
	return t.elemType
}

// Get returns the raw reference at idx.
func (t *Table) Get(idx uint32) (uint64, bool) {
	if idx >= uint32(len(t.elems)) {
		return 0, false
	}
	return t.elems[idx], true
}

// Set stores a raw reference at idx.
func (t *Table) Set(idx uint32, ref uint64) bool {
	if idx >= uint32(len(t.elems)) {
		return false
	}
	t.elems[idx] = ref
	return true
}

// Grow extends the table by delta null entries and returns the previous
// size, or -1 if growth would exceed the maximum.
func (t *Table) Grow(delta uint32, init uint64) int32 {
	old := uint32(len(t.elems))
	if delta == 0 {
		return int32(old)
	}
	if uint64(old)+uint64(delta) > uint64(t.max) {
		return -1
	}
	for i := uint32(0); i < delta; i++ {
		t.elems = append(t.elems, init)
	}
	return int32(old)
}

// setRange stores refs starting at offset, bounds-checked as a whole.
func (t *Table) setRange(offset uint32, refs []uint64) bool {
	if uint64(offset)+uint64(len(refs)) > uint64(len(t.elems)) {
		return false
	}
	copy(t.elems[offset:], refs)
	return true
}
