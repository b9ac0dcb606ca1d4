package engine

import (
	"encoding/binary"

	"github.com/reefvm/reef/wasm"
)

// Memory is a linear memory instance. Growth is page-granular; all byte
// access is little-endian and bounds-checked against the current size.
type Memory struct {
	data []byte
	max  uint32 // in pages
}

// NewMemory allocates a memory with min pages, capped at max pages.
// The effective maximum is clamped to the 4GB address space limit.
func NewMemory(min uint32, max *uint32) *Memory {
	limit := uint32(wasm.MemoryMaxPages)
	if max != nil && *max < limit {
		limit = *max
	}
	return &Memory{
		data: make([]byte, int(min)*int(wasm.PageSize)),
		max:  limit,
	}
}

// Size returns the current size in pages.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data) / int(wasm.PageSize))
}

// Max returns the maximum size in pages.
func (m *Memory) Max() uint32 {
	return m.max
}

// Grow extends the memory by delta pages and returns the previous size in
// pages, or -1 if growth would exceed the maximum.
func (m *Memory) Grow(delta uint32) int32 {
	old := m.Size()
	if delta == 0 {
		return int32(old)
	}
	if uint64(old)+uint64(delta) > uint64(m.max) {
		return -1
	}
	m.data = append(m.data, make([]byte, int(delta)*int(wasm.PageSize))...)
	return int32(old)
}

// Bytes returns the backing byte slice. Callers must not grow it.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Read copies size bytes starting at offset. It returns false when the
// range is out of bounds.
func (m *Memory) Read(offset, size uint32) ([]byte, bool) {
	if !m.inBounds(uint64(offset), uint64(size)) {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, m.data[offset:])
	return out, true
}

// Write copies data into memory at offset. It returns false when the
// range is out of bounds.
func (m *Memory) Write(offset uint32, data []byte) bool {
	if !m.inBounds(uint64(offset), uint64(len(data))) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}

// ReadByte returns the byte at addr.
func (m *Memory) ReadByte(addr uint64) (byte, bool) {
	if !m.inBounds(addr, 1) {
		return 0, false
	}
	return m.data[addr], true
}

// ReadUint16 returns the little-endian 16-bit value at addr.
func (m *Memory) ReadUint16(addr uint64) (uint16, bool) {
	if !m.inBounds(addr, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.data[addr:]), true
}

// ReadUint32 returns the little-endian 32-bit value at addr.
func (m *Memory) ReadUint32(addr uint64) (uint32, bool) {
	if !m.inBounds(addr, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.data[addr:]), true
}

// ReadUint64 returns the little-endian 64-bit value at addr.
func (m *Memory) ReadUint64(addr uint64) (uint64, bool) {
	if !m.inBounds(addr, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.data[addr:]), true
}

// WriteByte stores a byte at addr.
func (m *Memory) WriteByte(addr uint64, v byte) bool {
	if !m.inBounds(addr, 1) {
		return false
	}
	m.data[addr] = v
	return true
}

// WriteUint16 stores a little-endian 16-bit value at addr.
func (m *Memory) WriteUint16(addr uint64, v uint16) bool {
	if !m.inBounds(addr, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.data[addr:], v)
	return true
}

// WriteUint32 stores a little-endian 32-bit value at addr.
func (m *Memory) WriteUint32(addr uint64, v uint32) bool {
	if !m.inBounds(addr, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.data[addr:], v)
	return true
}

// WriteUint64 stores a little-endian 64-bit value at addr.
func (m *Memory) WriteUint64(addr uint64, v uint64) bool {
	if !m.inBounds(addr, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.data[addr:], v)
	return true
}

// Fill sets size bytes starting at offset to v.
func (m *Memory) Fill(offset, size uint32, v byte) bool {
	if !m.inBounds(uint64(offset), uint64(size)) {
		return false
	}
	region := m.data[offset:][:size]
	for i := range region {
		region[i] = v
	}
	return true
}

// Copy moves size bytes from src to dst within the memory. Overlapping
// ranges behave like memmove.
func (m *Memory) Copy(dst, src, size uint32) bool {
	if !m.inBounds(uint64(dst), uint64(size)) || !m.inBounds(uint64(src), uint64(size)) {
		return false
	}
	copy(m.data[dst:][:size], m.data[src:][:size])
	return true
}

func (m *Memory) inBounds(addr, size uint64) bool {
	return addr+size <= uint64(len(m.data))
}
