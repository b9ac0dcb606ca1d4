package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/reefvm/reef/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x01}, 255},
		{[]byte{0x80, 0x02}, 256},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0x80, 0x80, 0x01}, 16384},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			// Test encoding
			var buf bytes.Buffer
			wasm.WriteLEB128u(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			// Test decoding
			r := bytes.NewReader(tt.encoded)
			got, err := wasm.ReadLEB128u(r)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0xbf, 0x7f}, -65},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x07}, 2147483647},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x78}, -2147483648},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128s(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			r := bytes.NewReader(tt.encoded)
			got, err := wasm.ReadLEB128s(r)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128Signed64(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, 9223372036854775807},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}, -9223372036854775808},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128s64(&buf, tt.value)
		if !bytes.Equal(buf.Bytes(), tt.encoded) {
			t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
		}

		r := bytes.NewReader(tt.encoded)
		got, err := wasm.ReadLEB128s64(r)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != tt.value {
			t.Errorf("decode: got %d, want %d", got, tt.value)
		}
	}
}

func TestLEB128Overlong(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
		signed  bool
	}{
		// 0 encoded in 5 bytes with junk in the final byte
		{"u32 high bits set", []byte{0x80, 0x80, 0x80, 0x80, 0x10}, false},
		// 6-byte encoding can never be valid for a 32-bit value
		{"u32 six bytes", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, false},
		// Final byte carries bits beyond the 32-bit range
		{"s32 positive overflow", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, true},
		{"s32 six bytes", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.encoded)
			var err error
			if tt.signed {
				_, err = wasm.ReadLEB128s(r)
			} else {
				_, err = wasm.ReadLEB128u(r)
			}
			if !errors.Is(err, wasm.ErrOverflow) {
				t.Errorf("expected ErrOverflow, got %v", err)
			}
		})
	}
}

func TestLEB128Truncated(t *testing.T) {
	r := bytes.NewReader([]byte{0x80, 0x80})
	if _, err := wasm.ReadLEB128u(r); err == nil {
		t.Error("expected error for truncated input")
	}
}
