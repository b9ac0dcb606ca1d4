package engine

import (
	"math"

	"github.com/reefvm/reef/errors"
)

// Truncation bounds; 2^31, 2^32, 2^63, and 2^64 are exact in float64.
var (
	maxI32F = math.Ldexp(1, 31)
	maxU32F = math.Ldexp(1, 32)
	maxI64F = math.Ldexp(1, 63)
	maxU64F = math.Ldexp(1, 64)
)

// truncS converts a float to a signed integer with bits-wide range,
// trapping on NaN and out-of-range values.
func truncS(f float64, bits int) (int64, errors.TrapKind) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	t := math.Trunc(f)
	var hi float64
	if bits == 32 {
		hi = maxI32F
	} else {
		hi = maxI64F
	}
	if t >= hi || t < -hi {
		return 0, errors.TrapIntegerOverflow
	}
	return int64(t), ""
}

// truncU converts a float to an unsigned integer with bits-wide range,
// trapping on NaN and out-of-range values.
func truncU(f float64, bits int) (uint64, errors.TrapKind) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	t := math.Trunc(f)
	var hi float64
	if bits == 32 {
		hi = maxU32F
	} else {
		hi = maxU64F
	}
	if t >= hi || t <= -1 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(t), ""
}

// truncSatS is the saturating form of truncS: NaN becomes 0 and
// out-of-range values clamp.
func truncSatS(f float64, bits int) int64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	var hi float64
	if bits == 32 {
		hi = maxI32F
	} else {
		hi = maxI64F
	}
	if t >= hi {
		if bits == 32 {
			return math.MaxInt32
		}
		return math.MaxInt64
	}
	if t < -hi {
		if bits == 32 {
			return math.MinInt32
		}
		return math.MinInt64
	}
	return int64(t)
}

// truncSatU is the saturating form of truncU.
func truncSatU(f float64, bits int) uint64 {
	if math.IsNaN(f) || f <= -1 {
		return 0
	}
	t := math.Trunc(f)
	var hi float64
	if bits == 32 {
		hi = maxU32F
	} else {
		hi = maxU64F
	}
	if t >= hi {
		if bits == 32 {
			return math.MaxUint32
		}
		return math.MaxUint64
	}
	return uint64(t)
}

// fmin implements min with WebAssembly NaN and signed-zero semantics.
func fmin(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		// min(-0, +0) is -0
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

// fmax implements max with WebAssembly NaN and signed-zero semantics.
func fmax(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		// max(-0, +0) is +0
		if math.Signbit(a) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

// fmin32 and fmax32 apply the same semantics at float32 width. The
// comparison is exact in float64, so only the NaN payload differs.
func fmin32(a, b float32) float32 {
	return float32(fmin(float64(a), float64(b)))
}

func fmax32(a, b float32) float32 {
	return float32(fmax(float64(a), float64(b)))
}

func boolToRaw(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
