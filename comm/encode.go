package comm

import (
	"encoding/binary"
	"math"
)

// Fixed-width little-endian codec helpers. Strategies serialize their wire
// records by hand from these primitives; there is no reflection-based
// marshalling anywhere on the transport path.

// AppendInt32 appends one int32.
func AppendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

// Int32At reads the int32 at byte offset off.
func Int32At(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

// AppendInt32s appends a length-prefixed int32 vector.
func AppendInt32s(b []byte, v []int32) []byte {
	b = AppendInt32(b, int32(len(v)))
	for _, x := range v {
		b = AppendInt32(b, x)
	}
	return b
}

// Int32sAt reads a length-prefixed int32 vector at byte offset off and
// returns it together with the offset past its end.
func Int32sAt(b []byte, off int) ([]int32, int) {
	n := int(Int32At(b, off))
	off += 4
	v := make([]int32, n)
	for i := range v {
		v[i] = Int32At(b, off)
		off += 4
	}
	return v, off
}

// AppendInt64s appends an int64 vector without length prefix.
func AppendInt64s(b []byte, v []int64) []byte {
	for _, x := range v {
		b = binary.LittleEndian.AppendUint64(b, uint64(x))
	}
	return b
}

// Int64s decodes a whole payload of packed int64s.
func Int64s(b []byte) []int64 {
	v := make([]int64, len(b)/8)
	for i := range v {
		v[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v
}

// AppendFloat64s appends a float64 vector without length prefix.
func AppendFloat64s(b []byte, v []float64) []byte {
	for _, x := range v {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(x))
	}
	return b
}

// Float64s decodes a whole payload of packed float64s.
func Float64s(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v
}
