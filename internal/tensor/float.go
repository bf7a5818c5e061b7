package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FromFloat32 builds an F32 tensor. It panics if shape does not hold
// exactly len(vals) elements.
func FromFloat32(vals []float32, shape ...int) *Dense {
	if len(shape) == 0 {
		shape = []int{len(vals)}
	}
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	d, err := NewDense(F32, shape, buf)
	if err != nil {
		panic(err)
	}
	return d
}

// Float32 decodes a float tensor into float32 values.
func Float32(t Tensor) ([]float32, error) {
	raw, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	n, err := NumElements(t.Shape())
	if err != nil {
		return nil, err
	}
	if len(raw) != n*t.DType().Size() {
		return nil, fmt.Errorf("tensor: %s payload is %d bytes, want %d", t.DType(), len(raw), n*t.DType().Size())
	}
	out := make([]float32, n)
	switch t.DType() {
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case BF16:
		for i := range out {
			out[i] = BF16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case F16:
		for i := range out {
			out[i] = F16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		return nil, fmt.Errorf("tensor: cannot decode %s as float", t.DType())
	}
	return out, nil
}

// EncodeFloat32 encodes vals with the given float dtype.
func EncodeFloat32(vals []float32, dtype DType, shape []int) (*Dense, error) {
	buf := make([]byte, len(vals)*dtype.Size())
	switch dtype {
	case F32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
	case BF16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(buf[i*2:], Float32ToBF16(v))
		}
	case F16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(buf[i*2:], Float32ToF16(v))
		}
	default:
		return nil, fmt.Errorf("tensor: cannot encode float as %s", dtype)
	}
	return NewDense(dtype, shape, buf)
}

func BF16ToFloat32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// Float32ToBF16 rounds to nearest even. NaN stays NaN.
func Float32ToBF16(f float32) uint16 {
	bits := math.Float32bits(f)
	if bits&0x7F800000 == 0x7F800000 && bits&0x007FFFFF != 0 {
		return uint16(bits>>16) | 0x0040
	}
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return uint16((bits + rounding) >> 16)
}

func F16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}

// Float32ToF16 truncates the mantissa; values below the smallest normal
// half flush to signed zero.
func Float32ToF16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 31) & 0x1)
	exp := int32((bits >> 23) & 0xFF)
	mant := bits & 0x7FFFFF

	switch exp {
	case 0:
		return sign << 15
	case 0xFF:
		if mant != 0 {
			return sign<<15 | 0x7C00 | 0x200
		}
		return sign<<15 | 0x7C00
	}
	e := exp - 127 + 15
	switch {
	case e >= 31:
		return sign<<15 | 0x7C00
	case e <= 0:
		return sign << 15
	}
	return sign<<15 | uint16(e)<<10 | uint16(mant>>13)
}
