package tensor

import (
	"fmt"
	"strings"
)

// DType names a tensor element encoding using the safetensors spellings.
type DType string

const (
	F64    DType = "F64"
	F32    DType = "F32"
	F16    DType = "F16"
	BF16   DType = "BF16"
	F8E4M3 DType = "F8_E4M3"
	F8E5M2 DType = "F8_E5M2"
	I64    DType = "I64"
	I32    DType = "I32"
	I16    DType = "I16"
	I8     DType = "I8"
	U64    DType = "U64"
	U32    DType = "U32"
	U16    DType = "U16"
	U8     DType = "U8"
	Bool   DType = "BOOL"
)

var dtypeSizes = map[DType]int{
	F64: 8, F32: 4, F16: 2, BF16: 2, F8E4M3: 1, F8E5M2: 1,
	I64: 8, I32: 4, I16: 2, I8: 1,
	U64: 8, U32: 4, U16: 2, U8: 1,
	Bool: 1,
}

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Float reports whether the dtype can be decoded to float32 by this package.
func (d DType) Float() bool {
	switch d {
	case F32, F16, BF16:
		return true
	}
	return false
}

// ParseDType accepts safetensors spellings case-insensitively.
func ParseDType(s string) (DType, error) {
	d := DType(strings.ToUpper(strings.TrimSpace(s)))
	if d.Size() == 0 {
		return "", fmt.Errorf("tensor: unsupported dtype %q", s)
	}
	return d, nil
}
