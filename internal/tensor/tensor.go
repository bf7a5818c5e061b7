// Package tensor defines the opaque tensor handles moved around by the
// conversion engine. The engine itself never looks inside a tensor; only
// transforms that change layout or encoding read the payload.
package tensor

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidShape = errors.New("tensor: invalid shape")

// Tensor is a read-only n-dimensional array handle.
//
// Bytes may be backed by a memory mapping owned by someone else; callers
// must not modify the returned slice.
type Tensor interface {
	DType() DType
	Shape() []int
	Bytes() ([]byte, error)
}

// Dense is an in-memory tensor.
type Dense struct {
	dtype DType
	shape []int
	data  []byte
}

// NewDense wraps data without copying it. The payload length must match
// dtype and shape exactly.
func NewDense(dtype DType, shape []int, data []byte) (*Dense, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("tensor: unsupported dtype %q", dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if want := n * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("tensor: %s%v needs %d bytes, got %d", dtype, shape, want, len(data))
	}
	return &Dense{dtype: dtype, shape: slices.Clone(shape), data: data}, nil
}

func (d *Dense) DType() DType           { return d.dtype }
func (d *Dense) Shape() []int           { return slices.Clone(d.shape) }
func (d *Dense) Bytes() ([]byte, error) { return d.data, nil }

func (d *Dense) String() string {
	return fmt.Sprintf("%s%v", d.dtype, d.shape)
}

// NumElements returns the product of shape. A rank-0 shape is a scalar.
func NumElements(shape []int) (int, error) {
	n := 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("%w: negative dim %d", ErrInvalidShape, dim)
		}
		if dim != 0 && n > (int(^uint(0)>>1))/dim {
			return 0, fmt.Errorf("%w: tensor too large", ErrInvalidShape)
		}
		n *= dim
	}
	return n, nil
}

// ByteSize is NumElements scaled by the dtype size.
func ByteSize(t Tensor) (int, error) {
	n, err := NumElements(t.Shape())
	if err != nil {
		return 0, err
	}
	return n * t.DType().Size(), nil
}

// SameShape reports whether a and b have identical dims.
func SameShape(a, b []int) bool {
	return slices.Equal(a, b)
}
