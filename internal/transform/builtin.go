package transform

import (
	"fmt"

	"github.com/samcharles93/statemap/internal/tensor"
)

// RenameFn passes its single input through untouched.
func RenameFn() Fn {
	return func(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := expectInputs(inputs, 1); err != nil {
			return nil, err
		}
		return []tensor.Tensor{inputs[0]}, nil
	}
}

// ExpandCopyFn returns the single input parts times. The handle is shared.
func ExpandCopyFn(parts int) (Fn, error) {
	if parts < 1 {
		return nil, fmt.Errorf("%w: parts must be >= 1, got %d", ErrInvalidParams, parts)
	}
	return func(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := expectInputs(inputs, 1); err != nil {
			return nil, err
		}
		out := make([]tensor.Tensor, parts)
		for i := range out {
			out[i] = inputs[0]
		}
		return out, nil
	}, nil
}

// MergeConcatFn concatenates all inputs along axis in the order given.
// Negative axes count from the end.
func MergeConcatFn(axis int) Fn {
	return func(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if len(inputs) == 0 {
			return nil, fmt.Errorf("%w: merge needs at least one input", ErrInputCount)
		}
		out, err := concat(inputs, axis)
		if err != nil {
			return nil, err
		}
		return []tensor.Tensor{out}, nil
	}
}

// SplitFn is the inverse of MergeConcatFn: it cuts one input into parts
// equal chunks along axis.
func SplitFn(axis, parts int) (Fn, error) {
	if parts < 1 {
		return nil, fmt.Errorf("%w: parts must be >= 1, got %d", ErrInvalidParams, parts)
	}
	return func(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := expectInputs(inputs, 1); err != nil {
			return nil, err
		}
		return split(inputs[0], axis, parts)
	}, nil
}

// CastFn converts a float tensor to dtype. Inputs already in dtype are
// passed through.
func CastFn(dtype tensor.DType) (Fn, error) {
	if !dtype.Float() {
		return nil, fmt.Errorf("%w: cast target must be F32, F16 or BF16, got %q", ErrInvalidParams, dtype)
	}
	return func(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := expectInputs(inputs, 1); err != nil {
			return nil, err
		}
		in := inputs[0]
		if in.DType() == dtype {
			return []tensor.Tensor{in}, nil
		}
		vals, err := tensor.Float32(in)
		if err != nil {
			return nil, err
		}
		out, err := tensor.EncodeFloat32(vals, dtype, in.Shape())
		if err != nil {
			return nil, err
		}
		return []tensor.Tensor{out}, nil
	}, nil
}

// TransposeFn swaps the two axes of a rank-2 tensor.
func TransposeFn() Fn {
	return func(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := expectInputs(inputs, 1); err != nil {
			return nil, err
		}
		in := inputs[0]
		shape := in.Shape()
		if len(shape) != 2 {
			return nil, fmt.Errorf("%w: transpose needs rank 2, got %v", ErrShapeMismatch, shape)
		}
		raw, err := in.Bytes()
		if err != nil {
			return nil, err
		}
		rows, cols, es := shape[0], shape[1], in.DType().Size()
		buf := make([]byte, len(raw))
		for r := range rows {
			for c := range cols {
				copy(buf[(c*rows+r)*es:(c*rows+r+1)*es], raw[(r*cols+c)*es:(r*cols+c+1)*es])
			}
		}
		out, err := tensor.NewDense(in.DType(), []int{cols, rows}, buf)
		if err != nil {
			return nil, err
		}
		return []tensor.Tensor{out}, nil
	}
}
