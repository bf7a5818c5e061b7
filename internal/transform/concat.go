package transform

import (
	"fmt"

	"github.com/samcharles93/statemap/internal/tensor"
)

func normAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("%w: axis %d out of range for rank %d", ErrShapeMismatch, axis, rank)
	}
	return axis, nil
}

// span splits shape around axis: outer is the product of the dims before it
// and inner the product of the dims after it.
func span(shape []int, axis int) (outer, inner int) {
	outer, inner = 1, 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for _, d := range shape[axis+1:] {
		inner *= d
	}
	return outer, inner
}

func concat(inputs []tensor.Tensor, axis int) (tensor.Tensor, error) {
	first := inputs[0]
	dtype := first.DType()
	base := first.Shape()
	ax, err := normAxis(axis, len(base))
	if err != nil {
		return nil, err
	}

	total := 0
	for i, in := range inputs {
		shape := in.Shape()
		if in.DType() != dtype {
			return nil, fmt.Errorf("%w: input %d has dtype %s, want %s", ErrShapeMismatch, i, in.DType(), dtype)
		}
		if len(shape) != len(base) {
			return nil, fmt.Errorf("%w: input %d has shape %v, want rank %d", ErrShapeMismatch, i, shape, len(base))
		}
		for d := range shape {
			if d != ax && shape[d] != base[d] {
				return nil, fmt.Errorf("%w: input %d has shape %v, incompatible with %v on axis %d", ErrShapeMismatch, i, shape, base, d)
			}
		}
		total += shape[ax]
	}

	outShape := append([]int(nil), base...)
	outShape[ax] = total
	n, err := tensor.NumElements(outShape)
	if err != nil {
		return nil, err
	}
	es := dtype.Size()
	outer, inner := span(base, ax)
	buf := make([]byte, 0, n*es)

	payloads := make([][]byte, len(inputs))
	for i, in := range inputs {
		if payloads[i], err = in.Bytes(); err != nil {
			return nil, err
		}
	}
	for o := range outer {
		for i, in := range inputs {
			chunk := in.Shape()[ax] * inner * es
			buf = append(buf, payloads[i][o*chunk:(o+1)*chunk]...)
		}
	}
	return tensor.NewDense(dtype, outShape, buf)
}

func split(in tensor.Tensor, axis, parts int) ([]tensor.Tensor, error) {
	shape := in.Shape()
	ax, err := normAxis(axis, len(shape))
	if err != nil {
		return nil, err
	}
	if shape[ax]%parts != 0 {
		return nil, fmt.Errorf("%w: dim %d of %v is not divisible by %d", ErrShapeMismatch, ax, shape, parts)
	}
	raw, err := in.Bytes()
	if err != nil {
		return nil, err
	}
	es := in.DType().Size()
	outer, inner := span(shape, ax)
	step := shape[ax] / parts
	chunk := step * inner * es
	row := shape[ax] * inner * es

	partShape := append([]int(nil), shape...)
	partShape[ax] = step
	out := make([]tensor.Tensor, parts)
	for p := range parts {
		buf := make([]byte, 0, outer*chunk)
		for o := range outer {
			start := o*row + p*chunk
			buf = append(buf, raw[start:start+chunk]...)
		}
		if out[p], err = tensor.NewDense(in.DType(), partShape, buf); err != nil {
			return nil, err
		}
	}
	return out, nil
}
