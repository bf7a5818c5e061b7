package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/statemap/internal/tensor"
)

func floats(t *testing.T, x tensor.Tensor) []float32 {
	t.Helper()
	v, err := tensor.Float32(x)
	require.NoError(t, err)
	return v
}

func TestMergeConcatPreservesOrder(t *testing.T) {
	gate := tensor.FromFloat32([]float32{1, 2, 3})
	up := tensor.FromFloat32([]float32{4, 5, 6})
	fn := MergeConcatFn(0)

	out, err := fn([]tensor.Tensor{gate, up})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []int{6}, out[0].Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, floats(t, out[0]))

	rev, err := fn([]tensor.Tensor{up, gate})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6, 1, 2, 3}, floats(t, rev[0]))
	assert.NotEqual(t, floats(t, out[0]), floats(t, rev[0]), "declared order must matter")
}

func TestMergeConcatRank2(t *testing.T) {
	a := tensor.FromFloat32([]float32{1, 2, 3, 4}, 2, 2)
	b := tensor.FromFloat32([]float32{5, 6, 7, 8, 9, 10}, 3, 2)

	out, err := MergeConcatFn(0)([]tensor.Tensor{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2}, out[0].Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, floats(t, out[0]))

	c := tensor.FromFloat32([]float32{5, 6}, 2, 1)
	out, err = MergeConcatFn(-1)([]tensor.Tensor{a, c})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out[0].Shape())
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 6}, floats(t, out[0]))
}

func TestMergeConcatShapeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		inputs []tensor.Tensor
		axis   int
	}{
		{
			name:   "off-axis dim",
			inputs: []tensor.Tensor{tensor.FromFloat32(make([]float32, 4), 2, 2), tensor.FromFloat32(make([]float32, 6), 2, 3)},
		},
		{
			name:   "rank",
			inputs: []tensor.Tensor{tensor.FromFloat32(make([]float32, 4), 2, 2), tensor.FromFloat32(make([]float32, 4), 4)},
		},
		{
			name:   "axis out of range",
			inputs: []tensor.Tensor{tensor.FromFloat32(make([]float32, 4), 4)},
			axis:   1,
		},
		{
			name: "dtype",
			inputs: []tensor.Tensor{
				tensor.FromFloat32(make([]float32, 2)),
				mustEncode(t, []float32{0, 0}, tensor.BF16),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeConcatFn(tt.axis)(tt.inputs)
			require.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func mustEncode(t *testing.T, vals []float32, dt tensor.DType) tensor.Tensor {
	t.Helper()
	d, err := tensor.EncodeFloat32(vals, dt, []int{len(vals)})
	require.NoError(t, err)
	return d
}

func TestSplitInvertsMerge(t *testing.T) {
	a := tensor.FromFloat32([]float32{1, 2, 3, 4}, 2, 2)
	b := tensor.FromFloat32([]float32{5, 6, 7, 8}, 2, 2)
	for _, axis := range []int{0, 1} {
		merged, err := MergeConcatFn(axis)([]tensor.Tensor{a, b})
		require.NoError(t, err)

		split, err := SplitFn(axis, 2)
		require.NoError(t, err)
		parts, err := split(merged)
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, floats(t, a), floats(t, parts[0]), "axis %d", axis)
		assert.Equal(t, floats(t, b), floats(t, parts[1]), "axis %d", axis)
	}

	split, err := SplitFn(0, 3)
	require.NoError(t, err)
	_, err = split([]tensor.Tensor{a})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = SplitFn(0, 0)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestRenameAndExpandCopyShareHandles(t *testing.T) {
	x := tensor.FromFloat32([]float32{1})
	out, err := RenameFn()([]tensor.Tensor{x})
	require.NoError(t, err)
	assert.Same(t, x, out[0].(*tensor.Dense))

	_, err = RenameFn()([]tensor.Tensor{x, x})
	require.ErrorIs(t, err, ErrInputCount)

	expand, err := ExpandCopyFn(3)
	require.NoError(t, err)
	out, err = expand([]tensor.Tensor{x})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, o := range out {
		assert.Same(t, x, o.(*tensor.Dense))
	}
}

func TestCast(t *testing.T) {
	x := tensor.FromFloat32([]float32{1, 2.5, -3})
	fn, err := CastFn(tensor.BF16)
	require.NoError(t, err)
	out, err := fn([]tensor.Tensor{x})
	require.NoError(t, err)
	assert.Equal(t, tensor.BF16, out[0].DType())
	assert.Equal(t, []float32{1, 2.5, -3}, floats(t, out[0]))

	same, err := CastFn(tensor.F32)
	require.NoError(t, err)
	out, err = same([]tensor.Tensor{x})
	require.NoError(t, err)
	assert.Same(t, x, out[0].(*tensor.Dense))

	_, err = CastFn(tensor.I8)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestTranspose(t *testing.T) {
	x := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	out, err := TransposeFn()([]tensor.Tensor{x})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out[0].Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, floats(t, out[0]))

	_, err = TransposeFn()([]tensor.Tensor{tensor.FromFloat32([]float32{1, 2})})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{Cast, ExpandCopy, MergeConcat, Rename, Split, Transpose}, r.Names())

	fn, err := r.Build(MergeConcat, Params{Axis: 0})
	require.NoError(t, err)
	require.NotNil(t, fn)

	_, err = r.Build("merge_qkv", Params{})
	require.ErrorIs(t, err, ErrUnknownTransform)

	_, err = r.Build(Split, Params{Parts: 0})
	require.ErrorIs(t, err, ErrInvalidParams)

	require.Error(t, r.Register(Rename, func(Params) (Fn, error) { return RenameFn(), nil }))
	require.NoError(t, r.Register("identity", func(Params) (Fn, error) { return RenameFn(), nil }))
	assert.Contains(t, r.Names(), "identity")

	assert.NotContains(t, Default().Names(), "identity", "Default must not share state")
}
