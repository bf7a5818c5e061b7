package safetensors

import (
	"slices"

	"github.com/samcharles93/statemap/internal/tensor"
)

// Ref is a lazy tensor handle into an open File. Nothing is read until
// Bytes is called.
type Ref struct {
	name string
	file *File
	info TensorInfo
}

var _ tensor.Tensor = (*Ref)(nil)

func (r *Ref) Name() string        { return r.name }
func (r *Ref) Path() string        { return r.file.Path }
func (r *Ref) DType() tensor.DType { return r.info.DType }
func (r *Ref) Shape() []int        { return slices.Clone(r.info.Shape) }
func (r *Ref) Info() TensorInfo    { return r.info }

func (r *Ref) Bytes() ([]byte, error) {
	b, _, err := r.file.ReadTensor(r.name)
	return b, err
}
