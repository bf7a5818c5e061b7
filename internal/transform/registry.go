// Package transform holds the named functions that turn a group of source
// tensors into a group of target tensors.
//
// Transforms are pure: they never mutate their inputs and receive them in the
// exact order the mapping declares.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samcharles93/statemap/internal/tensor"
)

var (
	ErrShapeMismatch    = errors.New("transform: shape mismatch")
	ErrInputCount       = errors.New("transform: wrong number of inputs")
	ErrUnknownTransform = errors.New("transform: unknown transform")
	ErrInvalidParams    = errors.New("transform: invalid params")
)

// Built-in names.
const (
	Rename      = "rename"
	MergeConcat = "merge_concat"
	Split       = "split"
	ExpandCopy  = "expand_copy"
	Cast        = "cast"
	Transpose   = "transpose"
)

// Fn maps N inputs bound to one binding to M outputs for the same binding.
type Fn func(inputs []tensor.Tensor) ([]tensor.Tensor, error)

// Params configures a builder. Unused fields are ignored.
type Params struct {
	Axis  int          `yaml:"axis" json:"axis,omitempty"`
	Parts int          `yaml:"parts" json:"parts,omitempty"`
	DType tensor.DType `yaml:"dtype" json:"dtype,omitempty"`
}

// Builder produces an Fn for the given params.
type Builder func(Params) (Fn, error)

type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Default returns a fresh registry holding the built-in transforms.
func Default() *Registry {
	r := NewRegistry()
	for name, b := range map[string]Builder{
		Rename:      func(Params) (Fn, error) { return RenameFn(), nil },
		MergeConcat: func(p Params) (Fn, error) { return MergeConcatFn(p.Axis), nil },
		Split:       func(p Params) (Fn, error) { return SplitFn(p.Axis, p.Parts) },
		ExpandCopy:  func(p Params) (Fn, error) { return ExpandCopyFn(p.Parts) },
		Cast:        func(p Params) (Fn, error) { return CastFn(p.DType) },
		Transpose:   func(Params) (Fn, error) { return TransposeFn(), nil },
	} {
		if err := r.Register(name, b); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a builder. Names are unique.
func (r *Registry) Register(name string, b Builder) error {
	if name == "" || b == nil {
		return fmt.Errorf("transform: register requires a name and a builder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[name]; ok {
		return fmt.Errorf("transform: %q already registered", name)
	}
	r.builders[name] = b
	return nil
}

func (r *Registry) Build(name string, p Params) (Fn, error) {
	r.mu.RLock()
	b, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
	fn, err := b(p)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", name, err)
	}
	return fn, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for name := range r.builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func expectInputs(inputs []tensor.Tensor, n int) error {
	if len(inputs) != n {
		return fmt.Errorf("%w: want %d, got %d", ErrInputCount, n, len(inputs))
	}
	return nil
}
