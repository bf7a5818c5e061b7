package family

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/disambiguate"
	"github.com/samcharles93/statemap/internal/keypattern"
	"github.com/samcharles93/statemap/internal/logger"
	"github.com/samcharles93/statemap/internal/state"
	"github.com/samcharles93/statemap/internal/tensor"
)

var ErrInvalidRecipe = errors.New("family: invalid recipe")

// Expectation describes a slice of the target schema. Arity-0 patterns name
// one key, arity-1 patterns are expanded over the layers whose kind is in
// Kinds (all layers when empty), and arity-2 patterns with Experts set are
// expanded over layers and expert indices.
type Expectation struct {
	Pattern string                   `yaml:"pattern" json:"pattern"`
	Kinds   []disambiguate.LayerKind `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	Experts bool                     `yaml:"experts,omitempty" json:"experts,omitempty"`
}

// Recipe is everything needed to convert one checkpoint: the layer layout,
// the disambiguation rules, the mapping specs and the target schema.
type Recipe struct {
	Name    string                   `yaml:"name" json:"name"`
	Layers  []disambiguate.LayerKind `yaml:"layers" json:"layers"`
	Experts int                      `yaml:"experts,omitempty" json:"experts,omitempty"`
	Rules   []disambiguate.Rule      `yaml:"rules,omitempty" json:"rules,omitempty"`
	Specs   []convert.Spec           `yaml:"specs" json:"specs"`
	Expect  []Expectation            `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// LoadRecipe decodes a YAML recipe. Unknown fields are rejected.
func LoadRecipe(r io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var rec Recipe
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	if len(rec.Specs) == 0 {
		return nil, fmt.Errorf("%w: no specs", ErrInvalidRecipe)
	}
	if len(rec.Rules) > 0 && len(rec.Layers) == 0 {
		return nil, fmt.Errorf("%w: rules need a layer layout", ErrInvalidRecipe)
	}
	if _, err := rec.ExpectedTargets(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ExpectedTargets expands Expect into the full target key list. It returns
// nil when the recipe declares no schema.
func (r *Recipe) ExpectedTargets() ([]string, error) {
	if len(r.Expect) == 0 {
		return nil, nil
	}
	out := []string{}
	for _, e := range r.Expect {
		p, err := keypattern.Compile(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
		}
		switch {
		case p.Arity() == 0 && len(e.Kinds) == 0 && !e.Experts:
			out = append(out, p.String())
		case p.Arity() == 1 && !e.Experts:
			for i, k := range r.Layers {
				if len(e.Kinds) == 0 || slices.Contains(e.Kinds, k) {
					out = append(out, p.Substitute(keypattern.Binding{i}))
				}
			}
		case p.Arity() == 2 && e.Experts:
			for i, k := range r.Layers {
				if len(e.Kinds) > 0 && !slices.Contains(e.Kinds, k) {
					continue
				}
				for x := range r.Experts {
					out = append(out, p.Substitute(keypattern.Binding{i, x}))
				}
			}
		default:
			return nil, fmt.Errorf("%w: expectation %q (arity %d, experts %t) cannot be expanded",
				ErrInvalidRecipe, e.Pattern, p.Arity(), e.Experts)
		}
	}
	return out, nil
}

// Engine compiles the recipe's specs. The recipe schema is used unless opts
// already carries one.
func (r *Recipe) Engine(opts convert.Options) (*convert.Engine, error) {
	if opts.ExpectedTargets == nil {
		expected, err := r.ExpectedTargets()
		if err != nil {
			return nil, err
		}
		opts.ExpectedTargets = expected
	}
	return convert.New(r.Specs, opts)
}

func (r *Recipe) pass() (*disambiguate.Pass, error) {
	return disambiguate.NewPass(r.Rules...)
}

// Convert disambiguates a copy of src and runs it through the recipe's
// engine. src is not modified.
func (r *Recipe) Convert(ctx context.Context, src *state.Container, opts convert.Options) (*state.Container, *convert.Report, error) {
	pass, err := r.pass()
	if err != nil {
		return nil, nil, err
	}
	eng, err := r.Engine(opts)
	if err != nil {
		return nil, nil, err
	}

	work := src.Clone()
	n, err := pass.Apply(ctx, work, r.Layers)
	if err != nil {
		return nil, nil, err
	}
	logger.FromContext(ctx).Debug("disambiguated", "recipe", r.Name, "renamed", n)
	return eng.Convert(ctx, work)
}

// Plan runs disambiguation and matching over names only.
func (r *Recipe) Plan(ctx context.Context, keys []string, opts convert.Options) (*convert.Plan, error) {
	pass, err := r.pass()
	if err != nil {
		return nil, err
	}
	eng, err := r.Engine(opts)
	if err != nil {
		return nil, err
	}

	names := state.New()
	for _, k := range keys {
		if err := names.Put(k, placeholder); err != nil {
			return nil, err
		}
	}
	if _, err := pass.Apply(ctx, names, r.Layers); err != nil {
		return nil, err
	}
	return eng.Plan(names.Keys())
}

// Check compares a plan with the recipe schema. Both lists are nil when the
// recipe declares no schema.
func (r *Recipe) Check(plan *convert.Plan) (missing, unexpected []string, err error) {
	expected, err := r.ExpectedTargets()
	if err != nil || expected == nil {
		return nil, nil, err
	}
	targets := plan.Targets()
	return difference(expected, targets), difference(targets, expected), nil
}

// difference returns the elements of a not in b, in a's order.
func difference(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, v := range b {
		seen[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// placeholder stands in for tensors when only names are planned.
var placeholder = tensor.Tensor(mustEmpty())

func mustEmpty() *tensor.Dense {
	t, err := tensor.NewDense(tensor.U8, []int{0}, nil)
	if err != nil {
		panic(err)
	}
	return t
}
