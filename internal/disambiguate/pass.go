// Package disambiguate rewrites source keys that mean different things in
// different kinds of layers, so that each meaning gets its own name before
// pattern-driven mapping runs.
//
// The canonical case is a norm weight that feeds the fused MLP input in dense
// layers but stands alone in expert layers: the pass renames the dense copy to
// a qualified key and the mapping table then has two non-overlapping patterns.
package disambiguate

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/statemap/internal/keypattern"
	"github.com/samcharles93/statemap/internal/logger"
	"github.com/samcharles93/statemap/internal/state"
)

var ErrInvalidRule = errors.New("disambiguate: invalid rule")

// Rule renames Source to Target in every layer whose kind is Kind. Both
// patterns take exactly one wildcard: the layer index.
type Rule struct {
	Source string    `yaml:"source" json:"source"`
	Target string    `yaml:"target" json:"target"`
	Kind   LayerKind `yaml:"kind" json:"kind"`
}

type compiledRule struct {
	src, dst *keypattern.Pattern
	kind     LayerKind
}

type Pass struct {
	rules []compiledRule
}

func NewPass(rules ...Rule) (*Pass, error) {
	p := &Pass{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		src, err := keypattern.Compile(r.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %w", ErrInvalidRule, i, err)
		}
		dst, err := keypattern.Compile(r.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %w", ErrInvalidRule, i, err)
		}
		if src.Arity() != 1 || dst.Arity() != 1 {
			return nil, fmt.Errorf("%w: rule %d: %q -> %q must each have exactly one wildcard", ErrInvalidRule, i, r.Source, r.Target)
		}
		if r.Source == r.Target {
			return nil, fmt.Errorf("%w: rule %d: source and target are both %q", ErrInvalidRule, i, r.Source)
		}
		p.rules = append(p.rules, compiledRule{src: src, dst: dst, kind: r.Kind})
	}
	return p, nil
}

func (p *Pass) Len() int { return len(p.rules) }

// Apply renames the selected keys in c. kinds[i] is the kind of layer i.
// A key the rules expect but c does not hold is fatal, which is also how a
// second run over an already rewritten container is caught.
func (p *Pass) Apply(ctx context.Context, c *state.Container, kinds []LayerKind) (int, error) {
	log := logger.FromContext(ctx).With("component", "disambiguate")
	renamed := 0
	for layer, kind := range kinds {
		b := keypattern.Binding{layer}
		for _, r := range p.rules {
			if r.kind != kind {
				continue
			}
			from, to := r.src.Substitute(b), r.dst.Substitute(b)
			if err := c.Rename(from, to); err != nil {
				return renamed, fmt.Errorf("disambiguate layer %d (%s): %w", layer, kind, err)
			}
			log.Debug("renamed key", "layer", layer, "kind", kind.String(), "from", from, "to", to)
			renamed++
		}
	}
	log.Info("disambiguation done", "layers", len(kinds), "renamed", renamed)
	return renamed, nil
}
