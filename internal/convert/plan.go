package convert

import (
	"github.com/samcharles93/statemap/internal/keypattern"
	"github.com/samcharles93/statemap/internal/state"
)

// Unit is one application of a spec: every source key bound to the same
// wildcard values, and the target keys they produce.
type Unit struct {
	Spec    string             `json:"spec"`
	Binding keypattern.Binding `json:"binding"`
	Sources []string           `json:"sources"`
	Targets []string           `json:"targets"`

	spec *compiledSpec
}

// Plan is the outcome of matching key names against an engine's specs.
type Plan struct {
	Units     []Unit   `json:"units"`
	Unclaimed []string `json:"unclaimed,omitempty"`
}

// Targets lists every target key in unit order.
func (p *Plan) Targets() []string {
	var out []string
	for _, u := range p.Units {
		out = append(out, u.Targets...)
	}
	return out
}

type unitKey struct {
	spec    int
	binding string
}

type pending struct {
	spec    int
	binding keypattern.Binding
	present []bool
}

// Plan matches names against the engine's source patterns without touching
// any tensor data. Unmatched names are returned in Unclaimed; Convert treats
// them as unconsumed.
func (e *Engine) Plan(keys []string) (*Plan, error) {
	type hit struct {
		spec, source int
		binding      keypattern.Binding
	}

	plan := &Plan{}
	index := make(map[unitKey]int)
	var order []*pending

	for _, key := range keys {
		var found *hit
		for si, cs := range e.specs {
			for pi, p := range cs.sources {
				b, ok := p.Match(key)
				if !ok {
					continue
				}
				if found != nil {
					prev := e.specs[found.spec]
					return nil, &Error{
						Phase:   PhaseMatching,
						Spec:    prev.label + " | " + cs.label,
						Binding: b,
						Keys:    []string{key},
						Err:     ErrAmbiguousSourceKey,
					}
				}
				found = &hit{spec: si, source: pi, binding: b}
			}
		}
		if found == nil {
			plan.Unclaimed = append(plan.Unclaimed, key)
			continue
		}

		uk := unitKey{spec: found.spec, binding: found.binding.Key()}
		i, ok := index[uk]
		if !ok {
			i = len(order)
			index[uk] = i
			order = append(order, &pending{
				spec:    found.spec,
				binding: found.binding,
				present: make([]bool, len(e.specs[found.spec].sources)),
			})
		}
		order[i].present[found.source] = true
	}

	produced := make(map[string]string)
	for _, pu := range order {
		cs := e.specs[pu.spec]
		u := Unit{
			Spec:    cs.label,
			Binding: pu.binding,
			Sources: make([]string, len(cs.sources)),
			Targets: make([]string, len(cs.targets)),
			spec:    cs,
		}
		var missing []string
		for i, p := range cs.sources {
			u.Sources[i] = p.Substitute(pu.binding)
			if !pu.present[i] {
				missing = append(missing, u.Sources[i])
			}
		}
		if len(missing) > 0 {
			return nil, &Error{
				Phase:   PhaseMatching,
				Spec:    cs.label,
				Binding: pu.binding,
				Keys:    missing,
				Err:     ErrIncompleteSourceGroup,
			}
		}
		for i, p := range cs.targets {
			name := p.Substitute(pu.binding)
			if prev, ok := produced[name]; ok {
				spec := cs.label
				if prev != cs.label {
					spec = prev + " | " + cs.label
				}
				return nil, &Error{
					Phase:   PhaseMatching,
					Spec:    spec,
					Binding: pu.binding,
					Keys:    []string{name},
					Err:     state.ErrDuplicateKey,
				}
			}
			produced[name] = cs.label
			u.Targets[i] = name
		}
		plan.Units = append(plan.Units, u)
	}
	return plan, nil
}
