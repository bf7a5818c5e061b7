package convert

import (
	"fmt"
	"strings"

	"github.com/samcharles93/statemap/internal/keypattern"
	"github.com/samcharles93/statemap/internal/transform"
)

// Spec maps one or more source patterns to one or more target patterns.
// A 1:1 spec without a transform is a rename; anything else must name a
// registered transform or carry Fn.
type Spec struct {
	Name      string           `yaml:"name,omitempty" json:"name,omitempty"`
	Sources   []string         `yaml:"sources" json:"sources"`
	Targets   []string         `yaml:"targets" json:"targets"`
	Transform string           `yaml:"transform,omitempty" json:"transform,omitempty"`
	Params    transform.Params `yaml:"params,omitempty" json:"params,omitempty"`
	Fn        transform.Fn     `yaml:"-" json:"-"`
}

// Map is shorthand for a plain 1:1 rename spec.
func Map(source, target string) Spec {
	return Spec{Sources: []string{source}, Targets: []string{target}}
}

// Label names the spec in logs and errors.
func (s Spec) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.Join(s.Sources, "+") + " -> " + strings.Join(s.Targets, "+")
}

type compiledSpec struct {
	label     string
	transform string
	sources   []*keypattern.Pattern
	targets   []*keypattern.Pattern
	fn        transform.Fn
}

func compileSpec(s Spec, reg *transform.Registry) (*compiledSpec, error) {
	fail := func(format string, args ...any) (*compiledSpec, error) {
		return nil, &Error{
			Phase: PhaseValidating,
			Spec:  s.Label(),
			Err:   fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...)),
		}
	}
	if len(s.Sources) == 0 || len(s.Targets) == 0 {
		return fail("need at least one source and one target")
	}

	cs := &compiledSpec{label: s.Label(), transform: s.Transform}
	all := make([]*keypattern.Pattern, 0, len(s.Sources)+len(s.Targets))
	for _, raw := range s.Sources {
		p, err := keypattern.Compile(raw)
		if err != nil {
			return fail("%v", err)
		}
		cs.sources = append(cs.sources, p)
		all = append(all, p)
	}
	for _, raw := range s.Targets {
		p, err := keypattern.Compile(raw)
		if err != nil {
			return fail("%v", err)
		}
		cs.targets = append(cs.targets, p)
		all = append(all, p)
	}
	if !keypattern.SameArity(all...) {
		arities := make([]string, len(all))
		for i, p := range all {
			arities[i] = fmt.Sprintf("%s=%d", p, p.Arity())
		}
		return fail("patterns disagree on wildcard count (%s)", strings.Join(arities, ", "))
	}
	if dup := firstDuplicate(s.Sources); dup != "" {
		return fail("source %q listed twice", dup)
	}
	if dup := firstDuplicate(s.Targets); dup != "" {
		return fail("target %q listed twice", dup)
	}

	switch {
	case s.Fn != nil:
		cs.fn = s.Fn
		if cs.transform == "" {
			cs.transform = "custom"
		}
	case s.Transform != "":
		fn, err := reg.Build(s.Transform, s.Params)
		if err != nil {
			return fail("%v", err)
		}
		cs.fn = fn
	case len(s.Sources) == 1 && len(s.Targets) == 1:
		cs.fn = transform.RenameFn()
		cs.transform = transform.Rename
	default:
		return fail("%d sources to %d targets needs a transform", len(s.Sources), len(s.Targets))
	}
	return cs, nil
}

func firstDuplicate(ss []string) string {
	seen := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			return s
		}
		seen[s] = struct{}{}
	}
	return ""
}
