package convert

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/statemap/internal/logger"
	"github.com/samcharles93/statemap/internal/state"
	"github.com/samcharles93/statemap/internal/tensor"
	"github.com/samcharles93/statemap/internal/transform"
)

// Options tunes an Engine. The zero value uses the default transform
// registry, runs units sequentially and skips the target schema check.
type Options struct {
	Registry *transform.Registry
	// ExpectedTargets is the full target schema. Nil disables the
	// missing/unexpected check.
	ExpectedTargets []string
	Workers         int
}

// Engine applies a fixed set of mapping specs to state containers. It holds
// no per-conversion state and is safe for concurrent use.
type Engine struct {
	specs    []*compiledSpec
	expected []string
	workers  int
}

// Report summarizes a successful conversion.
type Report struct {
	Units    int            `json:"units"`
	Consumed int            `json:"consumed"`
	Produced int            `json:"produced"`
	PerSpec  map[string]int `json:"per_spec"`
}

// New validates specs and compiles them into an Engine.
func New(specs []Spec, opts Options) (*Engine, error) {
	reg := opts.Registry
	if reg == nil {
		reg = transform.Default()
	}
	e := &Engine{workers: max(opts.Workers, 1)}
	if opts.ExpectedTargets != nil {
		e.expected = slices.Clone(opts.ExpectedTargets)
		if dup := firstDuplicate(e.expected); dup != "" {
			return nil, &Error{
				Phase: PhaseValidating,
				Keys:  []string{dup},
				Err:   fmt.Errorf("%w: expected target listed twice", ErrInvalidSpec),
			}
		}
	}

	owner := make(map[string]string)
	for _, s := range specs {
		cs, err := compileSpec(s, reg)
		if err != nil {
			return nil, err
		}
		for _, src := range s.Sources {
			if prev, ok := owner[src]; ok {
				return nil, &Error{
					Phase: PhaseValidating,
					Spec:  cs.label,
					Keys:  []string{src},
					Err:   fmt.Errorf("%w: source pattern already claimed by %s", ErrInvalidSpec, prev),
				}
			}
			owner[src] = cs.label
		}
		e.specs = append(e.specs, cs)
	}
	return e, nil
}

// Convert maps src into a new container. src is left untouched; tensors
// that pass through unchanged share their handle with src. On any error the
// returned container is nil.
func (e *Engine) Convert(ctx context.Context, src *state.Container) (*state.Container, *Report, error) {
	log := logger.FromContext(ctx).With("component", "convert")

	work := src.Clone()
	log.Debug("phase", "phase", PhaseMatching, "keys", work.Len())
	plan, err := e.Plan(work.Keys())
	if err != nil {
		return nil, nil, err
	}

	dst := state.New()
	log.Debug("phase", "phase", PhaseTransforming, "units", len(plan.Units), "workers", e.workers)
	if err := e.transform(ctx, plan, work, dst); err != nil {
		return nil, nil, err
	}

	log.Debug("phase", "phase", PhaseAuditing, "targets", dst.Len())
	if err := e.audit(work, dst); err != nil {
		return nil, nil, err
	}

	rep := &Report{
		Units:    len(plan.Units),
		Consumed: src.Len() - work.Len(),
		Produced: dst.Len(),
		PerSpec:  make(map[string]int),
	}
	for _, u := range plan.Units {
		rep.PerSpec[u.Spec]++
	}
	log.Info("conversion done", "units", rep.Units, "consumed", rep.Consumed, "produced", rep.Produced)
	return dst, rep, nil
}

func (e *Engine) transform(ctx context.Context, plan *Plan, work, dst *state.Container) error {
	if e.workers <= 1 || len(plan.Units) <= 1 {
		for i := range plan.Units {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := applyUnit(&plan.Units[i], work, dst); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range plan.Units {
		u := &plan.Units[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return applyUnit(u, work, dst)
		})
	}
	return g.Wait()
}

func applyUnit(u *Unit, work, dst *state.Container) error {
	fail := func(keys []string, err error) error {
		return &Error{Phase: PhaseTransforming, Spec: u.Spec, Binding: u.Binding, Keys: keys, Err: err}
	}

	inputs := make([]tensor.Tensor, len(u.Sources))
	for i, name := range u.Sources {
		t, err := work.Pop(name)
		if err != nil {
			return fail([]string{name}, err)
		}
		inputs[i] = t
	}

	outputs, err := u.spec.fn(inputs)
	if err != nil {
		return fail(u.Sources, fmt.Errorf("%s: %w", u.spec.transform, err))
	}
	if len(outputs) != len(u.Targets) {
		return fail(u.Targets, fmt.Errorf("%w: %s returned %d, want %d",
			ErrOutputCount, u.spec.transform, len(outputs), len(u.Targets)))
	}
	for i, name := range u.Targets {
		if err := dst.Put(name, outputs[i]); err != nil {
			return fail([]string{name}, err)
		}
	}
	return nil
}

func (e *Engine) audit(work, dst *state.Container) error {
	if rest := work.RemainingKeys(); len(rest) > 0 {
		return &Error{Phase: PhaseAuditing, Keys: rest, Err: ErrUnconsumedSourceKeys}
	}
	if e.expected == nil {
		return nil
	}

	var missing []string
	for _, name := range e.expected {
		if !dst.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &Error{Phase: PhaseAuditing, Keys: missing, Err: ErrMissingTargetKeys}
	}

	want := make(map[string]struct{}, len(e.expected))
	for _, name := range e.expected {
		want[name] = struct{}{}
	}
	var extra []string
	for _, name := range dst.Keys() {
		if _, ok := want[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		return &Error{Phase: PhaseAuditing, Keys: extra, Err: ErrUnexpectedTargetKeys}
	}
	return nil
}
