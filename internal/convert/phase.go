package convert

//go:generate go tool stringer -type=Phase -trimprefix=Phase

// Phase is the pipeline stage a conversion is in. Conversions move strictly
// forward through the phases and abort on the first error.
type Phase int

const (
	PhaseValidating Phase = iota
	PhaseMatching
	PhaseTransforming
	PhaseAuditing
	PhaseDone
)
