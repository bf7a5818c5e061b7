package convert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/statemap/internal/keypattern"
)

var (
	ErrInvalidSpec           = errors.New("invalid mapping spec")
	ErrAmbiguousSourceKey    = errors.New("source key matches more than one pattern")
	ErrIncompleteSourceGroup = errors.New("incomplete source group")
	ErrOutputCount           = errors.New("transform output count does not match targets")
	ErrUnconsumedSourceKeys  = errors.New("unconsumed source keys")
	ErrMissingTargetKeys     = errors.New("missing target keys")
	ErrUnexpectedTargetKeys  = errors.New("unexpected target keys")
)

// maxListedKeys bounds how many keys Error() prints. Keys always holds the
// full list.
const maxListedKeys = 16

// Error describes a failed conversion. Err is one of the sentinels above or
// an error from the state or transform packages.
type Error struct {
	Phase   Phase
	Spec    string
	Binding keypattern.Binding
	Keys    []string
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("convert: ")
	sb.WriteString(strings.ToLower(e.Phase.String()))
	if e.Spec != "" {
		fmt.Fprintf(&sb, " %s", e.Spec)
	}
	if len(e.Binding) > 0 {
		fmt.Fprintf(&sb, " binding %s", e.Binding)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if len(e.Keys) > 0 {
		listed := e.Keys[:min(len(e.Keys), maxListedKeys)]
		fmt.Fprintf(&sb, " [%s", strings.Join(listed, ", "))
		if rest := len(e.Keys) - len(listed); rest > 0 {
			fmt.Fprintf(&sb, ", ... %d more", rest)
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
