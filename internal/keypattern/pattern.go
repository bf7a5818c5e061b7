// Package keypattern compiles dotted parameter-name templates with integer
// wildcards and matches them against concrete names.
//
// A segment containing a single '*' is a wildcard. The '*' may stand for the
// whole segment ("layers.*.mlp") or sit between a literal prefix and suffix
// ("linear_fc1.weight*" matches "linear_fc1.weight12"). Wildcards only ever
// bind non-negative decimal integers written without sign or leading zeros,
// so Substitute(Match(name)) always reproduces name.
package keypattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Wildcard  = "*"
	separator = "."
)

var ErrInvalidPattern = errors.New("keypattern: invalid pattern")

// Binding is the ordered list of integers captured by a pattern's wildcards.
type Binding []int

func (b Binding) String() string {
	if len(b) == 0 {
		return "[]"
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Key returns a compact form usable as a map key.
func (b Binding) Key() string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

type segment struct {
	prefix string
	suffix string
	wild   bool
}

// Pattern is a compiled name template. It is immutable and safe for
// concurrent use.
type Pattern struct {
	raw      string
	segments []segment
	arity    int
}

// Compile tokenizes raw once.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	parts := strings.Split(raw, separator)
	p := &Pattern{raw: raw, segments: make([]segment, len(parts))}
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPattern, raw)
		}
		switch strings.Count(part, Wildcard) {
		case 0:
			p.segments[i] = segment{prefix: part}
		case 1:
			pre, suf, _ := strings.Cut(part, Wildcard)
			p.segments[i] = segment{prefix: pre, suffix: suf, wild: true}
			p.arity++
		default:
			return nil, fmt.Errorf("%w: %q has more than one wildcard in segment %q", ErrInvalidPattern, raw, part)
		}
	}
	return p, nil
}

// MustCompile is Compile for static tables. It panics on error.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.raw }

// Arity is the number of wildcard segments.
func (p *Pattern) Arity() int { return p.arity }

// Literal reports whether the pattern has no wildcards.
func (p *Pattern) Literal() bool { return p.arity == 0 }

// Match returns the binding captured from name, or false when name does not
// fit the pattern.
func (p *Pattern) Match(name string) (Binding, bool) {
	if p.arity == 0 {
		return Binding{}, name == p.raw
	}
	var b Binding
	rest := name
	for i, seg := range p.segments {
		var part string
		if i == len(p.segments)-1 {
			part = rest
			if strings.Contains(part, separator) {
				return nil, false
			}
		} else {
			var ok bool
			part, rest, ok = strings.Cut(rest, separator)
			if !ok {
				return nil, false
			}
		}
		if !seg.wild {
			if part != seg.prefix {
				return nil, false
			}
			continue
		}
		if len(part) <= len(seg.prefix)+len(seg.suffix) ||
			!strings.HasPrefix(part, seg.prefix) ||
			!strings.HasSuffix(part, seg.suffix) {
			return nil, false
		}
		v, ok := parseIndex(part[len(seg.prefix) : len(part)-len(seg.suffix)])
		if !ok {
			return nil, false
		}
		if b == nil {
			b = make(Binding, 0, p.arity)
		}
		b = append(b, v)
	}
	return b, true
}

// Substitute fills the wildcards with b in order. A binding of the wrong
// length means the caller paired patterns of different arity, which is a
// programming error, so it panics.
func (p *Pattern) Substitute(b Binding) string {
	if len(b) != p.arity {
		panic(fmt.Sprintf("keypattern: pattern %q has arity %d, binding %v has %d values", p.raw, p.arity, b, len(b)))
	}
	if p.arity == 0 {
		return p.raw
	}
	var sb strings.Builder
	sb.Grow(len(p.raw) + 8*len(b))
	next := 0
	for i, seg := range p.segments {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(seg.prefix)
		if seg.wild {
			sb.WriteString(strconv.Itoa(b[next]))
			sb.WriteString(seg.suffix)
			next++
		}
	}
	return sb.String()
}

// SameArity reports whether all patterns share one arity.
func SameArity(patterns ...*Pattern) bool {
	for _, p := range patterns[min(1, len(patterns)):] {
		if p.arity != patterns[0].arity {
			return false
		}
	}
	return true
}

func parseIndex(s string) (int, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
