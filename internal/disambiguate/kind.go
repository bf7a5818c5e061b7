package disambiguate

import (
	"fmt"
	"strconv"
	"strings"
)

//go:generate go tool stringer -type=LayerKind -trimprefix=Layer

// LayerKind tags a decoder layer. The values match the moe_layer_freq
// encoding: 0 for a dense MLP layer, 1 for an expert-routed layer.
type LayerKind int

const (
	LayerDense LayerKind = iota
	LayerMoE
)

// ParseLayerKind accepts "dense", "moe" or the numeric tag.
func ParseLayerKind(s string) (LayerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dense", "0":
		return LayerDense, nil
	case "moe", "1":
		return LayerMoE, nil
	}
	return 0, fmt.Errorf("disambiguate: unknown layer kind %q", s)
}

// KindsFromFreq converts a moe_layer_freq style list of 0/1 tags.
func KindsFromFreq(freq []int) ([]LayerKind, error) {
	out := make([]LayerKind, len(freq))
	for i, f := range freq {
		switch f {
		case 0:
			out[i] = LayerDense
		case 1:
			out[i] = LayerMoE
		default:
			return nil, fmt.Errorf("disambiguate: layer %d has tag %d, want 0 or 1", i, f)
		}
	}
	return out, nil
}

// ParseKinds parses a comma-separated list such as "dense,moe,moe" or "0,1,1".
func ParseKinds(s string) ([]LayerKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]LayerKind, len(parts))
	for i, p := range parts {
		k, err := ParseLayerKind(p)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", strconv.Itoa(i), err)
		}
		out[i] = k
	}
	return out, nil
}

// MarshalText lets LayerKind appear as "dense"/"moe" in YAML and JSON.
func (k LayerKind) MarshalText() ([]byte, error) {
	switch k {
	case LayerDense:
		return []byte("dense"), nil
	case LayerMoE:
		return []byte("moe"), nil
	}
	return nil, fmt.Errorf("disambiguate: invalid layer kind %d", int(k))
}

func (k *LayerKind) UnmarshalText(b []byte) error {
	v, err := ParseLayerKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
