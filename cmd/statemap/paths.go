package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/samcharles93/statemap/internal/disambiguate"
	"github.com/samcharles93/statemap/internal/family"
	"github.com/samcharles93/statemap/internal/safetensors"
)

const envOutDir = "STATEMAP_OUT_DIR"

// resolveConvertOut picks the output directory. An explicit --out wins,
// then STATEMAP_OUT_DIR, then out_dir from the config file, then ./out.
// The defaulted name is the checkpoint directory name plus "-mcore".
func resolveConvertOut(modelPath, outFlag, cfgOutDir string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		out := filepath.Clean(outFlag)
		if err := os.MkdirAll(out, 0o755); err != nil {
			return "", false, err
		}
		return out, false, nil
	}

	src := filepath.Clean(modelPath)
	if strings.HasSuffix(strings.ToLower(src), ".safetensors") {
		src = filepath.Dir(src)
	}
	base := filepath.Base(src)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("cannot derive an output name from %q; set --out", modelPath)
	}

	outDir := strings.TrimSpace(os.Getenv(envOutDir))
	if outDir == "" {
		outDir = strings.TrimSpace(cfgOutDir)
	}
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}
	out := filepath.Join(outDir, base+"-mcore")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", true, err
	}
	return out, true, nil
}

var byteUnits = map[string]int64{
	"":    1,
	"b":   1,
	"kb":  1000,
	"mb":  1000 * 1000,
	"gb":  1000 * 1000 * 1000,
	"tb":  1000 * 1000 * 1000 * 1000,
	"kib": 1 << 10,
	"mib": 1 << 20,
	"gib": 1 << 30,
	"tib": 1 << 40,
}

// parseByteSize reads sizes such as "5GB", "512MiB" or "1048576".
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
	num, unit := s, ""
	if i >= 0 {
		num, unit = s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	}
	mult, ok := byteUnits[unit]
	if !ok || num == "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(v * float64(mult)), nil
}

// loadRecipe builds the recipe the recipe flags ask for. model may be nil;
// when set, its config.json is used unless --config overrides it.
func loadRecipe(o recipeOptions, expertBiasSet bool, model *safetensors.Model) (*family.Recipe, error) {
	var layers []disambiguate.LayerKind
	if o.layers != "" {
		kinds, err := disambiguate.ParseKinds(o.layers)
		if err != nil {
			return nil, fmt.Errorf("--layers: %w", err)
		}
		layers = kinds
	}

	if o.recipePath != "" {
		f, err := os.Open(o.recipePath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		rec, err := family.LoadRecipe(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.recipePath, err)
		}
		if layers != nil {
			rec.Layers = layers
		}
		return rec, nil
	}

	fam, err := family.Lookup(o.family)
	if err != nil {
		return nil, err
	}
	raw, err := readModelConfig(o.configPath, model)
	if err != nil {
		return nil, err
	}
	cfg, err := fam.Config(raw)
	if err != nil {
		return nil, err
	}
	if layers != nil {
		cfg.Layers = layers
	}
	if expertBiasSet {
		cfg.EnableExpertBias = o.expertBias
	}
	return family.DeepSeek(fam.Name, cfg)
}

func readModelConfig(path string, model *safetensors.Model) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	if model == nil {
		return nil, nil
	}
	b, err := model.ConfigJSON()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}
