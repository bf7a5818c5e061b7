package family

import (
	"errors"
	"fmt"
)

var ErrUnknownFamily = errors.New("family: unknown family")

// Family is a built-in source schema. Build takes the checkpoint's
// config.json, which may be nil when the family has usable defaults.
type Family struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	NeedsConfig bool   `json:"needs_config"`

	build func(config []byte) (DeepSeekConfig, error)
}

// Config resolves the layout from config.json, or the family defaults when
// config is nil.
func (f Family) Config(config []byte) (DeepSeekConfig, error) {
	if config == nil && f.NeedsConfig {
		return DeepSeekConfig{}, fmt.Errorf("family: %s needs the checkpoint config.json", f.Name)
	}
	return f.build(config)
}

// Recipe builds the family's recipe.
func (f Family) Recipe(config []byte) (*Recipe, error) {
	cfg, err := f.Config(config)
	if err != nil {
		return nil, err
	}
	return DeepSeek(f.Name, cfg)
}

func withDefaults(def func() DeepSeekConfig) func([]byte) (DeepSeekConfig, error) {
	return func(config []byte) (DeepSeekConfig, error) {
		if config == nil {
			return def(), nil
		}
		return ParseDeepSeekConfig(config)
	}
}

var catalog = []Family{
	{
		Name:        "deepseek",
		Description: "DeepSeek V2/V3 Hugging Face checkpoint, layout read from config.json",
		NeedsConfig: true,
		build:       ParseDeepSeekConfig,
	},
	{
		Name:        "deepseek-v2",
		Description: "DeepSeek-V2 (60 layers, 160 experts)",
		build:       withDefaults(DeepSeekV2Config),
	},
	{
		Name:        "deepseek-v3",
		Description: "DeepSeek-V3 (61 layers, 256 experts, router expert bias)",
		build:       withDefaults(DeepSeekV3Config),
	},
}

// Families lists the built-in families.
func Families() []Family {
	return append([]Family(nil), catalog...)
}

func Lookup(name string) (Family, error) {
	for _, f := range catalog {
		if f.Name == name {
			return f, nil
		}
	}
	return Family{}, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
}
