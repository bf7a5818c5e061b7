package family

import (
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/disambiguate"
	"github.com/samcharles93/statemap/internal/transform"
)

var ErrUnsupportedModel = errors.New("family: unsupported model")

// DeepSeekConfig carries the fields of a DeepSeek V2/V3 checkpoint that
// change its parameter names.
type DeepSeekConfig struct {
	// Layers holds one kind per decoder layer (moe_layer_freq).
	Layers           []disambiguate.LayerKind `yaml:"layers" json:"layers"`
	NumExperts       int                      `yaml:"num_experts" json:"num_experts"`
	NumSharedExperts int                      `yaml:"num_shared_experts" json:"num_shared_experts"`
	// QLoRARank is zero when queries are not low-rank compressed
	// (V2-Lite), which replaces the q down/up projections with q_proj.
	QLoRARank         int  `yaml:"q_lora_rank" json:"q_lora_rank"`
	EnableExpertBias  bool `yaml:"enable_expert_bias" json:"enable_expert_bias"`
	TieWordEmbeddings bool `yaml:"tie_word_embeddings" json:"tie_word_embeddings"`
}

func denseThenMoE(dense, total int) []disambiguate.LayerKind {
	kinds := make([]disambiguate.LayerKind, total)
	for i := dense; i < total; i++ {
		kinds[i] = disambiguate.LayerMoE
	}
	return kinds
}

// DeepSeekV2Config is DeepSeek-V2: 60 layers, the first one dense.
func DeepSeekV2Config() DeepSeekConfig {
	return DeepSeekConfig{
		Layers:           denseThenMoE(1, 60),
		NumExperts:       160,
		NumSharedExperts: 2,
		QLoRARank:        1536,
	}
}

// DeepSeekV3Config is DeepSeek-V3: 61 layers, the first three dense, with a
// router expert bias.
func DeepSeekV3Config() DeepSeekConfig {
	return DeepSeekConfig{
		Layers:           denseThenMoE(3, 61),
		NumExperts:       256,
		NumSharedExperts: 1,
		QLoRARank:        1536,
		EnableExpertBias: true,
	}
}

type hfConfig struct {
	ModelType          string `json:"model_type"`
	NumHiddenLayers    int    `json:"num_hidden_layers"`
	FirstKDenseReplace int    `json:"first_k_dense_replace"`
	MoELayerFreq       *int   `json:"moe_layer_freq"`
	NRoutedExperts     *int   `json:"n_routed_experts"`
	NSharedExperts     *int   `json:"n_shared_experts"`
	QLoRARank          *int   `json:"q_lora_rank"`
	ScoringFunc        string `json:"scoring_func"`
	TieWordEmbeddings  bool   `json:"tie_word_embeddings"`
}

// ParseDeepSeekConfig reads a Hugging Face config.json. Layer i is an
// expert layer when i >= first_k_dense_replace and i is a multiple of
// moe_layer_freq. A sigmoid router marks V3 and turns on the expert bias.
func ParseDeepSeekConfig(data []byte) (DeepSeekConfig, error) {
	var hf hfConfig
	if err := json.Unmarshal(data, &hf); err != nil {
		return DeepSeekConfig{}, fmt.Errorf("family: parse config.json: %w", err)
	}
	switch hf.ModelType {
	case "", "deepseek_v2", "deepseek_v3":
	default:
		return DeepSeekConfig{}, fmt.Errorf("%w: model_type %q", ErrUnsupportedModel, hf.ModelType)
	}
	if hf.NumHiddenLayers <= 0 {
		return DeepSeekConfig{}, fmt.Errorf("family: config.json: num_hidden_layers must be positive, got %d", hf.NumHiddenLayers)
	}
	if hf.FirstKDenseReplace < 0 || hf.FirstKDenseReplace > hf.NumHiddenLayers {
		return DeepSeekConfig{}, fmt.Errorf("family: config.json: first_k_dense_replace %d out of range [0,%d]",
			hf.FirstKDenseReplace, hf.NumHiddenLayers)
	}

	freq := 1
	if hf.MoELayerFreq != nil {
		freq = *hf.MoELayerFreq
	}
	if freq < 1 {
		return DeepSeekConfig{}, fmt.Errorf("family: config.json: moe_layer_freq must be >= 1, got %d", freq)
	}

	cfg := DeepSeekConfig{
		Layers:            make([]disambiguate.LayerKind, hf.NumHiddenLayers),
		TieWordEmbeddings: hf.TieWordEmbeddings,
		EnableExpertBias:  hf.ScoringFunc == "sigmoid",
	}
	if hf.NRoutedExperts != nil {
		cfg.NumExperts = *hf.NRoutedExperts
		for i := hf.FirstKDenseReplace; i < hf.NumHiddenLayers; i++ {
			if i%freq == 0 {
				cfg.Layers[i] = disambiguate.LayerMoE
			}
		}
	}
	if hf.NSharedExperts != nil {
		cfg.NumSharedExperts = *hf.NSharedExperts
	}
	if hf.QLoRARank != nil {
		cfg.QLoRARank = *hf.QLoRARank
	}
	return cfg, nil
}

// MoELayers counts the expert layers.
func (c DeepSeekConfig) MoELayers() int {
	n := 0
	for _, k := range c.Layers {
		if k == disambiguate.LayerMoE {
			n++
		}
	}
	return n
}

func (c DeepSeekConfig) validate() error {
	if len(c.Layers) == 0 {
		return errors.New("family: deepseek config has no layers")
	}
	if c.MoELayers() > 0 && c.NumExperts <= 0 {
		return fmt.Errorf("family: deepseek config has %d expert layers but %d experts", c.MoELayers(), c.NumExperts)
	}
	if c.NumSharedExperts < 0 || c.QLoRARank < 0 {
		return errors.New("family: deepseek config has negative counts")
	}
	return nil
}

const (
	hfLayer = "model.layers.*."
	mcLayer = "decoder.layers.*."
)

// DeepSeek builds the Hugging Face to Megatron-core recipe for cfg.
func DeepSeek(name string, cfg DeepSeekConfig) (*Recipe, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	layer := func(hf, mc string) convert.Spec {
		return convert.Map(hfLayer+hf, mcLayer+mc)
	}
	fc1 := func(name, hf, mc string) convert.Spec {
		return convert.Spec{
			Name:      name,
			Sources:   []string{hfLayer + hf + "gate_proj.weight", hfLayer + hf + "up_proj.weight"},
			Targets:   []string{mcLayer + mc},
			Transform: transform.MergeConcat,
		}
	}

	specs := []convert.Spec{
		convert.Map("model.embed_tokens.weight", "embedding.word_embeddings.weight"),
		convert.Map("model.norm.weight", "decoder.final_layernorm.weight"),

		layer("input_layernorm.weight", "input_layernorm.weight"),
		layer("self_attn.o_proj.weight", "self_attention.linear_proj.weight"),
		layer("self_attn.kv_a_proj_with_mqa.weight", "self_attention.linear_kv_down_proj.weight"),
		layer("self_attn.kv_b_proj.weight", "self_attention.linear_kv_up_proj.weight"),
		layer("self_attn.kv_a_layernorm.weight", "self_attention.kv_layernorm.weight"),

		layer("dense-post_attention_layernorm.weight", "mlp.linear_fc1.layer_norm_weight"),
		layer("post_attention_layernorm.weight", "pre_mlp_layernorm.weight"),

		fc1("dense fc1", "mlp.", "mlp.linear_fc1.weight"),
		layer("mlp.down_proj.weight", "mlp.linear_fc2.weight"),

		layer("mlp.gate.weight", "mlp.router.weight"),
		fc1("expert fc1", "mlp.experts.*.", "mlp.experts.linear_fc1.weight*"),
		layer("mlp.experts.*.down_proj.weight", "mlp.experts.linear_fc2.weight*"),
	}
	expect := []Expectation{
		{Pattern: "embedding.word_embeddings.weight"},
		{Pattern: "decoder.final_layernorm.weight"},
		{Pattern: mcLayer + "input_layernorm.weight"},
		{Pattern: mcLayer + "self_attention.linear_proj.weight"},
		{Pattern: mcLayer + "self_attention.linear_kv_down_proj.weight"},
		{Pattern: mcLayer + "self_attention.linear_kv_up_proj.weight"},
		{Pattern: mcLayer + "self_attention.kv_layernorm.weight"},
		{Pattern: mcLayer + "mlp.linear_fc1.layer_norm_weight", Kinds: dense},
		{Pattern: mcLayer + "mlp.linear_fc1.weight", Kinds: dense},
		{Pattern: mcLayer + "mlp.linear_fc2.weight", Kinds: dense},
		{Pattern: mcLayer + "pre_mlp_layernorm.weight", Kinds: moe},
		{Pattern: mcLayer + "mlp.router.weight", Kinds: moe},
		{Pattern: mcLayer + "mlp.experts.linear_fc1.weight*", Kinds: moe, Experts: true},
		{Pattern: mcLayer + "mlp.experts.linear_fc2.weight*", Kinds: moe, Experts: true},
	}

	if cfg.QLoRARank > 0 {
		specs = append(specs,
			layer("self_attn.q_a_proj.weight", "self_attention.linear_q_down_proj.weight"),
			layer("self_attn.q_b_proj.weight", "self_attention.linear_q_up_proj.weight"),
			layer("self_attn.q_a_layernorm.weight", "self_attention.q_layernorm.weight"),
		)
		expect = append(expect,
			Expectation{Pattern: mcLayer + "self_attention.linear_q_down_proj.weight"},
			Expectation{Pattern: mcLayer + "self_attention.linear_q_up_proj.weight"},
			Expectation{Pattern: mcLayer + "self_attention.q_layernorm.weight"},
		)
	} else {
		specs = append(specs, layer("self_attn.q_proj.weight", "self_attention.linear_q_proj.weight"))
		expect = append(expect, Expectation{Pattern: mcLayer + "self_attention.linear_q_proj.weight"})
	}
	if cfg.NumSharedExperts > 0 {
		specs = append(specs,
			fc1("shared expert fc1", "mlp.shared_experts.", "mlp.shared_experts.linear_fc1.weight"),
			layer("mlp.shared_experts.down_proj.weight", "mlp.shared_experts.linear_fc2.weight"),
		)
		expect = append(expect,
			Expectation{Pattern: mcLayer + "mlp.shared_experts.linear_fc1.weight", Kinds: moe},
			Expectation{Pattern: mcLayer + "mlp.shared_experts.linear_fc2.weight", Kinds: moe},
		)
	}
	if cfg.EnableExpertBias {
		specs = append(specs, layer("mlp.gate.e_score_correction_bias", "mlp.router.expert_bias"))
		expect = append(expect, Expectation{Pattern: mcLayer + "mlp.router.expert_bias", Kinds: moe})
	}
	if !cfg.TieWordEmbeddings {
		specs = append(specs, convert.Map("lm_head.weight", "output_layer.weight"))
		expect = append(expect, Expectation{Pattern: "output_layer.weight"})
	}

	return &Recipe{
		Name:    name,
		Layers:  slices.Clone(cfg.Layers),
		Experts: cfg.NumExperts,
		Rules: []disambiguate.Rule{{
			Source: hfLayer + "post_attention_layernorm.weight",
			Target: hfLayer + "dense-post_attention_layernorm.weight",
			Kind:   disambiguate.LayerDense,
		}},
		Specs:  specs,
		Expect: expect,
	}, nil
}

var (
	dense = []disambiguate.LayerKind{disambiguate.LayerDense}
	moe   = []disambiguate.LayerKind{disambiguate.LayerMoE}
)
