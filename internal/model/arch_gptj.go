package model

import "github.com/edgerun/ggufrt/internal/vocab"

func init() {
	Register(GptJ, buildGptJ)
}

var gptJSpec = ArchSpec{
	Name:             "gptj",
	Norm:             NormLayer,
	Activation:       ActivationGeLU,
	Position:         PositionRotary,
	ParallelResidual: true,
	BiasedLinear:     true,
}

// buildGptJ pulls GPT-J's tensors: a single per-layer norm feeding
// both attention and the feed-forward block in parallel (no separate
// ffn_norm), rotary positions, and biased linear projections.
func buildGptJ(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	arena, named, err := loadStandardTensors(hp, loader, gptJSpec)
	if err != nil {
		return nil, err
	}
	m := New(GptJ, gptJSpec, hp, v, arena)
	if err := m.bindStandardTensors(named, hp, gptJSpec); err != nil {
		return nil, err
	}
	return m, nil
}
