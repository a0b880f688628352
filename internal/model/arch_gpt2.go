package model

import "github.com/edgerun/ggufrt/internal/vocab"

func init() {
	Register(Gpt2, buildGpt2)
}

var gpt2Spec = ArchSpec{
	Name:         "gpt2",
	Norm:         NormLayer,
	Activation:   ActivationGeLU,
	Position:     PositionRotary,
	BiasedLinear: true,
}

// buildGpt2 pulls GPT-2's tensors: LayerNorm, biased linear
// projections, a two-tensor (up, down) FFN, and rotary positions in
// place of GPT-2's original learned absolute position table
// (documented simplification, see DESIGN.md).
func buildGpt2(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	arena, named, err := loadStandardTensors(hp, loader, gpt2Spec)
	if err != nil {
		return nil, err
	}
	m := New(Gpt2, gpt2Spec, hp, v, arena)
	if err := m.bindStandardTensors(named, hp, gpt2Spec); err != nil {
		return nil, err
	}
	return m, nil
}
