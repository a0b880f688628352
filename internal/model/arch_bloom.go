package model

import "github.com/edgerun/ggufrt/internal/vocab"

func init() {
	Register(Bloom, buildBloom)
}

var bloomSpec = ArchSpec{
	Name:          "bloom",
	Norm:          NormLayer,
	Activation:    ActivationGeLU,
	Position:      PositionALiBi,
	WordEmbedNorm: true,
	BiasedLinear:  true,
}

// buildBloom pulls BLOOM's tensors: a LayerNorm applied to the token
// embeddings before layer 0, biased linear projections throughout,
// and ALiBi positional bias instead of rotary embeddings.
func buildBloom(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	arena, named, err := loadStandardTensors(hp, loader, bloomSpec)
	if err != nil {
		return nil, err
	}
	m := New(Bloom, bloomSpec, hp, v, arena)
	if err := m.bindStandardTensors(named, hp, bloomSpec); err != nil {
		return nil, err
	}
	return m, nil
}
