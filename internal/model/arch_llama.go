package model

import (
	"github.com/edgerun/ggufrt/internal/vocab"
)

func init() {
	Register(Llama, buildLlama)
}

var llamaSpec = ArchSpec{
	Name:           "llama",
	Norm:           NormRMS,
	Activation:     ActivationSiLUGated,
	Position:       PositionRotary,
	SeparateGateUp: true,
	BiasedLinear:   false,
}

// buildLlama pulls LLaMA's tensors: RMSNorm weights (no bias), a fused
// QKV projection per layer, and a gated SiLU feed-forward with
// distinct gate/up/down projections.
func buildLlama(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	arena, named, err := loadStandardTensors(hp, loader, llamaSpec)
	if err != nil {
		return nil, err
	}
	m := New(Llama, llamaSpec, hp, v, arena)
	if err := m.bindStandardTensors(named, hp, llamaSpec); err != nil {
		return nil, err
	}
	return m, nil
}

// loadStandardTensors and bindStandardTensors are shared by every
// architecture file in this package; they live in arch_common.go.
