package model

import "github.com/edgerun/ggufrt/internal/vocab"

func init() {
	Register(NeoX, buildNeoX)
}

var neoXSpec = ArchSpec{
	Name:             "neox",
	Norm:             NormLayer,
	Activation:       ActivationGeLU,
	Position:         PositionRotary,
	ParallelResidual: true,
	BiasedLinear:     true,
}

// buildNeoX shares GPT-J's parallel-residual tensor shape. Upstream
// GPT-NeoX rotates only a configurable fraction of each head; this
// implementation applies full-head rotary uniformly (documented
// simplification, see DESIGN.md).
func buildNeoX(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	arena, named, err := loadStandardTensors(hp, loader, neoXSpec)
	if err != nil {
		return nil, err
	}
	m := New(NeoX, neoXSpec, hp, v, arena)
	if err := m.bindStandardTensors(named, hp, neoXSpec); err != nil {
		return nil, err
	}
	return m, nil
}
