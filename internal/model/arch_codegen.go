package model

import "github.com/edgerun/ggufrt/internal/vocab"

func init() {
	Register(CodeGen, buildCodeGen)
}

var codeGenSpec = ArchSpec{
	Name:             "codegen",
	Norm:             NormLayer,
	Activation:       ActivationGeLU,
	Position:         PositionRotary,
	ParallelResidual: true,
	BiasedLinear:     true,
}

// buildCodeGen shares GPT-J's parallel-residual, rotary, biased-linear
// tensor shape.
func buildCodeGen(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	arena, named, err := loadStandardTensors(hp, loader, codeGenSpec)
	if err != nil {
		return nil, err
	}
	m := New(CodeGen, codeGenSpec, hp, v, arena)
	if err := m.bindStandardTensors(named, hp, codeGenSpec); err != nil {
		return nil, err
	}
	return m, nil
}
