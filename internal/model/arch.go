package model

import (
	"fmt"

	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

// Architecture names the per-model forward-pass family (§4.4 lists the
// per-architecture divergences this package declares for).
type Architecture int

const (
	Llama Architecture = iota
	Bloom
	Gpt2
	GptJ
	CodeGen
	NeoX
)

func (a Architecture) String() string {
	switch a {
	case Llama:
		return "llama"
	case Bloom:
		return "bloom"
	case Gpt2:
		return "gpt2"
	case GptJ:
		return "gptj"
	case CodeGen:
		return "codegen"
	case NeoX:
		return "neox"
	default:
		return fmt.Sprintf("architecture(%d)", int(a))
	}
}

// ParseArchitecture maps a config/CLI string to an Architecture.
func ParseArchitecture(s string) (Architecture, error) {
	switch s {
	case "llama":
		return Llama, nil
	case "bloom":
		return Bloom, nil
	case "gpt2":
		return Gpt2, nil
	case "gptj":
		return GptJ, nil
	case "codegen":
		return CodeGen, nil
	case "neox":
		return NeoX, nil
	default:
		return 0, fmt.Errorf("model: unknown architecture %q", s)
	}
}

// NormKind selects the normalization the evaluator applies before
// attention and before the feed-forward block.
type NormKind int

const (
	NormRMS NormKind = iota
	NormLayer
)

// ActivationKind selects the feed-forward non-linearity.
type ActivationKind int

const (
	ActivationGeLU ActivationKind = iota
	ActivationSiLUGated
)

// PositionKind selects how positional information enters attention.
type PositionKind int

const (
	PositionRotary PositionKind = iota
	PositionALiBi
)

// ArchSpec is the declarative table the evaluator's shared per-layer
// stepper reads to know how this architecture differs from the
// others, so internal/eval hosts one graph-execution routine instead
// of six (§4.4's per-step divergences are all reachable from here).
type ArchSpec struct {
	Name              string
	Norm              NormKind
	Activation        ActivationKind
	Position          PositionKind
	WordEmbedNorm     bool // BLOOM: normalize token embeddings before layer 0
	ParallelResidual  bool // GPT-J/NeoX/CodeGen: attn and FFN read the same normed input
	SeparateGateUp    bool // LLaMA: FFN uses distinct gate (w1) and up (w3) projections
	BiasedLinear      bool // GPT-2/BLOOM/GPT-J style: Q/K/V, O and FFN projections carry biases
}

// LayerWeights holds the tensors for one transformer block. Not every
// field is populated for every architecture; ArchSpec says which.
type LayerWeights struct {
	AttnNorm     *tensor.Tensor
	AttnNormBias *tensor.Tensor
	FFNNorm      *tensor.Tensor
	FFNNormBias  *tensor.Tensor

	Wqkv *tensor.Tensor
	Bqkv *tensor.Tensor
	Wo   *tensor.Tensor
	Bo   *tensor.Tensor

	W1 *tensor.Tensor // FFN up-projection (or gate, when SeparateGateUp)
	B1 *tensor.Tensor
	W2 *tensor.Tensor // FFN down-projection
	B2 *tensor.Tensor
	W3 *tensor.Tensor // FFN up-projection, only when SeparateGateUp
}

// TensorLoader is the capability the loader hands to an architecture
// builder (§4.2): request tensors by name and, once every tensor the
// builder needs has been pulled, finalize the arena.
type TensorLoader interface {
	Load(name string) (*tensor.Tensor, error)
	LoadWithShape(name string, expectedDims []int) (*tensor.Tensor, error)
	Finish() (tensor.Arena, map[string]*tensor.Tensor, error)
}

// Builder constructs a Model from hyperparameters, a vocabulary, and a
// TensorLoader bound to one open container (§4.2's "Output" contract).
type Builder func(hp Hyperparameters, vocab *vocab.Vocabulary, loader TensorLoader) (*Model, error)

// Registry maps architecture keys to builders, mirroring the adapter
// registry pattern used for backend selection elsewhere in this
// codebase: a package-level default plus an explicit Register call
// per architecture file's init().
type Registry map[Architecture]Builder

// DefaultRegistry is populated by each arch_*.go file's init().
var DefaultRegistry = Registry{}

// Register adds a builder for arch to the default registry.
func Register(arch Architecture, b Builder) {
	DefaultRegistry[arch] = b
}

// Get looks up a builder for arch.
func (r Registry) Get(arch Architecture) (Builder, bool) {
	b, ok := r[arch]
	return b, ok
}

// Build resolves arch against the default registry and invokes its
// builder.
func Build(arch Architecture, hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader) (*Model, error) {
	b, ok := DefaultRegistry.Get(arch)
	if !ok {
		return nil, fmt.Errorf("model: no builder registered for architecture %s", arch)
	}
	return b(hp, v, loader)
}
