// Package model declares the per-architecture hyperparameter schema,
// tensor layout, and builder registry (§4.4 "Model registry" share of
// the system). The shared forward-pass mechanics that consume a Model
// live in internal/eval; this package only describes what a model is
// made of and how it is assembled from a TensorLoader.
package model

import (
	"fmt"

	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

// Model owns hyperparameters, vocabulary, tensor storage, and
// architecture-specific named tensors (§3). It is immutable after
// construction and safe to share across concurrently running
// sessions, since evaluation only reads from it.
type Model struct {
	Arch Architecture
	Spec ArchSpec
	HP   Hyperparameters

	vocab *vocab.Vocabulary
	arena tensor.Arena

	TokEmbeddings *tensor.Tensor
	WordEmbedNorm *tensor.Tensor
	WordEmbedBias *tensor.Tensor

	Layers []LayerWeights

	OutputNorm     *tensor.Tensor
	OutputNormBias *tensor.Tensor
	WOut           *tensor.Tensor

	eot vocab.TokenID
	bos vocab.TokenID
}

// New assembles a Model from its parts; called by each architecture's
// builder once every tensor has been pulled through the TensorLoader.
func New(arch Architecture, spec ArchSpec, hp Hyperparameters, v *vocab.Vocabulary, arena tensor.Arena) *Model {
	return &Model{
		Arch:  arch,
		Spec:  spec,
		HP:    hp,
		vocab: v,
		arena: arena,
		eot:   resolveEot(arch, v, hp),
		bos:   resolveBos(v),
	}
}

// resolveEot finds the architecture's end-of-text token by probing
// the vocabulary for the conventional spelling, falling back to the
// last vocabulary entry when that spelling is absent (§3 "eot is
// per-architecture").
func resolveEot(arch Architecture, v *vocab.Vocabulary, hp Hyperparameters) vocab.TokenID {
	candidates := []string{"</s>", "<|endoftext|>"}
	for _, c := range candidates {
		if id, ok := v.TokenToID([]byte(c)); ok {
			return id
		}
	}
	return vocab.TokenID(hp.NVocab - 1)
}

// resolveBos finds the conventional beginning-of-sentence token,
// falling back to 0 when the vocabulary has no such entry (§4.3
// "Optionally prepends a beginning-of-sentence token").
func resolveBos(v *vocab.Vocabulary) vocab.TokenID {
	if id, ok := v.TokenToID([]byte("<s>")); ok {
		return id
	}
	return 0
}

// Vocabulary returns the model's token vocabulary.
func (m *Model) Vocabulary() *vocab.Vocabulary { return m.vocab }

// NContextTokens returns the maximum KV-cache length this model
// supports.
func (m *Model) NContextTokens() int32 { return m.HP.NContext }

// EotTokenID returns the architecture's end-of-text token.
func (m *Model) EotTokenID() vocab.TokenID { return m.eot }

// BosTokenID returns the conventional beginning-of-sentence token.
func (m *Model) BosTokenID() vocab.TokenID { return m.bos }

// Tensor looks up a named tensor across every named slot the model
// holds, for diagnostics.
func (m *Model) Tensor(name string) (*tensor.Tensor, bool) {
	all := m.allNamed()
	t, ok := all[name]
	return t, ok
}

func (m *Model) allNamed() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	add := func(name string, t *tensor.Tensor) {
		if t != nil {
			out[name] = t
		}
	}
	add("tok_embeddings.weight", m.TokEmbeddings)
	add("norm.weight", m.WordEmbedNorm)
	add("norm.bias", m.WordEmbedBias)
	add("output_norm.weight", m.OutputNorm)
	add("output_norm.bias", m.OutputNormBias)
	add("output.weight", m.WOut)
	for i, l := range m.Layers {
		prefix := fmt.Sprintf("layers.%d.", i)
		add(prefix+"attention_norm.weight", l.AttnNorm)
		add(prefix+"attention_norm.bias", l.AttnNormBias)
		add(prefix+"ffn_norm.weight", l.FFNNorm)
		add(prefix+"ffn_norm.bias", l.FFNNormBias)
		add(prefix+"attention.query_key_value.weight", l.Wqkv)
		add(prefix+"attention.query_key_value.bias", l.Bqkv)
		add(prefix+"attention.wo.weight", l.Wo)
		add(prefix+"attention.wo.bias", l.Bo)
		add(prefix+"feed_forward.w1.weight", l.W1)
		add(prefix+"feed_forward.w1.bias", l.B1)
		add(prefix+"feed_forward.w2.weight", l.W2)
		add(prefix+"feed_forward.w2.bias", l.B2)
		add(prefix+"feed_forward.w3.weight", l.W3)
	}
	return out
}

// Close releases the model's tensor arena or mapping.
func (m *Model) Close() error {
	if m == nil || m.arena == nil {
		return nil
	}
	return m.arena.Close()
}
