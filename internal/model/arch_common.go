package model

import (
	"fmt"

	"github.com/edgerun/ggufrt/internal/tensor"
)

// loadStandardTensors pulls every tensor the evaluator's shared
// stepper needs for one architecture, keyed by name, using the
// ArchSpec flags to decide which optional tensors (biases, a separate
// FFN gate projection, a pre-layer word-embedding norm) exist in this
// container. Every architecture file in this package is a thin
// wrapper around this and bindStandardTensors, differing only in the
// ArchSpec they pass (§4.4's divergences are all data, not code).
func loadStandardTensors(hp Hyperparameters, loader TensorLoader, spec ArchSpec) (tensor.Arena, map[string]*tensor.Tensor, error) {
	nEmbd := int(hp.NEmbd)
	nVocab := int(hp.NVocab)

	if _, err := loader.LoadWithShape("tok_embeddings.weight", []int{nEmbd, nVocab}); err != nil {
		return nil, nil, err
	}

	if spec.WordEmbedNorm {
		if _, err := loader.Load("norm.weight"); err != nil {
			return nil, nil, err
		}
		if spec.Norm == NormLayer {
			if _, err := loader.Load("norm.bias"); err != nil {
				return nil, nil, err
			}
		}
	}

	for i := 0; i < int(hp.NLayer); i++ {
		prefix := fmt.Sprintf("layers.%d.", i)

		if _, err := loader.Load(prefix + "attention_norm.weight"); err != nil {
			return nil, nil, err
		}
		if spec.Norm == NormLayer {
			if _, err := loader.Load(prefix + "attention_norm.bias"); err != nil {
				return nil, nil, err
			}
		}

		if !spec.ParallelResidual {
			if _, err := loader.Load(prefix + "ffn_norm.weight"); err != nil {
				return nil, nil, err
			}
			if spec.Norm == NormLayer {
				if _, err := loader.Load(prefix + "ffn_norm.bias"); err != nil {
					return nil, nil, err
				}
			}
		}

		if _, err := loader.LoadWithShape(prefix+"attention.query_key_value.weight", []int{nEmbd, 3 * nEmbd}); err != nil {
			return nil, nil, err
		}
		if spec.BiasedLinear {
			if _, err := loader.Load(prefix + "attention.query_key_value.bias"); err != nil {
				return nil, nil, err
			}
		}

		if _, err := loader.LoadWithShape(prefix+"attention.wo.weight", []int{nEmbd, nEmbd}); err != nil {
			return nil, nil, err
		}
		if spec.BiasedLinear {
			if _, err := loader.Load(prefix + "attention.wo.bias"); err != nil {
				return nil, nil, err
			}
		}

		if _, err := loader.Load(prefix + "feed_forward.w1.weight"); err != nil {
			return nil, nil, err
		}
		if spec.BiasedLinear {
			if _, err := loader.Load(prefix + "feed_forward.w1.bias"); err != nil {
				return nil, nil, err
			}
		}
		if spec.SeparateGateUp {
			if _, err := loader.Load(prefix + "feed_forward.w3.weight"); err != nil {
				return nil, nil, err
			}
		}
		if _, err := loader.Load(prefix + "feed_forward.w2.weight"); err != nil {
			return nil, nil, err
		}
		if spec.BiasedLinear {
			if _, err := loader.Load(prefix + "feed_forward.w2.bias"); err != nil {
				return nil, nil, err
			}
		}
	}

	if _, err := loader.Load("output_norm.weight"); err != nil {
		return nil, nil, err
	}
	if spec.Norm == NormLayer {
		if _, err := loader.Load("output_norm.bias"); err != nil {
			return nil, nil, err
		}
	}
	if _, err := loader.LoadWithShape("output.weight", []int{nEmbd, nVocab}); err != nil {
		return nil, nil, err
	}

	return loader.Finish()
}

// bindStandardTensors copies the name->tensor map produced by
// loadStandardTensors into a Model's named fields.
func (m *Model) bindStandardTensors(named map[string]*tensor.Tensor, hp Hyperparameters, spec ArchSpec) error {
	get := func(name string) (*tensor.Tensor, error) {
		t, ok := named[name]
		if !ok {
			return nil, fmt.Errorf("model: %w", &UnknownTensorError{Name: name})
		}
		return t, nil
	}
	getOptional := func(name string) *tensor.Tensor {
		return named[name]
	}

	tok, err := get("tok_embeddings.weight")
	if err != nil {
		return err
	}
	m.TokEmbeddings = tok

	if spec.WordEmbedNorm {
		wn, err := get("norm.weight")
		if err != nil {
			return err
		}
		m.WordEmbedNorm = wn
		m.WordEmbedBias = getOptional("norm.bias")
	}

	m.Layers = make([]LayerWeights, hp.NLayer)
	for i := range m.Layers {
		prefix := fmt.Sprintf("layers.%d.", i)
		l := &m.Layers[i]

		l.AttnNorm, err = get(prefix + "attention_norm.weight")
		if err != nil {
			return err
		}
		l.AttnNormBias = getOptional(prefix + "attention_norm.bias")

		if !spec.ParallelResidual {
			l.FFNNorm, err = get(prefix + "ffn_norm.weight")
			if err != nil {
				return err
			}
			l.FFNNormBias = getOptional(prefix + "ffn_norm.bias")
		}

		l.Wqkv, err = get(prefix + "attention.query_key_value.weight")
		if err != nil {
			return err
		}
		l.Bqkv = getOptional(prefix + "attention.query_key_value.bias")

		l.Wo, err = get(prefix + "attention.wo.weight")
		if err != nil {
			return err
		}
		l.Bo = getOptional(prefix + "attention.wo.bias")

		l.W1, err = get(prefix + "feed_forward.w1.weight")
		if err != nil {
			return err
		}
		l.B1 = getOptional(prefix + "feed_forward.w1.bias")
		if spec.SeparateGateUp {
			l.W3, err = get(prefix + "feed_forward.w3.weight")
			if err != nil {
				return err
			}
		}
		l.W2, err = get(prefix + "feed_forward.w2.weight")
		if err != nil {
			return err
		}
		l.B2 = getOptional(prefix + "feed_forward.w2.bias")
	}

	m.OutputNorm, err = get("output_norm.weight")
	if err != nil {
		return err
	}
	m.OutputNormBias = getOptional("output_norm.bias")

	m.WOut, err = get("output.weight")
	if err != nil {
		return err
	}
	return nil
}

// UnknownTensorError means the builder expected a tensor the loader
// never produced for it (§4.2 "A tensor referenced by the builder but
// absent from the file").
type UnknownTensorError struct {
	Name string
}

func (e *UnknownTensorError) Error() string {
	return fmt.Sprintf("model: unknown tensor %q requested by builder", e.Name)
}
