// Package session implements §4.5: the persistent KV-cache-backed
// inference session, its feed-prompt and sample-next loops, and the
// FRESH -> PRIMED -> [EOT | ContextFull | user-stop] state machine.
package session

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/edgerun/ggufrt/internal/eval"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/sampler"
	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

// Params configures a session for its full lifetime (§3 session
// parameters referenced by feed_prompt/sample_next/snapshot).
type Params struct {
	NBatch                 int
	NThreads               int
	KVMemoryType           tensor.ElementType
	Sampler                sampler.Params
	MaximumTokenCount      int
	PlayBackPreviousTokens bool
}

// Session owns the KV cache, token history, and last-logits vector
// for one inference conversation against one Model (§3
// InferenceSession).
type Session struct {
	ID     uuid.UUID
	model  *model.Model
	state  *eval.State
	params Params

	tokens     []vocab.TokenID
	lastLogits []float32

	restored bool // true after Restore, until the first feed/sample replays history
}

// New opens a fresh session against m.
func New(m *model.Model, params Params) (*Session, error) {
	st, err := eval.NewState(m, params.KVMemoryType)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         uuid.New(),
		model:      m,
		state:      st,
		params:     params,
		lastLogits: make([]float32, m.HP.NVocab),
	}, nil
}

// NPast returns the number of positions committed to the KV cache.
func (s *Session) NPast() int { return s.state.NPast }

// Tokens returns the ordered sequence of every token fed or sampled
// so far. The returned slice must not be mutated.
func (s *Session) Tokens() []vocab.TokenID { return s.tokens }

// LastLogits returns the logits produced by the most recent evaluate
// call. The returned slice must not be mutated.
func (s *Session) LastLogits() []float32 { return s.lastLogits }

// FeedPrompt tokenizes text, batches it by params.NBatch, and drives
// the forward evaluator over each batch (§4.5 feed_prompt). onToken,
// if non-nil, is invoked with each token's byte-piece as it is
// committed. Returns *ContextFullError if the prompt does not fit;
// the prefix that did fit remains committed.
func (s *Session) FeedPrompt(text string, onToken func([]byte) error) error {
	prependBOS := s.state.NPast == 0
	ids, err := vocab.Tokenize(s.model.Vocabulary(), []byte(text), prependBOS, s.model.BosTokenID())
	if err != nil {
		return err
	}
	return s.feedTokens(ids, onToken)
}

func (s *Session) feedTokens(ids []vocab.TokenID, onToken func([]byte) error) error {
	nContext := int(s.model.NContextTokens())
	batchSize := s.params.NBatch
	if batchSize <= 0 {
		batchSize = 1
	}

	consumed := 0
	for consumed < len(ids) {
		remaining := nContext - s.state.NPast
		if remaining <= 0 {
			return &ContextFullError{NPast: s.state.NPast, NContext: nContext, Consumed: consumed}
		}

		end := consumed + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if end-consumed > remaining {
			end = consumed + remaining
		}
		batch := ids[consumed:end]

		if err := eval.Evaluate(s.model, s.state, eval.Params{NThreads: s.params.NThreads}, batch, s.lastLogits, nil); err != nil {
			return err
		}

		for _, id := range batch {
			s.tokens = append(s.tokens, id)
			if onToken != nil {
				tok, err := s.model.Vocabulary().IDToToken(id)
				if err != nil {
					return err
				}
				if err := onToken(tok); err != nil {
					return &UserCallbackError{Err: err}
				}
			}
		}
		consumed = end
	}

	return nil
}

// SampleNext draws the next token from the current last-logits via
// the sampler pipeline, commits it, and refreshes last-logits with a
// batch-of-one evaluate call (§4.5 sample_next).
func (s *Session) SampleNext(rng *rand.Rand) (vocab.TokenID, error) {
	id := sampler.Sample(s.lastLogits, s.tokens, s.params.Sampler, rng)
	if err := s.feedTokens([]vocab.TokenID{id}, nil); err != nil {
		return 0, err
	}
	return id, nil
}

// InferenceWithPrompt implements §4.5 inference_with_prompt: replay
// previously-restored history if play_back_previous_tokens is set,
// feed the prompt, then sample until end-of-text, maximum_token_count,
// or ContextFull.
func (s *Session) InferenceWithPrompt(text string, rng *rand.Rand, onToken func([]byte) error) error {
	if s.restored && s.params.PlayBackPreviousTokens {
		for _, id := range s.tokens {
			if onToken != nil {
				tok, err := s.model.Vocabulary().IDToToken(id)
				if err != nil {
					return err
				}
				if err := onToken(tok); err != nil {
					return &UserCallbackError{Err: err}
				}
			}
		}
	}
	s.restored = false

	if err := s.FeedPrompt(text, onToken); err != nil {
		return err
	}

	eot := s.model.EotTokenID()
	limit := s.params.MaximumTokenCount
	for i := 0; limit <= 0 || i < limit; i++ {
		id, err := s.SampleNext(rng)
		if err != nil {
			return err
		}
		if onToken != nil {
			tok, err := s.model.Vocabulary().IDToToken(id)
			if err != nil {
				return err
			}
			if err := onToken(tok); err != nil {
				return &UserCallbackError{Err: err}
			}
		}
		if id == eot {
			return nil
		}
	}
	return nil
}
