package session

import (
	"math/rand"
	"testing"

	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/sampler"
	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

type fakeLoader struct {
	nEmbd int
}

func (f *fakeLoader) makeTensor(name string, dims []int) (*tensor.Tensor, error) {
	size, err := tensor.ByteSize(tensor.F32, dims)
	if err != nil {
		return nil, err
	}
	return tensor.New(name, tensor.F32, dims, make([]byte, size)), nil
}

func (f *fakeLoader) Load(name string) (*tensor.Tensor, error) {
	return f.makeTensor(name, []int{f.nEmbd})
}

func (f *fakeLoader) LoadWithShape(name string, expectedDims []int) (*tensor.Tensor, error) {
	return f.makeTensor(name, expectedDims)
}

func (f *fakeLoader) Finish() (tensor.Arena, map[string]*tensor.Tensor, error) {
	return nil, nil, nil
}

// tinyModel builds a tiny LLaMA-shaped model with a context window
// small enough to exercise ContextFull in a handful of tokens.
func tinyModel(t *testing.T, nContext int32) *model.Model {
	t.Helper()
	hp := model.Hyperparameters{NVocab: 9, NEmbd: 8, NLayer: 1, NHead: 2, NContext: nContext, FileType: model.FileTypeF32}
	v := vocab.New()
	for i, tok := range []string{"<s>", "</s>", "a", "b", "c", "d", "e", "f", " "} {
		if err := v.Push(vocab.TokenID(i), []byte(tok), 0); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	m, err := model.Build(model.Llama, hp, v, &fakeLoader{nEmbd: int(hp.NEmbd)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func newTestSession(t *testing.T, nContext int32) *Session {
	t.Helper()
	m := tinyModel(t, nContext)
	s, err := New(m, Params{
		NBatch:       4,
		KVMemoryType: tensor.F16,
		Sampler:      sampler.Params{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSessionFeedPromptCommitsTokens(t *testing.T) {
	s := newTestSession(t, 32)
	var pieces [][]byte
	err := s.FeedPrompt("a b c", func(p []byte) error {
		cp := append([]byte(nil), p...)
		pieces = append(pieces, cp)
		return nil
	})
	if err != nil {
		t.Fatalf("FeedPrompt: %v", err)
	}
	if len(s.Tokens()) == 0 {
		t.Fatal("FeedPrompt committed no tokens")
	}
	if s.NPast() != len(s.Tokens()) {
		t.Errorf("NPast() = %d, want %d", s.NPast(), len(s.Tokens()))
	}
	if len(pieces) != len(s.Tokens()) {
		t.Errorf("onToken fired %d times, want %d", len(pieces), len(s.Tokens()))
	}
}

func TestSessionFeedPromptPrependsBOSOnlyOnFreshSession(t *testing.T) {
	s := newTestSession(t, 32)
	if err := s.FeedPrompt("a", nil); err != nil {
		t.Fatalf("FeedPrompt: %v", err)
	}
	if s.Tokens()[0] != s.model.BosTokenID() {
		t.Fatalf("first token = %d, want BOS %d", s.Tokens()[0], s.model.BosTokenID())
	}
	firstLen := len(s.Tokens())

	if err := s.FeedPrompt("b", nil); err != nil {
		t.Fatalf("second FeedPrompt: %v", err)
	}
	// No new BOS should have been injected: exactly one more token
	// than before ("b" tokenizes to one piece in the test vocabulary).
	if len(s.Tokens()) != firstLen+1 {
		t.Errorf("len(Tokens()) after second feed = %d, want %d", len(s.Tokens()), firstLen+1)
	}
}

func TestSessionFeedPromptReturnsContextFullPartialCommit(t *testing.T) {
	s := newTestSession(t, 2) // BOS alone fills it almost immediately
	err := s.FeedPrompt("a b c d e f", nil)
	if _, ok := err.(*ContextFullError); !ok {
		t.Fatalf("FeedPrompt over a tiny context = %v (%T), want *ContextFullError", err, err)
	}
	if s.NPast() == 0 {
		t.Error("the prefix that fit should remain committed")
	}
}

func TestSessionSampleNextAdvancesState(t *testing.T) {
	s := newTestSession(t, 32)
	if err := s.FeedPrompt("a", nil); err != nil {
		t.Fatalf("FeedPrompt: %v", err)
	}
	before := s.NPast()

	rng := rand.New(rand.NewSource(7))
	id, err := s.SampleNext(rng)
	if err != nil {
		t.Fatalf("SampleNext: %v", err)
	}
	if s.NPast() != before+1 {
		t.Errorf("NPast() after SampleNext = %d, want %d", s.NPast(), before+1)
	}
	if s.Tokens()[len(s.Tokens())-1] != id {
		t.Error("sampled token was not appended to Tokens()")
	}
}

func TestSessionInferenceWithPromptStopsAtMaximumTokenCount(t *testing.T) {
	m := tinyModel(t, 64)
	s, err := New(m, Params{NBatch: 4, KVMemoryType: tensor.F16, MaximumTokenCount: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	before := s.NPast()
	if err := s.InferenceWithPrompt("a", rng, nil); err != nil {
		t.Fatalf("InferenceWithPrompt: %v", err)
	}
	// 1 BOS + 1 "a" fed, plus at most 3 sampled tokens (fewer if EOT
	// was drawn first).
	if s.NPast() <= before {
		t.Error("InferenceWithPrompt committed no tokens")
	}
	if s.NPast() > before+2+3 {
		t.Errorf("NPast() = %d exceeds feed + MaximumTokenCount bound", s.NPast())
	}
}
