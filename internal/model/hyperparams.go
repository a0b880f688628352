package model

import "fmt"

// Hyperparameters is the fixed-schema header record (§3). Every
// architecture uses these same six fields, read from disk in the order
// declared here (internal/loader's handler); no architecture-specific
// fields are read after them.
type Hyperparameters struct {
	NVocab   int32
	NEmbd    int32
	NLayer   int32
	NHead    int32
	NContext int32
	FileType FileType
}

// Validate checks the n_vocab invariant against the loaded vocabulary
// length (§3 "n_vocab matches the loaded vocabulary length").
func (h Hyperparameters) Validate(vocabLen int) error {
	if int(h.NVocab) != vocabLen {
		return fmt.Errorf("model: hyperparameters n_vocab=%d does not match vocabulary length %d", h.NVocab, vocabLen)
	}
	if h.NEmbd <= 0 || h.NLayer <= 0 || h.NHead <= 0 || h.NContext <= 0 {
		return fmt.Errorf("model: hyperparameters has a non-positive dimension: %+v", h)
	}
	if h.NEmbd%h.NHead != 0 {
		return fmt.Errorf("model: n_embd=%d is not divisible by n_head=%d", h.NEmbd, h.NHead)
	}
	return nil
}

// HeadDim is n_embd/n_head, the per-head width used by rotary/ALiBi
// attention math.
func (h Hyperparameters) HeadDim() int32 { return h.NEmbd / h.NHead }
