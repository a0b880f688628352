package eval

import "fmt"

// Params configures one Evaluate call (§4.4 "evaluate(session, params,
// input_tokens, output_request)"). Evaluate does not read NThreads:
// this pure-Go reference kernel runs single-threaded and has no worker
// pool to size.
type Params struct {
	NThreads int
}

// OutputRequest names the optional per-call sinks the evaluator fills
// in addition to session.last_logits (§3 EvaluateOutputRequest).
type OutputRequest struct {
	WantAllLogits  bool
	AllLogits      []float32 // filled, length n*n_vocab, iff WantAllLogits
	WantEmbeddings bool
	Embeddings     []float32 // filled, length n*n_embd, iff WantEmbeddings
}

// ContextFullError is raised defensively by Evaluate when a caller
// requests more positions than the KV cache has room for; session
// callers are expected to never hit this by pre-truncating batches
// (§7 "ContextFull... session still usable with a shorter follow-up").
type ContextFullError struct {
	NPast    int
	N        int
	NContext int
}

func (e *ContextFullError) Error() string {
	return fmt.Sprintf("eval: context full: n_past=%d + n=%d exceeds n_context=%d", e.NPast, e.N, e.NContext)
}
