package loader

// ProgressKind discriminates the fields populated on a ProgressEvent
// (§4.2/§4.8 "Progress events (load)").
type ProgressKind int

const (
	HyperparametersLoaded ProgressKind = iota
	ContextSize
	TensorLoaded
	Loaded
)

// ProgressEvent is emitted during Load; only the fields relevant to
// Kind are populated.
type ProgressEvent struct {
	Kind ProgressKind

	// ContextSize
	Bytes int64

	// TensorLoaded
	CurrentTensor int
	TensorCount   int

	// Loaded
	FileSize int64
}

// ProgressCallback is invoked for each ProgressEvent during Load.
type ProgressCallback func(ProgressEvent) error
