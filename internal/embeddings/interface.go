package embeddings

import (
	"context"
)

// Encoding is the tokenizer output for a single text.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Tokenizer turns text into token ids with special tokens added.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
	Close() error
}

// ForwardOutput holds the raw outputs of one forward pass. Flat slices are row major.
type ForwardOutput struct {
	Batch  int
	SeqLen int
	Hidden int

	// LastHiddenState has shape [Batch, SeqLen, Hidden].
	LastHiddenState []float32
	// PoolerOutput has shape [Batch, Hidden].
	PoolerOutput []float32
	// SentenceEmbedding has shape [Batch, Hidden].
	SentenceEmbedding []float32
}

// Backend runs inference for a loaded model graph.
type Backend interface {
	// Forward runs one batch. Implementations report exhausted device
	// memory as an error wrapping ErrOutOfMemory.
	Forward(ctx context.Context, batch *TokenizedBatch) (*ForwardOutput, error)
	// Parameters returns the model parameter count.
	Parameters() int64
	Close() error
}

// VectorCache stores embeddings keyed by model and text.
type VectorCache interface {
	GetMany(ctx context.Context, model string, texts []string) (map[string][]float32, error)
	SetMany(ctx context.Context, model string, vectors map[string][]float32) error
}
