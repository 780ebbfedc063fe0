package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BackendOptions describes the graph a backend should load and where to place it.
type BackendOptions struct {
	ModelPath string
	Family    Family
	Devices   DeviceSpec
	// Tokenizer is used by backends serving TokenizeInternal families.
	Tokenizer Tokenizer
}

// BackendFactory creates a backend. The default is NewTransformerBackend,
// provided by build-tagged files (backend_onnx.go and backend_stub.go).
type BackendFactory func(logger *zap.Logger, opts BackendOptions) (Backend, error)

// TokenizerFactory loads a tokenizer definition from disk. The default is NewTokenizer.
type TokenizerFactory func(path string) (Tokenizer, error)

// classifyRuntimeError maps runtime failures mentioning memory onto ErrOutOfMemory
// so the batch-size prober can back off. Everything else is an inference failure.
func classifyRuntimeError(err error) error {
	if err == nil {
		return nil
	}
	if IsOutOfMemory(err) {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return fmt.Errorf("%w: %v", ErrInferenceFailed, err)
}

// IsOutOfMemory reports whether err describes device memory exhaustion.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "memory")
}

// shardRanges splits n rows into at most k contiguous [start, end) ranges of
// ceil(n/k) rows, the last one possibly shorter.
func shardRanges(n, k int) [][2]int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if n < k {
		k = n
	}
	per := (n + k - 1) / k
	out := make([][2]int, 0, k)
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// gather concatenates per-replica outputs along the batch dimension.
func gather(parts []*ForwardOutput, batch, seqLen int) (*ForwardOutput, error) {
	var first *ForwardOutput
	for _, p := range parts {
		if p != nil {
			first = p
			break
		}
	}
	if first == nil {
		return nil, fmt.Errorf("%w: no replica produced output", ErrInferenceFailed)
	}

	out := &ForwardOutput{Batch: batch, SeqLen: first.SeqLen, Hidden: first.Hidden}
	for _, p := range parts {
		if p == nil {
			continue
		}
		if p.Hidden != out.Hidden || p.SeqLen != out.SeqLen {
			return nil, fmt.Errorf("%w: replica output shapes disagree", ErrInferenceFailed)
		}
		out.LastHiddenState = appendPart(out.LastHiddenState, p.LastHiddenState)
		out.PoolerOutput = appendPart(out.PoolerOutput, p.PoolerOutput)
		out.SentenceEmbedding = appendPart(out.SentenceEmbedding, p.SentenceEmbedding)
	}
	if out.SeqLen == 0 {
		out.SeqLen = seqLen
	}
	return out, nil
}

func appendPart(dst, src []float32) []float32 {
	if src == nil {
		return dst
	}
	return append(dst, src...)
}
