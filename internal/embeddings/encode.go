package embeddings

import (
	"context"
	"fmt"
)

// Encode runs a forward pass for batch and pools it the way family f expects.
// It returns one host-side vector per batch row.
func Encode(ctx context.Context, f Family, b Backend, batch *TokenizedBatch) ([][]float32, error) {
	if b == nil {
		return nil, ErrModelNotLoaded
	}
	if batch == nil || batch.Size == 0 {
		return [][]float32{}, nil
	}
	if f.CheckSeqLen && batch.SeqLen > MaxSequenceLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrSequenceTooLong, batch.SeqLen, MaxSequenceLength)
	}

	out, err := b.Forward(ctx, batch)
	if err != nil {
		return nil, err
	}

	var vecs [][]float32
	switch f.Pooling {
	case PoolPooler:
		if out.PoolerOutput == nil {
			return nil, fmt.Errorf("%w: %s expects a pooler output", ErrInferenceFailed, f.Name)
		}
		vecs, err = rows(out.PoolerOutput, batch.Size, out.Hidden)
	case PoolMean:
		if out.LastHiddenState == nil {
			return nil, fmt.Errorf("%w: %s expects a last hidden state", ErrInferenceFailed, f.Name)
		}
		vecs, err = meanPool(out.LastHiddenState, batch.AttentionMask, batch.Size, out.SeqLen, out.Hidden)
	case PoolCLS:
		if out.LastHiddenState == nil {
			return nil, fmt.Errorf("%w: %s expects a last hidden state", ErrInferenceFailed, f.Name)
		}
		vecs, err = clsPool(out.LastHiddenState, batch.Size, out.SeqLen, out.Hidden)
	case PoolSentence:
		if out.SentenceEmbedding == nil {
			return nil, fmt.Errorf("%w: %s expects a sentence embedding", ErrInferenceFailed, f.Name)
		}
		vecs, err = rows(out.SentenceEmbedding, batch.Size, out.Hidden)
	default:
		return nil, fmt.Errorf("%w: unsupported pooling %s for %s", ErrInferenceFailed, f.Pooling, f.Name)
	}
	if err != nil {
		return nil, err
	}

	if f.Normalize {
		for _, v := range vecs {
			NormalizeEmbedding(v)
		}
	}
	return vecs, nil
}
