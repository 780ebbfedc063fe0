package embeddings

import (
	"fmt"
	"math"
)

const normEpsilon = 1e-12

// rows splits a flat [batch, hidden] buffer into copied rows.
func rows(data []float32, batch, hidden int) ([][]float32, error) {
	if len(data) != batch*hidden {
		return nil, fmt.Errorf("%w: output length %d does not match %dx%d", ErrInferenceFailed, len(data), batch, hidden)
	}
	out := make([][]float32, batch)
	for i := range out {
		out[i] = make([]float32, hidden)
		copy(out[i], data[i*hidden:(i+1)*hidden])
	}
	return out, nil
}

// clsPool takes position 0 of every sequence in a [batch, seq, hidden] buffer.
func clsPool(hiddenStates []float32, batch, seq, hidden int) ([][]float32, error) {
	if len(hiddenStates) != batch*seq*hidden || seq == 0 {
		return nil, fmt.Errorf("%w: hidden state length %d does not match %dx%dx%d", ErrInferenceFailed, len(hiddenStates), batch, seq, hidden)
	}
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		start := b * seq * hidden
		out[b] = make([]float32, hidden)
		copy(out[b], hiddenStates[start:start+hidden])
	}
	return out, nil
}

// meanPool averages token vectors weighted by the attention mask. A row with
// no unmasked tokens divides by one and yields a zero vector.
func meanPool(hiddenStates []float32, mask []int64, batch, seq, hidden int) ([][]float32, error) {
	if len(hiddenStates) != batch*seq*hidden {
		return nil, fmt.Errorf("%w: hidden state length %d does not match %dx%dx%d", ErrInferenceFailed, len(hiddenStates), batch, seq, hidden)
	}
	if len(mask) != batch*seq {
		return nil, fmt.Errorf("%w: attention mask length %d does not match %dx%d", ErrInferenceFailed, len(mask), batch, seq)
	}

	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		sum := make([]float64, hidden)
		count := 0.0
		for s := 0; s < seq; s++ {
			w := float64(mask[b*seq+s])
			if w == 0 {
				continue
			}
			count += w
			offset := (b*seq + s) * hidden
			for d := 0; d < hidden; d++ {
				sum[d] += w * float64(hiddenStates[offset+d])
			}
		}
		if count < 1e-9 {
			count = 1
		}
		row := make([]float32, hidden)
		for d := range row {
			row[d] = float32(sum[d] / count)
		}
		out[b] = row
	}
	return out, nil
}

// poolSentence fills a missing sentence embedding from the last hidden state,
// for graphs exported without their pooling head. The family's SentencePooling
// decides how.
func poolSentence(f Family, out *ForwardOutput, mask []int64, batch int) error {
	if out.SentenceEmbedding != nil {
		return nil
	}
	if out.LastHiddenState == nil {
		return fmt.Errorf("%w: %s expects a sentence embedding", ErrInferenceFailed, f.Name)
	}

	var vecs [][]float32
	var err error
	switch f.SentencePooling {
	case PoolMean:
		vecs, err = meanPool(out.LastHiddenState, mask, batch, out.SeqLen, out.Hidden)
	case PoolCLS:
		vecs, err = clsPool(out.LastHiddenState, batch, out.SeqLen, out.Hidden)
	default:
		return fmt.Errorf("%w: %s has no sentence embedding output and no usable fallback pooling (%s)", ErrInferenceFailed, f.Name, f.SentencePooling)
	}
	if err != nil {
		return err
	}

	out.SentenceEmbedding = make([]float32, 0, batch*out.Hidden)
	for _, row := range vecs {
		out.SentenceEmbedding = append(out.SentenceEmbedding, row...)
	}
	return nil
}

// NormalizeEmbedding scales v to unit L2 norm in place, dividing by max(|v|, 1e-12).
func NormalizeEmbedding(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < normEpsilon {
		norm = normEpsilon
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes the cosine of the angle between two vectors.
func CosineSimilarity(vec1, vec2 []float32) float32 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0.0
	}

	var dotProduct, norm1, norm2 float64
	for i := range vec1 {
		dotProduct += float64(vec1[i]) * float64(vec2[i])
		norm1 += float64(vec1[i]) * float64(vec1[i])
		norm2 += float64(vec2[i]) * float64(vec2[i])
	}

	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}

	return float32(dotProduct / (math.Sqrt(norm1) * math.Sqrt(norm2)))
}
