package embeddings

import (
	"fmt"
)

// TokenizedBatch is the model input for one chunk of texts.
//
// TokenizeInternal families only carry Texts. TokenizeTensor families carry
// flattened [Size, SeqLen] id, mask and token type tensors.
type TokenizedBatch struct {
	Texts         []string
	Size          int
	SeqLen        int
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// IsTensor reports whether the batch carries token tensors rather than raw texts.
func (b *TokenizedBatch) IsTensor() bool {
	return b.InputIDs != nil
}

// TokenCount returns the number of unmasked tokens in the batch.
func (b *TokenizedBatch) TokenCount() int {
	n := 0
	for _, m := range b.AttentionMask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Shard returns rows [start, end) as a new batch sharing the underlying arrays.
func (b *TokenizedBatch) Shard(start, end int) *TokenizedBatch {
	out := &TokenizedBatch{Size: end - start, SeqLen: b.SeqLen}
	if b.Texts != nil {
		out.Texts = b.Texts[start:end]
	}
	if b.IsTensor() {
		lo, hi := start*b.SeqLen, end*b.SeqLen
		out.InputIDs = b.InputIDs[lo:hi]
		out.AttentionMask = b.AttentionMask[lo:hi]
		out.TokenTypeIDs = b.TokenTypeIDs[lo:hi]
	}
	return out
}

// Tokenize converts cleaned texts into model input for family f.
func Tokenize(f Family, tok Tokenizer, texts []string) (*TokenizedBatch, error) {
	switch f.Tokenizer {
	case TokenizeInternal:
		return &TokenizedBatch{Texts: texts, Size: len(texts)}, nil
	case TokenizeTensor:
		if tok == nil {
			return nil, fmt.Errorf("%w: no tokenizer for %s", ErrModelNotLoaded, f.Name)
		}
		return tokenizeTensor(f, tok, texts)
	default:
		return nil, fmt.Errorf("%w: unsupported tokenizer mode %s for %s", ErrTokenizationFailed, f.Tokenizer, f.Name)
	}
}

func tokenizeTensor(f Family, tok Tokenizer, texts []string) (*TokenizedBatch, error) {
	encoded := make([]Encoding, len(texts))
	seqLen := 0
	for i, text := range texts {
		enc, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenizationFailed, err)
		}
		enc = truncate(enc, MaxSequenceLength)
		encoded[i] = enc
		if len(enc.IDs) > seqLen {
			seqLen = len(enc.IDs)
		}
	}

	n := len(texts)
	batch := &TokenizedBatch{
		Texts:         texts,
		Size:          n,
		SeqLen:        seqLen,
		InputIDs:      make([]int64, n*seqLen),
		AttentionMask: make([]int64, n*seqLen),
		TokenTypeIDs:  make([]int64, n*seqLen),
	}

	for i, enc := range encoded {
		row := i * seqLen
		for j := 0; j < seqLen; j++ {
			idx := row + j
			if j >= len(enc.IDs) {
				batch.InputIDs[idx] = f.PadID
				continue
			}
			batch.InputIDs[idx] = enc.IDs[j]
			if j < len(enc.AttentionMask) {
				batch.AttentionMask[idx] = enc.AttentionMask[j]
			} else {
				batch.AttentionMask[idx] = 1
			}
			if f.UseTokenTypes && j < len(enc.TypeIDs) {
				batch.TokenTypeIDs[idx] = enc.TypeIDs[j]
			}
		}
	}

	return batch, nil
}

// truncate cuts an encoding to limit tokens, keeping the closing special token.
func truncate(enc Encoding, limit int) Encoding {
	if len(enc.IDs) <= limit {
		return enc
	}
	cut := func(s []int64) []int64 {
		if len(s) <= limit {
			return s
		}
		out := make([]int64, limit)
		copy(out, s[:limit-1])
		out[limit-1] = s[len(s)-1]
		return out
	}
	return Encoding{
		IDs:           cut(enc.IDs),
		AttentionMask: cut(enc.AttentionMask),
		TypeIDs:       cut(enc.TypeIDs),
	}
}
