//go:build onnx
// +build onnx

package embeddings

import (
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"
)

// hfTokenizer wraps a HuggingFace tokenizer.json definition.
type hfTokenizer struct {
	tk *tokenizers.Tokenizer
	mu sync.Mutex
}

// NewTokenizer loads a HuggingFace tokenizer.json file.
func NewTokenizer(path string) (Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &hfTokenizer{tk: tk}, nil
}

// Encode adds special tokens and returns ids, attention mask and type ids.
func (t *hfTokenizer) Encode(text string) (Encoding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tk == nil {
		return Encoding{}, ErrModelNotLoaded
	}

	enc := t.tk.EncodeWithOptions(text, true,
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnTypeIDs(),
	)

	out := Encoding{
		IDs:           make([]int64, len(enc.IDs)),
		AttentionMask: make([]int64, len(enc.IDs)),
		TypeIDs:       make([]int64, len(enc.IDs)),
	}
	for i := range enc.IDs {
		out.IDs[i] = int64(enc.IDs[i])
		out.AttentionMask[i] = 1
		if i < len(enc.AttentionMask) {
			out.AttentionMask[i] = int64(enc.AttentionMask[i])
		}
		if i < len(enc.TypeIDs) {
			out.TypeIDs[i] = int64(enc.TypeIDs[i])
		}
	}
	return out, nil
}

func (t *hfTokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tk != nil {
		err := t.tk.Close()
		t.tk = nil
		return err
	}
	return nil
}
