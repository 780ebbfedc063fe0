// Package embedtest provides deterministic tokenizer and backend doubles for
// packages that drive a loaded embeddings.Model in tests.
package embedtest

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

// Hidden is the width of every vector the Backend produces.
const Hidden = 4

// Tokenizer maps each word to 1000+len(word) between ids 101 and 102.
type Tokenizer struct{}

func (Tokenizer) Encode(text string) (embeddings.Encoding, error) {
	words := strings.Fields(text)
	n := len(words) + 2
	enc := embeddings.Encoding{
		IDs:           make([]int64, 0, n),
		AttentionMask: make([]int64, n),
		TypeIDs:       make([]int64, n),
	}
	enc.IDs = append(enc.IDs, 101)
	for _, w := range words {
		enc.IDs = append(enc.IDs, 1000+int64(len(w)))
	}
	enc.IDs = append(enc.IDs, 102)
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}

func (Tokenizer) Close() error { return nil }

// Backend returns outputs derived only from each row's own tokens, so a text
// embeds to the same vector regardless of batch composition.
type Backend struct {
	// OOMAbove fails batches larger than this with ErrOutOfMemory when positive.
	OOMAbove int
	// Err fails every forward pass when set.
	Err error

	mu    sync.Mutex
	calls int
}

func (b *Backend) Forward(ctx context.Context, batch *embeddings.TokenizedBatch) (*embeddings.ForwardOutput, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Err != nil {
		return nil, b.Err
	}
	if b.OOMAbove > 0 && batch.Size > b.OOMAbove {
		return nil, embeddings.ErrOutOfMemory
	}

	out := &embeddings.ForwardOutput{Batch: batch.Size, SeqLen: batch.SeqLen, Hidden: Hidden}
	if !batch.IsTensor() {
		for _, text := range batch.Texts {
			out.SentenceEmbedding = append(out.SentenceEmbedding, float32(len(text)), float32(len(strings.Fields(text))), 1, 0)
		}
		return out, nil
	}

	for r := 0; r < batch.Size; r++ {
		var sum, count float32
		for s := 0; s < batch.SeqLen; s++ {
			idx := r*batch.SeqLen + s
			id := float32(batch.InputIDs[idx])
			out.LastHiddenState = append(out.LastHiddenState, id, float32(s+1), 1, 0)
			if batch.AttentionMask[idx] != 0 {
				sum += id
				count++
			}
		}
		out.PoolerOutput = append(out.PoolerOutput, sum, count, 1, 2)
	}
	return out, nil
}

func (b *Backend) Parameters() int64 { return 110_000_000 }

func (b *Backend) Close() error { return nil }

// Calls returns the number of forward passes run so far.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// NewModel builds a model of the named family on devices around backend.
func NewModel(name string, devices embeddings.DeviceSpec, backend *Backend) (*embeddings.Model, error) {
	f, err := embeddings.LookupFamily(name)
	if err != nil {
		return nil, err
	}
	if f.SingleDevice {
		devices = devices.First()
	}
	return embeddings.NewModel(f, devices, backend, Tokenizer{}, zap.NewNop()), nil
}

// Cache is an in-memory embeddings.VectorCache.
type Cache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func NewCache() *Cache {
	return &Cache{data: make(map[string][]float32)}
}

func (c *Cache) GetMany(ctx context.Context, model string, texts []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float32)
	for _, t := range texts {
		if v, ok := c.data[model+"|"+t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

func (c *Cache) SetMany(ctx context.Context, model string, vectors map[string][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, v := range vectors {
		c.data[model+"|"+t] = v
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
