package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	fakeCLS    int64 = 101
	fakeSEP    int64 = 102
	fakeHidden       = 4
)

// fakeTokenizer maps each word to 1000+len(word) and wraps the sequence in CLS/SEP.
type fakeTokenizer struct {
	typeID int64
	err    error
	closed bool
}

func (t *fakeTokenizer) Encode(text string) (Encoding, error) {
	if t.err != nil {
		return Encoding{}, t.err
	}
	words := strings.Fields(text)
	enc := Encoding{
		IDs:           make([]int64, 0, len(words)+2),
		AttentionMask: make([]int64, 0, len(words)+2),
		TypeIDs:       make([]int64, 0, len(words)+2),
	}
	add := func(id int64) {
		enc.IDs = append(enc.IDs, id)
		enc.AttentionMask = append(enc.AttentionMask, 1)
		enc.TypeIDs = append(enc.TypeIDs, t.typeID)
	}
	add(fakeCLS)
	for _, w := range words {
		add(1000 + int64(len(w)))
	}
	add(fakeSEP)
	return enc, nil
}

func (t *fakeTokenizer) Close() error {
	t.closed = true
	return nil
}

// fakeBackend produces deterministic outputs that depend only on each row's own tokens.
type fakeBackend struct {
	mu       sync.Mutex
	oomAbove int
	err      error
	params   int64
	sizes    []int
	closed   bool
	drop     bool
}

func (b *fakeBackend) Forward(ctx context.Context, batch *TokenizedBatch) (*ForwardOutput, error) {
	b.mu.Lock()
	b.sizes = append(b.sizes, batch.Size)
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	if b.oomAbove > 0 && batch.Size > b.oomAbove {
		return nil, classifyRuntimeError(errors.New("CUDA out of memory. Tried to allocate 2.00 GiB"))
	}

	size := batch.Size
	if b.drop && size > 0 {
		size--
	}

	out := &ForwardOutput{Batch: size, SeqLen: batch.SeqLen, Hidden: fakeHidden}
	if !batch.IsTensor() {
		for _, text := range batch.Texts[:size] {
			out.SentenceEmbedding = append(out.SentenceEmbedding,
				float32(len(text)), float32(len(strings.Fields(text))), 1, 0)
		}
		return out, nil
	}

	out.LastHiddenState = make([]float32, 0, size*batch.SeqLen*fakeHidden)
	out.PoolerOutput = make([]float32, 0, size*fakeHidden)
	for r := 0; r < size; r++ {
		var sum, count float32
		for s := 0; s < batch.SeqLen; s++ {
			idx := r*batch.SeqLen + s
			id := float32(batch.InputIDs[idx])
			out.LastHiddenState = append(out.LastHiddenState, id, float32(s+1), 1, float32(batch.TokenTypeIDs[idx]))
			if batch.AttentionMask[idx] != 0 {
				sum += id
				count++
			}
		}
		out.PoolerOutput = append(out.PoolerOutput, sum, count, 1, 2)
	}
	return out, nil
}

func (b *fakeBackend) Parameters() int64 { return b.params }

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBackend) batchSizes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.sizes...)
}

// fakeCache is an in-memory VectorCache.
type fakeCache struct {
	data   map[string][]float32
	getErr error
	setErr error
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]float32)}
}

func (c *fakeCache) GetMany(ctx context.Context, model string, texts []string) (map[string][]float32, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := make(map[string][]float32)
	for _, t := range texts {
		if v, ok := c.data[model+"|"+t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

func (c *fakeCache) SetMany(ctx context.Context, model string, vectors map[string][]float32) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	for t, v := range vectors {
		c.data[model+"|"+t] = v
	}
	return nil
}

// fakeResolver returns files under a fixed directory and records requests.
type fakeResolver struct {
	dir      string
	err      error
	requests []string
}

func (r *fakeResolver) Resolve(ctx context.Context, repo, file string) (string, error) {
	r.requests = append(r.requests, repo+"/"+file)
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("%s/%s/%s", r.dir, repo, file), nil
}

func newTestModel(name string, devices DeviceSpec, backend *fakeBackend) *Model {
	f, err := LookupFamily(name)
	if err != nil {
		panic(err)
	}
	if f.SingleDevice {
		devices = devices.First()
	}
	return NewModel(f, devices, backend, &fakeTokenizer{}, zap.NewNop())
}
