package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/preprocess"
)

// EmbedOptions controls a GetEmbeddings run.
type EmbedOptions struct {
	// Devices decides batching: CPU placements always use a batch size of 1.
	Devices DeviceSpec
	// BatchSize is the chunk size on accelerators, and the probe upper bound with AutoBatch.
	BatchSize int
	// AutoBatch probes for the largest batch that fits before embedding.
	AutoBatch bool
	// Cache is consulted before and filled after inference when set.
	Cache VectorCache
	// Progress is called after every chunk with the number of texts done.
	Progress func(done, total int)
}

// GetEmbeddings embeds texts with m and maps every distinct input string to its vector.
//
// Texts are processed in contiguous chunks, one at a time. Each chunk is cleaned,
// tokenized and encoded, and the vectors are keyed by the original strings. When
// a string appears more than once the last computed vector wins.
func GetEmbeddings(ctx context.Context, m *Model, texts []string, opts EmbedOptions) (map[string][]float32, error) {
	if m == nil || m.Backend == nil {
		return nil, ErrModelNotLoaded
	}

	ret := make(map[string][]float32, len(texts))
	if len(texts) == 0 {
		return ret, nil
	}

	pending := texts
	if opts.Cache != nil {
		pending = lookupCache(ctx, m, texts, opts.Cache, ret)
	}
	total := len(texts)
	done := total - len(pending)
	if opts.Progress != nil && done > 0 {
		opts.Progress(done, total)
	}
	if len(pending) == 0 {
		return ret, nil
	}

	batchSize, err := resolveBatchSize(ctx, m, pending, opts)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Embedding texts",
		zap.Int("texts", len(pending)),
		zap.Int("cached", done),
		zap.Int("batch_size", batchSize),
		zap.String("devices", opts.Devices.String()))

	computed := make(map[string][]float32, len(pending))
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		vecs, err := embedChunk(ctx, m, chunk)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for i, text := range chunk {
			ret[text] = vecs[i]
			computed[text] = vecs[i]
		}

		done += len(chunk)
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
	}

	if opts.Cache != nil {
		if err := opts.Cache.SetMany(ctx, m.CacheKey(), computed); err != nil {
			m.logger.Warn("Failed to store embeddings in cache", zap.Error(err))
		}
	}

	return ret, nil
}

func embedChunk(ctx context.Context, m *Model, chunk []string) ([][]float32, error) {
	start := time.Now()

	batch, err := Tokenize(m.Family, m.Tokenizer, preprocess.CleanAll(chunk))
	if err != nil {
		m.recordBatch(len(chunk), 0, time.Since(start), false)
		return nil, err
	}

	vecs, err := Encode(ctx, m.Family, m.Backend, batch)
	if err != nil {
		m.recordBatch(len(chunk), batch.TokenCount(), time.Since(start), false)
		return nil, err
	}
	if len(vecs) != len(chunk) {
		m.recordBatch(len(chunk), batch.TokenCount(), time.Since(start), false)
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrInferenceFailed, len(vecs), len(chunk))
	}

	m.recordBatch(len(chunk), batch.TokenCount(), time.Since(start), true)
	return vecs, nil
}

func resolveBatchSize(ctx context.Context, m *Model, texts []string, opts EmbedOptions) (int, error) {
	if opts.Devices.IsCPU() {
		return 1, nil
	}

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if !opts.AutoBatch {
		return size, nil
	}

	probed, err := OptimalBatchSize(ctx, m, texts, size)
	if err != nil {
		return 0, fmt.Errorf("failed to determine batch size: %w", err)
	}
	return probed, nil
}

// lookupCache fills ret with cached vectors and returns the texts still to embed.
func lookupCache(ctx context.Context, m *Model, texts []string, cache VectorCache, ret map[string][]float32) []string {
	hits, err := cache.GetMany(ctx, m.CacheKey(), texts)
	if err != nil {
		m.logger.Warn("Cache lookup failed, embedding all texts", zap.Error(err))
		return texts
	}
	if len(hits) == 0 {
		return texts
	}

	pending := make([]string, 0, len(texts))
	for _, text := range texts {
		if vec, ok := hits[text]; ok {
			ret[text] = vec
			continue
		}
		pending = append(pending, text)
	}
	m.recordCacheHits(len(texts) - len(pending))
	return pending
}
