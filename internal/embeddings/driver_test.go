package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEmbeddings(t *testing.T) {
	ctx := context.Background()

	t.Run("keys equal distinct inputs for every family", func(t *testing.T) {
		texts := []string{"alpha beta", "gamma", "alpha beta", "delta epsilon zeta", "$price\nline"}
		for _, f := range Families() {
			m := newTestModel(f.Name, GPUDevices(0), &fakeBackend{})
			ret, err := GetEmbeddings(ctx, m, texts, EmbedOptions{Devices: GPUDevices(0), BatchSize: 2})
			require.NoError(t, err, f.Name)

			assert.Len(t, ret, 4, f.Name)
			for _, text := range texts {
				require.Contains(t, ret, text, f.Name)
				if f.Normalize {
					assert.InDelta(t, 1.0, Norm(ret[text]), 1e-5, f.Name)
				}
			}
		}
	})

	t.Run("cpu uses batch size one", func(t *testing.T) {
		backend := &fakeBackend{}
		m := newTestModel("e5", CPUDevice(), backend)

		_, err := GetEmbeddings(ctx, m, []string{"a", "b", "c"}, EmbedOptions{Devices: CPUDevice(), BatchSize: 30})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 1}, backend.batchSizes())
	})

	t.Run("contiguous chunks with short tail", func(t *testing.T) {
		backend := &fakeBackend{}
		m := newTestModel("e5", GPUDevices(0), backend)
		texts := make([]string, 7)
		for i := range texts {
			texts[i] = fmt.Sprintf("text %d", i)
		}

		_, err := GetEmbeddings(ctx, m, texts, EmbedOptions{Devices: GPUDevices(0), BatchSize: 3})
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3, 1}, backend.batchSizes())
	})

	t.Run("default batch size", func(t *testing.T) {
		backend := &fakeBackend{}
		m := newTestModel("simlm", GPUDevices(0), backend)
		texts := make([]string, DefaultBatchSize+1)
		for i := range texts {
			texts[i] = fmt.Sprintf("t%d", i)
		}

		_, err := GetEmbeddings(ctx, m, texts, EmbedOptions{Devices: GPUDevices(0)})
		require.NoError(t, err)
		assert.Equal(t, []int{DefaultBatchSize, 1}, backend.batchSizes())
	})

	t.Run("batching does not change vectors", func(t *testing.T) {
		texts := []string{"one", "two words", "three whole words", "four of them here"}
		m := newTestModel("roberta", GPUDevices(0), &fakeBackend{})

		small, err := GetEmbeddings(ctx, m, texts, EmbedOptions{Devices: GPUDevices(0), BatchSize: 1})
		require.NoError(t, err)
		large, err := GetEmbeddings(ctx, m, texts, EmbedOptions{Devices: GPUDevices(0), BatchSize: 4})
		require.NoError(t, err)

		for _, text := range texts {
			assert.InDeltaSlice(t, small[text], large[text], 1e-5, text)
		}
	})

	t.Run("url example", func(t *testing.T) {
		m := newTestModel("e5", GPUDevices(0), &fakeBackend{})
		text := "Visit https://example.com now\nplease"

		ret, err := GetEmbeddings(ctx, m, []string{text}, EmbedOptions{Devices: GPUDevices(0), BatchSize: 30})
		require.NoError(t, err)
		require.Len(t, ret, 1)

		cleaned, err := GetEmbeddings(ctx, m, []string{"Visit  now please"}, EmbedOptions{Devices: GPUDevices(0)})
		require.NoError(t, err)
		assert.Equal(t, cleaned["Visit  now please"], ret[text])
	})

	t.Run("empty input", func(t *testing.T) {
		backend := &fakeBackend{}
		m := newTestModel("e5", GPUDevices(0), backend)

		ret, err := GetEmbeddings(ctx, m, nil, EmbedOptions{Devices: GPUDevices(0)})
		require.NoError(t, err)
		assert.Empty(t, ret)
		assert.Empty(t, backend.batchSizes())
	})

	t.Run("auto batch probes first", func(t *testing.T) {
		backend := &fakeBackend{oomAbove: 4}
		m := newTestModel("simlm", GPUDevices(0), backend)
		texts := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}

		_, err := GetEmbeddings(ctx, m, texts, EmbedOptions{Devices: GPUDevices(0), BatchSize: 6, AutoBatch: true})
		require.NoError(t, err)
		// probe 6, 5, 4 then chunks of 4
		assert.Equal(t, []int{6, 5, 4, 4, 4, 1}, backend.batchSizes())
	})

	t.Run("error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		m := newTestModel("e5", GPUDevices(0), &fakeBackend{err: boom})

		_, err := GetEmbeddings(ctx, m, []string{"a"}, EmbedOptions{Devices: GPUDevices(0)})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(1), m.GetStats().FailedRuns)
	})

	t.Run("vector count mismatch", func(t *testing.T) {
		m := newTestModel("ernie", GPUDevices(0), &fakeBackend{drop: true})

		_, err := GetEmbeddings(ctx, m, []string{"a", "b"}, EmbedOptions{Devices: GPUDevices(0)})
		assert.ErrorIs(t, err, ErrInferenceFailed)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		m := newTestModel("e5", GPUDevices(0), &fakeBackend{})

		_, err := GetEmbeddings(cctx, m, []string{"a"}, EmbedOptions{Devices: GPUDevices(0)})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("progress", func(t *testing.T) {
		m := newTestModel("e5", GPUDevices(0), &fakeBackend{})
		var calls [][2]int

		_, err := GetEmbeddings(ctx, m, []string{"a", "b", "c"}, EmbedOptions{
			Devices:   GPUDevices(0),
			BatchSize: 2,
			Progress:  func(done, total int) { calls = append(calls, [2]int{done, total}) },
		})
		require.NoError(t, err)
		assert.Equal(t, [][2]int{{2, 3}, {3, 3}}, calls)
	})

	t.Run("stats", func(t *testing.T) {
		m := newTestModel("e5", GPUDevices(0), &fakeBackend{params: 335_000_000})
		_, err := GetEmbeddings(ctx, m, []string{"a", "b", "c"}, EmbedOptions{Devices: GPUDevices(0), BatchSize: 2})
		require.NoError(t, err)

		stats := m.GetStats()
		assert.Equal(t, int64(2), stats.TotalBatches)
		assert.Equal(t, int64(3), stats.TotalTexts)
		assert.Equal(t, int64(9), stats.TotalTokens)
		assert.Equal(t, int64(335_000_000), stats.Parameters)
	})

	t.Run("no model", func(t *testing.T) {
		_, err := GetEmbeddings(ctx, nil, []string{"a"}, EmbedOptions{})
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})
}

func TestGetEmbeddingsCache(t *testing.T) {
	ctx := context.Background()
	opts := func(c VectorCache) EmbedOptions {
		return EmbedOptions{Devices: GPUDevices(0), BatchSize: 10, Cache: c}
	}

	t.Run("hits skip inference", func(t *testing.T) {
		cache := newFakeCache()
		backend := &fakeBackend{}
		m := newTestModel("e5", GPUDevices(0), backend)

		first, err := GetEmbeddings(ctx, m, []string{"a", "b"}, opts(cache))
		require.NoError(t, err)
		assert.Equal(t, []int{2}, backend.batchSizes())

		second, err := GetEmbeddings(ctx, m, []string{"a", "b", "c"}, opts(cache))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1}, backend.batchSizes())
		assert.Equal(t, first["a"], second["a"])
		assert.Len(t, second, 3)
		assert.Equal(t, int64(2), m.GetStats().CacheHits)
	})

	t.Run("checkpoint separates entries", func(t *testing.T) {
		cache := newFakeCache()
		base := newTestModel("e5", GPUDevices(0), &fakeBackend{})
		_, err := GetEmbeddings(ctx, base, []string{"a"}, opts(cache))
		require.NoError(t, err)

		backend := &fakeBackend{}
		tuned := newTestModel("e5", GPUDevices(0), backend)
		tuned.Checkpoint = "e5_arguana"
		_, err = GetEmbeddings(ctx, tuned, []string{"a"}, opts(cache))
		require.NoError(t, err)
		assert.Equal(t, []int{1}, backend.batchSizes())
	})

	t.Run("cache failures are not fatal", func(t *testing.T) {
		cache := newFakeCache()
		cache.getErr = errors.New("connection refused")
		cache.setErr = errors.New("connection refused")
		m := newTestModel("e5", GPUDevices(0), &fakeBackend{})

		ret, err := GetEmbeddings(ctx, m, []string{"a"}, opts(cache))
		require.NoError(t, err)
		assert.Len(t, ret, 1)
		assert.Equal(t, 1, cache.sets)
	})
}
