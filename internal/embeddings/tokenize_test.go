package embeddings

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeInternal(t *testing.T) {
	f, _ := LookupFamily("sentbert")
	texts := []string{"a b", "c"}

	batch, err := Tokenize(f, nil, texts)
	require.NoError(t, err)
	assert.Equal(t, texts, batch.Texts)
	assert.Equal(t, 2, batch.Size)
	assert.False(t, batch.IsTensor())
}

func TestTokenizeTensor(t *testing.T) {
	t.Run("pads to longest", func(t *testing.T) {
		f, _ := LookupFamily("roberta")
		batch, err := Tokenize(f, &fakeTokenizer{typeID: 1}, []string{"one", "one two three"})
		require.NoError(t, err)

		assert.Equal(t, 2, batch.Size)
		assert.Equal(t, 5, batch.SeqLen)
		assert.Len(t, batch.InputIDs, 10)

		assert.Equal(t, []int64{fakeCLS, 1003, fakeSEP, robertaPad, robertaPad}, batch.InputIDs[:5])
		assert.Equal(t, []int64{1, 1, 1, 0, 0}, batch.AttentionMask[:5])
		assert.Equal(t, []int64{1, 1, 1, 1, 1}, batch.AttentionMask[5:])
		assert.Equal(t, 8, batch.TokenCount())
	})

	t.Run("token types only when used", func(t *testing.T) {
		tok := &fakeTokenizer{typeID: 1}

		e5, _ := LookupFamily("e5")
		batch, err := Tokenize(e5, tok, []string{"x y"})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 1, 1, 1}, batch.TokenTypeIDs)

		simlm, _ := LookupFamily("simlm")
		batch, err = Tokenize(simlm, tok, []string{"x y"})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 0, 0, 0}, batch.TokenTypeIDs)
	})

	t.Run("truncates keeping closing token", func(t *testing.T) {
		f, _ := LookupFamily("scibert")
		long := strings.Repeat("w ", 700)
		batch, err := Tokenize(f, &fakeTokenizer{}, []string{long, "short"})
		require.NoError(t, err)

		assert.Equal(t, MaxSequenceLength, batch.SeqLen)
		assert.Equal(t, fakeCLS, batch.InputIDs[0])
		assert.Equal(t, fakeSEP, batch.InputIDs[MaxSequenceLength-1])
		assert.Equal(t, int64(1001), batch.InputIDs[MaxSequenceLength-2])
	})

	t.Run("tokenizer error", func(t *testing.T) {
		f, _ := LookupFamily("e5")
		_, err := Tokenize(f, &fakeTokenizer{err: errors.New("boom")}, []string{"x"})
		assert.ErrorIs(t, err, ErrTokenizationFailed)
	})

	t.Run("missing tokenizer", func(t *testing.T) {
		f, _ := LookupFamily("e5")
		_, err := Tokenize(f, nil, []string{"x"})
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})

	t.Run("unknown mode is explicit", func(t *testing.T) {
		f := Family{Name: "odd", Tokenizer: TokenizerMode(42)}
		_, err := Tokenize(f, &fakeTokenizer{}, []string{"x"})
		assert.ErrorIs(t, err, ErrTokenizationFailed)
	})
}

func TestTokenizedBatchShard(t *testing.T) {
	f, _ := LookupFamily("e5")
	batch, err := Tokenize(f, &fakeTokenizer{}, []string{"a", "b b", "c c c"})
	require.NoError(t, err)

	shard := batch.Shard(1, 3)
	assert.Equal(t, 2, shard.Size)
	assert.Equal(t, batch.SeqLen, shard.SeqLen)
	assert.Equal(t, []string{"b b", "c c c"}, shard.Texts)
	assert.Equal(t, batch.InputIDs[batch.SeqLen:], shard.InputIDs)
}

func TestTruncate(t *testing.T) {
	enc := Encoding{IDs: []int64{1, 2, 3, 4, 5}, AttentionMask: []int64{1, 1, 1, 1, 1}, TypeIDs: []int64{0, 0, 0, 0, 0}}

	out := truncate(enc, 3)
	assert.Equal(t, []int64{1, 2, 5}, out.IDs)
	assert.Len(t, out.AttentionMask, 3)
	assert.Len(t, out.TypeIDs, 3)

	assert.Equal(t, enc, truncate(enc, 5))
}
