package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/preprocess"
)

// OptimalBatchSize finds the largest batch of worst-case inputs the model's
// devices can encode, searching down from an upper bound in steps of one
// sample per device.
//
// The upper bound is devices * (maxBatch / ProbeDivisor) * ProbeMultiplier.
// Only ErrOutOfMemory shrinks the candidate; any other failure is returned.
func OptimalBatchSize(ctx context.Context, m *Model, texts []string, maxBatch int) (int, error) {
	if m == nil || m.Backend == nil {
		return 0, ErrModelNotLoaded
	}
	if maxBatch <= 0 {
		return 0, fmt.Errorf("%w: max batch size must be positive, got %d", ErrInvalidInput, maxBatch)
	}
	if len(texts) == 0 {
		return 0, fmt.Errorf("%w: no texts to probe with", ErrInvalidInput)
	}

	f := m.Family
	bs := maxBatch
	if f.ProbeDivisor > 0 {
		bs /= f.ProbeDivisor
	}

	sample, tokens, err := longestSample(f, m.Tokenizer, texts)
	if err != nil {
		return 0, err
	}

	step := m.Devices.Count()
	candidate := step * bs * f.multiplier()

	m.logger.Info("Probing batch size",
		zap.Int("max_tokens", tokens),
		zap.Int("start", candidate),
		zap.Int("step", step))

	for candidate > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		batch := make([]string, candidate)
		for i := range batch {
			batch[i] = sample
		}

		err := tryBatch(ctx, m, batch)
		if err == nil {
			m.logger.Info("Batch size found", zap.Int("batch_size", candidate))
			return candidate, nil
		}
		if !errors.Is(err, ErrOutOfMemory) {
			return 0, fmt.Errorf("batch size probe failed at %d: %w", candidate, err)
		}

		m.logger.Debug("Batch does not fit", zap.Int("batch_size", candidate), zap.Error(err))
		candidate -= step
	}

	return 0, ErrNoBatchSize
}

func tryBatch(ctx context.Context, m *Model, texts []string) error {
	batch, err := Tokenize(m.Family, m.Tokenizer, texts)
	if err != nil {
		return err
	}
	_, err = Encode(ctx, m.Family, m.Backend, batch)
	return err
}

// longestSample returns the cleaned text with the most tokens. Internally
// tokenizing families are measured in words.
func longestSample(f Family, tok Tokenizer, texts []string) (string, int, error) {
	best, bestLen := "", -1
	for _, text := range texts {
		cleaned := preprocess.Clean(text)

		var n int
		switch f.Tokenizer {
		case TokenizeInternal:
			n = preprocess.WordCount(cleaned)
		case TokenizeTensor:
			if tok == nil {
				return "", 0, fmt.Errorf("%w: no tokenizer for %s", ErrModelNotLoaded, f.Name)
			}
			enc, err := tok.Encode(cleaned)
			if err != nil {
				return "", 0, fmt.Errorf("%w: %v", ErrTokenizationFailed, err)
			}
			n = len(enc.IDs)
		default:
			return "", 0, fmt.Errorf("%w: unsupported tokenizer mode %s", ErrTokenizationFailed, f.Tokenizer)
		}

		if n > bestLen {
			best, bestLen = cleaned, n
		}
	}
	return best, bestLen, nil
}
