package embeddings

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Model is a loaded, inference-only model handle.
type Model struct {
	Family     Family
	Devices    DeviceSpec
	Checkpoint string
	Backend    Backend
	Tokenizer  Tokenizer
	Parameters int64

	logger *zap.Logger
	stats  *ModelStats
	mu     sync.RWMutex
}

// NewModel assembles a handle from already constructed parts.
func NewModel(f Family, devices DeviceSpec, backend Backend, tok Tokenizer, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Model{
		Family:    f,
		Devices:   devices,
		Backend:   backend,
		Tokenizer: tok,
		logger:    logger,
		stats: &ModelStats{
			Model:     f.Name,
			Devices:   devices.String(),
			StartTime: time.Now(),
		},
	}
	if backend != nil {
		m.Parameters = backend.Parameters()
		m.stats.Parameters = m.Parameters
	}
	return m
}

// Name returns the model identifier.
func (m *Model) Name() string {
	return m.Family.Name
}

// CacheKey identifies the weights producing this model's vectors.
func (m *Model) CacheKey() string {
	if m.Checkpoint == "" {
		return m.Family.Name
	}
	return m.Family.Name + "@" + m.Checkpoint
}

// GetStats returns a snapshot of the model statistics.
func (m *Model) GetStats() *ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := *m.stats
	return &stats
}

// Close releases the backend and tokenizer.
func (m *Model) Close() error {
	var firstErr error
	if m.Backend != nil {
		if err := m.Backend.Close(); err != nil {
			firstErr = err
		}
	}
	if m.Tokenizer != nil {
		if err := m.Tokenizer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.logger.Info("Model closed", zap.String("model", m.Family.Name))
	return firstErr
}

func (m *Model) recordBatch(texts, tokens int, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalBatches++
	m.stats.TotalTexts += int64(texts)
	m.stats.TotalTokens += int64(tokens)
	m.stats.LastInferenceTime = time.Now()

	if success {
		m.stats.SuccessfulRuns++
	} else {
		m.stats.FailedRuns++
	}

	total := m.stats.SuccessfulRuns + m.stats.FailedRuns
	if total > 0 {
		m.stats.ErrorRate = float64(m.stats.FailedRuns) / float64(total)
	}

	if success {
		n := time.Duration(m.stats.SuccessfulRuns)
		m.stats.AvgBatchTime = (m.stats.AvgBatchTime*(n-1) + duration) / n
	}
}

func (m *Model) recordCacheHits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.CacheHits += int64(n)
}

func (m *Model) setLoadTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.ModelLoadTime = d
	m.stats.Checkpoint = m.Checkpoint
}
