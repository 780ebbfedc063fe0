package embeddings

import (
	"time"
)

// MaxSequenceLength is the token limit applied when tokenizing and checked before encoding.
const MaxSequenceLength = 512

// DefaultBatchSize is the chunk size used by GetEmbeddings when none is given.
const DefaultBatchSize = 30

// ModelStats represents model performance statistics
type ModelStats struct {
	Model             string        `json:"model"`
	Checkpoint        string        `json:"checkpoint,omitempty"`
	Devices           string        `json:"devices"`
	Parameters        int64         `json:"parameters"`
	TotalBatches      int64         `json:"total_batches"`
	TotalTexts        int64         `json:"total_texts"`
	TotalTokens       int64         `json:"total_tokens"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	CacheHits         int64         `json:"cache_hits"`
	AvgBatchTime      time.Duration `json:"avg_batch_time"`
	ModelLoadTime     time.Duration `json:"model_load_time"`
	LastInferenceTime time.Time     `json:"last_inference_time"`
	ErrorRate         float64       `json:"error_rate"`
	StartTime         time.Time     `json:"start_time"`
}

// EmbeddingErrors define custom error types
type EmbeddingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrInvalidInput        = &EmbeddingError{Type: "invalid_input", Message: "invalid input", Code: 1001}
	ErrModelNotLoaded      = &EmbeddingError{Type: "model_not_loaded", Message: "model not loaded", Code: 1002}
	ErrInferenceFailed     = &EmbeddingError{Type: "inference_failed", Message: "inference failed", Code: 1003}
	ErrCacheError          = &EmbeddingError{Type: "cache_error", Message: "cache operation failed", Code: 1004}
	ErrConfigError         = &EmbeddingError{Type: "config_error", Message: "configuration error", Code: 1005}
	ErrTokenizationFailed  = &EmbeddingError{Type: "tokenization_failed", Message: "tokenization failed", Code: 1008}
	ErrModelDownloadFailed = &EmbeddingError{Type: "model_download_failed", Message: "model download failed", Code: 1009}
	ErrOutOfMemory         = &EmbeddingError{Type: "out_of_memory", Message: "device out of memory", Code: 1010}
	ErrUnknownModel        = &EmbeddingError{Type: "unknown_model", Message: "unknown model identifier", Code: 1011}
	ErrCheckpoint          = &EmbeddingError{Type: "checkpoint_error", Message: "checkpoint missing or unreadable", Code: 1012}
	ErrSequenceTooLong     = &EmbeddingError{Type: "sequence_too_long", Message: "sequence exceeds maximum length", Code: 1013}
	ErrNoBatchSize         = &EmbeddingError{Type: "no_batch_size", Message: "device memory does not support batch processing", Code: 1014}
	ErrBackendUnavailable  = &EmbeddingError{Type: "backend_unavailable", Message: "inference backend not compiled in (build with -tags onnx)", Code: 1015}
	ErrInvalidDevice       = &EmbeddingError{Type: "invalid_device", Message: "invalid device specification", Code: 1016}
)
