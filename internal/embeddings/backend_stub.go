//go:build !onnx
// +build !onnx

package embeddings

import (
	"go.uber.org/zap"
)

// NewTransformerBackend is the default build stub. Build with -tags onnx for ONNX Runtime.
func NewTransformerBackend(logger *zap.Logger, opts BackendOptions) (Backend, error) {
	logger.Warn("Inference backend not compiled in", zap.String("model_path", opts.ModelPath))
	return nil, ErrBackendUnavailable
}

// NewTokenizer is the default build stub. Build with -tags onnx for HuggingFace tokenizers.
func NewTokenizer(path string) (Tokenizer, error) {
	return nil, ErrBackendUnavailable
}
