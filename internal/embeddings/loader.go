package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ArtifactResolver returns a local path for a file published in a hub repository.
type ArtifactResolver interface {
	Resolve(ctx context.Context, repo, file string) (string, error)
}

// LoaderConfig contains model loading configuration
type LoaderConfig struct {
	CheckpointDir string `yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"` // ./training/model_checkpoints
	ModelFile     string `yaml:"model_file" mapstructure:"model_file"`         // onnx/model.onnx
	TokenizerFile string `yaml:"tokenizer_file" mapstructure:"tokenizer_file"` // tokenizer.json
}

// DefaultLoaderConfig returns the standard artifact layout.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		CheckpointDir: "./training/model_checkpoints",
		ModelFile:     "onnx/model.onnx",
		TokenizerFile: "tokenizer.json",
	}
}

// Loader resolves model artifacts and builds inference-ready Models.
type Loader struct {
	resolver     ArtifactResolver
	config       LoaderConfig
	logger       *zap.Logger
	newBackend   BackendFactory
	newTokenizer TokenizerFactory
}

// NewLoader creates a loader using the compiled-in backend and tokenizer.
func NewLoader(resolver ArtifactResolver, config LoaderConfig, logger *zap.Logger) *Loader {
	defaults := DefaultLoaderConfig()
	if config.CheckpointDir == "" {
		config.CheckpointDir = defaults.CheckpointDir
	}
	if config.ModelFile == "" {
		config.ModelFile = defaults.ModelFile
	}
	if config.TokenizerFile == "" {
		config.TokenizerFile = defaults.TokenizerFile
	}
	return &Loader{
		resolver:     resolver,
		config:       config,
		logger:       logger,
		newBackend:   NewTransformerBackend,
		newTokenizer: NewTokenizer,
	}
}

// WithFactories swaps the backend and tokenizer constructors.
func (l *Loader) WithFactories(backend BackendFactory, tokenizer TokenizerFactory) *Loader {
	if backend != nil {
		l.newBackend = backend
	}
	if tokenizer != nil {
		l.newTokenizer = tokenizer
	}
	return l
}

// CheckpointPath is where a named checkpoint graph is expected.
func (l *Loader) CheckpointPath(checkpoint string) string {
	return filepath.Join(l.config.CheckpointDir, checkpoint+".onnx")
}

// AdapterCheckpointPath is where the adapter graph saved next to a checkpoint is expected.
func (l *Loader) AdapterCheckpointPath(checkpoint string) string {
	return filepath.Join(l.config.CheckpointDir, checkpoint+"_adapter", "model.onnx")
}

// Load prepares model name for inference on devices. A non-empty checkpoint
// replaces the published weights with a locally saved graph.
func (l *Loader) Load(ctx context.Context, name string, devices DeviceSpec, checkpoint string) (*Model, error) {
	start := time.Now()

	family, err := LookupFamily(name)
	if err != nil {
		return nil, err
	}

	placement := devices
	if family.SingleDevice {
		placement = devices.First()
	}

	log := l.logger.With(
		zap.String("model", family.Name),
		zap.String("devices", placement.String()))

	tokenizerPath, err := l.resolver.Resolve(ctx, family.Repo, l.config.TokenizerFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tokenizer for %s: %w", family.Name, err)
	}

	modelPath, err := l.modelPath(ctx, family, checkpoint, log)
	if err != nil {
		return nil, err
	}

	tok, err := l.newTokenizer(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load tokenizer %s: %v", ErrModelNotLoaded, tokenizerPath, err)
	}

	backend, err := l.newBackend(log, BackendOptions{
		ModelPath: modelPath,
		Family:    family,
		Devices:   placement,
		Tokenizer: tok,
	})
	if err != nil {
		_ = tok.Close()
		return nil, fmt.Errorf("failed to create backend for %s: %w", family.Name, err)
	}

	model := NewModel(family, placement, backend, tok, log)
	model.Checkpoint = checkpoint
	model.setLoadTime(time.Since(start))

	log.Info("Model loaded",
		zap.String("model_path", modelPath),
		zap.String("checkpoint", checkpoint),
		zap.Int("replicas", placement.Count()),
		zap.Float64("params_millions", float64(model.Parameters)/1e6),
		zap.Duration("load_time", time.Since(start)))

	return model, nil
}

func (l *Loader) modelPath(ctx context.Context, family Family, checkpoint string, log *zap.Logger) (string, error) {
	if checkpoint != "" {
		base := l.CheckpointPath(checkpoint)
		if err := checkFile(base); err != nil {
			return "", err
		}
		if !family.HasAdapter() {
			return base, nil
		}
		adapter := l.AdapterCheckpointPath(checkpoint)
		if err := checkFile(adapter); err != nil {
			return "", err
		}
		log.Info("Loading adapter", zap.String("adapter", family.AdapterName), zap.String("path", adapter))
		return adapter, nil
	}

	if family.HasAdapter() {
		path, err := l.resolver.Resolve(ctx, family.AdapterRepo, l.config.ModelFile)
		if err != nil {
			return "", fmt.Errorf("failed to resolve adapter %s: %w", family.AdapterName, err)
		}
		log.Info("Loading adapter", zap.String("adapter", family.AdapterName), zap.String("repo", family.AdapterRepo))
		return path, nil
	}

	path, err := l.resolver.Resolve(ctx, family.Repo, l.config.ModelFile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve model for %s: %w", family.Name, err)
	}
	return path, nil
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: %s is not a model file", ErrCheckpoint, path)
	}
	return nil
}
