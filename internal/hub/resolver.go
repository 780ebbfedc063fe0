// Package hub resolves published model artifacts to files in a local cache,
// downloading them over HTTP when allowed.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

// Config contains artifact resolution configuration
type Config struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`           // https://huggingface.co
	CacheDir     string        `yaml:"cache_dir" mapstructure:"cache_dir"`         // ./models/cache
	AutoDownload bool          `yaml:"auto_download" mapstructure:"auto_download"` // true
	Token        string        `yaml:"token" mapstructure:"token"`
	Revision     string        `yaml:"revision" mapstructure:"revision"` // main
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`   // 10m
}

// Resolver maps (repo, file) pairs to cached local paths.
type Resolver struct {
	config Config
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResolver creates a resolver. A nil client uses one with the configured timeout.
func NewResolver(config Config, client *http.Client, logger *zap.Logger) *Resolver {
	if config.BaseURL == "" {
		config.BaseURL = "https://huggingface.co"
	}
	if config.Revision == "" {
		config.Revision = "main"
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Resolver{
		config: config,
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// LocalPath is where the artifact is cached.
func (r *Resolver) LocalPath(repo, file string) string {
	return filepath.Join(r.config.CacheDir, filepath.FromSlash(repo), filepath.FromSlash(file))
}

// URL is where the artifact is downloaded from.
func (r *Resolver) URL(repo, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(r.config.BaseURL, "/"), repo, r.config.Revision, file)
}

// Resolve returns the cached path for file in repo, downloading it first if needed.
func (r *Resolver) Resolve(ctx context.Context, repo, file string) (string, error) {
	path := r.LocalPath(repo, file)

	lock := r.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, nil
	}

	if !r.config.AutoDownload {
		return "", fmt.Errorf("%w: %s not cached and auto-download disabled", embeddings.ErrModelNotLoaded, path)
	}

	r.logger.Info("Artifact not found, downloading...",
		zap.String("repo", repo),
		zap.String("file", file),
		zap.String("path", path))

	start := time.Now()
	written, err := r.download(ctx, r.URL(repo, file), path)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", embeddings.ErrModelDownloadFailed, repo, file, err)
	}

	r.logger.Info("Artifact downloaded",
		zap.String("repo", repo),
		zap.String("file", file),
		zap.Int64("bytes", written),
		zap.Duration("duration", time.Since(start)))

	return path, nil
}

func (r *Resolver) lockFor(path string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[path] = lock
	}
	return lock
}

func (r *Resolver) download(ctx context.Context, url, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create cache directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if r.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	// Write to a temp file next to the target so a failed download never leaves a partial artifact
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return 0, fmt.Errorf("download truncated: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("failed to move artifact into cache: %w", err)
	}
	return written, nil
}
