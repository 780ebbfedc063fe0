package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

// VectorCache stores computed embeddings in Redis keyed by model and text
type VectorCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   int64
	misses int64
}

var _ embeddings.VectorCache = (*VectorCache)(nil)

// NewVectorCache creates a new Redis-based embedding cache
func NewVectorCache(config *Config, logger *zap.Logger) (*VectorCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := &VectorCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Embedding cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

func (vc *VectorCache) ping(ctx context.Context) error {
	_, err := vc.client.Ping(ctx).Result()
	return err
}

// GetMany returns cached embeddings for the texts that have one
func (vc *VectorCache) GetMany(ctx context.Context, model string, texts []string) (map[string][]float32, error) {
	found := make(map[string][]float32)
	unique := uniqueTexts(texts)
	if len(unique) == 0 {
		return found, nil
	}

	keys := make([]string, len(unique))
	for i, text := range unique {
		keys[i] = embeddingKey(vc.config.KeyPrefix, model, text)
	}

	values, err := vc.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lookup failed: %v", embeddings.ErrCacheError, err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		entry, err := decodeEntry([]byte(raw))
		if err != nil || entry.Text != unique[i] {
			vc.logger.Warn("Discarding corrupted cache entry", zap.String("key", keys[i]))
			vc.client.Del(ctx, keys[i])
			continue
		}
		found[unique[i]] = entry.Embedding
	}

	atomic.AddInt64(&vc.hits, int64(len(found)))
	atomic.AddInt64(&vc.misses, int64(len(unique)-len(found)))

	vc.logger.Debug("Cache lookup",
		zap.String("model", model),
		zap.Int("requested", len(unique)),
		zap.Int("hits", len(found)))

	return found, nil
}

// SetMany caches embeddings using a Redis pipeline
func (vc *VectorCache) SetMany(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	now := time.Now()
	pipe := vc.client.Pipeline()
	for text, vec := range vectors {
		data, err := encodeEntry(text, vec, now)
		if err != nil {
			vc.logger.Error("Failed to encode embedding for caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, embeddingKey(vc.config.KeyPrefix, model, text), data, vc.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		vc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("%w: batch store failed: %v", embeddings.ErrCacheError, err)
	}

	vc.logger.Debug("Batch cache operation completed",
		zap.String("model", model),
		zap.Int("cached_vectors", len(vectors)))

	return nil
}

// GetStats returns cache performance statistics
func (vc *VectorCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := vc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   atomic.LoadInt64(&vc.hits),
		Misses: atomic.LoadInt64(&vc.misses),
	}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := vc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached embeddings under the key prefix
func (vc *VectorCache) Clear(ctx context.Context) error {
	iter := vc.client.Scan(ctx, 0, vc.config.KeyPrefix+":emb:*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			vc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VectorCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

// embeddingKey builds "{prefix}:emb:{model}:{hash}" from the first 16 hex chars of sha256(text)
func embeddingKey(prefix, model, text string) string {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s:emb:%s:%s", prefix, model, hash[:16])
}

func uniqueTexts(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	unique := make([]string, 0, len(texts))
	for _, t := range texts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != line && memStr != "" {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
