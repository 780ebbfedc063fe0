package cache

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CachedEmbedding is the value stored per (model, text) key
type CachedEmbedding struct {
	Text      string    `msgpack:"t"`
	Embedding []float32 `msgpack:"e"`
	CachedAt  int64     `msgpack:"at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

func encodeEntry(text string, embedding []float32, now time.Time) ([]byte, error) {
	return msgpack.Marshal(&CachedEmbedding{
		Text:      text,
		Embedding: embedding,
		CachedAt:  now.Unix(),
	})
}

func decodeEntry(data []byte) (*CachedEmbedding, error) {
	var entry CachedEmbedding
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
